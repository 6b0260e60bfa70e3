// Package chain holds the Ethereum-facing adapters: the Uniswap V3 swap
// log scanner and the Chainlink price feed provider.
package chain

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/fogoprotocol/volumecard/internal/core/domain"
)

// VenueUniswapV3 is the venue name under which scan cursors are stored.
const VenueUniswapV3 = "Uniswap_V3"

// swapTopic0 is keccak256 of
// Swap(address,address,int256,int256,uint160,uint128,int24).
var swapTopic0 = common.HexToHash("0xc42079f94a6350d7e6235f29174924f928cc2ac818eb64fed8004e115fbcca67")

const swapEventABI = `[{"anonymous":false,"inputs":[{"indexed":true,"name":"sender","type":"address"},{"indexed":true,"name":"recipient","type":"address"},{"indexed":false,"name":"amount0","type":"int256"},{"indexed":false,"name":"amount1","type":"int256"},{"indexed":false,"name":"sqrtPriceX96","type":"uint160"},{"indexed":false,"name":"liquidity","type":"uint128"},{"indexed":false,"name":"tick","type":"int24"}],"name":"Swap","type":"event"}]`

const poolABI = `[{"inputs":[],"name":"token0","outputs":[{"name":"","type":"address"}],"stateMutability":"view","type":"function"},{"inputs":[],"name":"token1","outputs":[{"name":"","type":"address"}],"stateMutability":"view","type":"function"}]`

const erc20ABI = `[{"inputs":[],"name":"symbol","outputs":[{"name":"","type":"string"}],"stateMutability":"view","type":"function"},{"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"stateMutability":"view","type":"function"}]`

// Backend is the narrow slice of ethclient.Client the scanner needs.
type Backend interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
}

// ScannerConfig tunes one Scanner instance.
type ScannerConfig struct {
	ChunkSize     uint64
	BroadScan     bool
	DefaultBlocks uint64 // lookback from head on first scan
	MaxRetries    int
	RetryDelay    time.Duration
}

// Scanner walks Uniswap V3 Swap logs in chunks, attributes them to the
// scanned wallet by transaction sender, and persists a monotonic cursor
// after every committed chunk.
type Scanner struct {
	backend Backend
	cursors domain.CursorStore
	cfg     ScannerConfig

	swapABI  abi.ABI
	poolsABI abi.ABI
	tokenABI abi.ABI

	// senderOf resolves the transaction sender for a log; overridable in
	// tests where constructing signed transactions is impractical.
	senderOf func(ctx context.Context, txHash common.Hash) (common.Address, error)

	mu        sync.Mutex
	blockTime map[uint64]int64
	txSender  map[common.Hash]common.Address
	poolToken map[common.Address][2]domain.TokenInfo
}

// NewScanner builds a scanner over the given backend.
func NewScanner(backend Backend, cursors domain.CursorStore, cfg ScannerConfig) (*Scanner, error) {
	swap, err := abi.JSON(strings.NewReader(swapEventABI))
	if err != nil {
		return nil, fmt.Errorf("parse Swap event ABI: %w", err)
	}
	pools, err := abi.JSON(strings.NewReader(poolABI))
	if err != nil {
		return nil, fmt.Errorf("parse pool ABI: %w", err)
	}
	token, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("parse ERC20 ABI: %w", err)
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = 2000
	}

	s := &Scanner{
		backend:   backend,
		cursors:   cursors,
		cfg:       cfg,
		swapABI:   swap,
		poolsABI:  pools,
		tokenABI:  token,
		blockTime: make(map[uint64]int64),
		txSender:  make(map[common.Hash]common.Address),
		poolToken: make(map[common.Address][2]domain.TokenInfo),
	}
	s.senderOf = s.senderFromBackend
	return s, nil
}

// Scan walks [fromBlock, head] for swaps attributable to walletAddress.
// fromBlock zero resumes from the durable cursor, or falls back to the
// configured lookback on a first scan. The cursor advances only after a
// chunk has been fully processed and durably recorded; on failure the scan
// returns everything gathered so far plus a *ScanIncompleteError carrying
// the last committed block.
func (s *Scanner) Scan(ctx context.Context, walletAddress string, fromBlock uint64) ([]domain.RawSwapEvent, uint64, error) {
	wallet := common.HexToAddress(walletAddress)

	head, err := s.backend.BlockNumber(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: block number: %v", domain.ErrUpstreamUnavailable, err)
	}

	start := fromBlock
	if start == 0 {
		if cursor, ok, err := s.cursors.Load(ctx, walletAddress, VenueUniswapV3); err != nil {
			return nil, 0, fmt.Errorf("load scan cursor: %w", err)
		} else if ok {
			start = cursor.LastBlock + 1
		} else if head > s.cfg.DefaultBlocks {
			start = head - s.cfg.DefaultBlocks
		}
	}
	if start > head {
		return nil, head, nil
	}

	log.Printf("Scanning Uniswap V3 swaps for %s from block %d to %d (broad=%v)",
		wallet.Hex(), start, head, s.cfg.BroadScan)

	var events []domain.RawSwapEvent
	var last uint64
	if start > 0 {
		last = start - 1
	}
	seen := make(map[string]struct{})

	for chunkStart := start; chunkStart <= head; chunkStart += s.cfg.ChunkSize {
		chunkEnd := chunkStart + s.cfg.ChunkSize - 1
		if chunkEnd > head {
			chunkEnd = head
		}

		chunk, err := s.scanChunk(ctx, wallet, chunkStart, chunkEnd, seen)
		if err != nil {
			return events, last, &domain.ScanIncompleteError{LastBlock: last, Err: err}
		}
		events = append(events, chunk...)

		cursor := domain.ScanCursor{WalletAddress: walletAddress, Venue: VenueUniswapV3, LastBlock: chunkEnd}
		if err := s.cursors.Advance(ctx, cursor); err != nil {
			return events, last, &domain.ScanIncompleteError{LastBlock: last, Err: err}
		}
		last = chunkEnd

		// A caller deadline stops the scan between chunks, never inside
		// one, keeping the cursor consistent with what was stored.
		if ctx.Err() != nil && last < head {
			return events, last, &domain.ScanIncompleteError{LastBlock: last, Err: ctx.Err()}
		}
	}

	return events, last, nil
}

// scanChunk queries one block range, with retries, and returns attributed
// decoded events.
func (s *Scanner) scanChunk(ctx context.Context, wallet common.Address, from, to uint64, seen map[string]struct{}) ([]domain.RawSwapEvent, error) {
	logs, err := s.chunkLogs(ctx, wallet, from, to)
	if err != nil {
		return nil, err
	}

	var events []domain.RawSwapEvent
	for _, lg := range logs {
		key := fmt.Sprintf("%s/%d", lg.TxHash.Hex(), lg.Index)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		// Attribution: the enclosing transaction's sender must be the
		// wallet. Router contracts are routinely the nominal swap
		// participant, so the indexed topics are not trusted.
		sender, err := s.cachedSender(ctx, lg.TxHash)
		if err != nil {
			log.Printf("Scanner: sender lookup failed for %s: %v", lg.TxHash.Hex(), err)
			continue
		}
		if sender != wallet {
			continue
		}

		ev, err := s.decodeSwap(ctx, lg)
		if err != nil {
			log.Printf("Scanner: skipping log %s/%d: %v", lg.TxHash.Hex(), lg.Index, err)
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// chunkLogs fetches the Swap logs for one chunk. Narrow mode filters by the
// wallet in the indexed sender/recipient topics; broad mode fetches every
// Swap in range and leaves attribution to the sender check.
func (s *Scanner) chunkLogs(ctx context.Context, wallet common.Address, from, to uint64) ([]types.Log, error) {
	queries := s.buildQueries(wallet, from, to)

	var logs []types.Log
	for _, q := range queries {
		part, err := s.filterWithRetry(ctx, q, from, to)
		if err != nil {
			return nil, err
		}
		logs = append(logs, part...)
	}
	return logs, nil
}

func (s *Scanner) buildQueries(wallet common.Address, from, to uint64) []ethereum.FilterQuery {
	fromBig := new(big.Int).SetUint64(from)
	toBig := new(big.Int).SetUint64(to)

	if s.cfg.BroadScan {
		return []ethereum.FilterQuery{{
			FromBlock: fromBig,
			ToBlock:   toBig,
			Topics:    [][]common.Hash{{swapTopic0}},
		}}
	}

	walletTopic := common.BytesToHash(common.LeftPadBytes(wallet.Bytes(), 32))
	return []ethereum.FilterQuery{
		{
			FromBlock: fromBig,
			ToBlock:   toBig,
			Topics:    [][]common.Hash{{swapTopic0}, {walletTopic}},
		},
		{
			FromBlock: fromBig,
			ToBlock:   toBig,
			Topics:    [][]common.Hash{{swapTopic0}, nil, {walletTopic}},
		},
	}
}

func (s *Scanner) filterWithRetry(ctx context.Context, q ethereum.FilterQuery, from, to uint64) ([]types.Log, error) {
	var logs []types.Log

	operation := func() error {
		var err error
		logs, err = s.backend.FilterLogs(ctx, q)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			log.Printf("eth_getLogs failed for blocks %d-%d: %v", from, to, err)
			return err
		}
		return nil
	}

	strategy := backoff.NewExponentialBackOff()
	strategy.InitialInterval = s.cfg.RetryDelay
	strategy.MaxElapsedTime = 0

	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(strategy, uint64(s.cfg.MaxRetries)), ctx))
	if err != nil {
		return nil, fmt.Errorf("%w: eth_getLogs blocks %d-%d: %v", domain.ErrUpstreamUnavailable, from, to, err)
	}
	return logs, nil
}

// decodeSwap unpacks the non-indexed Swap params and resolves pool/token
// metadata and the block timestamp.
func (s *Scanner) decodeSwap(ctx context.Context, lg types.Log) (domain.RawSwapEvent, error) {
	values, err := s.swapABI.Events["Swap"].Inputs.Unpack(lg.Data)
	if err != nil {
		return domain.RawSwapEvent{}, fmt.Errorf("unpack swap data: %w", err)
	}
	amount0, ok0 := values[0].(*big.Int)
	amount1, ok1 := values[1].(*big.Int)
	if !ok0 || !ok1 {
		return domain.RawSwapEvent{}, fmt.Errorf("unexpected swap amount types")
	}

	token0, token1, err := s.poolTokens(ctx, lg.Address)
	if err != nil {
		return domain.RawSwapEvent{}, err
	}

	ts, err := s.blockTimestamp(ctx, lg.BlockNumber)
	if err != nil {
		return domain.RawSwapEvent{}, err
	}

	return domain.RawSwapEvent{
		TxHash:      lg.TxHash.Hex(),
		LogIndex:    lg.Index,
		BlockNumber: lg.BlockNumber,
		Timestamp:   ts,
		Pool:        lg.Address.Hex(),
		Token0:      token0,
		Token1:      token1,
		Amount0:     amount0,
		Amount1:     amount1,
	}, nil
}

func (s *Scanner) cachedSender(ctx context.Context, txHash common.Hash) (common.Address, error) {
	s.mu.Lock()
	sender, ok := s.txSender[txHash]
	s.mu.Unlock()
	if ok {
		return sender, nil
	}

	sender, err := s.senderOf(ctx, txHash)
	if err != nil {
		return common.Address{}, err
	}

	s.mu.Lock()
	s.txSender[txHash] = sender
	s.mu.Unlock()
	return sender, nil
}

func (s *Scanner) senderFromBackend(ctx context.Context, txHash common.Hash) (common.Address, error) {
	tx, pending, err := s.backend.TransactionByHash(ctx, txHash)
	if err != nil {
		return common.Address{}, err
	}
	if pending || tx == nil {
		return common.Address{}, fmt.Errorf("transaction %s not mined", txHash.Hex())
	}
	return types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)
}

func (s *Scanner) blockTimestamp(ctx context.Context, number uint64) (int64, error) {
	s.mu.Lock()
	ts, ok := s.blockTime[number]
	s.mu.Unlock()
	if ok {
		return ts, nil
	}

	header, err := s.backend.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return 0, fmt.Errorf("header %d: %w", number, err)
	}
	ts = int64(header.Time)

	s.mu.Lock()
	s.blockTime[number] = ts
	s.mu.Unlock()
	return ts, nil
}

// poolTokens resolves and caches token0/token1 metadata for a pool.
func (s *Scanner) poolTokens(ctx context.Context, pool common.Address) (domain.TokenInfo, domain.TokenInfo, error) {
	s.mu.Lock()
	cached, ok := s.poolToken[pool]
	s.mu.Unlock()
	if ok {
		return cached[0], cached[1], nil
	}

	addr0, err := s.callAddress(ctx, pool, "token0")
	if err != nil {
		return domain.TokenInfo{}, domain.TokenInfo{}, fmt.Errorf("pool %s token0: %w", pool.Hex(), err)
	}
	addr1, err := s.callAddress(ctx, pool, "token1")
	if err != nil {
		return domain.TokenInfo{}, domain.TokenInfo{}, fmt.Errorf("pool %s token1: %w", pool.Hex(), err)
	}

	info0 := s.tokenInfo(ctx, addr0)
	info1 := s.tokenInfo(ctx, addr1)

	s.mu.Lock()
	s.poolToken[pool] = [2]domain.TokenInfo{info0, info1}
	s.mu.Unlock()
	return info0, info1, nil
}

func (s *Scanner) callAddress(ctx context.Context, contract common.Address, method string) (common.Address, error) {
	data, err := s.poolsABI.Pack(method)
	if err != nil {
		return common.Address{}, err
	}
	result, err := s.backend.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
	if err != nil {
		return common.Address{}, err
	}
	var addr common.Address
	if err := s.poolsABI.UnpackIntoInterface(&addr, method, result); err != nil {
		return common.Address{}, err
	}
	return addr, nil
}

// tokenInfo resolves symbol and decimals best-effort: an unreadable token
// falls back to a truncated address and 18 decimals, as most ERC20s use.
func (s *Scanner) tokenInfo(ctx context.Context, token common.Address) domain.TokenInfo {
	info := domain.TokenInfo{Address: strings.ToLower(token.Hex()), Symbol: token.Hex()[:8], Decimals: 18}

	if data, err := s.tokenABI.Pack("symbol"); err == nil {
		if result, err := s.backend.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil); err == nil {
			var symbol string
			if err := s.tokenABI.UnpackIntoInterface(&symbol, "symbol", result); err == nil && symbol != "" {
				info.Symbol = symbol
			}
		}
	}
	if data, err := s.tokenABI.Pack("decimals"); err == nil {
		if result, err := s.backend.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil); err == nil {
			var decimals uint8
			if err := s.tokenABI.UnpackIntoInterface(&decimals, "decimals", result); err == nil {
				info.Decimals = int(decimals)
			}
		}
	}
	return info
}
