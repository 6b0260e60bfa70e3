package exchange

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/fogoprotocol/volumecard/internal/core/domain"
)

const uniswapName = "Uniswap_V3"

// Uniswap turns scanned on-chain Swap events into normalized trades,
// valuing each leg through the price oracle and keeping the dominant one.
type Uniswap struct {
	scanner domain.SwapScanner
	oracle  domain.PriceOracle
}

func NewUniswap(scanner domain.SwapScanner, oracle domain.PriceOracle) *Uniswap {
	return &Uniswap{scanner: scanner, oracle: oracle}
}

func (u *Uniswap) Name() string { return uniswapName }

func (u *Uniswap) Supports(chain string) bool { return chain == domain.ChainEVM }

// FetchTrades drives a chunked scan for the wallet. A non-empty sinceCursor
// is a decimal block number overriding the durable cursor; zero defers to it.
// A partial scan still returns the events gathered before the failure so the
// store can absorb them; the scanner's durable cursor makes the next call
// resume where this one stopped.
func (u *Uniswap) FetchTrades(ctx context.Context, wallet domain.Wallet, sinceCursor string) (*domain.FetchResult, error) {
	var fromBlock uint64
	if sinceCursor != "" {
		parsed, err := strconv.ParseUint(sinceCursor, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: uniswap cursor %q", domain.ErrInvalidTradeData, sinceCursor)
		}
		fromBlock = parsed
	}

	events, _, scanErr := u.scanner.Scan(ctx, wallet.Address, fromBlock)
	if scanErr != nil {
		var incomplete *domain.ScanIncompleteError
		if !errors.As(scanErr, &incomplete) {
			return nil, scanErr
		}
		log.Printf("Uniswap: partial scan for %s, resuming later from block %d: %v",
			wallet.Address, incomplete.LastBlock, incomplete.Err)
	}

	res := &domain.FetchResult{Fetched: len(events)}
	for _, ev := range events {
		trade, err := u.valueSwap(ctx, ev, wallet)
		if err != nil {
			log.Printf("Uniswap: skipping swap %s/%d: %v", ev.TxHash, ev.LogIndex, err)
			res.Skipped++
			continue
		}
		res.Trades = append(res.Trades, trade)
	}
	return res, scanErr
}

// valueSwap prices both legs at the swap timestamp and keeps the dominant
// one for price/size. When neither leg can be priced the trade is kept but
// flagged unvalued, so re-scans will not re-fetch it yet it never counts
// toward volume.
func (u *Uniswap) valueSwap(ctx context.Context, ev domain.RawSwapEvent, wallet domain.Wallet) (domain.Trade, error) {
	amt0 := rawToTokens(ev.Amount0, ev.Token0.Decimals)
	amt1 := rawToTokens(ev.Amount1, ev.Token1.Decimals)

	var p0, p1 float64
	if q, err := u.oracle.GetHistoricalPrice(ctx, ev.Token0.Address, ev.Timestamp); err == nil {
		p0 = q.Price
	}
	if q, err := u.oracle.GetHistoricalPrice(ctx, ev.Token1.Address, ev.Timestamp); err == nil {
		p1 = q.Price
	}

	market := ev.Token0.Symbol + "-" + ev.Token1.Symbol
	tradeID := fmt.Sprintf("uni_%s_%d", ev.TxHash, ev.LogIndex)

	usd0 := amt0 * p0
	usd1 := amt1 * p1

	if usd0 <= 0 && usd1 <= 0 {
		// Neither leg priced; record the swap but exclude it from totals.
		return domain.Trade{
			WalletAddress: wallet.Address,
			Chain:         wallet.Chain,
			Exchange:      uniswapName,
			Market:        market,
			Side:          "swap",
			Price:         0,
			Size:          amt0,
			NotionalValue: 0,
			Timestamp:     ev.Timestamp,
			TradeID:       tradeID,
			Unvalued:      true,
		}, nil
	}

	price, size := p0, amt0
	if usd1 > usd0 {
		price, size = p1, amt1
	}

	notional, err := domain.Normalize(price, size)
	if err != nil {
		return domain.Trade{}, err
	}

	return domain.Trade{
		WalletAddress: wallet.Address,
		Chain:         wallet.Chain,
		Exchange:      uniswapName,
		Market:        market,
		Side:          "swap",
		Price:         price,
		Size:          size,
		NotionalValue: notional,
		Timestamp:     ev.Timestamp,
		TradeID:       tradeID,
	}, nil
}

// rawToTokens converts a signed raw amount into absolute token units.
func rawToTokens(raw *big.Int, decimals int) float64 {
	if raw == nil {
		return 0
	}
	d := decimal.NewFromBigInt(new(big.Int).Abs(raw), int32(-decimals))
	return d.InexactFloat64()
}
