package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/fogoprotocol/volumecard/internal/core/domain"
)

const aggregatorV3ABI = `[{"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"stateMutability":"view","type":"function"},{"inputs":[],"name":"latestRoundData","outputs":[{"name":"roundId","type":"uint80"},{"name":"answer","type":"int256"},{"name":"startedAt","type":"uint256"},{"name":"updatedAt","type":"uint256"},{"name":"answeredInRound","type":"uint80"}],"stateMutability":"view","type":"function"},{"inputs":[{"name":"_roundId","type":"uint80"}],"name":"getRoundData","outputs":[{"name":"roundId","type":"uint80"},{"name":"answer","type":"int256"},{"name":"startedAt","type":"uint256"},{"name":"updatedAt","type":"uint256"},{"name":"answeredInRound","type":"uint80"}],"stateMutability":"view","type":"function"}]`

// DefaultFeeds maps lowercased Ethereum mainnet token addresses to their
// Chainlink USD aggregator. WETH maps to ETH/USD and WBTC to BTC/USD.
var DefaultFeeds = map[string]common.Address{
	"0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2": common.HexToAddress("0x5f4eC3Df9cbd43714FE2740f5E3616155c5b8419"), // WETH -> ETH/USD
	"0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48": common.HexToAddress("0x8fFfFfd4AfB6115b954Bd326cbe7B4BA576818f6"), // USDC
	"0xdac17f958d2ee523a2206206994597c13d831ec7": common.HexToAddress("0x3E7d1eAB13ad0104d2750B8863b489D65364e32D"), // USDT
	"0x6b175474e89094c44da98b954eedeac495271d0f": common.HexToAddress("0xAed0c38402a5d19df6E4c03F4E2DceD6e29c1ee9"), // DAI
	"0x2260fac5e5542a773aa44fbcfedf7c193bc2c599": common.HexToAddress("0xF4030086522a5bEEa4988F8cA5B36dbC97BeE88c"), // WBTC -> BTC/USD
	"0x1f9840a85d5af5bf1d1762f925bdaddc4201f984": common.HexToAddress("0x553303d460EE0afB37EdFf9bE42922D8FF63220e"), // UNI
	"0x514910771af9ca656af840dff83e8264ecf986ca": common.HexToAddress("0x2c1d072e956AFFC0D435Cb7AC38EF18d24d9127c"), // LINK
}

// ContractCaller is the single ethclient method the provider needs.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// roundWalkLimit caps the backwards walk through aggregator rounds so a
// badly targeted timestamp cannot turn into an unbounded RPC scan.
const roundWalkLimit = 50

// ChainlinkProvider is the primary historical price source. It walks
// aggregator rounds backwards from the latest until it finds one updated at
// or before the target timestamp, then applies the staleness bound: a round
// older than the window is a miss, not a hit.
type ChainlinkProvider struct {
	caller    ContractCaller
	feeds     map[string]common.Address
	staleness time.Duration
	abi       abi.ABI
}

func NewChainlinkProvider(caller ContractCaller, feeds map[string]common.Address, staleness time.Duration) (*ChainlinkProvider, error) {
	parsed, err := abi.JSON(strings.NewReader(aggregatorV3ABI))
	if err != nil {
		return nil, fmt.Errorf("parse aggregator ABI: %w", err)
	}
	if feeds == nil {
		feeds = DefaultFeeds
	}
	return &ChainlinkProvider{caller: caller, feeds: feeds, staleness: staleness, abi: parsed}, nil
}

func (p *ChainlinkProvider) Name() string { return domain.SourceChainlink }

type roundData struct {
	roundID   *big.Int
	answer    *big.Int
	updatedAt int64
}

func (p *ChainlinkProvider) PriceAt(ctx context.Context, token string, timestamp int64) (float64, error) {
	feed, ok := p.feeds[strings.ToLower(token)]
	if !ok {
		return 0, fmt.Errorf("%w: no chainlink feed for %s", domain.ErrPriceUnavailable, token)
	}

	decimals, err := p.feedDecimals(ctx, feed)
	if err != nil {
		return 0, fmt.Errorf("%w: decimals() on %s: %v", domain.ErrPriceUnavailable, feed.Hex(), err)
	}

	latest, err := p.roundData(ctx, feed, "latestRoundData", nil)
	if err != nil {
		return 0, fmt.Errorf("%w: latestRoundData on %s: %v", domain.ErrPriceUnavailable, feed.Hex(), err)
	}

	round, err := p.walkBack(ctx, feed, latest, timestamp)
	if err != nil {
		return 0, err
	}

	if p.staleness > 0 && timestamp-round.updatedAt > int64(p.staleness/time.Second) {
		return 0, fmt.Errorf("%w: round for %s is %ds older than target (window %s)",
			domain.ErrPriceUnavailable, token, timestamp-round.updatedAt, p.staleness)
	}

	price := new(big.Float).SetInt(round.answer)
	scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	value, _ := new(big.Float).Quo(price, scale).Float64()
	return value, nil
}

// walkBack steps backwards from the latest round in coarse jumps, halving
// the step once within a day of the target, until a round at or before the
// timestamp turns up.
func (p *ChainlinkProvider) walkBack(ctx context.Context, feed common.Address, latest roundData, timestamp int64) (roundData, error) {
	step := big.NewInt(1000)
	roundID := new(big.Int).Set(latest.roundID)

	for i := 0; i < roundWalkLimit; i++ {
		rd, err := p.roundData(ctx, feed, "getRoundData", roundID)
		if err != nil {
			// Round IDs are not dense; jump past the hole.
			roundID.Sub(roundID, step)
			if roundID.Sign() <= 0 {
				break
			}
			continue
		}

		if rd.updatedAt <= timestamp {
			return rd, nil
		}

		if rd.updatedAt-timestamp < 24*3600 {
			step.Rsh(step, 1)
			if step.Sign() == 0 {
				step.SetInt64(1)
			}
		}
		roundID.Sub(roundID, step)
		if roundID.Sign() <= 0 {
			break
		}
	}

	return roundData{}, fmt.Errorf("%w: no round at or before %d on %s", domain.ErrPriceUnavailable, timestamp, feed.Hex())
}

func (p *ChainlinkProvider) feedDecimals(ctx context.Context, feed common.Address) (uint8, error) {
	data, err := p.abi.Pack("decimals")
	if err != nil {
		return 0, err
	}
	result, err := p.caller.CallContract(ctx, ethereum.CallMsg{To: &feed, Data: data}, nil)
	if err != nil {
		return 0, err
	}
	var decimals uint8
	if err := p.abi.UnpackIntoInterface(&decimals, "decimals", result); err != nil {
		return 0, err
	}
	return decimals, nil
}

func (p *ChainlinkProvider) roundData(ctx context.Context, feed common.Address, method string, roundID *big.Int) (roundData, error) {
	var data []byte
	var err error
	if roundID != nil {
		data, err = p.abi.Pack(method, roundID)
	} else {
		data, err = p.abi.Pack(method)
	}
	if err != nil {
		return roundData{}, err
	}

	result, err := p.caller.CallContract(ctx, ethereum.CallMsg{To: &feed, Data: data}, nil)
	if err != nil {
		return roundData{}, err
	}

	values, err := p.abi.Unpack(method, result)
	if err != nil {
		return roundData{}, err
	}
	if len(values) < 5 {
		return roundData{}, fmt.Errorf("unexpected %s output arity %d", method, len(values))
	}

	id, ok0 := values[0].(*big.Int)
	answer, ok1 := values[1].(*big.Int)
	updated, ok3 := values[3].(*big.Int)
	if !ok0 || !ok1 || !ok3 {
		return roundData{}, fmt.Errorf("unexpected %s output types", method)
	}
	if answer.Sign() <= 0 {
		return roundData{}, fmt.Errorf("non-positive answer in round %s", id)
	}

	return roundData{roundID: id, answer: answer, updatedAt: updated.Int64()}, nil
}
