package chain

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/fogoprotocol/volumecard/internal/core/domain"
)

type feedRound struct {
	answer    *big.Int
	updatedAt int64
}

// fakeFeed answers aggregator calls from a canned round table. Missing
// round ids error like a reverted getRoundData.
type fakeFeed struct {
	t        *testing.T
	abi      abi.ABI
	decimals uint8
	latestID int64
	rounds   map[int64]feedRound
	calls    int
}

func newFakeFeed(t *testing.T) *fakeFeed {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(aggregatorV3ABI))
	require.NoError(t, err)
	return &fakeFeed{t: t, abi: parsed, decimals: 8, rounds: map[int64]feedRound{}}
}

func (f *fakeFeed) packRound(id int64, r feedRound) []byte {
	out, err := f.abi.Methods["latestRoundData"].Outputs.Pack(
		big.NewInt(id), r.answer, big.NewInt(r.updatedAt), big.NewInt(r.updatedAt), big.NewInt(id),
	)
	require.NoError(f.t, err)
	return out
}

func (f *fakeFeed) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.calls++

	if decimalsCall, _ := f.abi.Pack("decimals"); bytes.Equal(msg.Data, decimalsCall) {
		return common.LeftPadBytes([]byte{f.decimals}, 32), nil
	}
	if latestCall, _ := f.abi.Pack("latestRoundData"); bytes.Equal(msg.Data, latestCall) {
		r, ok := f.rounds[f.latestID]
		if !ok {
			return nil, errors.New("no latest round")
		}
		return f.packRound(f.latestID, r), nil
	}

	selector := f.abi.Methods["getRoundData"].ID
	if len(msg.Data) >= 4 && bytes.Equal(msg.Data[:4], selector) {
		args, err := f.abi.Methods["getRoundData"].Inputs.Unpack(msg.Data[4:])
		if err != nil {
			return nil, err
		}
		id := args[0].(*big.Int).Int64()
		r, ok := f.rounds[id]
		if !ok {
			return nil, errors.New("execution reverted")
		}
		return f.packRound(id, r), nil
	}
	return nil, errors.New("unexpected call")
}

const wethAddr = "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2"

func TestChainlinkLatestRoundSatisfiesTarget(t *testing.T) {
	target := int64(1700000000)
	feed := newFakeFeed(t)
	feed.latestID = 5000
	feed.rounds[5000] = feedRound{answer: big.NewInt(2000_00000000), updatedAt: target - 100}

	p, err := NewChainlinkProvider(feed, nil, 48*time.Hour)
	require.NoError(t, err)

	price, err := p.PriceAt(context.Background(), wethAddr, target)
	require.NoError(t, err)
	require.Equal(t, 2000.0, price)
}

func TestChainlinkWalksBackThroughRounds(t *testing.T) {
	target := int64(1700000000)
	feed := newFakeFeed(t)
	feed.latestID = 5000
	// Latest is far past the target; the round 1000 ids back is a hole, the
	// next jump lands on a usable round.
	feed.rounds[5000] = feedRound{answer: big.NewInt(2100_00000000), updatedAt: target + 7*24*3600}
	feed.rounds[3000] = feedRound{answer: big.NewInt(1950_00000000), updatedAt: target - 600}

	p, err := NewChainlinkProvider(feed, nil, 48*time.Hour)
	require.NoError(t, err)

	price, err := p.PriceAt(context.Background(), wethAddr, target)
	require.NoError(t, err)
	require.Equal(t, 1950.0, price)
}

func TestChainlinkStaleRoundIsAMiss(t *testing.T) {
	target := int64(1700000000)
	feed := newFakeFeed(t)
	feed.latestID = 5000
	feed.rounds[5000] = feedRound{answer: big.NewInt(2000_00000000), updatedAt: target - 50*3600}

	p, err := NewChainlinkProvider(feed, nil, 48*time.Hour)
	require.NoError(t, err)

	_, err = p.PriceAt(context.Background(), wethAddr, target)
	require.ErrorIs(t, err, domain.ErrPriceUnavailable)
}

func TestChainlinkUnknownTokenIsAMiss(t *testing.T) {
	p, err := NewChainlinkProvider(newFakeFeed(t), nil, 48*time.Hour)
	require.NoError(t, err)

	_, err = p.PriceAt(context.Background(), "0x000000000000000000000000000000000000dead", 1700000000)
	require.ErrorIs(t, err, domain.ErrPriceUnavailable)
}
