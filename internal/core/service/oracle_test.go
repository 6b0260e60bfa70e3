package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/fogoprotocol/volumecard/internal/core/domain"
)

type memCache struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemCache() *memCache { return &memCache{data: map[string]string{}} }

func (c *memCache) Get(_ context.Context, key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok
}

func (c *memCache) Set(_ context.Context, key, value string, _ time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
}

func (c *memCache) Invalidate(_ context.Context, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
}

type stubProvider struct {
	name   string
	price  float64
	err    error
	calls  int
	lastTS int64
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) PriceAt(_ context.Context, _ string, ts int64) (float64, error) {
	p.calls++
	p.lastTS = ts
	return p.price, p.err
}

func TestOraclePrimaryWins(t *testing.T) {
	primary := &stubProvider{name: domain.SourceChainlink, price: 2500}
	fallback := &stubProvider{name: domain.SourceCoinGecko, price: 2400}
	oracle := NewOracle([]domain.PriceProvider{primary, fallback}, newMemCache(), 24*time.Hour, time.Hour)

	quote, err := oracle.GetHistoricalPrice(context.Background(), "WETH", 1700000000)
	require.NoError(t, err)
	require.Equal(t, 2500.0, quote.Price)
	require.Equal(t, domain.SourceChainlink, quote.Source)
	require.Equal(t, 0, fallback.calls, "fallback must not be consulted when the primary answers")
}

func TestOracleFallsBackThenCaches(t *testing.T) {
	primary := &stubProvider{name: domain.SourceChainlink, err: domain.ErrPriceUnavailable}
	fallback := &stubProvider{name: domain.SourceCoinGecko, price: 2400}
	oracle := NewOracle([]domain.PriceProvider{primary, fallback}, newMemCache(), 24*time.Hour, time.Hour)

	quote, err := oracle.GetHistoricalPrice(context.Background(), "weth", 1700000000)
	require.NoError(t, err)
	require.Equal(t, 2400.0, quote.Price)
	require.Equal(t, domain.SourceCoinGecko, quote.Source)

	// Same day bucket: served from cache, no provider touched.
	quote, err = oracle.GetHistoricalPrice(context.Background(), "WETH", 1700000000+3600)
	require.NoError(t, err)
	require.Equal(t, 2400.0, quote.Price)
	require.Equal(t, domain.SourceCoinGecko, quote.Source, "cache hit reports the originating source")
	require.Equal(t, 1, primary.calls)
	require.Equal(t, 1, fallback.calls)
}

func TestOracleAllProvidersFail(t *testing.T) {
	primary := &stubProvider{name: domain.SourceChainlink, err: errors.New("feed stale")}
	fallback := &stubProvider{name: domain.SourceCoinGecko, err: domain.ErrUpstreamUnavailable}
	oracle := NewOracle([]domain.PriceProvider{primary, fallback}, newMemCache(), 24*time.Hour, time.Hour)

	_, err := oracle.GetHistoricalPrice(context.Background(), "weth", 1700000000)
	require.ErrorIs(t, err, domain.ErrPriceUnavailable)
}

func TestOracleClampsFutureTimestamps(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Unix(1700000000, 0))

	provider := &stubProvider{name: domain.SourceChainlink, price: 100}
	oracle := NewOracle([]domain.PriceProvider{provider}, newMemCache(), 24*time.Hour, time.Hour)
	oracle.SetClock(mock)

	_, err := oracle.GetHistoricalPrice(context.Background(), "weth", 1700000000+86400)
	require.NoError(t, err)
	require.Equal(t, int64(1700000000), provider.lastTS)
}

func TestOracleRejectsEmptyToken(t *testing.T) {
	oracle := NewOracle(nil, newMemCache(), 24*time.Hour, time.Hour)
	_, err := oracle.GetHistoricalPrice(context.Background(), "  ", 1700000000)
	require.ErrorIs(t, err, domain.ErrPriceUnavailable)
}
