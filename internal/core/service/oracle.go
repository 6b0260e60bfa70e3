package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/fogoprotocol/volumecard/internal/core/domain"
)

// Oracle resolves historical token prices through an ordered provider
// chain, caching resolved quotes so a token/day pair is only priced
// upstream once.
type Oracle struct {
	providers []domain.PriceProvider
	cache     domain.Cache
	bucket    time.Duration
	ttl       time.Duration
	clock     clock.Clock
}

// NewOracle builds an oracle over providers, consulted in the order
// given. bucket controls quote granularity (a day by default upstream)
// and ttl how long resolved quotes live in the cache.
func NewOracle(providers []domain.PriceProvider, cache domain.Cache, bucket, ttl time.Duration) *Oracle {
	return &Oracle{
		providers: providers,
		cache:     cache,
		bucket:    bucket,
		ttl:       ttl,
		clock:     clock.New(),
	}
}

// SetClock swaps the time source; tests use a mock clock.
func (o *Oracle) SetClock(c clock.Clock) { o.clock = c }

// GetHistoricalPrice returns the USD quote for token at timestamp,
// trying each provider in order and caching the first answer. Timestamps
// in the future are clamped to now. Returns ErrPriceUnavailable when
// every provider fails.
func (o *Oracle) GetHistoricalPrice(ctx context.Context, token string, timestamp int64) (domain.PriceQuote, error) {
	token = strings.ToLower(strings.TrimSpace(token))
	if token == "" {
		return domain.PriceQuote{}, fmt.Errorf("%w: empty token", domain.ErrPriceUnavailable)
	}

	now := o.clock.Now().Unix()
	if timestamp > now {
		timestamp = now
	}
	bucket := timestamp
	if secs := int64(o.bucket / time.Second); secs > 0 {
		bucket = timestamp - timestamp%secs
	}

	key := fmt.Sprintf("price:%s:%d", token, bucket)
	if raw, ok := o.cache.Get(ctx, key); ok {
		var quote domain.PriceQuote
		if err := json.Unmarshal([]byte(raw), &quote); err == nil && quote.Price > 0 {
			return quote, nil
		}
	}

	var lastErr error
	for _, p := range o.providers {
		price, err := p.PriceAt(ctx, token, timestamp)
		if err != nil {
			log.Printf("oracle: %s failed for %s@%d: %v", p.Name(), token, timestamp, err)
			lastErr = err
			continue
		}
		if price <= 0 {
			lastErr = fmt.Errorf("%w: %s returned non-positive price", domain.ErrPriceUnavailable, p.Name())
			continue
		}

		quote := domain.PriceQuote{Token: token, Bucket: bucket, Price: price, Source: p.Name()}
		if payload, err := json.Marshal(quote); err == nil {
			o.cache.Set(ctx, key, string(payload), o.ttl)
		}
		return quote, nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no providers configured")
	}
	return domain.PriceQuote{}, fmt.Errorf("%w: all providers failed for %s: %v", domain.ErrPriceUnavailable, token, lastErr)
}
