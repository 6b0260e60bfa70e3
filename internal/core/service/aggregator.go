package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/fogoprotocol/volumecard/internal/core/domain"
)

// Aggregator fans out trade collection across venues, persists what it
// gathers, and assembles the combined volume summary from the trade store.
// Venue failures degrade the affected wallet rather than failing the run;
// only the store itself is load-bearing.
type Aggregator struct {
	adapters       []domain.ExchangeAdapter
	store          domain.TradeStore
	cache          domain.Cache
	adapterTimeout time.Duration
	cacheTTL       time.Duration
	clock          clock.Clock
}

func NewAggregator(adapters []domain.ExchangeAdapter, store domain.TradeStore, cache domain.Cache, adapterTimeout, cacheTTL time.Duration) *Aggregator {
	return &Aggregator{
		adapters:       adapters,
		store:          store,
		cache:          cache,
		adapterTimeout: adapterTimeout,
		cacheTTL:       cacheTTL,
		clock:          clock.New(),
	}
}

// SetClock swaps the time source; tests use a mock clock.
func (a *Aggregator) SetClock(c clock.Clock) { a.clock = c }

// walletCachePayload is what gets cached per wallet after a clean run.
type walletCachePayload struct {
	TotalVolume float64            `json:"total_volume"`
	Breakdown   map[string]float64 `json:"breakdown"`
	Timestamp   int64              `json:"timestamp"`
}

// venueOutcome is one (wallet, venue) run result before read-back.
type venueOutcome struct {
	wallet   int
	exchange string
	fetched  int
	inserted int
	failed   bool
}

// Aggregate collects trades for every wallet across every supporting
// venue and returns the combined summary. Wallets with a fresh cache
// entry are served from it without touching any venue; InvalidateWallet
// forces recomputation.
func (a *Aggregator) Aggregate(ctx context.Context, wallets []domain.Wallet) (*domain.VolumeSummary, error) {
	if len(wallets) == 0 {
		return nil, fmt.Errorf("%w: no wallets given", domain.ErrInvalidTradeData)
	}

	summaryKey := a.summaryKey(wallets)
	if raw, ok := a.cache.Get(ctx, summaryKey); ok {
		var cached domain.VolumeSummary
		if err := json.Unmarshal([]byte(raw), &cached); err == nil {
			return &cached, nil
		}
	}

	summaries := make([]domain.WalletSummary, len(wallets))
	fresh := make([]int, 0, len(wallets)) // indexes that need a live run

	for i, w := range wallets {
		summaries[i] = domain.WalletSummary{
			Address:   w.Address,
			Chain:     w.Chain,
			Exchanges: map[string]domain.ExchangeStats{},
		}
		if err := a.store.UpsertWallet(ctx, w); err != nil {
			log.Printf("aggregator: upsert wallet %s: %v", w.Address, err)
		}

		if payload, ok := a.cachedWallet(ctx, w.Address); ok {
			summaries[i].Cached = true
			summaries[i].CachedTimestamp = payload.Timestamp
			summaries[i].CachedTotalVolume = payload.TotalVolume
			for exch, vol := range payload.Breakdown {
				summaries[i].Exchanges[exch] = domain.ExchangeStats{Volume: vol}
			}
			continue
		}
		fresh = append(fresh, i)
	}

	outcomes := a.collect(ctx, wallets, fresh)

	for _, out := range outcomes {
		s := &summaries[out.wallet]
		stats := s.Exchanges[out.exchange]
		stats.Fetched += out.fetched
		stats.Inserted += out.inserted
		s.Exchanges[out.exchange] = stats
		if out.failed {
			s.Degraded++
		}
	}

	// Volumes come from reading the store back so prior runs count.
	for _, i := range fresh {
		totals, err := a.store.WalletTotalsByExchange(ctx, wallets[i].Address)
		if err != nil {
			return nil, fmt.Errorf("read back wallet %s: %w", wallets[i].Address, err)
		}
		var walletVolume float64
		breakdown := make(map[string]float64, len(totals))
		for exch, t := range totals {
			stats := summaries[i].Exchanges[exch]
			stats.Volume = t.Volume
			summaries[i].Exchanges[exch] = stats
			breakdown[exch] = t.Volume
			walletVolume += t.Volume
		}
		if summaries[i].Degraded == 0 {
			a.cacheWallet(ctx, wallets[i].Address, walletCachePayload{
				TotalVolume: walletVolume,
				Breakdown:   breakdown,
				Timestamp:   a.clock.Now().Unix(),
			})
		}
	}

	totalVolume, totalTrades, err := a.store.Totals(ctx)
	if err != nil {
		return nil, fmt.Errorf("read totals: %w", err)
	}
	byExchange, err := a.store.TotalsByExchange(ctx)
	if err != nil {
		return nil, fmt.Errorf("read exchange totals: %w", err)
	}

	breakdown := make(map[string]domain.ExchangeBreakdown, len(byExchange))
	for exch, t := range byExchange {
		breakdown[exch] = domain.ExchangeBreakdown{Volume: t.Volume, Trades: t.Trades}
	}
	for _, s := range summaries {
		for exch, stats := range s.Exchanges {
			b := breakdown[exch]
			b.Fetched += stats.Fetched
			b.Inserted += stats.Inserted
			breakdown[exch] = b
		}
	}

	summary := &domain.VolumeSummary{
		TotalVolume:         totalVolume,
		TotalTrades:         totalTrades,
		BreakdownByExchange: breakdown,
		Wallets:             summaries,
		GeneratedAt:         a.clock.Now().Unix(),
	}

	degraded := 0
	for _, s := range summaries {
		degraded += s.Degraded
	}
	if degraded == 0 {
		if payload, err := json.Marshal(summary); err == nil {
			a.cache.Set(ctx, summaryKey, string(payload), a.cacheTTL)
		}
	}
	return summary, nil
}

// collect runs one goroutine per (wallet, supporting venue) pair. Trades
// gathered before an adapter error are still persisted; the venue is then
// counted as degraded for that wallet.
func (a *Aggregator) collect(ctx context.Context, wallets []domain.Wallet, fresh []int) []venueOutcome {
	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		outcomes []venueOutcome
	)

	for _, i := range fresh {
		wallet := wallets[i]
		for _, adapter := range a.adapters {
			if !adapter.Supports(wallet.Chain) {
				continue
			}
			wg.Add(1)
			go func(i int, wallet domain.Wallet, adapter domain.ExchangeAdapter) {
				defer wg.Done()

				runCtx, cancel := context.WithTimeout(ctx, a.adapterTimeout)
				defer cancel()

				out := venueOutcome{wallet: i, exchange: adapter.Name()}
				res, err := adapter.FetchTrades(runCtx, wallet, "")
				if err != nil {
					log.Printf("aggregator: %s fetch for %s: %v", adapter.Name(), wallet.Address, err)
					out.failed = true
				}
				if res != nil {
					out.fetched = res.Fetched
					if len(res.Trades) > 0 {
						inserted, insErr := a.store.InsertTrades(ctx, res.Trades)
						if insErr != nil {
							log.Printf("aggregator: %s insert for %s: %v", adapter.Name(), wallet.Address, insErr)
							out.failed = true
						}
						out.inserted = inserted
					}
				}

				mu.Lock()
				outcomes = append(outcomes, out)
				mu.Unlock()
			}(i, wallet, adapter)
		}
	}
	wg.Wait()
	return outcomes
}

// InvalidateWallet drops the per-wallet cache entry so the next run hits
// the venues again.
func (a *Aggregator) InvalidateWallet(ctx context.Context, address string) {
	a.cache.Invalidate(ctx, walletKey(address))
}

func (a *Aggregator) cachedWallet(ctx context.Context, address string) (walletCachePayload, bool) {
	raw, ok := a.cache.Get(ctx, walletKey(address))
	if !ok {
		return walletCachePayload{}, false
	}
	var payload walletCachePayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return walletCachePayload{}, false
	}
	return payload, true
}

func (a *Aggregator) cacheWallet(ctx context.Context, address string, payload walletCachePayload) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	a.cache.Set(ctx, walletKey(address), string(data), a.cacheTTL)
}

func walletKey(address string) string {
	return "volume:" + strings.ToLower(address)
}

// summaryKey derives a stable cache key from the wallet set, insensitive
// to ordering and address casing. The chain is part of the key: the same
// address on different chains is a different query.
func (a *Aggregator) summaryKey(wallets []domain.Wallet) string {
	addrs := make([]string, len(wallets))
	for i, w := range wallets {
		addrs[i] = strings.ToLower(w.Address) + "|" + w.Chain
	}
	sort.Strings(addrs)
	sum := sha256.Sum256([]byte(strings.Join(addrs, ",")))
	return "volume:summary:" + hex.EncodeToString(sum[:])
}
