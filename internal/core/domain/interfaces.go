package domain

import (
	"context"
	"time"
)

// FetchResult is what an adapter hands back for one (wallet, venue) run.
type FetchResult struct {
	Trades  []Trade
	Fetched int // raw records the venue returned
	Skipped int // records dropped as malformed
}

// ExchangeAdapter fetches and normalizes trades for one venue.
//
// sinceCursor is an opaque, venue-specific pagination token (block number,
// page offset or timestamp); the empty string means "from the beginning" of
// whatever window the venue serves. Adapters must be idempotent: repeated
// calls over overlapping ranges yield records the trade store's uniqueness
// constraint de-duplicates.
type ExchangeAdapter interface {
	Name() string
	Supports(chain string) bool
	FetchTrades(ctx context.Context, wallet Wallet, sinceCursor string) (*FetchResult, error)
}

// PriceProvider resolves a historical USD price for a token at a timestamp.
// Implementations return ErrPriceUnavailable when they have no answer.
type PriceProvider interface {
	Name() string
	PriceAt(ctx context.Context, token string, timestamp int64) (float64, error)
}

// PriceOracle is the cached provider chain in front of PriceProviders.
type PriceOracle interface {
	GetHistoricalPrice(ctx context.Context, token string, timestamp int64) (PriceQuote, error)
}

// Cache is a best-effort TTL key/value store. It never surfaces errors:
// a failed read is a miss, a failed write is dropped. Callers therefore
// cannot accidentally depend on cache availability for correctness.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, value string, ttl time.Duration)
	Invalidate(ctx context.Context, key string)
}

// TradeStore owns the durable trades table. Inserting a trade whose
// (wallet_address, exchange, trade_id) tuple already exists is a silent
// no-op; InsertTrades reports only rows actually created.
type TradeStore interface {
	InsertTrades(ctx context.Context, trades []Trade) (int, error)
	Totals(ctx context.Context) (volume float64, trades int64, err error)
	TotalsByExchange(ctx context.Context) (map[string]VenueTotals, error)
	TotalsByWallet(ctx context.Context) (map[string]VenueTotals, error)
	WalletTotalsByExchange(ctx context.Context, walletAddress string) (map[string]VenueTotals, error)
	UpsertWallet(ctx context.Context, wallet Wallet) error
	NegativeNotionalCount(ctx context.Context) (int64, error)
}

// CursorStore persists scan progress per (wallet, venue).
type CursorStore interface {
	Load(ctx context.Context, walletAddress, venue string) (ScanCursor, bool, error)
	// Advance moves the cursor forward. Implementations must ignore
	// attempts to move it backwards.
	Advance(ctx context.Context, cursor ScanCursor) error
}

// SwapScanner walks on-chain Swap logs for a wallet starting at fromBlock
// and returns the attributed events plus the last durably scanned block.
// A partial scan fails with *ScanIncompleteError carrying that block so the
// caller can resume.
type SwapScanner interface {
	Scan(ctx context.Context, walletAddress string, fromBlock uint64) ([]RawSwapEvent, uint64, error)
}
