package domain

import "math/big"

// Chain identifiers accepted on the ingestion surface.
const (
	ChainEVM    = "EVM"
	ChainSolana = "Solana"
)

// Wallet identifies a tracked wallet on a specific chain.
type Wallet struct {
	Address string `json:"address"`
	Chain   string `json:"chain"` // "EVM" or "Solana"
}

// Trade is a single normalized fill or swap. NotionalValue is authoritative
// once written: it is computed as abs(price*size) at ingestion time and never
// recomputed afterwards, so venue-specific sign conventions on price or size
// cannot leak into aggregation.
type Trade struct {
	WalletAddress string  `json:"wallet_address"`
	Chain         string  `json:"chain"`
	Exchange      string  `json:"exchange"`
	Market        string  `json:"market"`
	Side          string  `json:"side"`
	Price         float64 `json:"price"`
	Size          float64 `json:"size"`
	NotionalValue float64 `json:"notional_value"`
	Timestamp     int64   `json:"timestamp"` // seconds since epoch
	TradeID       string  `json:"trade_id"`  // venue-assigned, prefixed per venue

	// Unvalued marks a swap whose legs could not be priced by the oracle.
	// Such rows are kept for audit but excluded from every volume total.
	Unvalued bool `json:"unvalued,omitempty"`
}

// Price sources reported by the oracle.
const (
	SourceChainlink = "chainlink"
	SourceCoinGecko = "coingecko"
)

// PriceQuote is an ephemeral historical price resolution. It lives only in
// the cache; Bucket is the quote timestamp rounded down to the cache
// resolution.
type PriceQuote struct {
	Token  string  `json:"token"`
	Bucket int64   `json:"bucket"`
	Price  float64 `json:"price"`
	Source string  `json:"source"` // chainlink or coingecko, never "cache"
}

// ScanCursor is the durable progress marker for one (wallet, venue) scan.
// LastBlock only ever moves forward; rewinding requires operator action
// directly against the store.
type ScanCursor struct {
	WalletAddress string
	Venue         string
	LastBlock     uint64
}

// TokenInfo describes one leg of a pool.
type TokenInfo struct {
	Address  string
	Symbol   string
	Decimals int
}

// RawSwapEvent is a decoded Uniswap V3 Swap log already attributed to the
// scanned wallet by transaction sender.
type RawSwapEvent struct {
	TxHash      string
	LogIndex    uint
	BlockNumber uint64
	Timestamp   int64
	Pool        string
	Token0      TokenInfo
	Token1      TokenInfo
	Amount0     *big.Int // signed raw units, negative when leaving the pool
	Amount1     *big.Int
}

// ExchangeStats is the per-venue outcome of a single wallet run.
// Fetched counts records the adapter returned, Inserted counts rows that
// were new to the trade store; the difference is duplicates plus records
// skipped as malformed.
type ExchangeStats struct {
	Fetched  int     `json:"fetched"`
	Inserted int     `json:"inserted"`
	Volume   float64 `json:"volume"`
}

// WalletSummary is the per-wallet slice of a VolumeSummary.
type WalletSummary struct {
	Address           string                   `json:"address"`
	Chain             string                   `json:"chain"`
	Exchanges         map[string]ExchangeStats `json:"exchanges"`
	Cached            bool                     `json:"cached"`
	CachedTimestamp   int64                    `json:"cached_timestamp,omitempty"`
	CachedTotalVolume float64                  `json:"cached_total_volume,omitempty"`
	Degraded          int                      `json:"degraded,omitempty"` // venues omitted this run
}

// ExchangeBreakdown is the store-derived cross-wallet view per venue.
// Volume and Trades come from reading the trade store back (so prior runs
// count); Fetched/Inserted are accumulated from this run only.
type ExchangeBreakdown struct {
	Volume   float64 `json:"volume"`
	Trades   int64   `json:"trades"`
	Inserted int     `json:"inserted"`
	Fetched  int     `json:"fetched"`
}

// VolumeSummary is the aggregation result served to the UI.
type VolumeSummary struct {
	TotalVolume         float64                      `json:"total_volume"`
	TotalTrades         int64                        `json:"total_trades"`
	BreakdownByExchange map[string]ExchangeBreakdown `json:"breakdown_by_exchange"`
	Wallets             []WalletSummary              `json:"wallets"`
	GeneratedAt         int64                        `json:"generated_at"`
}

// VenueTotals is a (volume, trade count) pair read back from the store.
type VenueTotals struct {
	Volume float64
	Trades int64
}
