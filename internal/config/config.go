package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds every recognized option, loaded from environment variables.
// Call godotenv.Load in main before Load so a local .env is honored.
type Config struct {
	// Venue endpoints
	HyperliquidURL string
	DydxURL        string
	GmxArbitrumURL string
	DriftURL       string // template, {accountId} substituted per wallet

	// Ethereum RPC (Alchemy or any archive-capable endpoint)
	EthRPCURL string

	// Cache
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Persistence
	DBPath string

	// HTTP / RPC behavior
	RequestTimeout time.Duration
	AdapterTimeout time.Duration // per (wallet, adapter) budget
	MaxRetries     int
	RetryDelay     time.Duration
	RetryJitter    bool

	// Block scanner
	ChunkSize     uint64
	BroadScan     bool
	DefaultBlocks uint64 // lookback when no cursor exists yet

	// Oracle
	PriceStaleness time.Duration // reject Chainlink rounds older than this
	PriceBucket    time.Duration // cache key resolution
	PriceTTL       time.Duration
	SummaryTTL     time.Duration

	// API server
	ListenAddr string
}

// Load reads configuration from the environment, applying defaults.
// A missing Ethereum RPC endpoint is the only fatal condition: without it
// neither the block scanner nor the primary price feed can operate.
func Load() (*Config, error) {
	cfg := &Config{
		HyperliquidURL: getEnv("HYPERLIQUID_URL", "https://api.hyperliquid.xyz/info"),
		DydxURL:        getEnv("DYDX_URL", "https://indexer.dydx.trade/v4/fills"),
		GmxArbitrumURL: getEnv("GMX_ARBITRUM_URL", "https://gmx.squids.live/gmx-synthetics-arbitrum:prod/api/graphql"),
		DriftURL:       getEnv("DRIFT_URL", "https://data.api.drift.trade/user/{accountId}/trades"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		DBPath: getEnv("DB_PATH", "trading_volume.db"),

		RequestTimeout: getEnvDuration("REQUEST_TIMEOUT", 15*time.Second),
		AdapterTimeout: getEnvDuration("ADAPTER_TIMEOUT", 60*time.Second),
		MaxRetries:     getEnvInt("MAX_RETRIES", 3),
		RetryDelay:     getEnvDuration("RETRY_DELAY", 2*time.Second),
		RetryJitter:    getEnvBool("RETRY_JITTER", true),

		ChunkSize:     uint64(getEnvInt("SCAN_CHUNK_SIZE", 2000)),
		BroadScan:     getEnvBool("SCAN_BROAD", false),
		DefaultBlocks: uint64(getEnvInt("SCAN_DEFAULT_BLOCKS", 100_000)),

		PriceStaleness: getEnvDuration("PRICE_STALENESS", 48*time.Hour),
		PriceBucket:    getEnvDuration("PRICE_BUCKET", 24*time.Hour),
		PriceTTL:       getEnvDuration("PRICE_TTL", 7*24*time.Hour),
		SummaryTTL:     getEnvDuration("SUMMARY_TTL", 5*time.Minute),

		ListenAddr: getEnv("LISTEN_ADDR", ":8000"),
	}

	cfg.EthRPCURL = os.Getenv("ALCHEMY_ETH_URL")
	if cfg.EthRPCURL == "" {
		if key := os.Getenv("ALCHEMY_API_KEY"); key != "" {
			cfg.EthRPCURL = "https://eth-mainnet.g.alchemy.com/v2/" + key
		}
	}
	if cfg.EthRPCURL == "" {
		return nil, fmt.Errorf("missing Ethereum RPC URL: set ALCHEMY_ETH_URL or ALCHEMY_API_KEY")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		switch v {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return fallback
}

// getEnvDuration accepts either a Go duration string ("30s") or a bare
// number of seconds, matching how the options were historically set.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}
