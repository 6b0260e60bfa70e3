// Command aggregate runs one collection pass over a wallet list and
// writes the volume summary to disk.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/joho/godotenv"

	"github.com/fogoprotocol/volumecard/internal/adapters/cache"
	"github.com/fogoprotocol/volumecard/internal/adapters/chain"
	"github.com/fogoprotocol/volumecard/internal/adapters/exchange"
	"github.com/fogoprotocol/volumecard/internal/adapters/price"
	"github.com/fogoprotocol/volumecard/internal/adapters/rest"
	"github.com/fogoprotocol/volumecard/internal/adapters/store"
	"github.com/fogoprotocol/volumecard/internal/config"
	"github.com/fogoprotocol/volumecard/internal/core/domain"
	"github.com/fogoprotocol/volumecard/internal/core/service"
)

func main() {
	walletsPath := flag.String("config", "wallets.json", "path to the wallet list")
	outPath := flag.String("out", "volume_card_output.json", "where to write the summary")
	refresh := flag.Bool("refresh", false, "invalidate cached per-wallet results before running")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("configuration error: %v", err)
	}

	wallets, err := loadWallets(*walletsPath)
	if err != nil {
		log.Fatalf("wallet list error: %v", err)
	}

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("database error: %v", err)
	}

	redisCache := cache.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := redisCache.Ping(pingCtx); err != nil {
		log.Printf("redis unreachable at %s, caching disabled: %v", cfg.RedisAddr, err)
	}
	cancel()

	eth, err := ethclient.Dial(cfg.EthRPCURL)
	if err != nil {
		log.Fatalf("ethereum rpc error: %v", err)
	}

	scanner, err := chain.NewScanner(eth, db, chain.ScannerConfig{
		ChunkSize:     cfg.ChunkSize,
		BroadScan:     cfg.BroadScan,
		DefaultBlocks: cfg.DefaultBlocks,
		MaxRetries:    cfg.MaxRetries,
		RetryDelay:    cfg.RetryDelay,
	})
	if err != nil {
		log.Fatalf("scanner error: %v", err)
	}

	chainlink, err := chain.NewChainlinkProvider(eth, chain.DefaultFeeds, cfg.PriceStaleness)
	if err != nil {
		log.Fatalf("chainlink error: %v", err)
	}
	httpClient := rest.NewClient(cfg.RequestTimeout, cfg.MaxRetries, cfg.RetryDelay, cfg.RetryJitter)
	coingecko := price.NewCoinGecko("https://api.coingecko.com", price.DefaultCoinIDs, httpClient)
	oracle := service.NewOracle(
		[]domain.PriceProvider{chainlink, coingecko},
		redisCache, cfg.PriceBucket, cfg.PriceTTL,
	)

	adapters := []domain.ExchangeAdapter{
		exchange.NewHyperliquid(cfg.HyperliquidURL, httpClient),
		exchange.NewDydx(cfg.DydxURL, httpClient),
		exchange.NewGmx(cfg.GmxArbitrumURL, httpClient),
		exchange.NewDrift(cfg.DriftURL, httpClient),
		exchange.NewUniswap(scanner, oracle),
	}
	aggregator := service.NewAggregator(adapters, db, redisCache, cfg.AdapterTimeout, cfg.SummaryTTL)

	ctx := context.Background()
	if *refresh {
		for _, w := range wallets {
			aggregator.InvalidateWallet(ctx, w.Address)
		}
	}

	summary, err := aggregator.Aggregate(ctx, wallets)
	if err != nil {
		log.Fatalf("aggregation error: %v", err)
	}

	printSummary(summary)

	if bad, err := db.NegativeNotionalCount(ctx); err != nil {
		log.Printf("sanity check failed: %v", err)
	} else if bad > 0 {
		log.Printf("WARNING: %d trades with negative notional in the store", bad)
	}

	payload, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		log.Fatalf("encode summary: %v", err)
	}
	if err := os.WriteFile(*outPath, payload, 0o644); err != nil {
		log.Fatalf("write %s: %v", *outPath, err)
	}
	log.Printf("summary written to %s", *outPath)
}

// loadWallets accepts either a bare JSON array of wallets or an object
// with a "wallets" field. Addresses without a chain default to EVM.
func loadWallets(path string) ([]domain.Wallet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var wallets []domain.Wallet
	if err := json.Unmarshal(data, &wallets); err != nil {
		var wrapped struct {
			Wallets []domain.Wallet `json:"wallets"`
		}
		if err2 := json.Unmarshal(data, &wrapped); err2 != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		wallets = wrapped.Wallets
	}
	if len(wallets) == 0 {
		return nil, fmt.Errorf("%s contains no wallets", path)
	}
	for i := range wallets {
		if wallets[i].Chain == "" {
			wallets[i].Chain = domain.ChainEVM
		}
	}
	return wallets, nil
}

func printSummary(s *domain.VolumeSummary) {
	fmt.Printf("\nTotal volume: $%.2f across %d trades\n\n", s.TotalVolume, s.TotalTrades)

	venues := make([]string, 0, len(s.BreakdownByExchange))
	for v := range s.BreakdownByExchange {
		venues = append(venues, v)
	}
	sort.Strings(venues)
	for _, v := range venues {
		b := s.BreakdownByExchange[v]
		pct := 0.0
		if s.TotalVolume > 0 {
			pct = b.Volume / s.TotalVolume * 100
		}
		fmt.Printf("  %-16s $%14.2f  (%5.1f%%)  trades=%-6d fetched=%-5d inserted=%d\n",
			v, b.Volume, pct, b.Trades, b.Fetched, b.Inserted)
	}

	fmt.Println()
	for _, w := range s.Wallets {
		status := "fresh"
		if w.Cached {
			status = "cached"
		}
		if w.Degraded > 0 {
			status = fmt.Sprintf("degraded(%d)", w.Degraded)
		}
		fmt.Printf("  wallet %s [%s] %s\n", w.Address, w.Chain, status)
	}
	fmt.Println()
}
