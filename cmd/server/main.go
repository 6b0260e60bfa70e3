package main

import (
	"context"
	"log"
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
	httphandler "github.com/fogoprotocol/volumecard/internal/handlers/http"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("configuration error: %v", err)
	}

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("database error: %v", err)
	}

	redisCache := cache.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := redisCache.Ping(ctx); err != nil {
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

	router := httphandler.NewRouter(aggregator)
	log.Printf("listening on %s", cfg.ListenAddr)
	if err := router.Run(cfg.ListenAddr); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
