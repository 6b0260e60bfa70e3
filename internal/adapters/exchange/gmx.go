package exchange

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/fogoprotocol/volumecard/internal/adapters/rest"
	"github.com/fogoprotocol/volumecard/internal/core/domain"
)

const gmxName = "GMX_Arbitrum"

const gmxFetchLimit = 1000

const gmxTradesQuery = `
query UserTrades($account: String!, $limit: Int!) {
  trades(
    where: { account: $account }
    limit: $limit
    orderBy: timestamp
    orderDirection: desc
  ) {
    id
    account
    marketAddress
    sizeInUsd
    sizeInTokens
    executionPrice
    timestamp
  }
}`

const gmxTradesSinceQuery = `
query UserTradesSince($account: String!, $limit: Int!, $since: Int!) {
  trades(
    where: { account: $account, timestamp_gt: $since }
    limit: $limit
    orderBy: timestamp
    orderDirection: desc
  ) {
    id
    account
    marketAddress
    sizeInUsd
    sizeInTokens
    executionPrice
    timestamp
  }
}`

// Gmx fetches trades from the GMX synthetics squid GraphQL endpoint on
// Arbitrum.
type Gmx struct {
	url    string
	client *rest.Client
}

func NewGmx(url string, client *rest.Client) *Gmx {
	return &Gmx{url: url, client: client}
}

func (g *Gmx) Name() string { return gmxName }

func (g *Gmx) Supports(chain string) bool { return chain == domain.ChainEVM }

type gmxTrade struct {
	ID             string  `json:"id"`
	Account        string  `json:"account"`
	MarketAddress  string  `json:"marketAddress"`
	SizeInUsd      string  `json:"sizeInUsd"`
	SizeInTokens   string  `json:"sizeInTokens"`
	ExecutionPrice string  `json:"executionPrice"`
	Timestamp      flexInt `json:"timestamp"`
}

type gmxResponse struct {
	Data struct {
		Trades []gmxTrade `json:"trades"`
	} `json:"data"`
}

// FetchTrades posts the GraphQL query with the account lowercased, as the
// squid indexes addresses in lowercase. A non-empty sinceCursor is a unix
// timestamp restricting the query to newer trades.
func (g *Gmx) FetchTrades(ctx context.Context, wallet domain.Wallet, sinceCursor string) (*domain.FetchResult, error) {
	query := gmxTradesQuery
	variables := map[string]any{
		"account": strings.ToLower(wallet.Address),
		"limit":   gmxFetchLimit,
	}
	if sinceCursor != "" {
		since, err := strconv.ParseInt(sinceCursor, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: gmx cursor %q", domain.ErrInvalidTradeData, sinceCursor)
		}
		query = gmxTradesSinceQuery
		variables["since"] = since
	}

	var resp gmxResponse
	payload := map[string]any{"query": query, "variables": variables}
	if err := g.client.PostJSON(ctx, g.url, payload, &resp); err != nil {
		return nil, err
	}

	res := &domain.FetchResult{Fetched: len(resp.Data.Trades)}
	for _, t := range resp.Data.Trades {
		trade, err := g.normalize(t, wallet)
		if err != nil {
			log.Printf("GMX: skipping trade: %v", err)
			res.Skipped++
			continue
		}
		res.Trades = append(res.Trades, trade)
	}
	return res, nil
}

func (g *Gmx) normalize(t gmxTrade, wallet domain.Wallet) (domain.Trade, error) {
	if t.ID == "" {
		return domain.Trade{}, fmt.Errorf("%w: trade without id", domain.ErrInvalidTradeData)
	}

	// The squid serves fixed-point integers as strings wider than float64;
	// parse through decimal before converting.
	price, err := parseGmxNumber(t.ExecutionPrice)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("%w: executionPrice %q", domain.ErrInvalidTradeData, t.ExecutionPrice)
	}
	size, err := parseGmxNumber(t.SizeInTokens)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("%w: sizeInTokens %q", domain.ErrInvalidTradeData, t.SizeInTokens)
	}

	// Side is inferred from the sign of sizeInTokens; zero size means the
	// venue gave us nothing to infer from.
	side := "unknown"
	switch {
	case size > 0:
		side = "buy"
	case size < 0:
		side = "sell"
	default:
		log.Printf("GMX: trade %s has sizeInTokens == 0; side unknown", t.ID)
	}

	notional, err := domain.Normalize(price, size)
	if err != nil {
		return domain.Trade{}, err
	}

	return domain.Trade{
		WalletAddress: strings.ToLower(wallet.Address),
		Chain:         wallet.Chain,
		Exchange:      gmxName,
		Market:        t.MarketAddress,
		Side:          side,
		Price:         price,
		Size:          size,
		NotionalValue: notional,
		Timestamp:     int64(t.Timestamp),
		TradeID:       "gmx_arb_" + t.ID,
	}, nil
}

func parseGmxNumber(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	return d.InexactFloat64(), nil
}
