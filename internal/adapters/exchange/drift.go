package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/fogoprotocol/volumecard/internal/adapters/rest"
	"github.com/fogoprotocol/volumecard/internal/core/domain"
)

const driftName = "Drift"

// driftMicroUnits converts Drift's integer quote amounts to USD.
var driftMicroUnits = decimal.NewFromInt(1_000_000)

// Drift fetches user trades from the Drift Protocol data API on Solana.
type Drift struct {
	urlTemplate string // contains {accountId}
	client      *rest.Client
}

func NewDrift(urlTemplate string, client *rest.Client) *Drift {
	return &Drift{urlTemplate: urlTemplate, client: client}
}

func (d *Drift) Name() string { return driftName }

func (d *Drift) Supports(chain string) bool { return chain == domain.ChainSolana }

type driftRecord struct {
	Ts               flexInt         `json:"ts"`
	MarketIndex      flexInt         `json:"marketIndex"`
	MarketType       string          `json:"marketType"`
	Price            flexFloat       `json:"price"`
	BaseAssetAmount  flexFloat       `json:"baseAssetAmount"`
	QuoteAssetAmount json.RawMessage `json:"quoteAssetAmount"`
	Side             string          `json:"side"`
}

type driftResponse struct {
	Success bool          `json:"success"`
	Records []driftRecord `json:"records"`
}

// FetchTrades retrieves the wallet's trade history. The endpoint serves a
// bounded recent window idempotently; a non-empty sinceCursor is a unix
// timestamp and records at or before it are dropped client-side.
func (d *Drift) FetchTrades(ctx context.Context, wallet domain.Wallet, sinceCursor string) (*domain.FetchResult, error) {
	var since int64
	if sinceCursor != "" {
		parsed, err := strconv.ParseInt(sinceCursor, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: drift cursor %q", domain.ErrInvalidTradeData, sinceCursor)
		}
		since = parsed
	}

	url := strings.ReplaceAll(d.urlTemplate, "{accountId}", wallet.Address)

	var resp driftResponse
	if err := d.client.GetJSON(ctx, url, nil, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("%w: drift api returned success=false", domain.ErrUpstreamUnavailable)
	}

	res := &domain.FetchResult{Fetched: len(resp.Records)}
	for _, r := range resp.Records {
		if since > 0 && int64(r.Ts) <= since {
			continue
		}
		trade, err := d.normalize(r, wallet)
		if err != nil {
			log.Printf("Drift: skipping record: %v", err)
			res.Skipped++
			continue
		}
		res.Trades = append(res.Trades, trade)
	}
	return res, nil
}

func (d *Drift) normalize(r driftRecord, wallet domain.Wallet) (domain.Trade, error) {
	ts := int64(r.Ts)
	marketIndex := strconv.FormatInt(int64(r.MarketIndex), 10)
	if ts == 0 {
		return domain.Trade{}, fmt.Errorf("%w: record without ts", domain.ErrInvalidTradeData)
	}

	// The notional comes from the quote-amount heuristic below, but the
	// price/size pair still has to be finite before it reaches the store.
	if _, err := domain.Normalize(float64(r.Price), float64(r.BaseAssetAmount)); err != nil {
		return domain.Trade{}, err
	}

	notional := driftNotional(r.QuoteAssetAmount)
	if notional > 1e12 || (notional > 0 && notional < 0.01) {
		log.Printf("Drift: notional outlier %.6f (quoteAssetAmount=%s, ts=%d, marketIndex=%s)",
			notional, string(r.QuoteAssetAmount), ts, marketIndex)
	}

	market := marketIndex
	if r.MarketType != "" {
		market = r.MarketType + ":" + marketIndex
	}

	return domain.Trade{
		WalletAddress: wallet.Address,
		Chain:         wallet.Chain,
		Exchange:      driftName,
		Market:        market,
		Side:          r.Side,
		Price:         float64(r.Price),
		Size:          float64(r.BaseAssetAmount),
		NotionalValue: notional,
		Timestamp:     ts,
		TradeID:       fmt.Sprintf("drift_%d_%s", ts, marketIndex),
	}, nil
}

// driftNotional returns the absolute USD notional from a raw quote amount.
// Integer-like values (JSON integers, or strings without a decimal point)
// are micro-units and divided by 1e6; values carrying a decimal point are
// already USD.
func driftNotional(raw json.RawMessage) float64 {
	s := strings.Trim(string(raw), `"`)
	if s == "" || s == "null" {
		return 0
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}
	d = d.Abs()
	if !strings.Contains(s, ".") {
		d = d.Div(driftMicroUnits)
	}
	return d.InexactFloat64()
}
