package exchange

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/fogoprotocol/volumecard/internal/adapters/rest"
	"github.com/fogoprotocol/volumecard/internal/core/domain"
)

const dydxName = "dYdX"

const dydxFetchLimit = 100

// Dydx fetches fills from the dYdX v4 indexer.
type Dydx struct {
	url    string
	client *rest.Client
}

func NewDydx(url string, client *rest.Client) *Dydx {
	return &Dydx{url: url, client: client}
}

func (d *Dydx) Name() string { return dydxName }

func (d *Dydx) Supports(chain string) bool { return chain == domain.ChainEVM }

type dydxFill struct {
	ID        string    `json:"id"`
	Market    string    `json:"market"`
	Side      string    `json:"side"` // BUY / SELL
	Price     flexFloat `json:"price"`
	Size      flexFloat `json:"size"`
	CreatedAt string    `json:"createdAt"`
}

type dydxFillsResponse struct {
	Fills []dydxFill `json:"fills"`
}

// FetchTrades retrieves subaccount-0 fills. A non-empty sinceCursor is an
// ISO timestamp passed to the indexer as createdBeforeOrAt for paging back
// through history.
func (d *Dydx) FetchTrades(ctx context.Context, wallet domain.Wallet, sinceCursor string) (*domain.FetchResult, error) {
	params := url.Values{}
	params.Set("address", wallet.Address)
	params.Set("subaccountNumber", "0")
	params.Set("limit", strconv.Itoa(dydxFetchLimit))
	if sinceCursor != "" {
		params.Set("createdBeforeOrAt", sinceCursor)
	}

	var resp dydxFillsResponse
	if err := d.client.GetJSON(ctx, d.url, params, &resp); err != nil {
		return nil, err
	}

	res := &domain.FetchResult{Fetched: len(resp.Fills)}
	for _, f := range resp.Fills {
		trade, err := d.normalize(f, wallet)
		if err != nil {
			log.Printf("dYdX: skipping fill: %v", err)
			res.Skipped++
			continue
		}
		res.Trades = append(res.Trades, trade)
	}
	return res, nil
}

func (d *Dydx) normalize(f dydxFill, wallet domain.Wallet) (domain.Trade, error) {
	if f.ID == "" {
		return domain.Trade{}, fmt.Errorf("%w: fill without id", domain.ErrInvalidTradeData)
	}

	side := strings.ToLower(f.Side)

	ts := int64(0)
	if f.CreatedAt != "" {
		parsed, err := time.Parse(time.RFC3339, f.CreatedAt)
		if err != nil {
			return domain.Trade{}, fmt.Errorf("%w: createdAt %q: %v", domain.ErrInvalidTradeData, f.CreatedAt, err)
		}
		ts = parsed.Unix()
	}

	notional, err := domain.Normalize(float64(f.Price), float64(f.Size))
	if err != nil {
		return domain.Trade{}, err
	}

	return domain.Trade{
		WalletAddress: wallet.Address,
		Chain:         wallet.Chain,
		Exchange:      dydxName,
		Market:        f.Market,
		Side:          side,
		Price:         float64(f.Price),
		Size:          float64(f.Size),
		NotionalValue: notional,
		Timestamp:     ts,
		TradeID:       "dydx_" + f.ID,
	}, nil
}
