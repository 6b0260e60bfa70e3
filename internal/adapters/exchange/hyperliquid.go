package exchange

import (
	"context"
	"fmt"
	"log"
	"strconv"

	"github.com/fogoprotocol/volumecard/internal/adapters/rest"
	"github.com/fogoprotocol/volumecard/internal/core/domain"
)

const hyperliquidName = "Hyperliquid"

// Hyperliquid fetches user fills from the Hyperliquid info endpoint.
type Hyperliquid struct {
	url    string
	client *rest.Client
}

func NewHyperliquid(url string, client *rest.Client) *Hyperliquid {
	return &Hyperliquid{url: url, client: client}
}

func (h *Hyperliquid) Name() string { return hyperliquidName }

func (h *Hyperliquid) Supports(chain string) bool { return chain == domain.ChainEVM }

type hyperliquidFill struct {
	Coin string    `json:"coin"`
	Px   flexFloat `json:"px"`
	Sz   flexFloat `json:"sz"`
	Side string    `json:"side"` // "B" buy, "A" sell
	Time flexInt   `json:"time"` // milliseconds
	Tid  flexInt   `json:"tid"`
}

// FetchTrades retrieves fills for the wallet. A non-empty sinceCursor is a
// millisecond start time and switches the request to the time-windowed
// variant of the endpoint.
func (h *Hyperliquid) FetchTrades(ctx context.Context, wallet domain.Wallet, sinceCursor string) (*domain.FetchResult, error) {
	payload := map[string]any{"type": "userFills", "user": wallet.Address}
	if sinceCursor != "" {
		start, err := strconv.ParseInt(sinceCursor, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: hyperliquid cursor %q", domain.ErrInvalidTradeData, sinceCursor)
		}
		payload = map[string]any{"type": "userFillsByTime", "user": wallet.Address, "startTime": start}
	}

	var fills []hyperliquidFill
	if err := h.client.PostJSON(ctx, h.url, payload, &fills); err != nil {
		return nil, err
	}

	res := &domain.FetchResult{Fetched: len(fills)}
	for _, f := range fills {
		trade, err := h.normalize(f, wallet)
		if err != nil {
			log.Printf("Hyperliquid: skipping fill: %v", err)
			res.Skipped++
			continue
		}
		res.Trades = append(res.Trades, trade)
	}
	return res, nil
}

func (h *Hyperliquid) normalize(f hyperliquidFill, wallet domain.Wallet) (domain.Trade, error) {
	if f.Tid == 0 {
		return domain.Trade{}, fmt.Errorf("%w: fill without tid", domain.ErrInvalidTradeData)
	}

	side := "unknown"
	switch f.Side {
	case "B":
		side = "buy"
	case "A":
		side = "sell"
	}

	notional, err := domain.Normalize(float64(f.Px), float64(f.Sz))
	if err != nil {
		return domain.Trade{}, err
	}

	return domain.Trade{
		WalletAddress: wallet.Address,
		Chain:         wallet.Chain,
		Exchange:      hyperliquidName,
		Market:        f.Coin,
		Side:          side,
		Price:         float64(f.Px),
		Size:          float64(f.Sz),
		NotionalValue: notional,
		Timestamp:     int64(f.Time) / 1000,
		TradeID:       fmt.Sprintf("hl_%d", int64(f.Tid)),
	}, nil
}
