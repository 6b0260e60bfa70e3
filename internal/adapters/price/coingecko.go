// Package price holds the HTTP fallback price provider.
package price

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/fogoprotocol/volumecard/internal/adapters/rest"
	"github.com/fogoprotocol/volumecard/internal/core/domain"
)

const defaultBaseURL = "https://api.coingecko.com"

// DefaultCoinIDs maps lowercased Ethereum mainnet token addresses to
// CoinGecko coin ids. WETH resolves as ETH.
var DefaultCoinIDs = map[string]string{
	"0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2": "ethereum",
	"0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48": "usd-coin",
	"0xdac17f958d2ee523a2206206994597c13d831ec7": "tether",
	"0x6b175474e89094c44da98b954eedeac495271d0f": "dai",
	"0x2260fac5e5542a773aa44fbcfedf7c193bc2c599": "wrapped-bitcoin",
	"0x1f9840a85d5af5bf1d1762f925bdaddc4201f984": "uniswap",
	"0x514910771af9ca656af840dff83e8264ecf986ca": "chainlink",
}

// CoinGecko is the fallback price provider, queried only after the on-chain
// feed fails. It uses the coin history endpoint, which serves one price per
// UTC day.
type CoinGecko struct {
	baseURL string
	coinIDs map[string]string
	client  *rest.Client
}

func NewCoinGecko(baseURL string, coinIDs map[string]string, client *rest.Client) *CoinGecko {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if coinIDs == nil {
		coinIDs = DefaultCoinIDs
	}
	return &CoinGecko{baseURL: baseURL, coinIDs: coinIDs, client: client}
}

func (c *CoinGecko) Name() string { return domain.SourceCoinGecko }

type historyResponse struct {
	MarketData struct {
		CurrentPrice map[string]float64 `json:"current_price"`
	} `json:"market_data"`
}

func (c *CoinGecko) PriceAt(ctx context.Context, token string, timestamp int64) (float64, error) {
	coinID, ok := c.coinIDs[strings.ToLower(token)]
	if !ok {
		return 0, fmt.Errorf("%w: no coingecko id for %s", domain.ErrPriceUnavailable, token)
	}

	// History endpoint takes dd-mm-yyyy.
	date := time.Unix(timestamp, 0).UTC().Format("02-01-2006")
	endpoint := fmt.Sprintf("%s/api/v3/coins/%s/history", c.baseURL, coinID)

	params := url.Values{}
	params.Set("date", date)

	var resp historyResponse
	if err := c.client.GetJSON(ctx, endpoint, params, &resp); err != nil {
		return 0, fmt.Errorf("%w: coingecko history for %s: %v", domain.ErrPriceUnavailable, coinID, err)
	}

	usd, ok := resp.MarketData.CurrentPrice["usd"]
	if !ok || usd <= 0 {
		return 0, fmt.Errorf("%w: no usd price for %s on %s", domain.ErrPriceUnavailable, coinID, date)
	}
	return usd, nil
}
