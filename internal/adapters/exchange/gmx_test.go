package exchange

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fogoprotocol/volumecard/internal/core/domain"
)

func TestGmxFetchTrades(t *testing.T) {
	var gotPayload struct {
		Query     string         `json:"query"`
		Variables map[string]any `json:"variables"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))
		w.Write([]byte(`{"data":{"trades":[
			{"id":"t1","account":"0xabc","marketAddress":"0xmkt","sizeInUsd":"5000","sizeInTokens":"2.5","executionPrice":"2000","timestamp":1700000000},
			{"id":"t2","account":"0xabc","marketAddress":"0xmkt","sizeInUsd":"1000","sizeInTokens":"-0.5","executionPrice":"2000","timestamp":1700000100},
			{"id":"","account":"0xabc","marketAddress":"0xmkt","sizeInUsd":"1","sizeInTokens":"1","executionPrice":"1","timestamp":1700000200}
		]}}`))
	}))
	defer srv.Close()

	g := NewGmx(srv.URL, testClient())
	wallet := domain.Wallet{Address: "0xAbC", Chain: domain.ChainEVM}

	res, err := g.FetchTrades(context.Background(), wallet, "")
	require.NoError(t, err)
	require.Equal(t, "0xabc", gotPayload.Variables["account"], "account is queried lowercased")

	require.Equal(t, 3, res.Fetched)
	require.Equal(t, 1, res.Skipped, "trade without id is skipped")
	require.Len(t, res.Trades, 2)

	long := res.Trades[0]
	require.Equal(t, "buy", long.Side)
	require.Equal(t, 5000.0, long.NotionalValue)
	require.Equal(t, "gmx_arb_t1", long.TradeID)
	require.Equal(t, "0xabc", long.WalletAddress)

	short := res.Trades[1]
	require.Equal(t, "sell", short.Side)
	require.Equal(t, 1000.0, short.NotionalValue, "negative sizeInTokens yields a positive notional")
}

func TestGmxCursorAddsTimestampFilter(t *testing.T) {
	var gotPayload struct {
		Query     string         `json:"query"`
		Variables map[string]any `json:"variables"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))
		w.Write([]byte(`{"data":{"trades":[]}}`))
	}))
	defer srv.Close()

	g := NewGmx(srv.URL, testClient())
	_, err := g.FetchTrades(context.Background(), domain.Wallet{Address: "0xabc", Chain: domain.ChainEVM}, "1700000000")
	require.NoError(t, err)
	require.Contains(t, gotPayload.Query, "timestamp_gt")
	require.Equal(t, float64(1700000000), gotPayload.Variables["since"])
}

func TestGmxBadCursor(t *testing.T) {
	g := NewGmx("http://unused", testClient())
	_, err := g.FetchTrades(context.Background(), domain.Wallet{Address: "0xabc", Chain: domain.ChainEVM}, "not-a-number")
	require.ErrorIs(t, err, domain.ErrInvalidTradeData)
}
