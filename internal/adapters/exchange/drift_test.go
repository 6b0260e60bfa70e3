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

func TestDriftFetchTrades(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/user/solwallet1/trades", r.URL.Path)
		w.Write([]byte(`{"success":true,"records":[
			{"ts":1700000000,"marketIndex":0,"marketType":"perp","price":100,"baseAssetAmount":2,"quoteAssetAmount":200000000,"side":"buy"},
			{"ts":1700000100,"marketIndex":1,"marketType":"perp","price":50,"baseAssetAmount":1,"quoteAssetAmount":"50.25","side":"sell"},
			{"ts":0,"marketIndex":2,"marketType":"perp","price":1,"baseAssetAmount":1,"quoteAssetAmount":1,"side":"buy"}
		]}`))
	}))
	defer srv.Close()

	d := NewDrift(srv.URL+"/user/{accountId}/trades", testClient())
	wallet := domain.Wallet{Address: "solwallet1", Chain: domain.ChainSolana}

	res, err := d.FetchTrades(context.Background(), wallet, "")
	require.NoError(t, err)
	require.Equal(t, 3, res.Fetched)
	require.Equal(t, 1, res.Skipped, "record without ts is skipped")
	require.Len(t, res.Trades, 2)

	micro := res.Trades[0]
	require.Equal(t, 200.0, micro.NotionalValue, "integer quote amounts are micro-units")
	require.Equal(t, "perp:0", micro.Market)
	require.Equal(t, "drift_1700000000_0", micro.TradeID)

	usd := res.Trades[1]
	require.Equal(t, 50.25, usd.NotionalValue, "decimal quote amounts are already USD")
}

func TestDriftNonFinitePriceIsSkipped(t *testing.T) {
	// strconv.ParseFloat accepts "NaN", so a poisoned price field would
	// otherwise flow into the store with the heuristic notional intact.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true,"records":[
			{"ts":1700000000,"marketIndex":0,"marketType":"perp","price":"NaN","baseAssetAmount":2,"quoteAssetAmount":200000000,"side":"buy"},
			{"ts":1700000100,"marketIndex":0,"marketType":"perp","price":100,"baseAssetAmount":"Inf","quoteAssetAmount":100000000,"side":"sell"},
			{"ts":1700000200,"marketIndex":0,"marketType":"perp","price":100,"baseAssetAmount":1,"quoteAssetAmount":100000000,"side":"buy"}
		]}`))
	}))
	defer srv.Close()

	d := NewDrift(srv.URL+"/user/{accountId}/trades", testClient())
	res, err := d.FetchTrades(context.Background(), domain.Wallet{Address: "w", Chain: domain.ChainSolana}, "")
	require.NoError(t, err)
	require.Equal(t, 2, res.Skipped)
	require.Len(t, res.Trades, 1)
	require.Equal(t, int64(1700000200), res.Trades[0].Timestamp)
}

func TestDriftCursorFiltersOldRecords(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true,"records":[
			{"ts":1700000000,"marketIndex":0,"marketType":"perp","price":100,"baseAssetAmount":1,"quoteAssetAmount":100000000,"side":"buy"},
			{"ts":1700000500,"marketIndex":0,"marketType":"perp","price":100,"baseAssetAmount":1,"quoteAssetAmount":100000000,"side":"buy"}
		]}`))
	}))
	defer srv.Close()

	d := NewDrift(srv.URL+"/user/{accountId}/trades", testClient())
	res, err := d.FetchTrades(context.Background(), domain.Wallet{Address: "w", Chain: domain.ChainSolana}, "1700000000")
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)
	require.Equal(t, int64(1700000500), res.Trades[0].Timestamp)
}

func TestDriftSuccessFalse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":false,"records":[]}`))
	}))
	defer srv.Close()

	d := NewDrift(srv.URL+"/user/{accountId}/trades", testClient())
	_, err := d.FetchTrades(context.Background(), domain.Wallet{Address: "w", Chain: domain.ChainSolana}, "")
	require.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
}

func TestDriftNotional(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want float64
	}{
		{"integer micro-units", `150000000`, 150},
		{"quoted integer micro-units", `"150000000"`, 150},
		{"decimal usd", `"123.45"`, 123.45},
		{"negative integer", `-150000000`, 150},
		{"null", `null`, 0},
		{"garbage", `"abc"`, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, driftNotional(json.RawMessage(tc.raw)))
		})
	}
}
