package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fogoprotocol/volumecard/internal/core/domain"
)

func TestGetJSONRetriesThenSucceeds(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		require.Equal(t, "1", r.URL.Query().Get("page"))
		w.Write([]byte(`{"value":42}`))
	}))
	defer srv.Close()

	c := NewClient(time.Second, 3, time.Millisecond, false)

	var out struct {
		Value int `json:"value"`
	}
	params := url.Values{}
	params.Set("page", "1")
	require.NoError(t, c.GetJSON(context.Background(), srv.URL, params, &out))
	require.Equal(t, 42, out.Value)
	require.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestRetriesExhaustedSurfaceAsUpstreamUnavailable(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(time.Second, 2, time.Millisecond, false)
	err := c.GetJSON(context.Background(), srv.URL, nil, nil)
	require.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
	require.Equal(t, int32(3), atomic.LoadInt32(&attempts), "maxRetries bounds the attempts")
}

func TestPostJSONSendsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "userFills", body["type"])
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewClient(time.Second, 0, time.Millisecond, false)
	var out map[string]any
	require.NoError(t, c.PostJSON(context.Background(), srv.URL, map[string]string{"type": "userFills"}, &out))
}

func TestCanceledContextIsNotRetried(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewClient(time.Second, 5, time.Millisecond, false)
	err := c.GetJSON(ctx, srv.URL, nil, nil)
	require.Error(t, err)
	require.LessOrEqual(t, atomic.LoadInt32(&attempts), int32(1))
}

func TestMalformedResponseBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	c := NewClient(time.Second, 0, time.Millisecond, false)
	var out map[string]any
	err := c.GetJSON(context.Background(), srv.URL, nil, &out)
	require.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
}
