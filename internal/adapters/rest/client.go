// Package rest provides the shared JSON-over-HTTP client used by every
// venue adapter and the fallback price provider.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/fogoprotocol/volumecard/internal/core/domain"
)

// Client wraps http.Client with bounded retries and exponential backoff.
// Exhausted retries surface as domain.ErrUpstreamUnavailable so callers can
// apply the partial-failure policy uniformly.
type Client struct {
	http       *http.Client
	maxRetries int
	retryDelay time.Duration
	jitter     bool
}

func NewClient(timeout time.Duration, maxRetries int, retryDelay time.Duration, jitter bool) *Client {
	return &Client{
		http:       &http.Client{Timeout: timeout},
		maxRetries: maxRetries,
		retryDelay: retryDelay,
		jitter:     jitter,
	}
}

// GetJSON performs a GET with query parameters and decodes the response body
// into out.
func (c *Client) GetJSON(ctx context.Context, rawURL string, query url.Values, out any) error {
	target := rawURL
	if len(query) > 0 {
		target = rawURL + "?" + query.Encode()
	}
	return c.do(ctx, http.MethodGet, target, nil, out)
}

// PostJSON performs a POST with a JSON body and decodes the response into out.
func (c *Client) PostJSON(ctx context.Context, rawURL string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request body: %w", err)
	}
	return c.do(ctx, http.MethodPost, rawURL, payload, out)
}

func (c *Client) do(ctx context.Context, method, target string, body []byte, out any) error {
	var raw []byte

	operation := func() error {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, target, reader)
		if err != nil {
			return backoff.Permanent(err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			io.Copy(io.Discard, resp.Body)
			return fmt.Errorf("status %d", resp.StatusCode)
		}

		raw, err = io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		return nil
	}

	strategy := backoff.NewExponentialBackOff()
	strategy.InitialInterval = c.retryDelay
	strategy.MaxElapsedTime = 0
	if c.jitter {
		strategy.RandomizationFactor = 0.25
	} else {
		strategy.RandomizationFactor = 0
	}

	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(strategy, uint64(c.maxRetries)), ctx))
	if err != nil {
		log.Printf("HTTP %s %s failed after %d attempts: %v", method, target, c.maxRetries+1, err)
		return fmt.Errorf("%w: %s %s: %v", domain.ErrUpstreamUnavailable, method, target, err)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: decode %s response: %v", domain.ErrUpstreamUnavailable, target, err)
	}
	return nil
}
