// Package httpx is the JSON-over-HTTP client shared by the REST collaborators
// (swap quotes, subgraph, webhooks): rate limited, retried with backoff.
package httpx

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sugawarayuuta/sonnet"
	"golang.org/x/time/rate"
)

const (
	maxRetries    = 3
	baseRetryWait = 500 * time.Millisecond
)

// StatusError is a non-retryable 4xx answer. Body is kept for callers that
// need to classify provider errors.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("client error %d: %s", e.Code, e.Body)
}

type Client struct {
	http     *http.Client
	limiter  *rate.Limiter
	baseWait time.Duration
	log      *slog.Logger
}

// New builds a client doing at most rps requests per second. rps <= 0 disables limiting.
func New(timeout time.Duration, rps float64) *Client {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		http:     &http.Client{Timeout: timeout},
		limiter:  limiter,
		baseWait: baseRetryWait,
		log:      slog.Default(),
	}
}

// WithLogger replaces the logger used for retry messages.
func (c *Client) WithLogger(log *slog.Logger) *Client {
	if log != nil {
		c.log = log
	}
	return c
}

// PostJSON marshals body, posts it to url and decodes the response into out (if non-nil).
func (c *Client) PostJSON(ctx context.Context, url string, body, out any) error {
	b, err := sonnet.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal body: %w", err)
	}

	return c.doWithRetry(ctx, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		return c.http.Do(req)
	}, out)
}

func (c *Client) doWithRetry(ctx context.Context, fn func() (*http.Response, error), out any) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		resp, err := fn()
		if err != nil {
			if attempt == maxRetries || ctx.Err() != nil {
				return fmt.Errorf("request failed after %d retries: %w", attempt, err)
			}
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			resp.Body.Close()
			if attempt == maxRetries {
				return fmt.Errorf("server error %d after %d retries", resp.StatusCode, maxRetries)
			}
			c.log.Debug("retrying request", "status", resp.StatusCode, "attempt", attempt+1)
			c.sleep(ctx, attempt)
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}

		if resp.StatusCode >= 400 {
			return &StatusError{Code: resp.StatusCode, Body: string(body)}
		}
		if out == nil || len(bytes.TrimSpace(body)) == 0 {
			return nil
		}
		if err := sonnet.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}
	return fmt.Errorf("exhausted %d retries", maxRetries)
}

func (c *Client) sleep(ctx context.Context, attempt int) {
	wait := c.baseWait << attempt
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}
