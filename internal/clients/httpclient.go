// Package clients provides the HTTP plumbing and upstream API clients used
// by version probes. A single RetryableHTTPClient and rate limiter are built
// once per run and shared across all probes.
package clients

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// Error variables for HTTP client errors
var (
	// ErrMaxRetriesExceeded is returned when all retry attempts have failed
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")
	// ErrNotFound is returned when the upstream resource does not exist
	ErrNotFound = errors.New("not found")
	// ErrUpstreamStatus is returned for unexpected upstream status codes
	ErrUpstreamStatus = errors.New("unexpected upstream status")
)

// userAgent identifies the updater to upstream APIs.
const userAgent = "nixbump/1.0"

// RetryConfig holds configuration for retry behavior.
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts (default: 3)
	MaxRetries int
	// BaseDelay is the initial delay before first retry (default: 1s)
	BaseDelay time.Duration
	// MaxDelay is the maximum delay between retries (default: 4s)
	MaxDelay time.Duration
	// Timeout is the timeout for each individual request (default: 30s)
	Timeout time.Duration
}

// DefaultRetryConfig returns the default retry configuration.
// Uses exponential backoff with delays of 1s, 2s, 4s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  1 * time.Second,
		MaxDelay:   4 * time.Second,
		Timeout:    30 * time.Second,
	}
}

// RetryableHTTPClient wraps an HTTP client with retry logic and a run-wide
// rate limiter. It retries network errors and 5xx responses with exponential
// backoff; 4xx responses are returned to the caller unchanged.
type RetryableHTTPClient struct {
	client  *http.Client
	config  RetryConfig
	limiter *rate.Limiter
	// delayFunc allows overriding the backoff sleep for testing
	delayFunc func(time.Duration)
}

// NewRetryableHTTPClient creates a client with the default retry
// configuration and a limiter allowing a small steady request rate with
// bursts, shared by every probe in the run.
func NewRetryableHTTPClient() *RetryableHTTPClient {
	return NewRetryableHTTPClientWithConfig(DefaultRetryConfig(), rate.NewLimiter(rate.Limit(10), 20))
}

// NewRetryableHTTPClientWithConfig creates a client with custom retry
// configuration and rate limiter. A nil limiter disables rate limiting.
func NewRetryableHTTPClientWithConfig(config RetryConfig, limiter *rate.Limiter) *RetryableHTTPClient {
	return &RetryableHTTPClient{
		client: &http.Client{
			Timeout: config.Timeout,
		},
		config:    config,
		limiter:   limiter,
		delayFunc: time.Sleep,
	}
}

// SetHTTPClient sets a custom underlying HTTP client (useful for testing).
func (c *RetryableHTTPClient) SetHTTPClient(client *http.Client) {
	c.client = client
}

// SetDelayFunc sets a custom backoff sleep function (useful for testing).
func (c *RetryableHTTPClient) SetDelayFunc(fn func(time.Duration)) {
	c.delayFunc = fn
}

// Do executes an HTTP request with rate limiting and retry logic.
func (c *RetryableHTTPClient) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if attempt > 0 {
			c.delayFunc(c.calculateDelay(attempt))
		}

		resp, err := c.client.Do(req.Clone(ctx))
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode >= 500 {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			lastErr = fmt.Errorf("%w: status %d", ErrUpstreamStatus, resp.StatusCode)
			continue
		}

		return resp, nil
	}

	return nil, fmt.Errorf("%w: %v", ErrMaxRetriesExceeded, lastErr)
}

// Get performs a GET request with the standard user agent and any extra
// headers.
func (c *RetryableHTTPClient) Get(ctx context.Context, url string, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.Do(ctx, req)
}

// GetBody performs a GET request and returns the response body. A 404 maps
// to ErrNotFound; any other non-2xx status maps to ErrUpstreamStatus.
func (c *RetryableHTTPClient) GetBody(ctx context.Context, url string, headers map[string]string) ([]byte, error) {
	resp, err := c.Get(ctx, url, headers)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, url)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d for %s", ErrUpstreamStatus, resp.StatusCode, url)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return body, nil
}

// calculateDelay returns the backoff delay for a retry attempt.
// Uses exponential backoff: baseDelay * 2^(attempt-1), capped at MaxDelay.
func (c *RetryableHTTPClient) calculateDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	delay := c.config.BaseDelay * time.Duration(1<<(attempt-1))
	if delay > c.config.MaxDelay {
		delay = c.config.MaxDelay
	}
	return delay
}
