package ecommerce

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/erp/catalogsync/internal/domain/catalogsync"
	"go.uber.org/zap"
)

// CatalogClient performs rate-limited GET requests against the upstream
// catalog API. Every attempt, including retries, takes a limiter slot.
type CatalogClient struct {
	config     *CatalogClientConfig
	httpClient *http.Client
	limiter    *RateLimiter
	logger     *zap.Logger
	observe    RequestObserver
}

// RequestObserver is called after every attempt with the response status
// (zero when no response arrived) and the attempt latency.
type RequestObserver func(ctx context.Context, path string, status int, elapsed time.Duration)

// CatalogClientOption configures a CatalogClient
type CatalogClientOption func(*CatalogClient)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(client *http.Client) CatalogClientOption {
	return func(c *CatalogClient) {
		c.httpClient = client
	}
}

// WithRateLimiter shares an existing limiter between clients
func WithRateLimiter(limiter *RateLimiter) CatalogClientOption {
	return func(c *CatalogClient) {
		c.limiter = limiter
	}
}

// WithLogger sets the client logger
func WithLogger(logger *zap.Logger) CatalogClientOption {
	return func(c *CatalogClient) {
		c.logger = logger
	}
}

// WithRequestObserver registers a per-attempt callback
func WithRequestObserver(fn RequestObserver) CatalogClientOption {
	return func(c *CatalogClient) {
		c.observe = fn
	}
}

// NewCatalogClient creates a new upstream catalog client
func NewCatalogClient(config *CatalogClientConfig, opts ...CatalogClientOption) (*CatalogClient, error) {
	if config == nil {
		return nil, ErrCatalogConfigMissingBaseURL
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	c := &CatalogClient{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.limiter == nil {
		c.limiter = NewRateLimiter(config.RequestsPerSec, config.Burst)
	}
	return c, nil
}

// Limiter returns the limiter shared by this client
func (c *CatalogClient) Limiter() *RateLimiter {
	return c.limiter
}

// Fetch issues a GET for path relative to the base URL and returns the body
// of a 2xx response. 5xx, 429 and network failures are retried with backoff;
// once retries are exhausted a transient FetchError is returned. Any other
// non-2xx status is a permanent FetchError returned without retry.
func (c *CatalogClient) Fetch(ctx context.Context, path string, query url.Values) ([]byte, error) {
	endpoint := c.buildURL(path, query)
	maxAttempts := c.config.MaxRetries + 1

	var (
		lastErr    error
		lastStatus int
	)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := c.limiter.Acquire(ctx); err != nil {
			return nil, err
		}

		started := time.Now()
		body, status, retryAfter, err := c.do(ctx, endpoint)
		if c.observe != nil {
			c.observe(ctx, path, status, time.Since(started))
		}
		if err == nil {
			return body, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		lastErr, lastStatus = err, status
		if !isRetryable(status) {
			return nil, &catalogsync.FetchError{
				Kind:       catalogsync.FetchErrorPermanent,
				Path:       path,
				StatusCode: status,
				Attempts:   attempt,
				Err:        err,
			}
		}
		if attempt == maxAttempts {
			break
		}

		delay := c.backoff(attempt)
		if retryAfter > delay {
			delay = min(retryAfter, c.config.MaxRetryDelay)
		}
		c.logger.Debug("Retrying upstream request",
			zap.String("path", path),
			zap.Int("attempt", attempt),
			zap.Int("status", status),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil, &catalogsync.FetchError{
		Kind:       catalogsync.FetchErrorTransient,
		Path:       path,
		StatusCode: lastStatus,
		Attempts:   maxAttempts,
		Err:        lastErr,
	}
}

// do performs a single attempt. A zero status means the request never got a response.
func (c *CatalogClient) do(ctx context.Context, endpoint string) ([]byte, int, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, http.StatusBadRequest, 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.config.MaxResponseSize))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, resp.StatusCode, 0, nil
	}

	var retryAfter time.Duration
	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
	}
	return nil, resp.StatusCode, retryAfter, errors.New(statusMessage(resp.StatusCode, body))
}

func (c *CatalogClient) buildURL(path string, query url.Values) string {
	endpoint := strings.TrimRight(c.config.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	return endpoint
}

// backoff returns RetryDelay * Multiplier^(attempt-1), capped, with +/-25% jitter.
func (c *CatalogClient) backoff(attempt int) time.Duration {
	delay := float64(c.config.RetryDelay) * math.Pow(c.config.Multiplier, float64(attempt-1))
	if delay > float64(c.config.MaxRetryDelay) {
		delay = float64(c.config.MaxRetryDelay)
	}
	jitter := delay * 0.25 * (rand.Float64()*2 - 1)
	return time.Duration(delay + jitter)
}

func isRetryable(status int) bool {
	return status == 0 || status == http.StatusTooManyRequests || status >= 500
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func statusMessage(status int, body []byte) string {
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	if msg == "" {
		return fmt.Sprintf("upstream returned %d %s", status, http.StatusText(status))
	}
	return fmt.Sprintf("upstream returned %d: %s", status, msg)
}
