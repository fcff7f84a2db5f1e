package ecommerce

import (
	"errors"
	"net/url"
	"time"
)

// CatalogClientConfig holds configuration for the upstream catalog API client
type CatalogClientConfig struct {
	// BaseURL is the root of the platform's catalog API, e.g. https://shop.example.com/api
	BaseURL string
	// APIKey is sent as a bearer token when set
	APIKey string
	// Timeout bounds a single HTTP attempt
	Timeout time.Duration
	// RequestsPerSec is the process-wide outbound request budget
	RequestsPerSec float64
	// Burst is the number of requests allowed above the steady rate
	Burst int
	// MaxRetries is the number of retries after the first attempt for 5xx, 429 and network errors
	MaxRetries int
	// RetryDelay is the base backoff delay
	RetryDelay time.Duration
	// MaxRetryDelay caps the backoff delay
	MaxRetryDelay time.Duration
	// Multiplier grows the delay between attempts
	Multiplier float64
	// MaxResponseSize limits how much of a response body is read
	MaxResponseSize int64
	// PageSize is the number of records requested per listing page
	PageSize int
}

// Errors for catalog client configuration
var (
	ErrCatalogConfigMissingBaseURL = errors.New("ecommerce: catalog base URL is required")
	ErrCatalogConfigInvalidBaseURL = errors.New("ecommerce: catalog base URL is invalid")
	ErrCatalogConfigInvalidRate    = errors.New("ecommerce: requests per second must be positive")
)

// NewCatalogClientConfig creates a catalog client configuration with defaults
func NewCatalogClientConfig(baseURL string) *CatalogClientConfig {
	return &CatalogClientConfig{
		BaseURL:         baseURL,
		Timeout:         30 * time.Second,
		RequestsPerSec:  5,
		Burst:           1,
		MaxRetries:      3,
		RetryDelay:      500 * time.Millisecond,
		MaxRetryDelay:   30 * time.Second,
		Multiplier:      2.0,
		MaxResponseSize: 10 << 20,
		PageSize:        100,
	}
}

// Validate validates the configuration and fills zero values with defaults
func (c *CatalogClientConfig) Validate() error {
	if c.BaseURL == "" {
		return ErrCatalogConfigMissingBaseURL
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ErrCatalogConfigInvalidBaseURL
	}
	if c.RequestsPerSec < 0 {
		return ErrCatalogConfigInvalidRate
	}
	if c.RequestsPerSec == 0 {
		c.RequestsPerSec = 5
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 500 * time.Millisecond
	}
	if c.MaxRetryDelay <= 0 {
		c.MaxRetryDelay = 30 * time.Second
	}
	if c.Multiplier < 1 {
		c.Multiplier = 2.0
	}
	if c.MaxResponseSize <= 0 {
		c.MaxResponseSize = 10 << 20
	}
	if c.PageSize <= 0 {
		c.PageSize = 100
	}
	return nil
}
