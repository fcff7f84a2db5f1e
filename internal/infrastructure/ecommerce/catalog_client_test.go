package ecommerce

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erp/catalogsync/internal/domain/catalogsync"
)

// ---------------------------------------------------------------------------
// Config Tests
// ---------------------------------------------------------------------------

func TestCatalogClientConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  *CatalogClientConfig
		wantErr error
	}{
		{
			name:    "valid config",
			config:  &CatalogClientConfig{BaseURL: "http://upstream.local/api"},
			wantErr: nil,
		},
		{
			name:    "missing base url",
			config:  &CatalogClientConfig{},
			wantErr: ErrCatalogConfigMissingBaseURL,
		},
		{
			name:    "relative base url",
			config:  &CatalogClientConfig{BaseURL: "/api"},
			wantErr: ErrCatalogConfigInvalidBaseURL,
		},
		{
			name:    "negative rate",
			config:  &CatalogClientConfig{BaseURL: "http://upstream.local", RequestsPerSec: -1},
			wantErr: ErrCatalogConfigInvalidRate,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
				// Check defaults are set
				assert.Equal(t, 5.0, tt.config.RequestsPerSec)
				assert.Equal(t, 1, tt.config.Burst)
				assert.Equal(t, 100, tt.config.PageSize)
				assert.True(t, tt.config.Timeout > 0)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Client Tests
// ---------------------------------------------------------------------------

func newTestClient(t *testing.T, serverURL string) *CatalogClient {
	t.Helper()
	cfg := NewCatalogClientConfig(serverURL)
	cfg.RequestsPerSec = 1000
	cfg.Burst = 10
	cfg.MaxRetries = 2
	cfg.RetryDelay = time.Millisecond
	cfg.MaxRetryDelay = 5 * time.Millisecond
	client, err := NewCatalogClient(cfg)
	require.NoError(t, err)
	return client
}

func createMockCatalogServer(_ *testing.T, handler http.HandlerFunc) *httptest.Server {
	return httptest.NewServer(handler)
}

func TestCatalogClient_Fetch(t *testing.T) {
	t.Run("returns body on success and sends auth", func(t *testing.T) {
		server := createMockCatalogServer(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/brands", r.URL.Path)
			assert.Equal(t, "2", r.URL.Query().Get("page"))
			assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
			w.Write([]byte(`{"data":[]}`))
		})
		defer server.Close()

		cfg := NewCatalogClientConfig(server.URL + "/api")
		cfg.APIKey = "secret"
		client, err := NewCatalogClient(cfg)
		require.NoError(t, err)

		body, err := client.Fetch(context.Background(), "brands", url.Values{"page": {"2"}})
		require.NoError(t, err)
		assert.JSONEq(t, `{"data":[]}`, string(body))
	})

	t.Run("retries server errors then succeeds", func(t *testing.T) {
		var calls atomic.Int32
		server := createMockCatalogServer(t, func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) < 3 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			w.Write([]byte(`{"data":[]}`))
		})
		defer server.Close()

		client := newTestClient(t, server.URL)
		_, err := client.Fetch(context.Background(), "products", nil)
		require.NoError(t, err)
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("transient error after retries are exhausted", func(t *testing.T) {
		var calls atomic.Int32
		server := createMockCatalogServer(t, func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusServiceUnavailable)
		})
		defer server.Close()

		client := newTestClient(t, server.URL)
		_, err := client.Fetch(context.Background(), "products", nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, catalogsync.ErrTransientFetch)

		var fetchErr *catalogsync.FetchError
		require.ErrorAs(t, err, &fetchErr)
		assert.Equal(t, http.StatusServiceUnavailable, fetchErr.StatusCode)
		assert.Equal(t, 3, fetchErr.Attempts)
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("429 is retried", func(t *testing.T) {
		var calls atomic.Int32
		server := createMockCatalogServer(t, func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 1 {
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			w.Write([]byte(`{"data":[]}`))
		})
		defer server.Close()

		client := newTestClient(t, server.URL)
		_, err := client.Fetch(context.Background(), "skus", nil)
		require.NoError(t, err)
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("4xx is permanent and not retried", func(t *testing.T) {
		var calls atomic.Int32
		server := createMockCatalogServer(t, func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			http.Error(w, "forbidden", http.StatusForbidden)
		})
		defer server.Close()

		client := newTestClient(t, server.URL)
		_, err := client.Fetch(context.Background(), "brands", nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, catalogsync.ErrPermanentFetch)
		assert.NotErrorIs(t, err, catalogsync.ErrTransientFetch)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("observer sees every attempt", func(t *testing.T) {
		var calls atomic.Int32
		server := createMockCatalogServer(t, func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 1 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			w.Write([]byte(`{"data":[]}`))
		})
		defer server.Close()

		cfg := NewCatalogClientConfig(server.URL)
		cfg.RequestsPerSec = 1000
		cfg.Burst = 10
		cfg.RetryDelay = time.Millisecond
		cfg.MaxRetryDelay = 5 * time.Millisecond

		var statuses []int
		client, err := NewCatalogClient(cfg, WithRequestObserver(func(_ context.Context, path string, status int, _ time.Duration) {
			assert.Equal(t, "images", path)
			statuses = append(statuses, status)
		}))
		require.NoError(t, err)

		_, err = client.Fetch(context.Background(), "images", nil)
		require.NoError(t, err)
		assert.Equal(t, []int{http.StatusBadGateway, http.StatusOK}, statuses)
	})

	t.Run("cancelled context stops retries", func(t *testing.T) {
		server := createMockCatalogServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		})
		defer server.Close()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		client := newTestClient(t, server.URL)
		_, err := client.Fetch(ctx, "brands", nil)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestCatalogClient_Backoff(t *testing.T) {
	cfg := NewCatalogClientConfig("http://upstream.local")
	cfg.RetryDelay = 100 * time.Millisecond
	cfg.MaxRetryDelay = 300 * time.Millisecond
	client, err := NewCatalogClient(cfg)
	require.NoError(t, err)

	d1 := client.backoff(1)
	assert.GreaterOrEqual(t, d1, 75*time.Millisecond)
	assert.LessOrEqual(t, d1, 125*time.Millisecond)

	d5 := client.backoff(5)
	assert.LessOrEqual(t, d5, 375*time.Millisecond)
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 2*time.Second, parseRetryAfter("2"))
	assert.Equal(t, time.Duration(0), parseRetryAfter(""))
	assert.Equal(t, time.Duration(0), parseRetryAfter("soon"))
}

func TestRateLimiter_Acquire(t *testing.T) {
	limiter := NewRateLimiter(0.001, 2)
	require.NoError(t, limiter.Acquire(context.Background()))
	require.NoError(t, limiter.Acquire(context.Background()))
	assert.Equal(t, int64(2), limiter.Stats().TotalAcquired)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	// burst consumed, next slot is far away
	assert.Error(t, limiter.Acquire(ctx))
	assert.Equal(t, int64(2), limiter.Stats().TotalAcquired)

	limiter.SetRate(50)
	assert.Equal(t, 50.0, limiter.Stats().CurrentQPS)
}
