package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	// Save original env vars and restore after tests
	originalEnv := map[string]string{
		"CATALOGSYNC_APP_NAME":                  os.Getenv("CATALOGSYNC_APP_NAME"),
		"CATALOGSYNC_APP_ENV":                   os.Getenv("CATALOGSYNC_APP_ENV"),
		"CATALOGSYNC_APP_PORT":                  os.Getenv("CATALOGSYNC_APP_PORT"),
		"CATALOGSYNC_DATABASE_DRIVER":           os.Getenv("CATALOGSYNC_DATABASE_DRIVER"),
		"CATALOGSYNC_DATABASE_HOST":             os.Getenv("CATALOGSYNC_DATABASE_HOST"),
		"CATALOGSYNC_DATABASE_PASSWORD":         os.Getenv("CATALOGSYNC_DATABASE_PASSWORD"),
		"CATALOGSYNC_DATABASE_MAX_OPEN_CONNS":   os.Getenv("CATALOGSYNC_DATABASE_MAX_OPEN_CONNS"),
		"CATALOGSYNC_DATABASE_MAX_IDLE_CONNS":   os.Getenv("CATALOGSYNC_DATABASE_MAX_IDLE_CONNS"),
		"CATALOGSYNC_SYNC_WORKERS":              os.Getenv("CATALOGSYNC_SYNC_WORKERS"),
		"CATALOGSYNC_SYNC_INTERACTIVE_HEADROOM": os.Getenv("CATALOGSYNC_SYNC_INTERACTIVE_HEADROOM"),
		"CATALOGSYNC_SYNC_FAILURE_THRESHOLD":    os.Getenv("CATALOGSYNC_SYNC_FAILURE_THRESHOLD"),
		"CATALOGSYNC_SYNC_JOB_STORE":            os.Getenv("CATALOGSYNC_SYNC_JOB_STORE"),
		"CATALOGSYNC_UPSTREAM_BASE_URL":         os.Getenv("CATALOGSYNC_UPSTREAM_BASE_URL"),
		"CATALOGSYNC_UPSTREAM_REQUESTS_PER_SEC": os.Getenv("CATALOGSYNC_UPSTREAM_REQUESTS_PER_SEC"),
	}

	defer func() {
		for k, v := range originalEnv {
			if v == "" {
				os.Unsetenv(k)
			} else {
				os.Setenv(k, v)
			}
		}
	}()

	clearEnv := func() {
		for k := range originalEnv {
			os.Unsetenv(k)
		}
	}

	t.Run("loads default values when env vars not set", func(t *testing.T) {
		clearEnv()

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "catalogsync", cfg.App.Name)
		assert.Equal(t, "development", cfg.App.Env)
		assert.Equal(t, "8080", cfg.App.Port)
		assert.Equal(t, "postgres", cfg.Database.Driver)
		assert.Equal(t, 25, cfg.Database.MaxOpenConns)
		assert.Equal(t, 5, cfg.Database.MaxIdleConns)
		assert.Equal(t, 4, cfg.Sync.Workers)
		assert.Equal(t, 5, cfg.Sync.InteractiveHeadroom)
		assert.Equal(t, 200, cfg.Sync.ChunkSize)
		assert.InDelta(t, DefaultFailureThreshold, cfg.Sync.FailureThreshold, 0.0001)
		assert.Equal(t, 50, cfg.Sync.MaxRecentErrors)
		assert.Equal(t, 24*time.Hour, cfg.Sync.JobRetention)
		assert.Equal(t, "memory", cfg.Sync.JobStore)
		assert.Equal(t, 3, cfg.Upstream.MaxRetries)
		assert.Equal(t, 100, cfg.Upstream.PageSize)
	})

	t.Run("loads values from environment variables with CATALOGSYNC prefix", func(t *testing.T) {
		clearEnv()
		os.Setenv("CATALOGSYNC_APP_NAME", "sync-test")
		os.Setenv("CATALOGSYNC_DATABASE_DRIVER", "sqlite")
		os.Setenv("CATALOGSYNC_SYNC_WORKERS", "8")
		os.Setenv("CATALOGSYNC_UPSTREAM_BASE_URL", "https://shop.example.com/api")
		os.Setenv("CATALOGSYNC_UPSTREAM_REQUESTS_PER_SEC", "2.5")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "sync-test", cfg.App.Name)
		assert.Equal(t, "sqlite", cfg.Database.Driver)
		assert.Equal(t, 8, cfg.Sync.Workers)
		assert.Equal(t, "https://shop.example.com/api", cfg.Upstream.BaseURL)
		assert.InDelta(t, 2.5, cfg.Upstream.RequestsPerSec, 0.0001)
	})

	t.Run("explicit zero failure threshold is kept", func(t *testing.T) {
		clearEnv()
		os.Setenv("CATALOGSYNC_SYNC_FAILURE_THRESHOLD", "0")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, 0.0, cfg.Sync.FailureThreshold)
	})

	t.Run("validates failure threshold range", func(t *testing.T) {
		clearEnv()
		os.Setenv("CATALOGSYNC_SYNC_FAILURE_THRESHOLD", "1.5")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failure_threshold")
	})

	t.Run("validates workers leave headroom in the pool", func(t *testing.T) {
		clearEnv()
		os.Setenv("CATALOGSYNC_DATABASE_MAX_OPEN_CONNS", "10")
		os.Setenv("CATALOGSYNC_SYNC_WORKERS", "8")
		os.Setenv("CATALOGSYNC_SYNC_INTERACTIVE_HEADROOM", "4")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "sync.workers")
	})

	t.Run("validates MaxIdleConns cannot exceed MaxOpenConns", func(t *testing.T) {
		clearEnv()
		os.Setenv("CATALOGSYNC_DATABASE_MAX_OPEN_CONNS", "10")
		os.Setenv("CATALOGSYNC_DATABASE_MAX_IDLE_CONNS", "20")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cannot exceed")
	})

	t.Run("rejects unknown job store", func(t *testing.T) {
		clearEnv()
		os.Setenv("CATALOGSYNC_SYNC_JOB_STORE", "etcd")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "job_store")
	})

	t.Run("production requires database password", func(t *testing.T) {
		clearEnv()
		os.Setenv("CATALOGSYNC_APP_ENV", "production")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database.password")
	})
}

func TestDatabaseConfig_DSN(t *testing.T) {
	d := DatabaseConfig{
		Host:     "db.local",
		Port:     5432,
		User:     "sync",
		Password: "p@ss word",
		DBName:   "catalog",
		SSLMode:  "require",
	}

	dsn := d.DSN()
	assert.Contains(t, dsn, "postgres://sync:")
	assert.Contains(t, dsn, "p%40ss%20word")
	assert.Contains(t, dsn, "db.local:5432/catalog")
	assert.Contains(t, dsn, "sslmode=require")
}

func TestRedisConfig_Addr(t *testing.T) {
	r := RedisConfig{Host: "cache", Port: 6380}
	assert.Equal(t, "cache:6380", r.Addr())
}
