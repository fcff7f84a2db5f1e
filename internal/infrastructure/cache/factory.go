package cache

import (
	"fmt"
	"io"
	"time"

	"github.com/erp/catalogsync/internal/domain/catalogsync"
	"github.com/erp/catalogsync/internal/infrastructure/config"
	"go.uber.org/zap"
)

// JobStore is a catalogsync.JobStore that owns resources to release on shutdown.
type JobStore interface {
	catalogsync.JobStore
	io.Closer
}

// JobStoreFactory creates job stores based on configuration
type JobStoreFactory struct {
	redisConfig           config.RedisConfig
	retention             time.Duration
	logger                *zap.Logger
	allowInMemoryFallback bool
}

// JobStoreFactoryOption is a functional option for configuring the factory
type JobStoreFactoryOption func(*JobStoreFactory)

// WithLogger sets the logger for the factory
func WithLogger(logger *zap.Logger) JobStoreFactoryOption {
	return func(f *JobStoreFactory) {
		f.logger = logger
	}
}

// WithInMemoryFallback controls whether to fall back to the in-memory store when Redis is unavailable
// Default is true (allow fallback)
func WithInMemoryFallback(allow bool) JobStoreFactoryOption {
	return func(f *JobStoreFactory) {
		f.allowInMemoryFallback = allow
	}
}

// NewJobStoreFactory creates a new factory
func NewJobStoreFactory(cfg config.RedisConfig, retention time.Duration, opts ...JobStoreFactoryOption) *JobStoreFactory {
	f := &JobStoreFactory{
		redisConfig:           cfg,
		retention:             retention,
		logger:                zap.NewNop(),
		allowInMemoryFallback: true,
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// CreateRedisStore creates a Redis-based job store
func (f *JobStoreFactory) CreateRedisStore() (JobStore, error) {
	store, err := NewRedisJobStore(RedisConfig{
		Host:      f.redisConfig.Host,
		Port:      f.redisConfig.Port,
		Password:  f.redisConfig.Password,
		DB:        f.redisConfig.DB,
		KeyPrefix: f.redisConfig.KeyPrefix,
	}, f.retention)
	if err != nil {
		return nil, fmt.Errorf("failed to create Redis job store: %w", err)
	}
	return store, nil
}

// CreateInMemoryStore creates an in-memory job store.
// WARNING: jobs are only visible to the process that runs them.
func (f *JobStoreFactory) CreateInMemoryStore() JobStore {
	return NewInMemoryJobStore(f.retention)
}

// CreateStore creates the store named by kind ("memory" or "redis").
// A redis store falls back to in-memory when Redis is unreachable and fallback is allowed.
func (f *JobStoreFactory) CreateStore(kind string) (JobStore, error) {
	if kind != "redis" {
		f.logger.Info("using in-memory job store", zap.Duration("retention", f.retention))
		return f.CreateInMemoryStore(), nil
	}

	store, err := f.CreateRedisStore()
	if err == nil {
		f.logger.Info("using Redis job store", zap.String("addr", f.redisConfig.Addr()))
		return store, nil
	}

	if !f.allowInMemoryFallback {
		return nil, fmt.Errorf("Redis required for job store but unavailable: %w", err)
	}

	f.logger.Warn("Redis unavailable, falling back to in-memory job store. "+
		"Job status will not be shared across instances.",
		zap.Error(err),
	)
	return f.CreateInMemoryStore(), nil
}
