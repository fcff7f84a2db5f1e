package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/erp/catalogsync/internal/domain/catalogsync"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultJobKeyPrefix = "catalogsync:job:"

// Backoff between optimistic retries when another writer changed the job.
// A failed WATCH means some other update committed, so retrying always
// makes progress; only the context ends the loop.
const (
	minUpdateBackoff = time.Millisecond
	maxUpdateBackoff = 50 * time.Millisecond
)

// RedisJobStore implements catalogsync.JobStore using Redis.
// This is suitable for deployments where several instances report on the same jobs.
// Jobs are stored as JSON; finished jobs expire after the retention window.
type RedisJobStore struct {
	client    *redis.Client
	keyPrefix string
	retention time.Duration
}

var _ catalogsync.JobStore = (*RedisJobStore)(nil)

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Host      string
	Port      int
	Password  string
	DB        int
	KeyPrefix string
}

// NewRedisJobStore creates a new Redis-based job store
func NewRedisJobStore(cfg RedisConfig, retention time.Duration) (*RedisJobStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisJobStoreWithClient(client, cfg.KeyPrefix, retention), nil
}

// NewRedisJobStoreWithClient creates a store with an existing Redis client
// This is useful for testing or when sharing a client across components
func NewRedisJobStoreWithClient(client *redis.Client, keyPrefix string, retention time.Duration) *RedisJobStore {
	if keyPrefix == "" {
		keyPrefix = defaultJobKeyPrefix
	}
	return &RedisJobStore{
		client:    client,
		keyPrefix: keyPrefix,
		retention: retention,
	}
}

func (s *RedisJobStore) key(id uuid.UUID) string {
	return s.keyPrefix + id.String()
}

// ttlFor returns 0 (no expiry) until the job finishes.
func (s *RedisJobStore) ttlFor(job *catalogsync.ImportJob) time.Duration {
	if s.retention > 0 && job.Status.IsTerminal() {
		return s.retention
	}
	return 0
}

// Create stores a new job. SETNX makes a duplicate id an error.
func (s *RedisJobStore) Create(ctx context.Context, job *catalogsync.ImportJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}
	ok, err := s.client.SetNX(ctx, s.key(job.ID), data, s.ttlFor(job)).Result()
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	if !ok {
		return catalogsync.ErrJobAlreadyExists
	}
	return nil
}

// Get returns the stored job
func (s *RedisJobStore) Get(ctx context.Context, id uuid.UUID) (*catalogsync.ImportJob, error) {
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, catalogsync.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return decodeJob(data)
}

// Update applies fn inside a WATCH transaction and retries when another
// writer changed the job in between.
func (s *RedisJobStore) Update(ctx context.Context, id uuid.UUID, fn func(job *catalogsync.ImportJob) error) (*catalogsync.ImportJob, error) {
	key := s.key(id)
	var updated *catalogsync.ImportJob

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return catalogsync.ErrJobNotFound
		}
		if err != nil {
			return err
		}
		job, err := decodeJob(data)
		if err != nil {
			return err
		}
		if err := fn(job); err != nil {
			return err
		}
		encoded, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("failed to encode job: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, s.ttlFor(job))
			return nil
		})
		if err == nil {
			updated = job
		}
		return err
	}

	backoff := minUpdateBackoff
	for {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return updated, nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return nil, err
		}

		timer := time.NewTimer(backoff/2 + rand.N(backoff))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("failed to update job %s: %w", id, ctx.Err())
		case <-timer.C:
		}
		backoff = min(backoff*2, maxUpdateBackoff)
	}
}

// List scans stored jobs and returns matches, newest first
func (s *RedisJobStore) List(ctx context.Context, filter catalogsync.JobFilter) ([]*catalogsync.ImportJob, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, s.keyPrefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan jobs: %w", err)
	}
	if len(keys) == 0 {
		return []*catalogsync.ImportJob{}, nil
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load jobs: %w", err)
	}

	jobs := make([]*catalogsync.ImportJob, 0, len(values))
	for _, v := range values {
		str, ok := v.(string)
		if !ok {
			// expired between SCAN and MGET
			continue
		}
		job, err := decodeJob([]byte(str))
		if err != nil {
			return nil, err
		}
		if filter.Matches(job) {
			jobs = append(jobs, job)
		}
	}

	sortNewestFirst(jobs)
	if filter.Limit > 0 && len(jobs) > filter.Limit {
		jobs = jobs[:filter.Limit]
	}
	return jobs, nil
}

// Close closes the Redis client
func (s *RedisJobStore) Close() error {
	return s.client.Close()
}

// GetClient returns the underlying Redis client (for testing/monitoring)
func (s *RedisJobStore) GetClient() *redis.Client {
	return s.client
}

func decodeJob(data []byte) (*catalogsync.ImportJob, error) {
	var job catalogsync.ImportJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to decode job: %w", err)
	}
	return &job, nil
}
