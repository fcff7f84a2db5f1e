package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erp/catalogsync/internal/domain/catalogsync"
	"github.com/erp/catalogsync/internal/infrastructure/config"
)

func newTestJob(t *testing.T, tenantID uuid.UUID, entityType catalogsync.EntityType) *catalogsync.ImportJob {
	t.Helper()
	job, err := catalogsync.NewStageJob(tenantID, entityType, nil)
	require.NoError(t, err)
	return job
}

func TestInMemoryJobStore_CreateGet(t *testing.T) {
	store := NewInMemoryJobStore(time.Hour)
	defer store.Close()
	ctx := context.Background()

	job := newTestJob(t, uuid.New(), catalogsync.EntityTypeBrand)
	require.NoError(t, store.Create(ctx, job))

	t.Run("duplicate id is rejected", func(t *testing.T) {
		assert.ErrorIs(t, store.Create(ctx, job), catalogsync.ErrJobAlreadyExists)
	})

	t.Run("get returns a snapshot", func(t *testing.T) {
		got, err := store.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, job.ID, got.ID)

		got.Status = catalogsync.JobStatusFailed
		again, err := store.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, catalogsync.JobStatusPending, again.Status)
	})

	t.Run("unknown id", func(t *testing.T) {
		_, err := store.Get(ctx, uuid.New())
		assert.ErrorIs(t, err, catalogsync.ErrJobNotFound)
	})
}

func TestInMemoryJobStore_Update(t *testing.T) {
	store := NewInMemoryJobStore(0)
	defer store.Close()
	ctx := context.Background()

	job := newTestJob(t, uuid.New(), catalogsync.EntityTypeProduct)
	require.NoError(t, store.Create(ctx, job))
	_, err := store.Update(ctx, job.ID, func(j *catalogsync.ImportJob) error { return j.Start() })
	require.NoError(t, err)

	t.Run("concurrent updates are not lost", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := range 200 {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := store.Update(ctx, job.ID, func(j *catalogsync.ImportJob) error {
					if i%10 == 0 {
						j.Record(catalogsync.Failed(catalogsync.EntityTypeProduct, "P", errors.New("boom")))
					} else {
						j.Record(catalogsync.Inserted(catalogsync.EntityTypeProduct, "P"))
					}
					return nil
				})
				assert.NoError(t, err)
			}(i)
		}
		wg.Wait()

		got, err := store.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(200), got.CompletedItems)
		assert.Equal(t, int64(180), got.Inserted)
		assert.Equal(t, int64(20), got.Failed)
		assert.Equal(t, int64(20), got.ErrorCount)
	})

	t.Run("failed update leaves job unchanged", func(t *testing.T) {
		_, err := store.Update(ctx, job.ID, func(j *catalogsync.ImportJob) error {
			j.Inserted = 9999
			return j.Start()
		})
		assert.ErrorIs(t, err, catalogsync.ErrInvalidTransition)

		got, err := store.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(180), got.Inserted)
	})

	t.Run("unknown id", func(t *testing.T) {
		_, err := store.Update(ctx, uuid.New(), func(*catalogsync.ImportJob) error { return nil })
		assert.ErrorIs(t, err, catalogsync.ErrJobNotFound)
	})
}

func TestInMemoryJobStore_List(t *testing.T) {
	store := NewInMemoryJobStore(0)
	defer store.Close()
	ctx := context.Background()

	tenantA, tenantB := uuid.New(), uuid.New()
	base := time.Now()
	for i, spec := range []struct {
		tenant uuid.UUID
		typ    catalogsync.EntityType
	}{
		{tenantA, catalogsync.EntityTypeBrand},
		{tenantA, catalogsync.EntityTypeProduct},
		{tenantB, catalogsync.EntityTypeBrand},
	} {
		job := newTestJob(t, spec.tenant, spec.typ)
		job.CreatedAt = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, store.Create(ctx, job))
	}

	tests := []struct {
		name   string
		filter catalogsync.JobFilter
		want   int
	}{
		{"all", catalogsync.JobFilter{}, 3},
		{"by tenant", catalogsync.JobFilter{TenantID: &tenantA}, 2},
		{"by type", catalogsync.JobFilter{EntityType: catalogsync.EntityTypeBrand}, 2},
		{"by status", catalogsync.JobFilter{Status: catalogsync.JobStatusRunning}, 0},
		{"limit", catalogsync.JobFilter{Limit: 1}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jobs, err := store.List(ctx, tt.filter)
			require.NoError(t, err)
			assert.Len(t, jobs, tt.want)
		})
	}

	t.Run("newest first", func(t *testing.T) {
		jobs, err := store.List(ctx, catalogsync.JobFilter{})
		require.NoError(t, err)
		require.Len(t, jobs, 3)
		assert.Equal(t, tenantB, jobs[0].TenantID)
	})
}

func TestInMemoryJobStore_Cleanup(t *testing.T) {
	store := NewInMemoryJobStore(time.Hour)
	defer store.Close()
	ctx := context.Background()

	finished := newTestJob(t, uuid.New(), catalogsync.EntityTypeBrand)
	require.NoError(t, finished.Start())
	require.NoError(t, finished.Complete(""))
	old := time.Now().Add(-2 * time.Hour)
	finished.FinishedAt = &old
	require.NoError(t, store.Create(ctx, finished))

	running := newTestJob(t, uuid.New(), catalogsync.EntityTypeBrand)
	require.NoError(t, running.Start())
	require.NoError(t, store.Create(ctx, running))

	recent := newTestJob(t, uuid.New(), catalogsync.EntityTypeBrand)
	require.NoError(t, recent.Start())
	require.NoError(t, recent.Fail("boom"))
	require.NoError(t, store.Create(ctx, recent))

	removed := store.cleanup(time.Now())
	assert.Equal(t, 1, removed)
	assert.Equal(t, 2, store.Size())

	_, err := store.Get(ctx, finished.ID)
	assert.ErrorIs(t, err, catalogsync.ErrJobNotFound)
}

func TestInMemoryJobStore_Close(t *testing.T) {
	store := NewInMemoryJobStore(time.Minute)
	assert.NoError(t, store.Close())
	assert.NoError(t, store.Close())
}

func TestJobStoreFactory_CreateStore(t *testing.T) {
	t.Run("memory", func(t *testing.T) {
		f := NewJobStoreFactory(config.RedisConfig{}, time.Hour)
		store, err := f.CreateStore("memory")
		require.NoError(t, err)
		defer store.Close()
		assert.IsType(t, &InMemoryJobStore{}, store)
	})

	t.Run("redis unavailable without fallback", func(t *testing.T) {
		f := NewJobStoreFactory(config.RedisConfig{Host: "127.0.0.1", Port: 1}, time.Hour, WithInMemoryFallback(false))
		_, err := f.CreateStore("redis")
		assert.Error(t, err)
	})

	t.Run("redis unavailable with fallback", func(t *testing.T) {
		f := NewJobStoreFactory(config.RedisConfig{Host: "127.0.0.1", Port: 1}, time.Hour)
		store, err := f.CreateStore("redis")
		require.NoError(t, err)
		defer store.Close()
		assert.IsType(t, &InMemoryJobStore{}, store)
	})
}
