package persistence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/erp/catalogsync/internal/domain/catalogsync"
	"github.com/erp/catalogsync/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"github.com/graph-gophers/dataloader"
	"gorm.io/gorm"
)

// ParentResolver resolves parent external ids to internal ids. Each stage
// run gets its own batching loaders, so concurrent workers asking for
// parents within the wait window share one IN query, and repeated parents
// are served from the stage's cache.
type ParentResolver struct {
	db        *gorm.DB
	wait      time.Duration
	batchSize int
}

var _ catalogsync.ParentResolver = (*ParentResolver)(nil)

// ParentResolverOption configures a ParentResolver
type ParentResolverOption func(*ParentResolver)

// WithBatchWait sets how long a loader collects keys before querying
func WithBatchWait(d time.Duration) ParentResolverOption {
	return func(r *ParentResolver) {
		r.wait = d
	}
}

// WithMaxBatch caps the number of keys per IN query
func WithMaxBatch(n int) ParentResolverOption {
	return func(r *ParentResolver) {
		r.batchSize = n
	}
}

// NewParentResolver creates a parent resolver
func NewParentResolver(db *gorm.DB, opts ...ParentResolverOption) *ParentResolver {
	r := &ParentResolver{
		db:        db,
		wait:      5 * time.Millisecond,
		batchSize: 500,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ForStage returns a lookup whose loaders live for one stage run.
func (r *ParentResolver) ForStage(tenantID uuid.UUID) catalogsync.ParentLookup {
	var (
		mu      sync.Mutex
		loaders = make(map[catalogsync.EntityType]*dataloader.Loader)
	)
	loaderFor := func(t catalogsync.EntityType) (*dataloader.Loader, error) {
		mu.Lock()
		defer mu.Unlock()
		if l, ok := loaders[t]; ok {
			return l, nil
		}
		table, err := models.TableFor(t)
		if err != nil {
			return nil, err
		}
		l := dataloader.NewBatchedLoader(
			r.batchFn(tenantID, table),
			dataloader.WithWait(r.wait),
			dataloader.WithBatchCapacity(r.batchSize),
		)
		loaders[t] = l
		return l, nil
	}

	return func(ctx context.Context, parentType catalogsync.EntityType, parentExternalID string) (uuid.UUID, error) {
		loader, err := loaderFor(parentType)
		if err != nil {
			return uuid.Nil, err
		}
		key := dataloader.StringKey(parentExternalID)
		data, err := loader.Load(ctx, key)()
		if err != nil {
			// only a confirmed absence stays cached; a failed query is retried by the next caller
			if !errors.Is(err, catalogsync.ErrParentNotFound) {
				loader.Clear(ctx, key)
			}
			return uuid.Nil, err
		}
		return data.(uuid.UUID), nil
	}
}

type idRow struct {
	ID         uuid.UUID
	ExternalID string
}

func (r *ParentResolver) batchFn(tenantID uuid.UUID, table string) dataloader.BatchFunc {
	return func(ctx context.Context, keys dataloader.Keys) []*dataloader.Result {
		externalIDs := keys.Keys()

		var rows []idRow
		err := r.db.WithContext(ctx).
			Table(table).
			Select("id", "external_id").
			Where("tenant_id = ? AND external_id IN ?", tenantID, externalIDs).
			Find(&rows).Error

		results := make([]*dataloader.Result, len(keys))
		if err != nil {
			for i := range results {
				results[i] = &dataloader.Result{Error: fmt.Errorf("resolve parents in %s: %w", table, err)}
			}
			return results
		}

		byExternal := make(map[string]uuid.UUID, len(rows))
		for _, row := range rows {
			byExternal[row.ExternalID] = row.ID
		}
		for i, key := range externalIDs {
			if id, ok := byExternal[key]; ok {
				results[i] = &dataloader.Result{Data: id}
			} else {
				results[i] = &dataloader.Result{Error: catalogsync.ErrParentNotFound}
			}
		}
		return results
	}
}
