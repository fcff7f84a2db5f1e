package catalogsync

import (
	"context"
	"iter"

	"github.com/google/uuid"
)

// CatalogSource lists external entities from the upstream platform.
// Implementations yield one error and stop if any page cannot be fetched.
type CatalogSource interface {
	// Count returns the upstream's reported total for a type, or -1 when unknown.
	Count(ctx context.Context, tenantID uuid.UUID, entityType EntityType) (int64, error)
	ListAll(ctx context.Context, tenantID uuid.UUID, entityType EntityType) iter.Seq2[ExternalEntity, error]
}

// ParentLookup resolves a parent external id to the parent's internal id.
// It returns ErrParentNotFound when the parent has not been imported.
type ParentLookup func(ctx context.Context, parentType EntityType, parentExternalID string) (uuid.UUID, error)

// ParentResolver builds a ParentLookup scoped to one stage run.
type ParentResolver interface {
	ForStage(tenantID uuid.UUID) ParentLookup
}

// RecordWriter persists canonical records keyed on external_id.
type RecordWriter interface {
	Write(ctx context.Context, record *CanonicalRecord) (OutcomeKind, error)
}

// JobStore holds ImportJobs. Update applies fn under the entry's lock so
// concurrent counter updates are never lost.
type JobStore interface {
	Create(ctx context.Context, job *ImportJob) error
	Get(ctx context.Context, id uuid.UUID) (*ImportJob, error)
	Update(ctx context.Context, id uuid.UUID, fn func(job *ImportJob) error) (*ImportJob, error)
	List(ctx context.Context, filter JobFilter) ([]*ImportJob, error)
}

// JobFilter narrows a job listing.
type JobFilter struct {
	TenantID   *uuid.UUID
	EntityType EntityType
	Status     JobStatus
	Kind       JobKind
	Limit      int
}

// Matches reports whether a job passes the filter.
func (f JobFilter) Matches(job *ImportJob) bool {
	if f.TenantID != nil && job.TenantID != *f.TenantID {
		return false
	}
	if f.EntityType != "" && job.EntityType != f.EntityType {
		return false
	}
	if f.Status != "" && job.Status != f.Status {
		return false
	}
	if f.Kind != "" && job.Kind != f.Kind {
		return false
	}
	return true
}

// TableStats reports stored rows for one entity type.
type TableStats struct {
	EntityType    EntityType `json:"entity_type"`
	Rows          int64      `json:"rows"`
	WithoutParent int64      `json:"without_parent"`
}

// CatalogStats reads per-table row totals.
type CatalogStats interface {
	TableStats(ctx context.Context, tenantID *uuid.UUID) ([]TableStats, error)
}
