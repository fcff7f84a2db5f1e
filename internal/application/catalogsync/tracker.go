package catalogsync

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/erp/catalogsync/internal/domain/catalogsync"
)

// Tracker owns ImportJob state transitions and counters. Every mutation
// goes through the store's Update so concurrent workers never lose increments.
type Tracker struct {
	store           catalogsync.JobStore
	maxRecentErrors int
	logger          *zap.Logger
}

// NewTracker creates a tracker over store
func NewTracker(store catalogsync.JobStore, maxRecentErrors int, logger *zap.Logger) *Tracker {
	if maxRecentErrors <= 0 {
		maxRecentErrors = catalogsync.DefaultMaxRecentErrors
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{store: store, maxRecentErrors: maxRecentErrors, logger: logger}
}

// Create persists a new pending job
func (t *Tracker) Create(ctx context.Context, job *catalogsync.ImportJob) error {
	job.MaxRecentErrors = t.maxRecentErrors
	return t.store.Create(ctx, job)
}

// Start moves a job to running
func (t *Tracker) Start(ctx context.Context, id uuid.UUID) (*catalogsync.ImportJob, error) {
	return t.store.Update(ctx, id, func(j *catalogsync.ImportJob) error {
		return j.Start()
	})
}

// SetTotal declares the expected item count
func (t *Tracker) SetTotal(ctx context.Context, id uuid.UUID, total int64) error {
	_, err := t.store.Update(ctx, id, func(j *catalogsync.ImportJob) error {
		j.SetTotal(total)
		return nil
	})
	return err
}

// GrowTotal raises the expected item count as a chunk of unknown size is drained
func (t *Tracker) GrowTotal(ctx context.Context, id uuid.UUID, n int64) error {
	_, err := t.store.Update(ctx, id, func(j *catalogsync.ImportJob) error {
		j.AddTotal(n)
		return nil
	})
	return err
}

// Record folds one outcome into the job
func (t *Tracker) Record(ctx context.Context, id uuid.UUID, o catalogsync.Outcome) error {
	_, err := t.store.Update(ctx, id, func(j *catalogsync.ImportJob) error {
		j.Record(o)
		return nil
	})
	return err
}

// AddError records a job-level error message that is not tied to one item
func (t *Tracker) AddError(ctx context.Context, id uuid.UUID, msg string) error {
	_, err := t.store.Update(ctx, id, func(j *catalogsync.ImportJob) error {
		j.AddError(msg)
		return nil
	})
	return err
}

// BeginStage lists a freshly created stage on its cascade as running
func (t *Tracker) BeginStage(ctx context.Context, cascadeID uuid.UUID, stage *catalogsync.ImportJob) error {
	_, err := t.store.Update(ctx, cascadeID, func(j *catalogsync.ImportJob) error {
		j.BeginStage(stage)
		return nil
	})
	return err
}

// RecordInCascade folds one outcome of a running stage into its cascade
func (t *Tracker) RecordInCascade(ctx context.Context, cascadeID, stageID uuid.UUID, o catalogsync.Outcome) error {
	_, err := t.store.Update(ctx, cascadeID, func(j *catalogsync.ImportJob) error {
		j.RecordStage(stageID, o)
		return nil
	})
	return err
}

// FinishStage copies a stage's terminal status onto its cascade summary.
// Counters were already folded in item by item.
func (t *Tracker) FinishStage(ctx context.Context, cascadeID uuid.UUID, stage *catalogsync.ImportJob) error {
	_, err := t.store.Update(ctx, cascadeID, func(j *catalogsync.ImportJob) error {
		j.FinishStage(stage)
		return nil
	})
	return err
}

// Complete marks a running job completed, optionally with a warning
func (t *Tracker) Complete(ctx context.Context, id uuid.UUID, warning string) (*catalogsync.ImportJob, error) {
	job, err := t.store.Update(ctx, id, func(j *catalogsync.ImportJob) error {
		return j.Complete(warning)
	})
	if err == nil {
		t.logFinished(job)
	}
	return job, err
}

// Fail marks a job failed, keeping its last-known counters
func (t *Tracker) Fail(ctx context.Context, id uuid.UUID, reason string) (*catalogsync.ImportJob, error) {
	job, err := t.store.Update(ctx, id, func(j *catalogsync.ImportJob) error {
		return j.Fail(reason)
	})
	if err == nil {
		t.logFinished(job)
	}
	return job, err
}

// Cancel marks a job cancelled
func (t *Tracker) Cancel(ctx context.Context, id uuid.UUID) (*catalogsync.ImportJob, error) {
	job, err := t.store.Update(ctx, id, func(j *catalogsync.ImportJob) error {
		return j.Cancel()
	})
	if err == nil {
		t.logFinished(job)
	}
	return job, err
}

// GetStatus returns a snapshot of the job
func (t *Tracker) GetStatus(ctx context.Context, id uuid.UUID) (*catalogsync.ImportJob, error) {
	return t.store.Get(ctx, id)
}

// List returns retained jobs matching filter
func (t *Tracker) List(ctx context.Context, filter catalogsync.JobFilter) ([]*catalogsync.ImportJob, error) {
	return t.store.List(ctx, filter)
}

func (t *Tracker) logFinished(job *catalogsync.ImportJob) {
	t.logger.Info("Sync job finished",
		zap.String("job_id", job.ID.String()),
		zap.String("kind", string(job.Kind)),
		zap.String("entity_type", job.EntityType.String()),
		zap.String("status", string(job.Status)),
		zap.Int64("total", job.TotalItems),
		zap.Int64("inserted", job.Inserted),
		zap.Int64("updated", job.Updated),
		zap.Int64("unchanged", job.Unchanged),
		zap.Int64("skipped", job.Skipped),
		zap.Int64("failed", job.Failed),
		zap.Int64("error_count", job.ErrorCount),
		zap.Duration("duration", job.Duration()),
	)
}
