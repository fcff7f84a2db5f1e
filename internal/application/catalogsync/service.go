package catalogsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/erp/catalogsync/internal/domain/catalogsync"
	"github.com/erp/catalogsync/internal/infrastructure/logger"
)

// StartSyncRequest describes a sync to start.
type StartSyncRequest struct {
	TenantID uuid.UUID
	// Target is an entity type or catalogsync.CascadeTarget.
	Target string
	// Force keeps a cascade going past failed stages.
	Force bool
	// Cascade runs Target and every stage after it.
	Cascade bool
}

// EntityStats aggregates retained jobs and stored rows for one entity type.
type EntityStats struct {
	EntityType    catalogsync.EntityType `json:"entity_type"`
	Jobs          int                    `json:"jobs"`
	Running       int                    `json:"running"`
	Completed     int                    `json:"completed"`
	Failed        int                    `json:"failed"`
	Cancelled     int                    `json:"cancelled"`
	Inserted      int64                  `json:"inserted"`
	Updated       int64                  `json:"updated"`
	Unchanged     int64                  `json:"unchanged"`
	Skipped       int64                  `json:"skipped"`
	FailedItems   int64                  `json:"failed_items"`
	LastRunAt     *time.Time             `json:"last_run_at,omitempty"`
	Rows          int64                  `json:"rows"`
	WithoutParent int64                  `json:"without_parent"`
}

// SyncStats is the payload of the stats endpoint.
type SyncStats struct {
	Entities    []EntityStats `json:"entities"`
	RunningJobs int           `json:"running_jobs"`
	GeneratedAt time.Time     `json:"generated_at"`
}

// Service is the entry point used by the HTTP layer, the scheduler and the CLI.
// It owns background job execution and cancellation.
type Service struct {
	orchestrator *Orchestrator
	tracker      *Tracker
	stats        catalogsync.CatalogStats
	logger       *zap.Logger

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup

	mu       sync.Mutex
	cancels  map[uuid.UUID]context.CancelFunc // top-level job id -> cancel
	cascades map[uuid.UUID]uuid.UUID          // tenant id -> running cascade job id
}

// NewService creates a sync service
func NewService(orchestrator *Orchestrator, tracker *Tracker, stats catalogsync.CatalogStats, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		orchestrator: orchestrator,
		tracker:      tracker,
		stats:        stats,
		logger:       log,
		baseCtx:      ctx,
		baseCancel:   cancel,
		cancels:      make(map[uuid.UUID]context.CancelFunc),
		cascades:     make(map[uuid.UUID]uuid.UUID),
	}
}

// StartSync creates a job and runs it in the background. The returned job is
// the pending snapshot; poll GetStatus for progress.
func (s *Service) StartSync(ctx context.Context, req StartSyncRequest) (*catalogsync.ImportJob, error) {
	job, runCtx, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	snapshot := job.Clone()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.execute(runCtx, job); err != nil {
			s.logger.Error("Sync job aborted", zap.String("job_id", job.ID.String()), zap.Error(err))
		}
	}()
	return snapshot, nil
}

// RunSync creates a job and runs it to completion on the caller's goroutine.
// Cancelling ctx cancels the job.
func (s *Service) RunSync(ctx context.Context, req StartSyncRequest) (*catalogsync.ImportJob, error) {
	job, runCtx, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() { s.cancelRun(job.ID) })
	defer stop()
	return s.execute(runCtx, job)
}

// RunCascade runs a full cascade for tenantID and waits for it to finish.
func (s *Service) RunCascade(ctx context.Context, tenantID uuid.UUID, force bool) (*catalogsync.ImportJob, error) {
	return s.RunSync(ctx, StartSyncRequest{TenantID: tenantID, Target: catalogsync.CascadeTarget, Force: force})
}

func (s *Service) prepare(ctx context.Context, req StartSyncRequest) (*catalogsync.ImportJob, context.Context, error) {
	if req.TenantID == uuid.Nil {
		return nil, nil, fmt.Errorf("%w: tenant id is required", catalogsync.ErrInvalidPayload)
	}

	var (
		job *catalogsync.ImportJob
		err error
	)
	if req.Target == catalogsync.CascadeTarget {
		job, err = catalogsync.NewCascadeJob(req.TenantID, catalogsync.EntityTypeBrand, req.Force)
	} else {
		entityType, ok := catalogsync.ParseEntityType(req.Target)
		if !ok {
			return nil, nil, fmt.Errorf("%w: %q", catalogsync.ErrInvalidEntityType, req.Target)
		}
		if req.Cascade {
			job, err = catalogsync.NewCascadeJob(req.TenantID, entityType, req.Force)
		} else {
			job, err = catalogsync.NewStageJob(req.TenantID, entityType, nil)
		}
	}
	if err != nil {
		return nil, nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if job.Kind == catalogsync.JobKindCascade {
		if running, ok := s.cascades[req.TenantID]; ok {
			return nil, nil, fmt.Errorf("%w: job %s", catalogsync.ErrCascadeAlreadyRunning, running)
		}
	}
	if err := s.tracker.Create(ctx, job); err != nil {
		return nil, nil, fmt.Errorf("create job: %w", err)
	}

	runCtx, cancel := context.WithCancel(s.baseCtx)
	runCtx, _ = logger.WithJobID(runCtx, s.logger, job.ID.String())
	s.cancels[job.ID] = cancel
	if job.Kind == catalogsync.JobKindCascade {
		s.cascades[req.TenantID] = job.ID
	}
	return job, runCtx, nil
}

func (s *Service) execute(ctx context.Context, job *catalogsync.ImportJob) (*catalogsync.ImportJob, error) {
	defer s.release(job)
	if job.Kind == catalogsync.JobKindCascade {
		return s.orchestrator.RunCascade(ctx, job)
	}
	return s.orchestrator.RunStage(ctx, job)
}

func (s *Service) release(job *catalogsync.ImportJob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, ok := s.cancels[job.ID]; ok {
		cancel()
		delete(s.cancels, job.ID)
	}
	if s.cascades[job.TenantID] == job.ID {
		delete(s.cascades, job.TenantID)
	}
}

func (s *Service) cancelRun(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cancel, ok := s.cancels[id]
	if ok {
		cancel()
	}
	return ok
}

// GetStatus returns a snapshot of a job
func (s *Service) GetStatus(ctx context.Context, id uuid.UUID) (*catalogsync.ImportJob, error) {
	return s.tracker.GetStatus(ctx, id)
}

// Cancel requests cooperative cancellation. In-flight items drain before the
// job turns cancelled. Cancelling a cascade stage cancels its cascade.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) error {
	job, err := s.tracker.GetStatus(ctx, id)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		return fmt.Errorf("%w: job is already %s", catalogsync.ErrInvalidTransition, job.Status)
	}
	target := id
	if job.ParentJobID != nil {
		target = *job.ParentJobID
	}
	if !s.cancelRun(target) {
		return fmt.Errorf("%w: job %s is not running on this instance", catalogsync.ErrJobNotFound, target)
	}
	s.logger.Info("Sync job cancellation requested", zap.String("job_id", target.String()))
	return nil
}

// List returns retained jobs
func (s *Service) List(ctx context.Context, filter catalogsync.JobFilter) ([]*catalogsync.ImportJob, error) {
	return s.tracker.List(ctx, filter)
}

// IsCascadeRunning reports whether tenantID has a cascade in progress.
func (s *Service) IsCascadeRunning(tenantID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.cascades[tenantID]
	return ok
}

// Stats aggregates retained stage jobs and stored row totals per entity type.
func (s *Service) Stats(ctx context.Context, tenantID *uuid.UUID) (*SyncStats, error) {
	jobs, err := s.tracker.List(ctx, catalogsync.JobFilter{TenantID: tenantID, Kind: catalogsync.JobKindStage})
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}

	byType := make(map[catalogsync.EntityType]*EntityStats)
	order := catalogsync.StageOrder()
	out := &SyncStats{Entities: make([]EntityStats, len(order)), GeneratedAt: time.Now()}
	for i, t := range order {
		out.Entities[i].EntityType = t
		byType[t] = &out.Entities[i]
	}

	for _, job := range jobs {
		es, ok := byType[job.EntityType]
		if !ok {
			continue
		}
		es.Jobs++
		switch job.Status {
		case catalogsync.JobStatusPending, catalogsync.JobStatusRunning:
			es.Running++
			out.RunningJobs++
		case catalogsync.JobStatusCompleted:
			es.Completed++
		case catalogsync.JobStatusFailed:
			es.Failed++
		case catalogsync.JobStatusCancelled:
			es.Cancelled++
		}
		es.Inserted += job.Inserted
		es.Updated += job.Updated
		es.Unchanged += job.Unchanged
		es.Skipped += job.Skipped
		es.FailedItems += job.Failed
		if es.LastRunAt == nil || job.CreatedAt.After(*es.LastRunAt) {
			t := job.CreatedAt
			es.LastRunAt = &t
		}
	}

	if s.stats != nil {
		tables, err := s.stats.TableStats(ctx, tenantID)
		if err != nil {
			return nil, fmt.Errorf("table stats: %w", err)
		}
		for _, ts := range tables {
			if es, ok := byType[ts.EntityType]; ok {
				es.Rows = ts.Rows
				es.WithoutParent = ts.WithoutParent
			}
		}
	}
	return out, nil
}

// Shutdown cancels running jobs and waits for them to record their final state.
func (s *Service) Shutdown(ctx context.Context) error {
	s.baseCancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Join(errors.New("catalogsync: jobs still draining"), ctx.Err())
	}
}
