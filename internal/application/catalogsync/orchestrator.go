package catalogsync

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/erp/catalogsync/internal/domain/catalogsync"
	"github.com/erp/catalogsync/internal/infrastructure/telemetry"
)

const (
	DefaultChunkSize        = 200
	DefaultFailureThreshold = 0.1
)

// Metrics receives pipeline measurements. Implementations must be safe for
// concurrent use.
type Metrics interface {
	RecordOutcome(ctx context.Context, entityType catalogsync.EntityType, kind catalogsync.OutcomeKind)
	RecordStage(ctx context.Context, entityType catalogsync.EntityType, status catalogsync.JobStatus, d time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) RecordOutcome(context.Context, catalogsync.EntityType, catalogsync.OutcomeKind) {}
func (noopMetrics) RecordStage(context.Context, catalogsync.EntityType, catalogsync.JobStatus, time.Duration) {
}

// OrchestratorConfig holds stage execution settings
type OrchestratorConfig struct {
	ChunkSize int
	// FailureThreshold is the failure ratio a stage may reach and still complete.
	FailureThreshold float64
}

// OrchestratorOption configures an Orchestrator
type OrchestratorOption func(*Orchestrator)

// WithMetrics sets the metrics sink
func WithMetrics(m Metrics) OrchestratorOption {
	return func(o *Orchestrator) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithOrchestratorLogger sets the logger
func WithOrchestratorLogger(l *zap.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// Orchestrator runs stages: it drains the source in chunks, hands each chunk
// to the controller and folds per-item outcomes into the stage job.
type Orchestrator struct {
	source     catalogsync.CatalogSource
	normalizer *Normalizer
	writer     catalogsync.RecordWriter
	resolver   catalogsync.ParentResolver
	controller *Controller
	tracker    *Tracker
	cfg        OrchestratorConfig
	metrics    Metrics
	logger     *zap.Logger
}

// NewOrchestrator creates an orchestrator
func NewOrchestrator(
	source catalogsync.CatalogSource,
	normalizer *Normalizer,
	writer catalogsync.RecordWriter,
	resolver catalogsync.ParentResolver,
	controller *Controller,
	tracker *Tracker,
	cfg OrchestratorConfig,
	opts ...OrchestratorOption,
) *Orchestrator {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.FailureThreshold < 0 || cfg.FailureThreshold > 1 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	o := &Orchestrator{
		source:     source,
		normalizer: normalizer,
		writer:     writer,
		resolver:   resolver,
		controller: controller,
		tracker:    tracker,
		cfg:        cfg,
		metrics:    noopMetrics{},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RunStage executes a pending stage job to a terminal state and returns the
// final snapshot. The verdict lives on the job; the error is non-nil only
// when the job store itself could not be updated.
func (o *Orchestrator) RunStage(ctx context.Context, job *catalogsync.ImportJob) (*catalogsync.ImportJob, error) {
	ctx, span := telemetry.StartJobSpan(ctx, job)
	final, err := o.runStage(ctx, job)
	telemetry.EndJobSpan(span, final, err)
	return final, err
}

func (o *Orchestrator) runStage(ctx context.Context, job *catalogsync.ImportJob) (*catalogsync.ImportJob, error) {
	// Job bookkeeping must survive cancellation so the terminal state is recorded.
	bg := context.WithoutCancel(ctx)
	log := o.logger.With(
		zap.String("job_id", job.ID.String()),
		zap.String("tenant_id", job.TenantID.String()),
		zap.String("entity_type", job.EntityType.String()),
	)

	if _, err := o.tracker.Start(bg, job.ID); err != nil {
		return nil, fmt.Errorf("start stage %s: %w", job.EntityType, err)
	}
	started := time.Now()
	log.Info("Stage started")

	knownTotal := false
	if n, err := o.source.Count(ctx, job.TenantID, job.EntityType); err != nil {
		log.Warn("Failed to read upstream total, progress will grow with the stream", zap.Error(err))
	} else if n >= 0 {
		knownTotal = true
		if err := o.tracker.SetTotal(bg, job.ID, n); err != nil {
			return o.failStage(bg, job, started, "job store: "+err.Error())
		}
		if err := o.growCascadeTotal(bg, job, n); err != nil {
			return o.failStage(bg, job, started, "job store: "+err.Error())
		}
	}

	lookup := o.resolver.ForStage(job.TenantID)
	next, stop := iter.Pull2(o.source.ListAll(ctx, job.TenantID, job.EntityType))
	defer stop()

	var (
		storeErrMu sync.Mutex
		storeErr   error
	)
	process := func(itemCtx context.Context, e catalogsync.ExternalEntity) {
		outcome := o.processItem(itemCtx, job.TenantID, e, lookup)
		o.metrics.RecordOutcome(itemCtx, job.EntityType, outcome.Kind)
		if outcome.Kind == catalogsync.OutcomeFailed {
			log.Debug("Item failed", zap.String("external_id", e.ExternalID), zap.Error(outcome.Err))
		}
		for _, w := range outcome.Warnings {
			log.Debug("Item coerced", zap.String("external_id", e.ExternalID), zap.String("warning", w.String()))
		}
		// The item context may already be past its deadline; the outcome must still land.
		if err := o.record(bg, job, outcome); err != nil {
			storeErrMu.Lock()
			if storeErr == nil {
				storeErr = err
			}
			storeErrMu.Unlock()
		}
	}

	for {
		if ctx.Err() != nil {
			return o.cancelStage(bg, job, started)
		}

		chunk, fetchErr, exhausted := pullChunk(next, o.cfg.ChunkSize)
		if fetchErr != nil && ctx.Err() != nil {
			// the paginator surfaced our own cancellation
			fetchErr = nil
		}

		if len(chunk) > 0 {
			if !knownTotal {
				n := int64(len(chunk))
				if err := o.tracker.GrowTotal(bg, job.ID, n); err != nil {
					return o.failStage(bg, job, started, "job store: "+err.Error())
				}
				if err := o.growCascadeTotal(bg, job, n); err != nil {
					return o.failStage(bg, job, started, "job store: "+err.Error())
				}
			}
			if _, err := Run(ctx, o.controller, chunk, process); err != nil {
				log.Info("Stage dispatch stopped", zap.Error(err))
			}
		}

		storeErrMu.Lock()
		serr := storeErr
		storeErrMu.Unlock()
		if serr != nil {
			return o.failStage(bg, job, started, "job store: "+serr.Error())
		}
		if fetchErr != nil {
			log.Error("Upstream fetch failed", zap.Error(fetchErr))
			return o.failStage(bg, job, started, fetchErr.Error())
		}
		if ctx.Err() != nil {
			return o.cancelStage(bg, job, started)
		}
		if exhausted {
			break
		}
	}

	snapshot, err := o.tracker.GetStatus(bg, job.ID)
	if err != nil {
		return nil, fmt.Errorf("read stage %s: %w", job.EntityType, err)
	}
	failed, message := o.verdict(snapshot)
	if failed {
		return o.failStage(bg, job, started, message)
	}
	final, err := o.tracker.Complete(bg, job.ID, message)
	if err != nil {
		return nil, fmt.Errorf("complete stage %s: %w", job.EntityType, err)
	}
	o.metrics.RecordStage(bg, job.EntityType, final.Status, time.Since(started))
	return final, nil
}

// record folds an outcome into the stage and, for a cascade stage, into the
// cascade so its status shows progress while the stage runs.
func (o *Orchestrator) record(ctx context.Context, job *catalogsync.ImportJob, outcome catalogsync.Outcome) error {
	if err := o.tracker.Record(ctx, job.ID, outcome); err != nil {
		return err
	}
	if job.ParentJobID == nil {
		return nil
	}
	return o.tracker.RecordInCascade(ctx, *job.ParentJobID, job.ID, outcome)
}

func (o *Orchestrator) growCascadeTotal(ctx context.Context, job *catalogsync.ImportJob, n int64) error {
	if job.ParentJobID == nil || n <= 0 {
		return nil
	}
	return o.tracker.GrowTotal(ctx, *job.ParentJobID, n)
}

// verdict decides the stage outcome from its counters. A non-empty message
// with failed=false is a completed-with-warnings stage.
func (o *Orchestrator) verdict(job *catalogsync.ImportJob) (failed bool, message string) {
	if job.Failed == 0 {
		return false, ""
	}
	if job.Succeeded() == 0 && job.Failed == job.MissingParent {
		return true, fmt.Sprintf("all %d items reference parents that are not imported", job.Failed)
	}
	ratio := job.FailureRatio()
	if ratio > o.cfg.FailureThreshold {
		return true, fmt.Sprintf("%d of %d items failed (%.1f%% exceeds threshold %.1f%%)",
			job.Failed, job.CompletedItems, ratio*100, o.cfg.FailureThreshold*100)
	}
	return false, fmt.Sprintf("%d of %d items failed", job.Failed, job.CompletedItems)
}

func (o *Orchestrator) failStage(ctx context.Context, job *catalogsync.ImportJob, started time.Time, reason string) (*catalogsync.ImportJob, error) {
	final, err := o.tracker.Fail(ctx, job.ID, reason)
	if err != nil {
		return nil, fmt.Errorf("fail stage %s: %w", job.EntityType, err)
	}
	o.metrics.RecordStage(ctx, job.EntityType, final.Status, time.Since(started))
	return final, nil
}

func (o *Orchestrator) cancelStage(ctx context.Context, job *catalogsync.ImportJob, started time.Time) (*catalogsync.ImportJob, error) {
	final, err := o.tracker.Cancel(ctx, job.ID)
	if err != nil {
		return nil, fmt.Errorf("cancel stage %s: %w", job.EntityType, err)
	}
	o.metrics.RecordStage(ctx, job.EntityType, final.Status, time.Since(started))
	return final, nil
}

// pullChunk reads up to size entities. exhausted is true once the stream ended
// or failed.
func pullChunk(next func() (catalogsync.ExternalEntity, error, bool), size int) (chunk []catalogsync.ExternalEntity, fetchErr error, exhausted bool) {
	chunk = make([]catalogsync.ExternalEntity, 0, size)
	for len(chunk) < size {
		e, err, ok := next()
		if !ok {
			return chunk, nil, true
		}
		if err != nil {
			return chunk, err, true
		}
		chunk = append(chunk, e)
	}
	return chunk, nil, false
}

// processItem normalizes and writes one entity. It never returns an error:
// every failure becomes a failed outcome so siblings are unaffected.
func (o *Orchestrator) processItem(ctx context.Context, tenantID uuid.UUID, e catalogsync.ExternalEntity, lookup catalogsync.ParentLookup) catalogsync.Outcome {
	record, warnings, err := o.normalizer.Normalize(ctx, tenantID, e, lookup)
	if errors.Is(err, ErrTombstone) {
		return catalogsync.Skipped(e.EntityType, e.ExternalID, ErrTombstone.Error())
	}
	if err != nil {
		out := catalogsync.Failed(e.EntityType, e.ExternalID, err)
		out.Warnings = warnings
		return out
	}

	kind, err := o.writer.Write(ctx, record)
	if err != nil {
		out := catalogsync.Failed(e.EntityType, e.ExternalID, err)
		out.Warnings = warnings
		return out
	}
	return catalogsync.Outcome{Kind: kind, EntityType: e.EntityType, ExternalID: e.ExternalID, Warnings: warnings}
}

// RunCascade runs every stage from the cascade's entity type onwards in
// dependency order. A failed stage halts the cascade unless it was forced.
func (o *Orchestrator) RunCascade(ctx context.Context, cascade *catalogsync.ImportJob) (*catalogsync.ImportJob, error) {
	ctx, span := telemetry.StartJobSpan(ctx, cascade)
	final, err := o.runCascade(ctx, cascade)
	telemetry.EndJobSpan(span, final, err)
	return final, err
}

func (o *Orchestrator) runCascade(ctx context.Context, cascade *catalogsync.ImportJob) (*catalogsync.ImportJob, error) {
	bg := context.WithoutCancel(ctx)
	log := o.logger.With(
		zap.String("job_id", cascade.ID.String()),
		zap.String("tenant_id", cascade.TenantID.String()),
		zap.Bool("force", cascade.Force),
	)

	if _, err := o.tracker.Start(bg, cascade.ID); err != nil {
		return nil, fmt.Errorf("start cascade: %w", err)
	}
	log.Info("Cascade started", zap.String("from", cascade.EntityType.String()))

	var degraded []string
	for _, entityType := range catalogsync.StagesFrom(cascade.EntityType) {
		if ctx.Err() != nil {
			return o.tracker.Cancel(bg, cascade.ID)
		}

		stage, err := catalogsync.NewStageJob(cascade.TenantID, entityType, &cascade.ID)
		if err != nil {
			return nil, err
		}
		if err := o.tracker.Create(bg, stage); err != nil {
			return o.tracker.Fail(bg, cascade.ID, fmt.Sprintf("create %s stage: %v", entityType, err))
		}
		if err := o.tracker.BeginStage(bg, cascade.ID, stage); err != nil {
			return nil, fmt.Errorf("record %s stage: %w", entityType, err)
		}

		result, err := o.RunStage(ctx, stage)
		if err != nil {
			return o.tracker.Fail(bg, cascade.ID, err.Error())
		}
		if err := o.tracker.FinishStage(bg, cascade.ID, result); err != nil {
			return nil, fmt.Errorf("record %s stage: %w", entityType, err)
		}

		switch result.Status {
		case catalogsync.JobStatusCancelled:
			return o.tracker.Cancel(bg, cascade.ID)
		case catalogsync.JobStatusFailed:
			if !cascade.Force {
				log.Warn("Cascade halted", zap.String("stage", entityType.String()), zap.String("reason", result.FailureReason))
				return o.tracker.Fail(bg, cascade.ID,
					fmt.Sprintf("%v at %s: %s", catalogsync.ErrStageHalted, entityType, result.FailureReason))
			}
			log.Warn("Stage failed, continuing because force is set", zap.String("stage", entityType.String()))
			degraded = append(degraded, entityType.String()+" failed")
		case catalogsync.JobStatusCompleted:
			if result.Warning != "" {
				degraded = append(degraded, entityType.String()+": "+result.Warning)
			}
		}
	}

	return o.tracker.Complete(bg, cascade.ID, strings.Join(degraded, "; "))
}
