package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/erp/catalogsync/internal/domain/catalogsync"
)

// RunStatus represents the status of a scheduled cascade run
type RunStatus string

const (
	RunStatusPending RunStatus = "PENDING"
	RunStatusRunning RunStatus = "RUNNING"
	RunStatusSuccess RunStatus = "SUCCESS"
	RunStatusSkipped RunStatus = "SKIPPED"
	RunStatusFailed  RunStatus = "FAILED"
)

// maxRetryDelay caps the exponential retry backoff
const maxRetryDelay = 30 * time.Minute

// CascadeRun is one scheduled full cascade for a tenant
type CascadeRun struct {
	ID          uuid.UUID
	TenantID    uuid.UUID
	Force       bool
	Status      RunStatus
	Error       string
	SyncJobID   *uuid.UUID
	StartedAt   *time.Time
	CompletedAt *time.Time
	RetryCount  int
	MaxRetries  int
	NextRetryAt *time.Time
}

// NewCascadeRun creates a new run instance
func NewCascadeRun(tenantID uuid.UUID, force bool, maxRetries int) *CascadeRun {
	return &CascadeRun{
		ID:         uuid.New(),
		TenantID:   tenantID,
		Force:      force,
		Status:     RunStatusPending,
		MaxRetries: maxRetries,
	}
}

// Start marks the run as running
func (r *CascadeRun) Start() {
	now := time.Now()
	r.Status = RunStatusRunning
	r.StartedAt = &now
	r.Error = ""
}

// Complete marks the run as successful
func (r *CascadeRun) Complete() {
	now := time.Now()
	r.Status = RunStatusSuccess
	r.CompletedAt = &now
}

// Skip marks the run as skipped because a cascade was already in progress
func (r *CascadeRun) Skip(reason string) {
	now := time.Now()
	r.Status = RunStatusSkipped
	r.CompletedAt = &now
	r.Error = reason
}

// Fail marks the run as failed
func (r *CascadeRun) Fail(err string) {
	now := time.Now()
	r.Status = RunStatusFailed
	r.CompletedAt = &now
	r.Error = err
}

// ShouldRetry returns true if the run should be retried
func (r *CascadeRun) ShouldRetry() bool {
	return r.Status == RunStatusFailed && r.RetryCount < r.MaxRetries
}

// ScheduleRetry schedules the run for retry with exponential backoff
func (r *CascadeRun) ScheduleRetry(baseDelay time.Duration) {
	r.RetryCount++
	r.Status = RunStatusPending
	// baseDelay * 2^(retryCount-1)
	delay := baseDelay * time.Duration(1<<(r.RetryCount-1))
	if delay > maxRetryDelay || delay <= 0 {
		delay = maxRetryDelay
	}
	nextRetry := time.Now().Add(delay)
	r.NextRetryAt = &nextRetry
	r.Error = ""
}

// CascadeRunner runs a full cascade to completion
type CascadeRunner interface {
	RunCascade(ctx context.Context, tenantID uuid.UUID, force bool) (*catalogsync.ImportJob, error)
}

// errSkipped signals a run that found a cascade already in progress
var errSkipped = errors.New("skipped")

// Config holds scheduler configuration
type Config struct {
	Enabled           bool
	MaxConcurrentJobs int
	JobTimeout        time.Duration
	RetryAttempts     int
	RetryDelay        time.Duration
}

// DefaultConfig returns default scheduler configuration
func DefaultConfig() Config {
	return Config{
		Enabled:           true,
		MaxConcurrentJobs: 2,
		JobTimeout:        2 * time.Hour,
		RetryAttempts:     3,
		RetryDelay:        5 * time.Minute,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.MaxConcurrentJobs <= 0 {
		return fmt.Errorf("%w: max concurrent jobs must be positive", ErrInvalidConfig)
	}
	if c.JobTimeout <= 0 {
		return fmt.Errorf("%w: job timeout must be positive", ErrInvalidConfig)
	}
	if c.RetryAttempts < 0 {
		return fmt.Errorf("%w: retry attempts cannot be negative", ErrInvalidConfig)
	}
	return nil
}

// Scheduler runs queued cascade runs on a small worker pool
type Scheduler struct {
	config Config
	runner CascadeRunner
	logger *zap.Logger

	runs      chan *CascadeRun
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool

	// onFinished is called after each attempt; used by tests
	onFinished func(run *CascadeRun)
}

// NewScheduler creates a new scheduler instance
func NewScheduler(config Config, runner CascadeRunner, logger *zap.Logger) (*Scheduler, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		config: config,
		runner: runner,
		logger: logger,
		runs:   make(chan *CascadeRun, 100),
	}, nil
}

// Start starts the scheduler
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	for i := 0; i < s.config.MaxConcurrentJobs; i++ {
		s.wg.Add(1)
		go s.worker(ctx, i)
	}

	s.logger.Info("Cascade scheduler started",
		zap.Int("workers", s.config.MaxConcurrentJobs),
		zap.Duration("job_timeout", s.config.JobTimeout),
	)
	return nil
}

// Stop gracefully stops the scheduler
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Cascade scheduler stopped gracefully")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Cascade scheduler stop timed out")
		return ctx.Err()
	}
}

// IsRunning reports whether the worker pool is up
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}

// Submit queues a run
func (s *Scheduler) Submit(run *CascadeRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isRunning {
		return ErrSchedulerNotRunning
	}

	select {
	case s.runs <- run:
		s.logger.Debug("Cascade run submitted",
			zap.String("run_id", run.ID.String()),
			zap.String("tenant_id", run.TenantID.String()),
		)
		return nil
	default:
		return ErrRunQueueFull
	}
}

// ScheduleTenant queues a full cascade for one tenant
func (s *Scheduler) ScheduleTenant(tenantID uuid.UUID, force bool) error {
	return s.Submit(NewCascadeRun(tenantID, force, s.config.RetryAttempts))
}

func (s *Scheduler) worker(ctx context.Context, workerID int) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case run := <-s.runs:
			s.process(ctx, run, workerID)
		}
	}
}

func (s *Scheduler) process(ctx context.Context, run *CascadeRun, workerID int) {
	if run.NextRetryAt != nil {
		if wait := time.Until(*run.NextRetryAt); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
	}

	run.Start()
	log := s.logger.With(
		zap.Int("worker_id", workerID),
		zap.String("run_id", run.ID.String()),
		zap.String("tenant_id", run.TenantID.String()),
		zap.Int("retry_count", run.RetryCount),
	)
	log.Info("Processing scheduled cascade")

	runCtx, cancel := context.WithTimeout(ctx, s.config.JobTimeout)
	err := s.execute(runCtx, run)
	cancel()

	switch {
	case err == nil:
		run.Complete()
		log.Info("Scheduled cascade completed")
	case errors.Is(err, errSkipped):
		run.Skip(err.Error())
		log.Info("Scheduled cascade skipped, tenant already syncing")
	default:
		run.Fail(err.Error())
		log.Error("Scheduled cascade failed", zap.Error(err))
		if ctx.Err() == nil && run.ShouldRetry() {
			run.ScheduleRetry(s.config.RetryDelay)
			log.Info("Scheduled cascade queued for retry", zap.Timep("next_retry_at", run.NextRetryAt))
			if s.onFinished != nil {
				s.onFinished(run)
			}
			// requeue off the worker so a full queue never blocks it
			go func() {
				if err := s.Submit(run); err != nil {
					log.Warn("Failed to re-queue cascade for retry", zap.Error(err))
				}
			}()
			return
		}
	}
	if s.onFinished != nil {
		s.onFinished(run)
	}
}

func (s *Scheduler) execute(ctx context.Context, run *CascadeRun) error {
	job, err := s.runner.RunCascade(ctx, run.TenantID, run.Force)
	if errors.Is(err, catalogsync.ErrCascadeAlreadyRunning) {
		return fmt.Errorf("%w: %v", errSkipped, err)
	}
	if err != nil {
		return err
	}
	run.SyncJobID = &job.ID
	if job.Status != catalogsync.JobStatusCompleted {
		return fmt.Errorf("%w: job %s is %s: %s", ErrCascadeFailed, job.ID, job.Status, job.FailureReason)
	}
	return nil
}
