package catalogsync

import (
	"fmt"
	"time"

	"github.com/erp/catalogsync/internal/domain/shared"
	"github.com/google/uuid"
)

// DefaultMaxRecentErrors bounds the error messages kept on a job.
const DefaultMaxRecentErrors = 50

// JobStatus represents the lifecycle state of an ImportJob
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsValid checks if the status is valid
func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusPending, JobStatusRunning, JobStatusCompleted,
		JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// IsTerminal returns true if this is a terminal state
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// JobKind distinguishes a single stage from a full cascade.
type JobKind string

const (
	JobKindStage   JobKind = "stage"
	JobKindCascade JobKind = "cascade"
)

// StageResult summarises one stage of a cascade.
type StageResult struct {
	EntityType EntityType `json:"entity_type"`
	JobID      uuid.UUID  `json:"job_id"`
	Status     JobStatus  `json:"status"`
	Succeeded  int64      `json:"succeeded"`
	Failed     int64      `json:"failed"`
	Warning    string     `json:"warning,omitempty"`
}

// ImportJob tracks one invocation of the orchestrator.
type ImportJob struct {
	ID          uuid.UUID  `json:"id"`
	TenantID    uuid.UUID  `json:"tenant_id"`
	Kind        JobKind    `json:"kind"`
	EntityType  EntityType `json:"entity_type"`
	ParentJobID *uuid.UUID `json:"parent_job_id,omitempty"`
	Force       bool       `json:"force"`
	Status      JobStatus  `json:"status"`

	TotalItems     int64 `json:"total_items"`
	CompletedItems int64 `json:"completed_items"`
	Inserted       int64 `json:"inserted"`
	Updated        int64 `json:"updated"`
	Unchanged      int64 `json:"unchanged"`
	Skipped        int64 `json:"skipped"`
	Failed         int64 `json:"failed"`
	MissingParent  int64 `json:"missing_parent"`

	// ErrorCount counts every recorded error, including ones dropped from RecentErrors.
	ErrorCount      int64    `json:"error_count"`
	RecentErrors    []string `json:"recent_errors"`
	MaxRecentErrors int      `json:"max_recent_errors"`

	Warning       string        `json:"warning,omitempty"`
	FailureReason string        `json:"failure_reason,omitempty"`
	Stages        []StageResult `json:"stages,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// NewStageJob creates a pending job for one entity type.
func NewStageJob(tenantID uuid.UUID, entityType EntityType, parent *uuid.UUID) (*ImportJob, error) {
	if !entityType.IsValid() {
		return nil, shared.NewDomainError("INVALID_ENTITY_TYPE", fmt.Sprintf("Invalid entity type: %s", entityType))
	}
	return newJob(tenantID, JobKindStage, entityType, parent), nil
}

// NewCascadeJob creates a pending job that runs every stage from entityType onwards.
func NewCascadeJob(tenantID uuid.UUID, from EntityType, force bool) (*ImportJob, error) {
	if !from.IsValid() {
		return nil, shared.NewDomainError("INVALID_ENTITY_TYPE", fmt.Sprintf("Invalid entity type: %s", from))
	}
	job := newJob(tenantID, JobKindCascade, from, nil)
	job.Force = force
	return job, nil
}

func newJob(tenantID uuid.UUID, kind JobKind, entityType EntityType, parent *uuid.UUID) *ImportJob {
	return &ImportJob{
		ID:              uuid.New(),
		TenantID:        tenantID,
		Kind:            kind,
		EntityType:      entityType,
		ParentJobID:     parent,
		Status:          JobStatusPending,
		RecentErrors:    make([]string, 0),
		MaxRecentErrors: DefaultMaxRecentErrors,
		CreatedAt:       time.Now(),
	}
}

// Start moves a pending job to running
func (j *ImportJob) Start() error {
	if j.Status != JobStatusPending {
		return invalidTransition(j.Status, JobStatusRunning)
	}
	now := time.Now()
	j.Status = JobStatusRunning
	j.StartedAt = &now
	return nil
}

// SetTotal declares the expected item count. It never drops below what has
// already completed.
func (j *ImportJob) SetTotal(total int64) {
	if total < j.CompletedItems {
		total = j.CompletedItems
	}
	j.TotalItems = total
}

// AddTotal grows the expected item count, used when the upstream does not
// report a total up front.
func (j *ImportJob) AddTotal(n int64) {
	if n > 0 {
		j.TotalItems += n
	}
}

// Record folds one item outcome into the counters.
func (j *ImportJob) Record(o Outcome) {
	j.CompletedItems++
	if j.CompletedItems > j.TotalItems {
		j.TotalItems = j.CompletedItems
	}

	switch o.Kind {
	case OutcomeInserted:
		j.Inserted++
	case OutcomeUpdated:
		j.Updated++
	case OutcomeUnchanged:
		j.Unchanged++
	case OutcomeSkipped:
		j.Skipped++
	case OutcomeFailed:
		j.Failed++
		if o.IsMissingDependency() {
			j.MissingParent++
		}
		j.AddError(o.Message())
	}
}

// AddError records an error message, keeping only the most recent ones.
func (j *ImportJob) AddError(msg string) {
	j.ErrorCount++
	limit := j.MaxRecentErrors
	if limit <= 0 {
		limit = DefaultMaxRecentErrors
	}
	j.RecentErrors = append(j.RecentErrors, msg)
	if over := len(j.RecentErrors) - limit; over > 0 {
		j.RecentErrors = append(j.RecentErrors[:0:0], j.RecentErrors[over:]...)
	}
}

// Succeeded returns the number of items whose outcome left the store in sync.
func (j *ImportJob) Succeeded() int64 {
	return j.Inserted + j.Updated + j.Unchanged
}

// FailureRatio is failed items over processed items.
func (j *ImportJob) FailureRatio() float64 {
	if j.CompletedItems == 0 {
		return 0
	}
	return float64(j.Failed) / float64(j.CompletedItems)
}

// BeginStage appends a running summary for a child stage of a cascade.
func (j *ImportJob) BeginStage(stage *ImportJob) {
	j.Stages = append(j.Stages, StageResult{
		EntityType: stage.EntityType,
		JobID:      stage.ID,
		Status:     JobStatusRunning,
	})
}

// RecordStage folds one outcome of a child stage into the cascade counters
// and into that stage's summary, so progress is visible while it runs.
func (j *ImportJob) RecordStage(stageID uuid.UUID, o Outcome) {
	j.Record(o)
	s := j.stageResult(stageID)
	if s == nil {
		return
	}
	switch o.Kind {
	case OutcomeInserted, OutcomeUpdated, OutcomeUnchanged:
		s.Succeeded++
	case OutcomeFailed:
		s.Failed++
	}
}

// FinishStage copies the terminal state of a child stage onto its summary.
func (j *ImportJob) FinishStage(stage *ImportJob) {
	s := j.stageResult(stage.ID)
	if s == nil {
		j.BeginStage(stage)
		s = &j.Stages[len(j.Stages)-1]
	}
	s.Status = stage.Status
	s.Succeeded = stage.Succeeded()
	s.Failed = stage.Failed
	s.Warning = stage.Warning
}

func (j *ImportJob) stageResult(stageID uuid.UUID) *StageResult {
	for i := range j.Stages {
		if j.Stages[i].JobID == stageID {
			return &j.Stages[i]
		}
	}
	return nil
}

// Complete marks a running job as completed. A non-empty warning marks a
// completed-with-warnings stage.
func (j *ImportJob) Complete(warning string) error {
	if j.Status != JobStatusRunning {
		return invalidTransition(j.Status, JobStatusCompleted)
	}
	j.Status = JobStatusCompleted
	j.Warning = warning
	j.finish()
	return nil
}

// Fail marks the job as failed. Counters are kept as last known.
func (j *ImportJob) Fail(reason string) error {
	if j.Status.IsTerminal() {
		return invalidTransition(j.Status, JobStatusFailed)
	}
	j.Status = JobStatusFailed
	j.FailureReason = reason
	j.finish()
	return nil
}

// Cancel marks the job as cancelled.
func (j *ImportJob) Cancel() error {
	if j.Status.IsTerminal() {
		return invalidTransition(j.Status, JobStatusCancelled)
	}
	j.Status = JobStatusCancelled
	j.finish()
	return nil
}

func (j *ImportJob) finish() {
	now := time.Now()
	j.FinishedAt = &now
}

// Duration returns how long the job has been (or was) running.
func (j *ImportJob) Duration() time.Duration {
	if j.StartedAt == nil {
		return 0
	}
	if j.FinishedAt != nil {
		return j.FinishedAt.Sub(*j.StartedAt)
	}
	return time.Since(*j.StartedAt)
}

// Clone returns a deep copy safe to hand to readers.
func (j *ImportJob) Clone() *ImportJob {
	c := *j
	c.RecentErrors = append([]string(nil), j.RecentErrors...)
	c.Stages = append([]StageResult(nil), j.Stages...)
	if j.ParentJobID != nil {
		id := *j.ParentJobID
		c.ParentJobID = &id
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}

func invalidTransition(from, to JobStatus) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
