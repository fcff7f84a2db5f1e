package dto

import (
	"time"

	"github.com/google/uuid"

	"github.com/erp/catalogsync/internal/application/catalogsync"
	domain "github.com/erp/catalogsync/internal/domain/catalogsync"
)

// StartSyncRequest is the optional body of POST /sync/{entityType}
type StartSyncRequest struct {
	Force   bool `json:"force"`
	Cascade bool `json:"cascade"`
}

// StartSyncResponse is returned with 202 Accepted
type StartSyncResponse struct {
	JobID      uuid.UUID `json:"jobId"`
	Kind       string    `json:"kind"`
	EntityType string    `json:"entityType"`
	Status     string    `json:"status"`
}

// ListSyncJobsRequest filters GET /sync
type ListSyncJobsRequest struct {
	EntityType string `form:"entity_type" binding:"omitempty,oneof=brand category product sku image stock"`
	Status     string `form:"status" binding:"omitempty,oneof=pending running completed failed cancelled"`
	Kind       string `form:"kind" binding:"omitempty,oneof=stage cascade"`
	Limit      int    `form:"limit" binding:"omitempty,min=1,max=500"`
}

// StageResultResponse summarises one stage of a cascade
type StageResultResponse struct {
	EntityType string    `json:"entityType"`
	JobID      uuid.UUID `json:"jobId"`
	Status     string    `json:"status"`
	Succeeded  int64     `json:"succeeded"`
	Failed     int64     `json:"failed"`
	Warning    string    `json:"warning,omitempty"`
}

// SyncJobResponse is the polled job status
type SyncJobResponse struct {
	JobID          uuid.UUID             `json:"jobId"`
	TenantID       uuid.UUID             `json:"tenantId"`
	Kind           string                `json:"kind"`
	EntityType     string                `json:"entityType"`
	ParentJobID    *uuid.UUID            `json:"parentJobId,omitempty"`
	Force          bool                  `json:"force"`
	Status         string                `json:"status"`
	TotalItems     int64                 `json:"totalItems"`
	CompletedItems int64                 `json:"completedItems"`
	Inserted       int64                 `json:"inserted"`
	Updated        int64                 `json:"updated"`
	Unchanged      int64                 `json:"unchanged"`
	Skipped        int64                 `json:"skipped"`
	Failed         int64                 `json:"failed"`
	ErrorCount     int64                 `json:"errorCount"`
	RecentErrors   []string              `json:"recentErrors"`
	Warning        string                `json:"warning,omitempty"`
	FailureReason  string                `json:"failureReason,omitempty"`
	Stages         []StageResultResponse `json:"stages,omitempty"`
	CreatedAt      time.Time             `json:"createdAt"`
	StartedAt      *time.Time            `json:"startedAt,omitempty"`
	FinishedAt     *time.Time            `json:"finishedAt,omitempty"`
}

// ToSyncJobResponse converts a job snapshot
func ToSyncJobResponse(job *domain.ImportJob) SyncJobResponse {
	resp := SyncJobResponse{
		JobID:          job.ID,
		TenantID:       job.TenantID,
		Kind:           string(job.Kind),
		EntityType:     job.EntityType.String(),
		ParentJobID:    job.ParentJobID,
		Force:          job.Force,
		Status:         string(job.Status),
		TotalItems:     job.TotalItems,
		CompletedItems: job.CompletedItems,
		Inserted:       job.Inserted,
		Updated:        job.Updated,
		Unchanged:      job.Unchanged,
		Skipped:        job.Skipped,
		Failed:         job.Failed,
		ErrorCount:     job.ErrorCount,
		RecentErrors:   job.RecentErrors,
		Warning:        job.Warning,
		FailureReason:  job.FailureReason,
		CreatedAt:      job.CreatedAt,
		StartedAt:      job.StartedAt,
		FinishedAt:     job.FinishedAt,
	}
	if resp.RecentErrors == nil {
		resp.RecentErrors = []string{}
	}
	for _, s := range job.Stages {
		resp.Stages = append(resp.Stages, StageResultResponse{
			EntityType: s.EntityType.String(),
			JobID:      s.JobID,
			Status:     string(s.Status),
			Succeeded:  s.Succeeded,
			Failed:     s.Failed,
			Warning:    s.Warning,
		})
	}
	return resp
}

// ToSyncJobResponses converts a list of job snapshots
func ToSyncJobResponses(jobs []*domain.ImportJob) []SyncJobResponse {
	out := make([]SyncJobResponse, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, ToSyncJobResponse(job))
	}
	return out
}

// SyncStatsResponse is the body of GET /sync/stats
type SyncStatsResponse = catalogsync.SyncStats
