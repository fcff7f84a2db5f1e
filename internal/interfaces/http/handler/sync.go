package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	app "github.com/erp/catalogsync/internal/application/catalogsync"
	"github.com/erp/catalogsync/internal/domain/catalogsync"
	"github.com/erp/catalogsync/internal/infrastructure/logger"
	"github.com/erp/catalogsync/internal/interfaces/http/dto"
	"github.com/erp/catalogsync/internal/interfaces/http/middleware"
)

// defaultListLimit caps GET /sync when no limit is given
const defaultListLimit = 50

// SyncService is the part of the sync application service the API uses
type SyncService interface {
	StartSync(ctx context.Context, req app.StartSyncRequest) (*catalogsync.ImportJob, error)
	GetStatus(ctx context.Context, id uuid.UUID) (*catalogsync.ImportJob, error)
	Cancel(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, filter catalogsync.JobFilter) ([]*catalogsync.ImportJob, error)
	Stats(ctx context.Context, tenantID *uuid.UUID) (*app.SyncStats, error)
}

// SyncHandler handles catalog sync HTTP requests
type SyncHandler struct {
	BaseHandler
	service SyncService
}

// NewSyncHandler creates a new SyncHandler
func NewSyncHandler(service SyncService) *SyncHandler {
	return &SyncHandler{service: service}
}

// RegisterRoutes mounts the sync endpoints on rg. The static stats route is
// registered before the job id route.
func (h *SyncHandler) RegisterRoutes(rg *gin.RouterGroup) {
	group := rg.Group("/sync")
	group.GET("", h.ListJobs)
	group.GET("/stats", h.GetStats)
	group.GET("/:jobId", h.GetJob)
	group.POST("/:entityType", h.StartSync)
	group.DELETE("/:jobId", h.CancelJob)
}

// StartSync godoc
//
//	@Summary		Start a catalog sync
//	@Description	Starts a single stage, or a cascade when entityType is "all" or cascade is set
//	@Tags			sync
//	@Accept			json
//	@Produce		json
//	@Param			X-Tenant-ID	header		string					false	"Tenant ID"
//	@Param			entityType	path		string					true	"brand, category, product, sku, image, stock or all"
//	@Param			request		body		dto.StartSyncRequest	false	"Options"
//	@Success		202			{object}	APIResponse[dto.StartSyncResponse]
//	@Failure		400			{object}	ErrorResponse
//	@Failure		409			{object}	ErrorResponse
//	@Router			/sync/{entityType} [post]
func (h *SyncHandler) StartSync(c *gin.Context) {
	var req dto.StartSyncRequest
	// the body is optional
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		h.Error(c, http.StatusBadRequest, dto.ErrCodeInvalidJSON, "Invalid request body: "+err.Error())
		return
	}

	job, err := h.service.StartSync(c.Request.Context(), app.StartSyncRequest{
		TenantID: middleware.GetTenantID(c),
		Target:   c.Param("entityType"),
		Force:    req.Force,
		Cascade:  req.Cascade,
	})
	if err != nil {
		h.handleSyncError(c, err)
		return
	}

	c.Header("Location", strings.TrimSuffix(c.FullPath(), ":entityType")+job.ID.String())
	h.Accepted(c, dto.StartSyncResponse{
		JobID:      job.ID,
		Kind:       string(job.Kind),
		EntityType: job.EntityType.String(),
		Status:     string(job.Status),
	})
}

// GetJob godoc
//
//	@Summary		Get sync job status
//	@Tags			sync
//	@Produce		json
//	@Param			X-Tenant-ID	header		string	false	"Tenant ID"
//	@Param			jobId		path		string	true	"Job ID"
//	@Success		200			{object}	APIResponse[dto.SyncJobResponse]
//	@Failure		400			{object}	ErrorResponse
//	@Failure		404			{object}	ErrorResponse
//	@Router			/sync/{jobId} [get]
func (h *SyncHandler) GetJob(c *gin.Context) {
	job, ok := h.loadJob(c)
	if !ok {
		return
	}
	h.Success(c, dto.ToSyncJobResponse(job))
}

// CancelJob godoc
//
//	@Summary		Cancel a running sync job
//	@Description	Cancellation is cooperative; in-flight items finish first. Cancelling a stage cancels its cascade.
//	@Tags			sync
//	@Produce		json
//	@Param			X-Tenant-ID	header		string	false	"Tenant ID"
//	@Param			jobId		path		string	true	"Job ID"
//	@Success		202			{object}	APIResponse[dto.SyncJobResponse]
//	@Failure		404			{object}	ErrorResponse
//	@Failure		422			{object}	ErrorResponse
//	@Router			/sync/{jobId} [delete]
func (h *SyncHandler) CancelJob(c *gin.Context) {
	job, ok := h.loadJob(c)
	if !ok {
		return
	}
	if err := h.service.Cancel(c.Request.Context(), job.ID); err != nil {
		h.handleSyncError(c, err)
		return
	}
	h.Accepted(c, dto.ToSyncJobResponse(job))
}

// ListJobs godoc
//
//	@Summary		List retained sync jobs
//	@Tags			sync
//	@Produce		json
//	@Param			X-Tenant-ID	header		string	false	"Tenant ID"
//	@Param			entity_type	query		string	false	"Filter by entity type"
//	@Param			status		query		string	false	"Filter by status"
//	@Param			kind		query		string	false	"stage or cascade"
//	@Param			limit		query		int		false	"Max jobs (default 50, max 500)"
//	@Success		200			{object}	APIResponse[[]dto.SyncJobResponse]
//	@Failure		400			{object}	ErrorResponse
//	@Router			/sync [get]
func (h *SyncHandler) ListJobs(c *gin.Context) {
	var req dto.ListSyncJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.Error(c, http.StatusBadRequest, dto.ErrCodeValidation, "Invalid request parameters: "+err.Error())
		return
	}
	if req.Limit == 0 {
		req.Limit = defaultListLimit
	}

	tenantID := middleware.GetTenantID(c)
	filter := catalogsync.JobFilter{
		TenantID:   &tenantID,
		EntityType: catalogsync.EntityType(req.EntityType),
		Status:     catalogsync.JobStatus(req.Status),
		Kind:       catalogsync.JobKind(req.Kind),
		Limit:      req.Limit,
	}
	jobs, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		h.handleSyncError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewListResponse(dto.ToSyncJobResponses(jobs), int64(len(jobs)), req.Limit))
}

// GetStats godoc
//
//	@Summary		Sync statistics
//	@Description	Per entity type outcome totals over retained jobs plus stored row counts
//	@Tags			sync
//	@Produce		json
//	@Param			X-Tenant-ID	header		string	false	"Tenant ID"
//	@Success		200			{object}	APIResponse[dto.SyncStatsResponse]
//	@Router			/sync/stats [get]
func (h *SyncHandler) GetStats(c *gin.Context) {
	tenantID := middleware.GetTenantID(c)
	stats, err := h.service.Stats(c.Request.Context(), &tenantID)
	if err != nil {
		h.handleSyncError(c, err)
		return
	}
	h.Success(c, stats)
}

// loadJob parses :jobId and fetches the job, hiding other tenants' jobs.
func (h *SyncHandler) loadJob(c *gin.Context) (*catalogsync.ImportJob, bool) {
	id, err := uuid.Parse(c.Param("jobId"))
	if err != nil {
		h.Error(c, http.StatusBadRequest, dto.ErrCodeValidationFormat, "Invalid job ID format")
		return nil, false
	}
	job, err := h.service.GetStatus(c.Request.Context(), id)
	if err != nil {
		h.handleSyncError(c, err)
		return nil, false
	}
	if job.TenantID != middleware.GetTenantID(c) {
		h.NotFound(c, "Sync job not found")
		return nil, false
	}
	return job, true
}

func (h *SyncHandler) handleSyncError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, catalogsync.ErrJobNotFound):
		h.NotFound(c, "Sync job not found")
	case errors.Is(err, catalogsync.ErrInvalidEntityType):
		h.ErrorWithCode(c, dto.ErrCodeInvalidEntityType, err.Error())
	case errors.Is(err, catalogsync.ErrInvalidPayload):
		h.ErrorWithCode(c, dto.ErrCodeInvalidInput, err.Error())
	case errors.Is(err, catalogsync.ErrCascadeAlreadyRunning):
		h.ErrorWithCode(c, dto.ErrCodeSyncRunning, err.Error())
	case errors.Is(err, catalogsync.ErrInvalidTransition):
		h.ErrorWithCode(c, dto.ErrCodeInvalidState, err.Error())
	default:
		if h.HandleDomainError(c, err) {
			return
		}
		logger.FromContext(c.Request.Context()).Error("Sync request failed", zap.Error(err))
		h.InternalError(c, "An unexpected error occurred")
	}
}
