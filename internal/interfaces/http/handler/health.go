package handler

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/erp/catalogsync/internal/interfaces/http/dto"
)

// Pinger reports whether a dependency is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves liveness and readiness probes
type HealthHandler struct {
	BaseHandler
	version   string
	startTime time.Time
	checks    map[string]Pinger
}

// NewHealthHandler creates a HealthHandler. checks are probed on readiness.
func NewHealthHandler(version string, checks map[string]Pinger) *HealthHandler {
	return &HealthHandler{version: version, startTime: time.Now(), checks: checks}
}

// HealthResponse is the probe body
type HealthResponse struct {
	Status    string            `json:"status" example:"ok"`
	Version   string            `json:"version"`
	GoVersion string            `json:"go_version"`
	Uptime    string            `json:"uptime"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// Live godoc
//
//	@Summary	Liveness probe
//	@Tags		system
//	@Produce	json
//	@Success	200	{object}	APIResponse[HealthResponse]
//	@Router		/health [get]
func (h *HealthHandler) Live(c *gin.Context) {
	h.Success(c, h.base("ok"))
}

// Ready godoc
//
//	@Summary	Readiness probe
//	@Tags		system
//	@Produce	json
//	@Success	200	{object}	APIResponse[HealthResponse]
//	@Failure	503	{object}	APIResponse[HealthResponse]
//	@Router		/ready [get]
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	resp := h.base("ok")
	resp.Checks = make(map[string]string, len(h.checks))
	for name, p := range h.checks {
		if err := p.Ping(ctx); err != nil {
			resp.Status = "degraded"
			resp.Checks[name] = err.Error()
			continue
		}
		resp.Checks[name] = "ok"
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, dto.NewSuccessResponse(resp))
}

func (h *HealthHandler) base(status string) HealthResponse {
	return HealthResponse{
		Status:    status,
		Version:   h.version,
		GoVersion: runtime.Version(),
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
	}
}
