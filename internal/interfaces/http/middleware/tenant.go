package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/erp/catalogsync/internal/infrastructure/logger"
	"github.com/erp/catalogsync/internal/interfaces/http/dto"
)

const (
	// TenantIDKey is the gin context key holding the parsed tenant uuid.UUID
	TenantIDKey     = "tenant_id"
	TenantHeaderKey = "X-Tenant-ID"
)

// TenantConfig holds configuration for tenant middleware
type TenantConfig struct {
	// DefaultTenantID is used when the header is absent. uuid.Nil makes the header mandatory.
	DefaultTenantID uuid.UUID
	// SkipPaths are paths that don't require tenant context
	SkipPaths []string
}

// Tenant resolves the tenant from the X-Tenant-ID header, falling back to
// the configured default, and stores it in the gin and request contexts.
func Tenant(cfg TenantConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		for _, skip := range cfg.SkipPaths {
			if path == skip || strings.HasPrefix(path, skip+"/") {
				c.Next()
				return
			}
		}

		tenantID := cfg.DefaultTenantID
		if header := c.GetHeader(TenantHeaderKey); header != "" {
			parsed, err := uuid.Parse(header)
			if err != nil || parsed == uuid.Nil {
				c.AbortWithStatusJSON(http.StatusBadRequest, dto.NewErrorResponseWithRequestID(
					dto.ErrCodeValidationFormat, "Invalid tenant ID format", GetRequestID(c)))
				return
			}
			tenantID = parsed
		}
		if tenantID == uuid.Nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, dto.NewErrorResponseWithRequestID(
				dto.ErrCodeValidation, "Tenant identification required", GetRequestID(c)))
			return
		}

		c.Set(TenantIDKey, tenantID)
		ctx := c.Request.Context()
		ctx, _ = logger.WithTenantID(ctx, logger.FromContext(ctx), tenantID.String())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// GetTenantID returns the tenant set by Tenant, or uuid.Nil
func GetTenantID(c *gin.Context) uuid.UUID {
	if v, ok := c.Get(TenantIDKey); ok {
		if id, ok := v.(uuid.UUID); ok {
			return id
		}
	}
	return uuid.Nil
}
