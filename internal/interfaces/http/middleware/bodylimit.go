package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/erp/catalogsync/internal/interfaces/http/dto"
)

// BodyLimit rejects request bodies larger than maxBytes
func BodyLimit(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge,
				dto.NewErrorResponseWithRequestID(dto.ErrCodeBadRequest,
					"Request body exceeds maximum allowed size", GetRequestID(c)))
			return
		}
		// chunked bodies carry no length
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}
