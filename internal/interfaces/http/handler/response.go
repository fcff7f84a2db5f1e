package handler

import "github.com/erp/catalogsync/internal/interfaces/http/dto"

// APIResponse is dto.Response with a typed payload. Handlers write
// dto.Response; this type exists for API docs and for decoding in clients.
type APIResponse[T any] struct {
	Success bool           `json:"success"`
	Data    T              `json:"data,omitempty"`
	Error   *dto.ErrorInfo `json:"error,omitempty"`
	Meta    *dto.Meta      `json:"meta,omitempty"`
}

// ErrorResponse is the body of every non-2xx sync API reply.
type ErrorResponse struct {
	Success bool           `json:"success" example:"false"`
	Error   *dto.ErrorInfo `json:"error"`
}
