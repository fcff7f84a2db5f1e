package dto

import "net/http"

// Error codes returned in ErrorInfo.Code. All of them share the ERR_ prefix.
const (
	ErrCodeInternal = "ERR_INTERNAL"

	ErrCodeValidation       = "ERR_VALIDATION"
	ErrCodeValidationFormat = "ERR_VALIDATION_FORMAT"

	ErrCodeBadRequest        = "ERR_BAD_REQUEST"
	ErrCodeInvalidInput      = "ERR_INVALID_INPUT"
	ErrCodeInvalidJSON       = "ERR_INVALID_JSON"
	ErrCodeInvalidEntityType = "ERR_INVALID_ENTITY_TYPE"

	ErrCodeNotFound     = "ERR_NOT_FOUND"
	ErrCodeSyncRunning  = "ERR_SYNC_RUNNING"
	ErrCodeInvalidState = "ERR_INVALID_STATE"
)

var statusByCode = map[string]int{
	ErrCodeInternal:          http.StatusInternalServerError,
	ErrCodeValidation:        http.StatusBadRequest,
	ErrCodeValidationFormat:  http.StatusBadRequest,
	ErrCodeBadRequest:        http.StatusBadRequest,
	ErrCodeInvalidInput:      http.StatusBadRequest,
	ErrCodeInvalidJSON:       http.StatusBadRequest,
	ErrCodeInvalidEntityType: http.StatusBadRequest,
	ErrCodeNotFound:          http.StatusNotFound,
	ErrCodeSyncRunning:       http.StatusConflict,
	ErrCodeInvalidState:      http.StatusUnprocessableEntity,
}

// domainCodes translates shared.DomainError codes raised by the domain layer.
var domainCodes = map[string]string{
	"NOT_FOUND":           ErrCodeNotFound,
	"INVALID_INPUT":       ErrCodeInvalidInput,
	"INVALID_STATE":       ErrCodeInvalidState,
	"INVALID_ENTITY_TYPE": ErrCodeInvalidEntityType,
	"VALIDATION_ERROR":    ErrCodeValidation,
}

// GetHTTPStatus returns the status for code, or 500 when code is unknown.
func GetHTTPStatus(code string) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// NormalizeErrorCode maps a domain error code onto an ERR_ code. Codes that
// are already normalized or unknown pass through.
func NormalizeErrorCode(code string) string {
	if mapped, ok := domainCodes[code]; ok {
		return mapped
	}
	return code
}
