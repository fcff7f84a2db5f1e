package catalogsync

import (
	"errors"
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Catalog sync errors
// ---------------------------------------------------------------------------

var (
	// Fetch errors
	ErrTransientFetch = errors.New("catalogsync: transient fetch error")
	ErrPermanentFetch = errors.New("catalogsync: permanent fetch error")
	ErrInvalidPayload = errors.New("catalogsync: invalid upstream payload")

	// Item errors
	ErrMissingDependency = errors.New("catalogsync: missing parent")
	ErrValidation        = errors.New("catalogsync: validation failed")
	ErrWriteConflict     = errors.New("catalogsync: write conflict on natural key")
	ErrParentNotFound    = errors.New("catalogsync: parent not found")

	// Job errors
	ErrJobNotFound           = errors.New("catalogsync: job not found")
	ErrJobAlreadyExists      = errors.New("catalogsync: job already exists")
	ErrInvalidTransition     = errors.New("catalogsync: invalid job status transition")
	ErrInvalidEntityType     = errors.New("catalogsync: invalid entity type")
	ErrStageHalted           = errors.New("catalogsync: cascade halted by failed stage")
	ErrCascadeAlreadyRunning = errors.New("catalogsync: cascade already running for tenant")
)

// FetchErrorKind classifies an upstream failure.
type FetchErrorKind string

const (
	FetchErrorTransient FetchErrorKind = "transient"
	FetchErrorPermanent FetchErrorKind = "permanent"
)

// FetchError is returned by the upstream client once retries are exhausted
// or when the request can never succeed.
type FetchError struct {
	Kind       FetchErrorKind
	Path       string
	StatusCode int
	Attempts   int
	Err        error
}

func (e *FetchError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "catalogsync: %s fetch error on %s", e.Kind, e.Path)
	if e.StatusCode > 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Attempts > 1 {
		fmt.Fprintf(&b, " after %d attempts", e.Attempts)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *FetchError) Unwrap() error { return e.Err }

// Is matches the kind sentinel so callers can use errors.Is(err, ErrTransientFetch).
func (e *FetchError) Is(target error) bool {
	switch target {
	case ErrTransientFetch:
		return e.Kind == FetchErrorTransient
	case ErrPermanentFetch:
		return e.Kind == FetchErrorPermanent
	}
	return false
}

// IsTransient reports whether the failure may succeed on a later attempt.
func (e *FetchError) IsTransient() bool {
	return e.Kind == FetchErrorTransient
}

// MissingDependencyError reports a required parent that has not been imported yet.
type MissingDependencyError struct {
	EntityType       EntityType
	ExternalID       string
	ParentType       EntityType
	ParentExternalID string
}

func (e *MissingDependencyError) Error() string {
	return fmt.Sprintf("missing parent: %s %q referenced by %s %q not imported",
		e.ParentType, e.ParentExternalID, e.EntityType, e.ExternalID)
}

func (e *MissingDependencyError) Is(target error) bool {
	return target == ErrMissingDependency
}

// ValidationError reports a required field that is absent or unusable.
type ValidationError struct {
	EntityType EntityType
	ExternalID string
	Field      string
	Reason     string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s %q field %s: %s", e.EntityType, e.ExternalID, e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// WriteConflictError reports a natural key race that could not be resolved by the retry.
type WriteConflictError struct {
	EntityType EntityType
	ExternalID string
	Err        error
}

func (e *WriteConflictError) Error() string {
	return fmt.Sprintf("write conflict: %s %q: %v", e.EntityType, e.ExternalID, e.Err)
}

func (e *WriteConflictError) Unwrap() error { return e.Err }

func (e *WriteConflictError) Is(target error) bool {
	return target == ErrWriteConflict
}

// FieldWarning records an optional field that was coerced to its default.
type FieldWarning struct {
	Field  string
	Reason string
}

func (w FieldWarning) String() string {
	return w.Field + ": " + w.Reason
}
