package catalogsync

import "errors"

// OutcomeKind is the per-item result of a sync.
type OutcomeKind string

const (
	OutcomeInserted  OutcomeKind = "inserted"
	OutcomeUpdated   OutcomeKind = "updated"
	OutcomeUnchanged OutcomeKind = "unchanged"
	OutcomeSkipped   OutcomeKind = "skipped"
	OutcomeFailed    OutcomeKind = "failed"
)

// IsSuccess returns true for outcomes that leave the store in sync with upstream.
func (k OutcomeKind) IsSuccess() bool {
	switch k {
	case OutcomeInserted, OutcomeUpdated, OutcomeUnchanged:
		return true
	default:
		return false
	}
}

// Outcome is the result of processing one external entity.
type Outcome struct {
	Kind       OutcomeKind
	EntityType EntityType
	ExternalID string
	// Reason explains a skip.
	Reason string
	// Err is set for failed outcomes.
	Err      error
	Warnings []FieldWarning
}

// Inserted builds an inserted outcome.
func Inserted(t EntityType, externalID string) Outcome {
	return Outcome{Kind: OutcomeInserted, EntityType: t, ExternalID: externalID}
}

// Updated builds an updated outcome.
func Updated(t EntityType, externalID string) Outcome {
	return Outcome{Kind: OutcomeUpdated, EntityType: t, ExternalID: externalID}
}

// Unchanged builds an unchanged outcome.
func Unchanged(t EntityType, externalID string) Outcome {
	return Outcome{Kind: OutcomeUnchanged, EntityType: t, ExternalID: externalID}
}

// Skipped builds a skipped outcome with a reason.
func Skipped(t EntityType, externalID, reason string) Outcome {
	return Outcome{Kind: OutcomeSkipped, EntityType: t, ExternalID: externalID, Reason: reason}
}

// Failed builds a failed outcome.
func Failed(t EntityType, externalID string, err error) Outcome {
	return Outcome{Kind: OutcomeFailed, EntityType: t, ExternalID: externalID, Err: err}
}

// IsMissingDependency reports whether the outcome failed on an unresolved parent.
func (o Outcome) IsMissingDependency() bool {
	return o.Kind == OutcomeFailed && errors.Is(o.Err, ErrMissingDependency)
}

// Message returns the line recorded in a job's recent errors.
func (o Outcome) Message() string {
	switch o.Kind {
	case OutcomeFailed:
		if o.Err != nil {
			return string(o.EntityType) + " " + o.ExternalID + ": " + o.Err.Error()
		}
		return string(o.EntityType) + " " + o.ExternalID + ": failed"
	case OutcomeSkipped:
		return string(o.EntityType) + " " + o.ExternalID + ": skipped: " + o.Reason
	default:
		return ""
	}
}
