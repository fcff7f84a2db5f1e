package telemetry

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/erp/catalogsync/internal/domain/catalogsync"
)

// TracerName is the instrumentation scope for spans started by this service.
const TracerName = "catalogsync"

// Span attribute keys
const (
	SpanAttrJobID      = "sync.job_id"
	SpanAttrTenantID   = "sync.tenant_id"
	SpanAttrEntityType = "sync.entity_type"
	SpanAttrForce      = "sync.force"
	SpanAttrStatus     = "sync.status"

	SpanAttrItemsCompleted = "sync.items_completed"
	SpanAttrItemsFailed    = "sync.items_failed"
)

// SpanOption configures span start options
type SpanOption func(*spanOptions)

type spanOptions struct {
	attributes []attribute.KeyValue
	kind       trace.SpanKind
}

// WithAttribute adds an attribute to the span
func WithAttribute(key string, value any) SpanOption {
	return func(opts *spanOptions) {
		opts.attributes = append(opts.attributes, toAttribute(key, value))
	}
}

// WithSpanKind sets the span kind
func WithSpanKind(kind trace.SpanKind) SpanOption {
	return func(opts *spanOptions) {
		opts.kind = kind
	}
}

// StartSpan starts a span on the global tracer. The caller must End it.
//
//	ctx, span := telemetry.StartSpan(ctx, "catalogsync.fetch")
//	defer span.End()
func StartSpan(ctx context.Context, spanName string, opts ...SpanOption) (context.Context, trace.Span) {
	options := &spanOptions{kind: trace.SpanKindInternal}
	for _, opt := range opts {
		opt(options)
	}

	startOpts := []trace.SpanStartOption{trace.WithSpanKind(options.kind)}
	if len(options.attributes) > 0 {
		startOpts = append(startOpts, trace.WithAttributes(options.attributes...))
	}
	return otel.GetTracerProvider().Tracer(TracerName).Start(ctx, spanName, startOpts...)
}

// StartJobSpan starts a span for a stage or cascade run, named
// catalogsync.stage or catalogsync.cascade.
func StartJobSpan(ctx context.Context, job *catalogsync.ImportJob) (context.Context, trace.Span) {
	return StartSpan(ctx, "catalogsync."+string(job.Kind),
		WithAttribute(SpanAttrJobID, job.ID.String()),
		WithAttribute(SpanAttrTenantID, job.TenantID.String()),
		WithAttribute(SpanAttrEntityType, job.EntityType.String()),
		WithAttribute(SpanAttrForce, job.Force),
	)
}

// EndJobSpan annotates span with the final state of a run and ends it. err is
// a bookkeeping failure; a failed job without err records its failure reason.
func EndJobSpan(span trace.Span, final *catalogsync.ImportJob, err error) {
	defer span.End()
	if err != nil {
		RecordError(span, err)
		return
	}
	if final == nil {
		return
	}
	span.SetAttributes(
		attribute.String(SpanAttrStatus, string(final.Status)),
		attribute.Int64(SpanAttrItemsCompleted, final.CompletedItems),
		attribute.Int64(SpanAttrItemsFailed, final.Failed),
	)
	switch final.Status {
	case catalogsync.JobStatusFailed:
		RecordError(span, errors.New(final.FailureReason))
	case catalogsync.JobStatusCompleted:
		SetOK(span)
	}
}

// SetAttributes adds key/value pairs to span. Non-string keys are ignored.
func SetAttributes(span trace.Span, keyValues ...any) {
	if span == nil {
		return
	}
	attrs := make([]attribute.KeyValue, 0, len(keyValues)/2)
	for i := 0; i+1 < len(keyValues); i += 2 {
		key, ok := keyValues[i].(string)
		if !ok {
			continue
		}
		attrs = append(attrs, toAttribute(key, keyValues[i+1]))
	}
	span.SetAttributes(attrs...)
}

// RecordError records err on span and marks it failed.
func RecordError(span trace.Span, err error, opts ...trace.EventOption) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err, opts...)
	span.SetStatus(codes.Error, err.Error())
}

// SetOK marks the span as successful.
func SetOK(span trace.Span) {
	if span == nil {
		return
	}
	span.SetStatus(codes.Ok, "")
}

func toAttribute(key string, value any) attribute.KeyValue {
	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case float64:
		return attribute.Float64(key, v)
	case bool:
		return attribute.Bool(key, v)
	case []string:
		return attribute.StringSlice(key, v)
	case fmt.Stringer:
		return attribute.String(key, v.String())
	default:
		return attribute.String(key, fmt.Sprintf("%v", v))
	}
}
