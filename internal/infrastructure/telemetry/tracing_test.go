package telemetry_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/erp/catalogsync/internal/domain/catalogsync"
	"github.com/erp/catalogsync/internal/infrastructure/telemetry"
)

// setupTestTracer installs an in-memory span recorder as the global provider.
func setupTestTracer(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()

	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))

	original := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(original)
		_ = tp.Shutdown(context.Background())
	})
	return sr
}

func attrMap(kvs []attribute.KeyValue) map[string]attribute.Value {
	m := make(map[string]attribute.Value, len(kvs))
	for _, kv := range kvs {
		m[string(kv.Key)] = kv.Value
	}
	return m
}

func TestStartSpan(t *testing.T) {
	sr := setupTestTracer(t)

	_, span := telemetry.StartSpan(context.Background(), "catalogsync.stage")
	require.NotNil(t, span)
	span.End()

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "catalogsync.stage", spans[0].Name())
	assert.Equal(t, trace.SpanKindInternal, spans[0].SpanKind())
	assert.Equal(t, telemetry.TracerName, spans[0].InstrumentationScope().Name)
}

func TestStartSpan_WithOptions(t *testing.T) {
	sr := setupTestTracer(t)

	_, span := telemetry.StartSpan(context.Background(), "catalogsync.fetch",
		telemetry.WithAttribute(telemetry.SpanAttrEntityType, catalogsync.EntityTypeSKU),
		telemetry.WithAttribute(telemetry.SpanAttrForce, true),
		telemetry.WithSpanKind(trace.SpanKindClient),
	)
	span.End()

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "catalogsync.fetch", spans[0].Name())
	assert.Equal(t, trace.SpanKindClient, spans[0].SpanKind())

	attrs := attrMap(spans[0].Attributes())
	assert.Equal(t, "sku", attrs[telemetry.SpanAttrEntityType].AsString())
	assert.True(t, attrs[telemetry.SpanAttrForce].AsBool())
}

func TestJobSpan(t *testing.T) {
	newJob := func(t *testing.T) *catalogsync.ImportJob {
		job, err := catalogsync.NewStageJob(uuid.New(), catalogsync.EntityTypeProduct, nil)
		require.NoError(t, err)
		require.NoError(t, job.Start())
		return job
	}

	tests := []struct {
		name       string
		finish     func(job *catalogsync.ImportJob) (*catalogsync.ImportJob, error)
		wantStatus codes.Code
		wantEvents int
		wantAttr   string
	}{
		{
			name: "completed",
			finish: func(job *catalogsync.ImportJob) (*catalogsync.ImportJob, error) {
				return job, job.Complete("")
			},
			wantStatus: codes.Ok,
			wantAttr:   "completed",
		},
		{
			name: "failed job records its reason",
			finish: func(job *catalogsync.ImportJob) (*catalogsync.ImportJob, error) {
				return job, job.Fail("3 of 4 items failed")
			},
			wantStatus: codes.Error,
			wantEvents: 1,
			wantAttr:   "failed",
		},
		{
			name: "cancelled is neither ok nor error",
			finish: func(job *catalogsync.ImportJob) (*catalogsync.ImportJob, error) {
				return job, job.Cancel()
			},
			wantStatus: codes.Unset,
			wantAttr:   "cancelled",
		},
		{
			name: "bookkeeping error",
			finish: func(*catalogsync.ImportJob) (*catalogsync.ImportJob, error) {
				return nil, errors.New("job store down")
			},
			wantStatus: codes.Error,
			wantEvents: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sr := setupTestTracer(t)
			job := newJob(t)

			_, span := telemetry.StartJobSpan(context.Background(), job)
			final, err := tt.finish(job)
			if final != nil {
				require.NoError(t, err)
			}
			telemetry.EndJobSpan(span, final, err)

			spans := sr.Ended()
			require.Len(t, spans, 1)
			got := spans[0]
			assert.Equal(t, "catalogsync.stage", got.Name())
			assert.Equal(t, tt.wantStatus, got.Status().Code)
			assert.Len(t, got.Events(), tt.wantEvents)

			attrs := attrMap(got.Attributes())
			assert.Equal(t, job.ID.String(), attrs[telemetry.SpanAttrJobID].AsString())
			assert.Equal(t, "product", attrs[telemetry.SpanAttrEntityType].AsString())
			if tt.wantAttr != "" {
				assert.Equal(t, tt.wantAttr, attrs[telemetry.SpanAttrStatus].AsString())
			}
		})
	}
}

func TestSetAttributes(t *testing.T) {
	sr := setupTestTracer(t)

	_, span := telemetry.StartSpan(context.Background(), "attrs")
	telemetry.SetAttributes(span,
		"count", 3,
		"total", int64(42),
		"ratio", 0.25,
		"tags", []string{"a", "b"},
		42, "ignored",
		"dangling",
	)
	span.End()

	attrs := attrMap(sr.Ended()[0].Attributes())
	assert.Len(t, attrs, 4)
	assert.Equal(t, int64(3), attrs["count"].AsInt64())
	assert.Equal(t, int64(42), attrs["total"].AsInt64())
	assert.Equal(t, 0.25, attrs["ratio"].AsFloat64())
	assert.Equal(t, []string{"a", "b"}, attrs["tags"].AsStringSlice())
}

func TestRecordErrorAndSetOK(t *testing.T) {
	tests := []struct {
		name       string
		apply      func(span trace.Span)
		wantStatus codes.Code
		wantEvents int
	}{
		{
			name:       "error marks span failed",
			apply:      func(span trace.Span) { telemetry.RecordError(span, errors.New("boom")) },
			wantStatus: codes.Error,
			wantEvents: 1,
		},
		{
			name:       "nil error is ignored",
			apply:      func(span trace.Span) { telemetry.RecordError(span, nil) },
			wantStatus: codes.Unset,
		},
		{
			name:       "ok",
			apply:      telemetry.SetOK,
			wantStatus: codes.Ok,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sr := setupTestTracer(t)
			_, span := telemetry.StartSpan(context.Background(), "op")
			tt.apply(span)
			span.End()

			got := sr.Ended()[0]
			assert.Equal(t, tt.wantStatus, got.Status().Code)
			assert.Len(t, got.Events(), tt.wantEvents)
		})
	}
}
