package telemetry

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/erp/catalogsync/internal/domain/catalogsync"
)

// SyncMetrics records pipeline measurements:
//   - catalogsync_items_total{entity_type, outcome}
//   - catalogsync_stage_duration_seconds{entity_type, job_status}
//   - catalogsync_stages_total{entity_type, job_status}
//   - catalogsync_upstream_requests_total{upstream.resource, http.status_code}
//   - catalogsync_upstream_request_duration_seconds{upstream.resource}
//   - catalogsync_items_in_flight (observable)
type SyncMetrics struct {
	items           *Counter
	stages          *Counter
	stageDuration   *Histogram
	upstream        *Counter
	upstreamLatency *Histogram
	inFlight        metric.Int64ObservableGauge
	registration    metric.Registration
}

// NewSyncMetrics registers the sync instruments on meter. inFlight, when not
// nil, is polled at collection time for the number of items being processed.
func NewSyncMetrics(meter metric.Meter, inFlight func() int64) (*SyncMetrics, error) {
	m := &SyncMetrics{}
	var err error

	if m.items, err = NewCounter(meter, "catalogsync_items_total",
		"Catalog items processed by outcome", "{item}"); err != nil {
		return nil, err
	}
	if m.stages, err = NewCounter(meter, "catalogsync_stages_total",
		"Stage runs by terminal status", "{stage}"); err != nil {
		return nil, err
	}
	if m.stageDuration, err = NewHistogram(meter, HistogramOpts{
		Name:        "catalogsync_stage_duration_seconds",
		Description: "Wall time of a single stage run",
		Unit:        "s",
		Boundaries:  StageDurationBuckets,
	}); err != nil {
		return nil, err
	}
	if m.upstream, err = NewCounter(meter, "catalogsync_upstream_requests_total",
		"Upstream catalog API attempts, retries included", "{request}"); err != nil {
		return nil, err
	}
	if m.upstreamLatency, err = NewHistogram(meter, HistogramOpts{
		Name:        "catalogsync_upstream_request_duration_seconds",
		Description: "Latency of upstream catalog API attempts",
		Unit:        "s",
		Boundaries:  UpstreamDurationBuckets,
	}); err != nil {
		return nil, err
	}

	if inFlight != nil {
		m.inFlight, err = meter.Int64ObservableGauge("catalogsync_items_in_flight",
			metric.WithDescription("Items currently held by workers"),
			metric.WithUnit("{item}"),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create gauge catalogsync_items_in_flight: %w", err)
		}
		m.registration, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
			o.ObserveInt64(m.inFlight, inFlight())
			return nil
		}, m.inFlight)
		if err != nil {
			return nil, fmt.Errorf("failed to register in-flight callback: %w", err)
		}
	}
	return m, nil
}

// RecordOutcome counts one processed item.
func (m *SyncMetrics) RecordOutcome(ctx context.Context, entityType catalogsync.EntityType, kind catalogsync.OutcomeKind) {
	m.items.Inc(ctx, AttrEntityType.String(string(entityType)), AttrOutcome.String(string(kind)))
}

// RecordStage counts a finished stage and its duration.
func (m *SyncMetrics) RecordStage(ctx context.Context, entityType catalogsync.EntityType, status catalogsync.JobStatus, d time.Duration) {
	attrs := []attribute.KeyValue{AttrEntityType.String(string(entityType)), AttrJobStatus.String(string(status))}
	m.stages.Inc(ctx, attrs...)
	m.stageDuration.RecordDuration(ctx, d, attrs...)
}

// ObserveRequest records one upstream attempt. Its signature matches the
// ecommerce client's request observer.
func (m *SyncMetrics) ObserveRequest(ctx context.Context, path string, status int, elapsed time.Duration) {
	code := "none"
	if status > 0 {
		code = strconv.Itoa(status)
	}
	m.upstream.Inc(ctx, AttrResource.String(path), AttrStatusCode.String(code))
	m.upstreamLatency.RecordDuration(ctx, elapsed, AttrResource.String(path))
}

// Close unregisters the in-flight callback.
func (m *SyncMetrics) Close() error {
	if m.registration == nil {
		return nil
	}
	return m.registration.Unregister()
}
