// Package observability provides a lifecycle metrics hook. Register it
// with the engine to track scheduling rates, success and failure counts,
// retries, and manual triggers as OpenTelemetry counters, independent of
// the per-attempt middleware metrics.
package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/runelab/sked/hook"
	"github.com/runelab/sked/job"
)

const meterName = "github.com/runelab/sked/observability"

// Compile-time interface checks.
var (
	_ hook.Hook         = (*MetricsHook)(nil)
	_ hook.JobScheduled = (*MetricsHook)(nil)
	_ hook.JobSucceeded = (*MetricsHook)(nil)
	_ hook.JobRetrying  = (*MetricsHook)(nil)
	_ hook.JobFailed    = (*MetricsHook)(nil)
	_ hook.JobTriggered = (*MetricsHook)(nil)
)

// MetricsHook counts job lifecycle events. Each counter carries a
// job_name attribute.
type MetricsHook struct {
	scheduled metric.Int64Counter
	succeeded metric.Int64Counter
	retried   metric.Int64Counter
	failed    metric.Int64Counter
	triggered metric.Int64Counter
	duration  metric.Float64Histogram
}

// NewMetricsHook creates a MetricsHook using the global MeterProvider.
func NewMetricsHook() *MetricsHook {
	return NewMetricsHookWithMeter(otel.Meter(meterName))
}

// NewMetricsHookWithMeter creates a MetricsHook with the provided meter.
func NewMetricsHookWithMeter(meter metric.Meter) *MetricsHook {
	h := &MetricsHook{}
	// On instrument errors the OTel API returns noops, so the hook
	// degrades gracefully.
	h.scheduled, _ = meter.Int64Counter("sked.jobs.scheduled",
		metric.WithDescription("Jobs created and persisted"),
		metric.WithUnit("{job}"))
	h.succeeded, _ = meter.Int64Counter("sked.jobs.succeeded",
		metric.WithDescription("Occurrences that finished successfully"),
		metric.WithUnit("{occurrence}"))
	h.retried, _ = meter.Int64Counter("sked.jobs.retried",
		metric.WithDescription("Attempts that failed and were rescheduled"),
		metric.WithUnit("{attempt}"))
	h.failed, _ = meter.Int64Counter("sked.jobs.failed",
		metric.WithDescription("Occurrences that exhausted their retry budget"),
		metric.WithUnit("{occurrence}"))
	h.triggered, _ = meter.Int64Counter("sked.jobs.triggered",
		metric.WithDescription("Jobs made due manually"),
		metric.WithUnit("{job}"))
	h.duration, _ = meter.Float64Histogram("sked.occurrence.duration",
		metric.WithDescription("Wall time of successful occurrences in seconds"),
		metric.WithUnit("s"))
	return h
}

// Name implements hook.Hook.
func (m *MetricsHook) Name() string { return "observability-metrics" }

func jobAttrs(j *job.Job) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("job_name", j.Name))
}

// OnJobScheduled implements hook.JobScheduled.
func (m *MetricsHook) OnJobScheduled(ctx context.Context, j *job.Job) error {
	m.scheduled.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobSucceeded implements hook.JobSucceeded.
func (m *MetricsHook) OnJobSucceeded(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	m.succeeded.Add(ctx, 1, jobAttrs(j))
	m.duration.Record(ctx, elapsed.Seconds(), jobAttrs(j))
	return nil
}

// OnJobRetrying implements hook.JobRetrying.
func (m *MetricsHook) OnJobRetrying(ctx context.Context, j *job.Job, _ int, _ time.Time) error {
	m.retried.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobFailed implements hook.JobFailed.
func (m *MetricsHook) OnJobFailed(ctx context.Context, j *job.Job, _ error) error {
	m.failed.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobTriggered implements hook.JobTriggered.
func (m *MetricsHook) OnJobTriggered(ctx context.Context, j *job.Job) error {
	m.triggered.Add(ctx, 1, jobAttrs(j))
	return nil
}
