// Package audit bridges sked lifecycle events to an audit trail backend.
// Each lifecycle event becomes a structured audit record emitted through
// a caller-supplied [Recorder], so the package carries no dependency on
// any particular audit store.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/runelab/sked/hook"
	"github.com/runelab/sked/job"
)

// Compile-time interface checks.
var (
	_ hook.Hook         = (*Hook)(nil)
	_ hook.JobScheduled = (*Hook)(nil)
	_ hook.JobStarted   = (*Hook)(nil)
	_ hook.JobSucceeded = (*Hook)(nil)
	_ hook.JobRetrying  = (*Hook)(nil)
	_ hook.JobFailed    = (*Hook)(nil)
	_ hook.JobTriggered = (*Hook)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	// Record persists a fully-formed audit event.
	Record(ctx context.Context, event *Event) error
}

// Event is an audit record for one lifecycle event.
type Event struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *Event) error

func (f RecorderFunc) Record(ctx context.Context, event *Event) error {
	return f(ctx, event)
}

// Severity constants.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcome constants.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Hook emits a structured audit event for each job lifecycle event.
type Hook struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// Option configures a Hook.
type Option func(*Hook)

// WithActions restricts the hook to emit only the listed actions.
// By default all actions are enabled. Unknown actions are silently ignored.
func WithActions(actions ...string) Option {
	return func(h *Hook) {
		h.enabled = make(map[string]bool, len(actions))
		for _, a := range actions {
			h.enabled[a] = true
		}
	}
}

// WithLogger sets a custom logger for the hook.
func WithLogger(l *slog.Logger) Option {
	return func(h *Hook) { h.logger = l }
}

// New creates a Hook that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Hook {
	h := &Hook{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Name implements hook.Hook.
func (h *Hook) Name() string { return "audit" }

// OnJobScheduled implements hook.JobScheduled.
func (h *Hook) OnJobScheduled(ctx context.Context, j *job.Job) error {
	return h.record(ctx, ActionJobScheduled, SeverityInfo, OutcomeSuccess, j.ID.String(), nil,
		"job_name", j.Name,
		"handler", j.Handler,
		"schedule", j.Schedule,
	)
}

// OnJobStarted implements hook.JobStarted.
func (h *Hook) OnJobStarted(ctx context.Context, j *job.Job) error {
	return h.record(ctx, ActionJobStarted, SeverityInfo, OutcomeSuccess, j.ID.String(), nil,
		"job_name", j.Name,
		"attempt", j.CurrentAttempt+1,
	)
}

// OnJobSucceeded implements hook.JobSucceeded.
func (h *Hook) OnJobSucceeded(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	return h.record(ctx, ActionJobSucceeded, SeverityInfo, OutcomeSuccess, j.ID.String(), nil,
		"job_name", j.Name,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnJobRetrying implements hook.JobRetrying.
func (h *Hook) OnJobRetrying(ctx context.Context, j *job.Job, attempt int, nextRunAt time.Time) error {
	return h.record(ctx, ActionJobRetrying, SeverityWarning, OutcomeFailure, j.ID.String(), nil,
		"job_name", j.Name,
		"attempt", attempt,
		"max_attempts", j.MaxAttempts,
		"next_run_at", nextRunAt.Format(time.RFC3339),
	)
}

// OnJobFailed implements hook.JobFailed.
func (h *Hook) OnJobFailed(ctx context.Context, j *job.Job, jobErr error) error {
	return h.record(ctx, ActionJobFailed, SeverityCritical, OutcomeFailure, j.ID.String(), jobErr,
		"job_name", j.Name,
		"attempts", j.CurrentAttempt,
	)
}

// OnJobTriggered implements hook.JobTriggered.
func (h *Hook) OnJobTriggered(ctx context.Context, j *job.Job) error {
	return h.record(ctx, ActionJobTriggered, SeverityInfo, OutcomeSuccess, j.ID.String(), nil,
		"job_name", j.Name,
	)
}

// record builds and sends an audit event if the action is enabled.
// The kvPairs argument is a list of key-value pairs added to Metadata.
func (h *Hook) record(
	ctx context.Context,
	action, severity, outcome, resourceID string,
	err error,
	kvPairs ...any,
) error {
	if h.enabled != nil && !h.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &Event{
		Action:     action,
		Resource:   ResourceJob,
		Category:   CategoryJob,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := h.recorder.Record(ctx, evt); recErr != nil {
		h.logger.Warn("audit: failed to record event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
