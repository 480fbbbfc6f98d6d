package hook

import (
	"context"
	"log/slog"
	"time"

	"github.com/runelab/sked/job"
)

// Named entry types pair a hook implementation with the hook name
// captured at registration time. This avoids type-asserting back to
// Hook inside the emit methods.
type jobScheduledEntry struct {
	name string
	hook JobScheduled
}

type jobStartedEntry struct {
	name string
	hook JobStarted
}

type jobSucceededEntry struct {
	name string
	hook JobSucceeded
}

type jobRetryingEntry struct {
	name string
	hook JobRetrying
}

type jobFailedEntry struct {
	name string
	hook JobFailed
}

type jobTriggeredEntry struct {
	name string
	hook JobTriggered
}

type runnerStoppedEntry struct {
	name string
	hook RunnerStopped
}

// Registry holds registered hooks and dispatches lifecycle events to
// them. It type-caches hooks at registration time so emit calls iterate
// only over hooks that implement the relevant event.
type Registry struct {
	hooks  []Hook
	logger *slog.Logger

	// Type-cached slices for each lifecycle event.
	jobScheduled  []jobScheduledEntry
	jobStarted    []jobStartedEntry
	jobSucceeded  []jobSucceededEntry
	jobRetrying   []jobRetryingEntry
	jobFailed     []jobFailedEntry
	jobTriggered  []jobTriggeredEntry
	runnerStopped []runnerStoppedEntry
}

// NewRegistry creates a hook registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds a hook and type-asserts it into all applicable event
// caches. Hooks are notified in registration order.
func (r *Registry) Register(h Hook) {
	r.hooks = append(r.hooks, h)
	name := h.Name()

	if hk, ok := h.(JobScheduled); ok {
		r.jobScheduled = append(r.jobScheduled, jobScheduledEntry{name, hk})
	}
	if hk, ok := h.(JobStarted); ok {
		r.jobStarted = append(r.jobStarted, jobStartedEntry{name, hk})
	}
	if hk, ok := h.(JobSucceeded); ok {
		r.jobSucceeded = append(r.jobSucceeded, jobSucceededEntry{name, hk})
	}
	if hk, ok := h.(JobRetrying); ok {
		r.jobRetrying = append(r.jobRetrying, jobRetryingEntry{name, hk})
	}
	if hk, ok := h.(JobFailed); ok {
		r.jobFailed = append(r.jobFailed, jobFailedEntry{name, hk})
	}
	if hk, ok := h.(JobTriggered); ok {
		r.jobTriggered = append(r.jobTriggered, jobTriggeredEntry{name, hk})
	}
	if hk, ok := h.(RunnerStopped); ok {
		r.runnerStopped = append(r.runnerStopped, runnerStoppedEntry{name, hk})
	}
}

// Hooks returns all registered hooks.
func (r *Registry) Hooks() []Hook { return r.hooks }

// EmitJobScheduled notifies all hooks that implement JobScheduled.
func (r *Registry) EmitJobScheduled(ctx context.Context, j *job.Job) {
	for _, e := range r.jobScheduled {
		if err := e.hook.OnJobScheduled(ctx, j); err != nil {
			r.logHookError("OnJobScheduled", e.name, err)
		}
	}
}

// EmitJobStarted notifies all hooks that implement JobStarted.
func (r *Registry) EmitJobStarted(ctx context.Context, j *job.Job) {
	for _, e := range r.jobStarted {
		if err := e.hook.OnJobStarted(ctx, j); err != nil {
			r.logHookError("OnJobStarted", e.name, err)
		}
	}
}

// EmitJobSucceeded notifies all hooks that implement JobSucceeded.
func (r *Registry) EmitJobSucceeded(ctx context.Context, j *job.Job, elapsed time.Duration) {
	for _, e := range r.jobSucceeded {
		if err := e.hook.OnJobSucceeded(ctx, j, elapsed); err != nil {
			r.logHookError("OnJobSucceeded", e.name, err)
		}
	}
}

// EmitJobRetrying notifies all hooks that implement JobRetrying.
func (r *Registry) EmitJobRetrying(ctx context.Context, j *job.Job, attempt int, nextRunAt time.Time) {
	for _, e := range r.jobRetrying {
		if err := e.hook.OnJobRetrying(ctx, j, attempt, nextRunAt); err != nil {
			r.logHookError("OnJobRetrying", e.name, err)
		}
	}
}

// EmitJobFailed notifies all hooks that implement JobFailed.
func (r *Registry) EmitJobFailed(ctx context.Context, j *job.Job, jobErr error) {
	for _, e := range r.jobFailed {
		if err := e.hook.OnJobFailed(ctx, j, jobErr); err != nil {
			r.logHookError("OnJobFailed", e.name, err)
		}
	}
}

// EmitJobTriggered notifies all hooks that implement JobTriggered.
func (r *Registry) EmitJobTriggered(ctx context.Context, j *job.Job) {
	for _, e := range r.jobTriggered {
		if err := e.hook.OnJobTriggered(ctx, j); err != nil {
			r.logHookError("OnJobTriggered", e.name, err)
		}
	}
}

// EmitRunnerStopped notifies all hooks that implement RunnerStopped.
func (r *Registry) EmitRunnerStopped(ctx context.Context) {
	for _, e := range r.runnerStopped {
		if err := e.hook.OnRunnerStopped(ctx); err != nil {
			r.logHookError("OnRunnerStopped", e.name, err)
		}
	}
}

func (r *Registry) logHookError(event, name string, err error) {
	r.logger.Warn("hook error",
		slog.String("event", event),
		slog.String("hook", name),
		slog.String("error", err.Error()),
	)
}
