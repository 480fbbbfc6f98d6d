// Package hook defines the lifecycle hook system for sked.
//
// Hooks are notified of engine lifecycle events and can react to them —
// recording metrics, emitting webhooks, writing audit logs, etc.
// Each lifecycle event is a separate interface so hooks opt in only to
// the events they care about:
//
//	type auditHook struct{}
//
//	func (auditHook) Name() string { return "audit" }
//
//	func (auditHook) OnJobSucceeded(ctx context.Context, j *job.Job, elapsed time.Duration) error {
//	    log.Printf("job %s finished in %s", j.ID, elapsed)
//	    return nil
//	}
//
// The [Registry] fans out each event to all registered hooks that
// implement the corresponding interface. Hook errors are logged and
// never affect job processing.
package hook

import (
	"context"
	"time"

	"github.com/runelab/sked/job"
)

// Hook is the base interface all hooks must implement.
type Hook interface {
	// Name returns a unique human-readable name for the hook.
	Name() string
}

// JobScheduled is called after a job is created and persisted.
type JobScheduled interface {
	OnJobScheduled(ctx context.Context, j *job.Job) error
}

// JobStarted is called when the runner begins executing a claimed job.
type JobStarted interface {
	OnJobStarted(ctx context.Context, j *job.Job) error
}

// JobSucceeded is called after an attempt finishes successfully.
type JobSucceeded interface {
	OnJobSucceeded(ctx context.Context, j *job.Job, elapsed time.Duration) error
}

// JobRetrying is called when an attempt fails but a retry is scheduled.
type JobRetrying interface {
	OnJobRetrying(ctx context.Context, j *job.Job, attempt int, nextRunAt time.Time) error
}

// JobFailed is called when an occurrence fails with no retries remaining.
// For recurring jobs this fires once per exhausted occurrence even though
// the job re-arms for its next occurrence.
type JobFailed interface {
	OnJobFailed(ctx context.Context, j *job.Job, err error) error
}

// JobTriggered is called when a job is manually made due.
type JobTriggered interface {
	OnJobTriggered(ctx context.Context, j *job.Job) error
}

// RunnerStopped is called after the runner has drained and stopped.
type RunnerStopped interface {
	OnRunnerStopped(ctx context.Context) error
}
