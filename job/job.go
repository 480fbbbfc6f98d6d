package job

import (
	"time"

	"github.com/runelab/sked"
	"github.com/runelab/sked/id"
)

// Status represents the lifecycle state of a job.
type Status string

const (
	// StatusPending means the job is waiting for its next due occurrence.
	StatusPending Status = "pending"
	// StatusRunning means the runner is currently executing the job.
	StatusRunning Status = "running"
	// StatusSucceeded means a one-shot job finished successfully (terminal).
	StatusSucceeded Status = "succeeded"
	// StatusFailed means the job failed with no retries remaining (terminal).
	StatusFailed Status = "failed"
	// StatusDisabled means the job was explicitly disabled.
	StatusDisabled Status = "disabled"
)

// Job is a named, schedulable unit of work.
//
// The store exclusively owns Job rows; the runner and engine access them
// only through the store's operations. At most one row per job may be in
// StatusRunning at any instant — the claim compare-and-swap enforces this.
type Job struct {
	sked.Entity

	ID      id.JobID `json:"id"`
	Name    string   `json:"name"`
	Handler string   `json:"handler"`
	Payload []byte   `json:"payload,omitempty"`

	// Schedule is the raw schedule expression (cron or interval
	// shorthand). Empty means the job is one-shot.
	Schedule string `json:"schedule,omitempty"`

	// MaxAttempts bounds consecutive failure retries for a single due
	// occurrence. Always positive.
	MaxAttempts int `json:"max_attempts"`

	Status Status `json:"status"`

	// NextRunAt is when the job next becomes due. Nil once a one-shot
	// job has run, or while the job is disabled.
	NextRunAt *time.Time `json:"next_run_at,omitempty"`

	// CurrentAttempt counts attempts for the in-flight or most recent
	// occurrence. Reset to 0 when a new occurrence becomes due.
	CurrentAttempt int `json:"current_attempt"`

	LastError string `json:"last_error,omitempty"`

	// Timeout, if non-zero, is applied to the handler context by the
	// timeout middleware. Zero means no deadline.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// Recurring reports whether the job has a schedule.
func (j *Job) Recurring() bool { return j.Schedule != "" }

// Terminal reports whether the job is in a terminal status.
func (j *Job) Terminal() bool {
	return j.Status == StatusSucceeded || j.Status == StatusFailed
}
