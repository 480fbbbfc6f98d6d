package job

import "time"

// Options configures per-job behavior at submission time.
type Options struct {
	// Handler names the registered handler to invoke. Empty means the
	// job's own name is the handler key.
	Handler string

	// MaxAttempts bounds failure retries for one due occurrence.
	// Zero means use the engine's configured default.
	MaxAttempts int

	// Schedule is a cron expression or interval shorthand. Empty means
	// the job is one-shot.
	Schedule string

	// RunAt sets the first due time explicitly. Zero means now for
	// one-shot jobs, or the schedule's next occurrence for recurring ones.
	RunAt time.Time

	// Timeout is the maximum duration the handler context stays alive.
	// Zero means no deadline.
	Timeout time.Duration
}

// DefaultOptions returns Options with zero values; the engine fills in
// its configured defaults at creation time.
func DefaultOptions() Options {
	return Options{}
}

// Option is a functional option for configuring a job definition or
// submission.
type Option func(*Options)

// WithHandler names the handler to invoke, when it differs from the
// job name.
func WithHandler(name string) Option {
	return func(o *Options) {
		o.Handler = name
	}
}

// WithMaxAttempts sets the retry budget for one occurrence.
func WithMaxAttempts(n int) Option {
	return func(o *Options) {
		o.MaxAttempts = n
	}
}

// WithSchedule makes the job recurring on the given cron expression or
// interval shorthand.
func WithSchedule(expr string) Option {
	return func(o *Options) {
		o.Schedule = expr
	}
}

// WithRunAt schedules the first occurrence at a specific time.
func WithRunAt(t time.Time) Option {
	return func(o *Options) {
		o.RunAt = t
	}
}

// WithTimeout sets the maximum execution duration for the handler.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.Timeout = d
	}
}
