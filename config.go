package sked

import "time"

// Config holds configuration for the engine.
type Config struct {
	// Enabled gates the runner as a whole. When false, Start is a no-op
	// and jobs are stored but never executed.
	Enabled bool

	// AutoStart starts the runner during engine construction.
	AutoStart bool

	// PollInterval is how often the runner checks the store for due jobs.
	PollInterval time.Duration

	// Concurrency is the maximum number of handlers executing at once.
	// Distinct jobs may run concurrently; the same job never does.
	Concurrency int

	// DefaultMaxAttempts bounds consecutive failure retries for jobs
	// that do not set their own limit.
	DefaultMaxAttempts int

	// EnableHistory controls whether execution records are written.
	EnableHistory bool

	// ShutdownTimeout is the maximum time Stop waits for in-flight
	// handlers before returning. Handlers are never cancelled; on
	// timeout they finish in the background.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:            true,
		AutoStart:          false,
		PollInterval:       1 * time.Second,
		Concurrency:        10,
		DefaultMaxAttempts: 3,
		EnableHistory:      true,
		ShutdownTimeout:    30 * time.Second,
	}
}
