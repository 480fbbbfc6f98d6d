package job

import (
	"context"
	"time"

	"github.com/runelab/sked/id"
)

// ListOpts controls pagination for list queries. Zero Limit means no limit.
type ListOpts struct {
	Limit  int
	Offset int
}

// Filter controls filtering and pagination for job list queries.
type Filter struct {
	// Status filters by lifecycle status. Empty means all statuses.
	Status Status
	Limit  int
	Offset int
}

// Store defines the persistence contract for jobs and their execution
// history. Every operation is atomic with respect to concurrent runner
// polls; ClaimJob in particular must be a compare-and-swap that fails
// rather than blocks.
type Store interface {
	// CreateJob persists a new job. Returns sked.ErrJobAlreadyExists if
	// the ID is taken.
	CreateJob(ctx context.Context, j *Job) error

	// GetJob retrieves a job by ID. Returns sked.ErrJobNotFound.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// UpdateJob persists changes to an existing job.
	UpdateJob(ctx context.Context, j *Job) error

	// DeleteJob removes a job by ID. Its history remains.
	DeleteJob(ctx context.Context, jobID id.JobID) error

	// ListJobs returns jobs matching the filter, ordered by CreatedAt.
	ListJobs(ctx context.Context, f Filter) ([]*Job, error)

	// ListDue returns pending jobs with NextRunAt <= now, ordered by
	// NextRunAt ascending with ties broken by ID for determinism.
	ListDue(ctx context.Context, now time.Time) ([]*Job, error)

	// ClaimJob atomically transitions a job from pending to running and
	// returns it. Returns sked.ErrAlreadyClaimed if the job is not
	// pending — callers must treat that as an expected race and skip.
	ClaimJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// RecordOutcome persists the runner's decided post-execution state
	// for a job that is currently running, and appends the execution
	// record (nil when history is disabled) in the same atomic step.
	RecordOutcome(ctx context.Context, j *Job, exec *Execution) error

	// ListExecutions returns the job's history ordered by StartedAt then
	// attempt, paginated.
	ListExecutions(ctx context.Context, jobID id.JobID, opts ListOpts) ([]*Execution, error)

	// Migrate prepares the backing schema.
	Migrate(ctx context.Context) error

	// Ping checks connectivity to the backing storage.
	Ping(ctx context.Context) error

	// Close releases resources held by the store.
	Close() error
}
