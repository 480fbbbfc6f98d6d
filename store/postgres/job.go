package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/runelab/sked"
	"github.com/runelab/sked/id"
	"github.com/runelab/sked/job"
)

const jobColumns = `id, name, handler, payload, schedule, max_attempts, status,
	next_run_at, current_attempt, last_error, timeout_ns, created_at, updated_at`

const executionColumns = `id, job_id, attempt, started_at, finished_at, outcome, error, duration_ms`

// CreateJob persists a new job.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sked_jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		j.ID.String(), j.Name, j.Handler, j.Payload, j.Schedule, j.MaxAttempts, string(j.Status),
		j.NextRunAt, j.CurrentAttempt, j.LastError, int64(j.Timeout),
		j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return sked.ErrJobAlreadyExists
		}
		return fmt.Errorf("sked/postgres: create job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+jobColumns+` FROM sked_jobs WHERE id = $1`,
		jobID.String(),
	)
	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sked.ErrJobNotFound
		}
		return nil, fmt.Errorf("sked/postgres: get job: %w", err)
	}
	return j, nil
}

// UpdateJob persists changes to an existing job.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sked_jobs
		SET name = $1, handler = $2, payload = $3, schedule = $4, max_attempts = $5,
		    status = $6, next_run_at = $7, current_attempt = $8, last_error = $9,
		    timeout_ns = $10, updated_at = $11
		WHERE id = $12`,
		j.Name, j.Handler, j.Payload, j.Schedule, j.MaxAttempts,
		string(j.Status), j.NextRunAt, j.CurrentAttempt, j.LastError,
		int64(j.Timeout), time.Now().UTC(),
		j.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("sked/postgres: update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return sked.ErrJobNotFound
	}
	return nil
}

// DeleteJob removes a job by ID. Its execution history remains.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sked_jobs WHERE id = $1`, jobID.String())
	if err != nil {
		return fmt.Errorf("sked/postgres: delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return sked.ErrJobNotFound
	}
	return nil
}

// ListJobs returns jobs matching the filter, ordered by CreatedAt.
func (s *Store) ListJobs(ctx context.Context, f job.Filter) ([]*job.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM sked_jobs`
	args := []any{}
	if f.Status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(f.Status))
	}
	query += ` ORDER BY created_at ASC, id ASC`
	if f.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, len(args)+1)
		args = append(args, f.Limit)
	}
	if f.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, len(args)+1)
		args = append(args, f.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sked/postgres: list jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows, "list jobs")
}

// ListDue returns pending jobs due at or before now, ordered by
// NextRunAt ascending with ties broken by ID.
func (s *Store) ListDue(ctx context.Context, now time.Time) ([]*job.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM sked_jobs
		WHERE status = 'pending' AND next_run_at IS NOT NULL AND next_run_at <= $1
		ORDER BY next_run_at ASC, id ASC`,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("sked/postgres: list due: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows, "list due")
}

// ClaimJob atomically transitions a pending job to running. The guarded
// UPDATE is the compare-and-swap: no row returned means the job either
// does not exist or is not pending.
func (s *Store) ClaimJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE sked_jobs
		SET status = 'running', updated_at = $1
		WHERE id = $2 AND status = 'pending'
		RETURNING `+jobColumns,
		time.Now().UTC(), jobID.String(),
	)
	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Distinguish a lost race from a missing job.
			if _, getErr := s.GetJob(ctx, jobID); getErr != nil {
				return nil, getErr
			}
			return nil, sked.ErrAlreadyClaimed
		}
		return nil, fmt.Errorf("sked/postgres: claim job: %w", err)
	}
	return j, nil
}

// RecordOutcome persists the post-execution job state and appends the
// execution record in one transaction. A job disabled (or deleted) while
// it ran keeps that state; the history row is written regardless.
func (s *Store) RecordOutcome(ctx context.Context, j *job.Job, exec *job.Execution) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("sked/postgres: begin record outcome: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	_, err = tx.Exec(ctx, `
		UPDATE sked_jobs
		SET status = $1, next_run_at = $2, current_attempt = $3, last_error = $4, updated_at = $5
		WHERE id = $6 AND status != 'disabled'`,
		string(j.Status), j.NextRunAt, j.CurrentAttempt, j.LastError,
		time.Now().UTC(), j.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("sked/postgres: record outcome: %w", err)
	}

	if exec != nil {
		_, err = tx.Exec(ctx, `
			INSERT INTO sked_executions (`+executionColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			exec.ID.String(), exec.JobID.String(), exec.Attempt,
			exec.StartedAt, exec.FinishedAt,
			string(exec.Outcome), exec.Error, exec.DurationMS,
		)
		if err != nil {
			return fmt.Errorf("sked/postgres: record execution: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("sked/postgres: commit record outcome: %w", err)
	}
	return nil
}

// ListExecutions returns the job's history ordered by StartedAt then
// attempt, paginated.
func (s *Store) ListExecutions(ctx context.Context, jobID id.JobID, opts job.ListOpts) ([]*job.Execution, error) {
	query := `
		SELECT ` + executionColumns + ` FROM sked_executions
		WHERE job_id = $1
		ORDER BY started_at ASC, attempt ASC`
	args := []any{jobID.String()}
	if opts.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, len(args)+1)
		args = append(args, opts.Limit)
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, len(args)+1)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sked/postgres: list executions: %w", err)
	}
	defer rows.Close()

	var execs []*job.Execution
	for rows.Next() {
		e, scanErr := scanExecution(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("sked/postgres: list executions scan: %w", scanErr)
		}
		execs = append(execs, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sked/postgres: list executions rows: %w", err)
	}
	return execs, nil
}

func collectJobs(rows pgx.Rows, op string) ([]*job.Job, error) {
	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("sked/postgres: %s scan: %w", op, err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sked/postgres: %s rows: %w", op, err)
	}
	return jobs, nil
}
