package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/runelab/sked"
	"github.com/runelab/sked/id"
	"github.com/runelab/sked/job"
)

// CreateJob persists a new job.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sked_jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID.String(), j.Name, j.Handler, j.Payload, j.Schedule, j.MaxAttempts, string(j.Status),
		nullableTime(j.NextRunAt), j.CurrentAttempt, j.LastError, int64(j.Timeout),
		formatTime(j.CreatedAt), formatTime(j.UpdatedAt),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return sked.ErrJobAlreadyExists
		}
		return fmt.Errorf("sked/sqlite: create job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+jobColumns+` FROM sked_jobs WHERE id = ?`,
		jobID.String(),
	)
	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sked.ErrJobNotFound
		}
		return nil, fmt.Errorf("sked/sqlite: get job: %w", err)
	}
	return j, nil
}

// UpdateJob persists changes to an existing job.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sked_jobs
		SET name = ?, handler = ?, payload = ?, schedule = ?, max_attempts = ?,
		    status = ?, next_run_at = ?, current_attempt = ?, last_error = ?,
		    timeout_ns = ?, updated_at = ?
		WHERE id = ?`,
		j.Name, j.Handler, j.Payload, j.Schedule, j.MaxAttempts,
		string(j.Status), nullableTime(j.NextRunAt), j.CurrentAttempt, j.LastError,
		int64(j.Timeout), formatTime(time.Now().UTC()),
		j.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("sked/sqlite: update job: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return sked.ErrJobNotFound
	}
	return nil
}

// DeleteJob removes a job by ID. Its execution history remains.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sked_jobs WHERE id = ?`, jobID.String())
	if err != nil {
		return fmt.Errorf("sked/sqlite: delete job: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return sked.ErrJobNotFound
	}
	return nil
}

// ListJobs returns jobs matching the filter, ordered by CreatedAt.
func (s *Store) ListJobs(ctx context.Context, f job.Filter) ([]*job.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM sked_jobs`
	args := make([]any, 0, 3)
	if f.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(f.Status))
	}
	query += ` ORDER BY created_at ASC, id ASC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	} else if f.Offset > 0 {
		query += ` LIMIT -1`
	}
	if f.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sked/sqlite: list jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows, "list jobs")
}

// ListDue returns pending jobs due at or before now, ordered by
// NextRunAt ascending with ties broken by ID.
func (s *Store) ListDue(ctx context.Context, now time.Time) ([]*job.Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM sked_jobs
		WHERE status = 'pending' AND next_run_at IS NOT NULL AND next_run_at <= ?
		ORDER BY next_run_at ASC, id ASC`,
		formatTime(now),
	)
	if err != nil {
		return nil, fmt.Errorf("sked/sqlite: list due: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows, "list due")
}

// ClaimJob atomically transitions a pending job to running. The guarded
// UPDATE is the compare-and-swap: zero rows affected means the job either
// does not exist or is not pending.
func (s *Store) ClaimJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE sked_jobs
		SET status = 'running', updated_at = ?
		WHERE id = ? AND status = 'pending'
		RETURNING `+jobColumns,
		formatTime(time.Now().UTC()), jobID.String(),
	)
	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Distinguish a lost race from a missing job.
			if _, getErr := s.GetJob(ctx, jobID); getErr != nil {
				return nil, getErr
			}
			return nil, sked.ErrAlreadyClaimed
		}
		return nil, fmt.Errorf("sked/sqlite: claim job: %w", err)
	}
	return j, nil
}

// RecordOutcome persists the post-execution job state and appends the
// execution record in one transaction. A job disabled (or deleted) while
// it ran keeps that state; the history row is written regardless.
func (s *Store) RecordOutcome(ctx context.Context, j *job.Job, exec *job.Execution) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sked/sqlite: begin record outcome: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	res, err := tx.ExecContext(ctx, `
		UPDATE sked_jobs
		SET status = ?, next_run_at = ?, current_attempt = ?, last_error = ?, updated_at = ?
		WHERE id = ? AND status != 'disabled'`,
		string(j.Status), nullableTime(j.NextRunAt), j.CurrentAttempt, j.LastError,
		formatTime(time.Now().UTC()), j.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("sked/sqlite: record outcome: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		s.logger.Debug("job state not updated on outcome",
			"job_id", j.ID.String(),
		)
	}

	if exec != nil {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO sked_executions (`+executionColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			exec.ID.String(), exec.JobID.String(), exec.Attempt,
			formatTime(exec.StartedAt), formatTime(exec.FinishedAt),
			string(exec.Outcome), exec.Error, exec.DurationMS,
		)
		if err != nil {
			return fmt.Errorf("sked/sqlite: record execution: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sked/sqlite: commit record outcome: %w", err)
	}
	return nil
}

// ListExecutions returns the job's history ordered by StartedAt then
// attempt, paginated.
func (s *Store) ListExecutions(ctx context.Context, jobID id.JobID, opts job.ListOpts) ([]*job.Execution, error) {
	query := `
		SELECT ` + executionColumns + ` FROM sked_executions
		WHERE job_id = ?
		ORDER BY started_at ASC, attempt ASC`
	args := []any{jobID.String()}
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	} else if opts.Offset > 0 {
		query += ` LIMIT -1`
	}
	if opts.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sked/sqlite: list executions: %w", err)
	}
	defer rows.Close()

	var execs []*job.Execution
	for rows.Next() {
		e, scanErr := scanExecution(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("sked/sqlite: list executions scan: %w", scanErr)
		}
		execs = append(execs, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sked/sqlite: list executions rows: %w", err)
	}
	return execs, nil
}

func collectJobs(rows *sql.Rows, op string) ([]*job.Job, error) {
	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("sked/sqlite: %s scan: %w", op, err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sked/sqlite: %s rows: %w", op, err)
	}
	return jobs, nil
}
