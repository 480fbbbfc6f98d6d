package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/runelab/sked/id"
	"github.com/runelab/sked/job"
)

// Timestamps are stored as RFC3339Nano TEXT so lexicographic ordering in
// SQL matches chronological ordering.
const timeLayout = time.RFC3339Nano

const jobColumns = `id, name, handler, payload, schedule, max_attempts, status,
	next_run_at, current_attempt, last_error, timeout_ns, created_at, updated_at`

const executionColumns = `id, job_id, attempt, started_at, finished_at, outcome, error, duration_ms`

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(sc rowScanner) (*job.Job, error) {
	var (
		rawID, createdAt, updatedAt string
		nextRunAt                   sql.NullString
		timeoutNS                   int64
		j                           job.Job
	)
	err := sc.Scan(
		&rawID, &j.Name, &j.Handler, &j.Payload, &j.Schedule, &j.MaxAttempts, &j.Status,
		&nextRunAt, &j.CurrentAttempt, &j.LastError, &timeoutNS, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if j.ID, err = id.ParseJobID(rawID); err != nil {
		return nil, fmt.Errorf("job id: %w", err)
	}
	if j.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if j.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if nextRunAt.Valid {
		t, err := parseTime(nextRunAt.String)
		if err != nil {
			return nil, err
		}
		j.NextRunAt = &t
	}
	j.Timeout = time.Duration(timeoutNS)
	return &j, nil
}

func scanExecution(sc rowScanner) (*job.Execution, error) {
	var (
		rawID, rawJobID, startedAt, finishedAt string
		e                                      job.Execution
	)
	err := sc.Scan(
		&rawID, &rawJobID, &e.Attempt, &startedAt, &finishedAt, &e.Outcome, &e.Error, &e.DurationMS,
	)
	if err != nil {
		return nil, err
	}

	if e.ID, err = id.ParseExecutionID(rawID); err != nil {
		return nil, fmt.Errorf("execution id: %w", err)
	}
	if e.JobID, err = id.ParseJobID(rawJobID); err != nil {
		return nil, fmt.Errorf("execution job id: %w", err)
	}
	if e.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, err
	}
	if e.FinishedAt, err = parseTime(finishedAt); err != nil {
		return nil, err
	}
	return &e, nil
}
