package postgres

import (
	"fmt"
	"time"

	"github.com/runelab/sked/id"
	"github.com/runelab/sked/job"
)

// rowScanner covers both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(sc rowScanner) (*job.Job, error) {
	var (
		rawID     string
		nextRunAt *time.Time
		timeoutNS int64
		j         job.Job
	)
	err := sc.Scan(
		&rawID, &j.Name, &j.Handler, &j.Payload, &j.Schedule, &j.MaxAttempts, &j.Status,
		&nextRunAt, &j.CurrentAttempt, &j.LastError, &timeoutNS, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if j.ID, err = id.ParseJobID(rawID); err != nil {
		return nil, fmt.Errorf("job id: %w", err)
	}
	j.NextRunAt = nextRunAt
	j.Timeout = time.Duration(timeoutNS)
	return &j, nil
}

func scanExecution(sc rowScanner) (*job.Execution, error) {
	var (
		rawID, rawJobID string
		e               job.Execution
	)
	err := sc.Scan(
		&rawID, &rawJobID, &e.Attempt, &e.StartedAt, &e.FinishedAt, &e.Outcome, &e.Error, &e.DurationMS,
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
	return &e, nil
}
