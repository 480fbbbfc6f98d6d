package job

import (
	"time"

	"github.com/runelab/sked/id"
)

// Outcome is the result of a single execution attempt.
type Outcome string

const (
	// OutcomeSuccess means the handler returned nil.
	OutcomeSuccess Outcome = "success"
	// OutcomeFailure means the handler returned an error or panicked.
	OutcomeFailure Outcome = "failure"
)

// Execution is one row of the append-only execution history: one attempt
// of one job occurrence. Immutable once written; the engine never updates
// or deletes history (retention is an external policy).
type Execution struct {
	ID         id.ExecutionID `json:"id"`
	JobID      id.JobID       `json:"job_id"`
	Attempt    int            `json:"attempt"` // 1-based within an occurrence
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Outcome    Outcome        `json:"outcome"`
	Error      string         `json:"error,omitempty"` // present iff failure
	DurationMS int64          `json:"duration_ms"`
}

// NewExecution builds an execution record for one finished attempt.
// DurationMS is derived from the two timestamps.
func NewExecution(jobID id.JobID, attempt int, startedAt, finishedAt time.Time, outcome Outcome, execErr error) *Execution {
	e := &Execution{
		ID:         id.NewExecutionID(),
		JobID:      jobID,
		Attempt:    attempt,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
		Outcome:    outcome,
		DurationMS: finishedAt.Sub(startedAt).Milliseconds(),
	}
	if execErr != nil {
		e.Error = execErr.Error()
	}
	return e
}
