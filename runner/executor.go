// Package runner provides the job execution engine — an Executor that
// invokes registered handlers through middleware and decides the
// post-execution state transition, and a Runner that polls the store for
// due jobs and executes claimed jobs concurrently.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/runelab/sked"
	"github.com/runelab/sked/backoff"
	"github.com/runelab/sked/hook"
	"github.com/runelab/sked/job"
	"github.com/runelab/sked/middleware"
	"github.com/runelab/sked/schedule"
)

// Executor runs a single claimed job through middleware and the
// registered handler, then applies the retry state machine: success
// re-arms recurring jobs or completes one-shot ones; failure schedules a
// backoff retry or, once attempts are exhausted, fails the occurrence.
// Every outcome lands in a single RecordOutcome call so job state and
// history stay consistent.
type Executor struct {
	registry *job.Registry
	hooks    *hook.Registry
	store    job.Store
	backoff  backoff.Strategy
	mw       middleware.Middleware
	logger   *slog.Logger
	history  bool

	// parsed caches parsed schedule expressions.
	parsedMu sync.RWMutex
	parsed   map[string]schedule.Spec
}

// NewExecutor creates an Executor with the given dependencies. When
// history is false no execution records are written.
func NewExecutor(
	registry *job.Registry,
	hooks *hook.Registry,
	store job.Store,
	bo backoff.Strategy,
	logger *slog.Logger,
	history bool,
	mws ...middleware.Middleware,
) *Executor {
	return &Executor{
		registry: registry,
		hooks:    hooks,
		store:    store,
		backoff:  bo,
		mw:       middleware.Chain(mws...),
		logger:   logger,
		history:  history,
		parsed:   make(map[string]schedule.Spec),
	}
}

// Execute runs a claimed job (status running) to its next state.
// The returned error reports the attempt outcome for logging; the runner
// loop never treats it as fatal.
func (e *Executor) Execute(ctx context.Context, j *job.Job) error {
	e.hooks.EmitJobStarted(ctx, j)

	handler, ok := e.registry.Get(j.Handler)
	if !ok {
		// Configuration failure: retrying cannot fix a missing handler,
		// so the occurrence fails immediately without burning retries.
		return e.failConfiguration(ctx, j, fmt.Errorf("%w: %q", sked.ErrUnknownHandler, j.Handler))
	}

	startedAt := time.Now().UTC()

	// The terminal handler that calls the registered job handler.
	terminal := func(ctx context.Context) error {
		return handler(ctx, j.Payload)
	}

	err := e.mw(ctx, j, terminal)
	finishedAt := time.Now().UTC()
	j.UpdatedAt = finishedAt

	if err != nil {
		return e.handleFailure(ctx, j, err, startedAt, finishedAt)
	}

	return e.handleSuccess(ctx, j, startedAt, finishedAt)
}

// handleSuccess completes the occurrence: recurring jobs return to
// pending with the next occurrence computed from the finish time,
// one-shot jobs become succeeded (terminal).
func (e *Executor) handleSuccess(ctx context.Context, j *job.Job, startedAt, finishedAt time.Time) error {
	attempt := j.CurrentAttempt + 1
	j.CurrentAttempt = 0
	j.LastError = ""

	if j.Recurring() {
		next, parseErr := e.nextOccurrence(j.Schedule, finishedAt)
		if parseErr != nil {
			// The stored expression no longer parses; treat as a
			// configuration failure rather than silently stalling.
			return e.failConfiguration(ctx, j, parseErr)
		}
		if next.IsZero() {
			// The schedule has no further occurrence. Re-arming on the
			// zero time would make the job permanently due.
			j.Status = job.StatusSucceeded
			j.NextRunAt = nil
		} else {
			j.Status = job.StatusPending
			j.NextRunAt = &next
		}
	} else {
		j.Status = job.StatusSucceeded
		j.NextRunAt = nil
	}

	exec := e.executionRecord(j, attempt, startedAt, finishedAt, job.OutcomeSuccess, nil)
	if updateErr := e.store.RecordOutcome(ctx, j, exec); updateErr != nil {
		e.logger.Error("failed to record job success",
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.Name),
			slog.String("error", updateErr.Error()),
		)
		return updateErr
	}

	e.hooks.EmitJobSucceeded(ctx, j, finishedAt.Sub(startedAt))
	return nil
}

// handleFailure increments the attempt counter and either schedules a
// retry with backoff or ends the occurrence.
func (e *Executor) handleFailure(ctx context.Context, j *job.Job, handlerErr error, startedAt, finishedAt time.Time) error {
	j.CurrentAttempt++
	j.LastError = handlerErr.Error()
	exec := e.executionRecord(j, j.CurrentAttempt, startedAt, finishedAt, job.OutcomeFailure, handlerErr)

	if j.CurrentAttempt < j.MaxAttempts {
		return e.scheduleRetry(ctx, j, exec, handlerErr, finishedAt)
	}

	return e.exhaust(ctx, j, exec, handlerErr, finishedAt)
}

// scheduleRetry returns the job to pending with a backoff delay.
func (e *Executor) scheduleRetry(ctx context.Context, j *job.Job, exec *job.Execution, handlerErr error, now time.Time) error {
	delay := e.backoff.Delay(j.CurrentAttempt)
	next := now.Add(delay)
	j.Status = job.StatusPending
	j.NextRunAt = &next

	if updateErr := e.store.RecordOutcome(ctx, j, exec); updateErr != nil {
		e.logger.Error("failed to record retry",
			slog.String("job_id", j.ID.String()),
			slog.String("error", updateErr.Error()),
		)
		return updateErr
	}

	e.hooks.EmitJobRetrying(ctx, j, j.CurrentAttempt, next)

	e.logger.Info("job scheduled for retry",
		slog.String("job_id", j.ID.String()),
		slog.String("job_name", j.Name),
		slog.Int("attempt", j.CurrentAttempt),
		slog.Int("max_attempts", j.MaxAttempts),
		slog.Duration("delay", delay),
	)

	return fmt.Errorf("job %s attempt %d/%d: %w", j.Name, j.CurrentAttempt, j.MaxAttempts, handlerErr)
}

// exhaust ends an occurrence whose retry budget is spent. One-shot jobs
// fail terminally; recurring jobs re-arm for their next occurrence with
// the attempt counter reset, so one bad occurrence never permanently
// disables a recurring job.
func (e *Executor) exhaust(ctx context.Context, j *job.Job, exec *job.Execution, handlerErr error, now time.Time) error {
	attempts := j.CurrentAttempt

	if j.Recurring() {
		next, parseErr := e.nextOccurrence(j.Schedule, now)
		if parseErr != nil || next.IsZero() {
			j.Status = job.StatusFailed
			j.NextRunAt = nil
		} else {
			j.CurrentAttempt = 0
			j.Status = job.StatusPending
			j.NextRunAt = &next
		}
	} else {
		j.Status = job.StatusFailed
		j.NextRunAt = nil
	}

	if updateErr := e.store.RecordOutcome(ctx, j, exec); updateErr != nil {
		e.logger.Error("failed to record exhausted job",
			slog.String("job_id", j.ID.String()),
			slog.String("error", updateErr.Error()),
		)
		return updateErr
	}

	e.hooks.EmitJobFailed(ctx, j, handlerErr)

	e.logger.Warn("job exhausted retry budget",
		slog.String("job_id", j.ID.String()),
		slog.String("job_name", j.Name),
		slog.Int("attempts", attempts),
		slog.Bool("rearmed", j.Recurring() && j.Status == job.StatusPending),
		slog.String("error", handlerErr.Error()),
	)

	return handlerErr
}

// failConfiguration fails the occurrence immediately: no retry is
// scheduled and the attempt counter never advances past the first
// attempt.
func (e *Executor) failConfiguration(ctx context.Context, j *job.Job, cfgErr error) error {
	now := time.Now().UTC()
	if j.CurrentAttempt == 0 {
		j.CurrentAttempt = 1
	}
	j.Status = job.StatusFailed
	j.NextRunAt = nil
	j.LastError = cfgErr.Error()

	exec := e.executionRecord(j, j.CurrentAttempt, now, now, job.OutcomeFailure, cfgErr)
	if updateErr := e.store.RecordOutcome(ctx, j, exec); updateErr != nil {
		e.logger.Error("failed to record configuration failure",
			slog.String("job_id", j.ID.String()),
			slog.String("error", updateErr.Error()),
		)
		return updateErr
	}

	e.hooks.EmitJobFailed(ctx, j, cfgErr)

	e.logger.Error("job failed on configuration error",
		slog.String("job_id", j.ID.String()),
		slog.String("job_name", j.Name),
		slog.String("error", cfgErr.Error()),
	)

	return cfgErr
}

// executionRecord builds a history record, or nil when history is off.
func (e *Executor) executionRecord(j *job.Job, attempt int, startedAt, finishedAt time.Time, outcome job.Outcome, execErr error) *job.Execution {
	if !e.history {
		return nil
	}
	return job.NewExecution(j.ID, attempt, startedAt, finishedAt, outcome, execErr)
}

// nextOccurrence caches parsed schedule expressions.
func (e *Executor) nextOccurrence(expr string, from time.Time) (time.Time, error) {
	e.parsedMu.RLock()
	spec, ok := e.parsed[expr]
	e.parsedMu.RUnlock()
	if !ok {
		var err error
		spec, err = schedule.Parse(expr)
		if err != nil {
			return time.Time{}, err
		}

		e.parsedMu.Lock()
		e.parsed[expr] = spec
		e.parsedMu.Unlock()
	}
	return spec.Next(from), nil
}
