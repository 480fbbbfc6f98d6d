package runner

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/runelab/sked"
	"github.com/runelab/sked/hook"
	"github.com/runelab/sked/id"
	"github.com/runelab/sked/job"
)

// Option configures a Runner.
type Option func(*Runner)

// WithPollInterval sets how often the runner scans for due jobs.
func WithPollInterval(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.pollInterval = d
		}
	}
}

// WithConcurrency bounds the number of jobs executing at once.
func WithConcurrency(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithClaimLimiter applies a rate limit to job claims, smoothing store
// load when a large batch of jobs becomes due simultaneously.
func WithClaimLimiter(l *rate.Limiter) Option {
	return func(r *Runner) { r.limiter = l }
}

// Runner polls the store for due jobs, claims them one at a time and
// executes each claimed job on its own goroutine, bounded by the
// concurrency limit.
//
// Claiming goes through the store's compare-and-swap, so multiple
// runners (or multiple processes) can share one store without a job
// ever running twice for the same occurrence.
type Runner struct {
	id       id.RunnerID
	store    job.Store
	executor *Executor
	hooks    *hook.Registry
	logger   *slog.Logger

	pollInterval time.Duration
	concurrency  int
	limiter      *rate.Limiter

	mu       sync.Mutex
	running  bool
	stopCh   chan struct{}
	wg       sync.WaitGroup // poll loop
	inFlight sync.WaitGroup // executing jobs
	sem      chan struct{}
}

// New creates a Runner. The executor must share the same store.
func New(store job.Store, executor *Executor, hooks *hook.Registry, logger *slog.Logger, opts ...Option) *Runner {
	r := &Runner{
		id:           id.NewRunnerID(),
		store:        store,
		executor:     executor,
		hooks:        hooks,
		logger:       logger,
		pollInterval: time.Second,
		concurrency:  10,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ID returns the runner's unique identifier.
func (r *Runner) ID() id.RunnerID { return r.id }

// Running reports whether the poll loop is active.
func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Start launches the poll loop. Idempotent; a stopped runner can be
// started again.
func (r *Runner) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}
	r.running = true
	r.stopCh = make(chan struct{})
	r.sem = make(chan struct{}, r.concurrency)

	r.wg.Add(1)
	go r.loop(r.stopCh)

	r.logger.Info("runner started",
		slog.String("runner_id", r.id.String()),
		slog.Duration("poll_interval", r.pollInterval),
		slog.Int("concurrency", r.concurrency),
	)
}

// Stop halts polling and waits for in-flight jobs to finish, up to the
// context deadline. Handlers are never cancelled: on timeout Stop
// returns the context error and the remaining jobs run to completion in
// the background. Idempotent.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	close(r.stopCh)
	r.mu.Unlock()

	r.wg.Wait()

	done := make(chan struct{})
	go func() {
		r.inFlight.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.hooks.EmitRunnerStopped(ctx)
		r.logger.Info("runner stopped", slog.String("runner_id", r.id.String()))
		return nil
	case <-ctx.Done():
		r.logger.Warn("runner stop timed out with jobs in flight",
			slog.String("runner_id", r.id.String()),
		)
		return ctx.Err()
	}
}

func (r *Runner) loop(stopCh chan struct{}) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	// First cycle immediately so due jobs don't wait a full interval.
	r.cycle(stopCh)

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			r.cycle(stopCh)
		}
	}
}

// cycle claims and dispatches every due job it can. A concurrency slot
// is acquired before claiming so a claimed job never sits waiting for a
// free slot while marked running.
func (r *Runner) cycle(stopCh chan struct{}) {
	ctx := context.Background()
	now := time.Now().UTC()

	due, err := r.store.ListDue(ctx, now)
	if err != nil {
		r.logger.Error("failed to list due jobs",
			slog.String("runner_id", r.id.String()),
			slog.String("error", err.Error()),
		)
		return
	}

	for _, j := range due {
		select {
		case <-stopCh:
			return
		case r.sem <- struct{}{}:
		}

		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				<-r.sem
				return
			}
		}

		claimed, err := r.store.ClaimJob(ctx, j.ID)
		if err != nil {
			<-r.sem
			// Lost the race to another runner, or the job changed state
			// between the list and the claim. Both are expected.
			if errors.Is(err, sked.ErrAlreadyClaimed) || errors.Is(err, sked.ErrJobNotFound) {
				continue
			}
			r.logger.Error("failed to claim job",
				slog.String("runner_id", r.id.String()),
				slog.String("job_id", j.ID.String()),
				slog.String("error", err.Error()),
			)
			continue
		}

		r.inFlight.Add(1)
		go func(cj *job.Job) {
			defer r.inFlight.Done()
			defer func() { <-r.sem }()

			if execErr := r.executor.Execute(ctx, cj); execErr != nil {
				r.logger.Debug("job attempt failed",
					slog.String("runner_id", r.id.String()),
					slog.String("job_id", cj.ID.String()),
					slog.String("job_name", cj.Name),
					slog.String("error", execErr.Error()),
				)
			}
		}(claimed)
	}
}
