// Package engine wires the sked subsystems together: the handler
// registry, hook registry, middleware chain, store, and runner. It is the
// main entry point for applications.
//
// This package sits above all subsystem packages: the root sked package
// defines Entity and the shared errors (imported by job, schedule, etc.)
// and so cannot import those packages back.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/runelab/sked"
	"github.com/runelab/sked/backoff"
	"github.com/runelab/sked/hook"
	"github.com/runelab/sked/id"
	"github.com/runelab/sked/job"
	mw "github.com/runelab/sked/middleware"
	"github.com/runelab/sked/runner"
	"github.com/runelab/sked/schedule"
)

// Engine owns the job lifecycle: registration, submission, manual
// control, and the background runner.
type Engine struct {
	cfg      sked.Config
	store    job.Store
	registry *job.Registry
	hooks    *hook.Registry
	bo       backoff.Strategy
	mws      []mw.Middleware
	logger   *slog.Logger
	runner   *runner.Runner

	// defaults holds per-definition option defaults captured at
	// registration time, keyed by definition name.
	defaults map[string]job.Options

	// optHooks collects hooks passed via WithHook; they are registered
	// after all options apply so they see the configured logger.
	optHooks []hook.Hook

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig sets the engine configuration.
func WithConfig(cfg sked.Config) Option {
	return func(e *Engine) {
		e.cfg = cfg
	}
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithBackoff sets the retry backoff strategy.
// If not set, backoff.DefaultStrategy() is used.
func WithBackoff(b backoff.Strategy) Option {
	return func(e *Engine) {
		e.bo = b
	}
}

// WithMiddleware appends middleware to the engine's chain, after the
// built-in stack.
func WithMiddleware(m mw.Middleware) Option {
	return func(e *Engine) {
		e.mws = append(e.mws, m)
	}
}

// WithHook registers a lifecycle hook with the engine.
func WithHook(h hook.Hook) Option {
	return func(e *Engine) {
		e.optHooks = append(e.optHooks, h)
	}
}

// WithTracerProvider sets a custom OTel TracerProvider.
// If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) {
		e.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom OTel MeterProvider.
// If not set, the global otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(e *Engine) {
		e.meterProvider = mp
	}
}

// New creates an Engine on the given store.
func New(store job.Store, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, sked.ErrNoStore
	}

	e := &Engine{
		cfg:      sked.DefaultConfig(),
		store:    store,
		registry: job.NewRegistry(),
		logger:   slog.Default(),
		defaults: make(map[string]job.Options),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.hooks = hook.NewRegistry(e.logger)
	for _, h := range e.optHooks {
		e.hooks.Register(h)
	}

	if e.bo == nil {
		e.bo = backoff.DefaultStrategy()
	}
	if e.cfg.PollInterval <= 0 {
		e.cfg.PollInterval = sked.DefaultConfig().PollInterval
	}
	if e.cfg.Concurrency <= 0 {
		e.cfg.Concurrency = sked.DefaultConfig().Concurrency
	}
	if e.cfg.DefaultMaxAttempts <= 0 {
		e.cfg.DefaultMaxAttempts = sked.DefaultConfig().DefaultMaxAttempts
	}

	// Build tracing middleware (custom provider or global).
	var tracingMw mw.Middleware
	if e.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(e.tracerProvider.Tracer("github.com/runelab/sked"))
	} else {
		tracingMw = mw.Tracing()
	}

	// Build metrics middleware (custom provider or global).
	var metricsMw mw.Middleware
	if e.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(e.meterProvider.Meter("github.com/runelab/sked"))
	} else {
		metricsMw = mw.Metrics()
	}

	// Default middleware stack: recover → tracing → metrics → logging → timeout.
	allMws := []mw.Middleware{
		mw.Recover(e.logger),
		tracingMw,
		metricsMw,
		mw.Logging(e.logger),
		mw.Timeout(e.logger),
	}
	allMws = append(allMws, e.mws...)

	executor := runner.NewExecutor(
		e.registry, e.hooks, e.store,
		e.bo, e.logger, e.cfg.EnableHistory,
		allMws...,
	)
	e.runner = runner.New(e.store, executor, e.hooks, e.logger,
		runner.WithPollInterval(e.cfg.PollInterval),
		runner.WithConcurrency(e.cfg.Concurrency),
	)

	if e.cfg.AutoStart {
		if err := e.Start(context.Background()); err != nil {
			return nil, err
		}
	}

	return e, nil
}

// Register registers a typed job definition with the engine. The
// definition's options become submission defaults for jobs of that name.
func Register[T any](e *Engine, def *job.Definition[T]) {
	job.RegisterDefinition(e.registry, def)
	e.defaults[def.Name] = def.Opts
}

// Submit creates a job for the named definition with a typed payload.
func Submit[T any](ctx context.Context, e *Engine, name string, payload T, opts ...job.Option) (*job.Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload for job %q: %w", name, err)
	}
	return e.SubmitRaw(ctx, name, data, opts...)
}

// SubmitRaw creates a job with a pre-serialized payload. The handler
// (the job name unless overridden) must be registered, the schedule must
// parse, and MaxAttempts must be positive after defaulting — all checked
// here so misconfigured jobs are rejected synchronously instead of
// failing in the runner.
func (e *Engine) SubmitRaw(ctx context.Context, name string, payload []byte, opts ...job.Option) (*job.Job, error) {
	jobOpts := e.defaults[name]
	for _, opt := range opts {
		opt(&jobOpts)
	}

	handler := jobOpts.Handler
	if handler == "" {
		handler = name
	}
	if _, ok := e.registry.Get(handler); !ok {
		return nil, fmt.Errorf("%w: %q", sked.ErrUnknownHandler, handler)
	}

	maxAttempts := jobOpts.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = e.cfg.DefaultMaxAttempts
	}
	if maxAttempts < 0 {
		return nil, sked.ErrInvalidMaxAttempts
	}

	var spec schedule.Spec
	if jobOpts.Schedule != "" {
		var err error
		spec, err = schedule.Parse(jobOpts.Schedule)
		if err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	var nextRunAt time.Time
	switch {
	case !jobOpts.RunAt.IsZero():
		nextRunAt = jobOpts.RunAt.UTC()
	case jobOpts.Schedule != "":
		// A syntactically valid cron can still never match (Feb 30);
		// robfig reports that as the zero time.
		nextRunAt = spec.Next(now)
		if nextRunAt.IsZero() {
			return nil, fmt.Errorf("%w: %q has no upcoming occurrence", sked.ErrInvalidSchedule, jobOpts.Schedule)
		}
	default:
		nextRunAt = now
	}

	j := &job.Job{
		Entity:      sked.NewEntity(),
		ID:          id.NewJobID(),
		Name:        name,
		Handler:     handler,
		Payload:     payload,
		Schedule:    jobOpts.Schedule,
		MaxAttempts: maxAttempts,
		Status:      job.StatusPending,
		NextRunAt:   &nextRunAt,
		Timeout:     jobOpts.Timeout,
	}

	if err := e.store.CreateJob(ctx, j); err != nil {
		return nil, err
	}

	e.hooks.EmitJobScheduled(ctx, j)
	e.logger.Info("job scheduled",
		slog.String("job_id", j.ID.String()),
		slog.String("job_name", j.Name),
		slog.String("schedule", j.Schedule),
		slog.Time("next_run_at", nextRunAt),
	)
	return j, nil
}

// GetJob retrieves a job by ID.
func (e *Engine) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return e.store.GetJob(ctx, jobID)
}

// ListJobs returns jobs matching the filter.
func (e *Engine) ListJobs(ctx context.Context, f job.Filter) ([]*job.Job, error) {
	return e.store.ListJobs(ctx, f)
}

// Patch describes a partial job update. Nil fields are left unchanged.
type Patch struct {
	Name        *string
	Schedule    *string
	MaxAttempts *int
	Payload     []byte
	Timeout     *time.Duration
}

// UpdateJob applies a partial update to a job. Returns
// sked.ErrInvalidState while the job is running: the runner owns a
// running job's row and would overwrite concurrent edits when it records
// the outcome. Changing the schedule of a pending job recomputes its
// next due time from now.
func (e *Engine) UpdateJob(ctx context.Context, jobID id.JobID, p Patch) (*job.Job, error) {
	j, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if j.Status == job.StatusRunning {
		return nil, fmt.Errorf("%w: cannot update a running job", sked.ErrInvalidState)
	}

	if p.Name != nil && *p.Name != "" {
		j.Name = *p.Name
	}
	if p.MaxAttempts != nil {
		if *p.MaxAttempts <= 0 {
			return nil, sked.ErrInvalidMaxAttempts
		}
		j.MaxAttempts = *p.MaxAttempts
	}
	if p.Payload != nil {
		j.Payload = p.Payload
	}
	if p.Timeout != nil {
		j.Timeout = *p.Timeout
	}
	if p.Schedule != nil && *p.Schedule != j.Schedule {
		if *p.Schedule != "" {
			spec, err := schedule.Parse(*p.Schedule)
			if err != nil {
				return nil, err
			}
			if j.Status == job.StatusPending {
				next := spec.Next(time.Now().UTC())
				if next.IsZero() {
					return nil, fmt.Errorf("%w: %q has no upcoming occurrence", sked.ErrInvalidSchedule, *p.Schedule)
				}
				j.NextRunAt = &next
			}
			j.Schedule = *p.Schedule
		} else {
			// Removing the schedule makes the job one-shot; a pending
			// job becomes due now rather than firing at the stale
			// schedule's time, matching a schedule-less submission.
			j.Schedule = ""
			if j.Status == job.StatusPending {
				now := time.Now().UTC()
				j.NextRunAt = &now
			}
		}
	}

	if err := e.store.UpdateJob(ctx, j); err != nil {
		return nil, err
	}
	return j, nil
}

// DeleteJob removes a job. Its execution history remains readable.
func (e *Engine) DeleteJob(ctx context.Context, jobID id.JobID) error {
	return e.store.DeleteJob(ctx, jobID)
}

// TriggerJob makes a job due immediately, outside its schedule.
// Pending and terminal jobs become due now; a running job is returned
// unchanged since an occurrence is already in flight; a disabled job
// returns sked.ErrJobDisabled.
//
// Triggering a pending job keeps its attempt counter: a job mid-retry
// runs sooner but never regains spent attempts. Only the re-arm of a
// terminal job (a manual re-run) starts a fresh occurrence.
func (e *Engine) TriggerJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	j, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	switch j.Status {
	case job.StatusDisabled:
		return nil, sked.ErrJobDisabled
	case job.StatusRunning:
		return j, nil
	}

	rerun := j.Terminal()
	now := time.Now().UTC()
	j.Status = job.StatusPending
	j.NextRunAt = &now
	if rerun {
		j.CurrentAttempt = 0
	}

	if err := e.store.UpdateJob(ctx, j); err != nil {
		return nil, err
	}

	e.hooks.EmitJobTriggered(ctx, j)
	e.logger.Info("job triggered",
		slog.String("job_id", j.ID.String()),
		slog.String("job_name", j.Name),
	)
	return j, nil
}

// DisableJob takes a job out of scheduling. A running occurrence
// finishes normally; its outcome is recorded but the job stays disabled.
func (e *Engine) DisableJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	j, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if j.Status == job.StatusDisabled {
		return j, nil
	}

	j.Status = job.StatusDisabled
	j.NextRunAt = nil
	if err := e.store.UpdateJob(ctx, j); err != nil {
		return nil, err
	}
	return j, nil
}

// EnableJob re-arms a disabled job: recurring jobs schedule their next
// occurrence from now, one-shot jobs become due immediately. Enabling a
// job that is not disabled returns sked.ErrInvalidState.
func (e *Engine) EnableJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	j, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if j.Status != job.StatusDisabled {
		return nil, fmt.Errorf("%w: job is %s, not disabled", sked.ErrInvalidState, j.Status)
	}

	now := time.Now().UTC()
	next := now
	if j.Recurring() {
		spec, err := schedule.Parse(j.Schedule)
		if err != nil {
			return nil, err
		}
		next = spec.Next(now)
		if next.IsZero() {
			return nil, fmt.Errorf("%w: %q has no upcoming occurrence", sked.ErrInvalidSchedule, j.Schedule)
		}
	}

	j.Status = job.StatusPending
	j.NextRunAt = &next
	j.CurrentAttempt = 0
	if err := e.store.UpdateJob(ctx, j); err != nil {
		return nil, err
	}
	return j, nil
}

// History returns a job's execution records, oldest first.
func (e *Engine) History(ctx context.Context, jobID id.JobID, opts job.ListOpts) ([]*job.Execution, error) {
	return e.store.ListExecutions(ctx, jobID, opts)
}

// Start launches the runner. A no-op when the engine is disabled by
// configuration, or already started. Fails if the store is unreachable.
func (e *Engine) Start(ctx context.Context) error {
	if !e.cfg.Enabled {
		e.logger.Info("engine disabled, runner not started")
		return nil
	}
	if err := e.store.Ping(ctx); err != nil {
		return fmt.Errorf("store ping: %w", err)
	}
	e.runner.Start()
	return nil
}

// Stop drains the runner. If the context carries no deadline, the
// configured ShutdownTimeout applies. In-flight handlers are never
// cancelled; on timeout they finish in the background.
func (e *Engine) Stop(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok && e.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.ShutdownTimeout)
		defer cancel()
	}
	return e.runner.Stop(ctx)
}

// Registry returns the handler registry.
func (e *Engine) Registry() *job.Registry { return e.registry }

// Hooks returns the hook registry.
func (e *Engine) Hooks() *hook.Registry { return e.hooks }

// Store returns the underlying job store.
func (e *Engine) Store() job.Store { return e.store }

// Runner returns the background runner.
func (e *Engine) Runner() *runner.Runner { return e.runner }
