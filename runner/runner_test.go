package runner_test

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/runelab/sked/hook"
	"github.com/runelab/sked/job"
	"github.com/runelab/sked/runner"
	"github.com/runelab/sked/store/memory"
)

func newRunner(s job.Store, e *runner.Executor, opts ...runner.Option) *runner.Runner {
	return runner.New(s, e, hook.NewRegistry(nil), slog.Default(), opts...)
}

// waitFor polls cond until it returns true or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestRunnerExecutesDueJob(t *testing.T) {
	t.Parallel()
	s := memory.New()
	ctx := context.Background()

	var calls atomic.Int32
	reg := job.NewRegistry()
	reg.RegisterFunc("count", func(_ context.Context, _ []byte) error {
		calls.Add(1)
		return nil
	})
	e := newExecutor(reg, s, true)

	j := pendingJob("due-now", "count", "", 3)
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	r := newRunner(s, e, runner.WithPollInterval(10*time.Millisecond))
	r.Start()
	defer r.Stop(context.Background())

	waitFor(t, 2*time.Second, func() bool { return calls.Load() == 1 })

	got, _ := s.GetJob(ctx, j.ID)
	if got.Status != job.StatusSucceeded {
		t.Fatalf("status = %q, want succeeded", got.Status)
	}
}

func TestRunnerSkipsFutureJobs(t *testing.T) {
	t.Parallel()
	s := memory.New()
	ctx := context.Background()

	var calls atomic.Int32
	reg := job.NewRegistry()
	reg.RegisterFunc("count", func(_ context.Context, _ []byte) error {
		calls.Add(1)
		return nil
	})
	e := newExecutor(reg, s, true)

	j := pendingJob("tomorrow", "count", "", 3)
	future := time.Now().UTC().Add(24 * time.Hour)
	j.NextRunAt = &future
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	r := newRunner(s, e, runner.WithPollInterval(10*time.Millisecond))
	r.Start()
	time.Sleep(100 * time.Millisecond)
	if err := r.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if calls.Load() != 0 {
		t.Fatalf("future job ran %d times", calls.Load())
	}
	got, _ := s.GetJob(ctx, j.ID)
	if got.Status != job.StatusPending {
		t.Fatalf("status = %q, want pending", got.Status)
	}
}

func TestRunnerConcurrencyLimit(t *testing.T) {
	t.Parallel()
	s := memory.New()
	ctx := context.Background()

	var active, peak atomic.Int32
	release := make(chan struct{})
	reg := job.NewRegistry()
	reg.RegisterFunc("slow", func(_ context.Context, _ []byte) error {
		n := active.Add(1)
		defer active.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		return nil
	})
	e := newExecutor(reg, s, true)

	for i := 0; i < 6; i++ {
		if err := s.CreateJob(ctx, pendingJob("slow", "slow", "", 1)); err != nil {
			t.Fatalf("CreateJob: %v", err)
		}
	}

	r := newRunner(s, e,
		runner.WithPollInterval(10*time.Millisecond),
		runner.WithConcurrency(2),
	)
	r.Start()

	waitFor(t, 2*time.Second, func() bool { return active.Load() == 2 })
	time.Sleep(50 * time.Millisecond)
	if got := peak.Load(); got > 2 {
		t.Fatalf("peak concurrency = %d, want at most 2", got)
	}

	close(release)
	if err := r.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestRunnerStopWaitsForInFlight(t *testing.T) {
	t.Parallel()
	s := memory.New()
	ctx := context.Background()

	started := make(chan struct{})
	var finished atomic.Bool
	reg := job.NewRegistry()
	reg.RegisterFunc("slow", func(_ context.Context, _ []byte) error {
		close(started)
		time.Sleep(100 * time.Millisecond)
		finished.Store(true)
		return nil
	})
	e := newExecutor(reg, s, true)

	if err := s.CreateJob(ctx, pendingJob("draining", "slow", "", 1)); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	r := newRunner(s, e, runner.WithPollInterval(10*time.Millisecond))
	r.Start()
	<-started

	if err := r.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !finished.Load() {
		t.Fatal("Stop returned before the in-flight job finished")
	}
}

func TestRunnerStopTimeout(t *testing.T) {
	t.Parallel()
	s := memory.New()
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	reg := job.NewRegistry()
	reg.RegisterFunc("stuck", func(_ context.Context, _ []byte) error {
		close(started)
		<-release
		return nil
	})
	e := newExecutor(reg, s, true)

	if err := s.CreateJob(ctx, pendingJob("stuck", "stuck", "", 1)); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	r := newRunner(s, e, runner.WithPollInterval(10*time.Millisecond))
	r.Start()
	<-started

	stopCtx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := r.Stop(stopCtx); err != context.DeadlineExceeded {
		t.Fatalf("Stop = %v, want DeadlineExceeded", err)
	}
	close(release)
}

func TestRunnerRestart(t *testing.T) {
	t.Parallel()
	s := memory.New()
	ctx := context.Background()

	var calls atomic.Int32
	reg := job.NewRegistry()
	reg.RegisterFunc("count", func(_ context.Context, _ []byte) error {
		calls.Add(1)
		return nil
	})
	e := newExecutor(reg, s, true)

	r := newRunner(s, e, runner.WithPollInterval(10*time.Millisecond))
	r.Start()
	if err := r.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if r.Running() {
		t.Fatal("runner still running after Stop")
	}

	// Second start must work on the same runner.
	if err := s.CreateJob(ctx, pendingJob("second-life", "count", "", 1)); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	r.Start()
	defer r.Stop(context.Background())

	waitFor(t, 2*time.Second, func() bool { return calls.Load() == 1 })
}

func TestRunnersShareStoreWithoutDoubleRuns(t *testing.T) {
	t.Parallel()
	s := memory.New()
	ctx := context.Background()

	var calls atomic.Int32
	reg := job.NewRegistry()
	reg.RegisterFunc("once", func(_ context.Context, _ []byte) error {
		calls.Add(1)
		return nil
	})

	const jobs = 20
	for i := 0; i < jobs; i++ {
		if err := s.CreateJob(ctx, pendingJob("shared", "once", "", 1)); err != nil {
			t.Fatalf("CreateJob: %v", err)
		}
	}

	// Two runners race on the same store; the claim CAS must ensure each
	// job runs exactly once.
	var runners []*runner.Runner
	for i := 0; i < 2; i++ {
		e := newExecutor(reg, s, false)
		r := newRunner(s, e, runner.WithPollInterval(5*time.Millisecond))
		r.Start()
		runners = append(runners, r)
	}

	waitFor(t, 5*time.Second, func() bool {
		done, err := s.ListJobs(ctx, job.Filter{Status: job.StatusSucceeded})
		return err == nil && len(done) == jobs
	})

	var wg sync.WaitGroup
	for _, r := range runners {
		wg.Add(1)
		go func(r *runner.Runner) {
			defer wg.Done()
			r.Stop(context.Background())
		}(r)
	}
	wg.Wait()

	if calls.Load() != jobs {
		t.Fatalf("handlers ran %d times for %d jobs", calls.Load(), jobs)
	}
}

func TestRunnerStartIdempotent(t *testing.T) {
	t.Parallel()
	s := memory.New()

	e := newExecutor(job.NewRegistry(), s, true)
	r := newRunner(s, e, runner.WithPollInterval(10*time.Millisecond))

	r.Start()
	r.Start()
	if !r.Running() {
		t.Fatal("runner not running after Start")
	}
	if err := r.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := r.Stop(context.Background()); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}
