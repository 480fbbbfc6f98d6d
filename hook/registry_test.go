package hook_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/runelab/sked/hook"
	"github.com/runelab/sked/id"
	"github.com/runelab/sked/job"
)

// recordingHook opts in to job success and failure events.
type recordingHook struct {
	name      string
	succeeded []string
	failed    []string
	err       error
}

func (h *recordingHook) Name() string { return h.name }

func (h *recordingHook) OnJobSucceeded(_ context.Context, j *job.Job, _ time.Duration) error {
	h.succeeded = append(h.succeeded, j.Name)
	return h.err
}

func (h *recordingHook) OnJobFailed(_ context.Context, j *job.Job, _ error) error {
	h.failed = append(h.failed, j.Name)
	return h.err
}

func TestFanOut(t *testing.T) {
	t.Parallel()
	r := hook.NewRegistry(nil)

	h1 := &recordingHook{name: "first"}
	h2 := &recordingHook{name: "second"}
	r.Register(h1)
	r.Register(h2)

	j := &job.Job{ID: id.NewJobID(), Name: "fanout"}
	r.EmitJobSucceeded(context.Background(), j, time.Millisecond)

	for _, h := range []*recordingHook{h1, h2} {
		if len(h.succeeded) != 1 || h.succeeded[0] != "fanout" {
			t.Errorf("hook %s succeeded = %v, want [fanout]", h.name, h.succeeded)
		}
	}
}

func TestHookErrorsAreSwallowed(t *testing.T) {
	t.Parallel()
	r := hook.NewRegistry(nil)

	failing := &recordingHook{name: "failing", err: errors.New("hook broke")}
	after := &recordingHook{name: "after"}
	r.Register(failing)
	r.Register(after)

	j := &job.Job{ID: id.NewJobID(), Name: "resilient"}
	r.EmitJobFailed(context.Background(), j, errors.New("job error"))

	// The failing hook must not prevent later hooks from running.
	if len(after.failed) != 1 {
		t.Errorf("hook after failing one not notified: %v", after.failed)
	}
}

func TestUnimplementedEventsAreSkipped(t *testing.T) {
	t.Parallel()
	r := hook.NewRegistry(nil)
	r.Register(&recordingHook{name: "partial"})

	// recordingHook does not implement JobStarted or RunnerStopped;
	// emitting those events must be a no-op, not a panic.
	j := &job.Job{ID: id.NewJobID(), Name: "partial"}
	r.EmitJobStarted(context.Background(), j)
	r.EmitJobTriggered(context.Background(), j)
	r.EmitRunnerStopped(context.Background())
}

func TestRegistrationOrder(t *testing.T) {
	t.Parallel()
	r := hook.NewRegistry(nil)

	var order []string
	for _, name := range []string{"a", "b", "c"} {
		n := name
		r.Register(&orderedHook{name: n, order: &order})
	}

	r.EmitJobSucceeded(context.Background(), &job.Job{ID: id.NewJobID()}, 0)
	want := "abc"
	got := ""
	for _, n := range order {
		got += n
	}
	if got != want {
		t.Errorf("notification order = %q, want %q", got, want)
	}
}

type orderedHook struct {
	name  string
	order *[]string
}

func (h *orderedHook) Name() string { return h.name }

func (h *orderedHook) OnJobSucceeded(_ context.Context, _ *job.Job, _ time.Duration) error {
	*h.order = append(*h.order, h.name)
	return nil
}
