package audit_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/runelab/sked/audit"
	"github.com/runelab/sked/id"
	"github.com/runelab/sked/job"
)

// mockRecorder captures audit events for verification.
type mockRecorder struct {
	mu     sync.Mutex
	err    error
	events []*audit.Event
}

func (m *mockRecorder) Record(_ context.Context, evt *audit.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
	return m.err
}

func (m *mockRecorder) last() *audit.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.events) == 0 {
		return nil
	}
	return m.events[len(m.events)-1]
}

func (m *mockRecorder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func newTestJob() *job.Job {
	return &job.Job{
		ID:          id.NewJobID(),
		Name:        "send-email",
		Handler:     "send-email",
		Schedule:    "15m",
		MaxAttempts: 3,
	}
}

func TestHookName(t *testing.T) {
	h := audit.New(&mockRecorder{})
	if h.Name() != "audit" {
		t.Errorf("expected name %q, got %q", "audit", h.Name())
	}
}

func TestJobScheduledEvent(t *testing.T) {
	rec := &mockRecorder{}
	h := audit.New(rec)

	j := newTestJob()
	if err := h.OnJobScheduled(context.Background(), j); err != nil {
		t.Fatalf("OnJobScheduled: %v", err)
	}

	evt := rec.last()
	if evt == nil {
		t.Fatal("no event recorded")
	}
	if evt.Action != audit.ActionJobScheduled {
		t.Errorf("action = %q, want %q", evt.Action, audit.ActionJobScheduled)
	}
	if evt.ResourceID != j.ID.String() {
		t.Errorf("resource_id = %q, want job ID", evt.ResourceID)
	}
	if evt.Metadata["schedule"] != "15m" {
		t.Errorf("metadata schedule = %v, want 15m", evt.Metadata["schedule"])
	}
	if evt.Severity != audit.SeverityInfo || evt.Outcome != audit.OutcomeSuccess {
		t.Errorf("severity/outcome = %q/%q, want info/success", evt.Severity, evt.Outcome)
	}
}

func TestJobFailedEvent(t *testing.T) {
	rec := &mockRecorder{}
	h := audit.New(rec)

	j := newTestJob()
	j.CurrentAttempt = 3
	jobErr := errors.New("smtp unavailable")
	if err := h.OnJobFailed(context.Background(), j, jobErr); err != nil {
		t.Fatalf("OnJobFailed: %v", err)
	}

	evt := rec.last()
	if evt.Severity != audit.SeverityCritical || evt.Outcome != audit.OutcomeFailure {
		t.Errorf("severity/outcome = %q/%q, want critical/failure", evt.Severity, evt.Outcome)
	}
	if evt.Reason != "smtp unavailable" {
		t.Errorf("reason = %q, want error message", evt.Reason)
	}
	if evt.Metadata["attempts"] != 3 {
		t.Errorf("metadata attempts = %v, want 3", evt.Metadata["attempts"])
	}
}

func TestJobRetryingEvent(t *testing.T) {
	rec := &mockRecorder{}
	h := audit.New(rec)

	next := time.Now().UTC().Add(time.Minute)
	if err := h.OnJobRetrying(context.Background(), newTestJob(), 2, next); err != nil {
		t.Fatalf("OnJobRetrying: %v", err)
	}

	evt := rec.last()
	if evt.Action != audit.ActionJobRetrying {
		t.Errorf("action = %q, want %q", evt.Action, audit.ActionJobRetrying)
	}
	if evt.Metadata["attempt"] != 2 {
		t.Errorf("metadata attempt = %v, want 2", evt.Metadata["attempt"])
	}
	if evt.Metadata["next_run_at"] != next.Format(time.RFC3339) {
		t.Errorf("metadata next_run_at = %v", evt.Metadata["next_run_at"])
	}
}

func TestWithActionsFilter(t *testing.T) {
	rec := &mockRecorder{}
	h := audit.New(rec, audit.WithActions(audit.ActionJobFailed))

	ctx := context.Background()
	j := newTestJob()
	if err := h.OnJobScheduled(ctx, j); err != nil {
		t.Fatalf("OnJobScheduled: %v", err)
	}
	if err := h.OnJobSucceeded(ctx, j, time.Second); err != nil {
		t.Fatalf("OnJobSucceeded: %v", err)
	}
	if rec.count() != 0 {
		t.Fatalf("filtered actions recorded %d events, want 0", rec.count())
	}

	if err := h.OnJobFailed(ctx, j, errors.New("boom")); err != nil {
		t.Fatalf("OnJobFailed: %v", err)
	}
	if rec.count() != 1 {
		t.Fatalf("enabled action recorded %d events, want 1", rec.count())
	}
}

func TestRecorderErrorsAreSwallowed(t *testing.T) {
	rec := &mockRecorder{err: errors.New("audit backend down")}
	h := audit.New(rec)

	// A failing backend must never surface into job processing.
	if err := h.OnJobTriggered(context.Background(), newTestJob()); err != nil {
		t.Fatalf("OnJobTriggered = %v, want nil despite recorder error", err)
	}
}

func TestAllActionsCoversHook(t *testing.T) {
	rec := &mockRecorder{}
	h := audit.New(rec, audit.WithActions(audit.AllActions()...))

	ctx := context.Background()
	j := newTestJob()
	h.OnJobScheduled(ctx, j)
	h.OnJobStarted(ctx, j)
	h.OnJobSucceeded(ctx, j, time.Second)
	h.OnJobRetrying(ctx, j, 1, time.Now())
	h.OnJobFailed(ctx, j, errors.New("boom"))
	h.OnJobTriggered(ctx, j)

	if rec.count() != len(audit.AllActions()) {
		t.Fatalf("recorded %d events, want %d", rec.count(), len(audit.AllActions()))
	}
}
