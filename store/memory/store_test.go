package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/runelab/sked"
	"github.com/runelab/sked/id"
	"github.com/runelab/sked/job"
)

func newJob(name string, status job.Status, due time.Time) *job.Job {
	return &job.Job{
		Entity:      sked.NewEntity(),
		ID:          id.NewJobID(),
		Name:        name,
		Handler:     "noop",
		Payload:     []byte(`{"test":true}`),
		MaxAttempts: 3,
		Status:      status,
		NextRunAt:   &due,
	}
}

func TestLifecycle(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if err := s.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Ping(ctx); !errors.Is(err, sked.ErrStoreClosed) {
		t.Fatalf("Ping after Close = %v, want ErrStoreClosed", err)
	}
	if _, err := s.GetJob(ctx, id.NewJobID()); !errors.Is(err, sked.ErrStoreClosed) {
		t.Fatalf("GetJob after Close = %v, want ErrStoreClosed", err)
	}
}

func TestCreateAndGet(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	j := newJob("create-get", job.StatusPending, time.Now().UTC())

	tests := []struct {
		name    string
		fn      func() error
		wantErr error
	}{
		{
			name:    "create new job",
			fn:      func() error { return s.CreateJob(ctx, j) },
			wantErr: nil,
		},
		{
			name:    "create duplicate job",
			fn:      func() error { return s.CreateJob(ctx, j) },
			wantErr: sked.ErrJobAlreadyExists,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.fn(); !errors.Is(err, tt.wantErr) {
				t.Fatalf("got error %v, want %v", err, tt.wantErr)
			}
		})
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Name != j.Name {
		t.Fatalf("got name %q, want %q", got.Name, j.Name)
	}

	_, err = s.GetJob(ctx, id.NewJobID())
	if !errors.Is(err, sked.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	j := newJob("isolated", job.StatusPending, time.Now().UTC())
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	got, _ := s.GetJob(ctx, j.ID)
	got.Name = "mutated"

	again, _ := s.GetJob(ctx, j.ID)
	if again.Name != "isolated" {
		t.Fatalf("store row mutated through returned copy: %q", again.Name)
	}
}

func TestUpdateAndDelete(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	j := newJob("update-delete", job.StatusPending, time.Now().UTC())
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	j.Name = "renamed"
	if err := s.UpdateJob(ctx, j); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}
	got, _ := s.GetJob(ctx, j.ID)
	if got.Name != "renamed" {
		t.Fatalf("got name %q, want %q", got.Name, "renamed")
	}

	if err := s.DeleteJob(ctx, j.ID); err != nil {
		t.Fatalf("DeleteJob: %v", err)
	}
	if err := s.DeleteJob(ctx, j.ID); !errors.Is(err, sked.ErrJobNotFound) {
		t.Fatalf("second delete = %v, want ErrJobNotFound", err)
	}
	if err := s.UpdateJob(ctx, j); !errors.Is(err, sked.ErrJobNotFound) {
		t.Fatalf("update after delete = %v, want ErrJobNotFound", err)
	}
}

func TestListJobsFilterAndPagination(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	now := time.Now().UTC()
	for i, st := range []job.Status{
		job.StatusPending, job.StatusPending, job.StatusFailed, job.StatusDisabled,
	} {
		j := newJob("list", st, now)
		j.CreatedAt = now.Add(time.Duration(i) * time.Millisecond)
		if err := s.CreateJob(ctx, j); err != nil {
			t.Fatalf("CreateJob: %v", err)
		}
	}

	all, err := s.ListJobs(ctx, job.Filter{})
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("got %d jobs, want 4", len(all))
	}

	pending, _ := s.ListJobs(ctx, job.Filter{Status: job.StatusPending})
	if len(pending) != 2 {
		t.Fatalf("got %d pending jobs, want 2", len(pending))
	}

	page, _ := s.ListJobs(ctx, job.Filter{Limit: 2, Offset: 3})
	if len(page) != 1 {
		t.Fatalf("got %d jobs at offset 3, want 1", len(page))
	}

	empty, _ := s.ListJobs(ctx, job.Filter{Offset: 10})
	if len(empty) != 0 {
		t.Fatalf("got %d jobs past the end, want 0", len(empty))
	}
}

func TestListDueOrdering(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	now := time.Now().UTC()
	later := newJob("later", job.StatusPending, now.Add(-time.Second))
	earlier := newJob("earlier", job.StatusPending, now.Add(-time.Minute))
	future := newJob("future", job.StatusPending, now.Add(time.Hour))
	running := newJob("running", job.StatusRunning, now.Add(-time.Minute))
	unscheduled := newJob("unscheduled", job.StatusPending, now)
	unscheduled.NextRunAt = nil

	for _, j := range []*job.Job{later, earlier, future, running, unscheduled} {
		if err := s.CreateJob(ctx, j); err != nil {
			t.Fatalf("CreateJob: %v", err)
		}
	}

	due, err := s.ListDue(ctx, now)
	if err != nil {
		t.Fatalf("ListDue: %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("got %d due jobs, want 2", len(due))
	}
	if due[0].Name != "earlier" || due[1].Name != "later" {
		t.Fatalf("due order = %q, %q; want earlier, later", due[0].Name, due[1].Name)
	}
}

func TestClaimJob(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	j := newJob("claim", job.StatusPending, time.Now().UTC())
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	claimed, err := s.ClaimJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("ClaimJob: %v", err)
	}
	if claimed.Status != job.StatusRunning {
		t.Fatalf("claimed status = %q, want running", claimed.Status)
	}

	if _, err := s.ClaimJob(ctx, j.ID); !errors.Is(err, sked.ErrAlreadyClaimed) {
		t.Fatalf("second claim = %v, want ErrAlreadyClaimed", err)
	}
	if _, err := s.ClaimJob(ctx, id.NewJobID()); !errors.Is(err, sked.ErrJobNotFound) {
		t.Fatalf("claim of unknown job = %v, want ErrJobNotFound", err)
	}
}

func TestClaimJobConcurrent(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	j := newJob("race", job.StatusPending, time.Now().UTC())
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	const claimers = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0

	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.ClaimJob(ctx, j.ID); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			} else if !errors.Is(err, sked.ErrAlreadyClaimed) {
				t.Errorf("unexpected claim error: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("%d claimers succeeded, want exactly 1", wins)
	}
}

func TestRecordOutcome(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	j := newJob("outcome", job.StatusPending, time.Now().UTC())
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if _, err := s.ClaimJob(ctx, j.ID); err != nil {
		t.Fatalf("ClaimJob: %v", err)
	}

	started := time.Now().UTC()
	finished := started.Add(50 * time.Millisecond)
	exec := job.NewExecution(j.ID, 1, started, finished, job.OutcomeSuccess, nil)

	j.Status = job.StatusSucceeded
	j.NextRunAt = nil
	if err := s.RecordOutcome(ctx, j, exec); err != nil {
		t.Fatalf("RecordOutcome: %v", err)
	}

	got, _ := s.GetJob(ctx, j.ID)
	if got.Status != job.StatusSucceeded {
		t.Fatalf("status = %q, want succeeded", got.Status)
	}

	hist, err := s.ListExecutions(ctx, j.ID, job.ListOpts{})
	if err != nil {
		t.Fatalf("ListExecutions: %v", err)
	}
	if len(hist) != 1 {
		t.Fatalf("got %d executions, want 1", len(hist))
	}
	if hist[0].DurationMS != 50 {
		t.Fatalf("duration = %dms, want 50ms", hist[0].DurationMS)
	}
}

func TestRecordOutcomePreservesDisabled(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	j := newJob("disabled-mid-run", job.StatusPending, time.Now().UTC())
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	claimed, err := s.ClaimJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("ClaimJob: %v", err)
	}

	// Operator disables the job while the handler runs.
	disabled := *claimed
	disabled.Status = job.StatusDisabled
	disabled.NextRunAt = nil
	if err := s.UpdateJob(ctx, &disabled); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}

	next := time.Now().UTC().Add(time.Minute)
	claimed.Status = job.StatusPending
	claimed.NextRunAt = &next
	exec := job.NewExecution(j.ID, 1, time.Now().UTC(), time.Now().UTC(), job.OutcomeSuccess, nil)
	if err := s.RecordOutcome(ctx, claimed, exec); err != nil {
		t.Fatalf("RecordOutcome: %v", err)
	}

	got, _ := s.GetJob(ctx, j.ID)
	if got.Status != job.StatusDisabled {
		t.Fatalf("status = %q, want disabled to survive the running attempt", got.Status)
	}
	if got.NextRunAt != nil {
		t.Fatal("disabled job has NextRunAt set")
	}

	hist, _ := s.ListExecutions(ctx, j.ID, job.ListOpts{})
	if len(hist) != 1 {
		t.Fatalf("got %d executions, want 1", len(hist))
	}
}

func TestListExecutionsOrderAndPagination(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	j := newJob("history", job.StatusPending, time.Now().UTC())
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	base := time.Now().UTC()
	for i := 3; i >= 1; i-- {
		started := base.Add(time.Duration(i) * time.Second)
		exec := job.NewExecution(j.ID, i, started, started.Add(time.Millisecond), job.OutcomeFailure, errors.New("boom"))
		if err := s.RecordOutcome(ctx, j, exec); err != nil {
			t.Fatalf("RecordOutcome: %v", err)
		}
	}

	hist, err := s.ListExecutions(ctx, j.ID, job.ListOpts{})
	if err != nil {
		t.Fatalf("ListExecutions: %v", err)
	}
	if len(hist) != 3 {
		t.Fatalf("got %d executions, want 3", len(hist))
	}
	for i, e := range hist {
		if e.Attempt != i+1 {
			t.Fatalf("hist[%d].Attempt = %d, want %d", i, e.Attempt, i+1)
		}
	}

	page, _ := s.ListExecutions(ctx, j.ID, job.ListOpts{Limit: 1, Offset: 1})
	if len(page) != 1 || page[0].Attempt != 2 {
		t.Fatalf("paginated history = %+v, want single attempt 2", page)
	}

	none, _ := s.ListExecutions(ctx, id.NewJobID(), job.ListOpts{})
	if len(none) != 0 {
		t.Fatalf("got %d executions for unknown job, want 0", len(none))
	}
}

func TestHistorySurvivesJobDeletion(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	j := newJob("ephemeral", job.StatusPending, time.Now().UTC())
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	now := time.Now().UTC()
	exec := job.NewExecution(j.ID, 1, now, now, job.OutcomeSuccess, nil)
	if err := s.RecordOutcome(ctx, j, exec); err != nil {
		t.Fatalf("RecordOutcome: %v", err)
	}

	if err := s.DeleteJob(ctx, j.ID); err != nil {
		t.Fatalf("DeleteJob: %v", err)
	}

	hist, err := s.ListExecutions(ctx, j.ID, job.ListOpts{})
	if err != nil {
		t.Fatalf("ListExecutions: %v", err)
	}
	if len(hist) != 1 {
		t.Fatalf("history lost after job deletion: got %d rows, want 1", len(hist))
	}
}
