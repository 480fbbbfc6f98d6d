// Package memory provides a fully in-memory job store. Safe for
// concurrent access. Intended for unit testing and development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/runelab/sked"
	"github.com/runelab/sked/id"
	"github.com/runelab/sked/job"
)

var _ job.Store = (*Store)(nil)

// Store keeps jobs and execution history in maps guarded by one RWMutex.
// The claim compare-and-swap holds the write lock, so at most one caller
// can move a given job from pending to running.
type Store struct {
	mu sync.RWMutex

	jobs       map[string]*job.Job
	executions map[string][]*job.Execution // key: job ID
	closed     bool
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		jobs:       make(map[string]*job.Job),
		executions: make(map[string][]*job.Execution),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle — Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping reports whether the store is open.
func (m *Store) Ping(_ context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return sked.ErrStoreClosed
	}
	return nil
}

// Close marks the store closed. Subsequent operations fail.
func (m *Store) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// ──────────────────────────────────────────────────
// Jobs
// ──────────────────────────────────────────────────

// CreateJob persists a new job.
func (m *Store) CreateJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return sked.ErrStoreClosed
	}

	key := j.ID.String()
	if _, exists := m.jobs[key]; exists {
		return sked.ErrJobAlreadyExists
	}
	cp := *j
	m.jobs[key] = &cp
	return nil
}

// GetJob retrieves a job by ID.
func (m *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, sked.ErrStoreClosed
	}

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, sked.ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

// UpdateJob persists changes to an existing job.
func (m *Store) UpdateJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return sked.ErrStoreClosed
	}

	key := j.ID.String()
	if _, ok := m.jobs[key]; !ok {
		return sked.ErrJobNotFound
	}
	cp := *j
	cp.UpdatedAt = time.Now().UTC()
	m.jobs[key] = &cp
	return nil
}

// DeleteJob removes a job by ID. Its execution history remains.
func (m *Store) DeleteJob(_ context.Context, jobID id.JobID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return sked.ErrStoreClosed
	}

	key := jobID.String()
	if _, ok := m.jobs[key]; !ok {
		return sked.ErrJobNotFound
	}
	delete(m.jobs, key)
	return nil
}

// ListJobs returns jobs matching the filter, ordered by CreatedAt.
func (m *Store) ListJobs(_ context.Context, f job.Filter) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, sked.ErrStoreClosed
	}

	result := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if f.Status != "" && j.Status != f.Status {
			continue
		}
		cp := *j
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, k int) bool {
		if !result[i].CreatedAt.Equal(result[k].CreatedAt) {
			return result[i].CreatedAt.Before(result[k].CreatedAt)
		}
		return result[i].ID.String() < result[k].ID.String()
	})

	if f.Offset > 0 {
		if f.Offset >= len(result) {
			return nil, nil
		}
		result = result[f.Offset:]
	}
	if f.Limit > 0 && len(result) > f.Limit {
		result = result[:f.Limit]
	}

	return result, nil
}

// ListDue returns pending jobs due at or before now, ordered by
// NextRunAt ascending with ties broken by ID.
func (m *Store) ListDue(_ context.Context, now time.Time) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, sked.ErrStoreClosed
	}

	var due []*job.Job
	for _, j := range m.jobs {
		if j.Status != job.StatusPending {
			continue
		}
		if j.NextRunAt == nil || j.NextRunAt.After(now) {
			continue
		}
		cp := *j
		due = append(due, &cp)
	}

	sort.Slice(due, func(i, k int) bool {
		if !due[i].NextRunAt.Equal(*due[k].NextRunAt) {
			return due[i].NextRunAt.Before(*due[k].NextRunAt)
		}
		return due[i].ID.String() < due[k].ID.String()
	})

	return due, nil
}

// ClaimJob atomically transitions a pending job to running.
func (m *Store) ClaimJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, sked.ErrStoreClosed
	}

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, sked.ErrJobNotFound
	}
	if j.Status != job.StatusPending {
		return nil, sked.ErrAlreadyClaimed
	}

	j.Status = job.StatusRunning
	j.UpdatedAt = time.Now().UTC()
	cp := *j
	return &cp, nil
}

// RecordOutcome persists the post-execution job state and appends the
// execution record in one atomic step. If the job was disabled while it
// ran, the disabled status wins but the history record is still kept.
func (m *Store) RecordOutcome(_ context.Context, j *job.Job, exec *job.Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return sked.ErrStoreClosed
	}

	key := j.ID.String()
	stored, ok := m.jobs[key]
	if !ok {
		// Deleted while running. Keep the history row, drop the state.
		if exec != nil {
			m.executions[key] = append(m.executions[key], exec)
		}
		return nil
	}

	cp := *j
	cp.UpdatedAt = time.Now().UTC()
	if stored.Status == job.StatusDisabled {
		cp.Status = job.StatusDisabled
		cp.NextRunAt = nil
	}
	m.jobs[key] = &cp

	if exec != nil {
		m.executions[key] = append(m.executions[key], exec)
	}
	return nil
}

// ──────────────────────────────────────────────────
// Execution history
// ──────────────────────────────────────────────────

// ListExecutions returns the job's history ordered by StartedAt then
// attempt, paginated.
func (m *Store) ListExecutions(_ context.Context, jobID id.JobID, opts job.ListOpts) ([]*job.Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, sked.ErrStoreClosed
	}

	stored := m.executions[jobID.String()]
	result := make([]*job.Execution, len(stored))
	for i, e := range stored {
		cp := *e
		result[i] = &cp
	}

	sort.Slice(result, func(i, k int) bool {
		if !result[i].StartedAt.Equal(result[k].StartedAt) {
			return result[i].StartedAt.Before(result[k].StartedAt)
		}
		return result[i].Attempt < result[k].Attempt
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}

	return result, nil
}
