// Package postgres provides a job store backed by PostgreSQL via pgx.
// Multiple processes can share one database: the claim compare-and-swap
// is a single guarded UPDATE, so each due occurrence runs exactly once
// across the fleet.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/runelab/sked/job"
)

var _ job.Store = (*Store)(nil)

// Store is a PostgreSQL implementation of job.Store.
type Store struct {
	pool   *pgxpool.Pool
	owned  bool
	logger *slog.Logger
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Open connects to the database at dsn and returns a Store that owns the
// pool.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("sked/postgres: connect: %w", err)
	}
	s := New(pool, opts...)
	s.owned = true
	return s, nil
}

// New wraps an existing pool. The caller owns the pool lifecycle --
// Close() will not close it.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{
		pool:   pool,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Pool returns the underlying pgx pool for advanced usage.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS sked_jobs (
			id              TEXT PRIMARY KEY,
			name            TEXT NOT NULL,
			handler         TEXT NOT NULL,
			payload         BYTEA,
			schedule        TEXT NOT NULL DEFAULT '',
			max_attempts    INTEGER NOT NULL DEFAULT 3,
			status          TEXT NOT NULL DEFAULT 'pending',
			next_run_at     TIMESTAMPTZ,
			current_attempt INTEGER NOT NULL DEFAULT 0,
			last_error      TEXT NOT NULL DEFAULT '',
			timeout_ns      BIGINT NOT NULL DEFAULT 0,
			created_at      TIMESTAMPTZ NOT NULL,
			updated_at      TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sked_jobs_due
			ON sked_jobs (next_run_at ASC, id ASC)
			WHERE status = 'pending'`,
		`CREATE INDEX IF NOT EXISTS idx_sked_jobs_status
			ON sked_jobs (status)`,
		`CREATE TABLE IF NOT EXISTS sked_executions (
			id          TEXT PRIMARY KEY,
			job_id      TEXT NOT NULL,
			attempt     INTEGER NOT NULL,
			started_at  TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ NOT NULL,
			outcome     TEXT NOT NULL,
			error       TEXT NOT NULL DEFAULT '',
			duration_ms BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sked_executions_job
			ON sked_executions (job_id, started_at ASC, attempt ASC)`,
	} {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("sked/postgres: migrate: %w", err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the pool if the store opened it.
func (s *Store) Close() error {
	if s.owned {
		s.pool.Close()
	}
	return nil
}

// ── helpers ──────────────────────────────────────────────────────

// isDuplicateKey checks for a unique constraint violation (23505).
func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
