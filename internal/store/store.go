// Package store is the typed database gateway: CRUD for ProxyEntry,
// Certificate, ClusterNode, and AcmeChallenge, plus the advisory-lock
// primitives the distributed lock layer builds on.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a lookup by id/token finds no row.
var ErrNotFound = errors.New("not found")

// Store wraps the single-connection pool to the coordinating database.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store over an already-connected pool. Callers are expected
// to have configured the pool with MaxConns=1 (see platform.NewPostgresPool)
// so that advisory lock session semantics hold.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Pool exposes the underlying pool for readiness probes.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// TryAdvisoryLock attempts to acquire a session-scoped, non-reentrant
// Postgres advisory lock without blocking. It returns false (not an error)
// if the lock is already held by another session.
func (s *Store) TryAdvisoryLock(ctx context.Context, lockID int64) (bool, error) {
	var acquired bool
	err := s.pool.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", lockID).Scan(&acquired)
	if err != nil {
		return false, fmt.Errorf("acquiring advisory lock %d: %w", lockID, err)
	}
	return acquired, nil
}

// ReleaseAdvisoryLock releases a previously acquired advisory lock. It is
// idempotent: releasing a lock this session does not hold is a no-op as far
// as the caller is concerned (Postgres reports false, which we swallow).
func (s *Store) ReleaseAdvisoryLock(ctx context.Context, lockID int64) error {
	var released bool
	err := s.pool.QueryRow(ctx, "SELECT pg_advisory_unlock($1)", lockID).Scan(&released)
	if err != nil {
		return fmt.Errorf("releasing advisory lock %d: %w", lockID, err)
	}
	return nil
}
