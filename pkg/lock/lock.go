// Package lock implements the distributed, non-reentrant advisory lock
// layer: named locks backed by a Postgres advisory lock id, plus the
// leader-lock convenience wrappers the rest of the control plane is gated
// behind.
package lock

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/ridgeline/proxyguard/internal/telemetry"
)

// LeaderLockName is the single lock name that determines cluster
// leadership. It is the sole source of truth for "who may issue
// certificates and run renewal sweeps" — ClusterNode.isLeader is a
// read-model projection of whoever holds this lock.
const LeaderLockName = "cluster:leader"

// ErrNotAcquired is returned by WithLock when every retry attempt failed to
// acquire the named lock.
var ErrNotAcquired = errors.New("lock not acquired")

// AdvisoryLocker is the subset of the database gateway the lock manager
// needs. DB errors surface as "not acquired" — the conservative behavior
// this package mandates.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, lockID int64) (bool, error)
	ReleaseAdvisoryLock(ctx context.Context, lockID int64) error
}

type heldLock struct {
	name       string
	lockID     int64
	acquiredAt time.Time
}

// Manager is a constructed collaborator, not a process-global singleton,
// so that concurrent test instances never share locking state.
type Manager struct {
	db         AdvisoryLocker
	logger     *slog.Logger
	instanceID string

	mu    sync.Mutex
	held  map[string]heldLock
}

// NewManager creates a lock Manager over the given advisory-lock gateway.
// instanceID is assigned once at process start and exposed read-only.
func NewManager(db AdvisoryLocker, logger *slog.Logger, instanceID string) *Manager {
	return &Manager{
		db:         db,
		logger:     logger,
		instanceID: instanceID,
		held:       make(map[string]heldLock),
	}
}

// InstanceID returns this process's assigned instance id.
func (m *Manager) InstanceID() string {
	return m.instanceID
}

// lockID derives a stable positive 32-bit-range integer id from a lock
// name via FNV-1a, folded into the positive int64 range so it fits
// pg_try_advisory_lock's bigint argument.
func lockID(name string) int64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	v := int64(h.Sum32())
	if v < 0 {
		v = -v
	}
	return v
}

// TryAcquire makes a single, non-blocking attempt to acquire the named
// lock. On success the lock is recorded in the local held-lock map.
func (m *Manager) TryAcquire(ctx context.Context, name string) (bool, error) {
	id := lockID(name)

	acquired, err := m.db.TryAdvisoryLock(ctx, id)
	if err != nil {
		m.logger.Warn("advisory lock acquisition error, treating as not acquired",
			"lock", name, "error", err)
		return false, nil
	}
	if !acquired {
		return false, nil
	}

	m.mu.Lock()
	m.held[name] = heldLock{name: name, lockID: id, acquiredAt: time.Now()}
	m.mu.Unlock()

	telemetry.LocksAcquiredTotal.WithLabelValues(name).Inc()
	return true, nil
}

// Release releases the named lock and drops the local bookkeeping entry.
// Releasing a lock this manager does not believe it holds logs a warning
// but still issues the DB release call (idempotent no-op if unheld there
// too).
func (m *Manager) Release(ctx context.Context, name string) error {
	id := lockID(name)

	m.mu.Lock()
	_, tracked := m.held[name]
	delete(m.held, name)
	m.mu.Unlock()

	if !tracked {
		m.logger.Warn("releasing lock not held by this manager", "lock", name)
	}

	if err := m.db.ReleaseAdvisoryLock(ctx, id); err != nil {
		return fmt.Errorf("releasing lock %q: %w", name, err)
	}
	return nil
}

// WithLockOptions configures WithLock's retry behavior.
type WithLockOptions struct {
	Retries int
	Delay   time.Duration
}

// DefaultWithLockOptions is the bounded-retry policy applied to transient
// DB errors: up to 3 attempts, 1 second apart.
var DefaultWithLockOptions = WithLockOptions{Retries: 3, Delay: time.Second}

// WithLock attempts to acquire name up to opts.Retries times with a fixed
// delay between attempts, runs fn while holding it, and releases the lock
// on every exit path (success, fn error, or context cancellation). If the
// lock could never be acquired, it returns ErrNotAcquired and fn is not
// called.
func (m *Manager) WithLock(ctx context.Context, name string, opts WithLockOptions, fn func(ctx context.Context) error) error {
	var acquired bool
	var err error

	for attempt := 0; attempt < max(opts.Retries, 1); attempt++ {
		acquired, err = m.TryAcquire(ctx, name)
		if err != nil {
			return err
		}
		if acquired {
			break
		}
		if attempt < opts.Retries-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(opts.Delay):
			}
		}
	}

	if !acquired {
		return ErrNotAcquired
	}

	defer func() {
		releaseCtx := context.WithoutCancel(ctx)
		if relErr := m.Release(releaseCtx, name); relErr != nil {
			m.logger.Error("releasing lock after withLock", "lock", name, "error", relErr)
		}
	}()

	return fn(ctx)
}

// IsLeader is a pure local check: true iff this manager currently believes
// it holds the leader lock. It never attempts acquisition.
func (m *Manager) IsLeader() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.held[LeaderLockName]
	return ok
}

// TryAcquireLeaderLock is a convenience wrapper over TryAcquire(LeaderLockName).
func (m *Manager) TryAcquireLeaderLock(ctx context.Context) (bool, error) {
	return m.TryAcquire(ctx, LeaderLockName)
}

// ReleaseLeaderLock is a convenience wrapper over Release(LeaderLockName).
func (m *Manager) ReleaseLeaderLock(ctx context.Context) error {
	return m.Release(ctx, LeaderLockName)
}
