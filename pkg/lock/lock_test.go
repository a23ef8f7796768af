package lock

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// fakeDB is an in-memory stand-in for the Postgres advisory lock gateway,
// shared across Manager instances the way a real DB session would be
// shared, so tests can exercise cross-manager contention.
type fakeDB struct {
	mu      sync.Mutex
	held    map[int64]bool
	failAll bool
}

func newFakeDB() *fakeDB {
	return &fakeDB{held: make(map[int64]bool)}
}

func (f *fakeDB) TryAdvisoryLock(_ context.Context, id int64) (bool, error) {
	if f.failAll {
		return false, errors.New("connection lost")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held[id] {
		return false, nil
	}
	f.held[id] = true
	return true, nil
}

func (f *fakeDB) ReleaseAdvisoryLock(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.held, id)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTryAcquireSingleWinner(t *testing.T) {
	db := newFakeDB()
	m1 := NewManager(db, testLogger(), "node-1")
	m2 := NewManager(db, testLogger(), "node-2")

	ok1, err := m1.TryAcquire(context.Background(), "cluster:leader")
	if err != nil || !ok1 {
		t.Fatalf("m1.TryAcquire = %v, %v", ok1, err)
	}

	ok2, err := m2.TryAcquire(context.Background(), "cluster:leader")
	if err != nil {
		t.Fatalf("m2.TryAcquire error: %v", err)
	}
	if ok2 {
		t.Fatal("m2 should not have acquired a lock held by m1")
	}
}

func TestReleaseAllowsReacquisition(t *testing.T) {
	db := newFakeDB()
	m1 := NewManager(db, testLogger(), "node-1")
	m2 := NewManager(db, testLogger(), "node-2")
	ctx := context.Background()

	ok, _ := m1.TryAcquire(ctx, "cluster:leader")
	if !ok {
		t.Fatal("expected m1 to acquire")
	}
	if err := m1.Release(ctx, "cluster:leader"); err != nil {
		t.Fatalf("release: %v", err)
	}

	ok, err := m2.TryAcquire(ctx, "cluster:leader")
	if err != nil || !ok {
		t.Fatalf("m2.TryAcquire after release = %v, %v", ok, err)
	}
}

func TestIsLeaderIsLocalAndPure(t *testing.T) {
	db := newFakeDB()
	m := NewManager(db, testLogger(), "node-1")

	if m.IsLeader() {
		t.Fatal("should not be leader before acquiring")
	}
	if _, err := m.TryAcquireLeaderLock(context.Background()); err != nil {
		t.Fatalf("acquire leader lock: %v", err)
	}
	if !m.IsLeader() {
		t.Fatal("should be leader after acquiring")
	}
}

func TestWithLockReleasesOnSuccess(t *testing.T) {
	db := newFakeDB()
	m := NewManager(db, testLogger(), "node-1")
	ctx := context.Background()

	ran := false
	err := m.WithLock(ctx, "job", DefaultWithLockOptions, func(ctx context.Context) error {
		ran = true
		if !m.IsLeader() && db.held[lockID("job")] != true {
			t.Fatal("lock should be held while fn runs")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithLock error: %v", err)
	}
	if !ran {
		t.Fatal("fn did not run")
	}
	if db.held[lockID("job")] {
		t.Fatal("lock should be released after WithLock returns")
	}
}

func TestWithLockReleasesOnError(t *testing.T) {
	db := newFakeDB()
	m := NewManager(db, testLogger(), "node-1")
	ctx := context.Background()

	boom := errors.New("boom")
	err := m.WithLock(ctx, "job", DefaultWithLockOptions, func(ctx context.Context) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom error, got %v", err)
	}
	if db.held[lockID("job")] {
		t.Fatal("lock should be released even when fn errors")
	}
}

func TestWithLockNotAcquiredWhenContended(t *testing.T) {
	db := newFakeDB()
	holder := NewManager(db, testLogger(), "node-1")
	contender := NewManager(db, testLogger(), "node-2")
	ctx := context.Background()

	if _, err := holder.TryAcquire(ctx, "job"); err != nil {
		t.Fatalf("holder acquire: %v", err)
	}

	called := false
	err := contender.WithLock(ctx, "job", WithLockOptions{Retries: 2, Delay: time.Millisecond}, func(ctx context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrNotAcquired) {
		t.Fatalf("expected ErrNotAcquired, got %v", err)
	}
	if called {
		t.Fatal("fn must not run when lock was never acquired")
	}
}

func TestTryAcquireDBErrorSurfacesAsNotAcquired(t *testing.T) {
	db := newFakeDB()
	db.failAll = true
	m := NewManager(db, testLogger(), "node-1")

	ok, err := m.TryAcquire(context.Background(), "job")
	if err != nil {
		t.Fatalf("expected nil error (conservative not-acquired), got %v", err)
	}
	if ok {
		t.Fatal("expected not acquired on DB error")
	}
}

func TestLockIDStableAndPositive(t *testing.T) {
	id1 := lockID("cluster:leader")
	id2 := lockID("cluster:leader")
	if id1 != id2 {
		t.Fatalf("lockID not stable: %d != %d", id1, id2)
	}
	if id1 < 0 {
		t.Fatalf("lockID produced negative id: %d", id1)
	}
	if lockID("a") == lockID("b") {
		t.Fatal("different names collided (unlikely but check)")
	}
}
