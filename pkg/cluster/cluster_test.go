package cluster

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ridgeline/proxyguard/internal/store"
)

// fakeStore is an in-memory NodeStore for heartbeat/admin unit tests.
type fakeStore struct {
	nodes map[string]store.ClusterNode
}

func newFakeStore() *fakeStore {
	return &fakeStore{nodes: make(map[string]store.ClusterNode)}
}

func (f *fakeStore) UpsertNode(_ context.Context, n store.ClusterNode) (store.ClusterNode, error) {
	f.nodes[n.InstanceID] = n
	return n, nil
}

func (f *fakeStore) GetNode(_ context.Context, id string) (store.ClusterNode, error) {
	n, ok := f.nodes[id]
	if !ok {
		return store.ClusterNode{}, store.ErrNotFound
	}
	return n, nil
}

func (f *fakeStore) ListNodes(_ context.Context) ([]store.ClusterNode, error) {
	var out []store.ClusterNode
	for _, n := range f.nodes {
		out = append(out, n)
	}
	return out, nil
}

func (f *fakeStore) ListNodesByStatus(_ context.Context, status store.NodeStatus) ([]store.ClusterNode, error) {
	var out []store.ClusterNode
	for _, n := range f.nodes {
		if n.Status == status {
			out = append(out, n)
		}
	}
	return out, nil
}

func (f *fakeStore) ListLeaders(_ context.Context) ([]store.ClusterNode, error) {
	var out []store.ClusterNode
	for _, n := range f.nodes {
		if n.IsLeader {
			out = append(out, n)
		}
	}
	return out, nil
}

func (f *fakeStore) SetNodeLeader(_ context.Context, id string, isLeader bool) error {
	n := f.nodes[id]
	n.IsLeader = isLeader
	f.nodes[id] = n
	return nil
}

func (f *fakeStore) SetNodeStatus(_ context.Context, id string, status store.NodeStatus) error {
	n := f.nodes[id]
	n.Status = status
	if status != store.NodeStatusActive {
		n.IsLeader = false
	}
	f.nodes[id] = n
	return nil
}

func (f *fakeStore) DemoteStaleNodes(_ context.Context, cutoff time.Time) (int64, error) {
	var count int64
	for id, n := range f.nodes {
		if n.Status == store.NodeStatusActive && n.LastHeartbeat.Before(cutoff) {
			n.Status = store.NodeStatusStale
			n.IsLeader = false
			f.nodes[id] = n
			count++
		}
	}
	return count, nil
}

func (f *fakeStore) DeleteDeadNodes(_ context.Context, cutoff time.Time) (int64, error) {
	var count int64
	for id, n := range f.nodes {
		if (n.Status == store.NodeStatusStale || n.Status == store.NodeStatusInactive) && n.LastHeartbeat.Before(cutoff) {
			delete(f.nodes, id)
			count++
		}
	}
	return count, nil
}

// fakeLeader is a local in-memory Leader (no DB round-trip), used to drive
// heartbeat tests deterministically.
type fakeLeader struct {
	leader bool
}

func (f *fakeLeader) IsLeader() bool { return f.leader }
func (f *fakeLeader) TryAcquireLeaderLock(context.Context) (bool, error) {
	f.leader = true
	return true, nil
}
func (f *fakeLeader) ReleaseLeaderLock(context.Context) error {
	f.leader = false
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSplitBrainRepair(t *testing.T) {
	st := newFakeStore()
	now := time.Now()

	// N1 and N2 both claim leadership; N2 has the fresher heartbeat.
	st.nodes["n1"] = store.ClusterNode{InstanceID: "n1", Status: store.NodeStatusActive, IsLeader: true, LastHeartbeat: now.Add(-10 * time.Second)}
	st.nodes["n2"] = store.ClusterNode{InstanceID: "n2", Status: store.NodeStatusActive, IsLeader: true, LastHeartbeat: now}

	leader := &fakeLeader{leader: true}
	svc := New(st, leader, testLogger(), nil, "n1", DefaultConfig("host", "", "v1"))

	if err := svc.heartbeat(context.Background()); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}

	if leader.IsLeader() {
		t.Fatal("n1 should have released the leader lock after detecting split-brain")
	}
	if st.nodes["n1"].IsLeader {
		t.Fatal("n1 row should no longer be marked leader")
	}
}

func TestHeartbeatClaimsVacantLeadership(t *testing.T) {
	st := newFakeStore()
	leader := &fakeLeader{}
	svc := New(st, leader, testLogger(), nil, "me", DefaultConfig("host", "", "v1"))

	if err := svc.heartbeat(context.Background()); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}

	if !leader.IsLeader() {
		t.Fatal("expected heartbeat to claim the leader lock when none is held")
	}
	if !st.nodes["me"].IsLeader {
		t.Fatal("node row should reflect new leadership after the same tick's upsert")
	}
}

func TestHeartbeatDoesNotClaimWhenLeaderAlreadyActive(t *testing.T) {
	st := newFakeStore()
	st.nodes["other"] = store.ClusterNode{InstanceID: "other", Status: store.NodeStatusActive, IsLeader: true, LastHeartbeat: time.Now()}
	leader := &fakeLeader{}
	svc := New(st, leader, testLogger(), nil, "me", DefaultConfig("host", "", "v1"))

	if err := svc.heartbeat(context.Background()); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}

	if leader.IsLeader() {
		t.Fatal("should not claim leadership while another active leader exists")
	}
	if st.nodes["me"].IsLeader {
		t.Fatal("node row should not be marked leader")
	}
}

func TestEnforceSingleLeaderKeepsFreshest(t *testing.T) {
	st := newFakeStore()
	now := time.Now()
	st.nodes["old"] = store.ClusterNode{InstanceID: "old", IsLeader: true, LastHeartbeat: now.Add(-time.Minute)}
	st.nodes["new"] = store.ClusterNode{InstanceID: "new", IsLeader: true, LastHeartbeat: now}

	svc := New(st, &fakeLeader{}, testLogger(), nil, "old", DefaultConfig("host", "", "v1"))

	demoted, err := svc.EnforceSingleLeader(context.Background())
	if err != nil {
		t.Fatalf("EnforceSingleLeader: %v", err)
	}
	if !demoted {
		t.Fatal("expected a demotion to occur")
	}
	if st.nodes["old"].IsLeader {
		t.Fatal("old node should be demoted")
	}
	if !st.nodes["new"].IsLeader {
		t.Fatal("new node should remain leader")
	}
}

func TestCleanupDemotesStaleAndDeletesDead(t *testing.T) {
	st := newFakeStore()
	now := time.Now()
	cfg := DefaultConfig("host", "", "v1")

	st.nodes["stale-candidate"] = store.ClusterNode{
		InstanceID: "stale-candidate", Status: store.NodeStatusActive, LastHeartbeat: now.Add(-cfg.StaleAfter - time.Second),
	}
	st.nodes["dead-candidate"] = store.ClusterNode{
		InstanceID: "dead-candidate", Status: store.NodeStatusStale, LastHeartbeat: now.Add(-cfg.DeleteAfter - time.Second),
	}
	st.nodes["healthy"] = store.ClusterNode{
		InstanceID: "healthy", Status: store.NodeStatusActive, LastHeartbeat: now,
	}

	svc := New(st, &fakeLeader{}, testLogger(), nil, "healthy", cfg)

	res, err := svc.Cleanup(context.Background())
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if res.Demoted != 1 {
		t.Errorf("expected 1 demoted, got %d", res.Demoted)
	}
	if res.Deleted != 1 {
		t.Errorf("expected 1 deleted, got %d", res.Deleted)
	}
	if _, ok := st.nodes["dead-candidate"]; ok {
		t.Fatal("dead-candidate should have been deleted")
	}
	if st.nodes["stale-candidate"].Status != store.NodeStatusStale {
		t.Fatal("stale-candidate should now be stale")
	}
}

func TestEnsureLeaderExistsNoOpWhenLeaderPresent(t *testing.T) {
	st := newFakeStore()
	st.nodes["other"] = store.ClusterNode{InstanceID: "other", Status: store.NodeStatusActive, IsLeader: true, LastHeartbeat: time.Now()}

	svc := New(st, &fakeLeader{}, testLogger(), nil, "me", DefaultConfig("host", "", "v1"))

	acquired, err := svc.EnsureLeaderExists(context.Background())
	if err != nil {
		t.Fatalf("EnsureLeaderExists: %v", err)
	}
	if acquired {
		t.Fatal("should not attempt acquisition when a leader already exists")
	}
}

func TestEnsureLeaderExistsAcquiresWhenAbsent(t *testing.T) {
	st := newFakeStore()
	leader := &fakeLeader{}
	svc := New(st, leader, testLogger(), nil, "me", DefaultConfig("host", "", "v1"))
	st.nodes["me"] = store.ClusterNode{InstanceID: "me", Status: store.NodeStatusActive, LastHeartbeat: time.Now()}

	acquired, err := svc.EnsureLeaderExists(context.Background())
	if err != nil {
		t.Fatalf("EnsureLeaderExists: %v", err)
	}
	if !acquired {
		t.Fatal("expected to acquire leadership when none exists")
	}
	if !st.nodes["me"].IsLeader {
		t.Fatal("node row should reflect new leadership after heartbeat refresh")
	}
}

func TestGetStatsReportsMultipleLeaders(t *testing.T) {
	st := newFakeStore()
	now := time.Now()
	st.nodes["a"] = store.ClusterNode{InstanceID: "a", Status: store.NodeStatusActive, IsLeader: true, LastHeartbeat: now}
	st.nodes["b"] = store.ClusterNode{InstanceID: "b", Status: store.NodeStatusActive, IsLeader: true, LastHeartbeat: now}
	st.nodes["c"] = store.ClusterNode{InstanceID: "c", Status: store.NodeStatusStale, LastHeartbeat: now}

	svc := New(st, &fakeLeader{}, testLogger(), nil, "a", DefaultConfig("host", "", "v1"))

	stats, err := svc.GetStats(context.Background())
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if !stats.MultipleLeaders {
		t.Fatal("expected MultipleLeaders=true")
	}
	if stats.CountsByStatus[store.NodeStatusActive] != 2 {
		t.Errorf("expected 2 active, got %d", stats.CountsByStatus[store.NodeStatusActive])
	}
}
