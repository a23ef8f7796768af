package cluster

import (
	"context"
	"fmt"

	"github.com/ridgeline/proxyguard/internal/store"
	"github.com/ridgeline/proxyguard/internal/telemetry"
)

// GetActiveNodes returns every node currently in the active status.
func (s *Service) GetActiveNodes(ctx context.Context) ([]store.ClusterNode, error) {
	nodes, err := s.store.ListNodesByStatus(ctx, store.NodeStatusActive)
	if err != nil {
		return nil, fmt.Errorf("listing active nodes: %w", err)
	}
	return nodes, nil
}

// GetLeaderNode returns the active node flagged isLeader=true, or
// store.ErrNotFound if none exists.
func (s *Service) GetLeaderNode(ctx context.Context) (store.ClusterNode, error) {
	leaders, err := s.store.ListLeaders(ctx)
	if err != nil {
		return store.ClusterNode{}, fmt.Errorf("listing leaders: %w", err)
	}
	for _, n := range leaders {
		if n.Status == store.NodeStatusActive {
			return n, nil
		}
	}
	return store.ClusterNode{}, store.ErrNotFound
}

// Stats summarizes cluster membership for the observability surface.
type Stats struct {
	CountsByStatus  map[store.NodeStatus]int
	Leaders         []store.ClusterNode
	MultipleLeaders bool
}

// GetStats returns counts by status, the set of current leader rows
// (regardless of status), and whether more than one exists.
func (s *Service) GetStats(ctx context.Context) (Stats, error) {
	nodes, err := s.store.ListNodes(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("listing nodes: %w", err)
	}

	counts := map[store.NodeStatus]int{}
	for _, n := range nodes {
		counts[n.Status]++
	}

	leaders, err := s.store.ListLeaders(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("listing leaders: %w", err)
	}

	for status, count := range counts {
		telemetry.ClusterNodesGauge.WithLabelValues(string(status)).Set(float64(count))
	}

	return Stats{
		CountsByStatus:  counts,
		Leaders:         leaders,
		MultipleLeaders: len(leaders) > 1,
	}, nil
}

// ManualCleanup is the admin-triggered equivalent of a cleanup tick.
func (s *Service) ManualCleanup(ctx context.Context) (CleanupResult, error) {
	return s.Cleanup(ctx)
}

// ManualEnforceLeader is the admin-triggered equivalent of the
// enforceSingleLeader step alone.
func (s *Service) ManualEnforceLeader(ctx context.Context) (bool, error) {
	return s.EnforceSingleLeader(ctx)
}

// EnsureLeaderExists attempts to acquire the leader lock if no active
// leader currently exists. It is a no-op (returns false, nil) if a leader
// is already present.
func (s *Service) EnsureLeaderExists(ctx context.Context) (bool, error) {
	acquired, err := s.tryClaimLeaderIfVacant(ctx)
	if err != nil {
		return false, err
	}
	if acquired {
		if err := s.heartbeat(ctx); err != nil {
			return true, fmt.Errorf("refreshing node after becoming leader: %w", err)
		}
	}
	return acquired, nil
}

// TryBecomeLeader makes a single explicit attempt to acquire the leader
// lock regardless of whether one currently exists (e.g. for operator-driven
// failover testing). It is the same primitive EnsureLeaderExists uses,
// exposed directly for the admin HTTP surface.
func (s *Service) TryBecomeLeader(ctx context.Context) (bool, error) {
	acquired, err := s.locks.TryAcquireLeaderLock(ctx)
	if err != nil {
		return false, fmt.Errorf("acquiring leader lock: %w", err)
	}
	if acquired {
		if err := s.heartbeat(ctx); err != nil {
			return true, fmt.Errorf("refreshing node after becoming leader: %w", err)
		}
	}
	return acquired, nil
}
