package cluster

import (
	"context"
	"fmt"
	"time"

	"github.com/ridgeline/proxyguard/internal/store"
	"github.com/ridgeline/proxyguard/internal/telemetry"
)

// Start runs the startup sequence: one cleanup
// pass, then upsert this node as active/non-leader, then launch the
// heartbeat and cleanup timers. It blocks until ctx is cancelled, at which
// point it performs the shutdown sequence.
func (s *Service) Start(ctx context.Context) error {
	if _, err := s.Cleanup(ctx); err != nil {
		s.logger.Error("startup cleanup pass failed", "error", err)
	}

	if _, err := s.store.UpsertNode(ctx, store.ClusterNode{
		InstanceID:    s.instanceID,
		Hostname:      s.cfg.Hostname,
		IPAddress:     s.cfg.IPAddress,
		Status:        store.NodeStatusActive,
		IsLeader:      false,
		LastHeartbeat: time.Now(),
		Version:       s.cfg.Version,
		Metadata:      s.metadata(),
	}); err != nil {
		return fmt.Errorf("registering node at startup: %w", err)
	}

	s.mu.Lock()
	s.heartbeatTimer = time.NewTicker(s.cfg.HeartbeatEvery)
	s.cleanupTimer = time.NewTicker(s.cfg.CleanupEvery)
	hb, cl := s.heartbeatTimer, s.cleanupTimer
	s.mu.Unlock()

	defer hb.Stop()
	defer cl.Stop()

	for {
		select {
		case <-ctx.Done():
			return s.shutdown()
		case <-hb.C:
			if err := s.heartbeat(context.Background()); err != nil {
				s.logger.Error("heartbeat tick failed", "error", err)
			}
		case <-cl.C:
			if _, err := s.Cleanup(context.Background()); err != nil {
				s.logger.Error("cleanup tick failed", "error", err)
			}
		}
	}
}

// heartbeat implements the "Heartbeat" transition: re-verify
// single-leadership before renewing our row, releasing the leader lock
// immediately if a conflicting active leader row is found, or claiming it
// if this node isn't leader and no active leader row exists at all.
func (s *Service) heartbeat(ctx context.Context) error {
	wasLeader := s.locks.IsLeader()
	isLeader := wasLeader

	if wasLeader {
		conflict, err := s.hasConflictingActiveLeader(ctx)
		if err != nil {
			s.logger.Warn("checking for leader conflict", "error", err)
		} else if conflict {
			s.logger.Warn("split-brain detected, releasing leader lock", "instance_id", s.instanceID)
			if err := s.locks.ReleaseLeaderLock(ctx); err != nil {
				s.logger.Error("releasing leader lock after split-brain detection", "error", err)
			}
			isLeader = s.locks.IsLeader()
		}
	} else {
		acquired, err := s.tryClaimLeaderIfVacant(ctx)
		if err != nil {
			s.logger.Warn("checking for vacant leader lock", "error", err)
		} else if acquired {
			s.logger.Info("claimed vacant leader lock", "instance_id", s.instanceID)
			isLeader = true
		}
	}

	_, err := s.store.UpsertNode(ctx, store.ClusterNode{
		InstanceID:    s.instanceID,
		Hostname:      s.cfg.Hostname,
		IPAddress:     s.cfg.IPAddress,
		Status:        store.NodeStatusActive,
		IsLeader:      isLeader,
		LastHeartbeat: time.Now(),
		Version:       s.cfg.Version,
		Metadata:      s.metadata(),
	})
	if err != nil {
		return fmt.Errorf("upserting heartbeat: %w", err)
	}

	if isLeader != wasLeader {
		telemetry.LeaderChangesTotal.Inc()
		if s.notify != nil {
			s.notify.PublishLeaderChanged(ctx, s.instanceID, isLeader)
		}
	}
	return nil
}

// tryClaimLeaderIfVacant acquires the leader lock if no active leader row
// currently exists. Called from every heartbeat tick on every non-leader
// node, so a leader emerges automatically within one heartbeat interval
// of startup or of the previous leader going stale, with no operator
// action required; also shared by the admin-triggered EnsureLeaderExists.
func (s *Service) tryClaimLeaderIfVacant(ctx context.Context) (bool, error) {
	if _, err := s.GetLeaderNode(ctx); err == nil {
		return false, nil
	} else if err != store.ErrNotFound {
		return false, fmt.Errorf("checking for existing leader: %w", err)
	}
	return s.locks.TryAcquireLeaderLock(ctx)
}

// hasConflictingActiveLeader reports whether any node OTHER than this one
// currently has isLeader=true AND status=active.
func (s *Service) hasConflictingActiveLeader(ctx context.Context) (bool, error) {
	leaders, err := s.store.ListLeaders(ctx)
	if err != nil {
		return false, fmt.Errorf("listing leaders: %w", err)
	}
	for _, n := range leaders {
		if n.InstanceID != s.instanceID && n.Status == store.NodeStatusActive {
			return true, nil
		}
	}
	return false, nil
}

// CleanupResult reports what a cleanup pass changed, for the admin surface
// and for tests.
type CleanupResult struct {
	Demoted int64
	Deleted int64
	Enforced bool
}

// Cleanup runs the "Cleanup" pass: demote stale active nodes,
// enforce single-leader, then delete long-dead rows.
func (s *Service) Cleanup(ctx context.Context) (CleanupResult, error) {
	now := time.Now()
	var res CleanupResult

	demoted, err := s.store.DemoteStaleNodes(ctx, now.Add(-s.cfg.StaleAfter))
	if err != nil {
		return res, fmt.Errorf("demoting stale nodes: %w", err)
	}
	res.Demoted = demoted

	enforced, err := s.EnforceSingleLeader(ctx)
	if err != nil {
		return res, fmt.Errorf("enforcing single leader: %w", err)
	}
	res.Enforced = enforced

	deleted, err := s.store.DeleteDeadNodes(ctx, now.Add(-s.cfg.DeleteAfter))
	if err != nil {
		return res, fmt.Errorf("deleting dead nodes: %w", err)
	}
	res.Deleted = deleted

	return res, nil
}

// EnforceSingleLeader implements ClusterNode invariant (i): if
// more than one row has isLeader=true, keep the one with the greatest
// lastHeartbeat and demote the rest. Returns true if any demotion occurred.
func (s *Service) EnforceSingleLeader(ctx context.Context) (bool, error) {
	leaders, err := s.store.ListLeaders(ctx)
	if err != nil {
		return false, fmt.Errorf("listing leaders: %w", err)
	}
	if len(leaders) <= 1 {
		return false, nil
	}

	winner := leaders[0]
	for _, n := range leaders[1:] {
		if n.LastHeartbeat.After(winner.LastHeartbeat) {
			winner = n
		}
	}

	demoted := false
	for _, n := range leaders {
		if n.InstanceID == winner.InstanceID {
			continue
		}
		if err := s.store.SetNodeLeader(ctx, n.InstanceID, false); err != nil {
			return demoted, fmt.Errorf("demoting node %s: %w", n.InstanceID, err)
		}
		demoted = true
	}
	return demoted, nil
}

// shutdown implements the "Shutdown" transition: release the
// leader lock if held, then mark our own row inactive.
func (s *Service) shutdown() error {
	var err error
	s.stopOnce.Do(func() {
		close(s.stopped)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if s.locks.IsLeader() {
			if relErr := s.locks.ReleaseLeaderLock(ctx); relErr != nil {
				s.logger.Error("releasing leader lock at shutdown", "error", relErr)
			}
		}

		_, upsertErr := s.store.UpsertNode(ctx, store.ClusterNode{
			InstanceID:    s.instanceID,
			Hostname:      s.cfg.Hostname,
			IPAddress:     s.cfg.IPAddress,
			Status:        store.NodeStatusInactive,
			IsLeader:      false,
			LastHeartbeat: time.Now(),
			Version:       s.cfg.Version,
			Metadata:      s.metadata(),
		})
		if upsertErr != nil {
			err = fmt.Errorf("marking node inactive at shutdown: %w", upsertErr)
		}
	})
	return err
}
