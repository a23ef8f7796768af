// Package cluster implements the cluster membership heartbeat (component D)
// and the inter-node reload fan-out (component J). A node's row in the
// coordinating store is a read-model projection of leadership; the
// pkg/lock advisory lock is the sole source of truth.
package cluster

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ridgeline/proxyguard/internal/store"
	"github.com/ridgeline/proxyguard/pkg/lock"
)

// NodeStore is the subset of the database gateway the heartbeat service
// needs.
type NodeStore interface {
	UpsertNode(ctx context.Context, n store.ClusterNode) (store.ClusterNode, error)
	GetNode(ctx context.Context, instanceID string) (store.ClusterNode, error)
	ListNodes(ctx context.Context) ([]store.ClusterNode, error)
	ListNodesByStatus(ctx context.Context, status store.NodeStatus) ([]store.ClusterNode, error)
	ListLeaders(ctx context.Context) ([]store.ClusterNode, error)
	SetNodeLeader(ctx context.Context, instanceID string, isLeader bool) error
	SetNodeStatus(ctx context.Context, instanceID string, status store.NodeStatus) error
	DemoteStaleNodes(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteDeadNodes(ctx context.Context, cutoff time.Time) (int64, error)
}

// Leader is the minimal lock contract the heartbeat service needs. It is
// satisfied by *lock.Manager.
type Leader interface {
	IsLeader() bool
	TryAcquireLeaderLock(ctx context.Context) (bool, error)
	ReleaseLeaderLock(ctx context.Context) error
}

// Notifier publishes cluster events for out-of-process consumers (e.g. a
// future admin UI). It is optional; a nil Notifier is a silent no-op.
type Notifier interface {
	PublishLeaderChanged(ctx context.Context, instanceID string, isLeader bool)
}

// Config holds the heartbeat service's tunables.
type Config struct {
	Hostname        string
	IPAddress       string
	Version         string
	HeartbeatEvery  time.Duration
	CleanupEvery    time.Duration
	StaleAfter      time.Duration
	DeleteAfter     time.Duration
	MetadataFn      func() map[string]string
}

// DefaultConfig returns the standard intervals: 30s heartbeat,
// 45s cleanup, 120s stale threshold, 3600s delete threshold.
func DefaultConfig(hostname, ipAddress, version string) Config {
	return Config{
		Hostname:       hostname,
		IPAddress:      ipAddress,
		Version:        version,
		HeartbeatEvery: 30 * time.Second,
		CleanupEvery:   45 * time.Second,
		StaleAfter:     120 * time.Second,
		DeleteAfter:    3600 * time.Second,
	}
}

// Service is the cluster heartbeat + membership engine for one node.
type Service struct {
	store  NodeStore
	locks  Leader
	logger *slog.Logger
	notify Notifier

	instanceID string
	cfg        Config

	mu      sync.Mutex
	heartbeatTimer *time.Ticker
	cleanupTimer   *time.Ticker
	stopped        chan struct{}
	stopOnce       sync.Once
}

// New creates a heartbeat Service for this process. instanceID must be
// assigned once at process start (see NewInstanceID).
func New(st NodeStore, locks Leader, logger *slog.Logger, notify Notifier, instanceID string, cfg Config) *Service {
	return &Service{
		store:      st,
		locks:      locks,
		logger:     logger,
		notify:     notify,
		instanceID: instanceID,
		cfg:        cfg,
		stopped:    make(chan struct{}),
	}
}

// InstanceID returns this node's identity.
func (s *Service) InstanceID() string {
	return s.instanceID
}

func (s *Service) metadata() map[string]string {
	if s.cfg.MetadataFn != nil {
		return s.cfg.MetadataFn()
	}
	return map[string]string{}
}
