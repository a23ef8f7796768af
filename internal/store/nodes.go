package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// UpsertNode inserts or updates a cluster node row keyed by InstanceID.
func (s *Store) UpsertNode(ctx context.Context, n ClusterNode) (ClusterNode, error) {
	meta, err := json.Marshal(n.Metadata)
	if err != nil {
		return ClusterNode{}, fmt.Errorf("marshaling node metadata: %w", err)
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO cluster_nodes (instance_id, hostname, ip_address, status, is_leader, last_heartbeat, version, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (instance_id) DO UPDATE SET
			hostname = EXCLUDED.hostname,
			ip_address = EXCLUDED.ip_address,
			status = EXCLUDED.status,
			is_leader = EXCLUDED.is_leader,
			last_heartbeat = EXCLUDED.last_heartbeat,
			version = EXCLUDED.version,
			metadata = EXCLUDED.metadata
		RETURNING instance_id, hostname, ip_address, status, is_leader, last_heartbeat, version, metadata`,
		n.InstanceID, n.Hostname, n.IPAddress, string(n.Status), n.IsLeader, n.LastHeartbeat, n.Version, meta)

	return scanNode(row)
}

// GetNode fetches a node by instance id.
func (s *Store) GetNode(ctx context.Context, instanceID string) (ClusterNode, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT instance_id, hostname, ip_address, status, is_leader, last_heartbeat, version, metadata
		FROM cluster_nodes WHERE instance_id = $1`, instanceID)
	n, err := scanNode(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return ClusterNode{}, ErrNotFound
		}
		return ClusterNode{}, fmt.Errorf("getting node %s: %w", instanceID, err)
	}
	return n, nil
}

// ListNodes returns every node row.
func (s *Store) ListNodes(ctx context.Context) ([]ClusterNode, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT instance_id, hostname, ip_address, status, is_leader, last_heartbeat, version, metadata
		FROM cluster_nodes ORDER BY instance_id`)
	if err != nil {
		return nil, fmt.Errorf("listing nodes: %w", err)
	}
	defer rows.Close()

	var out []ClusterNode
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning node: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// ListNodesByStatus returns every node row with the given status.
func (s *Store) ListNodesByStatus(ctx context.Context, status NodeStatus) ([]ClusterNode, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT instance_id, hostname, ip_address, status, is_leader, last_heartbeat, version, metadata
		FROM cluster_nodes WHERE status = $1 ORDER BY instance_id`, string(status))
	if err != nil {
		return nil, fmt.Errorf("listing nodes by status %s: %w", status, err)
	}
	defer rows.Close()

	var out []ClusterNode
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning node: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// ListLeaders returns every node row currently flagged isLeader=true
// regardless of status, used to detect split-brain.
func (s *Store) ListLeaders(ctx context.Context) ([]ClusterNode, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT instance_id, hostname, ip_address, status, is_leader, last_heartbeat, version, metadata
		FROM cluster_nodes WHERE is_leader = true ORDER BY last_heartbeat DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing leader nodes: %w", err)
	}
	defer rows.Close()

	var out []ClusterNode
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning node: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// SetNodeLeader updates only the is_leader flag for a single node.
func (s *Store) SetNodeLeader(ctx context.Context, instanceID string, isLeader bool) error {
	_, err := s.pool.Exec(ctx, `UPDATE cluster_nodes SET is_leader = $2 WHERE instance_id = $1`, instanceID, isLeader)
	if err != nil {
		return fmt.Errorf("setting leader flag on node %s: %w", instanceID, err)
	}
	return nil
}

// SetNodeStatus updates only the status column for a single node, and
// clears is_leader when the new status is not active.
func (s *Store) SetNodeStatus(ctx context.Context, instanceID string, status NodeStatus) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE cluster_nodes
		SET status = $2, is_leader = (is_leader AND $2 = 'active')
		WHERE instance_id = $1`, instanceID, string(status))
	if err != nil {
		return fmt.Errorf("setting status on node %s: %w", instanceID, err)
	}
	return nil
}

// DemoteStaleNodes flips active nodes whose last_heartbeat predates the
// cutoff to status=stale, is_leader=false. Returns the number of rows
// affected.
func (s *Store) DemoteStaleNodes(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE cluster_nodes
		SET status = 'stale', is_leader = false
		WHERE status = 'active' AND last_heartbeat < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("demoting stale nodes: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteDeadNodes removes rows with status in (stale, inactive) whose
// last_heartbeat predates the cutoff. Returns the number of rows removed.
func (s *Store) DeleteDeadNodes(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM cluster_nodes
		WHERE status IN ('stale', 'inactive') AND last_heartbeat < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting dead nodes: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanNode(row rowScanner) (ClusterNode, error) {
	var n ClusterNode
	var status string
	var meta []byte
	err := row.Scan(&n.InstanceID, &n.Hostname, &n.IPAddress, &status, &n.IsLeader,
		&n.LastHeartbeat, &n.Version, &meta)
	if err != nil {
		return ClusterNode{}, err
	}
	n.Status = NodeStatus(status)
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &n.Metadata); err != nil {
			return ClusterNode{}, fmt.Errorf("unmarshaling node metadata: %w", err)
		}
	}
	return n, nil
}
