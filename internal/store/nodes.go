package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/quilldb/peersync/internal/record"
)

// UpsertNode idempotently registers a node description. Location, priority,
// and primary flag are overwritten; runtime fields (online flag, last sync)
// are preserved for existing rows.
func (s *Store) UpsertNode(ctx context.Context, node record.DatabaseNode) error {
	var lastSync any
	if !node.LastSyncTime.IsZero() {
		lastSync = record.FormatCursor(node.LastSyncTime)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO nodes (node_id, location, priority, is_primary, is_online, last_sync_time, sync_lag_seconds)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(node_id) DO UPDATE SET
			location = excluded.location,
			priority = excluded.priority,
			is_primary = excluded.is_primary
	`,
		node.NodeID,
		node.Location,
		node.Priority,
		boolToInt(node.IsPrimary),
		boolToInt(node.IsOnline),
		lastSync,
		int64(node.SyncLag.Seconds()),
	)
	if err != nil {
		return fmt.Errorf("upsert node %s: %w", node.NodeID, err)
	}
	return nil
}

// GetNode reads a node by id. found is false when the node is unknown.
func (s *Store) GetNode(ctx context.Context, nodeID string) (node record.DatabaseNode, found bool, err error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT node_id, location, priority, is_primary, is_online, last_sync_time, sync_lag_seconds
		FROM nodes
		WHERE node_id = ?
	`, nodeID)

	node, err = scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return record.DatabaseNode{}, false, nil
	}
	if err != nil {
		return record.DatabaseNode{}, false, fmt.Errorf("get node %s: %w", nodeID, err)
	}
	return node, true, nil
}

// ListNodes returns all known nodes ordered by priority then node_id for
// deterministic iteration.
func (s *Store) ListNodes(ctx context.Context) ([]record.DatabaseNode, error) {
	return s.listNodes(ctx, `
		SELECT node_id, location, priority, is_primary, is_online, last_sync_time, sync_lag_seconds
		FROM nodes
		ORDER BY priority ASC, node_id ASC
	`)
}

// ListOnlinePeers returns all non-primary nodes currently marked online,
// ordered by priority then node_id. These are the nodes a sync cycle scans.
func (s *Store) ListOnlinePeers(ctx context.Context) ([]record.DatabaseNode, error) {
	return s.listNodes(ctx, `
		SELECT node_id, location, priority, is_primary, is_online, last_sync_time, sync_lag_seconds
		FROM nodes
		WHERE is_online = 1 AND is_primary = 0
		ORDER BY priority ASC, node_id ASC
	`)
}

// ListPeers returns all non-primary nodes regardless of online state,
// ordered by priority then node_id. The health monitor probes these.
func (s *Store) ListPeers(ctx context.Context) ([]record.DatabaseNode, error) {
	return s.listNodes(ctx, `
		SELECT node_id, location, priority, is_primary, is_online, last_sync_time, sync_lag_seconds
		FROM nodes
		WHERE is_primary = 0
		ORDER BY priority ASC, node_id ASC
	`)
}

// SetNodeOnline flips a node's online flag. Only the health monitor calls
// this; the sync cycle treats scan failures as cycle-local.
func (s *Store) SetNodeOnline(ctx context.Context, nodeID string, online bool) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE nodes SET is_online = ? WHERE node_id = ?
	`, boolToInt(online), nodeID)
	if err != nil {
		return fmt.Errorf("set node %s online=%v: %w", nodeID, online, err)
	}
	return nil
}

// UpdateNodeSync records a node's last successful sync time and lag.
func (s *Store) UpdateNodeSync(ctx context.Context, nodeID string, lastSync time.Time, lag time.Duration) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE nodes SET last_sync_time = ?, sync_lag_seconds = ? WHERE node_id = ?
	`, record.FormatCursor(lastSync), int64(lag.Seconds()), nodeID)
	if err != nil {
		return fmt.Errorf("update node %s sync: %w", nodeID, err)
	}
	return nil
}

func (s *Store) listNodes(ctx context.Context, query string) ([]record.DatabaseNode, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	defer rows.Close()

	var nodes []record.DatabaseNode
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("list nodes: %w", err)
		}
		nodes = append(nodes, node)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate nodes: %w", err)
	}

	if nodes == nil {
		nodes = []record.DatabaseNode{}
	}
	return nodes, nil
}

func scanNode(row rowScanner) (record.DatabaseNode, error) {
	var node record.DatabaseNode
	var isPrimary, isOnline int
	var lastSync sql.NullString
	var lagSeconds int64

	if err := row.Scan(&node.NodeID, &node.Location, &node.Priority, &isPrimary, &isOnline, &lastSync, &lagSeconds); err != nil {
		return record.DatabaseNode{}, err
	}

	node.IsPrimary = isPrimary == 1
	node.IsOnline = isOnline == 1
	node.SyncLag = time.Duration(lagSeconds) * time.Second

	if lastSync.Valid {
		ts, err := time.Parse(time.RFC3339Nano, lastSync.String)
		if err != nil {
			return record.DatabaseNode{}, fmt.Errorf("scan node last_sync_time: %w", err)
		}
		node.LastSyncTime = ts
	}

	return node, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
