package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/quilldb/peersync/internal/record"
)

// GetCheckpoint reads the sync checkpoint for a node/table pair. found is
// false when the pair has never completed a scan; callers should then scan
// from the beginning of time.
func (s *Store) GetCheckpoint(ctx context.Context, nodeID, tableName string) (cp record.SyncCheckpoint, found bool, err error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT node_id, table_name, cursor, last_sync_time, record_count, checksum
		FROM checkpoints
		WHERE node_id = ? AND table_name = ?
	`, nodeID, tableName)

	var lastSync string
	err = row.Scan(&cp.NodeID, &cp.TableName, &cp.Cursor, &lastSync, &cp.RecordCount, &cp.Checksum)
	if errors.Is(err, sql.ErrNoRows) {
		return record.SyncCheckpoint{}, false, nil
	}
	if err != nil {
		return record.SyncCheckpoint{}, false, fmt.Errorf("get checkpoint %s/%s: %w", nodeID, tableName, err)
	}

	cp.LastSync, err = time.Parse(time.RFC3339Nano, lastSync)
	if err != nil {
		return record.SyncCheckpoint{}, false, fmt.Errorf("get checkpoint %s/%s: parse last_sync: %w", nodeID, tableName, err)
	}
	return cp, true, nil
}

// UpsertCheckpoint advances the checkpoint for a node/table pair. Cursors
// only move forward; a stale write (cursor older than the stored one) is
// ignored so a retried batch cannot rewind progress.
func (s *Store) UpsertCheckpoint(ctx context.Context, cp record.SyncCheckpoint) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (node_id, table_name, cursor, last_sync_time, record_count, checksum)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(node_id, table_name) DO UPDATE SET
			cursor = excluded.cursor,
			last_sync_time = excluded.last_sync_time,
			record_count = excluded.record_count,
			checksum = excluded.checksum
		WHERE excluded.cursor >= checkpoints.cursor
	`,
		cp.NodeID,
		cp.TableName,
		cp.Cursor,
		record.FormatCursor(cp.LastSync),
		cp.RecordCount,
		cp.Checksum,
	)
	if err != nil {
		return fmt.Errorf("upsert checkpoint %s/%s: %w", cp.NodeID, cp.TableName, err)
	}
	return nil
}

// ListCheckpoints returns all stored checkpoints ordered by node then table.
func (s *Store) ListCheckpoints(ctx context.Context) ([]record.SyncCheckpoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT node_id, table_name, cursor, last_sync_time, record_count, checksum
		FROM checkpoints
		ORDER BY node_id ASC, table_name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var cps []record.SyncCheckpoint
	for rows.Next() {
		var cp record.SyncCheckpoint
		var lastSync string
		if err := rows.Scan(&cp.NodeID, &cp.TableName, &cp.Cursor, &lastSync, &cp.RecordCount, &cp.Checksum); err != nil {
			return nil, fmt.Errorf("list checkpoints: %w", err)
		}
		cp.LastSync, err = time.Parse(time.RFC3339Nano, lastSync)
		if err != nil {
			return nil, fmt.Errorf("list checkpoints: parse last_sync: %w", err)
		}
		cps = append(cps, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checkpoints: %w", err)
	}

	if cps == nil {
		cps = []record.SyncCheckpoint{}
	}
	return cps, nil
}
