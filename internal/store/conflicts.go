package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/quilldb/peersync/internal/record"
)

// InsertConflict persists a detected conflict. The row is written before any
// resolution is applied, so a crash between detection and resolution leaves
// an unresolved conflict rather than a silent overwrite.
func (s *Store) InsertConflict(ctx context.Context, c record.Conflict) (int64, error) {
	localJSON, err := json.Marshal(c.Local)
	if err != nil {
		return 0, fmt.Errorf("insert conflict: marshal local snapshot: %w", err)
	}
	remoteJSON, err := json.Marshal(c.Remote)
	if err != nil {
		return 0, fmt.Errorf("insert conflict: marshal remote snapshot: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO conflicts (table_name, record_key, local_snapshot, remote_snapshot, conflict_type, strategy, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		c.TableName,
		c.RecordKey,
		string(localJSON),
		string(remoteJSON),
		string(c.Type),
		c.Strategy,
		record.FormatCursor(c.CreatedAt),
	)
	if err != nil {
		return 0, fmt.Errorf("insert conflict %s/%s: %w", c.TableName, c.RecordKey, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert conflict %s/%s: %w", c.TableName, c.RecordKey, err)
	}
	return id, nil
}

// MarkConflictResolved records the winning snapshot and resolution time for
// a conflict. Resolving an already-resolved conflict is a no-op.
func (s *Store) MarkConflictResolved(ctx context.Context, id int64, resolved record.Snapshot, at time.Time) error {
	resolvedJSON, err := json.Marshal(resolved)
	if err != nil {
		return fmt.Errorf("resolve conflict %d: marshal snapshot: %w", id, err)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE conflicts
		SET resolved_snapshot = ?, resolved_at = ?
		WHERE id = ? AND resolved_at IS NULL
	`, string(resolvedJSON), record.FormatCursor(at), id)
	if err != nil {
		return fmt.Errorf("resolve conflict %d: %w", id, err)
	}
	return nil
}

// GetConflict reads a single conflict by id.
func (s *Store) GetConflict(ctx context.Context, id int64) (c record.Conflict, found bool, err error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, table_name, record_key, local_snapshot, remote_snapshot, conflict_type, strategy, created_at, resolved_snapshot, resolved_at
		FROM conflicts
		WHERE id = ?
	`, id)

	c, err = scanConflict(row)
	if errors.Is(err, sql.ErrNoRows) {
		return record.Conflict{}, false, nil
	}
	if err != nil {
		return record.Conflict{}, false, fmt.Errorf("get conflict %d: %w", id, err)
	}
	return c, true, nil
}

// ListUnresolved returns open conflicts oldest first, capped at limit.
// limit <= 0 means no cap.
func (s *Store) ListUnresolved(ctx context.Context, limit int) ([]record.Conflict, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, table_name, record_key, local_snapshot, remote_snapshot, conflict_type, strategy, created_at, resolved_snapshot, resolved_at
		FROM conflicts
		WHERE resolved_at IS NULL
		ORDER BY created_at ASC, id ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list unresolved conflicts: %w", err)
	}
	defer rows.Close()

	var conflicts []record.Conflict
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, fmt.Errorf("list unresolved conflicts: %w", err)
		}
		conflicts = append(conflicts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conflicts: %w", err)
	}

	if conflicts == nil {
		conflicts = []record.Conflict{}
	}
	return conflicts, nil
}

// CountUnresolved returns the number of open conflicts.
func (s *Store) CountUnresolved(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM conflicts WHERE resolved_at IS NULL
	`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unresolved conflicts: %w", err)
	}
	return count, nil
}

func scanConflict(row rowScanner) (record.Conflict, error) {
	var c record.Conflict
	var localJSON, remoteJSON, conflictType, strategy, createdAt string
	var resolvedJSON, resolvedAt sql.NullString

	err := row.Scan(&c.ID, &c.TableName, &c.RecordKey, &localJSON, &remoteJSON, &conflictType, &strategy, &createdAt, &resolvedJSON, &resolvedAt)
	if err != nil {
		return record.Conflict{}, err
	}

	if err := json.Unmarshal([]byte(localJSON), &c.Local); err != nil {
		return record.Conflict{}, fmt.Errorf("unmarshal local snapshot: %w", err)
	}
	if err := json.Unmarshal([]byte(remoteJSON), &c.Remote); err != nil {
		return record.Conflict{}, fmt.Errorf("unmarshal remote snapshot: %w", err)
	}

	c.Type = record.ConflictType(conflictType)
	c.Strategy = strategy

	c.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return record.Conflict{}, fmt.Errorf("parse created_at: %w", err)
	}

	if resolvedJSON.Valid {
		var snap record.Snapshot
		if err := json.Unmarshal([]byte(resolvedJSON.String), &snap); err != nil {
			return record.Conflict{}, fmt.Errorf("unmarshal resolved snapshot: %w", err)
		}
		c.Resolved = &snap
	}
	if resolvedAt.Valid {
		ts, err := time.Parse(time.RFC3339Nano, resolvedAt.String)
		if err != nil {
			return record.Conflict{}, fmt.Errorf("parse resolved_at: %w", err)
		}
		c.ResolvedAt = &ts
	}

	return c, nil
}
