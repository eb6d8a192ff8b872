package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/quilldb/peersync/internal/record"
)

// EnqueueOperation appends a durable operation to the log with
// sync_status=pending. Uses ON CONFLICT(record_id) DO NOTHING so the same
// operation id may be enqueued many times without duplication.
func (s *Store) EnqueueOperation(ctx context.Context, op record.SyncRecord) error {
	payloadJSON, err := record.MarshalCanonical(op.Payload)
	if err != nil {
		return fmt.Errorf("enqueue operation: marshal payload: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO operations
		(record_id, table_name, op, payload, origin_timestamp, origin_agent_id, version, fingerprint, sync_status, retry_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 'pending', 0)
		ON CONFLICT(record_id) DO NOTHING
	`,
		op.RecordID,
		op.TableName,
		string(op.Op),
		string(payloadJSON),
		record.FormatCursor(op.OriginTimestamp),
		op.OriginAgentID,
		op.Version,
		op.Fingerprint,
	)
	if err != nil {
		return fmt.Errorf("enqueue operation: %w", err)
	}
	return nil
}

// DrainPending returns up to batchSize pending operations in ascending
// origin-timestamp order (FIFO). Operations whose retry count has reached
// maxRetries are excluded; they stay parked until an administrative reset.
func (s *Store) DrainPending(ctx context.Context, batchSize, maxRetries int) ([]record.SyncRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT record_id, table_name, op, payload, origin_timestamp, origin_agent_id, version, fingerprint, sync_status, retry_count
		FROM operations
		WHERE sync_status = 'pending' AND retry_count < ?
		ORDER BY origin_timestamp ASC, record_id ASC
		LIMIT ?
	`, maxRetries, batchSize)
	if err != nil {
		return nil, fmt.Errorf("drain pending: %w", err)
	}
	defer rows.Close()

	var ops []record.SyncRecord
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, fmt.Errorf("drain pending: %w", err)
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending: %w", err)
	}

	if ops == nil {
		ops = []record.SyncRecord{}
	}
	return ops, nil
}

// MarkSynced transitions an operation to synced. Idempotent: marking an
// already-synced or unknown operation is a no-op.
func (s *Store) MarkSynced(ctx context.Context, recordID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE operations SET sync_status = 'synced'
		WHERE record_id = ? AND sync_status = 'pending'
	`, recordID)
	if err != nil {
		return fmt.Errorf("mark synced %s: %w", recordID, err)
	}
	return nil
}

// MarkFailed increments an operation's retry count; once the count reaches
// maxRetries the status becomes permanently 'failed' and the operation is
// excluded from future drains. Idempotent for terminal rows: marking an
// already-failed operation does not grow retry_count past the maximum.
//
// Returns true when the operation has exhausted its retries.
func (s *Store) MarkFailed(ctx context.Context, recordID string, maxRetries int) (exhausted bool, err error) {
	_, err = s.db.ExecContext(ctx, `
		UPDATE operations SET
			retry_count = retry_count + 1,
			sync_status = CASE WHEN retry_count + 1 >= ? THEN 'failed' ELSE 'pending' END
		WHERE record_id = ? AND sync_status = 'pending'
	`, maxRetries, recordID)
	if err != nil {
		return false, fmt.Errorf("mark failed %s: %w", recordID, err)
	}

	var status string
	err = s.db.QueryRowContext(ctx, `
		SELECT sync_status FROM operations WHERE record_id = ?
	`, recordID).Scan(&status)
	if err != nil {
		return false, fmt.Errorf("mark failed %s: read back: %w", recordID, err)
	}
	return status == string(record.StatusFailed), nil
}

// ResetFailed administratively returns permanently failed operations to the
// active queue with a fresh retry budget. Returns the number reset.
func (s *Store) ResetFailed(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE operations SET sync_status = 'pending', retry_count = 0
		WHERE sync_status = 'failed'
	`)
	if err != nil {
		return 0, fmt.Errorf("reset failed operations: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reset failed operations: rows affected: %w", err)
	}
	return n, nil
}

// PurgeExhausted parks any pending operation whose retry count already
// reached maxRetries, marking it failed. Rows are kept for audit; they are
// simply no longer drained. Used by the recovery controller to repair a
// queue left inconsistent by a crash mid-cycle.
func (s *Store) PurgeExhausted(ctx context.Context, maxRetries int) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE operations SET sync_status = 'failed'
		WHERE sync_status = 'pending' AND retry_count >= ?
	`, maxRetries)
	if err != nil {
		return 0, fmt.Errorf("purge exhausted operations: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge exhausted operations: rows affected: %w", err)
	}
	return n, nil
}

// GetOperation reads a single operation by id.
func (s *Store) GetOperation(ctx context.Context, recordID string) (op record.SyncRecord, found bool, err error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT record_id, table_name, op, payload, origin_timestamp, origin_agent_id, version, fingerprint, sync_status, retry_count
		FROM operations
		WHERE record_id = ?
	`, recordID)

	op, err = scanOperation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return record.SyncRecord{}, false, nil
	}
	if err != nil {
		return record.SyncRecord{}, false, fmt.Errorf("get operation %s: %w", recordID, err)
	}
	return op, true, nil
}

// CountPendingOperations returns the number of operations still eligible for
// draining.
func (s *Store) CountPendingOperations(ctx context.Context, maxRetries int) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM operations WHERE sync_status = 'pending' AND retry_count < ?
	`, maxRetries).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending operations: %w", err)
	}
	return n, nil
}

func scanOperation(row rowScanner) (record.SyncRecord, error) {
	var op record.SyncRecord
	var opKind, payloadJSON, originTS, status string

	if err := row.Scan(
		&op.RecordID,
		&op.TableName,
		&opKind,
		&payloadJSON,
		&originTS,
		&op.OriginAgentID,
		&op.Version,
		&op.Fingerprint,
		&status,
		&op.RetryCount,
	); err != nil {
		return record.SyncRecord{}, err
	}

	payload, err := record.ParsePayload(payloadJSON)
	if err != nil {
		return record.SyncRecord{}, fmt.Errorf("scan operation payload: %w", err)
	}
	op.Payload = payload
	op.Op = record.Operation(opKind)
	op.SyncStatus = record.SyncStatus(status)

	ts, err := time.Parse(time.RFC3339Nano, originTS)
	if err != nil {
		return record.SyncRecord{}, fmt.Errorf("scan operation origin_timestamp: %w", err)
	}
	op.OriginTimestamp = ts

	return op, nil
}
