package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/quilldb/peersync/internal/record"
)

// UpsertRecord writes a domain record, creating or replacing the row for its
// (table, key). The row's fingerprint is recomputed from the payload on every
// write, and version never decreases: an upsert carrying a lower version than
// the stored row is silently skipped.
//
// Returns true if the row was written, false if it was skipped by the
// version guard.
func (s *Store) UpsertRecord(ctx context.Context, rec record.StoredRecord) (bool, error) {
	payloadJSON, err := record.MarshalCanonical(rec.Payload)
	if err != nil {
		return false, fmt.Errorf("upsert record: marshal payload: %w", err)
	}

	fp, err := record.Fingerprint(rec.Payload)
	if err != nil {
		return false, fmt.Errorf("upsert record: fingerprint: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO records (table_name, record_key, payload, version, fingerprint, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(table_name, record_key) DO UPDATE SET
			payload = excluded.payload,
			version = excluded.version,
			fingerprint = excluded.fingerprint,
			updated_at = excluded.updated_at
		WHERE excluded.version >= records.version
	`,
		rec.TableName,
		rec.Key,
		string(payloadJSON),
		rec.Version,
		fp,
		record.FormatCursor(rec.UpdatedAt),
	)
	if err != nil {
		return false, fmt.Errorf("upsert record: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("upsert record: rows affected: %w", err)
	}
	return affected > 0, nil
}

// GetRecord reads a domain record by its logical key.
// Absence is ordinary data, not an error: found is false when no row exists.
func (s *Store) GetRecord(ctx context.Context, table, key string) (rec record.StoredRecord, found bool, err error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT table_name, record_key, payload, version, fingerprint, updated_at
		FROM records
		WHERE table_name = ? AND record_key = ?
	`, table, key)

	rec, err = scanStoredRecord(row)
	if err == sql.ErrNoRows {
		return record.StoredRecord{}, false, nil
	}
	if err != nil {
		return record.StoredRecord{}, false, fmt.Errorf("get record %s/%s: %w", table, key, err)
	}
	return rec, true, nil
}

// DeleteRecord removes a domain record. Deleting an absent row is a no-op.
func (s *Store) DeleteRecord(ctx context.Context, table, key string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM records WHERE table_name = ? AND record_key = ?
	`, table, key)
	if err != nil {
		return fmt.Errorf("delete record %s/%s: %w", table, key, err)
	}
	return nil
}

// ListChangedRecords returns records in a table whose updated_at is strictly
// greater than the given cursor, oldest first, bounded to limit rows.
// This is the read side of the change scanner: the same store type backs
// both the primary store and readable peer stores.
func (s *Store) ListChangedRecords(ctx context.Context, table, sinceCursor string, limit int) ([]record.StoredRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT table_name, record_key, payload, version, fingerprint, updated_at
		FROM records
		WHERE table_name = ? AND updated_at > ?
		ORDER BY updated_at ASC, record_key ASC
		LIMIT ?
	`, table, sinceCursor, limit)
	if err != nil {
		return nil, fmt.Errorf("list changed records: %w", err)
	}
	defer rows.Close()

	var records []record.StoredRecord
	for rows.Next() {
		rec, err := scanStoredRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("list changed records: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate changed records: %w", err)
	}

	if records == nil {
		records = []record.StoredRecord{}
	}
	return records, nil
}

// CountRecords returns the number of rows in a domain table.
func (s *Store) CountRecords(ctx context.Context, table string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM records WHERE table_name = ?
	`, table).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

// rowScanner abstracts sql.Row and sql.Rows for shared scanning.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanStoredRecord(row rowScanner) (record.StoredRecord, error) {
	var rec record.StoredRecord
	var payloadJSON, updatedAt string

	if err := row.Scan(&rec.TableName, &rec.Key, &payloadJSON, &rec.Version, &rec.Fingerprint, &updatedAt); err != nil {
		return record.StoredRecord{}, err
	}

	payload, err := record.ParsePayload(payloadJSON)
	if err != nil {
		return record.StoredRecord{}, fmt.Errorf("scan record payload: %w", err)
	}
	rec.Payload = payload

	ts, err := time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return record.StoredRecord{}, fmt.Errorf("scan record updated_at: %w", err)
	}
	rec.UpdatedAt = ts

	return rec, nil
}
