package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/quilldb/peersync/internal/record"
)

// createTestStore creates a fresh on-disk store under t.TempDir().
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestRecord creates a stored record with minimal required fields.
func createTestRecord(table, key, data string, version int64, at time.Time) record.StoredRecord {
	return record.StoredRecord{
		TableName: table,
		Key:       key,
		Payload: record.Object{
			record.KeyField: record.String(key),
			"data":          record.String(data),
		},
		Version:   version,
		UpdatedAt: at,
	}
}

// createTestOperation creates a pending queue operation with minimal
// required fields.
func createTestOperation(id, table, key string, op record.Operation, at time.Time) record.SyncRecord {
	payload := record.Object{
		record.KeyField: record.String(key),
		"data":          record.String("payload-" + id),
	}
	return record.SyncRecord{
		RecordID:        id,
		TableName:       table,
		Op:              op,
		Payload:         payload,
		OriginTimestamp: at,
		OriginAgentID:   "agent-test",
		Version:         1,
		Fingerprint:     record.MustFingerprint(payload),
		SyncStatus:      record.StatusPending,
	}
}

var testEpoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
