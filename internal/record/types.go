package record

import "time"

// Operation identifies the kind of mutation an operation log entry carries.
type Operation string

const (
	OpInsert Operation = "insert"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Valid reports whether the operation is one of the known kinds.
func (op Operation) Valid() bool {
	switch op {
	case OpInsert, OpUpdate, OpDelete:
		return true
	default:
		return false
	}
}

// SyncStatus is the lifecycle state of a queued operation.
type SyncStatus string

const (
	StatusPending SyncStatus = "pending"
	StatusSynced  SyncStatus = "synced"
	StatusFailed  SyncStatus = "failed"
)

// KeyField is the payload field carrying a record's logical key.
// Every insert/update/delete payload must contain it as a string.
const KeyField = "key"

// SyncRecord is a queued or logged mutation awaiting application to the
// primary store. Created when a caller mutates domain data; status and retry
// fields are mutated only by the sync cycle coordinator.
type SyncRecord struct {
	RecordID        string
	TableName       string
	Op              Operation
	Payload         Object
	OriginTimestamp time.Time
	OriginAgentID   string
	Version         int64
	Fingerprint     string
	SyncStatus      SyncStatus
	RetryCount      int
}

// Key returns the logical key carried in the payload, or "" if absent.
func (r SyncRecord) Key() string {
	if k, ok := r.Payload[KeyField].(String); ok {
		return string(k)
	}
	return ""
}

// DatabaseNode describes a known peer store (or self). Nodes are never
// deleted, only marked offline.
type DatabaseNode struct {
	NodeID       string
	Location     string // opaque connection descriptor (file path here)
	Priority     int    // lower = preferred
	IsPrimary    bool   // exactly one node - self - is primary
	IsOnline     bool
	LastSyncTime time.Time
	SyncLag      time.Duration
}

// StoredRecord is a domain record row in a node's store: an opaque keyed
// payload plus the bookkeeping columns the engine maintains.
type StoredRecord struct {
	TableName   string
	Key         string
	Payload     Object
	Version     int64
	Fingerprint string
	UpdatedAt   time.Time
}

// Snapshot captures one side's view of a logical record at conflict
// detection time.
type Snapshot struct {
	Payload   Object    `json:"payload"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SnapshotOf builds a Snapshot from a stored record.
func SnapshotOf(rec StoredRecord) Snapshot {
	return Snapshot{
		Payload:   rec.Payload,
		Version:   rec.Version,
		UpdatedAt: rec.UpdatedAt,
	}
}

// ConflictType categorizes a detected divergence.
type ConflictType string

const (
	// ConflictConcurrentUpdate means both sides modified the same logical
	// record since the last checkpoint.
	ConflictConcurrentUpdate ConflictType = "concurrent_update"
)

// Conflict is an append-only audit record of a detected divergence. It is
// written durably before any resolution is applied, and after resolution only
// ResolvedAt and Resolved are ever set.
type Conflict struct {
	ID        int64
	TableName string
	RecordKey string
	Local     Snapshot
	Remote    Snapshot
	Type      ConflictType
	CreatedAt time.Time
	Strategy  string // resolution strategy applied (or queued, for manual)

	ResolvedAt *time.Time
	Resolved   *Snapshot
}

// SyncCheckpoint marks how far a (node, table) pair has been scanned.
// The cursor is the updated_at high-water mark in the fixed-width layout
// of FormatCursor; the change scanner only inspects records strictly
// newer than it.
type SyncCheckpoint struct {
	NodeID      string
	TableName   string
	Cursor      string
	LastSync    time.Time
	RecordCount int64
	Checksum    string
}

// CursorTime parses the checkpoint cursor back to a timestamp.
// A zero time is returned for an empty (never-synced) cursor.
func (cp SyncCheckpoint) CursorTime() time.Time {
	if cp.Cursor == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, cp.Cursor)
	if err != nil {
		return time.Time{}
	}
	return t
}

// cursorLayout is fixed-width (always UTC, always nine fraction digits) so
// that lexical order on cursor strings equals chronological order. The SQL
// string comparisons in scans and checkpoint guards depend on this;
// RFC3339Nano trims trailing zeros and breaks it ("…00.5Z" sorts before
// "…00Z").
const cursorLayout = "2006-01-02T15:04:05.000000000Z"

// FormatCursor renders a timestamp as a checkpoint cursor.
func FormatCursor(t time.Time) string {
	return t.UTC().Format(cursorLayout)
}
