// Package conflict decides whether a remote record change conflicts with
// local state and resolves genuine conflicts under a configured strategy.
package conflict

import (
	"time"

	"github.com/quilldb/peersync/internal/record"
)

// Outcome classifies a remote change against local state.
type Outcome int

const (
	// OutcomeInsert: no local record shares the key; apply remote as-is.
	OutcomeInsert Outcome = iota
	// OutcomeInSync: fingerprints match; nothing to do.
	OutcomeInSync
	// OutcomeUpdate: only the remote side changed since the checkpoint;
	// apply remote as an ordinary update.
	OutcomeUpdate
	// OutcomeConflict: both sides changed since the checkpoint.
	OutcomeConflict
)

func (o Outcome) String() string {
	switch o {
	case OutcomeInsert:
		return "insert"
	case OutcomeInSync:
		return "in_sync"
	case OutcomeUpdate:
		return "update"
	case OutcomeConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// Detect classifies remote against the local record with the same logical
// key. since is the checkpoint cursor time for the remote's node/table pair:
// a local record modified strictly after it means both sides diverged from
// the common ancestor the checkpoint implies.
func Detect(local record.StoredRecord, localFound bool, remote record.StoredRecord, since time.Time) Outcome {
	if !localFound {
		return OutcomeInsert
	}
	if local.Fingerprint == remote.Fingerprint {
		return OutcomeInSync
	}
	if local.UpdatedAt.After(since) {
		return OutcomeConflict
	}
	return OutcomeUpdate
}

// NewConflict builds the audit record for a detected conflict. The caller
// persists it before applying any resolution.
func NewConflict(local, remote record.StoredRecord, strategy Strategy, now time.Time) record.Conflict {
	return record.Conflict{
		TableName: local.TableName,
		RecordKey: local.Key,
		Local:     record.SnapshotOf(local),
		Remote:    record.SnapshotOf(remote),
		Type:      record.ConflictConcurrentUpdate,
		Strategy:  string(strategy),
		CreatedAt: now,
	}
}
