package conflict

import (
	"fmt"
	"strings"
	"time"

	"github.com/quilldb/peersync/internal/record"
)

// Strategy names a conflict resolution policy. Selected once at engine
// configuration and applied uniformly to every conflict.
type Strategy string

const (
	// StrategyLatestWins applies the snapshot with the greater updated_at
	// verbatim. On exact timestamp ties the local snapshot wins.
	StrategyLatestWins Strategy = "LatestWins"

	// StrategyMerge unions fields starting from local; remote wins any
	// per-field collision. version = max(local, remote) + 1, updated_at = now.
	StrategyMerge Strategy = "Merge"

	// StrategyPriorityBased lets the side from the lower-priority-value node
	// win. Equal priorities fall back to the LatestWins comparison.
	StrategyPriorityBased Strategy = "PriorityBased"

	// StrategyManual queues the conflict for operator review and leaves the
	// local snapshot untouched.
	StrategyManual Strategy = "Manual"
)

// ParseStrategy resolves a configured strategy name. Accepts the canonical
// names plus snake_case spellings, case-insensitively.
func ParseStrategy(name string) (Strategy, error) {
	switch strings.ToLower(strings.ReplaceAll(name, "_", "")) {
	case "latestwins":
		return StrategyLatestWins, nil
	case "merge":
		return StrategyMerge, nil
	case "prioritybased":
		return StrategyPriorityBased, nil
	case "manual":
		return StrategyManual, nil
	default:
		return "", fmt.Errorf("unknown conflict strategy %q", name)
	}
}

// Resolution is the outcome of resolving one conflict.
type Resolution struct {
	// Winner is the snapshot to apply to the primary store. Meaningless when
	// Manual is true.
	Winner record.Snapshot

	// Manual means no automatic resolution: the conflict stays queued and
	// the local snapshot is left unchanged.
	Manual bool
}

// Resolver applies one configured strategy to detected conflicts.
type Resolver struct {
	strategy Strategy
}

// NewResolver creates a resolver for the given strategy.
func NewResolver(strategy Strategy) *Resolver {
	return &Resolver{strategy: strategy}
}

// Strategy returns the configured strategy.
func (r *Resolver) Strategy() Strategy {
	return r.strategy
}

// Resolve decides the winning snapshot for a conflict. localPriority and
// remotePriority are the node priorities of each side; only PriorityBased
// reads them. now stamps merged snapshots.
func (r *Resolver) Resolve(c record.Conflict, localPriority, remotePriority int, now time.Time) (Resolution, error) {
	switch r.strategy {
	case StrategyLatestWins:
		return Resolution{Winner: latestWins(c.Local, c.Remote)}, nil

	case StrategyMerge:
		merged, err := merge(c.Local, c.Remote, now)
		if err != nil {
			return Resolution{}, fmt.Errorf("merge %s/%s: %w", c.TableName, c.RecordKey, err)
		}
		return Resolution{Winner: merged}, nil

	case StrategyPriorityBased:
		// Lower priority value wins. Node priority only; never derived from
		// agent identifiers.
		switch {
		case localPriority < remotePriority:
			return Resolution{Winner: c.Local}, nil
		case remotePriority < localPriority:
			return Resolution{Winner: c.Remote}, nil
		default:
			return Resolution{Winner: latestWins(c.Local, c.Remote)}, nil
		}

	case StrategyManual:
		return Resolution{Manual: true}, nil

	default:
		return Resolution{}, fmt.Errorf("unknown conflict strategy %q", r.strategy)
	}
}

// latestWins picks the snapshot with the greater updated_at; the local
// snapshot wins exact ties.
func latestWins(local, remote record.Snapshot) record.Snapshot {
	if remote.UpdatedAt.After(local.UpdatedAt) {
		return remote
	}
	return local
}

// merge unions the two payloads field by field. Bookkeeping fields never
// participate; the merged snapshot's fingerprint is recomputed on apply.
func merge(local, remote record.Snapshot, now time.Time) (record.Snapshot, error) {
	payload := local.Payload.Clone()
	for key, remoteVal := range remote.Payload {
		if record.IsBookkeepingField(key) {
			continue
		}
		if localVal, ok := payload[key]; !ok || !record.Equal(localVal, remoteVal) {
			payload[key] = remoteVal
		}
	}

	if _, err := record.Fingerprint(payload); err != nil {
		return record.Snapshot{}, err
	}

	version := local.Version
	if remote.Version > version {
		version = remote.Version
	}
	return record.Snapshot{
		Payload:   payload,
		Version:   version + 1,
		UpdatedAt: now,
	}, nil
}
