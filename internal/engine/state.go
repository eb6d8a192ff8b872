package engine

// State is the sync cycle coordinator's lifecycle state.
//
// Transitions: Idle → Syncing → {Idle | ConflictPending | Error →
// Recovering → Idle}. Timer ticks while the state is not Idle (or
// ConflictPending) are dropped, never queued.
type State string

const (
	// StateIdle means no cycle is running and the engine is healthy.
	StateIdle State = "idle"

	// StateSyncing means a cycle is in progress.
	StateSyncing State = "syncing"

	// StateConflictPending means the last cycle queued at least one Manual
	// conflict awaiting operator review. A new cycle may still start.
	StateConflictPending State = "conflict_pending"

	// StateError means a cycle failed with an integrity error and recovery
	// has not yet succeeded.
	StateError State = "error"

	// StateRecovering means the recovery controller is running.
	StateRecovering State = "recovering"
)

// CanStartCycle reports whether a new sync cycle may begin in this state.
// ConflictPending is a non-error variant of Idle: queued manual conflicts
// do not block further syncing.
func (s State) CanStartCycle() bool {
	return s == StateIdle || s == StateConflictPending
}
