// Package engine implements the peersync sync cycle coordinator.
//
// The engine drains the durable operation queue into the primary store,
// scans every online peer for changes, routes each change through conflict
// detection and resolution, and advances per-node checkpoints.
//
// ARCHITECTURE:
//
// Single Active Cycle:
// One mutex guards the whole sync cycle and is acquired with TryLock.
// Timer ticks that arrive while a cycle runs are dropped, never queued.
// This is the only engine-wide lock; the health monitor, backup scheduler,
// and conflict auto-processor run concurrently because every store write is
// a single atomic statement.
//
// Cycle Flow:
//  1. Drain pending operations oldest first; re-verify each fingerprint
//     before apply, reject mismatches.
//  2. For each online peer in priority order, for each table: scan changes
//     past the checkpoint cursor, detect/resolve conflicts, apply, advance
//     the checkpoint.
//  3. Update running statistics (counters plus a cycle-time moving average).
//
// State machine: Idle → Syncing → {Idle | ConflictPending | Error →
// Recovering → Idle}. Recovery runs once per failure; if it fails the
// engine stays in Error until an operator intervenes.
//
// Error policy: connectivity failures skip the affected node for the
// current cycle only, exhausted operations are parked permanently, and
// store integrity failures escalate the whole engine to Error.
package engine
