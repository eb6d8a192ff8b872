// Package store provides SQLite-backed durable storage for the sync engine.
//
// The store holds five kinds of state:
//   - Records: domain payloads with bookkeeping columns (version, fingerprint)
//   - Operations: the durable queue of pending mutations
//   - Nodes: the registry of self plus discovered peers
//   - Checkpoints: (node, table) scan high-water marks
//   - Conflicts: an append-only audit log of detected divergences
//
// # Critical Patterns
//
// CP-1: Versions Never Decrease
//   - Record upserts apply only when the incoming version is >= the stored one
//   - A retried or reordered apply cannot rewind a record
//
// CP-2: Conflict Durability Before Resolution
//   - A conflict row is inserted before its resolution is applied
//   - A crash mid-resolution leaves an unresolved conflict, not a silent loss
//
// CP-3: Forward-Only Checkpoints
//   - Checkpoint upserts apply only when the incoming cursor is >= the stored one
//   - Scans use strictly-greater comparison against the cursor, so a record is
//     inspected at most once per change
//
// CP-4: Deterministic Query Results
//   - Listing queries order by a stable key (updated_at then record_key,
//     priority then node_id, origin_timestamp then record_id)
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Record fingerprints are computed via internal/record using RFC 8785
// canonical JSON and SHA-256 with domain separation.
package store
