// Package record provides the canonical data model for synchronized records.
//
// This package contains type definitions and fingerprinting only. All other
// internal packages import record; record imports nothing internal. This
// keeps it the foundational layer with no circular dependencies.
//
// Key design constraints:
//   - NO float types anywhere - use Int (int64) for numbers; floats break
//     canonical serialization and fingerprint determinism
//   - Payloads are Objects: opaque field-name to Value mappings with a
//     required "key" field carrying the logical record key
//   - Fingerprints are SHA-256 over RFC 8785 canonical JSON with domain
//     separation; bookkeeping fields (id, created_at, updated_at, version,
//     fingerprint) are stripped before hashing
package record
