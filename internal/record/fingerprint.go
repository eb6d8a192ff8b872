package record

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// DomainRecord is the domain prefix for record fingerprints.
// Version suffix enables future algorithm migration.
const DomainRecord = "peersync/record/v1"

// bookkeepingFields are excluded from fingerprint input. They describe a
// record's storage lifecycle, not its logical content, and recomputing a hash
// over them would make every write look like a content change.
var bookkeepingFields = map[string]bool{
	"id":          true,
	"created_at":  true,
	"updated_at":  true,
	"version":     true,
	"fingerprint": true,
}

// IsBookkeepingField reports whether a payload field is excluded from
// fingerprint computation.
func IsBookkeepingField(name string) bool {
	return bookkeepingFields[name]
}

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Fingerprint computes the canonical content hash of a payload's logical
// fields. Bookkeeping fields are stripped before hashing, so two snapshots of
// the same logical content always fingerprint identically even when their
// versions or timestamps differ. Deterministic and side-effect free.
func Fingerprint(payload Object) (string, error) {
	logical := make(Object, len(payload))
	for k, v := range payload {
		if bookkeepingFields[k] {
			continue
		}
		logical[k] = v
	}

	canonical, err := MarshalCanonical(logical)
	if err != nil {
		return "", fmt.Errorf("fingerprint: marshal payload: %w", err)
	}

	return hashWithDomain(DomainRecord, canonical), nil
}

// MustFingerprint is like Fingerprint but panics on error.
// Use only in tests or when the payload is known to be valid.
func MustFingerprint(payload Object) string {
	fp, err := Fingerprint(payload)
	if err != nil {
		panic(err)
	}
	return fp
}
