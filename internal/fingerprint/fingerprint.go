// Package fingerprint decides whether a file needs re-indexing by
// comparing content digests. Pure functions only; this is what makes
// indexing incremental and resumable.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"

	"repochat/internal/storage"
)

// Fingerprint is a hex-encoded sha256 digest of raw file content.
type Fingerprint string

// Compute returns the fingerprint of raw file content. Deterministic:
// identical bytes always produce identical fingerprints.
func Compute(content []byte) Fingerprint {
	sum := sha256.Sum256(content)
	return Fingerprint(hex.EncodeToString(sum[:]))
}

// NeedsReindex reports whether a file with the given current
// fingerprint must be summarized again. True when there is no existing
// record, when the stored fingerprint differs, or when the last attempt
// failed. A record that never completed (pending) is also re-done.
func NeedsReindex(existing *storage.FileRecord, current Fingerprint) bool {
	if existing == nil {
		return true
	}
	if existing.Status != storage.StatusIndexed {
		return true
	}
	return existing.Fingerprint != string(current)
}
