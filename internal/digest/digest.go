// Package digest computes content digests and normalizes artifact identifiers.
// Every store boundary goes through Normalize so that prefixed ("sha256:<hex>")
// and bare hex forms of the same digest are interchangeable.
package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Scheme is the hash algorithm tag carried by canonical identifiers.
const Scheme = "sha256"

const prefix = Scheme + ":"

// hexLen is the length of a hex-encoded SHA-256 digest.
const hexLen = sha256.Size * 2

// Sum returns the hex-encoded SHA-256 digest of b.
func Sum(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}

// Normalize strips an optional scheme prefix and lower-cases the identifier,
// yielding the bare hex form used for storage keys.
func Normalize(id string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(id), prefix))
}

// Canonical returns the prefixed canonical form ("sha256:<hex>") of id,
// accepting both prefixed and bare input.
func Canonical(id string) string {
	return prefix + Normalize(id)
}

// WellFormed reports whether id normalizes to a valid hex-encoded SHA-256
// digest.
func WellFormed(id string) bool {
	n := Normalize(id)
	if len(n) != hexLen {
		return false
	}
	_, err := hex.DecodeString(n)
	return err == nil
}
