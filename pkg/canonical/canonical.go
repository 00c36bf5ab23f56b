// Package canonical provides RFC 8785 (JSON Canonicalization Scheme)
// serialization and deterministic SHA-256 digests for kura artifacts.
//
// Every digest that gets bound into a token, receipt, or trace MUST come
// from this package. Hashing non-canonical JSON of an unordered map is a
// correctness bug, not a style issue.
package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/gowebpki/jcs"
)

// DigestPrefix marks the hash algorithm in rendered digests.
const DigestPrefix = "sha256:"

// JCS returns the RFC 8785 canonical JSON form of v.
//
// v is marshalled with encoding/json first so struct tags are respected,
// then transformed to canonical form (sorted keys, no HTML escaping).
func JCS(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: pre-marshal failed: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonical: jcs transform failed: %w", err)
	}
	return out, nil
}

// Hash returns "sha256:<hex>" of the canonical JSON form of v.
func Hash(v any) (string, error) {
	b, err := JCS(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBytes returns "sha256:<hex>" of raw bytes.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return DigestPrefix + hex.EncodeToString(sum[:])
}

// HashStrings hashes a list of strings after sorting a copy of it.
// Used for order-independent digests such as receipt-id sets.
func HashStrings(items []string) string {
	sorted := make([]string, len(items))
	copy(sorted, items)
	sort.Strings(sorted)

	h := sha256.New()
	for _, s := range sorted {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}
	return DigestPrefix + hex.EncodeToString(h.Sum(nil))
}
