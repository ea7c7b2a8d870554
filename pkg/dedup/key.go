// Package dedup provides the run-wide key sets used to drop duplicate rows
// as they are accumulated, instead of holding every record until a final
// pass. Keys are content digests, so two rows share a key exactly when all
// their fields are equal.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// Key identifies one row in a key set.
type Key struct {
	// Kind separates record kinds (e.g. "entity", "sub_record")
	Kind string

	// Digest is the hex content digest of the row
	Digest string
}

// String generates the deterministic member string.
// Format: kind:digest
//
// Example:
//
//	entity:9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08
func (k Key) String() string {
	parts := make([]string, 0, 2)
	if k.Kind != "" {
		parts = append(parts, k.Kind)
	}
	parts = append(parts, k.Digest)
	return strings.Join(parts, ":")
}

// Digest returns the SHA-256 digest of the canonical JSON encoding of fields.
// Map keys are encoded in sorted order, so the digest does not depend on
// insertion order.
func Digest(fields map[string]any) (string, error) {
	data, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("encode row: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// NewKey builds the key for a row of the given kind.
func NewKey(kind string, fields map[string]any) (Key, error) {
	digest, err := Digest(fields)
	if err != nil {
		return Key{}, err
	}
	return Key{Kind: kind, Digest: digest}, nil
}
