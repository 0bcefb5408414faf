// Package integrity provides deterministic content hashing and Merkle tree
// construction for epistemic pipeline artifacts. All functions are pure.
package integrity

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Hash version prefix. Bump when the canonical encoding changes so stored
// hashes remain verifiable.
const hashV1Prefix = "v1:"

// CanonicalJSON serializes v to canonical JSON: object keys sorted
// lexicographically, no insignificant whitespace. Round-tripping the output
// through json.Unmarshal and CanonicalJSON again yields identical bytes.
func CanonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("integrity: marshal: %w", err)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("integrity: reparse: %w", err)
	}
	var sb strings.Builder
	if err := writeCanonical(&sb, generic); err != nil {
		return nil, err
	}
	return []byte(sb.String()), nil
}

func writeCanonical(sb *strings.Builder, v any) error {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				sb.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return fmt.Errorf("integrity: marshal key: %w", err)
			}
			sb.Write(kb)
			sb.WriteByte(':')
			if err := writeCanonical(sb, t[k]); err != nil {
				return err
			}
		}
		sb.WriteByte('}')
	case []any:
		sb.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				sb.WriteByte(',')
			}
			if err := writeCanonical(sb, e); err != nil {
				return err
			}
		}
		sb.WriteByte(']')
	default:
		// Scalars keep their original JSON encoding. Numbers re-encode via
		// json.Marshal of the float64, which is stable for a fixed input.
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("integrity: marshal scalar: %w", err)
		}
		sb.Write(b)
	}
	return nil
}

// ContentHash computes the versioned SHA-256 hex digest of the canonical
// JSON serialization of v. Identical inputs always produce identical hashes.
func ContentHash(v any) (string, error) {
	canonical, err := CanonicalJSON(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hashV1Prefix + hex.EncodeToString(sum[:]), nil
}

// VerifyContentHash recomputes the hash of v and compares to stored.
func VerifyContentHash(stored string, v any) bool {
	h, err := ContentHash(v)
	if err != nil {
		return false
	}
	return stored == h
}

// hashPair produces SHA-256(0x01 || a || b) as a hex string. The 0x01 byte
// is a domain separator for internal Merkle nodes (per RFC 6962) so internal
// hashes can never collide with leaf content hashes.
func hashPair(a, b string) string {
	h := sha256.New()
	h.Write([]byte{0x01})
	h.Write([]byte(a))
	h.Write([]byte(b))
	return hex.EncodeToString(h.Sum(nil))
}

// BuildMerkleRoot constructs a Merkle tree from leaf hashes and returns the
// root. Callers must order leaves deterministically. Empty input returns "";
// a single leaf is its own root. Odd-length levels hash the last node with
// itself for structural binding.
func BuildMerkleRoot(leaves []string) string {
	if len(leaves) == 0 {
		return ""
	}
	if len(leaves) == 1 {
		return leaves[0]
	}

	level := make([]string, len(leaves))
	copy(level, leaves)

	for len(level) > 1 {
		var next []string
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, hashPair(level[i], level[i+1]))
			} else {
				next = append(next, hashPair(level[i], level[i]))
			}
		}
		level = next
	}

	return level[0]
}
