package canonical

import (
	"fmt"
	"hash/fnv"

	"github.com/cespare/xxhash/v2"
)

// Hasher fingerprints a canonical byte string. The algorithm is an
// interchangeable capability: change detection needs collision resistance at
// dimension scale, not cryptographic strength, so 64-bit non-cryptographic
// hashing is the default.
type Hasher interface {
	// Sum64 hashes the canonical representation.
	Sum64(data []byte) uint64

	// Name identifies the algorithm for diagnostics and stored metadata.
	Name() string
}

// XXHasher is the default Hasher (xxHash64).
type XXHasher struct{}

func (XXHasher) Sum64(data []byte) uint64 { return xxhash.Sum64(data) }
func (XXHasher) Name() string             { return "xxhash64" }

// FNVHasher is a dependency-free fallback (FNV-1a 64-bit). Weaker dispersion
// than xxHash; kept for environments that mandate a stdlib algorithm.
type FNVHasher struct{}

func (FNVHasher) Sum64(data []byte) uint64 {
	h := fnv.New64a()
	_, _ = h.Write(data)
	return h.Sum64()
}

func (FNVHasher) Name() string { return "fnv1a64" }

// HasherByName resolves a configured algorithm name.
func HasherByName(name string) (Hasher, error) {
	switch name {
	case "", "xxhash64":
		return XXHasher{}, nil
	case "fnv1a64":
		return FNVHasher{}, nil
	default:
		return nil, fmt.Errorf("unknown hash algorithm %q", name)
	}
}

// FormatHash renders a 64-bit fingerprint as the fixed-width hex string stored
// on version rows.
func FormatHash(h uint64) string {
	return fmt.Sprintf("%016x", h)
}
