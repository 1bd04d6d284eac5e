// Package hashing provides the deterministic bucketing hash used to assign
// identities to flag rollouts and variants. The algorithm is fixed by the
// wire protocol shared with other language SDKs and must never change.
package hashing

import (
	"crypto/sha1"
	"encoding/hex"
	"strconv"
)

// maxHashValue is 2^60 - 1, the divisor that maps the truncated digest into
// the half-open interval [0, 1).
const maxHashValue = float64(1<<60 - 1)

// Hasher computes the deterministic bucketing hash: sha1(key + "." +
// distinctID + salt), first 15 hex chars parsed as a 60-bit unsigned
// integer, divided by 2^60-1.
type Hasher struct{}

// NewHasher returns a Hasher. It carries no state; the zero value works too.
func NewHasher() *Hasher {
	return &Hasher{}
}

// Hash returns a value in [0, 1) for the given flag key, distinct id and
// salt. The same triple always produces the same value, in this process and
// in any other correct implementation of the protocol.
func (h *Hasher) Hash(key, distinctID, salt string) float64 {
	return Hash(key, distinctID, salt)
}

// Hash is the package-level form of Hasher.Hash, kept for callers that don't
// need to carry a Hasher around.
func Hash(key, distinctID, salt string) float64 {
	input := key + "." + distinctID + salt
	sum := sha1.Sum([]byte(input))
	digest := hex.EncodeToString(sum[:])

	truncated := digest[:15]
	value, err := strconv.ParseUint(truncated, 16, 64)
	if err != nil {
		// 15 hex chars always fit in 60 bits; ParseUint with bitSize 64
		// cannot overflow here, so this path is unreachable in practice.
		return 0
	}

	return float64(value) / maxHashValue
}

// InRollout reports whether h falls within a rollout of the given
// percentage (0-100). A percentage of 0 never matches; 100 always matches,
// regardless of floating point error in h.
func InRollout(h float64, percentage float64) bool {
	if percentage >= 100 {
		return true
	}
	if percentage <= 0 {
		return false
	}
	return h <= percentage/100.0
}
