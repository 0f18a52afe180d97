package state

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
)

// HashResult carries one hash computation's complete outcome. Returning it
// by value is what guarantees per-call isolation: interleaved or concurrent
// Hash calls can never leak the unsafe-number flag into each other.
type HashResult struct {
	Digest           [32]byte
	HasUnsafeNumbers bool
}

// Hex returns the digest as lowercase hex, the encoding the producer uses
// on the wire.
func (r HashResult) Hex() string {
	return hex.EncodeToString(r.Digest[:])
}

// Hash computes the SHA-256 digest over the UTF-8 bytes of v's canonical
// form. The digest byte-for-byte matches any other implementation hashing
// the same logical value; that cross-implementation agreement is the whole
// point of canonicalization.
//
// HasUnsafeNumbers is set by an independent walk of the value, never by
// the digest: a numeric leaf whose magnitude exceeds MaxSafeInteger may
// already have lost precision upstream, so the flag tells the caller the
// digest cannot prove what the producer originally held. It does not
// change the digest itself.
func Hash(v Value) HashResult {
	return HashResult{
		Digest:           sha256.Sum256(AppendCanonical(nil, v)),
		HasUnsafeNumbers: hasUnsafeNumbers(v),
	}
}

func hasUnsafeNumbers(v Value) bool {
	switch val := v.(type) {
	case Number:
		return math.Abs(float64(val)) > MaxSafeInteger
	case BigInt:
		return bigIntOf(val).CmpAbs(maxSafeBig) > 0
	case Array:
		for _, elem := range val {
			if hasUnsafeNumbers(elem) {
				return true
			}
		}
		return false
	case Object:
		for _, elem := range val {
			if hasUnsafeNumbers(elem) {
				return true
			}
		}
		return false
	default:
		return false
	}
}
