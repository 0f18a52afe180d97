// Package seq implements exact ordering arithmetic over the producer's
// decimal-string-encoded sequence numbers.
//
// Sequence numbers are arbitrarily large signed integers carried as
// strings on the wire. Every comparison here goes through math/big, so
// ordering stays exact past 2^63 and no float arithmetic ever touches a
// sequence. The encoding reserves two regions: "0" is the wire default
// meaning "unassigned", and negative values are synthetic placeholders a
// consumer mints locally for events the producer has not acknowledged.
// Neither region is a real ordering position.
package seq

import (
	"fmt"
	"math/big"
)

// Seq is a sequence number. The zero value is the unassigned sequence
// ("0" on the wire), so plain struct literals behave sensibly.
type Seq struct {
	n *big.Int
}

// Unassigned is the producer wire default: no sequence issued yet.
var Unassigned = Seq{}

// Parse decodes a decimal-string sequence encoding. An optional leading
// minus is the only permitted non-digit; anything else (empty string,
// fractions, exponents, whitespace, an explicit plus) is a malformed
// sequence.
func Parse(s string) (Seq, error) {
	if len(s) > 0 && s[0] == '+' {
		return Seq{}, fmt.Errorf("parse seq: invalid encoding %q", s)
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return Seq{}, fmt.Errorf("parse seq: invalid encoding %q", s)
	}
	return Seq{n: n}, nil
}

// MustParse is Parse for values known to be valid, such as test fixtures.
func MustParse(s string) Seq {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// FromInt builds a Seq from an in-range integer.
func FromInt(n int64) Seq {
	return Seq{n: big.NewInt(n)}
}

func (s Seq) big() *big.Int {
	if s.n == nil {
		return new(big.Int)
	}
	return s.n
}

// Compare returns -1, 0, or 1 ordering s against o as exact integers.
func (s Seq) Compare(o Seq) int {
	return s.big().Cmp(o.big())
}

// IsReal reports whether s is a trustworthy replay target: a sequence the
// producer actually assigned. Unassigned ("0") and synthetic (negative)
// encodings both fail this, for different reasons; callers that care which
// should check IsUnassigned or IsSynthetic directly.
func (s Seq) IsReal() bool {
	return s.big().Sign() > 0
}

// IsUnassigned reports the producer wire default "0".
func (s Seq) IsUnassigned() bool {
	return s.big().Sign() == 0
}

// IsSynthetic reports a locally-minted placeholder (negative encoding).
func (s Seq) IsSynthetic() bool {
	return s.big().Sign() < 0
}

// Next returns s + 1.
func (s Seq) Next() Seq {
	return Seq{n: new(big.Int).Add(s.big(), big.NewInt(1))}
}

// String returns the canonical decimal encoding.
func (s Seq) String() string {
	return s.big().String()
}

// MarshalJSON encodes the sequence as its wire string.
func (s Seq) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalJSON accepts both the string encoding and a bare JSON integer,
// which older producers emit for small sequences.
func (s *Seq) UnmarshalJSON(data []byte) error {
	raw := string(data)
	if len(raw) >= 2 && raw[0] == '"' && raw[len(raw)-1] == '"' {
		raw = raw[1 : len(raw)-1]
	}
	v, err := Parse(raw)
	if err != nil {
		return err
	}
	*s = v
	return nil
}
