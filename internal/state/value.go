package state

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"slices"
	"strings"
	"unicode/utf16"
)

// MaxSafeInteger is the largest integer magnitude a float64 represents
// exactly (2^53 - 1). Integer literals beyond it decode as BigInt, and any
// numeric leaf beyond it marks a state as precision-unsafe.
const MaxSafeInteger = 1<<53 - 1

var maxSafeBig = big.NewInt(MaxSafeInteger)

// Value is a sealed interface over the closed set of JSON-like variants.
// Only Null, Bool, Number, BigInt, String, Array, and Object implement it.
// A nil Value is treated as Null by every function in this package.
type Value interface {
	value() // sealed
}

// Null represents a JSON null.
type Null struct{}

func (Null) value() {}

// Bool represents a JSON boolean.
type Bool bool

func (Bool) value() {}

// Number represents a finite or non-finite float64. Non-finite values
// (NaN, ±Inf) are representable in the tree but canonicalize to null.
type Number float64

func (Number) value() {}

// String represents a JSON string.
type String string

func (String) value() {}

// BigInt holds an integer whose magnitude exceeds MaxSafeInteger. It
// canonicalizes as a quoted decimal string, keeping it syntactically
// distinct from Number and immune to float64 rounding.
type BigInt struct {
	Int *big.Int
}

func (BigInt) value() {}

// NewBigInt copies n into a BigInt value.
func NewBigInt(n *big.Int) BigInt {
	return BigInt{Int: new(big.Int).Set(n)}
}

// Array represents an ordered sequence of values. A nil element is
// treated as Null.
type Array []Value

func (Array) value() {}

// Object represents a string-keyed collection of values. Iteration order
// of the underlying map never leaks into canonical output; use SortedKeys
// for deterministic traversal.
type Object map[string]Value

func (Object) value() {}

// SortedKeys returns the object's keys in UTF-16 code-unit order, the key
// ordering RFC 8785 specifies for canonical JSON.
// Go's sort.Strings compares UTF-8 bytes, which orders supplementary-plane
// characters differently; the surrogate-pair encoding matters here.
func (obj Object) SortedKeys() []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeysUTF16)
	return keys
}

// compareKeysUTF16 compares strings by UTF-16 code units, shorter prefix
// first, as required for canonical key ordering.
func compareKeysUTF16(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))

	n := min(len(a16), len(b16))
	for i := 0; i < n; i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}

	switch {
	case len(a16) < len(b16):
		return -1
	case len(a16) > len(b16):
		return 1
	default:
		return 0
	}
}

// Decode parses JSON bytes into a Value. Integer literals with magnitude
// at most MaxSafeInteger become Number; larger integers become BigInt;
// fractional and exponent literals become Number via float64.
func Decode(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	return FromGo(raw)
}

// FromGo converts a dynamically-typed Go value (as produced by
// encoding/json with UseNumber, or by yaml.v3) into a Value.
func FromGo(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return val, nil
	case bool:
		return Bool(val), nil
	case string:
		return String(val), nil
	case json.Number:
		return fromNumberLiteral(string(val))
	case int:
		return fromInt64(int64(val)), nil
	case int64:
		return fromInt64(val), nil
	case uint64:
		if val > MaxSafeInteger {
			return BigInt{Int: new(big.Int).SetUint64(val)}, nil
		}
		return Number(float64(val)), nil
	case float64:
		return Number(val), nil
	case []any:
		arr := make(Array, len(val))
		for i, elem := range val {
			sv, err := FromGo(elem)
			if err != nil {
				return nil, fmt.Errorf("array[%d]: %w", i, err)
			}
			arr[i] = sv
		}
		return arr, nil
	case map[string]any:
		obj := make(Object, len(val))
		for k, elem := range val {
			sv, err := FromGo(elem)
			if err != nil {
				return nil, fmt.Errorf("object[%q]: %w", k, err)
			}
			obj[k] = sv
		}
		return obj, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

func fromInt64(n int64) Value {
	if n > MaxSafeInteger || n < -MaxSafeInteger {
		return BigInt{Int: big.NewInt(n)}
	}
	return Number(float64(n))
}

// fromNumberLiteral decides between Number and BigInt for a JSON numeric
// literal. Fractional and exponent forms always take the float64 path;
// out-of-range exponents saturate to ±Inf the way a float64 parse does.
func fromNumberLiteral(s string) (Value, error) {
	if strings.ContainsAny(s, ".eE") {
		f, err := parseFloatLiteral(s)
		if err != nil {
			return nil, err
		}
		return Number(f), nil
	}

	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid number literal: %q", s)
	}
	if n.CmpAbs(maxSafeBig) > 0 {
		return BigInt{Int: n}, nil
	}
	f, _ := new(big.Float).SetInt(n).Float64()
	return Number(f), nil
}

// Clone returns a deep copy of v. Mutating the copy never affects the
// original; this is what makes checkpoints and replay results safe to
// hand out while the live state keeps changing.
func Clone(v Value) Value {
	switch val := v.(type) {
	case nil:
		return Null{}
	case Null, Bool, Number, String:
		return val
	case BigInt:
		if val.Int == nil {
			return BigInt{Int: new(big.Int)}
		}
		return BigInt{Int: new(big.Int).Set(val.Int)}
	case Array:
		out := make(Array, len(val))
		for i, elem := range val {
			out[i] = Clone(elem)
		}
		return out
	case Object:
		out := make(Object, len(val))
		for k, elem := range val {
			out[k] = Clone(elem)
		}
		return out
	default:
		return Null{}
	}
}

// Equal reports whether a and b are observationally identical, meaning
// they canonicalize to the same bytes. NaN equals NaN and -0 equals 0
// under this definition, matching hash behavior exactly.
func Equal(a, b Value) bool {
	return Canonicalize(a) == Canonicalize(b)
}

func bigIntOf(v BigInt) *big.Int {
	if v.Int == nil {
		return new(big.Int)
	}
	return v.Int
}

// MarshalJSON implementations emit the canonical form. Encoders that
// re-escape HTML characters will rewrite <, >, and & afterwards; use an
// encoder with SetEscapeHTML(false) where exact canonical bytes matter.

func (v Null) MarshalJSON() ([]byte, error)   { return AppendCanonical(nil, v), nil }
func (v Bool) MarshalJSON() ([]byte, error)   { return AppendCanonical(nil, v), nil }
func (v Number) MarshalJSON() ([]byte, error) { return AppendCanonical(nil, v), nil }
func (v String) MarshalJSON() ([]byte, error) { return AppendCanonical(nil, v), nil }
func (v BigInt) MarshalJSON() ([]byte, error) { return AppendCanonical(nil, v), nil }
func (v Array) MarshalJSON() ([]byte, error)  { return AppendCanonical(nil, v), nil }
func (v Object) MarshalJSON() ([]byte, error) { return AppendCanonical(nil, v), nil }
