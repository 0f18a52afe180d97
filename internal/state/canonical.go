package state

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
)

// Canonicalize produces the single deterministic serialization of v. It is
// pure and total: every Value (including nil, treated as null) has exactly
// one canonical form, and no input can make it fail.
//
// The format follows RFC 8785 canonical JSON with the producer's extensions:
//   - object keys sorted by UTF-16 code units
//   - no HTML escaping; U+2028 and U+2029 stay literal
//   - NaN and ±Inf become null
//   - finite numbers in shortest round-trip ECMA-262 notation
//   - BigInt as a quoted decimal string
//
// Two structurally equal values canonicalize byte-for-byte identically in
// any key order; the hash interop contract with the producer rests on this.
func Canonicalize(v Value) string {
	return string(AppendCanonical(nil, v))
}

// AppendCanonical appends the canonical form of v to dst.
func AppendCanonical(dst []byte, v Value) []byte {
	switch val := v.(type) {
	case nil, Null:
		return append(dst, "null"...)
	case Bool:
		return strconv.AppendBool(dst, bool(val))
	case Number:
		f := float64(val)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return append(dst, "null"...)
		}
		return append(dst, formatNumber(f)...)
	case BigInt:
		dst = append(dst, '"')
		dst = append(dst, bigIntOf(val).String()...)
		return append(dst, '"')
	case String:
		return appendCanonicalString(dst, string(val))
	case Array:
		dst = append(dst, '[')
		for i, elem := range val {
			if i > 0 {
				dst = append(dst, ',')
			}
			dst = AppendCanonical(dst, elem)
		}
		return append(dst, ']')
	case Object:
		dst = append(dst, '{')
		for i, k := range val.SortedKeys() {
			if i > 0 {
				dst = append(dst, ',')
			}
			dst = appendCanonicalString(dst, k)
			dst = append(dst, ':')
			dst = AppendCanonical(dst, val[k])
		}
		return append(dst, '}')
	default:
		// Unreachable: Value is sealed.
		return append(dst, "null"...)
	}
}

// appendCanonicalString appends s as a JSON string without HTML escaping
// and with U+2028/U+2029 kept literal. Only control characters, backslash,
// and quote are escaped.
func appendCanonicalString(dst []byte, s string) []byte {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		// Encoding a string cannot fail; fall back to a bare quote pair so
		// the function stays total.
		return append(dst, '"', '"')
	}

	out := buf.Bytes()
	if n := len(out); n > 0 && out[n-1] == '\n' {
		out = out[:n-1]
	}

	// json.Encoder escapes U+2028/U+2029 for JavaScript embedding. The
	// canonical form keeps them literal, so undo exactly those escapes.
	out = unescapeSeparators(out)

	return append(dst, out...)
}

// unescapeSeparators rewrites \u2028 and \u2029 escape sequences back to
// their literal characters. A sequence is only an escape when preceded by
// an even run of backslashes; "\\u2028" encodes a literal backslash
// followed by the text "u2028" and must stay as written.
func unescapeSeparators(data []byte) []byte {
	if !bytes.Contains(data, []byte(`\u202`)) {
		return data
	}

	out := make([]byte, 0, len(data))
	run := 0 // backslashes appended since the last other byte
	for i := 0; i < len(data); i++ {
		c := data[i]
		if c == '\\' && run%2 == 0 && i+5 < len(data) &&
			data[i+1] == 'u' && data[i+2] == '2' && data[i+3] == '0' && data[i+4] == '2' &&
			(data[i+5] == '8' || data[i+5] == '9') {
			if data[i+5] == '8' {
				out = append(out, "\u2028"...)
			} else {
				out = append(out, "\u2029"...)
			}
			i += 5
			run = 0
			continue
		}
		out = append(out, c)
		if c == '\\' {
			run++
		} else {
			run = 0
		}
	}
	return out
}
