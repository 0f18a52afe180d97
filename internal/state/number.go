package state

import (
	"errors"
	"math"
	"strconv"
	"strings"
)

// formatNumber renders a finite float64 in the shortest round-trippable
// decimal form, using the same notation rules as ECMA-262 Number::toString:
// fixed notation while the decimal exponent stays within (-7, 21), otherwise
// scientific notation with a signed, unpadded exponent. The producer emits
// numbers this way, so the canonical bytes must match digit for digit.
//
// strconv alone does not produce this: %g pads exponents to two digits and
// switches notation at different thresholds.
func formatNumber(f float64) string {
	if f == 0 {
		return "0" // covers negative zero
	}

	neg := math.Signbit(f)
	abs := math.Abs(f)

	// Shortest round-trip digits via scientific form, e.g. "1.2345e-07".
	mant := strconv.FormatFloat(abs, 'e', -1, 64)
	ePos := strings.IndexByte(mant, 'e')
	digits := strings.Replace(mant[:ePos], ".", "", 1)
	exp, _ := strconv.Atoi(mant[ePos+1:])

	// n is the position of the decimal point relative to the digit string:
	// digits == "123", n == 5 renders as "12300".
	n := exp + 1
	k := len(digits)

	var s string
	switch {
	case n >= k && n <= 21:
		s = digits + strings.Repeat("0", n-k)
	case n > 0 && n <= 21:
		s = digits[:n] + "." + digits[n:]
	case n > -6 && n <= 0:
		s = "0." + strings.Repeat("0", -n) + digits
	default:
		e := n - 1
		s = digits[:1]
		if k > 1 {
			s += "." + digits[1:]
		}
		if e >= 0 {
			s += "e+" + strconv.Itoa(e)
		} else {
			s += "e-" + strconv.Itoa(-e)
		}
	}

	if neg {
		return "-" + s
	}
	return s
}

// parseFloatLiteral parses a fractional or exponent JSON numeric literal.
// Overflowing literals such as 1e999 saturate to ±Inf rather than failing,
// matching how the producer's JSON parser behaves.
func parseFloatLiteral(s string) (float64, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		var numErr *strconv.NumError
		if errors.As(err, &numErr) && errors.Is(numErr.Err, strconv.ErrRange) {
			return f, nil
		}
		return 0, err
	}
	return f, nil
}
