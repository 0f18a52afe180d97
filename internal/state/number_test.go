package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatNumberNotation(t *testing.T) {
	// Expected strings are what the producer's runtime prints for the same
	// doubles; fixed notation inside (-7, 21), scientific outside.
	tests := []struct {
		name     string
		input    float64
		expected string
	}{
		{"zero", 0, "0"},
		{"negative zero", negZero(), "0"},
		{"one", 1, "1"},
		{"negative", -1, "-1"},
		{"fraction", 1.5, "1.5"},
		{"tenth", 0.1, "0.1"},
		{"hundred", 100, "100"},
		{"float artifact", 0.1 + 0.2, "0.30000000000000004"},
		{"mixed digits", 1234.5678, "1234.5678"},
		{"max safe integer", 9007199254740991, "9007199254740991"},
		{"smallest fixed fraction", 1e-6, "0.000001"},
		{"below fixed fraction", 1e-7, "1e-7"},
		{"negative small", -2.5e-8, "-2.5e-8"},
		{"largest fixed integer", 1e20, "100000000000000000000"},
		{"first scientific integer", 1e21, "1e+21"},
		{"large scientific", 1.7976931348623157e308, "1.7976931348623157e+308"},
		{"smallest denormal", 5e-324, "5e-324"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, formatNumber(tt.input))
		})
	}
}

func negZero() float64 {
	z := 0.0
	return -z
}

func TestParseFloatLiteralOverflow(t *testing.T) {
	f, err := parseFloatLiteral("1e999")
	assert.NoError(t, err)
	assert.True(t, f > 0 && f*2 == f, "overflow should saturate to +Inf")

	f, err = parseFloatLiteral("-1e999")
	assert.NoError(t, err)
	assert.True(t, f < 0 && f*2 == f, "overflow should saturate to -Inf")

	_, err = parseFloatLiteral("not-a-number")
	assert.Error(t, err)
}
