package calculator

import (
	"strconv"
	"strings"
)

// displayPrecision is the number of fractional digits kept when formatting.
const displayPrecision = 10

// Format renders a result for display and history: rounded to ten fractional
// digits, trailing zeros stripped, never "-0" and never in exponent form, so
// the output can be fed back into Evaluate as an operand.
func Format(v float64) string {
	s := strconv.FormatFloat(normalizeZero(v), 'f', displayPrecision, 64)
	s = strings.TrimRight(s, "0")
	s = strings.TrimSuffix(s, ".")

	if s == "-0" || s == "" {
		return "0"
	}
	return s
}
