// Package score parses free-text generated output into bounded numeric
// similarity scores.
package score

import (
	"strconv"
	"strings"
)

// Valid similarity score range for the relatedness task.
const (
	Min = 1.0
	Max = 5.0
)

// Decode scans whitespace-separated tokens left to right and returns the
// first one parseable as a floating-point number, clamped into [Min, Max].
//
// When no token parses, Decode returns 0.0 so downstream loss computation
// never has a missing value. The fallback sits outside the valid score range
// and skews any mean-squared-error computed against it; it is kept to match
// the established scoring behaviour of this task.
func Decode(text string) float64 {
	for _, tok := range strings.Fields(text) {
		v, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			continue
		}
		return Clamp(v)
	}
	return 0.0
}

// Clamp bounds v into the closed range [Min, Max].
func Clamp(v float64) float64 {
	if v > Max {
		return Max
	}
	if v < Min {
		return Min
	}
	return v
}
