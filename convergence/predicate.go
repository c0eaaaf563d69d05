package convergence

import "math"

// DefaultTolerance is the epsilon below which two derived values are equal.
const DefaultTolerance = 0.01

// FieldMatches reports whether a single persisted value matches the expected
// one: both absent, or both present with |persisted - expected| < tolerance.
func FieldMatches(persisted, expected any, tolerance float64) bool {
	p, pok := Normalize(persisted)
	e, eok := Normalize(expected)
	switch {
	case !pok && !eok:
		return true
	case pok != eok:
		return false
	default:
		return math.Abs(p-e) < tolerance
	}
}

// Matches reports whether every field in fields matches between persisted and
// expected. A missing map key is treated like a nil value. A non-positive
// tolerance falls back to [DefaultTolerance].
//
// An empty fields set yields true; callers that have no baseline to compare
// against should accept immediately rather than poll.
func Matches(persisted, expected map[string]any, fields []string, tolerance float64) bool {
	if tolerance <= 0 || math.IsNaN(tolerance) {
		tolerance = DefaultTolerance
	}
	for _, field := range fields {
		if !FieldMatches(persisted[field], expected[field], tolerance) {
			return false
		}
	}
	return true
}

// AllPresent reports whether every field in fields holds a present value.
func AllPresent(values map[string]any, fields []string) bool {
	for _, field := range fields {
		if _, ok := Normalize(values[field]); !ok {
			return false
		}
	}
	return true
}
