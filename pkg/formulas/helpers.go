package formulas

import "math"

func isNaN(f float64) bool {
	return math.IsNaN(f)
}

// Round3 rounds to 3 decimal places. Persisted scores and report figures use
// this precision.
func Round3(value float64) float64 {
	return math.Round(value*1000) / 1000
}

// Clamp limits value to the [min, max] range.
func Clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

// Sanitize replaces NaN and Inf with the given fallback value.
func Sanitize(value, fallback float64) float64 {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return fallback
	}
	return value
}
