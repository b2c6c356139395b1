package reconcile

import "math"

// AllocateCalories splits a session total across exercises in proportion to
// each exercise's share of the total active duration. A zero total active
// duration allocates nothing. Results are unrounded.
func AllocateCalories(sessionCalories float64, activeSeconds []int) []float64 {
	out := make([]float64, len(activeSeconds))
	total := 0
	for _, s := range activeSeconds {
		total += s
	}
	if total <= 0 || sessionCalories == 0 {
		return out
	}
	for i, s := range activeSeconds {
		out[i] = sessionCalories * (float64(s) / float64(total))
	}
	return out
}

// RoundCalories rounds an allocation to whole calories.
func RoundCalories(v float64) float64 {
	return math.Round(v)
}
