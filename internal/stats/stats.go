// Package stats holds the descriptive statistics shared by formula aggregates
// and record summaries. Callers pass only present values; absent values are
// filtered out before they reach this package.
package stats

import "math"

// Sum returns the sum of values.
func Sum(values []float64) float64 {
	var total float64
	for _, v := range values {
		total += v
	}
	return total
}

// Mean returns the arithmetic mean, or false for an empty slice.
func Mean(values []float64) (float64, bool) {
	if len(values) == 0 {
		return 0, false
	}
	return Sum(values) / float64(len(values)), true
}

// SampleStdDev returns the sample (n-1) standard deviation, or false when
// fewer than two values are supplied.
func SampleStdDev(values []float64) (float64, bool) {
	if len(values) < 2 {
		return 0, false
	}
	mean, _ := Mean(values)
	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(values)-1)), true
}

// MinMax returns the smallest and largest value, or false for an empty slice.
func MinMax(values []float64) (float64, float64, bool) {
	if len(values) == 0 {
		return 0, 0, false
	}
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi, true
}
