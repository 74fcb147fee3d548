// Package units provides numeric parsing, rounding and unit conversion helpers
// used before values reach a formula.
package units

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrEmpty is returned by ParseNumber for blank input.
var ErrEmpty = errors.New("value is empty")

// ParseNumber parses operator input as a finite number. A single comma is
// accepted as the decimal separator when no dot is present.
func ParseNumber(raw string) (float64, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, ErrEmpty
	}
	if !strings.Contains(s, ".") && strings.Count(s, ",") == 1 {
		s = strings.Replace(s, ",", ".", 1)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%q is not a number", raw)
	}
	if !IsFinite(v) {
		return 0, fmt.Errorf("%q is not a finite number", raw)
	}
	return v, nil
}

// IsFinite reports whether v is neither NaN nor infinite.
func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Round rounds v to the given number of decimals, half away from zero.
func Round(v float64, precision int) float64 {
	if precision < 0 {
		return v
	}
	scale := math.Pow(10, float64(precision))
	r := math.Round(v*scale) / scale
	if !IsFinite(r) {
		return v
	}
	return r
}

// Ratio returns num/den, or false when den is zero or the result is not finite.
func Ratio(num, den float64) (float64, bool) {
	if den == 0 {
		return 0, false
	}
	v := num / den
	if !IsFinite(v) {
		return 0, false
	}
	return v, true
}

// Percent returns part as a percentage of whole, or false when whole is zero.
func Percent(part, whole float64) (float64, bool) {
	v, ok := Ratio(part, whole)
	if !ok {
		return 0, false
	}
	return v * 100, true
}
