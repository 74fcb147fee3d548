package compliance

import (
	"errors"
	"math"
	"sort"

	"labcore/pkg/domain"
)

// Interpolation failures. Callers surface them as an explicit "cannot
// interpolate" state and never substitute a default value.
var (
	ErrInsufficientData = errors.New("insufficient data")
	ErrNoBracket        = errors.New("no pair of points brackets the reference")
)

// SortPoints returns a copy of points ordered by X. Points with equal X keep
// their input order.
func SortPoints(points []domain.Point) []domain.Point {
	out := append([]domain.Point(nil), points...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].X < out[j].X })
	return out
}

// SelectOptimum sorts points by X and returns the point of maximum Y. On equal
// Y the point with the smaller X wins.
func SelectOptimum(points []domain.Point) (domain.Point, bool) {
	if len(points) == 0 {
		return domain.Point{}, false
	}
	sorted := SortPoints(points)
	best := sorted[0]
	for _, p := range sorted[1:] {
		if p.Y > best.Y {
			best = p
		}
	}
	return best, true
}

// InterpolateFlowCurve returns the moisture content at the reference blow
// count by log-linear interpolation between the tightest pair of points that
// straddles it. Points carry blows in X and moisture content in Y.
func InterpolateFlowCurve(points []domain.Point, reference float64) (float64, error) {
	usable := make([]domain.Point, 0, len(points))
	for _, p := range points {
		if p.X > 0 {
			usable = append(usable, p)
		}
	}
	if len(usable) < 2 || reference <= 0 {
		return 0, ErrInsufficientData
	}
	sorted := SortPoints(usable)
	for _, p := range sorted {
		if p.X == reference {
			return p.Y, nil
		}
	}
	target := math.Log10(reference)
	for i := 0; i+1 < len(sorted); i++ {
		lo, hi := sorted[i], sorted[i+1]
		if lo.X < reference && reference < hi.X {
			x1, x2 := math.Log10(lo.X), math.Log10(hi.X)
			return lo.Y + (hi.Y-lo.Y)*(target-x1)/(x2-x1), nil
		}
	}
	return 0, ErrNoBracket
}

// PointRange returns the X extent of points.
func PointRange(points []domain.Point) (float64, float64, bool) {
	if len(points) == 0 {
		return 0, 0, false
	}
	lo, hi := points[0].X, points[0].X
	for _, p := range points[1:] {
		lo = math.Min(lo, p.X)
		hi = math.Max(hi, p.X)
	}
	return lo, hi, true
}

// RowPoints collects (x, y) pairs from rows where both values are present, in row order.
func RowPoints(rows []domain.SampleRow, xKey, yKey string) []domain.Point {
	points := make([]domain.Point, 0, len(rows))
	for _, row := range rows {
		x, okX := row.Value(xKey)
		y, okY := row.Value(yKey)
		if okX && okY {
			points = append(points, domain.Point{X: x, Y: y})
		}
	}
	return points
}
