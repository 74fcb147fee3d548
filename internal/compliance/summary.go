// Package compliance turns sample rows into a SummaryResult: descriptive
// aggregates, curve optima, flow-curve limits, record-level calculations and
// an ordered first-match status classification.
package compliance

import (
	"errors"
	"fmt"

	"labcore/internal/formula"
	"labcore/internal/stats"
	"labcore/internal/units"
	"labcore/pkg/domain"
)

// AggregatePrecision is the number of decimals aggregate statistics are rounded to.
const AggregatePrecision = 6

// Aggregate suffixes appended to a summary field key.
const (
	SuffixMean   = ".mean"
	SuffixStdDev = ".stddev"
	SuffixCount  = ".count"
	SuffixMin    = ".min"
	SuffixMax    = ".max"
)

// AggregateSuffixes lists every suffix Summarize may emit for a summary field.
var AggregateSuffixes = []string{SuffixMean, SuffixStdDev, SuffixCount, SuffixMin, SuffixMax}

// Calculation is a compiled record-level formula.
type Calculation struct {
	Key       string
	Formula   *formula.Formula
	Precision *int
}

// Rules is the compiled summary configuration of one test type. It is built by
// the schema compiler and is safe for concurrent use.
type Rules struct {
	MinRows       int
	Fields        []string
	Optimum       *domain.OptimumDefinition
	FlowCurve     *domain.FlowCurveDefinition
	Calculations  []Calculation
	Classifier    *Classifier
	DefaultStatus domain.ComplianceStatus
}

// Input carries record context that a summary depends on besides the rows.
type Input struct {
	// Params holds header numeric values and constants.
	Params map[string]float64
	// ManualOptimum, when set, replaces the automatically selected optimum.
	ManualOptimum *domain.Point
}

// RecomputeSummary summarizes rows without header parameters or a manual optimum.
func RecomputeSummary(rows []domain.SampleRow, rules Rules) domain.SummaryResult {
	return rules.Summarize(rows, Input{})
}

func (r Rules) minRows() int {
	if r.MinRows < 1 {
		return 1
	}
	return r.MinRows
}

// Summarize computes the summary for rows. It is a pure function of its inputs.
// When any required series has too few present values the result carries
// StatusInsufficient, empty aggregates and a note per failing series.
func (r Rules) Summarize(rows []domain.SampleRow, in Input) domain.SummaryResult {
	aggregates := map[string]float64{}
	var notes []domain.Note
	insufficient := false

	for _, key := range r.Fields {
		values := column(rows, key)
		if len(values) < r.minRows() {
			insufficient = true
			notes = append(notes, domain.Note{
				Code:    domain.NoteInsufficientData,
				Field:   key,
				Message: fmt.Sprintf("%d of %d required values present", len(values), r.minRows()),
			})
			continue
		}
		describe(aggregates, key, values)
	}

	var (
		optimum *domain.Point
		source  domain.OptimumSource
	)
	if opt := r.Optimum; opt != nil {
		points := RowPoints(rows, opt.X, opt.Y)
		need := opt.MinPoints
		if need < 1 {
			need = r.minRows()
		}
		switch {
		case len(points) < need:
			insufficient = true
			notes = append(notes, domain.Note{
				Code:    domain.NoteInsufficientData,
				Field:   opt.YKey,
				Message: fmt.Sprintf("%d of %d curve points present", len(points), need),
			})
		case in.ManualOptimum != nil:
			p := *in.ManualOptimum
			optimum, source = &p, domain.OptimumManual
		default:
			if p, ok := SelectOptimum(points); ok {
				optimum, source = &p, domain.OptimumAuto
			}
		}
		if optimum != nil {
			aggregates[opt.XKey] = units.Round(optimum.X, AggregatePrecision)
			aggregates[opt.YKey] = units.Round(optimum.Y, AggregatePrecision)
		}
	}

	if flow := r.FlowCurve; flow != nil {
		points := RowPoints(rows, flow.Blows, flow.Moisture)
		value, err := InterpolateFlowCurve(points, flow.ReferenceBlows())
		switch {
		case errors.Is(err, ErrNoBracket):
			insufficient = true
			notes = append(notes, domain.Note{
				Code:    domain.NoteNoBracket,
				Field:   flow.Result,
				Message: fmt.Sprintf("no two points straddle %g blows", flow.ReferenceBlows()),
			})
		case err != nil:
			insufficient = true
			notes = append(notes, domain.Note{
				Code:    domain.NoteInsufficientData,
				Field:   flow.Result,
				Message: fmt.Sprintf("%d flow-curve points present, at least 2 required", len(points)),
			})
		default:
			aggregates[flow.Result] = units.Round(value, AggregatePrecision)
		}
	}

	if insufficient {
		return domain.SummaryResult{
			Aggregates: map[string]float64{},
			Status:     domain.StatusInsufficient,
			Notes:      notes,
		}
	}

	notes = append(notes, r.calculate(aggregates, in.Params)...)

	status, label := r.DefaultStatus, ""
	if status == "" {
		status = domain.StatusUnclassified
	}
	if r.Classifier != nil {
		if rule, ok := r.Classifier.Classify(aggregates, in.Params); ok {
			status, label = rule.Status, rule.Label
		}
	}
	return domain.SummaryResult{
		Aggregates:    aggregates,
		Status:        status,
		Label:         label,
		Optimum:       optimum,
		OptimumSource: source,
		Notes:         notes,
	}
}

// calculate evaluates record-level formulas in declaration order; each result
// is visible to the formulas after it.
func (r Rules) calculate(aggregates, params map[string]float64) []domain.Note {
	if len(r.Calculations) == 0 {
		return nil
	}
	scalars := make(map[string]float64, len(params)+len(aggregates))
	for k, v := range params {
		scalars[k] = v
	}
	for k, v := range aggregates {
		scalars[k] = v
	}
	var notes []domain.Note
	env := formula.MapEnv{Scalars: scalars}
	for _, calc := range r.Calculations {
		v, err := calc.Formula.Eval(env)
		if err != nil {
			notes = append(notes, domain.Note{Code: domain.NoteCalculationFailed, Field: calc.Key, Message: err.Error()})
			continue
		}
		if calc.Precision != nil {
			v = units.Round(v, *calc.Precision)
		}
		aggregates[calc.Key] = v
		scalars[calc.Key] = v
	}
	return notes
}

func describe(into map[string]float64, key string, values []float64) {
	mean, _ := stats.Mean(values)
	lo, hi, _ := stats.MinMax(values)
	into[key+SuffixMean] = units.Round(mean, AggregatePrecision)
	into[key+SuffixCount] = float64(len(values))
	into[key+SuffixMin] = lo
	into[key+SuffixMax] = hi
	if sd, ok := stats.SampleStdDev(values); ok {
		into[key+SuffixStdDev] = units.Round(sd, AggregatePrecision)
	}
}

// column returns the present values of key across rows in row order.
func column(rows []domain.SampleRow, key string) []float64 {
	out := make([]float64, 0, len(rows))
	for _, row := range rows {
		if v, ok := row.Value(key); ok {
			out = append(out, v)
		}
	}
	return out
}
