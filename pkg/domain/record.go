package domain

import "time"

// RawValue is the operator-entered text for a field, before parsing.
type RawValue string

// FieldIssue records a rejected raw value. The previously accepted value stays in place.
type FieldIssue struct {
	Rejected RawValue `json:"rejected"`
	Message  string   `json:"message"`
}

// SampleRow is one physical specimen or test repetition.
//
// Numeric holds unit-normalized values of numeric raw fields. Derived holds a key
// only while every dependency of that derived field is present and its formula
// evaluated cleanly; a failed evaluation is recorded in EvalErrors instead.
type SampleRow struct {
	ID         string                `json:"id"`
	Values     map[string]RawValue   `json:"values"`
	Numeric    map[string]float64    `json:"numeric,omitempty"`
	Derived    map[string]float64    `json:"derived"`
	Invalid    map[string]FieldIssue `json:"invalid,omitempty"`
	EvalErrors map[string]string     `json:"eval_errors,omitempty"`
}

// NewSampleRow returns an empty row with initialized maps.
func NewSampleRow(id string) SampleRow {
	return SampleRow{
		ID:         id,
		Values:     map[string]RawValue{},
		Numeric:    map[string]float64{},
		Derived:    map[string]float64{},
		Invalid:    map[string]FieldIssue{},
		EvalErrors: map[string]string{},
	}
}

// Value returns the numeric input or derived value stored under key.
func (r SampleRow) Value(key string) (float64, bool) {
	if v, ok := r.Numeric[key]; ok {
		return v, true
	}
	v, ok := r.Derived[key]
	return v, ok
}

// HasValues reports whether the operator entered anything in the row.
func (r SampleRow) HasValues() bool { return len(r.Values) > 0 }

// Clone returns a deep copy of the row.
func (r SampleRow) Clone() SampleRow {
	return SampleRow{
		ID:         r.ID,
		Values:     cloneMap(r.Values),
		Numeric:    cloneMap(r.Numeric),
		Derived:    cloneMap(r.Derived),
		Invalid:    cloneMap(r.Invalid),
		EvalErrors: cloneMap(r.EvalErrors),
	}
}

// Point is an (x, y) pair on a test curve.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// OptimumSource tells whether an optimum was picked automatically or by the operator.
type OptimumSource string

// Optimum sources.
const (
	OptimumAuto   OptimumSource = "auto"
	OptimumManual OptimumSource = "manual"
)

// ComplianceStatus is the classification derived from aggregate statistics.
// Schemas may declare their own rating tiers in addition to the constants below.
type ComplianceStatus string

// Well-known statuses.
const (
	StatusInsufficient ComplianceStatus = "insufficient"
	StatusPass         ComplianceStatus = "pass"
	StatusFail         ComplianceStatus = "fail"
	StatusUnclassified ComplianceStatus = "unclassified"
)

// Note codes attached to a summary.
const (
	NoteInsufficientData   = "insufficient_data"
	NoteNoBracket          = "no_bracket"
	NoteCalibrationPending = "calibration_pending"
	NoteOptimumCleared     = "optimum_cleared"
	NoteCalculationFailed  = "calculation_failed"
)

// Note is an explicit, non-error state reported with a summary.
type Note struct {
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// SummaryResult is derived entirely from the rows of a record.
type SummaryResult struct {
	Aggregates    map[string]float64 `json:"aggregates"`
	Status        ComplianceStatus   `json:"status"`
	Label         string             `json:"label,omitempty"`
	Optimum       *Point             `json:"optimum,omitempty"`
	OptimumSource OptimumSource      `json:"optimum_source,omitempty"`
	Notes         []Note             `json:"notes,omitempty"`
}

// Clone returns a deep copy of the summary.
func (s SummaryResult) Clone() SummaryResult {
	out := s
	out.Aggregates = cloneMap(s.Aggregates)
	if s.Optimum != nil {
		p := *s.Optimum
		out.Optimum = &p
	}
	if s.Notes != nil {
		out.Notes = append([]Note(nil), s.Notes...)
	}
	return out
}

// HasNote reports whether a note with the given code is present.
func (s SummaryResult) HasNote(code string) bool {
	for _, n := range s.Notes {
		if n.Code == code {
			return true
		}
	}
	return false
}

// TestRecord is the aggregate root edited by a single operator session.
// Every engine operation returns a new value; the receiver is never mutated.
type TestRecord struct {
	ID            string                `json:"id"`
	TestType      TestTypeID            `json:"test_type"`
	SchemaVersion string                `json:"schema_version"`
	Revision      int                   `json:"revision"`
	State         RecordState           `json:"state"`
	Header        map[string]RawValue   `json:"header"`
	HeaderNumeric map[string]float64    `json:"header_numeric,omitempty"`
	HeaderInvalid map[string]FieldIssue `json:"header_invalid,omitempty"`
	Constants     map[string]float64    `json:"constants,omitempty"`
	Calibrated    map[string]bool       `json:"calibrated,omitempty"`
	Rows          []SampleRow           `json:"rows"`
	ManualOptimum *Point                `json:"manual_optimum,omitempty"`
	Summary       SummaryResult         `json:"summary"`
}

// RowIndex returns the position of the row with the given id.
func (r TestRecord) RowIndex(id string) (int, bool) {
	for i, row := range r.Rows {
		if row.ID == id {
			return i, true
		}
	}
	return -1, false
}

// HasValues reports whether any header or row value was entered.
func (r TestRecord) HasValues() bool {
	if len(r.Header) > 0 {
		return true
	}
	for _, row := range r.Rows {
		if row.HasValues() {
			return true
		}
	}
	return false
}

// Params returns header numeric values and constants as a single lookup table.
// Header values shadow constants with the same key.
func (r TestRecord) Params() map[string]float64 {
	out := make(map[string]float64, len(r.Constants)+len(r.HeaderNumeric))
	for k, v := range r.Constants {
		out[k] = v
	}
	for k, v := range r.HeaderNumeric {
		out[k] = v
	}
	return out
}

// Clone returns a deep copy of the record.
func (r TestRecord) Clone() TestRecord {
	out := r
	out.Header = cloneMap(r.Header)
	out.HeaderNumeric = cloneMap(r.HeaderNumeric)
	out.HeaderInvalid = cloneMap(r.HeaderInvalid)
	out.Constants = cloneMap(r.Constants)
	out.Calibrated = cloneMap(r.Calibrated)
	if r.Rows != nil {
		out.Rows = make([]SampleRow, len(r.Rows))
		for i, row := range r.Rows {
			out.Rows[i] = row.Clone()
		}
	}
	if r.ManualOptimum != nil {
		p := *r.ManualOptimum
		out.ManualOptimum = &p
	}
	out.Summary = r.Summary.Clone()
	return out
}

// FinalizedTestRecord is the immutable, persisted form of a submitted record.
// Its JSON shape matches the report storage layout: field, calculation and
// chart definitions travel with the values and the computed summary_json.
type FinalizedTestRecord struct {
	ID            string                   `json:"id"`
	TestType      TestTypeID               `json:"test_type"`
	SchemaVersion string                   `json:"schema_version"`
	Revision      int                      `json:"revision"`
	Fields        []FieldDefinition        `json:"fields"`
	Calculations  []DerivedFieldDefinition `json:"calculations"`
	Charts        []ChartDefinition        `json:"charts"`
	Header        map[string]RawValue      `json:"header"`
	Constants     map[string]float64       `json:"constants,omitempty"`
	Calibrated    map[string]bool          `json:"calibrated,omitempty"`
	Rows          []SampleRow              `json:"rows"`
	Summary       SummaryResult            `json:"summary_json"`
	FinalizedAt   time.Time                `json:"finalized_at"`
}

// Clone returns a deep copy of the finalized record.
func (f FinalizedTestRecord) Clone() FinalizedTestRecord {
	out := f
	out.Fields = append([]FieldDefinition(nil), f.Fields...)
	out.Calculations = append([]DerivedFieldDefinition(nil), f.Calculations...)
	out.Charts = append([]ChartDefinition(nil), f.Charts...)
	out.Header = cloneMap(f.Header)
	out.Constants = cloneMap(f.Constants)
	out.Calibrated = cloneMap(f.Calibrated)
	if f.Rows != nil {
		out.Rows = make([]SampleRow, len(f.Rows))
		for i, row := range f.Rows {
			out.Rows[i] = row.Clone()
		}
	}
	out.Summary = f.Summary.Clone()
	return out
}

func cloneMap[K comparable, V any](in map[K]V) map[K]V {
	if in == nil {
		return nil
	}
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
