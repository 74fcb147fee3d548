// Package domain defines the test-type schema model, record values and error
// taxonomy shared by the labcore calculation packages.
package domain

// TestTypeID identifies a published test-type schema (e.g. "proctor").
type TestTypeID string

// FieldKind describes how an operator-entered raw value is interpreted.
type FieldKind string

// Supported field kinds.
const (
	KindNumeric FieldKind = "numeric"
	KindText    FieldKind = "text"
	KindSelect  FieldKind = "select"
	KindDate    FieldKind = "date"
)

// FieldScope places a field either once per record (header) or once per sample row.
type FieldScope string

// Supported field scopes.
const (
	ScopeRow    FieldScope = "row"
	ScopeHeader FieldScope = "header"
)

// DateLayout is the accepted layout for date fields.
const DateLayout = "2006-01-02"

// FieldDefinition identifies one raw input collected from the operator.
type FieldDefinition struct {
	Key      string     `json:"key" yaml:"key" validate:"required,fieldkey"`
	Label    string     `json:"label" yaml:"label" validate:"required"`
	Kind     FieldKind  `json:"kind" yaml:"kind" validate:"required,oneof=numeric text select date"`
	Scope    FieldScope `json:"scope,omitempty" yaml:"scope,omitempty" validate:"omitempty,oneof=row header"`
	Unit     string     `json:"unit,omitempty" yaml:"unit,omitempty"`
	BaseUnit string     `json:"base_unit,omitempty" yaml:"base_unit,omitempty"`
	Required bool       `json:"required" yaml:"required"`
	Options  []string   `json:"options,omitempty" yaml:"options,omitempty" validate:"required_if=Kind select,dive,required"`
	Min      *float64   `json:"min,omitempty" yaml:"min,omitempty"`
	Max      *float64   `json:"max,omitempty" yaml:"max,omitempty"`
}

// EffectiveScope returns the field scope, defaulting to ScopeRow.
func (f FieldDefinition) EffectiveScope() FieldScope {
	if f.Scope == "" {
		return ScopeRow
	}
	return f.Scope
}

// DerivedFieldDefinition is a per-row value computed from other values.
// Precision, when set, is the number of decimals the stored value is rounded to.
type DerivedFieldDefinition struct {
	Key       string   `json:"key" yaml:"key" validate:"required,fieldkey"`
	Label     string   `json:"label" yaml:"label" validate:"required"`
	Unit      string   `json:"unit,omitempty" yaml:"unit,omitempty"`
	Formula   string   `json:"formula" yaml:"formula" validate:"required"`
	DependsOn []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	Precision *int     `json:"precision,omitempty" yaml:"precision,omitempty" validate:"omitempty,min=0,max=12"`
}

// Constant is a schema-level numeric input that is not entered per record.
// Constants flagged Calibrate are approximations that should be confirmed per
// project or material before results are relied upon.
type Constant struct {
	Key       string  `json:"key" yaml:"key" validate:"required,fieldkey"`
	Value     float64 `json:"value" yaml:"value"`
	Unit      string  `json:"unit,omitempty" yaml:"unit,omitempty"`
	Calibrate bool    `json:"calibrate,omitempty" yaml:"calibrate,omitempty"`
	Note      string  `json:"note,omitempty" yaml:"note,omitempty"`
}

// RowLimits bounds the number of sample rows a record may hold.
type RowLimits struct {
	Min     int `json:"min" yaml:"min" validate:"min=0"`
	Max     int `json:"max" yaml:"max" validate:"min=1,gtefield=Min"`
	Initial int `json:"initial,omitempty" yaml:"initial,omitempty" validate:"min=0"`
}

// InitialRows returns the number of blank rows a new record starts with.
func (l RowLimits) InitialRows() int {
	if l.Initial > 0 {
		return l.Initial
	}
	return l.Min
}

// OptimumDefinition selects a curve optimum from (X, Y) row values.
type OptimumDefinition struct {
	X         string `json:"x" yaml:"x" validate:"required"`
	Y         string `json:"y" yaml:"y" validate:"required"`
	XKey      string `json:"x_key" yaml:"x_key" validate:"required,fieldkey"`
	YKey      string `json:"y_key" yaml:"y_key" validate:"required,fieldkey"`
	MinPoints int    `json:"min_points,omitempty" yaml:"min_points,omitempty" validate:"min=0"`
	Title     string `json:"title,omitempty" yaml:"title,omitempty"`
}

// DefaultFlowReference is the standard blow count for the liquid limit.
const DefaultFlowReference = 25.0

// FlowCurveDefinition interpolates a moisture content at a reference blow count.
type FlowCurveDefinition struct {
	Blows     string  `json:"blows" yaml:"blows" validate:"required"`
	Moisture  string  `json:"moisture" yaml:"moisture" validate:"required"`
	Reference float64 `json:"reference,omitempty" yaml:"reference,omitempty" validate:"min=0"`
	Result    string  `json:"result" yaml:"result" validate:"required,fieldkey"`
	Title     string  `json:"title,omitempty" yaml:"title,omitempty"`
}

// ReferenceBlows returns the configured reference count or DefaultFlowReference.
func (f FlowCurveDefinition) ReferenceBlows() float64 {
	if f.Reference > 0 {
		return f.Reference
	}
	return DefaultFlowReference
}

// SummaryCalculation is a record-level formula over aggregates, header values and constants.
type SummaryCalculation struct {
	Key       string `json:"key" yaml:"key" validate:"required,fieldkey"`
	Label     string `json:"label,omitempty" yaml:"label,omitempty"`
	Unit      string `json:"unit,omitempty" yaml:"unit,omitempty"`
	Formula   string `json:"formula" yaml:"formula" validate:"required"`
	Precision *int   `json:"precision,omitempty" yaml:"precision,omitempty" validate:"omitempty,min=0,max=12"`
}

// Comparison operators accepted in rule conditions.
const (
	OpLess         = "<"
	OpLessEqual    = "<="
	OpGreater      = ">"
	OpGreaterEqual = ">="
	OpEqual        = "=="
	OpNotEqual     = "!="
)

// Condition compares an aggregate metric with a literal Value or with the
// value named by Ref (a header field, constant or another metric).
type Condition struct {
	Metric string   `json:"metric" yaml:"metric" validate:"required"`
	Op     string   `json:"op" yaml:"op" validate:"required,oneof=< <= > >= == !="`
	Value  *float64 `json:"value,omitempty" yaml:"value,omitempty" validate:"required_without=Ref"`
	Ref    string   `json:"ref,omitempty" yaml:"ref,omitempty" validate:"required_without=Value"`
}

// ComplianceRule maps aggregates to a status when every condition holds.
// A rule without conditions always matches.
type ComplianceRule struct {
	Status ComplianceStatus `json:"status" yaml:"status" validate:"required"`
	Label  string           `json:"label,omitempty" yaml:"label,omitempty"`
	When   []Condition      `json:"when,omitempty" yaml:"when,omitempty" validate:"dive"`
}

// SummaryDefinition configures aggregation and compliance classification.
type SummaryDefinition struct {
	MinRows       int                  `json:"min_rows" yaml:"min_rows" validate:"min=0"`
	Fields        []string             `json:"fields,omitempty" yaml:"fields,omitempty"`
	Optimum       *OptimumDefinition   `json:"optimum,omitempty" yaml:"optimum,omitempty"`
	FlowCurve     *FlowCurveDefinition `json:"flow_curve,omitempty" yaml:"flow_curve,omitempty"`
	Calculations  []SummaryCalculation `json:"calculations,omitempty" yaml:"calculations,omitempty" validate:"dive"`
	Rules         []ComplianceRule     `json:"rules,omitempty" yaml:"rules,omitempty" validate:"dive"`
	DefaultStatus ComplianceStatus     `json:"default_status,omitempty" yaml:"default_status,omitempty"`
}

// Chart kinds reported alongside finalized records.
const (
	ChartCompactionCurve = "compaction_curve"
	ChartFlowCurve       = "flow_curve"
)

// ChartDefinition describes a plot a report layer may render from row values.
type ChartDefinition struct {
	Kind  string `json:"kind"`
	Title string `json:"title,omitempty"`
	X     string `json:"x"`
	Y     string `json:"y"`
}

// TestTypeSchema is the declarative description of one laboratory test type.
type TestTypeSchema struct {
	ID        TestTypeID               `json:"id" yaml:"id" validate:"required,fieldkey"`
	Version   string                   `json:"version" yaml:"version" validate:"required"`
	Title     string                   `json:"title" yaml:"title" validate:"required"`
	Standard  string                   `json:"standard,omitempty" yaml:"standard,omitempty"`
	Fields    []FieldDefinition        `json:"fields" yaml:"fields" validate:"required,min=1,dive"`
	Derived   []DerivedFieldDefinition `json:"derived,omitempty" yaml:"derived,omitempty" validate:"dive"`
	Constants []Constant               `json:"constants,omitempty" yaml:"constants,omitempty" validate:"dive"`
	Rows      RowLimits                `json:"rows" yaml:"rows"`
	Summary   SummaryDefinition        `json:"summary" yaml:"summary"`
}

// Charts lists the chart definitions implied by the summary configuration.
func (s TestTypeSchema) Charts() []ChartDefinition {
	var charts []ChartDefinition
	if opt := s.Summary.Optimum; opt != nil {
		charts = append(charts, ChartDefinition{Kind: ChartCompactionCurve, Title: opt.Title, X: opt.X, Y: opt.Y})
	}
	if flow := s.Summary.FlowCurve; flow != nil {
		charts = append(charts, ChartDefinition{Kind: ChartFlowCurve, Title: flow.Title, X: flow.Blows, Y: flow.Moisture})
	}
	return charts
}

// Field returns the raw field definition for key.
func (s TestTypeSchema) Field(key string) (FieldDefinition, bool) {
	for _, f := range s.Fields {
		if f.Key == key {
			return f, true
		}
	}
	return FieldDefinition{}, false
}
