// Package schema loads, validates and compiles declarative test-type schemas.
// A compiled Schema has every formula parsed, every reference resolved and its
// derived fields in a deterministic topological order.
package schema

import (
	"fmt"

	"labcore/internal/compliance"
	"labcore/internal/formula"
	"labcore/internal/units"
	"labcore/pkg/domain"
)

// Derived is a compiled derived field.
type Derived struct {
	Definition domain.DerivedFieldDefinition
	Formula    *formula.Formula
	// DependsOn lists the fields and derived values that must be present for
	// the formula to be evaluated. Constants are always present and omitted.
	DependsOn []string
	// Columns lists the fields aggregated across rows.
	Columns []string
}

// Key returns the derived field key.
func (d Derived) Key() string { return d.Definition.Key }

// Schema is a compiled, immutable test-type schema.
type Schema struct {
	def       domain.TestTypeSchema
	fields    map[string]domain.FieldDefinition
	constants map[string]domain.Constant
	derived   []Derived
	position  map[string]int
	summary   compliance.Rules
}

// ID returns the test-type identifier.
func (s *Schema) ID() domain.TestTypeID { return s.def.ID }

// Version returns the schema version.
func (s *Schema) Version() string { return s.def.Version }

// Definition returns the declarative schema the Schema was compiled from.
func (s *Schema) Definition() domain.TestTypeSchema { return s.def }

// Field returns the raw field definition for key.
func (s *Schema) Field(key string) (domain.FieldDefinition, bool) {
	f, ok := s.fields[key]
	return f, ok
}

// Fields returns the raw field definitions of a scope in declaration order.
func (s *Schema) Fields(scope domain.FieldScope) []domain.FieldDefinition {
	var out []domain.FieldDefinition
	for _, f := range s.def.Fields {
		if f.EffectiveScope() == scope {
			out = append(out, f)
		}
	}
	return out
}

// Constant returns the schema constant for key.
func (s *Schema) Constant(key string) (domain.Constant, bool) {
	c, ok := s.constants[key]
	return c, ok
}

// ConstantValues returns the default value of every constant.
func (s *Schema) ConstantValues() map[string]float64 {
	out := make(map[string]float64, len(s.constants))
	for k, c := range s.constants {
		out[k] = c.Value
	}
	return out
}

// Derived returns the derived fields in evaluation order.
func (s *Schema) Derived() []Derived {
	return append([]Derived(nil), s.derived...)
}

// DerivedField returns the compiled derived field for key.
func (s *Schema) DerivedField(key string) (Derived, bool) {
	i, ok := s.position[key]
	if !ok {
		return Derived{}, false
	}
	return s.derived[i], true
}

// Order returns derived field keys in evaluation order.
func (s *Schema) Order() []string {
	out := make([]string, len(s.derived))
	for i, d := range s.derived {
		out[i] = d.Key()
	}
	return out
}

// Summary returns the compiled summary rules.
func (s *Schema) Summary() compliance.Rules { return s.summary }

// Rows returns the row limits.
func (s *Schema) Rows() domain.RowLimits { return s.def.Rows }

type keyKind int

const (
	keyField keyKind = iota + 1
	keyDerived
	keyConstant
)

type compiler struct {
	def      domain.TestTypeSchema
	kinds    map[string]keyKind
	fields   map[string]domain.FieldDefinition
	problems []string
}

func (c *compiler) problem(format string, args ...any) {
	c.problems = append(c.problems, fmt.Sprintf(format, args...))
}

// Compile validates def and resolves it into a Schema.
func Compile(def domain.TestTypeSchema) (*Schema, error) {
	c := &compiler{
		def:    def,
		kinds:  map[string]keyKind{},
		fields: map[string]domain.FieldDefinition{},
	}
	c.problems = append(c.problems, structProblems(def)...)

	constants := map[string]domain.Constant{}
	c.declareKeys(constants)
	c.checkUnits()

	derived := make([]Derived, 0, len(def.Derived))
	for _, d := range def.Derived {
		if compiled, ok := c.compileDerived(d); ok {
			derived = append(derived, compiled)
		}
	}
	summary := c.compileSummary()

	if len(c.problems) > 0 {
		return nil, &Error{TestType: def.ID, Problems: c.problems}
	}

	ordered, err := topoSort(def.ID, derived)
	if err != nil {
		return nil, err
	}
	position := make(map[string]int, len(ordered))
	for i, d := range ordered {
		position[d.Key()] = i
	}
	return &Schema{
		def:       def,
		fields:    c.fields,
		constants: constants,
		derived:   ordered,
		position:  position,
		summary:   summary,
	}, nil
}

func (c *compiler) declareKeys(constants map[string]domain.Constant) {
	declare := func(key string, kind keyKind) bool {
		if key == "" {
			return false
		}
		if _, dup := c.kinds[key]; dup {
			c.problem("duplicate key %q", key)
			return false
		}
		c.kinds[key] = kind
		return true
	}
	for _, f := range c.def.Fields {
		if declare(f.Key, keyField) {
			c.fields[f.Key] = f
		}
	}
	for _, d := range c.def.Derived {
		declare(d.Key, keyDerived)
	}
	for _, k := range c.def.Constants {
		if declare(k.Key, keyConstant) {
			constants[k.Key] = k
		}
	}
}

func (c *compiler) checkUnits() {
	for _, f := range c.def.Fields {
		if f.Kind != domain.KindNumeric || f.Unit == "" || f.BaseUnit == "" {
			continue
		}
		if !units.Compatible(f.Unit, f.BaseUnit) {
			c.problem("field %s: cannot convert %s to %s", f.Key, f.Unit, f.BaseUnit)
		}
	}
}

// numeric reports whether key names a value usable in arithmetic.
func (c *compiler) numeric(key string) (keyKind, bool) {
	kind, ok := c.kinds[key]
	if !ok {
		return 0, false
	}
	if kind == keyField && c.fields[key].Kind != domain.KindNumeric {
		return kind, false
	}
	return kind, true
}

// rowSeries reports whether key names a per-row numeric value.
func (c *compiler) rowSeries(key string) bool {
	kind, ok := c.numeric(key)
	if !ok {
		return false
	}
	switch kind {
	case keyDerived:
		return true
	case keyField:
		return c.fields[key].EffectiveScope() == domain.ScopeRow
	default:
		return false
	}
}

func (c *compiler) compileDerived(d domain.DerivedFieldDefinition) (Derived, bool) {
	f, err := formula.Parse(d.Formula)
	if err != nil {
		c.problem("derived %s: %v", d.Key, err)
		return Derived{}, false
	}
	ok := true
	var inferred []string
	for _, name := range f.Refs.Scalars {
		kind, known := c.numeric(name)
		switch {
		case kind == 0:
			c.problem("derived %s references unknown %q", d.Key, name)
			ok = false
		case !known:
			c.problem("derived %s references non-numeric field %q", d.Key, name)
			ok = false
		case kind != keyConstant:
			inferred = append(inferred, name)
		}
	}
	for _, col := range f.Refs.Columns {
		if !c.rowSeries(col) {
			c.problem("derived %s aggregates %q, which is not a numeric row value", d.Key, col)
			ok = false
		}
	}
	dependsOn := inferred
	if len(d.DependsOn) > 0 {
		declared := make(map[string]struct{}, len(d.DependsOn))
		dependsOn = nil
		for _, name := range d.DependsOn {
			kind, known := c.numeric(name)
			if !known {
				c.problem("derived %s depends_on %q, which is not a numeric value", d.Key, name)
				ok = false
				continue
			}
			declared[name] = struct{}{}
			if kind != keyConstant {
				dependsOn = append(dependsOn, name)
			}
		}
		for _, name := range inferred {
			if _, listed := declared[name]; !listed {
				c.problem("derived %s: depends_on is missing %q", d.Key, name)
				ok = false
			}
		}
	}
	if !ok {
		return Derived{}, false
	}
	return Derived{Definition: d, Formula: f, DependsOn: dependsOn, Columns: f.Refs.Columns}, true
}

func (c *compiler) compileSummary() compliance.Rules {
	sum := c.def.Summary
	rules := compliance.Rules{
		MinRows:       sum.MinRows,
		Fields:        append([]string(nil), sum.Fields...),
		Optimum:       sum.Optimum,
		FlowCurve:     sum.FlowCurve,
		DefaultStatus: sum.DefaultStatus,
	}

	metrics := map[string]struct{}{}
	addMetric := func(key string) {
		if _, taken := c.kinds[key]; taken {
			c.problem("summary key %q collides with a field, derived value or constant", key)
			return
		}
		if _, dup := metrics[key]; dup {
			c.problem("duplicate summary key %q", key)
			return
		}
		metrics[key] = struct{}{}
	}
	for _, key := range sum.Fields {
		if !c.rowSeries(key) {
			c.problem("summary field %q is not a numeric row value", key)
			continue
		}
		for _, suffix := range compliance.AggregateSuffixes {
			metrics[key+suffix] = struct{}{}
		}
	}
	if opt := sum.Optimum; opt != nil {
		for _, key := range []string{opt.X, opt.Y} {
			if !c.rowSeries(key) {
				c.problem("optimum axis %q is not a numeric row value", key)
			}
		}
		addMetric(opt.XKey)
		addMetric(opt.YKey)
	}
	if flow := sum.FlowCurve; flow != nil {
		for _, key := range []string{flow.Blows, flow.Moisture} {
			if !c.rowSeries(key) {
				c.problem("flow curve axis %q is not a numeric row value", key)
			}
		}
		addMetric(flow.Result)
	}

	params := map[string]struct{}{}
	for key, kind := range c.kinds {
		if kind == keyConstant || (kind == keyField && c.fields[key].Kind == domain.KindNumeric && c.fields[key].EffectiveScope() == domain.ScopeHeader) {
			params[key] = struct{}{}
		}
	}
	known := func(name string) bool {
		if _, ok := metrics[name]; ok {
			return true
		}
		_, ok := params[name]
		return ok
	}

	for _, calc := range sum.Calculations {
		f, err := formula.Parse(calc.Formula)
		if err != nil {
			c.problem("calculation %s: %v", calc.Key, err)
			continue
		}
		if len(f.Refs.Columns) > 0 {
			c.problem("calculation %s: aggregate functions are not available in summary calculations", calc.Key)
		}
		for _, name := range f.Refs.Scalars {
			if !known(name) {
				c.problem("calculation %s references unknown %q", calc.Key, name)
			}
		}
		addMetric(calc.Key)
		rules.Calculations = append(rules.Calculations, compliance.Calculation{Key: calc.Key, Formula: f, Precision: calc.Precision})
	}

	classifier := compliance.NewClassifier()
	for i, rule := range sum.Rules {
		for _, cond := range rule.When {
			if !known(cond.Metric) {
				c.problem("rule %d (%s) uses unknown metric %q", i+1, rule.Status, cond.Metric)
			}
			if cond.Ref != "" && !known(cond.Ref) {
				c.problem("rule %d (%s) references unknown %q", i+1, rule.Status, cond.Ref)
			}
		}
		classifier.Register(rule)
	}
	rules.Classifier = classifier
	return rules
}

// topoSort orders derived fields so every dependency precedes its dependents.
// Among ready fields the earliest declared is taken first, which keeps the
// order stable across runs.
func topoSort(id domain.TestTypeID, derived []Derived) ([]Derived, error) {
	isDerived := make(map[string]struct{}, len(derived))
	for _, d := range derived {
		isDerived[d.Key()] = struct{}{}
	}
	deps := make([][]string, len(derived))
	for i, d := range derived {
		seen := map[string]struct{}{}
		for _, name := range append(append([]string(nil), d.DependsOn...), d.Columns...) {
			if _, ok := isDerived[name]; !ok {
				continue
			}
			if _, dup := seen[name]; dup {
				continue
			}
			seen[name] = struct{}{}
			deps[i] = append(deps[i], name)
		}
	}

	done := make(map[string]bool, len(derived))
	ordered := make([]Derived, 0, len(derived))
	for len(ordered) < len(derived) {
		picked := -1
		for i, d := range derived {
			if done[d.Key()] {
				continue
			}
			ready := true
			for _, dep := range deps[i] {
				if !done[dep] {
					ready = false
					break
				}
			}
			if ready {
				picked = i
				break
			}
		}
		if picked < 0 {
			var remaining []string
			for _, d := range derived {
				if !done[d.Key()] {
					remaining = append(remaining, d.Key())
				}
			}
			return nil, &CycleError{TestType: id, Keys: remaining}
		}
		done[derived[picked].Key()] = true
		ordered = append(ordered, derived[picked])
	}
	return ordered, nil
}
