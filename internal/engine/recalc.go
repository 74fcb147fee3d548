package engine

import (
	"labcore/internal/schema"
	"labcore/internal/units"
	"labcore/pkg/domain"
)

// propagation tracks which values changed during one operation and
// re-evaluates only the derived fields reachable from them. Derived fields are
// visited in the schema's topological order, so each one sees final values of
// everything it depends on.
type propagation struct {
	s     *schema.Schema
	rec   *domain.TestRecord
	dirty []map[string]struct{}
	fresh map[int]struct{}
	cols  map[string]struct{}
}

func newPropagation(s *schema.Schema, rec *domain.TestRecord) *propagation {
	p := &propagation{
		s:     s,
		rec:   rec,
		dirty: make([]map[string]struct{}, len(rec.Rows)),
		fresh: map[int]struct{}{},
		cols:  map[string]struct{}{},
	}
	for i := range p.dirty {
		p.dirty[i] = map[string]struct{}{}
	}
	return p
}

// touch marks a value of one row as changed.
func (p *propagation) touch(row int, key string) {
	p.dirty[row][key] = struct{}{}
	p.cols[key] = struct{}{}
}

// touchAll marks a record-wide value (header field or constant) as changed in every row.
func (p *propagation) touchAll(key string) {
	for i := range p.dirty {
		p.dirty[i][key] = struct{}{}
	}
}

// touchColumn marks the cross-row series of key as changed.
func (p *propagation) touchColumn(key string) {
	p.cols[key] = struct{}{}
}

// refresh forces every derived field of a row to be evaluated.
func (p *propagation) refresh(row int) {
	p.fresh[row] = struct{}{}
}

// run re-evaluates affected derived fields; with all set, every field of every row.
func (p *propagation) run(all bool) {
	for _, d := range p.s.Derived() {
		everyRow := all || p.columnChanged(d)
		var columns map[string][]float64
		for i := range p.rec.Rows {
			if !everyRow && !p.affects(i, d) {
				continue
			}
			if columns == nil && len(d.Columns) > 0 {
				columns = p.columns(d.Columns)
			}
			if p.evaluate(i, d, columns) {
				p.touch(i, d.Key())
			}
		}
	}
}

func (p *propagation) columnChanged(d schema.Derived) bool {
	for _, c := range d.Columns {
		if _, ok := p.cols[c]; ok {
			return true
		}
	}
	return false
}

func (p *propagation) affects(row int, d schema.Derived) bool {
	if _, ok := p.fresh[row]; ok {
		return true
	}
	dirty := p.dirty[row]
	if len(dirty) == 0 {
		return false
	}
	for _, name := range d.DependsOn {
		if _, ok := dirty[name]; ok {
			return true
		}
	}
	for _, name := range d.Formula.Refs.Scalars {
		if _, ok := dirty[name]; ok {
			return true
		}
	}
	return false
}

// columns snapshots the present values of each key across rows.
func (p *propagation) columns(keys []string) map[string][]float64 {
	out := make(map[string][]float64, len(keys))
	for _, key := range keys {
		values := make([]float64, 0, len(p.rec.Rows))
		for _, row := range p.rec.Rows {
			if v, ok := row.Value(key); ok {
				values = append(values, v)
			}
		}
		out[key] = values
	}
	return out
}

// evaluate recomputes d in one row and reports whether its value or presence changed.
func (p *propagation) evaluate(i int, d schema.Derived, columns map[string][]float64) bool {
	row := &p.rec.Rows[i]
	key := d.Key()
	old, had := row.Derived[key]

	v, ok, failure := p.compute(i, d, columns)
	if ok {
		row.Derived[key] = v
		delete(row.EvalErrors, key)
	} else {
		delete(row.Derived, key)
		if failure != "" {
			row.EvalErrors[key] = failure
		} else {
			delete(row.EvalErrors, key)
		}
	}
	return ok != had || (ok && v != old)
}

func (p *propagation) compute(i int, d schema.Derived, columns map[string][]float64) (float64, bool, string) {
	for _, dep := range d.DependsOn {
		if !p.present(i, dep) {
			return 0, false, ""
		}
	}
	v, err := d.Formula.Eval(rowEnv{rec: p.rec, row: i, columns: columns})
	if err != nil {
		return 0, false, err.Error()
	}
	if prec := d.Definition.Precision; prec != nil {
		v = units.Round(v, *prec)
	}
	return v, true, ""
}

func (p *propagation) present(i int, key string) bool {
	if _, ok := p.rec.Rows[i].Value(key); ok {
		return true
	}
	_, ok := p.rec.HeaderNumeric[key]
	return ok
}

// rowEnv resolves formula names for one row: row inputs, row derived values,
// header values, then the record's constants.
type rowEnv struct {
	rec     *domain.TestRecord
	row     int
	columns map[string][]float64
}

func (e rowEnv) Lookup(name string) (float64, bool) {
	if v, ok := e.rec.Rows[e.row].Value(name); ok {
		return v, true
	}
	if v, ok := e.rec.HeaderNumeric[name]; ok {
		return v, true
	}
	v, ok := e.rec.Constants[name]
	return v, ok
}

func (e rowEnv) Column(name string) ([]float64, bool) {
	v, ok := e.columns[name]
	return v, ok
}
