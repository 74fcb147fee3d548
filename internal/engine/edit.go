package engine

import (
	"fmt"
	"strconv"

	"labcore/internal/compliance"
	"labcore/internal/schema"
	"labcore/internal/units"
	"labcore/pkg/domain"
)

// OnFieldEdit sets a row field and recomputes everything downstream of it.
// Rejected input still yields an updated record, with the previous value kept
// and the issue recorded in the row's Invalid map, together with a
// *domain.ValidationError describing the rejection.
func (e *Engine) OnFieldEdit(rec domain.TestRecord, rowID, key string, raw domain.RawValue) (domain.TestRecord, error) {
	s, work, err := e.begin(rec)
	if err != nil {
		return domain.TestRecord{}, err
	}
	idx, ok := work.RowIndex(rowID)
	if !ok {
		return domain.TestRecord{}, domain.ErrNotFound{Entity: "row", ID: rowID}
	}
	f, ok := s.Field(key)
	if !ok || f.EffectiveScope() != domain.ScopeRow {
		return domain.TestRecord{}, domain.ErrNotFound{Entity: "row field", ID: key}
	}
	p := newPropagation(s, &work)
	changed, verr := rowValues(&work.Rows[idx]).assign(f, raw)
	if changed {
		p.touch(idx, key)
	}
	p.run(false)
	out := commit(s, &work)
	if verr != nil {
		verr.RowID = rowID
		return out, verr
	}
	return out, nil
}

// OnHeaderEdit sets a header field; dependents are recomputed in every row.
// Rejected input is reported the same way as in OnFieldEdit.
func (e *Engine) OnHeaderEdit(rec domain.TestRecord, key string, raw domain.RawValue) (domain.TestRecord, error) {
	s, work, err := e.begin(rec)
	if err != nil {
		return domain.TestRecord{}, err
	}
	f, ok := s.Field(key)
	if !ok || f.EffectiveScope() != domain.ScopeHeader {
		return domain.TestRecord{}, domain.ErrNotFound{Entity: "header field", ID: key}
	}
	p := newPropagation(s, &work)
	changed, verr := headerValues(&work).assign(f, raw)
	if changed {
		p.touchAll(key)
	}
	p.run(false)
	out := commit(s, &work)
	if verr != nil {
		return out, verr
	}
	return out, nil
}

// AddRow appends a blank row.
func (e *Engine) AddRow(rec domain.TestRecord) (domain.TestRecord, error) {
	s, work, err := e.begin(rec)
	if err != nil {
		return domain.TestRecord{}, err
	}
	limits := s.Rows()
	if len(work.Rows) >= limits.Max {
		return domain.TestRecord{}, &domain.RowLimitError{Op: "add", Count: len(work.Rows), Min: limits.Min, Max: limits.Max}
	}
	work.Rows = append(work.Rows, domain.NewSampleRow(e.newID()))
	p := newPropagation(s, &work)
	p.refresh(len(work.Rows) - 1)
	p.run(false)
	return commit(s, &work), nil
}

// RemoveRow deletes a row. Cross-row aggregates over its values are recomputed.
func (e *Engine) RemoveRow(rec domain.TestRecord, rowID string) (domain.TestRecord, error) {
	s, work, err := e.begin(rec)
	if err != nil {
		return domain.TestRecord{}, err
	}
	idx, ok := work.RowIndex(rowID)
	if !ok {
		return domain.TestRecord{}, domain.ErrNotFound{Entity: "row", ID: rowID}
	}
	limits := s.Rows()
	if len(work.Rows) <= limits.Min {
		return domain.TestRecord{}, &domain.RowLimitError{Op: "remove", Count: len(work.Rows), Min: limits.Min, Max: limits.Max}
	}
	removed := work.Rows[idx]
	work.Rows = append(work.Rows[:idx], work.Rows[idx+1:]...)
	p := newPropagation(s, &work)
	for key := range removed.Numeric {
		p.touchColumn(key)
	}
	for key := range removed.Derived {
		p.touchColumn(key)
	}
	p.run(false)
	return commit(s, &work), nil
}

// SetConstant overrides a schema constant for this record and marks it calibrated.
func (e *Engine) SetConstant(rec domain.TestRecord, key string, value float64) (domain.TestRecord, error) {
	s, work, err := e.begin(rec)
	if err != nil {
		return domain.TestRecord{}, err
	}
	if _, ok := s.Constant(key); !ok {
		return domain.TestRecord{}, domain.ErrNotFound{Entity: "constant", ID: key}
	}
	if !units.IsFinite(value) {
		return domain.TestRecord{}, &domain.ValidationError{Field: key, Raw: domain.RawValue(strconv.FormatFloat(value, 'g', -1, 64)), Reason: "must be a finite number"}
	}
	work.Constants[key] = value
	work.Calibrated[key] = true
	p := newPropagation(s, &work)
	p.touchAll(key)
	p.run(false)
	return commit(s, &work), nil
}

// PickOptimum records an operator-chosen curve optimum. It stays in effect
// until ClearOptimum, another pick, or an edit that moves the measured range
// away from it.
func (e *Engine) PickOptimum(rec domain.TestRecord, point domain.Point) (domain.TestRecord, error) {
	s, work, err := e.begin(rec)
	if err != nil {
		return domain.TestRecord{}, err
	}
	opt := s.Summary().Optimum
	if opt == nil {
		return domain.TestRecord{}, fmt.Errorf("test type %s has no curve optimum", s.ID())
	}
	raw := domain.RawValue(fmt.Sprintf("%g, %g", point.X, point.Y))
	if !units.IsFinite(point.X) || !units.IsFinite(point.Y) {
		return domain.TestRecord{}, &domain.ValidationError{Field: opt.XKey, Raw: raw, Reason: "must be finite"}
	}
	lo, hi, ok := compliance.PointRange(compliance.RowPoints(work.Rows, opt.X, opt.Y))
	if !ok || point.X < lo || point.X > hi {
		return domain.TestRecord{}, &domain.ValidationError{Field: opt.XKey, Raw: raw, Reason: "outside the measured range"}
	}
	work.ManualOptimum = &point
	return commit(s, &work), nil
}

// ClearOptimum returns optimum selection to automatic.
func (e *Engine) ClearOptimum(rec domain.TestRecord) (domain.TestRecord, error) {
	s, work, err := e.begin(rec)
	if err != nil {
		return domain.TestRecord{}, err
	}
	work.ManualOptimum = nil
	return commit(s, &work), nil
}

// Recompute re-normalizes every raw value and re-evaluates every derived
// field and the summary from scratch. The result equals what incremental
// edits produce.
func (e *Engine) Recompute(rec domain.TestRecord) (domain.TestRecord, error) {
	s, work, err := e.begin(rec)
	if err != nil {
		return domain.TestRecord{}, err
	}
	rebuild(s, &work)
	return commit(s, &work), nil
}

func rebuild(s *schema.Schema, rec *domain.TestRecord) {
	renormalize(fieldIndex(s, domain.ScopeHeader), headerValues(rec))
	rowFields := fieldIndex(s, domain.ScopeRow)
	for i := range rec.Rows {
		row := &rec.Rows[i]
		renormalize(rowFields, rowValues(row))
		row.Derived = map[string]float64{}
		row.EvalErrors = map[string]string{}
	}
	newPropagation(s, rec).run(true)
}

func fieldIndex(s *schema.Schema, scope domain.FieldScope) map[string]domain.FieldDefinition {
	out := map[string]domain.FieldDefinition{}
	for _, f := range s.Fields(scope) {
		out[f.Key] = f
	}
	return out
}
