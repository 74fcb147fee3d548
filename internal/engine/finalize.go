package engine

import (
	"fmt"

	"labcore/internal/schema"
	"labcore/pkg/domain"
)

// Finalize locks a record. It recomputes the record from scratch, checks
// required fields, rejected inputs and the minimum row count, and reports every
// blocking problem at once in a *domain.FinalizeError. On success it returns
// the locked record and its persisted form.
//
// Finalizing an already finalized record fails; a new revision must be created
// with Revise instead.
func (e *Engine) Finalize(rec domain.TestRecord) (domain.TestRecord, domain.FinalizedTestRecord, error) {
	if rec.State == domain.StateFinalized {
		return domain.TestRecord{}, domain.FinalizedTestRecord{}, &domain.FinalizeError{
			RecordID: rec.ID,
			Problems: []domain.Problem{{Message: domain.ErrRecordFinalized.Error()}},
		}
	}
	work, err := e.Recompute(rec)
	if err != nil {
		return domain.TestRecord{}, domain.FinalizedTestRecord{}, err
	}
	s, err := e.registry.Lookup(work.TestType)
	if err != nil {
		return domain.TestRecord{}, domain.FinalizedTestRecord{}, err
	}
	problems := finalizeProblems(s, work)
	if !work.State.CanTransition(domain.StateFinalized) && len(problems) == 0 {
		problems = append(problems, domain.Problem{Message: fmt.Sprintf("record in state %s cannot be finalized", work.State)})
	}
	if len(problems) > 0 {
		return domain.TestRecord{}, domain.FinalizedTestRecord{}, &domain.FinalizeError{RecordID: rec.ID, Problems: problems}
	}
	work.State = domain.StateFinalized

	def := s.Definition()
	locked := work.Clone()
	fin := domain.FinalizedTestRecord{
		ID:            work.ID,
		TestType:      work.TestType,
		SchemaVersion: work.SchemaVersion,
		Revision:      work.Revision,
		Fields:        append([]domain.FieldDefinition(nil), def.Fields...),
		Calculations:  append([]domain.DerivedFieldDefinition(nil), def.Derived...),
		Charts:        def.Charts(),
		Header:        locked.Header,
		Constants:     locked.Constants,
		Calibrated:    locked.Calibrated,
		Rows:          locked.Rows,
		Summary:       locked.Summary,
		FinalizedAt:   e.nowFn(),
	}
	return work, fin, nil
}

// finalizeProblems lists blocking issues in schema order: header fields first,
// then each completed row. Rows without any entered value are ignored.
func finalizeProblems(s *schema.Schema, rec domain.TestRecord) []domain.Problem {
	var problems []domain.Problem
	for _, f := range s.Fields(domain.ScopeHeader) {
		if issue, bad := rec.HeaderInvalid[f.Key]; bad {
			problems = append(problems, domain.Problem{Field: f.Key, Message: issue.Message})
			continue
		}
		if _, ok := rec.Header[f.Key]; f.Required && !ok {
			problems = append(problems, domain.Problem{Field: f.Key, Message: "required"})
		}
	}
	rowFields := s.Fields(domain.ScopeRow)
	completed := 0
	for _, row := range rec.Rows {
		if !row.HasValues() && len(row.Invalid) == 0 {
			continue
		}
		completed++
		for _, f := range rowFields {
			if issue, bad := row.Invalid[f.Key]; bad {
				problems = append(problems, domain.Problem{Field: f.Key, RowID: row.ID, Message: issue.Message})
				continue
			}
			if _, ok := row.Values[f.Key]; f.Required && !ok {
				problems = append(problems, domain.Problem{Field: f.Key, RowID: row.ID, Message: "required"})
			}
		}
	}
	if minRows := s.Rows().Min; completed < minRows {
		problems = append(problems, domain.Problem{Message: fmt.Sprintf("at least %d rows required, %d completed", minRows, completed)})
	}
	return problems
}

// Revise opens a new editable revision of a finalized record. Values,
// calibrated constants and a manually picked optimum carry over; derived
// values and the summary are recomputed under the current schema.
func (e *Engine) Revise(fin domain.FinalizedTestRecord) (domain.TestRecord, error) {
	s, err := e.registry.Lookup(fin.TestType)
	if err != nil {
		return domain.TestRecord{}, err
	}
	rec := domain.TestRecord{
		ID:            fin.ID,
		TestType:      fin.TestType,
		SchemaVersion: s.Version(),
		Revision:      fin.Revision + 1,
		State:         domain.StateEditing,
		Header:        map[string]domain.RawValue{},
		Constants:     s.ConstantValues(),
		Calibrated:    map[string]bool{},
	}
	for k, v := range fin.Header {
		rec.Header[k] = v
	}
	for k, v := range fin.Constants {
		if _, ok := rec.Constants[k]; ok {
			rec.Constants[k] = v
		}
	}
	for k, ok := range fin.Calibrated {
		if _, known := rec.Constants[k]; known && ok {
			rec.Calibrated[k] = true
		}
	}
	for _, row := range fin.Rows {
		next := domain.NewSampleRow(row.ID)
		for k, v := range row.Values {
			next.Values[k] = v
		}
		rec.Rows = append(rec.Rows, next)
	}
	if fin.Summary.OptimumSource == domain.OptimumManual && fin.Summary.Optimum != nil {
		p := *fin.Summary.Optimum
		rec.ManualOptimum = &p
	}
	prepare(&rec)
	rebuild(s, &rec)
	return commit(s, &rec), nil
}
