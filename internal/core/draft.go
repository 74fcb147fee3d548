package core

import (
	"errors"
	"fmt"
	"sort"

	"labcore/internal/engine"
	"labcore/pkg/domain"
)

// Draft is a complete set of operator inputs for one record, as read from a
// JSON input file. Values are raw text exactly as typed.
type Draft struct {
	Header    map[string]string   `json:"header,omitempty"`
	Rows      []map[string]string `json:"rows,omitempty"`
	Constants map[string]float64  `json:"constants,omitempty"`
	Optimum   *domain.Point       `json:"optimum,omitempty"`
}

// Rejection is an input value the engine refused. The record stays editable;
// a rejected required value still blocks finalization.
type Rejection = domain.ValidationError

// apply replays the draft through the engine the way an operator session
// would: constants, header, rows in order, then an optional optimum pick.
// Rejected values are collected; structural errors abort.
func apply(eng *engine.Engine, rec domain.TestRecord, d Draft) (domain.TestRecord, []Rejection, error) {
	var rejected []Rejection
	keep := func(next domain.TestRecord, err error) (domain.TestRecord, error) {
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			rejected = append(rejected, *verr)
			// field edits hand back the flagged record, other operations leave it as it was
			if next.ID == "" {
				return rec, nil
			}
			return next, nil
		}
		if err != nil {
			return rec, err
		}
		return next, nil
	}

	var err error
	for _, key := range sortedKeys(d.Constants) {
		if rec, err = keep(eng.SetConstant(rec, key, d.Constants[key])); err != nil {
			return rec, rejected, err
		}
	}
	for _, key := range sortedKeys(d.Header) {
		if rec, err = keep(eng.OnHeaderEdit(rec, key, domain.RawValue(d.Header[key]))); err != nil {
			return rec, rejected, err
		}
	}
	for i, values := range d.Rows {
		for len(rec.Rows) <= i {
			if rec, err = eng.AddRow(rec); err != nil {
				return rec, rejected, fmt.Errorf("row %d: %w", i+1, err)
			}
		}
		rowID := rec.Rows[i].ID
		for _, key := range sortedKeys(values) {
			if rec, err = keep(eng.OnFieldEdit(rec, rowID, key, domain.RawValue(values[key]))); err != nil {
				return rec, rejected, fmt.Errorf("row %d: %w", i+1, err)
			}
		}
	}
	if d.Optimum != nil {
		if rec, err = keep(eng.PickOptimum(rec, *d.Optimum)); err != nil {
			return rec, rejected, err
		}
	}
	return rec, rejected, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
