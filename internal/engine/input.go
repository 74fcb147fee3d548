package engine

import (
	"fmt"
	"strings"
	"time"

	"labcore/internal/units"
	"labcore/pkg/domain"
)

// values is the storage of one field scope: the header or a single row.
type values struct {
	raw     map[string]domain.RawValue
	numeric map[string]float64
	invalid map[string]domain.FieldIssue
}

func rowValues(row *domain.SampleRow) values {
	return values{raw: row.Values, numeric: row.Numeric, invalid: row.Invalid}
}

func headerValues(rec *domain.TestRecord) values {
	return values{raw: rec.Header, numeric: rec.HeaderNumeric, invalid: rec.HeaderInvalid}
}

// assign stores raw for f. Blank input clears the field. Rejected input keeps
// the previous value, records a FieldIssue and returns a ValidationError.
// changed reports whether the normalized numeric value or its presence moved.
func (v values) assign(f domain.FieldDefinition, raw domain.RawValue) (changed bool, verr *domain.ValidationError) {
	trimmed := domain.RawValue(strings.TrimSpace(string(raw)))
	if trimmed == "" {
		_, had := v.numeric[f.Key]
		delete(v.raw, f.Key)
		delete(v.numeric, f.Key)
		delete(v.invalid, f.Key)
		return had, nil
	}
	num, isNumeric, reason := parse(f, trimmed)
	if reason != "" {
		v.invalid[f.Key] = domain.FieldIssue{Rejected: raw, Message: reason}
		return false, &domain.ValidationError{Field: f.Key, Raw: raw, Reason: reason}
	}
	delete(v.invalid, f.Key)
	v.raw[f.Key] = trimmed
	if !isNumeric {
		return false, nil
	}
	old, had := v.numeric[f.Key]
	v.numeric[f.Key] = num
	return !had || old != num, nil
}

// parse interprets raw according to the field kind. Numeric values are range
// checked in the entry unit and then converted to the base unit.
func parse(f domain.FieldDefinition, raw domain.RawValue) (float64, bool, string) {
	s := string(raw)
	switch f.Kind {
	case domain.KindNumeric:
		v, err := units.ParseNumber(s)
		if err != nil {
			return 0, false, err.Error()
		}
		if f.Min != nil && v < *f.Min {
			return 0, false, fmt.Sprintf("must be at least %g", *f.Min)
		}
		if f.Max != nil && v > *f.Max {
			return 0, false, fmt.Sprintf("must be at most %g", *f.Max)
		}
		if f.Unit != "" && f.BaseUnit != "" && f.Unit != f.BaseUnit {
			if v, err = units.Convert(v, f.Unit, f.BaseUnit); err != nil {
				return 0, false, err.Error()
			}
		}
		return v, true, ""
	case domain.KindSelect:
		for _, opt := range f.Options {
			if opt == s {
				return 0, false, ""
			}
		}
		return 0, false, fmt.Sprintf("%q is not one of %s", s, strings.Join(f.Options, ", "))
	case domain.KindDate:
		if _, err := time.Parse(domain.DateLayout, s); err != nil {
			return 0, false, fmt.Sprintf("%q is not a date (YYYY-MM-DD)", s)
		}
		return 0, false, ""
	default:
		return 0, false, ""
	}
}

// renormalize re-parses every accepted raw value of a scope. Values the
// current schema no longer accepts move to the invalid map.
func renormalize(fields map[string]domain.FieldDefinition, v values) {
	for key := range v.numeric {
		delete(v.numeric, key)
	}
	for key, raw := range v.raw {
		f, ok := fields[key]
		if !ok {
			continue
		}
		num, isNumeric, reason := parse(f, raw)
		if reason != "" {
			delete(v.raw, key)
			v.invalid[key] = domain.FieldIssue{Rejected: raw, Message: reason}
			continue
		}
		if isNumeric {
			v.numeric[key] = num
		}
	}
}
