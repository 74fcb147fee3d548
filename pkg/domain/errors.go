package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors returned by record operations.
var (
	// ErrRecordFinalized is returned by every mutation of a finalized record.
	ErrRecordFinalized = errors.New("record is finalized; create a new revision")
	// ErrRevisionConflict is returned when a revision does not extend the ledger by exactly one.
	ErrRevisionConflict = errors.New("revision conflict")
)

// ErrNotFound is returned when a referenced schema, row, field or record does not exist.
type ErrNotFound struct {
	Entity string
	ID     string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// ValidationError reports a raw value that could not be accepted for a field.
// It is recoverable: the field stays editable and keeps its previous value.
type ValidationError struct {
	Field  string   `json:"field"`
	RowID  string   `json:"row_id,omitempty"`
	Raw    RawValue `json:"raw"`
	Reason string   `json:"reason"`
}

func (e *ValidationError) Error() string {
	if e.RowID == "" {
		return fmt.Sprintf("header field %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("row %s field %s: %s", e.RowID, e.Field, e.Reason)
}

// RowLimitError is returned when adding or removing a row would leave the
// schema's row bounds.
type RowLimitError struct {
	Op    string
	Count int
	Min   int
	Max   int
}

func (e *RowLimitError) Error() string {
	return fmt.Sprintf("cannot %s row: record has %d rows, allowed %d..%d", e.Op, e.Count, e.Min, e.Max)
}

// Problem is one blocking issue found while finalizing a record.
type Problem struct {
	Field   string `json:"field,omitempty"`
	RowID   string `json:"row_id,omitempty"`
	Message string `json:"message"`
}

func (p Problem) String() string {
	switch {
	case p.RowID != "" && p.Field != "":
		return fmt.Sprintf("row %s %s: %s", p.RowID, p.Field, p.Message)
	case p.Field != "":
		return fmt.Sprintf("%s: %s", p.Field, p.Message)
	default:
		return p.Message
	}
}

// FinalizeError aggregates every outstanding problem that blocks finalization.
type FinalizeError struct {
	RecordID string
	Problems []Problem
}

func (e *FinalizeError) Error() string {
	parts := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		parts = append(parts, p.String())
	}
	return fmt.Sprintf("record %s cannot be finalized (%d problems): %s", e.RecordID, len(e.Problems), strings.Join(parts, "; "))
}

// Is lets errors.Is(err, ErrRecordFinalized) match a finalize attempt on a finalized record.
func (e *FinalizeError) Is(target error) bool {
	if target != ErrRecordFinalized {
		return false
	}
	for _, p := range e.Problems {
		if p.Message == ErrRecordFinalized.Error() {
			return true
		}
	}
	return false
}
