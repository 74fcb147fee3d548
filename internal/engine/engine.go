// Package engine applies operator edits to test records and keeps derived
// values, summaries and lifecycle state consistent. Every operation takes a
// record value and returns a new one; the input is never mutated.
package engine

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"labcore/internal/compliance"
	"labcore/internal/schema"
	"labcore/pkg/domain"
)

// InitialRevision is the revision number of a newly created record.
const InitialRevision = 1

// Engine evaluates records against the schemas of a registry.
type Engine struct {
	registry *schema.Registry
	newID    func() string
	nowFn    func() time.Time
}

// Option customizes an Engine.
type Option func(*Engine)

// WithIDGenerator replaces the record and row identifier generator.
func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) {
		if fn != nil {
			e.newID = fn
		}
	}
}

// WithClock replaces the clock used to stamp finalized records.
func WithClock(fn func() time.Time) Option {
	return func(e *Engine) {
		if fn != nil {
			e.nowFn = fn
		}
	}
}

// New constructs an engine over reg.
func New(reg *schema.Registry, opts ...Option) *Engine {
	e := &Engine{
		registry: reg,
		newID:    uuid.NewString,
		nowFn:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry returns the schema registry the engine evaluates against.
func (e *Engine) Registry() *schema.Registry { return e.registry }

// Schema returns the compiled schema for a test type.
func (e *Engine) Schema(id domain.TestTypeID) (*schema.Schema, error) {
	return e.registry.Lookup(id)
}

// CreateTestRecord returns an empty record with the schema's initial blank rows.
func (e *Engine) CreateTestRecord(testType domain.TestTypeID) (domain.TestRecord, error) {
	s, err := e.registry.Lookup(testType)
	if err != nil {
		return domain.TestRecord{}, err
	}
	rec := domain.TestRecord{
		ID:            e.newID(),
		TestType:      s.ID(),
		SchemaVersion: s.Version(),
		Revision:      InitialRevision,
		State:         domain.StateEmpty,
		Header:        map[string]domain.RawValue{},
		HeaderNumeric: map[string]float64{},
		HeaderInvalid: map[string]domain.FieldIssue{},
		Constants:     s.ConstantValues(),
		Calibrated:    map[string]bool{},
	}
	for i := 0; i < s.Rows().InitialRows(); i++ {
		rec.Rows = append(rec.Rows, domain.NewSampleRow(e.newID()))
	}
	if rec.Rows == nil {
		rec.Rows = []domain.SampleRow{}
	}
	newPropagation(s, &rec).run(true)
	summarize(s, &rec)
	return rec, nil
}

// begin validates that rec may be edited and returns its schema together with
// a private working copy in StateEditing.
func (e *Engine) begin(rec domain.TestRecord) (*schema.Schema, domain.TestRecord, error) {
	if rec.State == domain.StateFinalized {
		return nil, domain.TestRecord{}, domain.ErrRecordFinalized
	}
	if !rec.State.CanTransition(domain.StateEditing) {
		return nil, domain.TestRecord{}, fmt.Errorf("record %s in state %q cannot be edited", rec.ID, rec.State)
	}
	s, err := e.registry.Lookup(rec.TestType)
	if err != nil {
		return nil, domain.TestRecord{}, err
	}
	if rec.SchemaVersion != s.Version() {
		return nil, domain.TestRecord{}, fmt.Errorf("record %s uses %s schema %s, registry has %s", rec.ID, rec.TestType, rec.SchemaVersion, s.Version())
	}
	work := rec.Clone()
	prepare(&work)
	work.State = domain.StateEditing
	return s, work, nil
}

// commit recomputes the summary and resolves the editing state.
func commit(s *schema.Schema, work *domain.TestRecord) domain.TestRecord {
	summarize(s, work)
	next := domain.StateComputed
	switch {
	case !work.HasValues():
		next = domain.StateEmpty
	case work.Summary.Status == domain.StatusInsufficient:
		next = domain.StateInsufficient
	}
	if work.State.CanTransition(next) {
		work.State = next
	}
	return *work
}

// summarize recomputes the record summary, enforcing the manual optimum range
// and reporting constants still awaiting calibration.
func summarize(s *schema.Schema, rec *domain.TestRecord) {
	rules := s.Summary()
	var notes []domain.Note
	if rec.ManualOptimum != nil {
		if opt := rules.Optimum; opt == nil {
			rec.ManualOptimum = nil
		} else {
			lo, hi, ok := compliance.PointRange(compliance.RowPoints(rec.Rows, opt.X, opt.Y))
			if x := rec.ManualOptimum.X; !ok || x < lo || x > hi {
				notes = append(notes, domain.Note{
					Code:    domain.NoteOptimumCleared,
					Field:   opt.XKey,
					Message: fmt.Sprintf("manual optimum at %g is outside the measured range", x),
				})
				rec.ManualOptimum = nil
			}
		}
	}
	sum := rules.Summarize(rec.Rows, compliance.Input{Params: rec.Params(), ManualOptimum: rec.ManualOptimum})
	sum.Notes = append(sum.Notes, notes...)
	for _, c := range s.Definition().Constants {
		if !c.Calibrate || rec.Calibrated[c.Key] {
			continue
		}
		msg := c.Note
		if msg == "" {
			msg = fmt.Sprintf("%s uses the approximate value %g", c.Key, c.Value)
		}
		sum.Notes = append(sum.Notes, domain.Note{Code: domain.NoteCalibrationPending, Field: c.Key, Message: msg})
	}
	rec.Summary = sum
}

// prepare makes every map of rec writable.
func prepare(rec *domain.TestRecord) {
	if rec.Header == nil {
		rec.Header = map[string]domain.RawValue{}
	}
	if rec.HeaderNumeric == nil {
		rec.HeaderNumeric = map[string]float64{}
	}
	if rec.HeaderInvalid == nil {
		rec.HeaderInvalid = map[string]domain.FieldIssue{}
	}
	if rec.Constants == nil {
		rec.Constants = map[string]float64{}
	}
	if rec.Calibrated == nil {
		rec.Calibrated = map[string]bool{}
	}
	if rec.Rows == nil {
		rec.Rows = []domain.SampleRow{}
	}
	for i := range rec.Rows {
		row := &rec.Rows[i]
		if row.Values == nil {
			row.Values = map[string]domain.RawValue{}
		}
		if row.Numeric == nil {
			row.Numeric = map[string]float64{}
		}
		if row.Derived == nil {
			row.Derived = map[string]float64{}
		}
		if row.Invalid == nil {
			row.Invalid = map[string]domain.FieldIssue{}
		}
		if row.EvalErrors == nil {
			row.EvalErrors = map[string]string{}
		}
	}
}
