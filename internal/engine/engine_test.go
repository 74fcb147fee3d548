package engine

import (
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"labcore/internal/schema"
	"labcore/pkg/domain"
)

const curveSchema = `
id: curve
version: "1"
title: Curve probe
fields:
  - {key: label, label: Label, kind: text, scope: header, required: true}
  - {key: scale, label: Scale, kind: numeric, scope: header}
  - {key: x, label: X, kind: numeric, required: true}
  - {key: y, label: Y, kind: numeric, required: true}
  - {key: grade, label: Grade, kind: select, options: [a, b]}
derived:
  - {key: yy, label: YY, formula: y * factor, precision: 3}
  - {key: dev, label: Deviation, formula: y - AVERAGE(y), precision: 4}
  - {key: scaled, label: Scaled, formula: yy * scale, precision: 3}
constants:
  - {key: factor, value: 1, calibrate: true}
rows: {min: 2, max: 6, initial: 3}
summary:
  min_rows: 3
  fields: [y]
  optimum: {x: x, y: yy, x_key: best_x, y_key: best_y}
  rules:
    - status: fail
      when: [{metric: y.mean, op: "<", value: 1}]
    - status: pass
`

var fixedNow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	reg := schema.NewRegistry()
	if err := schema.LoadCatalog(reg); err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	curve, err := schema.Load([]byte(curveSchema))
	if err != nil {
		t.Fatalf("load curve schema: %v", err)
	}
	if err := reg.Register(curve); err != nil {
		t.Fatalf("register: %v", err)
	}
	seq := 0
	return New(reg,
		WithIDGenerator(func() string { seq++; return fmt.Sprintf("id-%d", seq) }),
		WithClock(func() time.Time { return fixedNow }),
	)
}

func create(t *testing.T, e *Engine, id domain.TestTypeID) domain.TestRecord {
	t.Helper()
	rec, err := e.CreateTestRecord(id)
	if err != nil {
		t.Fatalf("create %s: %v", id, err)
	}
	return rec
}

func edit(t *testing.T, e *Engine, rec domain.TestRecord, row int, key string, raw domain.RawValue) domain.TestRecord {
	t.Helper()
	out, err := e.OnFieldEdit(rec, rec.Rows[row].ID, key, raw)
	if err != nil {
		t.Fatalf("edit row %d %s=%q: %v", row, key, raw, err)
	}
	return out
}

func header(t *testing.T, e *Engine, rec domain.TestRecord, key string, raw domain.RawValue) domain.TestRecord {
	t.Helper()
	out, err := e.OnHeaderEdit(rec, key, raw)
	if err != nil {
		t.Fatalf("header %s=%q: %v", key, raw, err)
	}
	return out
}

func point(t *testing.T, e *Engine, rec domain.TestRecord, row int, x, y string) domain.TestRecord {
	t.Helper()
	rec = edit(t, e, rec, row, "x", domain.RawValue(x))
	return edit(t, e, rec, row, "y", domain.RawValue(y))
}

func proctorRow(t *testing.T, e *Engine, rec domain.TestRecord, row int, moldSoil, wet, dry string) domain.TestRecord {
	t.Helper()
	rec = edit(t, e, rec, row, "mold_soil_mass", domain.RawValue(moldSoil))
	rec = edit(t, e, rec, row, "container_mass", "50")
	rec = edit(t, e, rec, row, "wet_soil_container_mass", domain.RawValue(wet))
	return edit(t, e, rec, row, "dry_soil_container_mass", domain.RawValue(dry))
}

func TestCreateTestRecord(t *testing.T) {
	e := newTestEngine(t)
	rec := create(t, e, "proctor")
	if rec.State != domain.StateEmpty || rec.Revision != InitialRevision {
		t.Fatalf("unexpected new record %s rev %d", rec.State, rec.Revision)
	}
	if len(rec.Rows) != 5 {
		t.Fatalf("expected 5 initial rows, got %d", len(rec.Rows))
	}
	if rec.Summary.Status != domain.StatusInsufficient {
		t.Fatalf("expected insufficient summary, got %s", rec.Summary.Status)
	}
	if _, err := e.CreateTestRecord("unknown"); err == nil {
		t.Fatalf("expected unknown test type error")
	}
}

func TestProctorDryDensity(t *testing.T) {
	e := newTestEngine(t)
	rec := create(t, e, "proctor")
	rec = header(t, e, rec, "mold_volume", "944")
	rec = header(t, e, rec, "mold_mass", "4000")
	rec = proctorRow(t, e, rec, 0, "5793.6", "162", "150")

	row := rec.Rows[0]
	for key, want := range map[string]float64{"wet_mass": 1793.6, "wet_density": 1.9, "moisture_content": 12, "dry_density": 1.696} {
		if got, ok := row.Derived[key]; !ok || got != want {
			t.Fatalf("%s = %v (present %v), want %v", key, got, ok, want)
		}
	}
	if _, ok := row.Derived["zav_density"]; ok {
		t.Fatalf("zav_density requires specific gravity")
	}
	if len(row.EvalErrors) != 0 {
		t.Fatalf("unexpected eval errors %v", row.EvalErrors)
	}
	if rec.State != domain.StateInsufficient {
		t.Fatalf("expected insufficient state, got %s", rec.State)
	}
}

func TestZeroDivisorLeavesDerivedAbsent(t *testing.T) {
	e := newTestEngine(t)
	rec := create(t, e, "proctor")
	rec = header(t, e, rec, "mold_volume", "0")
	rec = header(t, e, rec, "mold_mass", "4000")
	rec = proctorRow(t, e, rec, 0, "5793.6", "162", "150")

	row := rec.Rows[0]
	if _, ok := row.Derived["wet_density"]; ok {
		t.Fatalf("wet_density must be absent for a zero mold volume")
	}
	if _, ok := row.EvalErrors["wet_density"]; !ok {
		t.Fatalf("expected an eval error for wet_density")
	}
	if _, ok := row.Derived["dry_density"]; ok {
		t.Fatalf("dry_density must be absent when wet_density is")
	}
	if _, ok := row.EvalErrors["dry_density"]; ok {
		t.Fatalf("missing dependency is not an evaluation error")
	}
	if row.Derived["moisture_content"] != 12 {
		t.Fatalf("independent derived values must still be computed")
	}
}

func TestUnitNormalization(t *testing.T) {
	e := newTestEngine(t)
	rec := create(t, e, "concrete_cylinder")
	rec = edit(t, e, rec, 0, "diameter", "100")
	rec = edit(t, e, rec, 0, "max_load", "200")
	row := rec.Rows[0]
	if math.Abs(row.Numeric["diameter"]-0.1) > 1e-12 || row.Numeric["max_load"] != 200000 {
		t.Fatalf("unexpected normalized values %+v", row.Numeric)
	}
	if row.Values["diameter"] != "100" {
		t.Fatalf("raw value must be kept as entered, got %q", row.Values["diameter"])
	}
	if got := row.Derived["strength"]; got != 25.5 {
		t.Fatalf("expected 25.5 MPa, got %v", got)
	}
}

func TestInvalidInputKeepsPreviousValue(t *testing.T) {
	e := newTestEngine(t)
	rec := create(t, e, "curve")
	rec = point(t, e, rec, 0, "10", "1.8")

	out, err := e.OnFieldEdit(rec, rec.Rows[0].ID, "y", "1.8x")
	var verr *domain.ValidationError
	if !errors.As(err, &verr) || verr.Field != "y" || verr.RowID != rec.Rows[0].ID {
		t.Fatalf("expected validation error for y, got %v", err)
	}
	row := out.Rows[0]
	if row.Values["y"] != "1.8" || row.Numeric["y"] != 1.8 || row.Derived["yy"] != 1.8 {
		t.Fatalf("previous value must be kept: %+v", row)
	}
	if issue, ok := row.Invalid["y"]; !ok || issue.Rejected != "1.8x" {
		t.Fatalf("expected invalid marker, got %+v", row.Invalid)
	}

	out = edit(t, e, out, 0, "y", "1,9")
	if _, ok := out.Rows[0].Invalid["y"]; ok || out.Rows[0].Numeric["y"] != 1.9 {
		t.Fatalf("valid input must clear the invalid marker: %+v", out.Rows[0])
	}

	if _, err := e.OnFieldEdit(out, out.Rows[0].ID, "grade", "c"); !errors.As(err, &verr) {
		t.Fatalf("expected select validation error, got %v", err)
	}
	if _, err := e.OnFieldEdit(out, "nope", "y", "1"); err == nil {
		t.Fatalf("expected unknown row error")
	}
	if _, err := e.OnFieldEdit(out, out.Rows[0].ID, "label", "x"); err == nil {
		t.Fatalf("header fields cannot be edited per row")
	}
}

func TestEmptyInputClearsValue(t *testing.T) {
	e := newTestEngine(t)
	rec := create(t, e, "curve")
	rec = point(t, e, rec, 0, "10", "1.8")
	rec = edit(t, e, rec, 0, "y", "  ")
	row := rec.Rows[0]
	if _, ok := row.Values["y"]; ok {
		t.Fatalf("blank input must clear the raw value")
	}
	if _, ok := row.Derived["yy"]; ok {
		t.Fatalf("derived value must be absent once its input is cleared")
	}
	rec = edit(t, e, rec, 0, "x", "")
	if rec.State != domain.StateEmpty {
		t.Fatalf("expected empty state after clearing everything, got %s", rec.State)
	}
}

func TestStateTransitions(t *testing.T) {
	e := newTestEngine(t)
	rec := create(t, e, "curve")
	rec = point(t, e, rec, 0, "10", "1.8")
	if rec.State != domain.StateInsufficient {
		t.Fatalf("expected insufficient, got %s", rec.State)
	}
	rec = point(t, e, rec, 1, "12", "1.86")
	rec = point(t, e, rec, 2, "14", "1.84")
	if rec.State != domain.StateComputed || rec.Summary.Status != domain.StatusPass {
		t.Fatalf("expected computed/pass, got %s/%s", rec.State, rec.Summary.Status)
	}
}

func TestEditDoesNotMutateInput(t *testing.T) {
	e := newTestEngine(t)
	rec := create(t, e, "curve")
	rec = point(t, e, rec, 0, "10", "1.8")
	before := rec.Clone()
	if _, err := e.OnFieldEdit(rec, rec.Rows[0].ID, "y", "2.5"); err != nil {
		t.Fatalf("edit: %v", err)
	}
	if _, err := e.AddRow(rec); err != nil {
		t.Fatalf("add row: %v", err)
	}
	if diff := cmp.Diff(before, rec); diff != "" {
		t.Fatalf("input record mutated (-before +after):\n%s", diff)
	}
}

func TestCrossRowAggregatesFollowEdits(t *testing.T) {
	e := newTestEngine(t)
	rec := create(t, e, "curve")
	rec = point(t, e, rec, 0, "10", "2")
	rec = point(t, e, rec, 1, "12", "4")
	if rec.Rows[0].Derived["dev"] != -1 || rec.Rows[1].Derived["dev"] != 1 {
		t.Fatalf("unexpected deviations %v %v", rec.Rows[0].Derived, rec.Rows[1].Derived)
	}
	rec = edit(t, e, rec, 1, "y", "6")
	if rec.Rows[0].Derived["dev"] != -2 {
		t.Fatalf("editing row 2 must refresh row 1 aggregate, got %v", rec.Rows[0].Derived["dev"])
	}
	rec, err := e.RemoveRow(rec, rec.Rows[1].ID)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if rec.Rows[0].Derived["dev"] != 0 {
		t.Fatalf("removing a row must refresh aggregates, got %v", rec.Rows[0].Derived["dev"])
	}
}

func TestIncrementalMatchesRecompute(t *testing.T) {
	e := newTestEngine(t)
	rec := create(t, e, "curve")
	rec = point(t, e, rec, 0, "10", "1.80")
	rec = point(t, e, rec, 1, "12", "1.86")
	rec = header(t, e, rec, "scale", "2")
	rec = point(t, e, rec, 2, "14", "1.84")
	rec, err := e.AddRow(rec)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	rec = point(t, e, rec, 3, "16", "1.79")
	rec, err = e.SetConstant(rec, "factor", 1.05)
	if err != nil {
		t.Fatalf("set constant: %v", err)
	}
	rec = header(t, e, rec, "scale", "")
	rec = edit(t, e, rec, 1, "y", "1.9")
	rec, err = e.RemoveRow(rec, rec.Rows[0].ID)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}

	full, err := e.Recompute(rec)
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if diff := cmp.Diff(full, rec, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("incremental result differs from full recompute (-full +incremental):\n%s", diff)
	}
}

func TestRowLimits(t *testing.T) {
	e := newTestEngine(t)
	rec := create(t, e, "curve")
	var err error
	for len(rec.Rows) < 6 {
		if rec, err = e.AddRow(rec); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	var limitErr *domain.RowLimitError
	if _, err := e.AddRow(rec); !errors.As(err, &limitErr) || limitErr.Op != "add" {
		t.Fatalf("expected add limit error, got %v", err)
	}
	for len(rec.Rows) > 2 {
		if rec, err = e.RemoveRow(rec, rec.Rows[0].ID); err != nil {
			t.Fatalf("remove: %v", err)
		}
	}
	if _, err := e.RemoveRow(rec, rec.Rows[0].ID); !errors.As(err, &limitErr) || limitErr.Op != "remove" {
		t.Fatalf("expected remove limit error, got %v", err)
	}
}

func TestManualOptimumPersists(t *testing.T) {
	e := newTestEngine(t)
	rec := create(t, e, "curve")
	rec = point(t, e, rec, 0, "10", "1.80")
	rec = point(t, e, rec, 1, "12", "1.86")
	rec = point(t, e, rec, 2, "14", "1.84")
	if rec.Summary.OptimumSource != domain.OptimumAuto || rec.Summary.Aggregates["best_x"] != 12 {
		t.Fatalf("unexpected auto optimum %+v", rec.Summary)
	}

	rec, err := e.PickOptimum(rec, domain.Point{X: 13.5, Y: 1.85})
	if err != nil {
		t.Fatalf("pick: %v", err)
	}
	rec, err = e.AddRow(rec)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	rec = point(t, e, rec, 3, "11", "1.95")
	if rec.Summary.OptimumSource != domain.OptimumManual || rec.Summary.Aggregates["best_y"] != 1.85 {
		t.Fatalf("a higher point must not replace the manual pick: %+v", rec.Summary)
	}

	cleared, err := e.ClearOptimum(rec)
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if cleared.Summary.OptimumSource != domain.OptimumAuto || cleared.Summary.Aggregates["best_y"] != 1.95 {
		t.Fatalf("expected automatic optimum after clear: %+v", cleared.Summary)
	}

	// Removing the x=14 point leaves 13.5 outside the measured range.
	shrunk, err := e.RemoveRow(rec, rec.Rows[2].ID)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if shrunk.ManualOptimum != nil || !shrunk.Summary.HasNote(domain.NoteOptimumCleared) {
		t.Fatalf("expected manual optimum to be cleared with a note: %+v", shrunk.Summary)
	}

	if _, err := e.PickOptimum(cleared, domain.Point{X: 30, Y: 1}); err == nil {
		t.Fatalf("expected out of range pick to fail")
	}
	if _, err := e.PickOptimum(create(t, e, "sand_cone"), domain.Point{X: 1, Y: 1}); err == nil {
		t.Fatalf("expected pick on a schema without optimum to fail")
	}
}

func TestCalibrationNotes(t *testing.T) {
	e := newTestEngine(t)
	rec := create(t, e, "curve")
	if !rec.Summary.HasNote(domain.NoteCalibrationPending) {
		t.Fatalf("expected calibration note for factor: %+v", rec.Summary.Notes)
	}
	rec, err := e.SetConstant(rec, "factor", 1)
	if err != nil {
		t.Fatalf("set constant: %v", err)
	}
	if rec.Summary.HasNote(domain.NoteCalibrationPending) || !rec.Calibrated["factor"] {
		t.Fatalf("calibrated constant must not be reported: %+v", rec.Summary.Notes)
	}
	if _, err := e.SetConstant(rec, "nope", 1); err == nil {
		t.Fatalf("expected unknown constant error")
	}
}

func TestFinalizeReportsEveryProblem(t *testing.T) {
	e := newTestEngine(t)
	rec := create(t, e, "curve")
	rec = edit(t, e, rec, 0, "x", "10")
	rec, _ = e.OnFieldEdit(rec, rec.Rows[1].ID, "y", "abc")

	_, _, err := e.Finalize(rec)
	var ferr *domain.FinalizeError
	if !errors.As(err, &ferr) {
		t.Fatalf("expected finalize error, got %v", err)
	}
	want := []domain.Problem{
		{Field: "label", Message: "required"},
		{Field: "y", RowID: rec.Rows[0].ID, Message: "required"},
		{Field: "x", RowID: rec.Rows[1].ID, Message: "required"},
		{Field: "y", RowID: rec.Rows[1].ID, Message: rec.Rows[1].Invalid["y"].Message},
	}
	if diff := cmp.Diff(want, ferr.Problems); diff != "" {
		t.Fatalf("problems mismatch (-want +got):\n%s", diff)
	}
	if errors.Is(err, domain.ErrRecordFinalized) {
		t.Fatalf("validation problems are not a finalized-record error")
	}
}

func TestFinalizeAndRevise(t *testing.T) {
	e := newTestEngine(t)
	rec := create(t, e, "curve")
	rec = header(t, e, rec, "label", "batch 7")
	rec = point(t, e, rec, 0, "10", "1.80")
	rec = point(t, e, rec, 1, "12", "1.86")
	rec = point(t, e, rec, 2, "14", "1.84")
	rec, err := e.PickOptimum(rec, domain.Point{X: 13, Y: 1.87})
	if err != nil {
		t.Fatalf("pick: %v", err)
	}

	locked, fin, err := e.Finalize(rec)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if locked.State != domain.StateFinalized || fin.Revision != 1 || !fin.FinalizedAt.Equal(fixedNow) {
		t.Fatalf("unexpected finalized record %s rev %d at %v", locked.State, fin.Revision, fin.FinalizedAt)
	}
	if len(fin.Charts) != 1 || fin.Summary.Status != domain.StatusPass {
		t.Fatalf("unexpected persisted form %+v", fin)
	}

	if _, _, err := e.Finalize(locked); !errors.Is(err, domain.ErrRecordFinalized) {
		t.Fatalf("expected finalized error on second finalize, got %v", err)
	} else {
		var ferr *domain.FinalizeError
		if !errors.As(err, &ferr) {
			t.Fatalf("second finalize must return a FinalizeError, got %T", err)
		}
	}
	if _, err := e.OnFieldEdit(locked, locked.Rows[0].ID, "y", "2"); !errors.Is(err, domain.ErrRecordFinalized) {
		t.Fatalf("expected edits on a finalized record to fail, got %v", err)
	}

	next, err := e.Revise(fin)
	if err != nil {
		t.Fatalf("revise: %v", err)
	}
	if next.Revision != 2 || next.ID != fin.ID || next.State != domain.StateComputed {
		t.Fatalf("unexpected revision %d %s %s", next.Revision, next.ID, next.State)
	}
	if next.ManualOptimum == nil || *next.ManualOptimum != (domain.Point{X: 13, Y: 1.87}) {
		t.Fatalf("manual optimum must carry over: %+v", next.ManualOptimum)
	}
	if diff := cmp.Diff(fin.Summary, next.Summary, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("revision summary differs (-finalized +revised):\n%s", diff)
	}
}
