package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"labcore/internal/infra/persistence/postgres/testutil"
	"labcore/pkg/domain"
)

func openStub(t *testing.T) (*Store, *testutil.StubConn) {
	t.Helper()
	db, conn := testutil.NewStubDB()
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	t.Cleanup(restore)
	store, err := NewStore("")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store, conn
}

func record(id string, rev int) domain.FinalizedTestRecord {
	return domain.FinalizedTestRecord{
		ID:          id,
		TestType:    "marshall",
		Revision:    rev,
		Header:      map[string]domain.RawValue{"mix_id": "AC-14"},
		Summary:     domain.SummaryResult{Aggregates: map[string]float64{"air_voids.mean": 4.1}, Status: domain.StatusPass},
		FinalizedAt: time.Date(2026, 5, 4, 8, 30, 0, 0, time.UTC),
	}
}

func TestNewStoreEnsuresRevisionsTable(t *testing.T) {
	_, conn := openStub(t)
	var sawDDL bool
	for _, stmt := range conn.Execs {
		if strings.Contains(strings.ToUpper(stmt), "CREATE TABLE IF NOT EXISTS REVISIONS") {
			sawDDL = true
		}
	}
	if !sawDDL {
		t.Fatalf("expected revisions DDL to be applied, got execs: %v", conn.Execs)
	}
}

func TestNewStorePingFailure(t *testing.T) {
	db, conn := testutil.NewStubDB()
	conn.FailExec = true
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	defer restore()
	if _, err := NewStore("ignored"); err == nil || !strings.Contains(err.Error(), "ping postgres") {
		t.Fatalf("expected ping error, got %v", err)
	}
}

func TestAppendAndReadBack(t *testing.T) {
	ctx := context.Background()
	store, conn := openStub(t)
	for rev := 1; rev <= 3; rev++ {
		if err := store.Append(ctx, record("rec", rev)); err != nil {
			t.Fatalf("append %d: %v", rev, err)
		}
	}
	if err := store.Append(ctx, record("other", 1)); err != nil {
		t.Fatalf("append other: %v", err)
	}
	if got := len(conn.Tables["revisions"]); got != 4 {
		t.Fatalf("expected 4 stored rows, got %d", got)
	}

	latest, ok, err := store.Latest(ctx, "rec")
	if err != nil || !ok {
		t.Fatalf("latest: ok=%v err=%v", ok, err)
	}
	if latest.Revision != 3 || latest.Header["mix_id"] != "AC-14" {
		t.Fatalf("unexpected latest: %+v", latest)
	}
	history, err := store.History(ctx, "rec")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 revisions, got %d", len(history))
	}
	for i, rec := range history {
		if rec.Revision != i+1 || !rec.FinalizedAt.Equal(record("rec", 1).FinalizedAt) {
			t.Fatalf("history[%d] = revision %d at %v", i, rec.Revision, rec.FinalizedAt)
		}
	}
	if _, ok, err := store.Latest(ctx, "missing"); ok || err != nil {
		t.Fatalf("expected no revision for missing record, ok=%v err=%v", ok, err)
	}
}

func TestAppendRejectsGapsAndDuplicates(t *testing.T) {
	ctx := context.Background()
	store, _ := openStub(t)
	if err := store.Append(ctx, record("rec", 2)); !errors.Is(err, domain.ErrRevisionConflict) {
		t.Fatalf("expected conflict for gap, got %v", err)
	}
	if err := store.Append(ctx, record("rec", 1)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.Append(ctx, record("rec", 1)); !errors.Is(err, domain.ErrRevisionConflict) {
		t.Fatalf("expected conflict for duplicate, got %v", err)
	}
}

func TestAppendMapsUniqueViolationToConflict(t *testing.T) {
	store, conn := openStub(t)
	conn.InsertErr = &pgconn.PgError{Code: uniqueViolation, Message: "duplicate key value violates unique constraint"}
	if err := store.Append(context.Background(), record("rec", 1)); !errors.Is(err, domain.ErrRevisionConflict) {
		t.Fatalf("expected conflict from unique violation, got %v", err)
	}
	conn.InsertErr = errors.New("disk full")
	err := store.Append(context.Background(), record("rec", 1))
	if err == nil || errors.Is(err, domain.ErrRevisionConflict) {
		t.Fatalf("expected plain insert error, got %v", err)
	}
}

func TestAppendCommitFailure(t *testing.T) {
	store, conn := openStub(t)
	conn.FailCommit = true
	if err := store.Append(context.Background(), record("rec", 1)); err == nil || !strings.Contains(err.Error(), "commit") {
		t.Fatalf("expected commit error, got %v", err)
	}
}
