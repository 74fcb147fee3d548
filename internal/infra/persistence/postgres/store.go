// Package postgres provides a Postgres-backed revision ledger. The table layout
// mirrors the SQLite ledger, with the record document stored as JSONB.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"labcore/pkg/domain"
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.RevisionStore = (*Store)(nil)

const (
	defaultDriver = "pgx"
	// Default DSN keeps parity with OpenRevisionStore defaults while allowing overrides via env.
	defaultDSN = "postgres://localhost/labcore?sslmode=disable"

	uniqueViolation = "23505"
)

const schemaDDL = `CREATE TABLE IF NOT EXISTS revisions (
	record_id TEXT NOT NULL,
	revision INTEGER NOT NULL,
	test_type TEXT NOT NULL,
	finalized_at TIMESTAMPTZ NOT NULL,
	payload JSONB NOT NULL,
	PRIMARY KEY (record_id, revision)
)`

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store appends finalized revisions to Postgres.
type Store struct {
	db *sql.DB
}

// NewStore opens the ledger using the provided DSN (falls back to defaultDSN)
// and ensures the revisions table exists.
func NewStore(dsn string) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, schemaDDL); err != nil {
		return nil, fmt.Errorf("ensure revisions table: %w", err)
	}
	return &Store{db: db}, nil
}

// Append inserts rec when it is exactly one revision past the stored latest.
// Concurrent writers racing for the same revision are settled by the primary key.
func (s *Store) Append(ctx context.Context, rec domain.FinalizedTestRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("append revision: record id is required")
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode revision: %w", err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	latest, err := latestRevision(ctx, tx, rec.ID)
	if err != nil {
		return err
	}
	if rec.Revision != latest+1 {
		return fmt.Errorf("record %s revision %d (expected %d): %w", rec.ID, rec.Revision, latest+1, domain.ErrRevisionConflict)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO revisions(record_id,revision,test_type,finalized_at,payload) VALUES($1,$2,$3,$4,$5)`,
		rec.ID, rec.Revision, string(rec.TestType), rec.FinalizedAt.UTC(), string(payload))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("record %s revision %d: %w", rec.ID, rec.Revision, domain.ErrRevisionConflict)
		}
		return fmt.Errorf("insert revision: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

func latestRevision(ctx context.Context, tx *sql.Tx, recordID string) (int, error) {
	rows, err := tx.QueryContext(ctx, `SELECT revision FROM revisions WHERE record_id = $1`, recordID)
	if err != nil {
		return 0, fmt.Errorf("select revisions: %w", err)
	}
	defer func() { _ = rows.Close() }()
	latest := 0
	for rows.Next() {
		var rev int
		if err := rows.Scan(&rev); err != nil {
			return 0, fmt.Errorf("scan revision: %w", err)
		}
		if rev > latest {
			latest = rev
		}
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate revisions: %w", err)
	}
	return latest, nil
}

// Latest returns the highest stored revision of recordID.
func (s *Store) Latest(ctx context.Context, recordID string) (domain.FinalizedTestRecord, bool, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM revisions WHERE record_id = $1 ORDER BY revision DESC LIMIT 1`, recordID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.FinalizedTestRecord{}, false, nil
	}
	if err != nil {
		return domain.FinalizedTestRecord{}, false, fmt.Errorf("select latest: %w", err)
	}
	var rec domain.FinalizedTestRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return domain.FinalizedTestRecord{}, false, fmt.Errorf("decode revision: %w", err)
	}
	return rec, true, nil
}

// History returns every stored revision of recordID in ascending order.
func (s *Store) History(ctx context.Context, recordID string) ([]domain.FinalizedTestRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT payload FROM revisions WHERE record_id = $1 ORDER BY revision`, recordID)
	if err != nil {
		return nil, fmt.Errorf("select history: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []domain.FinalizedTestRecord
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		var rec domain.FinalizedTestRecord
		if err := json.Unmarshal(payload, &rec); err != nil {
			return nil, fmt.Errorf("decode revision: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Revision < out[j].Revision })
	return out, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
