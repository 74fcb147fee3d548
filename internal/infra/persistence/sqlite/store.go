// Package sqlite provides a SQLite-backed revision ledger. Each finalized
// revision is one immutable row holding the record's JSON document.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"modernc.org/sqlite" // registers the pure go sqlite driver
	sqlite3 "modernc.org/sqlite/lib"

	"labcore/pkg/domain"
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.RevisionStore = (*Store)(nil)

const schemaDDL = `CREATE TABLE IF NOT EXISTS revisions (
	record_id TEXT NOT NULL,
	revision INTEGER NOT NULL,
	test_type TEXT NOT NULL,
	finalized_at TEXT NOT NULL,
	payload BLOB NOT NULL,
	PRIMARY KEY (record_id, revision)
)`

// Store appends finalized revisions to a single SQLite table.
type Store struct {
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// NewStore opens (or creates) the ledger database at path.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = "labcore.db"
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schemaDDL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create revisions table: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Append inserts rec when it is exactly one revision past the stored latest.
func (s *Store) Append(ctx context.Context, rec domain.FinalizedTestRecord) (retErr error) {
	if rec.ID == "" {
		return fmt.Errorf("append revision: record id is required")
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode revision: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	var latest int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(revision), 0) FROM revisions WHERE record_id = ?`, rec.ID).Scan(&latest); err != nil {
		return fmt.Errorf("select latest revision: %w", err)
	}
	if rec.Revision != latest+1 {
		return fmt.Errorf("record %s revision %d (expected %d): %w", rec.ID, rec.Revision, latest+1, domain.ErrRevisionConflict)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO revisions(record_id,revision,test_type,finalized_at,payload) VALUES(?,?,?,?,?)`,
		rec.ID, rec.Revision, string(rec.TestType), rec.FinalizedAt.UTC().Format(time.RFC3339Nano), payload)
	if err != nil {
		if isPrimaryKeyViolation(err) {
			return fmt.Errorf("record %s revision %d: %w", rec.ID, rec.Revision, domain.ErrRevisionConflict)
		}
		return fmt.Errorf("insert revision: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Latest returns the highest stored revision of recordID.
func (s *Store) Latest(ctx context.Context, recordID string) (domain.FinalizedTestRecord, bool, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM revisions WHERE record_id = ? ORDER BY revision DESC LIMIT 1`, recordID).Scan(&payload)
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
	rows, err := s.db.QueryContext(ctx, `SELECT payload FROM revisions WHERE record_id = ? ORDER BY revision`, recordID)
	if err != nil {
		return nil, fmt.Errorf("select history: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []domain.FinalizedTestRecord
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
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

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }

func isPrimaryKeyViolation(err error) bool {
	var serr *sqlite.Error
	if !errors.As(err, &serr) {
		return false
	}
	code := serr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY || code&0xff == sqlite3.SQLITE_CONSTRAINT
}
