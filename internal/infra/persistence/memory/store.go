// Package memory provides an in-memory revision ledger used for tests and
// ephemeral environments.
package memory

import (
	"context"
	"fmt"
	"sync"

	"labcore/pkg/domain"
)

// Compile-time contract assertion ensuring memory.Store adheres to the domain ledger interface.
var _ domain.RevisionStore = (*Store)(nil)

// Store keeps every finalized revision in process memory. Records are cloned
// on the way in and out so callers never share maps with the ledger.
type Store struct {
	mu        sync.RWMutex
	revisions map[string][]domain.FinalizedTestRecord
}

// NewStore constructs an empty ledger.
func NewStore() *Store {
	return &Store{revisions: make(map[string][]domain.FinalizedTestRecord)}
}

// Append stores rec if it extends the record's ledger by exactly one revision.
func (s *Store) Append(_ context.Context, rec domain.FinalizedTestRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("append revision: record id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing := s.revisions[rec.ID]
	if want := len(existing) + 1; rec.Revision != want {
		return fmt.Errorf("record %s revision %d (expected %d): %w", rec.ID, rec.Revision, want, domain.ErrRevisionConflict)
	}
	s.revisions[rec.ID] = append(existing, rec.Clone())
	return nil
}

// Latest returns the highest revision stored for recordID.
func (s *Store) Latest(_ context.Context, recordID string) (domain.FinalizedTestRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	existing := s.revisions[recordID]
	if len(existing) == 0 {
		return domain.FinalizedTestRecord{}, false, nil
	}
	return existing[len(existing)-1].Clone(), true, nil
}

// History returns every stored revision of recordID in ascending order.
func (s *Store) History(_ context.Context, recordID string) ([]domain.FinalizedTestRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	existing := s.revisions[recordID]
	out := make([]domain.FinalizedTestRecord, len(existing))
	for i, rec := range existing {
		out[i] = rec.Clone()
	}
	return out, nil
}

// Close is a no-op for the in-memory ledger.
func (s *Store) Close() error { return nil }
