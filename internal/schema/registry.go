package schema

import (
	"fmt"
	"sort"
	"sync"

	"labcore/pkg/domain"
)

// Registry holds compiled schemas by test-type id. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	schemas map[domain.TestTypeID]*Schema
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{schemas: make(map[domain.TestTypeID]*Schema)}
}

// Register adds a schema; registering an id twice is an error.
func (r *Registry) Register(s *Schema) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.schemas[s.ID()]; exists {
		return fmt.Errorf("test type %s already registered", s.ID())
	}
	r.schemas[s.ID()] = s
	return nil
}

// Replace adds or overwrites the schema with the same id.
func (r *Registry) Replace(s *Schema) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[s.ID()] = s
}

// Lookup returns the schema for id.
func (r *Registry) Lookup(id domain.TestTypeID) (*Schema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[id]
	if !ok {
		return nil, domain.ErrNotFound{Entity: "test type", ID: string(id)}
	}
	return s, nil
}

// IDs returns every registered id in sorted order.
func (r *Registry) IDs() []domain.TestTypeID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]domain.TestTypeID, 0, len(r.schemas))
	for id := range r.schemas {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
