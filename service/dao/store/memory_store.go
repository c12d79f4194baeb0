// Package store provides a generic in-memory implementation of
// dao.Service so concrete stores can embed it instead of rewriting
// identical Save/Load/Delete/List logic per entity type.
package store

import (
	"context"
	"sync"

	"github.com/autoact/autoact/service/dao"
)

// MemoryStore keeps entities of type *T mapped by a comparable key K. The
// key is obtained from the supplied key selector; List filtering uses the
// optional field selector to project an entity into filterable fields.
type MemoryStore[K comparable, T any] struct {
	mu            sync.RWMutex
	records       map[K]*T
	keySelector   func(*T) K
	fieldSelector func(*T) map[string]string
}

var _ dao.Service[string, any] = (*MemoryStore[string, any])(nil)

// NewMemoryStore creates a MemoryStore. fieldSelector may be nil when the
// store never needs parameterised List calls.
func NewMemoryStore[K comparable, T any](keySelector func(*T) K, fieldSelector func(*T) map[string]string) *MemoryStore[K, T] {
	return &MemoryStore[K, T]{
		records:       make(map[K]*T),
		keySelector:   keySelector,
		fieldSelector: fieldSelector,
	}
}

// Save stores or overwrites a record.
func (s *MemoryStore[K, T]) Save(_ context.Context, v *T) error {
	if v == nil {
		return dao.ErrNilEntity
	}
	key := s.keySelector(v)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[key] = v
	return nil
}

// Load returns a record by key.
func (s *MemoryStore[K, T]) Load(_ context.Context, key K) (*T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.records[key]
	if !ok {
		return nil, dao.ErrNotFound
	}
	return v, nil
}

// Delete removes a record.
func (s *MemoryStore[K, T]) Delete(_ context.Context, key K) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[key]; !ok {
		return dao.ErrNotFound
	}
	delete(s.records, key)
	return nil
}

// List returns stored records matching every parameter.
func (s *MemoryStore[K, T]) List(_ context.Context, parameters ...*dao.Parameter) ([]*T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*T, 0, len(s.records))
	for _, v := range s.records {
		if len(parameters) > 0 && s.fieldSelector != nil {
			if !dao.MatchAll(s.fieldSelector(v), parameters) {
				continue
			}
		}
		out = append(out, v)
	}
	return out, nil
}
