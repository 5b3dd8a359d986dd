package store

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is an in-memory Records implementation for tests and
// single-process development.
type MemoryStore struct {
	mu     sync.Mutex
	tables map[string]map[string]Record
	order  map[string][]string
	now    func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tables: make(map[string]map[string]Record),
		order:  make(map[string][]string),
		now:    time.Now,
	}
}

func (s *MemoryStore) List(_ context.Context, table string) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, 0, len(s.order[table]))
	for _, id := range s.order[table] {
		out = append(out, s.tables[table][id].Clone())
	}
	return out, nil
}

func (s *MemoryStore) Get(_ context.Context, table, id string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.tables[table][id]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, table, id)
	}
	return rec.Clone(), nil
}

func (s *MemoryStore) Create(_ context.Context, table string, rec Record) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := prepareCreate(rec, s.now())
	id := out.ID()
	if s.tables[table] == nil {
		s.tables[table] = make(map[string]Record)
	}
	if _, exists := s.tables[table][id]; exists {
		return nil, fmt.Errorf("%w: %s/%s", ErrDuplicate, table, id)
	}
	s.tables[table][id] = out
	s.order[table] = append(s.order[table], id)
	return out.Clone(), nil
}

func (s *MemoryStore) Update(_ context.Context, table, id string, patch Record) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.tables[table][id]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, table, id)
	}
	out := applyPatch(existing, patch, s.now())
	s.tables[table][id] = out
	return out.Clone(), nil
}

func (s *MemoryStore) Delete(_ context.Context, table, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tables[table][id]; !ok {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, table, id)
	}
	delete(s.tables[table], id)
	order := s.order[table]
	for i, v := range order {
		if v == id {
			s.order[table] = append(order[:i:i], order[i+1:]...)
			break
		}
	}
	return nil
}
