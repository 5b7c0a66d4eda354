package permissions

import (
	"context"
	"sync"
)

// MemoryStore is a fixture-backed MappingStore. It backs tests and the
// "memory" store type used for local development; production runs on
// PostgresStore or RedisStore.
type MemoryStore struct {
	mu       sync.RWMutex
	nextID   int64
	mappings map[int64]Mapping
}

// NewMemoryStore creates an empty in-memory mapping store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextID:   1,
		mappings: make(map[int64]Mapping),
	}
}

// Add inserts a mapping and returns its assigned ID.
func (s *MemoryStore) Add(m Mapping) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	m.ID = s.nextID
	s.nextID++
	s.mappings[m.ID] = m
	return m.ID
}

// SetActive flips the is_active flag on a mapping. Unknown IDs are a
// no-op.
func (s *MemoryStore) SetActive(id int64, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m, ok := s.mappings[id]; ok {
		m.IsActive = active
		s.mappings[id] = m
	}
}

// Remove deletes a mapping.
func (s *MemoryStore) Remove(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.mappings, id)
}

// MappingsFor returns active mappings targeting any of the given groups.
func (s *MemoryStore) MappingsFor(ctx context.Context, groups []GroupIdentity) ([]Mapping, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	targets := make(map[GroupIdentity]bool, len(groups))
	for _, g := range groups {
		targets[g] = true
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Mapping
	for _, m := range s.mappings {
		if m.IsActive && targets[m.Target] {
			out = append(out, m)
		}
	}
	return out, nil
}

// AllActive returns every active mapping.
func (s *MemoryStore) AllActive(ctx context.Context) ([]Mapping, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Mapping
	for _, m := range s.mappings {
		if m.IsActive {
			out = append(out, m)
		}
	}
	return out, nil
}
