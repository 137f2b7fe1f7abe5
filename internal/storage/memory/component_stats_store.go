package memory

import (
	"context"
	"sort"
	"sync"

	"alert-tuning-lab/internal/domain"
	"alert-tuning-lab/internal/storage"
)

// ComponentStatsStore is an in-memory implementation of storage.ComponentStatsStore.
type ComponentStatsStore struct {
	mu   sync.RWMutex
	data map[string]*domain.ScoreComponentStats // keyed by component
}

// NewComponentStatsStore creates a new in-memory component stats store.
func NewComponentStatsStore() *ComponentStatsStore {
	return &ComponentStatsStore{
		data: make(map[string]*domain.ScoreComponentStats),
	}
}

// Upsert inserts or replaces the stats for s.Component.
func (s *ComponentStatsStore) Upsert(_ context.Context, st *domain.ScoreComponentStats) error {
	if st == nil || st.Component == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *st
	s.data[st.Component] = &copy
	return nil
}

// Get retrieves stats by component. Returns ErrNotFound if not exists.
func (s *ComponentStatsStore) Get(_ context.Context, component string) (*domain.ScoreComponentStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, exists := s.data[component]
	if !exists {
		return nil, storage.ErrNotFound
	}
	copy := *st
	return &copy, nil
}

// List retrieves all stats ordered by component.
func (s *ComponentStatsStore) List(_ context.Context) ([]*domain.ScoreComponentStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.ScoreComponentStats, 0, len(s.data))
	for _, st := range s.data {
		copy := *st
		result = append(result, &copy)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Component < result[j].Component
	})
	return result, nil
}

var _ storage.ComponentStatsStore = (*ComponentStatsStore)(nil)
