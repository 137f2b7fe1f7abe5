package memory

import (
	"context"
	"sort"
	"sync"

	"alert-tuning-lab/internal/domain"
	"alert-tuning-lab/internal/storage"
)

// PlaybookStore is an in-memory implementation of storage.PlaybookStore.
type PlaybookStore struct {
	mu   sync.RWMutex
	data map[domain.Phase]*domain.CyclePlaybook
}

// NewPlaybookStore creates a new in-memory playbook store.
func NewPlaybookStore() *PlaybookStore {
	return &PlaybookStore{
		data: make(map[domain.Phase]*domain.CyclePlaybook),
	}
}

// Upsert inserts or replaces the playbook for p.Phase.
func (s *PlaybookStore) Upsert(_ context.Context, p *domain.CyclePlaybook) error {
	if p == nil || !p.Phase.IsValid() {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *p
	s.data[p.Phase] = &copy
	return nil
}

// Get retrieves a playbook by phase. Returns ErrNotFound if not exists.
func (s *PlaybookStore) Get(_ context.Context, phase domain.Phase) (*domain.CyclePlaybook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, exists := s.data[phase]
	if !exists {
		return nil, storage.ErrNotFound
	}
	copy := *p
	return &copy, nil
}

// List retrieves all stored playbooks ordered by phase.
func (s *PlaybookStore) List(_ context.Context) ([]*domain.CyclePlaybook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.CyclePlaybook, 0, len(s.data))
	for _, p := range s.data {
		copy := *p
		result = append(result, &copy)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Phase < result[j].Phase
	})
	return result, nil
}

var _ storage.PlaybookStore = (*PlaybookStore)(nil)
