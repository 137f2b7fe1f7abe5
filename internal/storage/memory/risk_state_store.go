package memory

import (
	"context"
	"sync"

	"alert-tuning-lab/internal/domain"
	"alert-tuning-lab/internal/storage"
)

// RiskStateStore is an in-memory implementation of storage.RiskStateStore.
type RiskStateStore struct {
	mu    sync.RWMutex
	state *domain.RiskState
}

// NewRiskStateStore creates a new in-memory risk state store.
func NewRiskStateStore() *RiskStateStore {
	return &RiskStateStore{}
}

// Get retrieves the state. Returns ErrNotFound if never saved.
func (s *RiskStateStore) Get(_ context.Context) (*domain.RiskState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.state == nil {
		return nil, storage.ErrNotFound
	}
	return cloneRiskState(s.state), nil
}

// Save replaces the state.
func (s *RiskStateStore) Save(_ context.Context, st *domain.RiskState) error {
	if st == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = cloneRiskState(st)
	return nil
}

func cloneRiskState(st *domain.RiskState) *domain.RiskState {
	copy := *st
	if st.PausedUntil != nil {
		t := *st.PausedUntil
		copy.PausedUntil = &t
	}
	return &copy
}

var _ storage.RiskStateStore = (*RiskStateStore)(nil)
