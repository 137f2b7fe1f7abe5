package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"alert-tuning-lab/internal/domain"
	"alert-tuning-lab/internal/storage"
)

// SymbolControlStore is an in-memory implementation of storage.SymbolControlStore.
type SymbolControlStore struct {
	mu   sync.RWMutex
	data map[string]*domain.SymbolControl // keyed by symbol
}

// NewSymbolControlStore creates a new in-memory symbol control store.
func NewSymbolControlStore() *SymbolControlStore {
	return &SymbolControlStore{
		data: make(map[string]*domain.SymbolControl),
	}
}

// Upsert inserts or replaces the row for c.Symbol.
func (s *SymbolControlStore) Upsert(_ context.Context, c *domain.SymbolControl) error {
	if c == nil || c.Symbol == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[c.Symbol] = c.Clone()
	return nil
}

// Get retrieves a control by symbol. Returns ErrNotFound if not exists.
func (s *SymbolControlStore) Get(_ context.Context, symbol string) (*domain.SymbolControl, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, exists := s.data[symbol]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return c.Clone(), nil
}

// List retrieves all controls ordered by symbol.
func (s *SymbolControlStore) List(_ context.Context) ([]*domain.SymbolControl, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.SymbolControl, 0, len(s.data))
	for _, c := range s.data {
		result = append(result, c.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Symbol < result[j].Symbol
	})
	return result, nil
}

// DeleteExpired removes rows with no gate active at now.
func (s *SymbolControlStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for symbol, c := range s.data {
		if c.Expired(now) {
			delete(s.data, symbol)
			removed++
		}
	}
	return removed, nil
}

var _ storage.SymbolControlStore = (*SymbolControlStore)(nil)
