package memory

import (
	"context"
	"fmt"
	"sync"

	"alert-tuning-lab/internal/domain"
	"alert-tuning-lab/internal/storage"
)

// GridResultStore is an in-memory implementation of storage.GridResultStore.
type GridResultStore struct {
	mu    sync.RWMutex
	runs  map[string][]*domain.GridResult // keyed by run_id, in insertion order
	index map[string]struct{}             // composite keys
}

// NewGridResultStore creates a new in-memory grid result store.
func NewGridResultStore() *GridResultStore {
	return &GridResultStore{
		runs:  make(map[string][]*domain.GridResult),
		index: make(map[string]struct{}),
	}
}

func gridKey(r *domain.GridResult) string {
	return fmt.Sprintf("%s|%d|%d|%s", r.RunID, r.Threshold, r.RegimeFloor, r.MinConfidence)
}

// InsertBulk appends results. Fails entire batch on any duplicate.
func (s *GridResultStore) InsertBulk(_ context.Context, results []*domain.GridResult) error {
	if len(results) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// First pass: check for duplicates (existing + intra-batch)
	batchKeys := make(map[string]struct{}, len(results))
	for _, r := range results {
		if r == nil || r.RunID == "" {
			return storage.ErrInvalidInput
		}
		key := gridKey(r)
		if _, exists := s.index[key]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[key]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[key] = struct{}{}
	}

	// Second pass: insert all
	for _, r := range results {
		copy := *r
		s.runs[r.RunID] = append(s.runs[r.RunID], &copy)
		s.index[gridKey(r)] = struct{}{}
	}
	return nil
}

// GetByRun retrieves results for a run in enumeration order.
func (s *GridResultStore) GetByRun(_ context.Context, runID string) ([]*domain.GridResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := s.runs[runID]
	result := make([]*domain.GridResult, len(rows))
	for i, r := range rows {
		copy := *r
		result[i] = &copy
	}
	return result, nil
}

var _ storage.GridResultStore = (*GridResultStore)(nil)
