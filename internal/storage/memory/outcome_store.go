package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"alert-tuning-lab/internal/domain"
	"alert-tuning-lab/internal/storage"
)

// OutcomeStore is an in-memory implementation of storage.OutcomeStore.
type OutcomeStore struct {
	mu   sync.RWMutex
	data map[string]*domain.OutcomeRecord // keyed by id
}

// NewOutcomeStore creates a new in-memory outcome store.
func NewOutcomeStore() *OutcomeStore {
	return &OutcomeStore{
		data: make(map[string]*domain.OutcomeRecord),
	}
}

// Insert adds a new record. Returns ErrDuplicateKey if id exists.
func (s *OutcomeStore) Insert(_ context.Context, r *domain.OutcomeRecord) error {
	if r == nil || r.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[r.ID]; exists {
		return storage.ErrDuplicateKey
	}

	s.data[r.ID] = r.Clone()
	return nil
}

// GetByID retrieves a record. Returns ErrNotFound if not exists.
func (s *OutcomeStore) GetByID(_ context.Context, id string) (*domain.OutcomeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, exists := s.data[id]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return r.Clone(), nil
}

// List retrieves records matching f.
func (s *OutcomeStore) List(_ context.Context, f storage.OutcomeFilter) ([]*domain.OutcomeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.OutcomeRecord
	for _, r := range s.data {
		if matches(r, f) {
			result = append(result, r.Clone())
		}
	}

	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			if f.NewestFirst {
				return a.CreatedAt.After(b.CreatedAt)
			}
			return a.CreatedAt.Before(b.CreatedAt)
		}
		if f.NewestFirst {
			return a.ID > b.ID
		}
		return a.ID < b.ID
	})

	if f.Limit > 0 && len(result) > f.Limit {
		result = result[:f.Limit]
	}
	return result, nil
}

func matches(r *domain.OutcomeRecord, f storage.OutcomeFilter) bool {
	if !f.Since.IsZero() && r.CreatedAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !r.CreatedAt.Before(f.Until) {
		return false
	}
	if f.Symbol != "" && r.Symbol != f.Symbol {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, st := range f.Statuses {
			if r.Status == st {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Resolved != "" && !r.Horizon(f.Resolved).IsSet() {
		return false
	}
	return true
}

// SetHorizon writes a horizon result only if it is still unset.
func (s *OutcomeStore) SetHorizon(_ context.Context, id string, h domain.Horizon, at time.Time, returnPct float64) (bool, error) {
	if !h.IsValid() {
		return false, storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, exists := s.data[id]
	if !exists {
		return false, storage.ErrNotFound
	}
	return r.SetHorizon(h, at, returnPct), nil
}

// SetStatus updates status and error reason.
func (s *OutcomeStore) SetStatus(_ context.Context, id string, status domain.OutcomeStatus, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, exists := s.data[id]
	if !exists {
		return storage.ErrNotFound
	}
	r.Status = status
	r.ErrorReason = reason
	return nil
}

// RecentRegimeScores returns the regime scores of the latest limit records, oldest first.
func (s *OutcomeStore) RecentRegimeScores(ctx context.Context, limit int) ([]float64, error) {
	recs, err := s.List(ctx, storage.OutcomeFilter{Limit: limit, NewestFirst: true})
	if err != nil {
		return nil, err
	}
	scores := make([]float64, len(recs))
	for i, r := range recs {
		scores[len(recs)-1-i] = r.RegimeScore
	}
	return scores, nil
}

// CountByStatus returns row counts per status.
func (s *OutcomeStore) CountByStatus(_ context.Context) (map[domain.OutcomeStatus]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[domain.OutcomeStatus]int)
	for _, r := range s.data {
		counts[r.Status]++
	}
	return counts, nil
}

var _ storage.OutcomeStore = (*OutcomeStore)(nil)
