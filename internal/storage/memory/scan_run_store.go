package memory

import (
	"context"
	"sync"
	"time"

	"alert-tuning-lab/internal/storage"
)

// ScanRunStore is an in-memory implementation of storage.ScanRunStore.
type ScanRunStore struct {
	mu   sync.RWMutex
	runs []time.Time
}

// NewScanRunStore creates a new in-memory scan run store.
func NewScanRunStore() *ScanRunStore {
	return &ScanRunStore{}
}

// Insert records a scanner heartbeat.
func (s *ScanRunStore) Insert(_ context.Context, at time.Time) error {
	if at.IsZero() {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs = append(s.runs, at.UTC())
	return nil
}

// CountSince counts heartbeats with ran_at >= since.
func (s *ScanRunStore) CountSince(_ context.Context, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, t := range s.runs {
		if !t.Before(since) {
			n++
		}
	}
	return n, nil
}

var _ storage.ScanRunStore = (*ScanRunStore)(nil)
