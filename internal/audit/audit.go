// Package audit appends tuning-run records to a JSON array file.
package audit

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"sync"

	"alert-tuning-lab/internal/atomicfile"
	"alert-tuning-lab/internal/domain"
)

// Log is an append-only audit log. Each Append rewrites the whole array via
// an atomic replace, which is fine at one entry per tuning run.
type Log struct {
	mu   sync.Mutex
	path string
}

// NewLog creates a Log backed by path.
func NewLog(path string) *Log {
	return &Log{path: path}
}

// Append adds one entry. Existing entries are never modified.
func (l *Log) Append(e domain.AuditLogEntry) error {
	if !e.Action.IsValid() {
		return fmt.Errorf("append audit entry: invalid action %s", e.Action)
	}
	e.Metrics = finiteOnly(e.Metrics)

	l.mu.Lock()
	defer l.mu.Unlock()

	raw, err := l.readRaw()
	if err != nil {
		return err
	}

	// Keep prior entries as raw JSON so their bytes are not re-encoded.
	next, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}
	raw = append(raw, next)

	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal audit log: %w", err)
	}
	data = append(data, '\n')

	if err := atomicfile.WriteFile(l.path, data, 0o644); err != nil {
		return fmt.Errorf("write audit log: %w", err)
	}
	return nil
}

// Entries returns all entries in append order. A missing file is empty.
func (l *Log) Entries() ([]domain.AuditLogEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := os.ReadFile(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var entries []domain.AuditLogEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse audit log: %w", err)
	}
	return entries, nil
}

func (l *Log) readRaw() ([]json.RawMessage, error) {
	data, err := os.ReadFile(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		// Refuse to overwrite a file we cannot parse.
		return nil, fmt.Errorf("parse audit log %s: %w", l.path, err)
	}
	return raw, nil
}

// finiteOnly drops NaN and Inf values, which JSON cannot encode.
func finiteOnly(m map[string]float64) map[string]float64 {
	if m == nil {
		return nil
	}
	out := make(map[string]float64, len(m))
	for k, v := range m {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		out[k] = v
	}
	return out
}
