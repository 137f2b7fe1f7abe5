// Package configfile manages the live KEY=VALUE gating config: reads it into a
// domain.ConfigSnapshot and writes allow-listed keys back with a timestamped
// backup and an atomic replace.
package configfile

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"alert-tuning-lab/internal/atomicfile"
	"alert-tuning-lab/internal/domain"
)

// Writable gating keys.
const (
	KeyThreshold     = "SCORE_THRESHOLD"
	KeyRegimeFloor   = "REGIME_FLOOR"
	KeyMinConfidence = "MIN_CONFIDENCE"
	WeightPrefix     = "WEIGHT_"
)

// BackupTimeFormat is the UTC suffix of backup files: <path>.bak.<stamp>.
// A second backup within the same second gets <path>.bak.<stamp>-<n>.
const BackupTimeFormat = "20060102T150405Z"

// ErrKeyNotAllowed is returned for any write to a key outside the allow-list.
var ErrKeyNotAllowed = errors.New("config key not allow-listed")

// WeightKey returns the config key for a scoring rule weight.
func WeightKey(rule string) string {
	return WeightPrefix + strings.ToUpper(rule)
}

// AllowList is the closed set of writable keys. Anything not listed,
// including every sizing and portfolio key, is rejected.
type AllowList struct {
	keys map[string]struct{}
}

// NewAllowList allows the three gating keys plus one weight key per rule.
func NewAllowList(rules []string) AllowList {
	a := AllowList{keys: map[string]struct{}{
		KeyThreshold:     {},
		KeyRegimeFloor:   {},
		KeyMinConfidence: {},
	}}
	for _, r := range rules {
		a.keys[WeightKey(r)] = struct{}{}
	}
	return a
}

// Allows reports whether key may be written.
func (a AllowList) Allows(key string) bool {
	_, ok := a.keys[key]
	return ok
}

// Store reads and writes the live config file.
type Store struct {
	path  string
	allow AllowList
}

// NewStore creates a Store for path.
func NewStore(path string, allow AllowList) *Store {
	return &Store{path: path, allow: allow}
}

// Path returns the managed file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads the file. A missing file yields an empty document and the default snapshot.
func (s *Store) Load() (domain.ConfigSnapshot, *Document, error) {
	data, err := os.ReadFile(s.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return domain.ConfigSnapshot{}, nil, fmt.Errorf("read config %s: %w", s.path, err)
	}
	doc := Parse(data)
	snap, err := Snapshot(doc)
	if err != nil {
		return domain.ConfigSnapshot{}, nil, err
	}
	return snap, doc, nil
}

// Snapshot extracts the gating values from doc, falling back to defaults per key.
func Snapshot(doc *Document) (domain.ConfigSnapshot, error) {
	snap := domain.DefaultConfigSnapshot.Clone()

	if v, ok := doc.Get(KeyThreshold); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return snap, fmt.Errorf("parse %s=%q: %w", KeyThreshold, v, err)
		}
		snap.Threshold = n
	}
	if v, ok := doc.Get(KeyRegimeFloor); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return snap, fmt.Errorf("parse %s=%q: %w", KeyRegimeFloor, v, err)
		}
		snap.RegimeFloor = n
	}
	if v, ok := doc.Get(KeyMinConfidence); ok {
		c, err := domain.ParseConfidence(strings.ToUpper(v))
		if err != nil {
			return snap, fmt.Errorf("parse %s: %w", KeyMinConfidence, err)
		}
		snap.MinConfidence = c
	}

	for _, k := range doc.Keys() {
		if !strings.HasPrefix(k, WeightPrefix) {
			continue
		}
		v, _ := doc.Get(k)
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return snap, fmt.Errorf("parse %s=%q: %w", k, v, err)
		}
		if snap.Weights == nil {
			snap.Weights = make(map[string]float64)
		}
		snap.Weights[strings.ToLower(strings.TrimPrefix(k, WeightPrefix))] = f
	}
	return snap, nil
}

// Changes returns the key/value pairs that differ between before and after.
func Changes(before, after domain.ConfigSnapshot) map[string]string {
	out := make(map[string]string)
	if before.Threshold != after.Threshold {
		out[KeyThreshold] = strconv.Itoa(after.Threshold)
	}
	if before.RegimeFloor != after.RegimeFloor {
		out[KeyRegimeFloor] = strconv.Itoa(after.RegimeFloor)
	}
	if before.MinConfidence != after.MinConfidence {
		out[KeyMinConfidence] = after.MinConfidence.String()
	}
	for rule, w := range after.Weights {
		if prev, ok := before.Weights[rule]; !ok || prev != w {
			out[WeightKey(rule)] = strconv.FormatFloat(w, 'f', -1, 64)
		}
	}
	return out
}

// Apply writes changes to the file. Every key is checked against the
// allow-list before anything is touched. The current file, if any, is copied
// to a timestamped backup first; the new content then replaces the file
// atomically. Returns the backup path ("" when there was no prior file).
// I/O failures are returned as *domain.ConfigWriteError with the prior file intact.
func (s *Store) Apply(changes map[string]string, now time.Time) (string, error) {
	keys := make([]string, 0, len(changes))
	for k := range changes {
		if !s.allow.Allows(k) {
			return "", fmt.Errorf("%w: %s", ErrKeyNotAllowed, k)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	current, err := os.ReadFile(s.path)
	existed := err == nil
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", &domain.ConfigWriteError{Path: s.path, Err: err}
	}

	doc := Parse(current)
	for _, k := range keys {
		doc.set(k, changes[k])
	}

	backup := ""
	if existed {
		backup = backupPath(s.path, now)
		if err := atomicfile.WriteFile(backup, current, 0o600); err != nil {
			return "", &domain.ConfigWriteError{Path: backup, Err: err}
		}
	}

	if err := atomicfile.WriteFile(s.path, doc.Bytes(), 0o644); err != nil {
		return backup, &domain.ConfigWriteError{Path: s.path, Err: err}
	}
	return backup, nil
}

// backupPath returns the first backup name not already taken by an earlier
// backup. Anything other than a regular file at a candidate name is returned
// as is so the write surfaces it.
func backupPath(path string, now time.Time) string {
	base := path + ".bak." + now.UTC().Format(BackupTimeFormat)
	name := base
	for n := 1; ; n++ {
		info, err := os.Lstat(name)
		if err != nil || !info.Mode().IsRegular() {
			return name
		}
		name = base + "-" + strconv.Itoa(n)
	}
}
