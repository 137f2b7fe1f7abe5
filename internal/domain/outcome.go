package domain

import (
	"fmt"
	"time"
)

// Confidence is the coarse A/B/C grade derived from the numeric score.
// A is the strictest tier.
type Confidence string

const (
	ConfidenceA Confidence = "A"
	ConfidenceB Confidence = "B"
	ConfidenceC Confidence = "C"
)

// String returns the string representation of Confidence.
func (c Confidence) String() string {
	return string(c)
}

// IsValid checks if the confidence is one of A, B or C.
func (c Confidence) IsValid() bool {
	return c == ConfidenceA || c == ConfidenceB || c == ConfidenceC
}

// Rank orders tiers so that a higher rank is stricter: C=1, B=2, A=3.
// Invalid values rank 0.
func (c Confidence) Rank() int {
	switch c {
	case ConfidenceA:
		return 3
	case ConfidenceB:
		return 2
	case ConfidenceC:
		return 1
	default:
		return 0
	}
}

// Meets reports whether c is at least as strict as min.
// A meets every tier, C only meets C.
func (c Confidence) Meets(min Confidence) bool {
	return c.IsValid() && c.Rank() >= min.Rank()
}

// ParseConfidence parses "A", "B" or "C".
func ParseConfidence(s string) (Confidence, error) {
	c := Confidence(s)
	if !c.IsValid() {
		return "", fmt.Errorf("invalid confidence %q", s)
	}
	return c, nil
}

// Horizon is a fixed evaluation delay after alert time.
type Horizon string

const (
	Horizon1h  Horizon = "1h"
	Horizon4h  Horizon = "4h"
	Horizon24h Horizon = "24h"
)

// Horizons lists all horizons in ascending order.
var Horizons = []Horizon{Horizon1h, Horizon4h, Horizon24h}

// Duration returns the horizon length.
func (h Horizon) Duration() time.Duration {
	switch h {
	case Horizon1h:
		return time.Hour
	case Horizon4h:
		return 4 * time.Hour
	case Horizon24h:
		return 24 * time.Hour
	default:
		return 0
	}
}

// IsValid checks if the horizon is one of 1h, 4h, 24h.
func (h Horizon) IsValid() bool {
	return h.Duration() > 0
}

// ParseHorizon parses "1h", "4h" or "24h".
func ParseHorizon(s string) (Horizon, error) {
	h := Horizon(s)
	if !h.IsValid() {
		return "", fmt.Errorf("invalid horizon %q", s)
	}
	return h, nil
}

// OutcomeStatus is the lifecycle state of an OutcomeRecord.
type OutcomeStatus string

const (
	OutcomeStatusPending  OutcomeStatus = "PENDING"
	OutcomeStatusComplete OutcomeStatus = "COMPLETE"
	OutcomeStatusError    OutcomeStatus = "ERROR"
)

// HorizonResult holds the realized return at one horizon.
// Both fields are nil until the horizon resolves and are written once.
type HorizonResult struct {
	EvaluatedAt *time.Time
	ReturnPct   *float64
}

// IsSet reports whether the horizon has been resolved.
func (r HorizonResult) IsSet() bool {
	return r.ReturnPct != nil
}

// OutcomeRecord is one alert and its multi-horizon realized returns.
// Corresponds to the alert_outcomes table.
type OutcomeRecord struct {
	ID          string
	CreatedAt   time.Time // alert time, UTC
	Symbol      string
	EntryPrice  float64
	Score       float64 // 0-100
	RegimeScore float64 // 0-100
	RegimeLabel string
	Confidence  Confidence
	Lane        string // detection pathway
	Source      string
	CyclePhase  Phase

	// Components are per-rule score contributions keyed by rule name.
	Components map[string]float64

	H1  HorizonResult
	H4  HorizonResult
	H24 HorizonResult

	Status      OutcomeStatus
	ErrorReason string
}

// Horizon returns the result for h.
func (r *OutcomeRecord) Horizon(h Horizon) HorizonResult {
	switch h {
	case Horizon1h:
		return r.H1
	case Horizon4h:
		return r.H4
	case Horizon24h:
		return r.H24
	default:
		return HorizonResult{}
	}
}

// SetHorizon writes the result for h if it is still unset.
// Returns false when the horizon was already resolved.
func (r *OutcomeRecord) SetHorizon(h Horizon, at time.Time, returnPct float64) bool {
	if r.Horizon(h).IsSet() {
		return false
	}
	at = at.UTC()
	ret := returnPct
	res := HorizonResult{EvaluatedAt: &at, ReturnPct: &ret}
	switch h {
	case Horizon1h:
		r.H1 = res
	case Horizon4h:
		r.H4 = res
	case Horizon24h:
		r.H24 = res
	default:
		return false
	}
	return true
}

// Return returns the realized return at h and whether it is set.
func (r *OutcomeRecord) Return(h Horizon) (float64, bool) {
	res := r.Horizon(h)
	if res.ReturnPct == nil {
		return 0, false
	}
	return *res.ReturnPct, true
}

// AllHorizonsSet reports whether 1h, 4h and 24h are all resolved.
func (r *OutcomeRecord) AllHorizonsSet() bool {
	return r.H1.IsSet() && r.H4.IsSet() && r.H24.IsSet()
}

// DueHorizons returns unresolved horizons whose delay has elapsed at now.
func (r *OutcomeRecord) DueHorizons(now time.Time) []Horizon {
	age := now.Sub(r.CreatedAt)
	var due []Horizon
	for _, h := range Horizons {
		if !r.Horizon(h).IsSet() && age >= h.Duration() {
			due = append(due, h)
		}
	}
	return due
}

// Clone returns a deep copy of the record.
func (r *OutcomeRecord) Clone() *OutcomeRecord {
	c := *r
	if r.Components != nil {
		c.Components = make(map[string]float64, len(r.Components))
		for k, v := range r.Components {
			c.Components[k] = v
		}
	}
	c.H1 = cloneHorizon(r.H1)
	c.H4 = cloneHorizon(r.H4)
	c.H24 = cloneHorizon(r.H24)
	return &c
}

func cloneHorizon(h HorizonResult) HorizonResult {
	var out HorizonResult
	if h.EvaluatedAt != nil {
		t := *h.EvaluatedAt
		out.EvaluatedAt = &t
	}
	if h.ReturnPct != nil {
		v := *h.ReturnPct
		out.ReturnPct = &v
	}
	return out
}

// ScanRun is a scanner heartbeat, counted for the raw-scan sample floor.
type ScanRun struct {
	RanAt time.Time
}
