package domain

import (
	"fmt"
	"time"
)

// Phase is the market-cycle classification.
type Phase string

const (
	PhaseBear       Phase = "BEAR"
	PhaseTransition Phase = "TRANSITION"
	PhaseBull       Phase = "BULL"
)

// Phases lists all phases.
var Phases = []Phase{PhaseBear, PhaseTransition, PhaseBull}

// String returns the string representation of Phase.
func (p Phase) String() string {
	return string(p)
}

// IsValid checks if the phase is a valid value.
func (p Phase) IsValid() bool {
	return p == PhaseBear || p == PhaseTransition || p == PhaseBull
}

// ParsePhase parses BEAR, TRANSITION or BULL.
func ParsePhase(s string) (Phase, error) {
	p := Phase(s)
	if !p.IsValid() {
		return "", fmt.Errorf("invalid phase %q", s)
	}
	return p, nil
}

// CyclePlaybook is the exit-parameter set for one market-cycle phase.
// Corresponds to the cycle_playbooks table.
type CyclePlaybook struct {
	Phase Phase

	// Exit parameters
	StopLossPct    float64
	TP1Pct         float64
	TP2Pct         float64
	TrailingPct    float64
	MaxHoldHours   int
	ThresholdDelta int
	SizeMultiplier float64

	// Observed statistics
	WinRate    float64 // percent
	AvgReturn  float64 // percent
	SampleSize int

	// Learned is true once exit parameters come from observed returns
	// rather than the hand-set priors.
	Learned     bool
	LastUpdated time.Time
}

// DefaultPlaybooks are the hand-set priors used until a phase crosses
// the learning floor.
func DefaultPlaybooks() map[Phase]CyclePlaybook {
	return map[Phase]CyclePlaybook{
		PhaseBear: {
			Phase:          PhaseBear,
			StopLossPct:    4,
			TP1Pct:         4,
			TP2Pct:         8,
			TrailingPct:    2,
			MaxHoldHours:   12,
			ThresholdDelta: 5,
			SizeMultiplier: 0.5,
		},
		PhaseTransition: {
			Phase:          PhaseTransition,
			StopLossPct:    5,
			TP1Pct:         6,
			TP2Pct:         12,
			TrailingPct:    3,
			MaxHoldHours:   24,
			ThresholdDelta: 0,
			SizeMultiplier: 0.8,
		},
		PhaseBull: {
			Phase:          PhaseBull,
			StopLossPct:    6,
			TP1Pct:         8,
			TP2Pct:         18,
			TrailingPct:    4,
			MaxHoldHours:   48,
			ThresholdDelta: -3,
			SizeMultiplier: 1.0,
		},
	}
}
