package domain

import (
	"fmt"
	"time"
)

// RiskMode is the streak-driven governor state.
type RiskMode int

const (
	RiskModeNormal RiskMode = iota
	RiskModeCautious
	RiskModeDefensive
)

// String returns the external string form of the mode.
func (m RiskMode) String() string {
	switch m {
	case RiskModeNormal:
		return "NORMAL"
	case RiskModeCautious:
		return "CAUTIOUS"
	case RiskModeDefensive:
		return "DEFENSIVE"
	default:
		return fmt.Sprintf("RiskMode(%d)", int(m))
	}
}

// ParseRiskMode is the inverse of String.
func ParseRiskMode(s string) (RiskMode, error) {
	switch s {
	case "NORMAL":
		return RiskModeNormal, nil
	case "CAUTIOUS":
		return RiskModeCautious, nil
	case "DEFENSIVE":
		return RiskModeDefensive, nil
	default:
		return 0, fmt.Errorf("invalid risk mode %q", s)
	}
}

// RiskAdjustment is the gating overlay a mode applies on top of live config.
type RiskAdjustment struct {
	ThresholdDelta int
	SizeMultiplier float64
	MinConfidence  Confidence
}

// Adjustment returns the overlay for m.
func (m RiskMode) Adjustment() RiskAdjustment {
	switch m {
	case RiskModeCautious:
		return RiskAdjustment{ThresholdDelta: 5, SizeMultiplier: 0.5, MinConfidence: ConfidenceB}
	case RiskModeDefensive:
		return RiskAdjustment{ThresholdDelta: 10, SizeMultiplier: 0.3, MinConfidence: ConfidenceA}
	default:
		return RiskAdjustment{ThresholdDelta: 0, SizeMultiplier: 1.0, MinConfidence: ConfidenceC}
	}
}

// RiskState is the persisted governor state. It replaces process-global
// "last mode" variables so restarts do not re-notify.
type RiskState struct {
	Mode             RiskMode
	Streak           int
	PausedUntil      *time.Time
	LastNotifiedMode RiskMode
	UpdatedAt        time.Time
}

// Paused reports whether the pause is still in force at now.
func (s *RiskState) Paused(now time.Time) bool {
	return s.PausedUntil != nil && now.Before(*s.PausedUntil)
}
