package gate

import (
	"alert-tuning-lab/internal/domain"
)

// Check is one row of the gate checklist.
type Check struct {
	Name      string
	Threshold string
	Actual    string
	Pass      bool
}

// Proposal is what the learners recommend for live config.
type Proposal struct {
	// HasGating is false when the optimizer produced no recommendation.
	HasGating     bool
	Threshold     int
	RegimeFloor   int
	MinConfidence domain.Confidence

	// Weights are promoted scoring-rule multipliers keyed by rule name.
	Weights map[string]float64
}

// Input is everything one tuning run hands to the gate.
type Input struct {
	RunID string

	// Sample counts for the floors.
	ScanRuns        int
	PrimaryOutcomes int

	// InsufficientData is set when the optimizer found no combo above its
	// per-combo floor. The run is skipped like a failed floor.
	InsufficientData bool

	Proposal Proposal

	// Metrics and Reasons are carried into the audit entry as-is.
	Metrics map[string]float64
	Reasons []string

	// Warnings are reasons that raise the notification level,
	// e.g. a risk mode transition or a learner failure.
	Warnings []string
}

// Decision is the gate's verdict for one run.
type Decision struct {
	Action domain.Action
	Before domain.ConfigSnapshot
	After  domain.ConfigSnapshot
	Checks []Check

	// Violations lists every recommendation that had to be clamped.
	Violations []*domain.BoundsViolation

	// Changes are the KEY=VALUE writes (for APPLIED and DRY_RUN).
	Changes map[string]string

	// Backup is the backup file written before an APPLIED write.
	Backup string
	Err    error
}
