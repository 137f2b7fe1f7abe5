package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Action is the closed set of tuning-run outcomes recorded in the audit log.
type Action int

const (
	ActionApplied Action = iota + 1
	ActionDryRun
	ActionSkippedNoChange
	ActionSkippedInsufficientData
	ActionFailed
)

// String returns the external string form of the action.
func (a Action) String() string {
	switch a {
	case ActionApplied:
		return "APPLIED"
	case ActionDryRun:
		return "DRY_RUN"
	case ActionSkippedNoChange:
		return "SKIPPED_NO_CHANGE"
	case ActionSkippedInsufficientData:
		return "SKIPPED_INSUFFICIENT_DATA"
	case ActionFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}

// IsValid reports whether a is one of the declared actions.
func (a Action) IsValid() bool {
	return a >= ActionApplied && a <= ActionFailed
}

// Wrote reports whether the action changed the live config.
func (a Action) Wrote() bool {
	return a == ActionApplied
}

// ParseAction is the inverse of String.
func ParseAction(s string) (Action, error) {
	for a := ActionApplied; a <= ActionFailed; a++ {
		if a.String() == s {
			return a, nil
		}
	}
	return 0, fmt.Errorf("invalid action %q", s)
}

// MarshalJSON renders the action as its external string.
func (a Action) MarshalJSON() ([]byte, error) {
	if !a.IsValid() {
		return nil, fmt.Errorf("marshal action: %s", a)
	}
	return json.Marshal(a.String())
}

// UnmarshalJSON parses the external string.
func (a *Action) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseAction(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// AuditLogEntry is one append-only record per tuning run. Never mutated.
type AuditLogEntry struct {
	RunID     string             `json:"run_id"`
	Timestamp time.Time          `json:"timestamp"`
	Action    Action             `json:"action"`
	DryRun    bool               `json:"dry_run"`
	Before    ConfigSnapshot     `json:"before"`
	After     ConfigSnapshot     `json:"after"`
	Metrics   map[string]float64 `json:"metrics,omitempty"`
	Reasons   []string           `json:"reasons,omitempty"`
	Error     string             `json:"error,omitempty"`
}
