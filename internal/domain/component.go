package domain

import (
	"fmt"
	"time"
)

// Direction is the sign of a proposed weight change.
type Direction int

const (
	DirectionNeutral Direction = iota
	DirectionBoost
	DirectionReduce
)

// String returns the external string form of the direction.
func (d Direction) String() string {
	switch d {
	case DirectionNeutral:
		return "NEUTRAL"
	case DirectionBoost:
		return "BOOST"
	case DirectionReduce:
		return "REDUCE"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

// ParseDirection is the inverse of String.
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "NEUTRAL":
		return DirectionNeutral, nil
	case "BOOST":
		return DirectionBoost, nil
	case "REDUCE":
		return DirectionReduce, nil
	default:
		return 0, fmt.Errorf("invalid direction %q", s)
	}
}

// ScoreComponentStats tracks one scoring rule's correlation with outcomes
// and the debounce state of its weight proposal.
// Corresponds to the score_component_stats table.
type ScoreComponentStats struct {
	Component             string
	Correlation           float64
	SampleSize            int
	RecommendedMultiplier float64
	Direction             Direction
	ConsistencyWeeks      int

	// CountedAt is when ConsistencyWeeks last advanced; zero if never.
	// The counter moves at most once per ISO week.
	CountedAt time.Time

	// LiveMultiplier is the last multiplier promoted to live weights; 0 if never.
	LiveMultiplier float64
	UpdatedAt      time.Time
}
