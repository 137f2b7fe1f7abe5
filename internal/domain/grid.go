package domain

import "time"

// GridResult is one evaluated optimizer combination.
// Corresponds to the optimizer_grid_results analytics table.
type GridResult struct {
	RunID         string
	Threshold     int
	RegimeFloor   int
	MinConfidence Confidence

	SampleSize int
	AvgReturn  float64 // percent
	WinRate    float64 // percent
	Drawdown   float64 // percent, subset-local compounding proxy
	Objective  float64

	// Skipped is true when SampleSize fell below the per-combo floor.
	Skipped   bool
	Selected  bool
	CreatedAt time.Time
}
