// Package reporting renders a tuning run as a Markdown report and the
// optimizer grid as CSV for offline review.
package reporting

import (
	"sort"
	"time"

	"alert-tuning-lab/internal/domain"
	"alert-tuning-lab/internal/gate"
	"alert-tuning-lab/internal/tuning"
)

// Report is the reviewable view of one tuning run.
type Report struct {
	RunID       string
	GeneratedAt time.Time
	Outcomes    int
	Lanes       []tuning.LaneStat

	Decision *gate.Decision

	// TopCombos are the best evaluated combos, highest objective first.
	TopCombos []domain.GridResult
	Evaluated int
	Skipped   int

	RiskMode  string
	Streak    int
	Phase     domain.Phase
	Playbooks []domain.CyclePlaybook

	Attribution []domain.ScoreComponentStats
	Promoted    map[string]float64

	LearnerErrors []string
}

// FromRun builds a report from a run result, keeping the top n combos.
func FromRun(res *tuning.RunResult, n int, now time.Time) *Report {
	r := &Report{
		RunID:         res.RunID,
		GeneratedAt:   now.UTC(),
		Outcomes:      res.Outcomes,
		Lanes:         res.Lanes,
		Decision:      res.Decision,
		Phase:         res.Phase,
		Playbooks:     res.Playbooks,
		LearnerErrors: res.Errors,
	}
	if res.Optimizer != nil {
		r.TopCombos = TopCombos(res.Optimizer.Results, n)
		r.Evaluated = res.Optimizer.Evaluated
		r.Skipped = res.Optimizer.Skipped
	}
	if res.Risk != nil {
		r.RiskMode = res.Risk.Mode.String()
		r.Streak = res.Risk.Streak
	}
	if res.Attribution != nil {
		r.Attribution = res.Attribution.Stats
		r.Promoted = res.Attribution.Promoted
	}
	return r
}

// TopCombos returns up to n non-skipped results ordered by objective, ties
// in enumeration order.
func TopCombos(results []domain.GridResult, n int) []domain.GridResult {
	var out []domain.GridResult
	for _, g := range results {
		if !g.Skipped {
			out = append(out, g)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Objective > out[j].Objective
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}
