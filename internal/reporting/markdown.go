package reporting

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// RenderMarkdown renders report as Markdown string.
func RenderMarkdown(r *Report) string {
	var sb strings.Builder

	// Header
	sb.WriteString("# Tuning Run Report\n\n")
	sb.WriteString(fmt.Sprintf("Run: %s\n\n", r.RunID))
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", r.GeneratedAt.Format(time.RFC3339)))
	sb.WriteString(fmt.Sprintf("Outcomes in window: %d\n\n", r.Outcomes))

	// Gate
	sb.WriteString("## Safety Gate\n\n")
	if d := r.Decision; d != nil {
		sb.WriteString(fmt.Sprintf("**Action: %s**\n\n", d.Action))
		if len(d.Checks) > 0 {
			sb.WriteString("| Check | Threshold | Actual | Status |\n")
			sb.WriteString("|-------|-----------|--------|--------|\n")
			for _, c := range d.Checks {
				status := "FAIL"
				if c.Pass {
					status = "PASS"
				}
				sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s |\n", c.Name, c.Threshold, c.Actual, status))
			}
			sb.WriteString("\n")
		}

		sb.WriteString("| Field | Before | After |\n")
		sb.WriteString("|-------|--------|-------|\n")
		sb.WriteString(fmt.Sprintf("| threshold | %d | %d |\n", d.Before.Threshold, d.After.Threshold))
		sb.WriteString(fmt.Sprintf("| regime_floor | %d | %d |\n", d.Before.RegimeFloor, d.After.RegimeFloor))
		sb.WriteString(fmt.Sprintf("| min_confidence | %s | %s |\n", d.Before.MinConfidence, d.After.MinConfidence))
		sb.WriteString("\n")

		if len(d.Violations) > 0 {
			sb.WriteString("### Clamped\n\n")
			for _, v := range d.Violations {
				sb.WriteString(fmt.Sprintf("- %s\n", v.Error()))
			}
			sb.WriteString("\n")
		}
		if d.Err != nil {
			sb.WriteString(fmt.Sprintf("Error: %v\n\n", d.Err))
		}
	} else {
		sb.WriteString("No decision recorded.\n\n")
	}

	// Optimizer
	sb.WriteString("## Optimizer\n\n")
	sb.WriteString(fmt.Sprintf("Evaluated: %d | Skipped: %d\n\n", r.Evaluated, r.Skipped))
	if len(r.TopCombos) > 0 {
		sb.WriteString("| Threshold | Floor | Conf | N | Avg% | Win% | DD% | Objective |\n")
		sb.WriteString("|-----------|-------|------|---|------|------|-----|-----------|\n")
		for _, g := range r.TopCombos {
			sb.WriteString(fmt.Sprintf("| %d | %d | %s | %d | %.2f | %.1f | %.2f | %.3f |\n",
				g.Threshold, g.RegimeFloor, g.MinConfidence, g.SampleSize, g.AvgReturn, g.WinRate, g.Drawdown, g.Objective))
		}
	} else {
		sb.WriteString("No combo met the sample floor.\n")
	}
	sb.WriteString("\n")

	// Risk and cycle
	sb.WriteString("## Risk and Cycle\n\n")
	if r.RiskMode != "" {
		sb.WriteString(fmt.Sprintf("Risk mode: %s (loss streak %d)\n\n", r.RiskMode, r.Streak))
	}
	if r.Phase != "" {
		sb.WriteString(fmt.Sprintf("Cycle phase: %s\n\n", r.Phase))
	}
	if len(r.Playbooks) > 0 {
		sb.WriteString("| Phase | SL% | TP1% | TP2% | Win% | N | Learned |\n")
		sb.WriteString("|-------|-----|------|------|------|---|---------|\n")
		for _, p := range r.Playbooks {
			sb.WriteString(fmt.Sprintf("| %s | %.2f | %.2f | %.2f | %.1f | %d | %t |\n",
				p.Phase, p.StopLossPct, p.TP1Pct, p.TP2Pct, p.WinRate, p.SampleSize, p.Learned))
		}
		sb.WriteString("\n")
	}

	if len(r.Lanes) > 0 {
		sb.WriteString("## Lanes\n\n")
		sb.WriteString("| Lane | N | Win% | Avg% |\n")
		sb.WriteString("|------|---|------|------|\n")
		for _, l := range r.Lanes {
			sb.WriteString(fmt.Sprintf("| %s | %d | %.1f | %.2f |\n", l.Lane, l.SampleSize, l.WinRate, l.AvgReturn))
		}
		sb.WriteString("\n")
	}

	// Attribution
	if len(r.Attribution) > 0 {
		sb.WriteString("## Score Components\n\n")
		sb.WriteString("| Component | r | N | Multiplier | Direction | Runs | Promoted |\n")
		sb.WriteString("|-----------|---|---|------------|-----------|------|----------|\n")
		for _, s := range r.Attribution {
			_, promoted := r.Promoted[s.Component]
			sb.WriteString(fmt.Sprintf("| %s | %.4f | %d | %.3f | %s | %d | %t |\n",
				s.Component, s.Correlation, s.SampleSize, s.RecommendedMultiplier, s.Direction, s.ConsistencyWeeks, promoted))
		}
		sb.WriteString("\n")
	}

	if len(r.LearnerErrors) > 0 {
		errs := append([]string(nil), r.LearnerErrors...)
		sort.Strings(errs)
		sb.WriteString("## Learner Errors\n\n")
		for _, e := range errs {
			sb.WriteString(fmt.Sprintf("- %s\n", e))
		}
		sb.WriteString("\n")
	}

	return sb.String()
}
