package gate

import (
	"fmt"
	"sort"
	"strings"

	"alert-tuning-lab/internal/domain"
)

// RenderSummary renders a run's decision as plain text for the notifier.
func RenderSummary(in Input, d *Decision) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Run: %s\n", in.RunID))
	sb.WriteString(fmt.Sprintf("Action: %s\n", d.Action))

	if len(d.Checks) > 0 {
		sb.WriteString("\nChecks:\n")
		for _, c := range d.Checks {
			status := "PASS"
			if !c.Pass {
				status = "FAIL"
			}
			sb.WriteString(fmt.Sprintf("- %s %s (%s, need %s)\n", status, c.Name, c.Actual, c.Threshold))
		}
	}

	sb.WriteString("\nConfig:\n")
	sb.WriteString(configLine("threshold", fmt.Sprint(d.Before.Threshold), fmt.Sprint(d.After.Threshold)))
	sb.WriteString(configLine("regime_floor", fmt.Sprint(d.Before.RegimeFloor), fmt.Sprint(d.After.RegimeFloor)))
	sb.WriteString(configLine("min_confidence", d.Before.MinConfidence.String(), d.After.MinConfidence.String()))
	for _, rule := range weightRules(d.Before, d.After) {
		sb.WriteString(configLine("weight."+rule, weightStr(d.Before, rule), weightStr(d.After, rule)))
	}

	if d.Err != nil {
		sb.WriteString(fmt.Sprintf("\nError: %v\n", d.Err))
	}

	if len(in.Warnings) > 0 {
		sb.WriteString("\nWarnings:\n")
		for _, w := range in.Warnings {
			sb.WriteString("- " + w + "\n")
		}
	}
	if len(d.Violations) > 0 {
		sb.WriteString("\nClamped:\n")
		for _, v := range d.Violations {
			sb.WriteString("- " + v.Error() + "\n")
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func configLine(name, before, after string) string {
	if before == after {
		return fmt.Sprintf("- %s: %s\n", name, after)
	}
	return fmt.Sprintf("- %s: %s -> %s\n", name, before, after)
}

func weightRules(before, after domain.ConfigSnapshot) []string {
	set := make(map[string]struct{})
	for k := range before.Weights {
		set[k] = struct{}{}
	}
	for k := range after.Weights {
		set[k] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func weightStr(s domain.ConfigSnapshot, rule string) string {
	w, ok := s.Weights[rule]
	if !ok {
		return "1"
	}
	return fmt.Sprintf("%g", w)
}
