// Package scoring turns alert features into a 0-100 score through a table of
// named rules. Each rule's contribution is reported by name so attribution can
// correlate it with outcomes and the gate can tune its weight.
package scoring

import (
	"math"
	"sort"
	"strings"

	"alert-tuning-lab/internal/domain"
	"alert-tuning-lab/internal/stats"
)

// Base is the score before any rule fires.
const Base = 40.0

// Confidence tier cut-offs.
const (
	TierA = 85.0
	TierB = 70.0
)

// Features is what the scanner observed at alert time.
type Features struct {
	Return1h       float64 // percent
	Return24h      float64 // percent
	VolumeRatio    float64 // 24h volume / 7d average
	RSI14          float64
	RegimeScore    float64
	FundingRate    float64 // percent per 8h
	BreakoutDistPc float64 // percent above the prior range high; negative when below
	Keywords       []string
}

// HasKeyword reports whether any keyword contains sub, case-insensitively.
func (f Features) HasKeyword(sub string) bool {
	sub = strings.ToLower(sub)
	for _, k := range f.Keywords {
		if strings.Contains(strings.ToLower(k), sub) {
			return true
		}
	}
	return false
}

// Rule is one row of the scoring table.
type Rule struct {
	Name      string
	Condition func(Features) bool
	Points    float64
	MaxAbs    float64 // |points × weight| never exceeds this
}

// Contribution returns the rule's bounded contribution under weight.
func (r Rule) Contribution(weight float64) float64 {
	return stats.Clamp(r.Points*weight, -r.MaxAbs, r.MaxAbs)
}

// DefaultRules is the production table. Names are stable: they key the
// component breakdown, the attribution stats and the WEIGHT_<NAME> config keys.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "volume_spike", Points: 15, MaxAbs: 20, Condition: func(f Features) bool { return f.VolumeRatio >= 3 }},
		{Name: "momentum_1h", Points: 10, MaxAbs: 13, Condition: func(f Features) bool { return f.Return1h >= 2 }},
		{Name: "momentum_24h", Points: 8, MaxAbs: 10, Condition: func(f Features) bool { return f.Return24h >= 8 && f.Return24h < 25 }},
		{Name: "overextended", Points: -12, MaxAbs: 16, Condition: func(f Features) bool { return f.Return24h >= 25 }},
		{Name: "rsi_overbought", Points: -8, MaxAbs: 10, Condition: func(f Features) bool { return f.RSI14 >= 80 }},
		{Name: "rsi_reset", Points: 5, MaxAbs: 7, Condition: func(f Features) bool { return f.RSI14 >= 40 && f.RSI14 <= 60 }},
		{Name: "regime_tailwind", Points: 7, MaxAbs: 9, Condition: func(f Features) bool { return f.RegimeScore >= 60 }},
		{Name: "regime_headwind", Points: -10, MaxAbs: 13, Condition: func(f Features) bool { return f.RegimeScore < 40 }},
		{Name: "breakout", Points: 10, MaxAbs: 13, Condition: func(f Features) bool { return f.BreakoutDistPc >= 0 && f.BreakoutDistPc <= 2 }},
		{Name: "funding_crowded", Points: -6, MaxAbs: 8, Condition: func(f Features) bool { return f.FundingRate >= 0.05 }},
		{Name: "kw_listing", Points: 8, MaxAbs: 10, Condition: func(f Features) bool { return f.HasKeyword("listing") }},
		{Name: "kw_exploit", Points: -15, MaxAbs: 20, Condition: func(f Features) bool { return f.HasKeyword("hack") || f.HasKeyword("exploit") }},
	}
}

// Breakdown is a scored alert.
type Breakdown struct {
	Score      float64
	Confidence domain.Confidence
	// Components holds the contribution of every rule that fired.
	Components map[string]float64
}

// Table scores features against a rule set.
type Table struct {
	rules []Rule
}

// NewTable creates a table. Rule names must be unique.
func NewTable(rules []Rule) *Table {
	return &Table{rules: rules}
}

// Names returns the rule names in table order.
func (t *Table) Names() []string {
	out := make([]string, len(t.rules))
	for i, r := range t.rules {
		out[i] = r.Name
	}
	return out
}

// Score evaluates every rule. weights maps rule name to multiplier; a missing
// or non-positive weight counts as 1.
func (t *Table) Score(f Features, weights map[string]float64) Breakdown {
	b := Breakdown{Components: make(map[string]float64)}
	total := Base
	for _, r := range t.rules {
		if !r.Condition(f) {
			continue
		}
		w, ok := weights[r.Name]
		if !ok || !(w > 0) {
			w = 1
		}
		c := r.Contribution(w)
		b.Components[r.Name] = c
		total += c
	}
	b.Score = math.Round(stats.Clamp(total, 0, 100)*100) / 100
	b.Confidence = Tier(b.Score)
	return b
}

// Tier grades a score: >= 85 A, >= 70 B, else C.
func Tier(score float64) domain.Confidence {
	switch {
	case score >= TierA:
		return domain.ConfidenceA
	case score >= TierB:
		return domain.ConfidenceB
	default:
		return domain.ConfidenceC
	}
}

// SortedComponents returns component names ordered by |contribution|, largest first.
func SortedComponents(components map[string]float64) []string {
	names := make([]string, 0, len(components))
	for k := range components {
		names = append(names, k)
	}
	sort.Slice(names, func(i, j int) bool {
		ai, aj := math.Abs(components[names[i]]), math.Abs(components[names[j]])
		if ai != aj {
			return ai > aj
		}
		return names[i] < names[j]
	})
	return names
}
