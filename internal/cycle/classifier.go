// Package cycle classifies the market phase from recent regime scores and
// learns per-phase exit playbooks from realized outcomes.
package cycle

import (
	"alert-tuning-lab/internal/domain"
	"alert-tuning-lab/internal/stats"
)

// ClassifierConfig configures phase classification.
type ClassifierConfig struct {
	Window    int     // number of most recent scores considered
	MinPoints int     // below this, the phase is TRANSITION
	BearBelow float64 // median < BearBelow => BEAR
	BullAbove float64 // median > BullAbove => BULL
}

// DefaultClassifierConfig returns the standard thresholds.
func DefaultClassifierConfig() ClassifierConfig {
	return ClassifierConfig{Window: 14, MinPoints: 5, BearBelow: 42, BullAbove: 58}
}

// Classifier maps regime-score history to a phase. It holds no state.
type Classifier struct {
	cfg ClassifierConfig
}

// NewClassifier creates a classifier. Zero fields take the defaults.
func NewClassifier(cfg ClassifierConfig) *Classifier {
	def := DefaultClassifierConfig()
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.MinPoints <= 0 {
		cfg.MinPoints = def.MinPoints
	}
	if cfg.BearBelow == 0 && cfg.BullAbove == 0 {
		cfg.BearBelow, cfg.BullAbove = def.BearBelow, def.BullAbove
	}
	return &Classifier{cfg: cfg}
}

// Window returns how many recent scores Classify looks at.
func (c *Classifier) Window() int {
	return c.cfg.Window
}

// Classify returns the phase for scores, oldest first.
// Only the last Window scores count.
func (c *Classifier) Classify(scores []float64) domain.Phase {
	if len(scores) > c.cfg.Window {
		scores = scores[len(scores)-c.cfg.Window:]
	}
	if len(scores) < c.cfg.MinPoints {
		return domain.PhaseTransition
	}

	m := stats.Median(scores)
	switch {
	case m < c.cfg.BearBelow:
		return domain.PhaseBear
	case m > c.cfg.BullAbove:
		return domain.PhaseBull
	default:
		return domain.PhaseTransition
	}
}
