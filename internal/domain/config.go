package domain

// ConfigSnapshot holds the live gating parameters.
// Mutated only by the safety gate, always preceded by a backup.
type ConfigSnapshot struct {
	Threshold     int        `json:"threshold"`
	RegimeFloor   int        `json:"regime_floor"`
	MinConfidence Confidence `json:"min_confidence"`

	// Weights are live scoring-rule multipliers keyed by rule name.
	Weights map[string]float64 `json:"weights,omitempty"`
}

// Clone returns a deep copy of the snapshot.
func (c ConfigSnapshot) Clone() ConfigSnapshot {
	out := c
	if c.Weights != nil {
		out.Weights = make(map[string]float64, len(c.Weights))
		for k, v := range c.Weights {
			out.Weights[k] = v
		}
	}
	return out
}

// Hard bounds for writable gating fields.
const (
	ThresholdMin   = 55
	ThresholdMax   = 95
	RegimeFloorMin = 35
	RegimeFloorMax = 70
	WeightMin      = 0.70
	WeightMax      = 1.30
)

// DefaultConfigSnapshot is used when the config file lacks a gating key.
var DefaultConfigSnapshot = ConfigSnapshot{
	Threshold:     70,
	RegimeFloor:   50,
	MinConfidence: ConfidenceB,
}
