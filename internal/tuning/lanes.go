package tuning

import (
	"sort"

	"alert-tuning-lab/internal/domain"
	"alert-tuning-lab/internal/stats"
)

// LaneStat is the primary-horizon scorecard of one detection lane.
type LaneStat struct {
	Lane       string
	SampleSize int
	WinRate    float64 // percent
	AvgReturn  float64 // percent
}

// laneStats groups resolved outcomes by lane. Records without a lane are
// reported under "unknown". Result is ordered by lane name.
func laneStats(outcomes []*domain.OutcomeRecord, h domain.Horizon) []LaneStat {
	byLane := make(map[string][]float64)
	for _, o := range outcomes {
		ret, ok := o.Return(h)
		if !ok {
			continue
		}
		lane := o.Lane
		if lane == "" {
			lane = "unknown"
		}
		byLane[lane] = append(byLane[lane], ret)
	}

	out := make([]LaneStat, 0, len(byLane))
	for lane, rets := range byLane {
		out = append(out, LaneStat{
			Lane:       lane,
			SampleSize: len(rets),
			WinRate:    stats.WinRate(rets),
			AvgReturn:  stats.Mean(rets),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Lane < out[j].Lane })
	return out
}
