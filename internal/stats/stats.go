// Package stats holds the small statistics shared by the learners:
// mean, percentile, median, Pearson correlation and drawdown.
package stats

import (
	"math"
	"sort"
)

// Mean calculates the arithmetic mean. Returns 0 for an empty slice.
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// WinRate returns the percentage (0-100) of values strictly greater than zero.
func WinRate(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	wins := 0
	for _, x := range xs {
		if x > 0 {
			wins++
		}
	}
	return float64(wins) / float64(len(xs)) * 100
}

// Percentile uses linear interpolation between closest ranks.
// p is a fraction (0.60 = 60th percentile). xs need not be sorted.
func Percentile(xs []float64, p float64) float64 {
	n := len(xs)
	if n == 0 {
		return 0
	}
	sorted := make([]float64, n)
	copy(sorted, xs)
	sort.Float64s(sorted)

	if n == 1 || p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[n-1]
	}

	idx := p * float64(n-1)
	lower := int(idx)
	upper := lower + 1
	if upper >= n {
		return sorted[n-1]
	}
	frac := idx - float64(lower)
	return sorted[lower] + frac*(sorted[upper]-sorted[lower])
}

// Median is Percentile(xs, 0.5).
func Median(xs []float64) float64 {
	return Percentile(xs, 0.5)
}

// Pearson returns the correlation coefficient of xs and ys.
// Returns 0 when lengths differ, n < 2, or either series has zero variance.
func Pearson(xs, ys []float64) float64 {
	n := len(xs)
	if n != len(ys) || n < 2 {
		return 0
	}
	mx, my := Mean(xs), Mean(ys)

	var cov, vx, vy float64
	for i := 0; i < n; i++ {
		dx := xs[i] - mx
		dy := ys[i] - my
		cov += dx * dy
		vx += dx * dx
		vy += dy * dy
	}
	if vx == 0 || vy == 0 {
		return 0
	}
	r := cov / math.Sqrt(vx*vy)
	// guard rounding just outside [-1, 1]
	return math.Max(-1, math.Min(1, r))
}

// CompoundDrawdown is the worst peak-to-trough decline, in percent, of the
// equity curve Π(1 + r/100) over returns in chronological order.
// It is a proxy: each subset is compounded on its own, not a portfolio simulation.
func CompoundDrawdown(returnsPct []float64) float64 {
	equity := 1.0
	peak := 1.0
	maxDD := 0.0

	for _, r := range returnsPct {
		equity *= 1 + r/100
		if equity > peak {
			peak = equity
		}
		if peak > 0 {
			if dd := (peak - equity) / peak * 100; dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

// TrailingLosses counts consecutive values < 0 from the end of xs backwards.
func TrailingLosses(xs []float64) int {
	n := 0
	for i := len(xs) - 1; i >= 0; i-- {
		if xs[i] >= 0 {
			break
		}
		n++
	}
	return n
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ClampInt bounds v to [lo, hi].
func ClampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
