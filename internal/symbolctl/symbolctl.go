// Package symbolctl maintains per-symbol cooldown and blacklist gates derived
// from each symbol's recent realized returns.
package symbolctl

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"alert-tuning-lab/internal/domain"
	"alert-tuning-lab/internal/lock"
	"alert-tuning-lab/internal/observability"
	"alert-tuning-lab/internal/stats"
	"alert-tuning-lab/internal/storage"
)

// Config holds the gate rules.
type Config struct {
	ConsecutiveLosses   int // K: last K 4h returns all negative => cooldown
	Cooldown            time.Duration
	BlacklistMinSamples int     // minimum 30-day 24h samples
	BlacklistAvgFloor   float64 // 30-day avg 24h return at or below this => blacklist
	Blacklist           time.Duration
	RecentReturns       int // rolling window of 4h/24h returns
	AvgWindow           time.Duration
}

// DefaultConfig returns the standard rules.
func DefaultConfig() Config {
	return Config{
		ConsecutiveLosses:   3,
		Cooldown:            12 * time.Hour,
		BlacklistMinSamples: 10,
		BlacklistAvgFloor:   -8,
		Blacklist:           168 * time.Hour,
		RecentReturns:       20,
		AvgWindow:           30 * 24 * time.Hour,
	}
}

// Stats is the rolling per-symbol view the gates are decided on.
type Stats struct {
	Symbol    string
	Recent4h  []float64 // oldest first
	Recent24h []float64 // oldest first
	Avg24h    float64   // mean 24h return over AvgWindow
	Count24h  int       // samples behind Avg24h

	// Newest resolution times behind Recent4h and the Avg24h window.
	// Gates only re-arm on evidence resolved after the control was last written.
	Latest4hAt  time.Time
	Latest24hAt time.Time
}

// Controller recomputes and answers symbol gates.
type Controller struct {
	outcomes storage.OutcomeStore
	controls storage.SymbolControlStore
	locker   lock.Locker
	cfg      Config
	metrics  *observability.Metrics
	logger   zerolog.Logger
}

// New creates a Controller. A nil locker serializes in-process only; metrics may be nil.
func New(outcomes storage.OutcomeStore, controls storage.SymbolControlStore, locker lock.Locker, cfg Config, metrics *observability.Metrics, logger zerolog.Logger) *Controller {
	if locker == nil {
		locker = lock.NewKeyed()
	}
	return &Controller{
		outcomes: outcomes,
		controls: controls,
		locker:   locker,
		cfg:      cfg,
		metrics:  metrics,
		logger:   logger.With().Str("component", "symbol_control").Logger(),
	}
}

// ComputeStats loads the rolling returns for symbol as of now.
func (c *Controller) ComputeStats(ctx context.Context, symbol string, now time.Time) (Stats, error) {
	st := Stats{Symbol: symbol}

	var err error
	if st.Recent4h, st.Latest4hAt, err = c.recentReturns(ctx, symbol, domain.Horizon4h); err != nil {
		return st, err
	}
	if st.Recent24h, _, err = c.recentReturns(ctx, symbol, domain.Horizon24h); err != nil {
		return st, err
	}

	recs, err := c.outcomes.List(ctx, storage.OutcomeFilter{
		Symbol:   symbol,
		Since:    now.Add(-c.cfg.AvgWindow),
		Resolved: domain.Horizon24h,
	})
	if err != nil {
		return st, fmt.Errorf("list 30d outcomes %s: %w", symbol, err)
	}
	window := returnsAt(recs, domain.Horizon24h)
	st.Latest24hAt = latestResolved(recs, domain.Horizon24h)
	st.Avg24h = stats.Mean(window)
	st.Count24h = len(window)
	return st, nil
}

func (c *Controller) recentReturns(ctx context.Context, symbol string, h domain.Horizon) ([]float64, time.Time, error) {
	recs, err := c.outcomes.List(ctx, storage.OutcomeFilter{
		Symbol:      symbol,
		Resolved:    h,
		Limit:       c.cfg.RecentReturns,
		NewestFirst: true,
	})
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("list recent %s outcomes %s: %w", h, symbol, err)
	}
	out := returnsAt(recs, h)
	// newest first -> oldest first
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, latestResolved(recs, h), nil
}

func latestResolved(recs []*domain.OutcomeRecord, h domain.Horizon) time.Time {
	var latest time.Time
	for _, r := range recs {
		if at := r.Horizon(h).EvaluatedAt; at != nil && at.After(latest) {
			latest = *at
		}
	}
	return latest
}

func returnsAt(recs []*domain.OutcomeRecord, h domain.Horizon) []float64 {
	out := make([]float64, 0, len(recs))
	for _, r := range recs {
		if v, ok := r.Return(h); ok {
			out = append(out, v)
		}
	}
	return out
}

// Decide applies the gate rules to st. It returns the control to store and
// whether anything new triggered. Existing unexpired gates are never shortened.
// Once a control exists, a rule only fires again on returns resolved after
// existing.UpdatedAt, so a timed gate expires when no new outcomes arrive.
func Decide(cfg Config, st Stats, existing *domain.SymbolControl, now time.Time) (*domain.SymbolControl, bool) {
	ctl := &domain.SymbolControl{Symbol: st.Symbol}
	fresh := func(time.Time) bool { return true }
	if existing != nil {
		ctl = existing.Clone()
		fresh = func(at time.Time) bool { return at.After(existing.UpdatedAt) }
	}

	var reasons []string
	triggered := false

	k := cfg.ConsecutiveLosses
	if k > 0 && len(st.Recent4h) >= k && stats.TrailingLosses(st.Recent4h) >= k && fresh(st.Latest4hAt) {
		until := now.Add(cfg.Cooldown).UTC()
		if ctl.CooldownUntil == nil || until.After(*ctl.CooldownUntil) {
			ctl.CooldownUntil = &until
		}
		reasons = append(reasons, fmt.Sprintf("cooldown: last %d 4h returns negative", k))
		triggered = true
	}

	if st.Count24h >= cfg.BlacklistMinSamples && st.Avg24h <= cfg.BlacklistAvgFloor && fresh(st.Latest24hAt) {
		until := now.Add(cfg.Blacklist).UTC()
		if ctl.BlacklistUntil == nil || until.After(*ctl.BlacklistUntil) {
			ctl.BlacklistUntil = &until
		}
		reasons = append(reasons, fmt.Sprintf("blacklist: 30d avg 24h %.2f%% over %d", st.Avg24h, st.Count24h))
		triggered = true
	}

	if !triggered {
		return ctl, false
	}
	ctl.Reason = strings.Join(reasons, "; ")
	ctl.UpdatedAt = now.UTC()
	return ctl, true
}

// Recompute refreshes the gates for symbol. Recomputes of one symbol are
// serialized through the locker; distinct symbols may run concurrently.
// Returns the current control, or nil when the symbol has never been gated.
func (c *Controller) Recompute(ctx context.Context, symbol string, now time.Time) (*domain.SymbolControl, error) {
	unlock, err := c.locker.Lock(ctx, symbol)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := unlock(); err != nil {
			c.logger.Warn().Err(err).Str("symbol", symbol).Msg("release symbol lock")
		}
	}()

	st, err := c.ComputeStats(ctx, symbol, now)
	if err != nil {
		return nil, err
	}

	existing, err := c.controls.Get(ctx, symbol)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("get control %s: %w", symbol, err)
	}

	ctl, triggered := Decide(c.cfg, st, existing, now)
	if !triggered {
		return existing, nil
	}

	if err := c.controls.Upsert(ctx, ctl); err != nil {
		return nil, fmt.Errorf("upsert control %s: %w", symbol, err)
	}
	c.logger.Info().
		Str("symbol", symbol).
		Bool("cooldown", ctl.CooldownActive(now)).
		Bool("blacklist", ctl.BlacklistActive(now)).
		Str("reason", ctl.Reason).
		Msg("symbol gated")
	return ctl, nil
}

// Blocked reports whether symbol is gated at now.
func (c *Controller) Blocked(ctx context.Context, symbol string, now time.Time) (bool, *domain.SymbolControl, error) {
	ctl, err := c.controls.Get(ctx, symbol)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil, nil
	}
	if err != nil {
		return false, nil, fmt.Errorf("get control %s: %w", symbol, err)
	}
	return ctl.Blocked(now), ctl, nil
}

// Active lists controls with a gate in force at now.
func (c *Controller) Active(ctx context.Context, now time.Time) ([]*domain.SymbolControl, error) {
	all, err := c.controls.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list controls: %w", err)
	}
	var out []*domain.SymbolControl
	var cooldown, blacklist int
	for _, ctl := range all {
		if !ctl.Blocked(now) {
			continue
		}
		if ctl.CooldownActive(now) {
			cooldown++
		}
		if ctl.BlacklistActive(now) {
			blacklist++
		}
		out = append(out, ctl)
	}
	c.metrics.RecordBlockedSymbols(cooldown, blacklist)
	return out, nil
}

// Cleanup purges rows whose gates have all expired. Listing views only;
// gate checks never depend on it.
func (c *Controller) Cleanup(ctx context.Context, now time.Time) (int, error) {
	n, err := c.controls.DeleteExpired(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired controls: %w", err)
	}
	if n > 0 {
		c.logger.Debug().Int("removed", n).Msg("expired controls purged")
	}
	return n, nil
}

// SweepResult summarizes a full recompute.
type SweepResult struct {
	Symbols   int
	Cooldown  int
	Blacklist int
	Purged    int
}

// Sweep recomputes every symbol seen in outcomes and purges expired rows.
// It runs inside the tuning cadence; the evaluator recomputes incrementally.
func (c *Controller) Sweep(ctx context.Context, outcomes []*domain.OutcomeRecord, now time.Time) (SweepResult, error) {
	var res SweepResult
	seen := make(map[string]struct{})
	for _, o := range outcomes {
		if _, ok := seen[o.Symbol]; ok {
			continue
		}
		seen[o.Symbol] = struct{}{}

		if _, err := c.Recompute(ctx, o.Symbol, now); err != nil {
			return res, err
		}
		res.Symbols++
	}

	purged, err := c.Cleanup(ctx, now)
	if err != nil {
		return res, err
	}
	res.Purged = purged

	active, err := c.Active(ctx, now)
	if err != nil {
		return res, err
	}
	for _, ctl := range active {
		if ctl.CooldownActive(now) {
			res.Cooldown++
		}
		if ctl.BlacklistActive(now) {
			res.Blacklist++
		}
	}
	return res, nil
}
