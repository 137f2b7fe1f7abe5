// Package evaluator resolves due outcome horizons from current market prices.
package evaluator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"alert-tuning-lab/internal/domain"
	"alert-tuning-lab/internal/market"
	"alert-tuning-lab/internal/observability"
	"alert-tuning-lab/internal/storage"
)

// ReturnPlaces is the rounding applied to every stored return_pct.
const ReturnPlaces = 4

// GaveUpPrefix starts the ErrorReason of records completed by age.
const GaveUpPrefix = "gave up: "

// Recomputer refreshes per-symbol controls after new outcomes land.
// *symbolctl.Controller satisfies it.
type Recomputer interface {
	Recompute(ctx context.Context, symbol string, now time.Time) (*domain.SymbolControl, error)
}

// Options for creating an Evaluator.
type Options struct {
	Outcomes    storage.OutcomeStore
	Prices      market.PriceFetcher
	Symbols     Recomputer // optional
	BatchSize   int
	MaxAge      time.Duration
	Concurrency int // symbol recompute fan-out
	Metrics     *observability.Metrics
	Logger      zerolog.Logger
	Now         func() time.Time
}

// Evaluator walks unresolved outcome records and writes due horizons.
type Evaluator struct {
	outcomes    storage.OutcomeStore
	prices      market.PriceFetcher
	symbols     Recomputer
	batchSize   int
	maxAge      time.Duration
	concurrency int
	metrics     *observability.Metrics
	logger      zerolog.Logger
	now         func() time.Time
}

// New creates an Evaluator.
func New(opts Options) *Evaluator {
	e := &Evaluator{
		outcomes:    opts.Outcomes,
		prices:      opts.Prices,
		symbols:     opts.Symbols,
		batchSize:   opts.BatchSize,
		maxAge:      opts.MaxAge,
		concurrency: opts.Concurrency,
		metrics:     opts.Metrics,
		logger:      opts.Logger.With().Str("component", "evaluator").Logger(),
		now:         opts.Now,
	}
	if e.batchSize <= 0 {
		e.batchSize = 500
	}
	if e.maxAge <= 0 {
		e.maxAge = 72 * time.Hour
	}
	if e.concurrency <= 0 {
		e.concurrency = 4
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// Result summarizes one pass.
type Result struct {
	Scanned          int
	HorizonsResolved int
	Completed        int
	Errored          int
	GaveUp           int
	Symbols          []string // symbols that had a horizon written, sorted
}

// RunOnce performs one pass over PENDING and ERROR records.
// Per-record failures are isolated: they mark the record ERROR and the pass continues.
func (e *Evaluator) RunOnce(ctx context.Context) (*Result, error) {
	start := time.Now()
	now := e.now().UTC()
	res := &Result{}

	// One lookup per symbol per pass, failures included.
	prices := market.NewMemo(e.prices)
	touched := make(map[string]struct{})

	seen := make(map[string]struct{})
	filter := storage.OutcomeFilter{
		Statuses: []domain.OutcomeStatus{domain.OutcomeStatusPending, domain.OutcomeStatusError},
		Limit:    e.batchSize,
	}

	for {
		batch, err := e.outcomes.List(ctx, filter)
		if err != nil {
			return res, fmt.Errorf("list unresolved outcomes: %w", err)
		}

		progressed := false
		for _, rec := range batch {
			if _, ok := seen[rec.ID]; ok {
				continue
			}
			seen[rec.ID] = struct{}{}
			progressed = true
			res.Scanned++

			if err := ctx.Err(); err != nil {
				return res, err
			}
			e.evaluate(ctx, rec, now, prices, res, touched)
		}

		if len(batch) < e.batchSize || !progressed {
			break
		}
		filter.Since = batch[len(batch)-1].CreatedAt
	}

	res.Symbols = sortedKeys(touched)
	e.recomputeSymbols(ctx, res.Symbols, now)

	e.metrics.RecordEvaluationPass(res.Completed, res.GaveUp, time.Since(start))
	e.logger.Info().
		Int("scanned", res.Scanned).
		Int("resolved", res.HorizonsResolved).
		Int("completed", res.Completed).
		Int("errored", res.Errored).
		Int("gave_up", res.GaveUp).
		Int("symbols", len(res.Symbols)).
		Dur("took", time.Since(start)).
		Msg("evaluation pass finished")
	return res, nil
}

func (e *Evaluator) evaluate(ctx context.Context, rec *domain.OutcomeRecord, now time.Time, prices market.PriceFetcher, res *Result, touched map[string]struct{}) {
	log := e.logger.With().Str("id", rec.ID).Str("symbol", rec.Symbol).Logger()

	// Past max age a late price would be mislabeled as the horizon's return.
	if now.Sub(rec.CreatedAt) > e.maxAge && !rec.AllHorizonsSet() {
		reason := GaveUpPrefix + fmt.Sprintf("horizons %s unresolved after %s", unresolved(rec), e.maxAge)
		if rec.ErrorReason != "" {
			reason += " (last error: " + rec.ErrorReason + ")"
		}
		if err := e.outcomes.SetStatus(ctx, rec.ID, domain.OutcomeStatusComplete, reason); err != nil {
			e.fail(ctx, log, rec, res, "store", err)
			return
		}
		res.GaveUp++
		res.Completed++
		log.Warn().Str("reason", reason).Msg("outcome given up")
		return
	}

	due := rec.DueHorizons(now)
	if len(due) == 0 {
		if rec.AllHorizonsSet() {
			e.complete(ctx, log, rec, res)
		}
		return
	}

	cur, err := prices.Price(ctx, rec.Symbol)
	if err != nil {
		e.fail(ctx, log, rec, res, "price", err)
		return
	}

	ret := ReturnPct(decimal.NewFromFloat(rec.EntryPrice), cur)
	for _, h := range due {
		ok, err := e.outcomes.SetHorizon(ctx, rec.ID, h, now, ret)
		if err != nil {
			e.fail(ctx, log, rec, res, "store", err)
			return
		}
		rec.SetHorizon(h, now, ret)
		if !ok {
			// another writer got there first; its value stands
			continue
		}
		res.HorizonsResolved++
		touched[rec.Symbol] = struct{}{}
		e.metrics.RecordHorizonResolved(string(h))
		log.Debug().Str("horizon", string(h)).Float64("return_pct", ret).Msg("horizon resolved")
	}

	if rec.AllHorizonsSet() {
		e.complete(ctx, log, rec, res)
		return
	}
	if rec.Status == domain.OutcomeStatusError {
		if err := e.outcomes.SetStatus(ctx, rec.ID, domain.OutcomeStatusPending, ""); err != nil {
			e.fail(ctx, log, rec, res, "store", err)
		}
	}
}

func (e *Evaluator) complete(ctx context.Context, log zerolog.Logger, rec *domain.OutcomeRecord, res *Result) {
	if err := e.outcomes.SetStatus(ctx, rec.ID, domain.OutcomeStatusComplete, ""); err != nil {
		e.fail(ctx, log, rec, res, "store", err)
		return
	}
	res.Completed++
}

// fail marks rec ERROR so the next pass retries it.
func (e *Evaluator) fail(ctx context.Context, log zerolog.Logger, rec *domain.OutcomeRecord, res *Result, kind string, cause error) {
	res.Errored++
	e.metrics.RecordEvaluationError(kind)
	log.Warn().Err(cause).Str("kind", kind).Msg("evaluation failed")

	if err := e.outcomes.SetStatus(ctx, rec.ID, domain.OutcomeStatusError, cause.Error()); err != nil {
		log.Error().Err(err).Msg("mark outcome error")
	}
}

// recomputeSymbols refreshes controls for touched symbols, at most
// e.concurrency at a time. Failures are logged; the pass still succeeds.
func (e *Evaluator) recomputeSymbols(ctx context.Context, symbols []string, now time.Time) {
	if e.symbols == nil || len(symbols) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for _, sym := range symbols {
		sym := sym
		g.Go(func() error {
			if _, err := e.symbols.Recompute(gctx, sym, now); err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				e.logger.Warn().Err(err).Str("symbol", sym).Msg("symbol control recompute failed")
			}
			return nil
		})
	}
	_ = g.Wait()
}

// Run calls RunOnce every interval until ctx is done.
func (e *Evaluator) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := e.RunOnce(ctx); err != nil && ctx.Err() == nil {
			e.logger.Error().Err(err).Msg("evaluation pass failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ReturnPct is (cur - entry) / entry * 100 rounded to ReturnPlaces.
func ReturnPct(entry, cur decimal.Decimal) float64 {
	if entry.IsZero() {
		return 0
	}
	return cur.Sub(entry).Div(entry).Mul(decimal.NewFromInt(100)).Round(ReturnPlaces).InexactFloat64()
}

func unresolved(rec *domain.OutcomeRecord) string {
	var hs []string
	for _, h := range domain.Horizons {
		if !rec.Horizon(h).IsSet() {
			hs = append(hs, string(h))
		}
	}
	return strings.Join(hs, ",")
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
