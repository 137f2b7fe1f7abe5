// Package app wires stores and components from the service config.
// Both cmd/server and cmd/tuner build through here.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"alert-tuning-lab/internal/attribution"
	"alert-tuning-lab/internal/audit"
	"alert-tuning-lab/internal/config"
	"alert-tuning-lab/internal/configfile"
	"alert-tuning-lab/internal/cycle"
	"alert-tuning-lab/internal/domain"
	"alert-tuning-lab/internal/evaluator"
	"alert-tuning-lab/internal/gate"
	"alert-tuning-lab/internal/ledger"
	"alert-tuning-lab/internal/lock"
	"alert-tuning-lab/internal/market"
	"alert-tuning-lab/internal/notify"
	"alert-tuning-lab/internal/observability"
	"alert-tuning-lab/internal/optimizer"
	"alert-tuning-lab/internal/risk"
	"alert-tuning-lab/internal/scoring"
	"alert-tuning-lab/internal/storage"
	chstore "alert-tuning-lab/internal/storage/clickhouse"
	"alert-tuning-lab/internal/storage/memory"
	"alert-tuning-lab/internal/storage/migrations"
	pgstore "alert-tuning-lab/internal/storage/postgres"
	"alert-tuning-lab/internal/symbolctl"
	"alert-tuning-lab/internal/tuning"
)

// Stores holds all storage implementations.
type Stores struct {
	Outcomes   storage.OutcomeStore
	ScanRuns   storage.ScanRunStore
	Controls   storage.SymbolControlStore
	Playbooks  storage.PlaybookStore
	Components storage.ComponentStatsStore
	RiskState  storage.RiskStateStore

	// GridResults is nil when no analytics sink is configured.
	GridResults storage.GridResultStore
}

// MemoryStores returns in-memory stores, including a grid sink.
func MemoryStores() *Stores {
	return &Stores{
		Outcomes:    memory.NewOutcomeStore(),
		ScanRuns:    memory.NewScanRunStore(),
		Controls:    memory.NewSymbolControlStore(),
		Playbooks:   memory.NewPlaybookStore(),
		Components:  memory.NewComponentStatsStore(),
		RiskState:   memory.NewRiskStateStore(),
		GridResults: memory.NewGridResultStore(),
	}
}

// OpenStores connects to the configured backends and applies migrations.
// The returned cleanup closes every connection that was opened.
func OpenStores(ctx context.Context, cfg config.Storage) (*Stores, func(), error) {
	if cfg.UseMemory {
		return MemoryStores(), func() {}, nil
	}

	pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("postgres migrations: %w", err)
	}

	stores := &Stores{
		Outcomes:   pgstore.NewOutcomeStore(pool),
		ScanRuns:   pgstore.NewScanRunStore(pool),
		Controls:   pgstore.NewSymbolControlStore(pool),
		Playbooks:  pgstore.NewPlaybookStore(pool),
		Components: pgstore.NewComponentStatsStore(pool),
		RiskState:  pgstore.NewRiskStateStore(pool),
	}
	cleanup := func() { pool.Close() }

	if cfg.ClickhouseDSN != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickhouseDSN)
		if err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("clickhouse migrations: %w", err)
		}
		stores.GridResults = chstore.NewGridResultStore(conn)
		cleanup = func() {
			conn.Close()
			pool.Close()
		}
	}

	return stores, cleanup, nil
}

// App holds every component of the tuning loop.
type App struct {
	Config  config.Root
	Stores  *Stores
	Metrics *observability.Metrics
	Logger  zerolog.Logger

	Rules      *scoring.Table
	ConfigFile *configfile.Store
	Audit      *audit.Log
	Notifier   *notify.Manager

	Prices    market.PriceFetcher
	Ledger    *ledger.Ledger
	Evaluator *evaluator.Evaluator
	Symbols   *symbolctl.Controller
	Governor  *risk.Governor
	Gate      *gate.Gate
	Tuning    *tuning.Runner

	redis *redis.Client
}

// Options for Build.
type Options struct {
	Config  config.Root
	Stores  *Stores
	Logger  zerolog.Logger
	Metrics *observability.Metrics // nil disables metrics

	// Prices overrides the HTTP ticker client, e.g. with market.Static in tests.
	Prices market.PriceFetcher
}

// Build wires components on top of opened stores.
func Build(opts Options) *App {
	cfg := opts.Config
	logger := opts.Logger
	metrics := opts.Metrics
	h := cfg.PrimaryHorizon()

	a := &App{
		Config:  cfg,
		Stores:  opts.Stores,
		Metrics: metrics,
		Logger:  logger,
		Rules:   scoring.NewTable(scoring.DefaultRules()),
	}

	a.ConfigFile = configfile.NewStore(cfg.Paths.ConfigFile, configfile.NewAllowList(a.Rules.Names()))
	a.Audit = audit.NewLog(cfg.Paths.AuditLog)

	notifiers := []notify.Notifier{notify.NewLogNotifier(logger)}
	if cfg.Telegram.Enabled {
		notifiers = append(notifiers, notify.NewTelegramNotifier(notify.TelegramConfig{
			BotToken: cfg.Telegram.BotToken,
			ChatID:   cfg.Telegram.ChatID,
			Timeout:  cfg.Telegram.Timeout(),
		}))
	}
	a.Notifier = notify.NewManager(logger, metrics, notifiers...)

	a.Prices = opts.Prices
	if a.Prices == nil {
		a.Prices = market.NewClient(market.Config{
			BaseURL:         cfg.Market.BaseURL,
			Timeout:         cfg.Market.Timeout(),
			Retries:         cfg.Market.Retries,
			RatePerSecond:   cfg.Market.RatePerSecond,
			Burst:           cfg.Market.RateBurst,
			BreakerFailures: cfg.Market.BreakerFailures,
		}, metrics)
	}

	var locker lock.Locker = lock.NewKeyed()
	if cfg.Storage.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{Addr: cfg.Storage.RedisAddr})
		locker = lock.NewRedis(a.redis, "alert-tuning:symbol:", 30*time.Second)
	}

	classifier := cycle.NewClassifier(cycle.ClassifierConfig{
		Window:    cfg.Cycle.Window,
		MinPoints: cfg.Cycle.MinPoints,
		BearBelow: cfg.Cycle.BearBelow,
		BullAbove: cfg.Cycle.BullAbove,
	})

	a.Ledger = ledger.New(ledger.Options{
		Outcomes:   a.Stores.Outcomes,
		ScanRuns:   a.Stores.ScanRuns,
		Classifier: classifier,
		Logger:     logger,
	})

	a.Symbols = symbolctl.New(a.Stores.Outcomes, a.Stores.Controls, locker, symbolctl.Config{
		ConsecutiveLosses:   cfg.SymbolControl.ConsecutiveLosses,
		Cooldown:            time.Duration(cfg.SymbolControl.CooldownHours) * time.Hour,
		BlacklistMinSamples: cfg.SymbolControl.BlacklistMinSamples,
		BlacklistAvgFloor:   cfg.SymbolControl.BlacklistAvgFloor,
		Blacklist:           time.Duration(cfg.SymbolControl.BlacklistHours) * time.Hour,
		RecentReturns:       cfg.SymbolControl.RecentReturns,
		AvgWindow:           time.Duration(cfg.SymbolControl.AvgWindowDays) * 24 * time.Hour,
	}, metrics, logger)

	a.Evaluator = evaluator.New(evaluator.Options{
		Outcomes:    a.Stores.Outcomes,
		Prices:      a.Prices,
		Symbols:     a.Symbols,
		BatchSize:   cfg.Evaluator.BatchSize,
		MaxAge:      cfg.Evaluator.MaxAge(),
		Concurrency: cfg.Evaluator.Concurrency,
		Metrics:     metrics,
		Logger:      logger,
	})

	a.Governor = risk.New(a.Stores.RiskState, risk.Config{
		Horizon:  h,
		Lookback: cfg.Risk.LookbackOutcomes,
		Pause:    time.Duration(cfg.Risk.PauseHours) * time.Hour,
	}, metrics, logger)

	a.Gate = gate.New(gate.Options{
		Config: gate.Config{
			MinScanRuns:    cfg.Gate.MinScanRuns,
			MinOutcomes:    cfg.Gate.MinOutcomes,
			MinDelta:       cfg.Gate.MinDelta,
			MinWeightDelta: cfg.Gate.MinWeightDelta,
			DryRun:         cfg.Tuning.DryRun,
		},
		Store:    a.ConfigFile,
		Audit:    a.Audit,
		Notifier: a.Notifier,
		Metrics:  metrics,
		Logger:   logger,
	})

	a.Tuning = tuning.New(tuning.Options{
		Outcomes:    a.Stores.Outcomes,
		ScanRuns:    a.Stores.ScanRuns,
		GridResults: a.Stores.GridResults,
		Optimizer: optimizer.New(optimizer.Config{
			Horizon:    h,
			MinSamples: cfg.Optimizer.MinSamples,
			WinRateK:   cfg.Optimizer.WinRateK,
			DrawdownK:  cfg.Optimizer.DrawdownK,
			Workers:    cfg.Optimizer.Workers,
		}, metrics, logger),
		Governor:   a.Governor,
		Symbols:    a.Symbols,
		Classifier: classifier,
		Playbooks:  cycle.NewLearner(a.Stores.Playbooks, cfg.Cycle.LearnMinSamples, logger),
		Attribution: attribution.New(a.Stores.Components, attribution.Config{
			Horizon:      h,
			MinSamples:   cfg.Attribution.MinSamples,
			DeadZone:     cfg.Attribution.DeadZone,
			Scale:        cfg.Attribution.Scale,
			PromoteAfter: cfg.Attribution.PromoteAfter,
		}, logger),
		Components:     a.Rules.Names(),
		Gate:           a.Gate,
		Window:         cfg.Tuning.Window(),
		PrimaryHorizon: h,
		Metrics:        metrics,
		Logger:         logger,
	})

	return a
}

// Close releases clients opened by Build.
func (a *App) Close() error {
	if a.redis != nil {
		return a.redis.Close()
	}
	return nil
}

// LiveConfig returns the live gating config with the current risk overlay applied.
func (a *App) LiveConfig(ctx context.Context, now time.Time) (live, effective domain.ConfigSnapshot, st *domain.RiskState, err error) {
	live, _, err = a.ConfigFile.Load()
	if err != nil {
		return live, live, nil, err
	}
	st, err = a.Governor.State(ctx, now)
	if err != nil {
		return live, live, nil, err
	}
	return live, risk.Overlay(live, st.Mode.Adjustment()), st, nil
}

// NewMetrics registers metrics against a fresh registry and returns both.
func NewMetrics() (*observability.Metrics, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	return observability.NewMetrics("alert_tuning", reg), reg
}
