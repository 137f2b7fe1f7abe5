// Package config loads the YAML service configuration.
// The live gating parameters are not here; they live in the KEY=VALUE
// file managed by internal/configfile.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"alert-tuning-lab/internal/domain"
)

type Storage struct {
	PostgresDSN   string `yaml:"postgres_dsn"`
	ClickhouseDSN string `yaml:"clickhouse_dsn"` // optional analytics sink
	RedisAddr     string `yaml:"redis_addr"`     // optional distributed symbol lock
	UseMemory     bool   `yaml:"use_memory"`
}

type Paths struct {
	ConfigFile string `yaml:"config_file"` // live KEY=VALUE gating config
	AuditLog   string `yaml:"audit_log"`
}

type Evaluator struct {
	IntervalSeconds int `yaml:"interval_seconds"`
	BatchSize       int `yaml:"batch_size"`
	MaxAgeHours     int `yaml:"max_age_hours"`
	Concurrency     int `yaml:"concurrency"` // symbol-control recompute fan-out
}

type Market struct {
	BaseURL         string  `yaml:"base_url"`
	TimeoutMs       int     `yaml:"timeout_ms"`
	Retries         int     `yaml:"retries"`
	RatePerSecond   float64 `yaml:"rate_per_second"`
	RateBurst       int     `yaml:"rate_burst"`
	BreakerFailures uint32  `yaml:"breaker_failures"`
}

type Tuning struct {
	IntervalHours  int    `yaml:"interval_hours"`
	WindowDays     int    `yaml:"window_days"`
	PrimaryHorizon string `yaml:"primary_horizon"`
	DryRun         bool   `yaml:"dry_run"`
}

type Optimizer struct {
	MinSamples int     `yaml:"min_samples"` // per-combo floor
	WinRateK   float64 `yaml:"win_rate_k"`
	DrawdownK  float64 `yaml:"drawdown_k"`
	Workers    int     `yaml:"workers"`
}

type Gate struct {
	MinScanRuns    int     `yaml:"min_scan_runs"`
	MinOutcomes    int     `yaml:"min_outcomes"`
	MinDelta       int     `yaml:"min_delta"`
	MinWeightDelta float64 `yaml:"min_weight_delta"`
}

type Risk struct {
	LookbackOutcomes int `yaml:"lookback_outcomes"`
	PauseHours       int `yaml:"pause_hours"`
}

type SymbolControl struct {
	ConsecutiveLosses   int     `yaml:"consecutive_losses"`
	CooldownHours       int     `yaml:"cooldown_hours"`
	BlacklistMinSamples int     `yaml:"blacklist_min_samples"`
	BlacklistAvgFloor   float64 `yaml:"blacklist_avg_floor"`
	BlacklistHours      int     `yaml:"blacklist_hours"`
	RecentReturns       int     `yaml:"recent_returns"`
	AvgWindowDays       int     `yaml:"avg_window_days"`
}

type Cycle struct {
	Window          int     `yaml:"window"`
	MinPoints       int     `yaml:"min_points"`
	BearBelow       float64 `yaml:"bear_below"`
	BullAbove       float64 `yaml:"bull_above"`
	LearnMinSamples int     `yaml:"learn_min_samples"`
}

type Attribution struct {
	MinSamples   int     `yaml:"min_samples"`
	DeadZone     float64 `yaml:"dead_zone"`
	Scale        float64 `yaml:"scale"`
	PromoteAfter int     `yaml:"promote_after"`
}

type Telegram struct {
	Enabled   bool   `yaml:"enabled"`
	BotToken  string `yaml:"bot_token"`
	ChatID    string `yaml:"chat_id"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

type Server struct {
	ListenAddr string `yaml:"listen_addr"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json | console
}

type Root struct {
	Storage       Storage       `yaml:"storage"`
	Paths         Paths         `yaml:"paths"`
	Evaluator     Evaluator     `yaml:"evaluator"`
	Market        Market        `yaml:"market"`
	Tuning        Tuning        `yaml:"tuning"`
	Optimizer     Optimizer     `yaml:"optimizer"`
	Gate          Gate          `yaml:"gate"`
	Risk          Risk          `yaml:"risk"`
	SymbolControl SymbolControl `yaml:"symbol_control"`
	Cycle         Cycle         `yaml:"cycle"`
	Attribution   Attribution   `yaml:"attribution"`
	Telegram      Telegram      `yaml:"telegram"`
	Server        Server        `yaml:"server"`
	Log           Log           `yaml:"log"`
}

// Load reads path, fills defaults and applies environment overrides, then
// any command-line overrides before validating. An empty path yields the defaults.
func Load(path string, overrides ...func(*Root)) (Root, error) {
	var c Root
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return c, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return c, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyDefaults(&c)
	applyEnv(&c)
	for _, o := range overrides {
		o(&c)
	}

	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

// Default returns a fully defaulted config without reading any file.
func Default() Root {
	var c Root
	applyDefaults(&c)
	return c
}

func applyDefaults(c *Root) {
	if c.Paths.ConfigFile == "" {
		c.Paths.ConfigFile = "data/live.env"
	}
	if c.Paths.AuditLog == "" {
		c.Paths.AuditLog = "data/tuning_audit.json"
	}

	if c.Evaluator.IntervalSeconds == 0 {
		c.Evaluator.IntervalSeconds = 300
	}
	if c.Evaluator.BatchSize == 0 {
		c.Evaluator.BatchSize = 500
	}
	if c.Evaluator.MaxAgeHours == 0 {
		c.Evaluator.MaxAgeHours = 72
	}
	if c.Evaluator.Concurrency == 0 {
		c.Evaluator.Concurrency = 4
	}

	if c.Market.BaseURL == "" {
		c.Market.BaseURL = "https://api.binance.com"
	}
	if c.Market.TimeoutMs == 0 {
		c.Market.TimeoutMs = 3000
	}
	if c.Market.Retries == 0 {
		c.Market.Retries = 1
	}
	if c.Market.RatePerSecond == 0 {
		c.Market.RatePerSecond = 10
	}
	if c.Market.RateBurst == 0 {
		c.Market.RateBurst = 5
	}
	if c.Market.BreakerFailures == 0 {
		c.Market.BreakerFailures = 5
	}

	if c.Tuning.IntervalHours == 0 {
		c.Tuning.IntervalHours = 168 // weekly
	}
	if c.Tuning.WindowDays == 0 {
		c.Tuning.WindowDays = 30
	}
	if c.Tuning.PrimaryHorizon == "" {
		c.Tuning.PrimaryHorizon = string(domain.Horizon4h)
	}

	if c.Optimizer.MinSamples == 0 {
		c.Optimizer.MinSamples = 10
	}
	if c.Optimizer.WinRateK == 0 {
		c.Optimizer.WinRateK = 0.10
	}
	if c.Optimizer.DrawdownK == 0 {
		c.Optimizer.DrawdownK = 0.25
	}
	if c.Optimizer.Workers == 0 {
		c.Optimizer.Workers = 4
	}

	// Floors cannot be disabled: zero means "use default".
	if c.Gate.MinScanRuns == 0 {
		c.Gate.MinScanRuns = 50
	}
	if c.Gate.MinOutcomes == 0 {
		c.Gate.MinOutcomes = 30
	}
	if c.Gate.MinDelta == 0 {
		c.Gate.MinDelta = 2
	}
	if c.Gate.MinWeightDelta == 0 {
		c.Gate.MinWeightDelta = 0.02
	}

	if c.Risk.LookbackOutcomes == 0 {
		c.Risk.LookbackOutcomes = 20
	}
	if c.Risk.PauseHours == 0 {
		c.Risk.PauseHours = 6
	}

	if c.SymbolControl.ConsecutiveLosses == 0 {
		c.SymbolControl.ConsecutiveLosses = 3
	}
	if c.SymbolControl.CooldownHours == 0 {
		c.SymbolControl.CooldownHours = 12
	}
	if c.SymbolControl.BlacklistMinSamples == 0 {
		c.SymbolControl.BlacklistMinSamples = 10
	}
	if c.SymbolControl.BlacklistAvgFloor == 0 {
		c.SymbolControl.BlacklistAvgFloor = -8
	}
	if c.SymbolControl.BlacklistHours == 0 {
		c.SymbolControl.BlacklistHours = 168
	}
	if c.SymbolControl.RecentReturns == 0 {
		c.SymbolControl.RecentReturns = 20
	}
	if c.SymbolControl.AvgWindowDays == 0 {
		c.SymbolControl.AvgWindowDays = 30
	}

	if c.Cycle.Window == 0 {
		c.Cycle.Window = 14
	}
	if c.Cycle.MinPoints == 0 {
		c.Cycle.MinPoints = 5
	}
	if c.Cycle.BearBelow == 0 {
		c.Cycle.BearBelow = 42
	}
	if c.Cycle.BullAbove == 0 {
		c.Cycle.BullAbove = 58
	}
	if c.Cycle.LearnMinSamples == 0 {
		c.Cycle.LearnMinSamples = 10
	}

	if c.Attribution.MinSamples == 0 {
		c.Attribution.MinSamples = 20
	}
	if c.Attribution.DeadZone == 0 {
		c.Attribution.DeadZone = 0.05
	}
	if c.Attribution.Scale == 0 {
		c.Attribution.Scale = 0.6
	}
	if c.Attribution.PromoteAfter == 0 {
		c.Attribution.PromoteAfter = 3
	}

	if c.Telegram.TimeoutMs == 0 {
		c.Telegram.TimeoutMs = 5000
	}

	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":9090"
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
}

// applyEnv overrides secrets and DSNs from the environment.
func applyEnv(c *Root) {
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		c.Storage.PostgresDSN = v
	}
	if v := os.Getenv("CLICKHOUSE_DSN"); v != "" {
		c.Storage.ClickhouseDSN = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Storage.RedisAddr = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		c.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		c.Telegram.ChatID = v
	}
}

// Validate checks cross-field constraints that defaults cannot fix.
func (c Root) Validate() error {
	if _, err := domain.ParseHorizon(c.Tuning.PrimaryHorizon); err != nil {
		return fmt.Errorf("tuning.primary_horizon: %w", err)
	}
	if c.Cycle.BearBelow >= c.Cycle.BullAbove {
		return fmt.Errorf("cycle: bear_below (%g) must be < bull_above (%g)", c.Cycle.BearBelow, c.Cycle.BullAbove)
	}
	if c.Evaluator.BatchSize < 0 || c.Evaluator.Concurrency < 0 {
		return fmt.Errorf("evaluator: batch_size and concurrency must be positive")
	}
	if c.Telegram.Enabled && (c.Telegram.BotToken == "" || c.Telegram.ChatID == "") {
		return fmt.Errorf("telegram: enabled without bot_token/chat_id")
	}
	if !c.Storage.UseMemory && c.Storage.PostgresDSN == "" {
		return fmt.Errorf("storage: postgres_dsn required unless use_memory is set")
	}
	return nil
}

// PrimaryHorizon returns the parsed primary horizon. Validate guarantees it parses.
func (c Root) PrimaryHorizon() domain.Horizon {
	return domain.Horizon(c.Tuning.PrimaryHorizon)
}

func (e Evaluator) Interval() time.Duration { return time.Duration(e.IntervalSeconds) * time.Second }
func (e Evaluator) MaxAge() time.Duration   { return time.Duration(e.MaxAgeHours) * time.Hour }
func (m Market) Timeout() time.Duration     { return time.Duration(m.TimeoutMs) * time.Millisecond }
func (t Tuning) Interval() time.Duration    { return time.Duration(t.IntervalHours) * time.Hour }
func (t Tuning) Window() time.Duration      { return time.Duration(t.WindowDays) * 24 * time.Hour }
func (t Telegram) Timeout() time.Duration   { return time.Duration(t.TimeoutMs) * time.Millisecond }
