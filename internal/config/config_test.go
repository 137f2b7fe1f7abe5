package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alert-tuning-lab/internal/domain"
)

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeYAML(t, "storage:\n  use_memory: true\n")

	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 500, c.Evaluator.BatchSize)
	assert.Equal(t, 72*time.Hour, c.Evaluator.MaxAge())
	assert.Equal(t, 3*time.Second, c.Market.Timeout())
	assert.Equal(t, 50, c.Gate.MinScanRuns)
	assert.Equal(t, 30, c.Gate.MinOutcomes)
	assert.Equal(t, 2, c.Gate.MinDelta)
	assert.Equal(t, -8.0, c.SymbolControl.BlacklistAvgFloor)
	assert.Equal(t, 168, c.SymbolControl.BlacklistHours)
	assert.Equal(t, domain.Horizon4h, c.PrimaryHorizon())
	assert.Equal(t, 7*24*time.Hour, c.Tuning.Interval())
	assert.Equal(t, 0.05, c.Attribution.DeadZone)
	assert.Equal(t, "json", c.Log.Format)
}

func TestLoad_OverridesAndEnv(t *testing.T) {
	path := writeYAML(t, `
storage:
  postgres_dsn: postgres://file/db
gate:
  min_outcomes: 40
tuning:
  primary_horizon: 24h
  dry_run: true
`)
	t.Setenv("POSTGRES_DSN", "postgres://env/db")
	t.Setenv("TELEGRAM_BOT_TOKEN", "tok")

	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres://env/db", c.Storage.PostgresDSN)
	assert.Equal(t, "tok", c.Telegram.BotToken)
	assert.Equal(t, 40, c.Gate.MinOutcomes)
	assert.True(t, c.Tuning.DryRun)
	assert.Equal(t, domain.Horizon24h, c.PrimaryHorizon())
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "bad horizon", body: "storage: {use_memory: true}\ntuning: {primary_horizon: 2h}\n"},
		{name: "inverted cycle thresholds", body: "storage: {use_memory: true}\ncycle: {bear_below: 60, bull_above: 40}\n"},
		{name: "missing dsn", body: "log: {level: debug}\n"},
		{name: "telegram without token", body: "storage: {use_memory: true}\ntelegram: {enabled: true}\n"},
		{name: "malformed yaml", body: "storage: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("POSTGRES_DSN", "")
			t.Setenv("TELEGRAM_BOT_TOKEN", "")
			t.Setenv("TELEGRAM_CHAT_ID", "")
			_, err := Load(writeYAML(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
