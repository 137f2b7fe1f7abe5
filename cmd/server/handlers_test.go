package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alert-tuning-lab/internal/app"
	"alert-tuning-lab/internal/config"
	"alert-tuning-lab/internal/domain"
	"alert-tuning-lab/internal/market"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Storage.UseMemory = true
	cfg.Paths.ConfigFile = filepath.Join(dir, "live.env")
	cfg.Paths.AuditLog = filepath.Join(dir, "audit.json")

	metrics, reg := app.NewMetrics()
	a := app.Build(app.Options{
		Config:  cfg,
		Stores:  app.MemoryStores(),
		Logger:  zerolog.Nop(),
		Metrics: metrics,
		Prices:  market.Static{},
	})
	return &Server{app: a, registry: reg, logger: zerolog.Nop(), started: time.Now()}
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRecordAlert(t *testing.T) {
	s := newTestServer(t)
	h := s.routes()

	rec := do(t, h, http.MethodPost, "/alerts", `{"symbol":"solusdt","entry_price":142.5,"score":81,"regime_score":64,"confidence":"b","components":{"volume_spike":15}}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp AlertResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, "SOLUSDT", resp.Symbol)
	// a single score is below the classifier's minimum
	assert.Equal(t, "TRANSITION", resp.CyclePhase)

	rec = do(t, h, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var status StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, 1, status.Outcomes[domain.OutcomeStatusPending])
}

func TestRecordAlert_Invalid(t *testing.T) {
	h := newTestServer(t).routes()

	rec := do(t, h, http.MethodPost, "/alerts", `{"symbol":"","entry_price":1,"score":50,"regime_score":50,"confidence":"A"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/alerts", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRecordScan(t *testing.T) {
	s := newTestServer(t)
	rec := do(t, s.routes(), http.MethodPost, "/scans", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	n, err := s.app.Stores.ScanRuns.CountSince(context.Background(), time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestConfigAndRisk(t *testing.T) {
	h := newTestServer(t).routes()

	rec := do(t, h, http.MethodGet, "/config", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var cfg ConfigResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cfg))
	assert.Equal(t, 70, cfg.Live.Threshold)
	assert.Equal(t, "NORMAL", cfg.RiskMode)
	assert.False(t, cfg.Paused)

	rec = do(t, h, http.MethodGet, "/risk", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var risk RiskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &risk))
	assert.Equal(t, 0, risk.Streak)
	assert.Equal(t, 1.0, risk.SizeMultiplier)
}

func TestControls(t *testing.T) {
	s := newTestServer(t)
	h := s.routes()

	until := time.Now().Add(time.Hour).UTC()
	require.NoError(t, s.app.Stores.Controls.Upsert(context.Background(), &domain.SymbolControl{
		Symbol:        "DOGEUSDT",
		CooldownUntil: &until,
		Reason:        "3 consecutive 4h losses",
		UpdatedAt:     time.Now().UTC(),
	}))

	rec := do(t, h, http.MethodGet, "/controls", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []ControlResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.True(t, list[0].Blocked)

	rec = do(t, h, http.MethodGet, "/controls/dogeusdt", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var one ControlResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &one))
	assert.Equal(t, "DOGEUSDT", one.Symbol)
	assert.True(t, one.Blocked)

	rec = do(t, h, http.MethodGet, "/controls/ethusdt", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &one))
	assert.False(t, one.Blocked)
}

func TestPlaybooks_PriorsBeforeLearning(t *testing.T) {
	h := newTestServer(t).routes()

	rec := do(t, h, http.MethodGet, "/playbooks", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var pbs []PlaybookResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pbs))
	require.Len(t, pbs, 3)
	for _, pb := range pbs {
		assert.False(t, pb.Learned)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.app.Metrics.RecordLearnerFailure("optimizer")

	rec := do(t, s.routes(), http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "alert_tuning_")
}
