package observability

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("test", reg)

	m.RecordHorizonResolved("4h")
	m.RecordHorizonResolved("4h")
	m.RecordEvaluationError("price_unavailable")
	m.RecordTuningRun("APPLIED", 75, 45, time.Second)
	m.RecordRisk(2, 3)
	m.RecordNotification("telegram", errors.New("boom"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.HorizonsResolved.WithLabelValues("4h")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EvaluationErrors.WithLabelValues("price_unavailable")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TuningRunsTotal.WithLabelValues("APPLIED")))
	assert.Equal(t, 75.0, testutil.ToFloat64(m.LiveThreshold))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RiskMode))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotificationsSent.WithLabelValues("telegram", "error")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordHorizonResolved("1h")
		m.RecordEvaluationPass(1, 0, time.Second)
		m.RecordTuningRun("DRY_RUN", 70, 50, time.Second)
		m.RecordBlockedSymbols(1, 1)
	})
}

func TestMetrics_SeparateRegistries(t *testing.T) {
	// Two instances must not collide when each has its own registry.
	assert.NotPanics(t, func() {
		NewMetrics("dup", prometheus.NewRegistry())
		NewMetrics("dup", prometheus.NewRegistry())
	})
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("test", reg)
	m.RecordOptimizerCombos(10, 2)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `test_optimizer_combos_total{result="evaluated"} 10`)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger("warn", "json", &buf)

	log.Info().Msg("hidden")
	log.Warn().Str("component", "gate").Msg("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"component":"gate"`)
	assert.Equal(t, zerolog.WarnLevel, log.GetLevel())

	assert.Equal(t, zerolog.InfoLevel, NewLogger("bogus", "json", &buf).GetLevel())
}
