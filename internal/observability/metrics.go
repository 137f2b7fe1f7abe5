// Package observability provides the zerolog logger and Prometheus metrics.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Evaluator metrics
	HorizonsResolved   *prometheus.CounterVec
	EvaluationErrors   *prometheus.CounterVec
	OutcomesCompleted  prometheus.Counter
	OutcomesGaveUp     prometheus.Counter
	EvaluationDuration prometheus.Histogram
	PriceFetchLatency  *prometheus.HistogramVec

	// Tuning metrics
	TuningRunsTotal   *prometheus.CounterVec
	TuningDuration    prometheus.Histogram
	LearnerFailures   *prometheus.CounterVec
	OptimizerCombos   *prometheus.CounterVec
	LiveThreshold     prometheus.Gauge
	LiveRegimeFloor   prometheus.Gauge
	RiskMode          prometheus.Gauge
	LossStreak        prometheus.Gauge
	SymbolsBlocked    *prometheus.GaugeVec
	NotificationsSent *prometheus.CounterVec

	// Health metrics
	LastSuccessfulEvaluation prometheus.Gauge
	LastSuccessfulTuning     prometheus.Gauge
}

// NewMetrics creates a Metrics instance registered against reg.
// Pass prometheus.NewRegistry() in tests to avoid duplicate registration.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "alert_tuning"
	}
	factory := promauto.With(reg)

	return &Metrics{
		HorizonsResolved: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "evaluator",
			Name:      "horizons_resolved_total",
			Help:      "Total number of outcome horizons written, by horizon",
		}, []string{"horizon"}),
		EvaluationErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "evaluator",
			Name:      "errors_total",
			Help:      "Total number of per-record evaluation failures, by kind",
		}, []string{"kind"}),
		OutcomesCompleted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "evaluator",
			Name:      "outcomes_completed_total",
			Help:      "Total number of outcome records moved to COMPLETE",
		}),
		OutcomesGaveUp: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "evaluator",
			Name:      "outcomes_gave_up_total",
			Help:      "Total number of records completed after exceeding max age",
		}),
		EvaluationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "evaluator",
			Name:      "pass_duration_seconds",
			Help:      "Duration of one evaluator pass",
			Buckets:   prometheus.DefBuckets,
		}),
		PriceFetchLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "market",
			Name:      "price_fetch_latency_seconds",
			Help:      "Price lookup latency in seconds, by result",
			Buckets:   prometheus.DefBuckets,
		}, []string{"result"}),

		TuningRunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tuning",
			Name:      "runs_total",
			Help:      "Total number of tuning runs, by audit action",
		}, []string{"action"}),
		TuningDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "tuning",
			Name:      "run_duration_seconds",
			Help:      "Duration of one tuning run",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300},
		}),
		LearnerFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tuning",
			Name:      "learner_failures_total",
			Help:      "Total number of learner errors or panics captured by the run",
		}, []string{"learner"}),
		OptimizerCombos: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "optimizer",
			Name:      "combos_total",
			Help:      "Total number of grid combinations evaluated, by result",
		}, []string{"result"}),
		LiveThreshold: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "config",
			Name:      "score_threshold",
			Help:      "Live score threshold after the last tuning run",
		}),
		LiveRegimeFloor: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "config",
			Name:      "regime_floor",
			Help:      "Live regime floor after the last tuning run",
		}),
		RiskMode: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "mode",
			Help:      "Risk governor mode (0=NORMAL, 1=CAUTIOUS, 2=DEFENSIVE)",
		}),
		LossStreak: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "loss_streak",
			Help:      "Consecutive losing outcomes at the last evaluation",
		}),
		SymbolsBlocked: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "symbols",
			Name:      "blocked",
			Help:      "Number of symbols currently gated, by gate",
		}, []string{"gate"}),
		NotificationsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "sent_total",
			Help:      "Total number of notification attempts, by channel and status",
		}, []string{"channel", "status"}),

		LastSuccessfulEvaluation: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_evaluation_timestamp",
			Help:      "Unix timestamp of last successful evaluator pass",
		}),
		LastSuccessfulTuning: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_tuning_timestamp",
			Help:      "Unix timestamp of last completed tuning run",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// RecordHorizonResolved counts one horizon write.
func (m *Metrics) RecordHorizonResolved(horizon string) {
	if m == nil {
		return
	}
	m.HorizonsResolved.WithLabelValues(horizon).Inc()
}

// RecordEvaluationError counts a per-record failure.
func (m *Metrics) RecordEvaluationError(kind string) {
	if m == nil {
		return
	}
	m.EvaluationErrors.WithLabelValues(kind).Inc()
}

// RecordEvaluationPass records a finished evaluator pass.
func (m *Metrics) RecordEvaluationPass(completed, gaveUp int, d time.Duration) {
	if m == nil {
		return
	}
	m.OutcomesCompleted.Add(float64(completed))
	m.OutcomesGaveUp.Add(float64(gaveUp))
	m.EvaluationDuration.Observe(d.Seconds())
	m.LastSuccessfulEvaluation.SetToCurrentTime()
}

// RecordPriceFetch records a price lookup.
func (m *Metrics) RecordPriceFetch(d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.PriceFetchLatency.WithLabelValues(result).Observe(d.Seconds())
}

// RecordTuningRun records a finished tuning run and the live gating values.
func (m *Metrics) RecordTuningRun(action string, threshold, regimeFloor int, d time.Duration) {
	if m == nil {
		return
	}
	m.TuningRunsTotal.WithLabelValues(action).Inc()
	m.TuningDuration.Observe(d.Seconds())
	m.LiveThreshold.Set(float64(threshold))
	m.LiveRegimeFloor.Set(float64(regimeFloor))
	m.LastSuccessfulTuning.SetToCurrentTime()
}

// RecordLearnerFailure counts a captured learner error or panic.
func (m *Metrics) RecordLearnerFailure(learner string) {
	if m == nil {
		return
	}
	m.LearnerFailures.WithLabelValues(learner).Inc()
}

// RecordOptimizerCombos counts evaluated and skipped combos.
func (m *Metrics) RecordOptimizerCombos(evaluated, skipped int) {
	if m == nil {
		return
	}
	m.OptimizerCombos.WithLabelValues("evaluated").Add(float64(evaluated))
	m.OptimizerCombos.WithLabelValues("skipped").Add(float64(skipped))
}

// RecordRisk records the governor mode and streak.
func (m *Metrics) RecordRisk(mode, streak int) {
	if m == nil {
		return
	}
	m.RiskMode.Set(float64(mode))
	m.LossStreak.Set(float64(streak))
}

// RecordBlockedSymbols sets the gated-symbol gauges.
func (m *Metrics) RecordBlockedSymbols(cooldown, blacklist int) {
	if m == nil {
		return
	}
	m.SymbolsBlocked.WithLabelValues("cooldown").Set(float64(cooldown))
	m.SymbolsBlocked.WithLabelValues("blacklist").Set(float64(blacklist))
}

// RecordNotification counts a notification attempt.
func (m *Metrics) RecordNotification(channel string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.NotificationsSent.WithLabelValues(channel, status).Inc()
}
