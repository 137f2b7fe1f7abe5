package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"alert-tuning-lab/internal/cycle"
	"alert-tuning-lab/internal/domain"
	"alert-tuning-lab/internal/ledger"
	"alert-tuning-lab/internal/observability"
)

func (s *Server) routes() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	r.Handle("/metrics", observability.Handler(s.registry)).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)

	r.HandleFunc("/alerts", s.handleRecordAlert).Methods(http.MethodPost)
	r.HandleFunc("/scans", s.handleRecordScan).Methods(http.MethodPost)

	r.HandleFunc("/config", s.handleConfig).Methods(http.MethodGet)
	r.HandleFunc("/risk", s.handleRisk).Methods(http.MethodGet)
	r.HandleFunc("/controls", s.handleControls).Methods(http.MethodGet)
	r.HandleFunc("/controls/{symbol}", s.handleSymbol).Methods(http.MethodGet)
	r.HandleFunc("/playbooks", s.handlePlaybooks).Methods(http.MethodGet)

	return r
}

// StatusResponse is the /status payload.
type StatusResponse struct {
	Status           string                       `json:"status"`
	Uptime           string                       `json:"uptime"`
	Started          time.Time                    `json:"started"`
	LastEvaluation   time.Time                    `json:"last_evaluation,omitempty"`
	LastTuningRun    time.Time                    `json:"last_tuning_run,omitempty"`
	LastAction       string                       `json:"last_action,omitempty"`
	EvaluationPasses int                          `json:"evaluation_passes"`
	TuningRuns       int                          `json:"tuning_runs"`
	EvaluatorActive  bool                         `json:"evaluator_active"`
	TuningActive     bool                         `json:"tuning_active"`
	Outcomes         map[domain.OutcomeStatus]int `json:"outcomes"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	counts, err := s.app.Stores.Outcomes.CountByStatus(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	resp := StatusResponse{
		Status:           "running",
		Uptime:           time.Since(s.started).Round(time.Second).String(),
		Started:          s.started,
		LastEvaluation:   s.lastEvaluation,
		LastTuningRun:    s.lastTuningRun,
		LastAction:       s.lastAction,
		EvaluationPasses: s.evaluationPasses,
		TuningRuns:       s.tuningRuns,
		EvaluatorActive:  s.evaluatorActive,
		TuningActive:     s.tuningActive,
		Outcomes:         counts,
	}
	writeJSON(w, http.StatusOK, resp)
}

// AlertRequest is the POST /alerts payload sent by the scanner for each emitted alert.
type AlertRequest struct {
	ID          string             `json:"id,omitempty"`
	CreatedAt   *time.Time         `json:"created_at,omitempty"`
	Symbol      string             `json:"symbol"`
	EntryPrice  float64            `json:"entry_price"`
	Score       float64            `json:"score"`
	RegimeScore float64            `json:"regime_score"`
	RegimeLabel string             `json:"regime_label,omitempty"`
	Confidence  string             `json:"confidence"`
	Lane        string             `json:"lane,omitempty"`
	Source      string             `json:"source,omitempty"`
	Components  map[string]float64 `json:"components,omitempty"`
}

// AlertResponse acknowledges a recorded alert.
type AlertResponse struct {
	ID         string `json:"id"`
	Symbol     string `json:"symbol"`
	CyclePhase string `json:"cycle_phase"`
}

func (s *Server) handleRecordAlert(w http.ResponseWriter, r *http.Request) {
	var req AlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	rec := domain.OutcomeRecord{
		ID:          req.ID,
		Symbol:      req.Symbol,
		EntryPrice:  req.EntryPrice,
		Score:       req.Score,
		RegimeScore: req.RegimeScore,
		RegimeLabel: req.RegimeLabel,
		Confidence:  domain.Confidence(strings.ToUpper(req.Confidence)),
		Lane:        req.Lane,
		Source:      req.Source,
		Components:  req.Components,
	}
	if req.CreatedAt != nil {
		rec.CreatedAt = *req.CreatedAt
	}

	out, err := s.app.Ledger.RecordAlert(r.Context(), rec)
	switch {
	case errors.Is(err, ledger.ErrInvalidAlert):
		writeError(w, http.StatusBadRequest, err)
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, AlertResponse{ID: out.ID, Symbol: out.Symbol, CyclePhase: out.CyclePhase.String()})
}

func (s *Server) handleRecordScan(w http.ResponseWriter, r *http.Request) {
	if err := s.app.Ledger.RecordScanRun(r.Context(), time.Now()); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ConfigResponse shows the live gating config and the effective one under
// the current risk overlay.
type ConfigResponse struct {
	Live      domain.ConfigSnapshot `json:"live"`
	Effective domain.ConfigSnapshot `json:"effective"`
	RiskMode  string                `json:"risk_mode"`
	Paused    bool                  `json:"paused"`
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	live, effective, st, err := s.app.LiveConfig(r.Context(), now)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, ConfigResponse{
		Live:      live,
		Effective: effective,
		RiskMode:  st.Mode.String(),
		Paused:    st.Paused(now),
	})
}

// RiskResponse is the /risk payload.
type RiskResponse struct {
	Mode           string     `json:"mode"`
	Streak         int        `json:"streak"`
	PausedUntil    *time.Time `json:"paused_until,omitempty"`
	ThresholdDelta int        `json:"threshold_delta"`
	SizeMultiplier float64    `json:"size_multiplier"`
	MinConfidence  string     `json:"min_confidence"`
}

func (s *Server) handleRisk(w http.ResponseWriter, r *http.Request) {
	st, err := s.app.Governor.State(r.Context(), time.Now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	adj := st.Mode.Adjustment()
	writeJSON(w, http.StatusOK, RiskResponse{
		Mode:           st.Mode.String(),
		Streak:         st.Streak,
		PausedUntil:    st.PausedUntil,
		ThresholdDelta: adj.ThresholdDelta,
		SizeMultiplier: adj.SizeMultiplier,
		MinConfidence:  adj.MinConfidence.String(),
	})
}

// ControlResponse is one symbol gate.
type ControlResponse struct {
	Symbol         string     `json:"symbol"`
	Blocked        bool       `json:"blocked"`
	CooldownUntil  *time.Time `json:"cooldown_until,omitempty"`
	BlacklistUntil *time.Time `json:"blacklist_until,omitempty"`
	Reason         string     `json:"reason,omitempty"`
}

func controlResponse(c *domain.SymbolControl, now time.Time) ControlResponse {
	return ControlResponse{
		Symbol:         c.Symbol,
		Blocked:        c.Blocked(now),
		CooldownUntil:  c.CooldownUntil,
		BlacklistUntil: c.BlacklistUntil,
		Reason:         c.Reason,
	}
}

func (s *Server) handleControls(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	active, err := s.app.Symbols.Active(r.Context(), now)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]ControlResponse, 0, len(active))
	for _, c := range active {
		out = append(out, controlResponse(c, now))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSymbol(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(mux.Vars(r)["symbol"])
	now := time.Now()

	blocked, c, err := s.app.Symbols.Blocked(r.Context(), symbol, now)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if c == nil {
		writeJSON(w, http.StatusOK, ControlResponse{Symbol: symbol, Blocked: blocked})
		return
	}
	writeJSON(w, http.StatusOK, controlResponse(c, now))
}

// PlaybookResponse is one phase's exit parameters.
type PlaybookResponse struct {
	Phase        string  `json:"phase"`
	Current      bool    `json:"current"`
	StopLossPct  float64 `json:"stop_loss_pct"`
	TP1Pct       float64 `json:"tp1_pct"`
	TP2Pct       float64 `json:"tp2_pct"`
	TrailingPct  float64 `json:"trailing_pct"`
	MaxHoldHours int     `json:"max_hold_hours"`
	WinRate      float64 `json:"win_rate"`
	SampleSize   int     `json:"sample_size"`
	Learned      bool    `json:"learned"`
}

func (s *Server) handlePlaybooks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	phase, err := s.app.Ledger.CurrentPhase(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	out := make([]PlaybookResponse, 0, len(domain.Phases))
	for _, p := range domain.Phases {
		pb, err := cycle.Current(ctx, s.app.Stores.Playbooks, p)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		out = append(out, PlaybookResponse{
			Phase:        p.String(),
			Current:      p == phase,
			StopLossPct:  pb.StopLossPct,
			TP1Pct:       pb.TP1Pct,
			TP2Pct:       pb.TP2Pct,
			TrailingPct:  pb.TrailingPct,
			MaxHoldHours: pb.MaxHoldHours,
			WinRate:      pb.WinRate,
			SampleSize:   pb.SampleSize,
			Learned:      pb.Learned,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
