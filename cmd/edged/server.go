package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/phenomenon0/polymarket-options-edge/pkg/metrics"
	"github.com/phenomenon0/polymarket-options-edge/pkg/orchestrator"
	"github.com/phenomenon0/polymarket-options-edge/pkg/probability"
	"github.com/phenomenon0/polymarket-options-edge/pkg/session"
	"github.com/phenomenon0/polymarket-options-edge/pkg/streaming"
)

// api serves the status and analysis endpoints.
type api struct {
	orch      *orchestrator.Orchestrator
	estimator session.Estimator
	metrics   *metrics.EstimatorMetrics
	hub       *streaming.Hub
	log       zerolog.Logger
}

func (a *api) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		a.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("GET /status", a.handleStatus)

	mux.HandleFunc("GET /analyses", a.handleAnalyses)
	mux.HandleFunc("GET /analyses/{slug}", a.handleAnalysis)
	mux.HandleFunc("POST /analyses/{slug}/overrides", a.handleOverrides)

	mux.HandleFunc("GET /chain", a.handleChain)
	mux.HandleFunc("POST /estimate", a.handleEstimate)

	// Prometheus metrics endpoint
	mux.Handle("GET /metrics", promhttp.HandlerFor(a.metrics.Registry(), promhttp.HandlerOpts{}))

	// WebSocket streaming endpoint
	if a.hub != nil {
		mux.HandleFunc("GET /ws", a.hub.ServeWS)
	}

	return mux
}

func (a *api) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := a.orch.GetStatus()
	clients := 0
	if a.hub != nil {
		clients = a.hub.ClientCount()
	}
	a.writeJSON(w, http.StatusOK, map[string]interface{}{
		"orchestrator": status,
		"ws_clients":   clients,
	})
}

func (a *api) handleAnalyses(w http.ResponseWriter, r *http.Request) {
	analyses := a.orch.Analyses()
	if r.URL.Query().Get("opportunities") == "true" {
		filtered := analyses[:0]
		for _, an := range analyses {
			if an.Edge != nil && an.Edge.GoodOpportunity {
				filtered = append(filtered, an)
			}
		}
		analyses = filtered
	}
	a.writeJSON(w, http.StatusOK, analyses)
}

func (a *api) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	slug := r.PathValue("slug")
	an, ok := a.orch.Analysis(slug)
	if !ok || an == nil {
		a.writeError(w, http.StatusNotFound, "unknown market: "+slug)
		return
	}
	a.writeJSON(w, http.StatusOK, an)
}

type overridesRequest struct {
	Threshold     float64 `json:"threshold"`
	Model         string  `json:"model"`
	VolMultiplier float64 `json:"vol_multiplier"`
}

func (a *api) handleOverrides(w http.ResponseWriter, r *http.Request) {
	var req overridesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if req.Threshold < 0 || req.VolMultiplier < 0 {
		a.writeError(w, http.StatusBadRequest, "threshold and vol_multiplier must not be negative")
		return
	}
	model, err := probability.ParseModel(req.Model)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	an, err := a.orch.SetOverrides(r.Context(), r.PathValue("slug"), session.Overrides{
		Threshold:     req.Threshold,
		Model:         model,
		VolMultiplier: req.VolMultiplier,
	})
	switch {
	case errors.Is(err, orchestrator.ErrUnknownMarket):
		a.writeError(w, http.StatusNotFound, err.Error())
	case err != nil:
		a.writeError(w, http.StatusInternalServerError, err.Error())
	default:
		a.writeJSON(w, http.StatusOK, an)
	}
}

func (a *api) handleChain(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("expiry")
	rows, expiries := a.orch.Chain(code)
	a.writeJSON(w, http.StatusOK, map[string]interface{}{
		"expiry":   code,
		"strikes":  rows,
		"expiries": expiries,
	})
}

// handleEstimate runs one estimation on caller-supplied inputs, outside any
// session.
func (a *api) handleEstimate(w http.ResponseWriter, r *http.Request) {
	var req probability.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}

	res, err := a.estimator.Estimate(r.Context(), req)
	switch {
	case errors.Is(err, probability.ErrInvalidRequest):
		a.writeError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		a.writeError(w, http.StatusInternalServerError, err.Error())
	default:
		a.writeJSON(w, http.StatusOK, res)
	}
}

func (a *api) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.log.Debug().Err(err).Msg("write response")
	}
}

func (a *api) writeError(w http.ResponseWriter, code int, msg string) {
	a.writeJSON(w, code, map[string]string{"error": msg})
}
