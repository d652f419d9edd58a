package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/nkulkarni/authgate/internal/engine"
	"github.com/nkulkarni/authgate/internal/registry"
	"github.com/nkulkarni/authgate/internal/service"
	"github.com/nkulkarni/authgate/internal/transaction"
)

// Handler holds all HTTP handler dependencies.
type Handler struct {
	svc      *service.Service
	registry *registry.Registry
	admin    *rate.Limiter
	mux      *http.ServeMux
}

// New creates an HTTP handler and registers all routes. adminLimiter guards
// the registry management endpoints against operator-tooling stampedes.
func New(svc *service.Service, reg *registry.Registry, adminRPS float64, adminBurst int) http.Handler {
	h := &Handler{
		svc:      svc,
		registry: reg,
		admin:    rate.NewLimiter(rate.Limit(adminRPS), adminBurst),
		mux:      http.NewServeMux(),
	}

	h.mux.HandleFunc("POST /v1/evaluate/auth", h.evaluateAuth)
	h.mux.HandleFunc("GET /v1/evaluate/health", h.health)
	h.mux.HandleFunc("GET /v1/evaluate/rulesets/registry/status", h.registryStatus)
	h.mux.HandleFunc("GET /v1/evaluate/rulesets/registry/{country}", h.countryRulesets)
	h.mux.HandleFunc("POST /v1/evaluate/rulesets/hotswap", h.adminOnly(h.hotSwap))
	h.mux.HandleFunc("POST /v1/evaluate/rulesets/load", h.adminOnly(h.loadRuleset))
	h.mux.HandleFunc("POST /v1/evaluate/rulesets/bulk-load", h.adminOnly(h.bulkLoad))
	h.mux.HandleFunc("GET /healthz", h.healthz)
	h.mux.HandleFunc("GET /readyz", h.readyz)
	h.mux.Handle("GET /metrics", promhttp.Handler())

	return h.mux
}

// POST /v1/evaluate/auth — AUTH evaluation. First-match semantics, fail-open
// by default: well-formed requests always get a 200 with a decision.
func (h *Handler) evaluateAuth(w http.ResponseWriter, r *http.Request) {
	var tx transaction.Transaction
	if err := json.NewDecoder(r.Body).Decode(&tx); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	tx.ReceivedAt = time.Now()

	opts := engine.Options{
		ReplayMode: r.URL.Query().Get("replay") == "true",
		Debug:      r.URL.Query().Get("debug") == "true",
	}

	dec := h.svc.EvaluateAuth(r.Context(), &tx, opts)
	writeJSON(w, http.StatusOK, dec)
}

// GET /v1/evaluate/health
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":             "UP",
		"storage_accessible": h.registry.StorageAccessible(),
	})
}

// GET /v1/evaluate/rulesets/registry/status
func (h *Handler) registryStatus(w http.ResponseWriter, r *http.Request) {
	countries := h.registry.Countries()
	writeJSON(w, http.StatusOK, map[string]any{
		"total_rulesets":     h.registry.Size(),
		"countries":          len(countries),
		"storage_accessible": h.registry.StorageAccessible(),
	})
}

// GET /v1/evaluate/rulesets/registry/{country}
func (h *Handler) countryRulesets(w http.ResponseWriter, r *http.Request) {
	country := r.PathValue("country")
	writeJSON(w, http.StatusOK, map[string]any{
		"country": country,
		"keys":    h.registry.Keys(country),
	})
}

type swapRequest struct {
	Key     string `json:"key"`
	Version int64  `json:"version"`
	Country string `json:"country"`
}

// POST /v1/evaluate/rulesets/hotswap — atomically replace the active rule
// set with a preloaded version.
func (h *Handler) hotSwap(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeSwapRequest(w, r)
	if !ok {
		return
	}

	result := h.registry.HotSwap(req.Country, req.Key, req.Version)
	status := http.StatusOK
	if !result.Success {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, map[string]any{
		"success":     result.Success,
		"status":      result.Status,
		"message":     result.Message,
		"old_version": result.OldVersion,
		"new_version": req.Version,
	})
}

// POST /v1/evaluate/rulesets/load — load and register a single rule set.
func (h *Handler) loadRuleset(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeSwapRequest(w, r)
	if !ok {
		return
	}

	if err := h.registry.LoadAndRegister(req.Country, req.Key, req.Version); err != nil {
		writeError(w, http.StatusBadRequest, "LOAD_FAILED", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "ruleset loaded successfully",
		"key":     req.Key,
		"version": req.Version,
		"country": req.Country,
	})
}

// POST /v1/evaluate/rulesets/bulk-load
func (h *Handler) bulkLoad(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Rulesets []registry.Spec `json:"rulesets"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	if len(req.Rulesets) == 0 {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "rulesets list is required")
		return
	}

	loaded := h.registry.BulkLoad(req.Rulesets)
	writeJSON(w, http.StatusOK, map[string]any{
		"loaded":    loaded,
		"requested": len(req.Rulesets),
	})
}

// GET /healthz — always 200 (liveness probe).
func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /readyz — 503 if the outbox queue is >80% full.
func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	util := h.svc.QueueUtilization()
	if util > 0.8 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":            "overloaded",
			"queue_utilization": util,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":            "ready",
		"queue_utilization": util,
		"gate_utilization":  h.svc.Gate().Utilization(),
	})
}

// adminOnly rate-limits registry management calls.
func (h *Handler) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.admin.Allow() {
			writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many management requests")
			return
		}
		next(w, r)
	}
}

func (h *Handler) decodeSwapRequest(w http.ResponseWriter, r *http.Request) (swapRequest, bool) {
	var req swapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", fmt.Sprintf("invalid JSON: %s", err))
		return req, false
	}
	if req.Key == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "key is required")
		return req, false
	}
	if req.Version <= 0 {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "version must be positive")
		return req, false
	}
	if req.Country == "" {
		req.Country = registry.FallbackCountry
	}
	return req, true
}
