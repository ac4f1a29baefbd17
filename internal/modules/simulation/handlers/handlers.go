// Package handlers provides the HTTP surface for single-symbol backtests.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/kevinw99/DCA-Backtest-Tool-sub010/internal/domain"
	"github.com/kevinw99/DCA-Backtest-Tool-sub010/internal/modules/results"
	"github.com/kevinw99/DCA-Backtest-Tool-sub010/internal/modules/simulation"
)

// Handler handles simulation HTTP requests
type Handler struct {
	provider domain.PriceProvider
	engine   *simulation.Engine
	results  *results.Repository
	defaults *domain.ParamsOverride
	log      zerolog.Logger
}

// NewHandler creates a new simulation handler. defaults is the
// deployment-wide parameter layer from config; nil means hardcoded defaults
// only.
func NewHandler(
	provider domain.PriceProvider,
	engine *simulation.Engine,
	resultsRepo *results.Repository,
	defaults *domain.ParamsOverride,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		provider: provider,
		engine:   engine,
		results:  resultsRepo,
		defaults: defaults,
		log:      log.With().Str("handler", "simulation").Logger(),
	}
}

// simulateRequest is the POST /api/simulate body. Params is the request
// parameter layer; ParamOverrides applies on top of it.
type simulateRequest struct {
	Symbol         string                 `json:"symbol"`
	StartDate      domain.Date            `json:"startDate"`
	EndDate        domain.Date            `json:"endDate"`
	Params         *domain.ParamsOverride `json:"params,omitempty"`
	ParamOverrides *domain.ParamsOverride `json:"paramOverrides,omitempty"`
}

// HandleSimulate handles POST /api/simulate. The run executes synchronously;
// the response carries the persisted run ID plus the full result.
func (h *Handler) HandleSimulate(w http.ResponseWriter, r *http.Request) {
	var req simulateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Symbol == "" {
		h.writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}
	if req.StartDate.IsZero() || req.EndDate.IsZero() {
		h.writeError(w, http.StatusBadRequest, "startDate and endDate are required")
		return
	}
	if req.EndDate.Before(req.StartDate) {
		h.writeError(w, http.StatusBadRequest, "endDate precedes startDate")
		return
	}

	params := domain.Merge(h.defaults, req.Params, req.ParamOverrides)
	if err := params.Validate(); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	bars, ok := h.fetchBars(w, r, req.Symbol, req.StartDate, req.EndDate)
	if !ok {
		return
	}

	res, err := h.engine.Run(r.Context(), req.Symbol, params, bars)
	if err != nil {
		var vErr *domain.ValidationError
		if errors.As(err, &vErr) {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.log.Error().Err(err).Str("symbol", req.Symbol).Msg("Simulation failed")
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	runID, err := h.results.SaveSingleRun(r.Context(), res)
	if err != nil {
		h.log.Error().Err(err).Str("symbol", req.Symbol).Msg("Failed to persist run")
		h.writeError(w, http.StatusInternalServerError, "Failed to persist run")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"runId":  runID,
		"result": res,
	})
}

// fetchBars resolves the price series for a run. A truncated range is not an
// error at this surface: the run proceeds on the available bars, matching the
// batch runner. On failure the response has already been written.
func (h *Handler) fetchBars(w http.ResponseWriter, r *http.Request, symbol string, start, end domain.Date) ([]domain.DailyBar, bool) {
	bars, err := h.provider.GetDailyBars(r.Context(), symbol, start, end)
	if err == nil {
		return bars, true
	}

	var pr *domain.PartialRangeError
	var nf *domain.NotFoundError
	var vErr *domain.ValidationError
	switch {
	case errors.As(err, &pr):
		h.log.Warn().
			Str("symbol", symbol).
			Str("availableStart", pr.AvailableStart.String()).
			Str("availableEnd", pr.AvailableEnd.String()).
			Msg("requested range truncated, using available bars")
		return pr.Bars, true
	case errors.As(err, &nf):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &vErr):
		h.writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.log.Error().Err(err).Str("symbol", symbol).Msg("Failed to fetch prices")
		h.writeError(w, http.StatusInternalServerError, "Failed to fetch price data")
	}
	return nil, false
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError writes a JSON error response
func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
