// Package handlers provides the HTTP surface for portfolio backtests.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/kevinw99/DCA-Backtest-Tool-sub010/internal/domain"
	"github.com/kevinw99/DCA-Backtest-Tool-sub010/internal/modules/portfolio"
	"github.com/kevinw99/DCA-Backtest-Tool-sub010/internal/modules/results"
)

// Handler handles portfolio HTTP requests
type Handler struct {
	provider    domain.PriceProvider
	coordinator *portfolio.Coordinator
	betas       domain.BetaProvider
	results     *results.Repository
	defaults    *domain.ParamsOverride
	log         zerolog.Logger
}

// NewHandler creates a new portfolio handler. betas may be nil, in which
// case beta-scaled overrides are ignored.
func NewHandler(
	provider domain.PriceProvider,
	coordinator *portfolio.Coordinator,
	betas domain.BetaProvider,
	resultsRepo *results.Repository,
	defaults *domain.ParamsOverride,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		provider:    provider,
		coordinator: coordinator,
		betas:       betas,
		results:     resultsRepo,
		defaults:    defaults,
		log:         log.With().Str("handler", "portfolio").Logger(),
	}
}

// portfolioRequest is the POST /api/portfolio body. Params is the shared
// request parameter layer; TickerOverrides adjusts single symbols on top of
// it. BetaScaledOverrides derives grid and profit overrides from each
// symbol's stored beta; explicit ticker overrides win over derived ones.
type portfolioRequest struct {
	Symbols          []string                         `json:"symbols"`
	StartDate        domain.Date                      `json:"startDate"`
	EndDate          domain.Date                      `json:"endDate"`
	TotalCapital     float64                          `json:"totalCapital"`
	MarginFraction   float64                          `json:"marginFraction,omitempty"`
	Params           *domain.ParamsOverride           `json:"params,omitempty"`
	TickerOverrides  map[string]domain.ParamsOverride `json:"tickerOverrides,omitempty"`
	MembershipEvents []portfolio.MembershipEvent      `json:"membershipEvents,omitempty"`

	BetaScaledOverrides   bool `json:"betaScaledOverrides,omitempty"`
	EnableDeferredSelling bool `json:"enableDeferredSelling,omitempty"`
}

// HandlePortfolio handles POST /api/portfolio. The run executes
// synchronously; the response carries the persisted run ID plus the full
// result.
func (h *Handler) HandlePortfolio(w http.ResponseWriter, r *http.Request) {
	var req portfolioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(req.Symbols) == 0 {
		h.writeError(w, http.StatusBadRequest, "symbols are required")
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

	params := domain.Merge(h.defaults, req.Params, nil)
	if err := params.Validate(); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	cfg := portfolio.Config{
		Symbols:               req.Symbols,
		TotalCapital:          req.TotalCapital,
		MarginFraction:        req.MarginFraction,
		Params:                params,
		TickerOverrides:       req.TickerOverrides,
		MembershipEvents:      req.MembershipEvents,
		EnableDeferredSelling: req.EnableDeferredSelling,
	}

	symbols := cfg.Participants()
	if req.BetaScaledOverrides {
		if h.betas == nil {
			h.log.Warn().Msg("beta-scaled overrides requested but no beta provider is wired")
		} else {
			cfg.TickerOverrides = h.betaScaledOverrides(r.Context(), symbols, params, cfg.TickerOverrides)
		}
	}

	series, ok := h.fetchSeries(w, r, symbols, req.StartDate, req.EndDate)
	if !ok {
		return
	}

	res, err := h.coordinator.Run(r.Context(), cfg, series)
	if err != nil {
		h.writeRunError(w, err)
		return
	}

	runID, err := h.results.SavePortfolioRun(r.Context(), cfg, res)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to persist portfolio run")
		h.writeError(w, http.StatusInternalServerError, "Failed to persist run")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"runId":  runID,
		"result": res,
	})
}

// writeRunError maps coordinator failures onto status codes. A capital leak
// is surfaced verbatim: the delta and day are the operator's diagnosis
// starting point and must never be swallowed.
func (h *Handler) writeRunError(w http.ResponseWriter, err error) {
	var vErr *domain.ValidationError
	var leak *domain.CapitalLeakError
	switch {
	case errors.As(err, &vErr):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &leak):
		h.log.Error().
			Str("day", leak.Day.Key()).
			Float64("delta", leak.Delta).
			Float64("cash", leak.Cash).
			Float64("deployed", leak.Deploy).
			Msg("portfolio run aborted on capital leak")
		h.writeError(w, http.StatusInternalServerError, err.Error())
	default:
		h.log.Error().Err(err).Msg("Portfolio run failed")
		h.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// fetchSeries resolves every participant's bar series. Symbols without any
// data are left out of the map so the coordinator records them as skipped;
// truncated ranges proceed on the available bars. On failure the response
// has already been written.
func (h *Handler) fetchSeries(w http.ResponseWriter, r *http.Request, symbols []string, start, end domain.Date) (map[string][]domain.DailyBar, bool) {
	series := make(map[string][]domain.DailyBar, len(symbols))
	for _, sym := range symbols {
		bars, err := h.provider.GetDailyBars(r.Context(), sym, start, end)
		if err != nil {
			var pr *domain.PartialRangeError
			var nf *domain.NotFoundError
			var vErr *domain.ValidationError
			switch {
			case errors.As(err, &pr):
				h.log.Warn().
					Str("symbol", sym).
					Str("availableStart", pr.AvailableStart.String()).
					Str("availableEnd", pr.AvailableEnd.String()).
					Msg("requested range truncated, using available bars")
				bars = pr.Bars
			case errors.As(err, &nf):
				h.log.Warn().Str("symbol", sym).Msg("no price data, symbol will be skipped")
				continue
			case errors.As(err, &vErr):
				h.writeError(w, http.StatusBadRequest, err.Error())
				return nil, false
			default:
				h.log.Error().Err(err).Str("symbol", sym).Msg("Failed to fetch prices")
				h.writeError(w, http.StatusInternalServerError, "Failed to fetch price data")
				return nil, false
			}
		}
		series[sym] = bars
	}
	return series, true
}

// betaScaledOverrides derives grid and profit overrides from each symbol's
// beta and layers them under the caller's explicit ticker overrides. A
// failed derivation falls back to the unscaled parameters rather than
// aborting the run.
func (h *Handler) betaScaledOverrides(ctx context.Context, symbols []string, base domain.Params, explicit map[string]domain.ParamsOverride) map[string]domain.ParamsOverride {
	derived, err := portfolio.BetaScaledOverrides(ctx, h.betas, symbols, base)
	if err != nil {
		h.log.Warn().Err(err).Msg("beta scaling failed, using unscaled parameters")
		return explicit
	}
	return portfolio.MergeScaledOverrides(derived, explicit)
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
