// Package handlers provides HTTP handlers for price data operations.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/kevinw99/DCA-Backtest-Tool-sub010/internal/clients/alphavantage"
	"github.com/kevinw99/DCA-Backtest-Tool-sub010/internal/domain"
	"github.com/kevinw99/DCA-Backtest-Tool-sub010/internal/modules/prices"
)

// Handler handles price data HTTP requests
type Handler struct {
	repo *prices.Repository
	sync *prices.SyncService
	log  zerolog.Logger
}

// NewHandler creates a new prices handler
func NewHandler(
	repo *prices.Repository,
	sync *prices.SyncService,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		repo: repo,
		sync: sync,
		log:  log.With().Str("handler", "prices").Logger(),
	}
}

// HandleListSymbols handles GET /api/prices
func (h *Handler) HandleListSymbols(w http.ResponseWriter, r *http.Request) {
	coverage, err := h.repo.ListSymbols(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list symbols")
		h.writeError(w, http.StatusInternalServerError, "Failed to list symbols")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"symbols": coverage,
		"count":   len(coverage),
	})
}

// HandleGetBars handles GET /api/prices/{symbol}?start=YYYY-MM-DD&end=YYYY-MM-DD
func (h *Handler) HandleGetBars(w http.ResponseWriter, r *http.Request, symbol string) {
	cov, err := h.repo.GetRange(r.Context(), symbol)
	if err != nil {
		var nfErr *domain.NotFoundError
		if errors.As(err, &nfErr) {
			h.writeError(w, http.StatusNotFound, err.Error())
			return
		}
		h.log.Error().Err(err).Str("symbol", symbol).Msg("Failed to get coverage")
		h.writeError(w, http.StatusInternalServerError, "Failed to get price data")
		return
	}

	start, end := cov.FirstDate, cov.LastDate
	if s := r.URL.Query().Get("start"); s != "" {
		if start, err = domain.ParseDate(s); err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid start date: "+s)
			return
		}
	}
	if e := r.URL.Query().Get("end"); e != "" {
		if end, err = domain.ParseDate(e); err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid end date: "+e)
			return
		}
	}
	if end.Before(start) {
		h.writeError(w, http.StatusBadRequest, "end date precedes start date")
		return
	}

	bars, err := h.repo.GetBars(r.Context(), symbol, start, end)
	if err != nil {
		h.log.Error().Err(err).Str("symbol", symbol).Msg("Failed to get bars")
		h.writeError(w, http.StatusInternalServerError, "Failed to get price data")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"symbol": symbol,
		"start":  start,
		"end":    end,
		"bars":   bars,
		"count":  len(bars),
	})
}

// HandleSync handles POST /api/prices/{symbol}/sync
func (h *Handler) HandleSync(w http.ResponseWriter, r *http.Request, symbol string) {
	if h.sync == nil {
		h.writeError(w, http.StatusServiceUnavailable, "price sync is not configured (missing API key)")
		return
	}

	report, err := h.sync.SyncSymbol(r.Context(), symbol)
	if err != nil {
		status := http.StatusInternalServerError
		var vErr *domain.ValidationError
		switch {
		case errors.As(err, &vErr):
			status = http.StatusBadRequest
		case errors.As(err, &alphavantage.ErrRateLimitExceeded{}):
			status = http.StatusTooManyRequests
		case errors.As(err, &alphavantage.ErrSymbolNotFound{}):
			status = http.StatusNotFound
		case errors.As(err, &alphavantage.ErrInvalidAPIKey{}):
			status = http.StatusServiceUnavailable
		}
		h.log.Error().Err(err).Str("symbol", symbol).Msg("Price sync failed")
		h.writeError(w, status, err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, report)
}

// HandleImportCSV handles POST /api/prices/import?symbol=X with a CSV body
func (h *Handler) HandleImportCSV(w http.ResponseWriter, r *http.Request) {
	symbol := strings.TrimSpace(r.URL.Query().Get("symbol"))
	if symbol == "" {
		h.writeError(w, http.StatusBadRequest, "symbol query parameter is required")
		return
	}

	bars, err := prices.ImportCSV(r.Body)
	if err != nil {
		h.log.Warn().Err(err).Str("symbol", symbol).Msg("CSV import rejected")
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	n, err := h.repo.UpsertBars(r.Context(), symbol, bars)
	if err != nil {
		h.log.Error().Err(err).Str("symbol", symbol).Msg("Failed to store imported bars")
		h.writeError(w, http.StatusInternalServerError, "Failed to store imported bars")
		return
	}

	h.log.Info().Str("symbol", symbol).Int("bars", n).Msg("CSV import completed")
	h.writeJSON(w, http.StatusOK, map[string]any{
		"symbol":   symbol,
		"imported": n,
	})
}

// HandleDeleteSymbol handles DELETE /api/prices/{symbol}
func (h *Handler) HandleDeleteSymbol(w http.ResponseWriter, r *http.Request, symbol string) {
	n, err := h.repo.DeleteSymbol(r.Context(), symbol)
	if err != nil {
		h.log.Error().Err(err).Str("symbol", symbol).Msg("Failed to delete symbol")
		h.writeError(w, http.StatusInternalServerError, "Failed to delete symbol")
		return
	}
	if n == 0 {
		h.writeError(w, http.StatusNotFound, "no price data for symbol "+symbol)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"symbol":  symbol,
		"deleted": n,
	})
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
