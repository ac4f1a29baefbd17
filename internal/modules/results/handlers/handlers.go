// Package handlers provides the HTTP surface for the persisted run ledger.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/kevinw99/DCA-Backtest-Tool-sub010/internal/modules/results"
)

// Handler handles results HTTP requests
type Handler struct {
	repo *results.Repository
	log  zerolog.Logger
}

// NewHandler creates a new results handler
func NewHandler(repo *results.Repository, log zerolog.Logger) *Handler {
	return &Handler{
		repo: repo,
		log:  log.With().Str("handler", "results").Logger(),
	}
}

// HandleListRuns handles GET /api/results?limit=N, newest first.
func (h *Handler) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = n
	}

	runs, err := h.repo.ListRuns(r.Context(), limit)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list runs")
		h.writeError(w, http.StatusInternalServerError, "Failed to list runs")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"runs":  runs,
		"count": len(runs),
	})
}

// HandleGetRun handles GET /api/results/{id}
func (h *Handler) HandleGetRun(w http.ResponseWriter, r *http.Request, id string) {
	rec, err := h.repo.GetRun(r.Context(), id)
	if err != nil {
		h.log.Error().Err(err).Str("runId", id).Msg("Failed to load run")
		h.writeError(w, http.StatusInternalServerError, "Failed to load run")
		return
	}
	if rec == nil {
		h.writeError(w, http.StatusNotFound, "unknown run "+id)
		return
	}

	h.writeJSON(w, http.StatusOK, rec)
}

// HandleGetRunTransactions handles GET /api/results/{id}/transactions,
// in execution order.
func (h *Handler) HandleGetRunTransactions(w http.ResponseWriter, r *http.Request, id string) {
	rec, err := h.repo.GetRun(r.Context(), id)
	if err != nil {
		h.log.Error().Err(err).Str("runId", id).Msg("Failed to load run")
		h.writeError(w, http.StatusInternalServerError, "Failed to load run")
		return
	}
	if rec == nil {
		h.writeError(w, http.StatusNotFound, "unknown run "+id)
		return
	}

	txns, err := h.repo.GetRunTransactions(r.Context(), id)
	if err != nil {
		h.log.Error().Err(err).Str("runId", id).Msg("Failed to load transactions")
		h.writeError(w, http.StatusInternalServerError, "Failed to load transactions")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"runId":        id,
		"transactions": txns,
		"count":        len(txns),
	})
}

// HandleDeleteRun handles DELETE /api/results/{id}
func (h *Handler) HandleDeleteRun(w http.ResponseWriter, r *http.Request, id string) {
	deleted, err := h.repo.DeleteRun(r.Context(), id)
	if err != nil {
		h.log.Error().Err(err).Str("runId", id).Msg("Failed to delete run")
		h.writeError(w, http.StatusInternalServerError, "Failed to delete run")
		return
	}
	if !deleted {
		h.writeError(w, http.StatusNotFound, "unknown run "+id)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"runId":   id,
		"deleted": true,
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
