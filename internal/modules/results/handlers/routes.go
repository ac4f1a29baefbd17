package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers the results routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/results", func(r chi.Router) {
		r.Get("/", h.HandleListRuns)
		r.Get("/{id}", func(w http.ResponseWriter, req *http.Request) {
			h.HandleGetRun(w, req, chi.URLParam(req, "id"))
		})
		r.Get("/{id}/transactions", func(w http.ResponseWriter, req *http.Request) {
			h.HandleGetRunTransactions(w, req, chi.URLParam(req, "id"))
		})
		r.Delete("/{id}", func(w http.ResponseWriter, req *http.Request) {
			h.HandleDeleteRun(w, req, chi.URLParam(req, "id"))
		})
	})
}
