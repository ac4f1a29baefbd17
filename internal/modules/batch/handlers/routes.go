package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers the batch routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/batch", func(r chi.Router) {
		r.Post("/", h.HandleStartBatch)
		r.Get("/{id}", func(w http.ResponseWriter, req *http.Request) {
			h.HandleGetBatch(w, req, chi.URLParam(req, "id"))
		})
		r.Get("/{id}/ws", func(w http.ResponseWriter, req *http.Request) {
			h.HandleBatchWS(w, req, chi.URLParam(req, "id"))
		})
	})
}
