package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers the portfolio routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/portfolio", h.HandlePortfolio)
}
