package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all price data routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/prices", func(r chi.Router) {
		r.Get("/", h.HandleListSymbols)
		r.Post("/import", h.HandleImportCSV)

		r.Get("/{symbol}", func(w http.ResponseWriter, r *http.Request) {
			h.HandleGetBars(w, r, chi.URLParam(r, "symbol"))
		})
		r.Post("/{symbol}/sync", func(w http.ResponseWriter, r *http.Request) {
			h.HandleSync(w, r, chi.URLParam(r, "symbol"))
		})
		r.Delete("/{symbol}", func(w http.ResponseWriter, r *http.Request) {
			h.HandleDeleteSymbol(w, r, chi.URLParam(r, "symbol"))
		})
	})
}
