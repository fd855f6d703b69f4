package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter builds the HTTP surface. apiKey guards the client API when set;
// /metrics stays open for scrapers either way.
func NewRouter(h *Handler, apiKey string, reg *prometheus.Registry) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware)
	r.Use(middleware.Recoverer)

	if reg != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}

	r.Route("/api/client", func(r chi.Router) {
		r.Use(AuthMiddleware(apiKey))

		r.Get("/health", h.Health)
		r.Get("/sync-data", h.SyncData)
		r.Post("/acknowledge", h.Acknowledge)
		r.Get("/stats", h.Stats)
		r.Get("/diag", h.Diag)

		r.Get("/captures", h.ListCaptures)
		r.Get("/captures/export", h.ExportCaptures)
		r.Post("/captures/import", h.ImportCaptures)
		r.Post("/captures/toggle", h.ToggleCapture)
		r.Get("/captures/{pokemonID}", h.IsCaptured)
		r.Post("/favorites", h.Favorite)
		r.Get("/pokemon/{pokemonID}", h.GetPokemon)
		r.Get("/pokemon/{pokemonID}/flavor", h.GetFlavor)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		WriteProblem(w, r, http.StatusNotFound, "Resource not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		WriteProblem(w, r, http.StatusMethodNotAllowed, "Method not allowed for this resource")
	})

	return r
}
