package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/cubeline/cubeline/internal/api/handlers"
	"github.com/cubeline/cubeline/internal/api/middleware"
	"github.com/cubeline/cubeline/internal/config"
)

// NewRouter creates the HTTP router with all API routes.
func NewRouter(cfg *config.Config, h *handlers.Handlers) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5))
	r.Use(middleware.Logger)
	r.Use(middleware.Telemetry)
	// CORS must answer preflights before auth; OPTIONS carries no credentials.
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id", "X-API-Key"},
		ExposedHeaders:   []string{"X-Request-Id", "X-Trace-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.NewAPIKeyAuth(cfg.APIKeys).Middleware)

	// Health & info
	r.Get("/health", h.Health)
	r.Get("/version", versionHandler(cfg))

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/chat", h.Chat)
		r.Post("/agents/invoke", h.InvokeAgent)

		r.Route("/context/{sessionID}", func(r chi.Router) {
			r.Get("/", h.GetContext)
			r.Delete("/", h.ResetContext)
		})

		r.Get("/schema", h.GetSchema)
		r.Get("/stats", h.GetStats)

		r.Route("/revenue", func(r chi.Router) {
			r.Get("/by-region", h.RevenueByRegion)
			r.Get("/by-year", h.RevenueByYear)
			r.Get("/by-category", h.RevenueByCategory)
		})
	})

	return r
}

func versionHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"version": cfg.Version,
			"service": "cubeline",
		})
	}
}
