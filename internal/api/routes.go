package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// SetupRoutes configures the route tree.
func SetupRoutes(h *Handlers) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", h.HandleHealth)
	r.Get("/health/live", h.HandleLiveness)
	r.Get("/health/ready", h.HandleReadiness)

	r.Route("/api", func(r chi.Router) {
		r.Route("/accounts", func(r chi.Router) {
			r.Get("/", h.ListAccounts)
			r.Post("/", h.LinkAccount)
			r.Route("/{accountID}", func(r chi.Router) {
				r.Get("/", h.GetAccount)
				r.Delete("/", h.UnlinkAccount)
				r.Post("/sync", h.TriggerSync)
				r.Get("/sync-runs", h.ListSyncRuns)
				r.Get("/actions", h.ListActionLog)
				r.Post("/bulk", h.ApplyBulk)
			})
		})
		r.Route("/rules", func(r chi.Router) {
			r.Get("/", h.ListRules)
			r.Post("/", h.CreateRule)
			r.Get("/{ruleID}", h.GetRule)
		})
	})

	return r
}
