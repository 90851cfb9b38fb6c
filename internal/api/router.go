package api

import (
	"encoding/json"
	"net/http"

	"github.com/loopcrm/engine/internal/api/handlers"
	"github.com/loopcrm/engine/internal/api/middleware"
	"github.com/loopcrm/engine/internal/config"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
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
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id", "X-Trace-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health & info
	r.Get("/health", healthHandler)
	r.Get("/version", versionHandler(cfg))

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		// Engine entry points
		r.Post("/scores/compute", h.ComputeScores)
		r.Post("/triggers/evaluate", h.EvaluateTriggers)
		r.Post("/actions/execute", h.ExecuteAction)

		// Ingestion collaborator endpoint
		r.Post("/interactions", h.IngestInteraction)

		// Contacts
		r.Route("/contacts", func(r chi.Router) {
			r.Get("/", h.ListContacts)
			r.Post("/", h.CreateContact)
			r.Route("/{contactID}", func(r chi.Router) {
				r.Get("/", h.GetContact)
				r.Put("/", h.UpdateContact)
				r.Delete("/", h.DeleteContact)

				r.Get("/variables", h.ListContactVariables)
				r.Post("/variables", h.SetContactVariable)
				r.Get("/interactions", h.ListContactInteractions)
				r.Get("/tasks", h.ListContactTasks)
				r.Get("/score-history", h.ListContactScoreHistory)
				r.Get("/executions", h.ListContactExecutions)
			})
		})

		// Triggers (rules)
		r.Route("/triggers", func(r chi.Router) {
			r.Get("/", h.ListTriggers)
			r.Post("/", h.CreateTrigger)
			r.Route("/{triggerID}", func(r chi.Router) {
				r.Get("/", h.GetTrigger)
				r.Put("/", h.UpdateTrigger)
				r.Delete("/", h.DeleteTrigger)
			})
		})

		// Flows
		r.Route("/flows", func(r chi.Router) {
			r.Get("/", h.ListFlows)
			r.Post("/", h.CreateFlow)
			r.Route("/{flowID}", func(r chi.Router) {
				r.Get("/", h.GetFlow)
				r.Put("/", h.UpdateFlow)
				r.Delete("/", h.DeleteFlow)
				r.Post("/run", h.RunFlow)

				r.Route("/assignments", func(r chi.Router) {
					r.Get("/", h.ListFlowAssignments)
					r.Post("/", h.AssignFlow)
				})
			})
		})

		// Cross-sell configuration
		r.Route("/allied-industries", func(r chi.Router) {
			r.Get("/", h.ListAlliedIndustries)
			r.Post("/", h.CreateAlliedIndustry)
		})
	})

	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"service": "loopcrm-engine",
	})
}

func versionHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"version": cfg.Version,
			"service": "loopcrm-engine",
		})
	}
}
