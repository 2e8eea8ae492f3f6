/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     One zerolog event per request
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the back-office frontend

ROUTE GROUPS:
  /api/rentals/*         Rentals, periods, bonds, per-rental reconciliation,
                         gap amount corrections
  /api/reconcile         Stateless reconciliation
  /api/import            Legacy import
  /api/alerts/*          Bond expiry alerts
  /api/reconciliation/*  Run history and manual sweep
  /api/scenarios/*       Demo scenarios
  /health                Liveness

SECURITY NOTE:
  No authentication middleware. Deploy behind the back-office gateway.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, corsOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(requestLogger(h.Logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
	}))

	r.Get("/health", h.Health)

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/rentals", func(r chi.Router) {
			r.Get("/", h.ListRentals)
			r.Post("/", h.CreateRental)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetRental)
				r.Get("/periods", h.ListPeriods)
				r.Post("/periods", h.AddPeriods)
				r.Delete("/periods/{periodID}", h.DeletePeriod)
				r.Get("/bonds", h.ListBonds)
				r.Post("/bonds", h.CreateBond)
				r.Get("/reconciliation", h.GetReconciliation)
				r.Get("/gaps.xlsx", h.ExportGaps)
				r.Post("/gap-corrections", h.CorrectGapAmounts)
			})
		})

		r.Post("/reconcile", h.ReconcileSnapshot)
		r.Post("/import", h.ImportRecords)
		r.Get("/alerts/bonds", h.ListBondAlerts)

		// Reconciliation routes
		r.Route("/reconciliation", func(r chi.Router) {
			r.Get("/runs", h.ListReconciliationRuns)
			r.Post("/process", h.TriggerReconciliation)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}

// requestLogger logs method, path, status and latency of every request.
func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			evt := logger.Info()
			if status >= http.StatusInternalServerError {
				evt = logger.Error()
			}
			evt.
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Int("bytes", ww.BytesWritten()).
				Dur("latency", time.Since(start)).
				Msg("request")
		})
	}
}
