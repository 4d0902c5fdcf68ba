/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the dashboard and portal

ROUTE GROUPS:
  /health                 Liveness
  /api/participants/*     Participant ledger (admin)
  /api/groups/*           Sacrifice groups (admin)
  /api/integrity/*        Ledger integrity scan and cleanup (admin)
  /api/schedule           Program months and tariffs
  /api/changes            Server-sent change notifications
  /api/lookup/{id}        Public portal

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a router with all routes configured. allowedOrigins
// comes from configuration.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Route("/participants", func(r chi.Router) {
			r.Get("/", h.ListParticipants)
			r.Post("/", h.CreateParticipant)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetParticipant)
				r.Put("/", h.UpdateParticipant)
				r.Post("/archive", h.ArchiveParticipant)
				r.Get("/status", h.GetStatus)
				r.Get("/credit", h.GetCredit)
				r.Post("/credit/adjustments", h.AdjustCredit)
				r.Post("/lump-sums", h.ProcessLumpSum)
				r.Put("/payments/{month}", h.UpsertPayment)
				r.Post("/payments/{month}/paid", h.SetPaid)
			})
		})

		r.Route("/groups", func(r chi.Router) {
			r.Get("/", h.ListGroups)
			r.Post("/", h.CreateGroup)
			r.Get("/{id}/summary", h.GetGroupSummary)
		})

		r.Route("/integrity", func(r chi.Router) {
			r.Get("/", h.RunIntegrityScan)
			r.Post("/cleanup", h.CleanupDuplicates)
		})

		r.Get("/schedule", h.GetSchedule)
		r.Get("/changes", h.StreamChanges)
		r.Get("/lookup/{id}", h.Lookup)
	})

	return r
}
