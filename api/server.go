/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/operations/*     Operation lifecycle (all four kinds)
  /api/balances/*       Balance queries and recalculation

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

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

// NewRouter creates a new router with all routes configured.
// corsOrigins comes from configuration so deployments can pin their
// own frontend origins.
func NewRouter(h *Handler, corsOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Operation routes. {kind} is one of: caution, consignation,
		// deconsignation, restitution.
		r.Route("/operations", func(r chi.Router) {
			r.Get("/", h.ListOperations)
			r.Route("/{kind}", func(r chi.Router) {
				r.Post("/", h.CreateOperation)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", h.GetOperation)
					r.Put("/", h.UpdateOperation)
					r.Delete("/", h.DeleteOperation)
					r.Post("/validate", h.ValidateOperation)
					r.Get("/statement", h.GetStatement)
				})
			})
		})

		// Balance routes
		r.Route("/balances/{client}/{site}", func(r chi.Router) {
			r.Get("/", h.GetBalance)
			r.Post("/recalculate", h.RecalculateBalance)
		})
	})

	return r
}
