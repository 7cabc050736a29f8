/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the back-office frontend

ROUTE GROUPS:
  /api/accounts/*        Chart of Accounts, ledger view, reconciliation
  /api/transactions      Two-leg postings
  /api/journal-entries   Multi-line postings
  /api/postings/*        Lookup and reversal
  /api/audit/*           Audit sweep
  /api/chart/*           Chart seeding
  /healthz               Liveness

SECURITY NOTE:
  No authentication middleware. Deploy behind the back-office gateway.

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

// DefaultAllowedOrigins are used when NewRouter gets no origins.
var DefaultAllowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins ...string) *chi.Mux {
	if len(allowedOrigins) == 0 {
		allowedOrigins = DefaultAllowedOrigins
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Healthz)

	r.Route("/api", func(r chi.Router) {
		// Account routes
		r.Route("/accounts", func(r chi.Router) {
			r.Get("/", h.ListAccounts)
			r.Post("/", h.CreateAccount)
			r.Get("/tree", h.GetAccountTree)
			r.Get("/{id}", h.GetAccount)
			r.Put("/{id}", h.UpdateAccount)
			r.Delete("/{id}", h.DeleteAccount)
			r.Get("/{id}/ancestors", h.GetAncestors)
			r.Get("/{id}/ledger", h.GetLedger)
			r.Get("/{id}/reconcile", h.ReconcileAccount)
		})

		// Posting routes
		r.Post("/transactions", h.CreateTransaction)
		r.Post("/journal-entries", h.CreateJournalEntry)
		r.Route("/postings", func(r chi.Router) {
			r.Get("/{id}", h.GetPosting)
			r.Post("/{id}/reverse", h.ReversePosting)
		})

		// Operations
		r.Route("/audit", func(r chi.Router) {
			r.Get("/", h.GetAudit)
			r.Post("/run", h.RunAudit)
		})
		r.Post("/chart/load", h.LoadChart)
	})

	return r
}
