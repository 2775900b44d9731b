/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers and roles to
  routes.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the back-office frontend
  5. Auth:       Caller identity (see auth.go), everything under /api
                 except /api/health

ROUTE GROUPS:
  /api/units/*          Inventory units
  /api/sales/*          Sales, schedule, reprogramming, commissions
  /api/installments/*   Installment payments
  /api/amortization/*   Schedule preview
  /api/admin/*          Admin operations
  /api/scenarios/*      Demo scenarios (only when enabled)
  /api/ws               Live event stream

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterOptions carries what the router needs besides the handler.
type RouterOptions struct {
	Auth        *Authenticator
	Events      http.Handler // websocket endpoint, optional
	CORSOrigins []string
	Demo        bool
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	if opts.Auth == nil {
		opts.Auth = NewAuthenticator("")
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Actor-ID", "X-Actor-Roles"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)

		r.Group(func(r chi.Router) {
			r.Use(opts.Auth.Middleware)
			routes(r, h, opts)
		})
	})

	return r
}

// routes registers everything behind authentication.
func routes(r chi.Router, h *Handler, opts RouterOptions) {
	r.Route("/units", func(r chi.Router) {
		r.Get("/", h.ListUnits)
		r.With(RequireRole(RoleClerk, RoleManager)).Post("/", h.RegisterUnit)
	})

	r.Route("/sales", func(r chi.Router) {
		r.Get("/", h.ListSales)
		r.With(RequireRole(RoleClerk, RoleManager)).Post("/", h.CreateSale)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetSale)
			r.With(RequireRole(RoleAdmin)).Delete("/", h.DeleteSale)

			// Approval and plan changes
			r.Group(func(r chi.Router) {
				r.Use(RequireRole(RoleManager))
				r.Post("/approve", h.ApproveSale)
				r.Post("/reject", h.RejectSale)
				r.Post("/reprogram", h.Reprogram)
			})

			r.Get("/cancellations", h.ListCancellations)
			r.With(RequireRole(RoleClerk, RoleManager)).Post("/cancellations", h.RequestCancellation)

			r.With(RequireRole(RoleClerk, RoleManager)).Post("/schedule", h.PlanSchedule)
			r.Get("/schedule/summary", h.ScheduleSummary)
			r.Get("/schedule/remainder", h.UnpaidRemainder)
			r.Get("/schedule/export", h.ExportSchedule)
			r.Get("/installments", h.ListInstallments)
			r.Get("/reprogrammings", h.ListReprogrammings)

			r.Get("/commissions", h.CommissionSummary)
			r.With(RequireRole(RoleAccountant)).Post("/commissions", h.RecordCommission)

			r.Get("/audit", h.AuditTrail)
		})
	})

	r.Route("/installments", func(r chi.Router) {
		r.With(RequireRole(RoleClerk, RoleManager, RoleAccountant)).Post("/{id}/payments", h.PayInstallment)
	})

	r.Post("/amortization/preview", h.PreviewAmortization)

	r.Route("/admin", func(r chi.Router) {
		r.Use(RequireRole(RoleAdmin))
		r.Post("/overdue/refresh", h.RefreshOverdue)
	})

	if opts.Demo {
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.With(RequireRole(RoleAdmin)).Post("/load", h.LoadScenario)
		})
	}

	if opts.Events != nil {
		r.Handle("/ws", opts.Events)
	}
}
