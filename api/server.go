/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging through the component logger
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the front desk UI

ROUTE GROUPS:
  /health               Liveness
  /metrics              Prometheus scrape endpoint (optional)
  /api/staff/*          Staff directory and commission ledger
  /api/treatments/*     Catalog
  /api/assignments/*    Assignments, sessions, progress and audit
  /api/reports/*        Revenue report

SECURITY NOTE:
  No authentication middleware. The server is meant to listen on the
  clinic's local network only.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/spa-admin/session-engine/logger"
)

// RouterOptions configures the parts of the router that vary by deployment.
type RouterOptions struct {
	AllowedOrigins []string
	Metrics        bool
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{
		Logger:  log.New(h.Log.Writer(logger.LevelInfo, "http"), "", 0),
		NoColor: true,
	}))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if opts.Metrics {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		// Staff routes
		r.Route("/staff", func(r chi.Router) {
			r.Get("/", h.ListStaff)
			r.Post("/", h.CreateStaff)
			r.Get("/{id}/commissions", h.GetStaffCommissions)
		})

		// Catalog routes
		r.Route("/treatments", func(r chi.Router) {
			r.Get("/", h.ListTreatments)
			r.Post("/", h.CreateTreatment)
		})

		// Assignment and session routes
		r.Route("/assignments", func(r chi.Router) {
			r.Get("/", h.ListAssignments)
			r.Post("/", h.CreateAssignment)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetAssignment)
				r.Get("/progress", h.GetProgress)
				r.Get("/audit", h.AuditAssignment)
				r.Get("/sessions", h.ListSessions)
				r.Post("/sessions", h.RegisterSession)
				r.Put("/sessions/{number}", h.ModifySession)
			})
		})

		// Report routes
		r.Route("/reports", func(r chi.Router) {
			r.Get("/revenue", h.GetRevenue)
		})
	})

	return r
}
