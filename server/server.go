// Package server assembles the HTTP surface: the JSON-RPC entrypoint, the
// admin API, health and readiness probes, and Prometheus exposition. All
// routing goes through a chi mux with clue request logging; authentication is
// delegated to the apikey middleware.
package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"goa.design/clue/health"
	"goa.design/clue/log"

	"github.com/switchboard-ai/switchboard/auth/apikey"
	"github.com/switchboard-ai/switchboard/runtime/orchestrator"
	"github.com/switchboard-ai/switchboard/runtime/router"
)

type (
	// Options are the server dependencies. Router is required; everything
	// else degrades gracefully when absent.
	Options struct {
		// Router handles message/send.
		Router *router.Router
		// Orchestrator handles workflow/execute. Nil disables the method.
		Orchestrator *orchestrator.Orchestrator
		// Keys backs the admin surface. Nil disables /admin.
		Keys *apikey.Service
		// Auth authenticates non-public paths. Nil leaves the surface open.
		Auth *apikey.Middleware
		// Metrics receives request instrumentation. Nil disables /metrics.
		Metrics *Metrics
		// Pingers feed the readiness probe.
		Pingers []health.Pinger
		// AllowedOrigins is the CORS allow list. Empty disables CORS handling.
		AllowedOrigins []string
	}

	// Server is the assembled HTTP surface.
	Server struct {
		router       *router.Router
		orchestrator *orchestrator.Orchestrator
		keys         *apikey.Service
		auth         *apikey.Middleware
		metrics      *Metrics
		pingers      []health.Pinger
		origins      []string
	}
)

// New validates the options and builds a Server.
func New(opts Options) (*Server, error) {
	if opts.Router == nil {
		return nil, errors.New("router is required")
	}
	return &Server{
		router:       opts.Router,
		orchestrator: opts.Orchestrator,
		keys:         opts.Keys,
		auth:         opts.Auth,
		metrics:      opts.Metrics,
		pingers:      opts.Pingers,
		origins:      opts.AllowedOrigins,
	}, nil
}

// Handler builds the route tree. ctx must carry the clue logger; it is
// attached to every request.
func (s *Server) Handler(ctx context.Context) http.Handler {
	mux := chi.NewRouter()
	mux.Use(log.HTTP(ctx))
	if len(s.origins) > 0 {
		mux.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.origins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type"},
			MaxAge:         300,
		}))
	}

	// Liveness is unconditional; readiness fans out to the storage pingers.
	mux.Method(http.MethodGet, "/health", health.Handler(health.NewChecker()))
	mux.Method(http.MethodGet, "/ready", health.Handler(health.NewChecker(s.pingers...)))
	if s.metrics != nil {
		mux.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	mux.Group(func(g chi.Router) {
		if s.auth != nil {
			g.Use(s.auth.Handler)
		}
		g.Post("/", s.handleRPC)
		if s.keys != nil {
			g.Route("/admin/organizations", func(ar chi.Router) {
				ar.Use(requireScope(AdminScope))
				ar.Post("/", s.createOrganization)
				ar.Get("/", s.listOrganizations)
				ar.Get("/{id}", s.getOrganization)
				ar.Post("/{id}/keys", s.createKey)
				ar.Get("/{id}/keys", s.listKeys)
				ar.Delete("/{id}/keys/{keyID}", s.revokeKey)
				ar.Get("/{id}/usage", s.organizationUsage)
			})
		}
	})

	return mux
}
