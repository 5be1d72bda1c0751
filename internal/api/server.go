package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/openmembership/bareme/internal/domain"
	"github.com/openmembership/bareme/internal/engine"
	"github.com/openmembership/bareme/internal/preview"
	"github.com/openmembership/bareme/internal/rules"
	"github.com/openmembership/bareme/internal/tree"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, repo domain.Repository, bus domain.EventBus, eng *engine.Engine, prev *preview.Service, registry *rules.Registry, trees *tree.Engine, version string) *Server {
	handler := NewHandler(repo, bus, eng, prev, registry, trees, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Health endpoints (no organization required)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	// API routes (organization required)
	router.Route("/", func(r chi.Router) {
		r.Use(OrgMiddleware)

		// Fee computation
		r.Post("/fees/compute", handler.ComputeFee)
		r.Get("/fees/computations/{id}", handler.GetComputation)

		// Tariff configuration
		r.Get("/tariffs/{tariffID}/bounds", handler.GetBounds)
		r.Get("/tariffs/{tariffID}/amounts", handler.GetAmounts)
		r.Put("/tariffs/{tariffID}/amounts", handler.PutAmounts)

		// Decision tree lifecycle
		r.Get("/tariffs/{tariffID}/tree", handler.GetTree)
		r.Put("/tariffs/{tariffID}/tree", handler.PutTree)
		r.Post("/tariffs/{tariffID}/tree/duplicate", handler.DuplicateTree)
		r.Post("/tariffs/{tariffID}/tree/lock", handler.LockTree)

		// Reduction rule management
		r.Get("/rules", handler.ListRules)
		r.Get("/rules/{id}", handler.GetRule)
		r.Post("/rules", handler.CreateRule)
		r.Post("/rules/reload", handler.ReloadRules)

		// Bracket table management
		r.Get("/brackets", handler.ListBrackets)
		r.Get("/brackets/{id}", handler.GetBracket)
		r.Post("/brackets", handler.CreateBracket)
		r.Post("/brackets/reload", handler.ReloadBrackets)
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
