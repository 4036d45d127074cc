package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/retentionlabs/kestrel/internal/board"
	"github.com/retentionlabs/kestrel/internal/domain"
	"github.com/retentionlabs/kestrel/internal/rules"
	"github.com/retentionlabs/kestrel/internal/weights"
	"github.com/retentionlabs/kestrel/internal/workflow"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, repo domain.Repository, cache domain.Cache, bus domain.EventBus, workflows *workflow.Store, controller *board.Controller, ws *weights.Store, engine *rules.Engine, version string) *Server {
	handler := NewHandler(repo, cache, bus, workflows, controller, ws, engine, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for the dashboard frontend
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Health endpoints
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	// Read routes (operator optional)
	router.Group(func(r chi.Router) {
		r.Use(OperatorMiddleware(false))

		r.Get("/board", handler.GetBoard)
		r.Get("/customers", handler.ListCustomers)
		r.Get("/customers/{id}", handler.GetCustomer)
		r.Get("/customers/{id}/timeline", handler.GetTimeline)
		r.Get("/weights", handler.GetWeights)
		r.Get("/rules", handler.ListRules)
	})

	// Mutating routes (operator required)
	router.Group(func(r chi.Router) {
		r.Use(OperatorMiddleware(true))

		r.Post("/board/move", handler.MoveCard)

		r.Post("/customers/{id}/treatment", handler.StartTreatment)
		r.Put("/customers/{id}/status", handler.SetStatus)
		r.Put("/customers/{id}/tags", handler.SetTags)
		r.Put("/customers/{id}/owner", handler.SetOwner)

		r.Put("/weights", handler.SaveWeights)

		r.Post("/rules", handler.CreateRule)
		r.Delete("/rules/{id}", handler.DeleteRule)
		r.Post("/rules/reload", handler.ReloadRules)

		r.Post("/snapshots", handler.UpsertSnapshot)
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
