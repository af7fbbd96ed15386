// Package api exposes the ledger over HTTP: read endpoints for
// transactions, links and reports, the human gate operations, and async
// match jobs.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/eshaffer321/ledger-reconcile/internal/api/handlers"
	"github.com/eshaffer321/ledger-reconcile/internal/api/middleware"
	"github.com/eshaffer321/ledger-reconcile/internal/application/linker"
	"github.com/eshaffer321/ledger-reconcile/internal/application/reconcile"
	"github.com/eshaffer321/ledger-reconcile/internal/infrastructure/storage"
)

// Config holds API server configuration.
type Config struct {
	Port           int
	AllowedOrigins []string
}

// DefaultConfig returns defaults for the API server.
func DefaultConfig() Config {
	return Config{
		Port:           8085,
		AllowedOrigins: []string{"http://localhost:3000"},
	}
}

// Server is the HTTP API server.
type Server struct {
	config     Config
	router     chi.Router
	httpServer *http.Server
	logger     *slog.Logger
	repo       storage.Repository
	linker     *linker.Linker
	jobs       *reconcile.JobService
}

// NewServer creates a new API server. If jobs is nil the job endpoints are
// not mounted.
func NewServer(cfg Config, repo storage.Repository, l *linker.Linker, jobs *reconcile.JobService, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		config: cfg,
		router: chi.NewRouter(),
		logger: logger,
		repo:   repo,
		linker: l,
		jobs:   jobs,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// setupMiddleware configures global middleware.
func (s *Server) setupMiddleware() {
	corsConfig := middleware.DefaultCORSConfig()
	corsConfig.AllowedOrigins = s.config.AllowedOrigins
	s.router.Use(middleware.CORS(corsConfig))

	s.router.Use(middleware.Logging(s.logger))
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	// Health check (no /api prefix - for load balancers)
	s.router.Get("/health", handlers.NewHealthHandler(s.repo).ServeHTTP)

	s.router.Route("/api", func(r chi.Router) {
		txHandler := handlers.NewTransactionsHandler(s.repo, s.linker)
		r.Get("/transactions", txHandler.List)
		r.Get("/transactions/{id}", txHandler.Get)
		r.Post("/transactions/{id}/dispute", txHandler.Dispute)
		r.Post("/transactions/{id}/reopen", txHandler.Reopen)
		r.Post("/transactions/{id}/verify", txHandler.Verify)

		linksHandler := handlers.NewLinksHandler(s.repo, s.linker)
		r.Get("/links", linksHandler.List)
		r.Post("/links/{id}/confirm", linksHandler.Confirm)
		r.Post("/links/{id}/reject", linksHandler.Reject)

		reports := handlers.NewReportsHandler(s.repo)
		r.Get("/review", reports.Review)
		r.Get("/variances", reports.Variances)
		r.Get("/duplicates", reports.Duplicates)

		runsHandler := handlers.NewRunsHandler(s.repo)
		r.Get("/runs", runsHandler.List)
		r.Get("/runs/{id}", runsHandler.Get)

		if s.jobs != nil {
			jobsHandler := handlers.NewJobsHandler(s.jobs)
			r.Post("/jobs", jobsHandler.Start)
			r.Get("/jobs", jobsHandler.List)
			r.Get("/jobs/{id}", jobsHandler.Get)
			r.Post("/jobs/{id}/cancel", jobsHandler.Cancel)
		}
	})
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting API server", "addr", addr)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down API server")

	if s.httpServer == nil {
		return nil
	}

	return s.httpServer.Shutdown(ctx)
}

// Router returns the chi router for testing.
func (s *Server) Router() chi.Router {
	return s.router
}
