package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/me/weaver/internal/config"
	"github.com/me/weaver/internal/ioconv"
	"github.com/me/weaver/internal/orchestrator"
	"github.com/me/weaver/internal/processes"
	"github.com/me/weaver/internal/scheduler"
	"github.com/me/weaver/internal/store"
)

// Server is the Weaver REST API server.
type Server struct {
	router    chi.Router
	logger    *slog.Logger
	config    config.ServerConfig
	startTime time.Time
	store     store.Store
	processes *processes.Manager
	orch      *orchestrator.Orchestrator
	converter *ioconv.Converter
	scheduler scheduler.Scheduler
}

// Option configures optional Server dependencies.
type Option func(*Server)

// WithScheduler sets the scheduler started by StartScheduler and reported
// by /health.
func WithScheduler(sched scheduler.Scheduler) Option {
	return func(s *Server) {
		s.scheduler = sched
	}
}

// New creates a new Server with all routes registered.
func New(cfg config.ServerConfig, st store.Store, procs *processes.Manager, orch *orchestrator.Orchestrator, conv *ioconv.Converter, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		logger:    logger.With("component", "server"),
		config:    cfg,
		startTime: time.Now(),
		store:     st,
		processes: procs,
		orch:      orch,
		converter: conv,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

// StartScheduler begins the scheduling loop in a background goroutine.
func (s *Server) StartScheduler(ctx context.Context) {
	if s.scheduler == nil {
		return
	}
	go func() {
		if err := s.scheduler.Start(ctx); err != nil && err != context.Canceled {
			s.logger.Error("scheduler stopped", "error", err)
		}
	}()
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler returns the http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router

	// Global middleware
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))

	r.Get("/", s.handleDiscovery)
	r.Get("/health", s.handleHealth)

	r.Route("/processes", func(r chi.Router) {
		r.Get("/", s.handleListProcesses)
		r.Post("/", s.handleDeployProcess)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleDescribeProcess)
			r.Delete("/", s.handleUndeployProcess)
			r.Get("/package", s.handleGetPackage)
			r.Put("/visibility", s.handleSetVisibility)
			r.Post("/execution", s.handleExecute)
			r.Get("/jobs", s.handleListJobs)
		})
	})

	r.Route("/jobs", func(r chi.Router) {
		r.Get("/", s.handleListJobs)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetJob)
			r.Delete("/", s.handleDismissJob)
			r.Get("/results", s.handleGetResults)
			r.Get("/logs", s.handleGetLogs)
		})
	})
}
