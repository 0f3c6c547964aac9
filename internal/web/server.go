// Package web provides the HTTP API for mapping management and file
// processing.
package web

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"filebridge/internal/config"
	"filebridge/internal/mapping"
	"filebridge/internal/pipeline"
	"filebridge/internal/web/middleware"
	"filebridge/internal/worker"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

// Pinger verifies backend connectivity for the health check. May be nil when
// running on the memory backend.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Processor runs one file attempt to a terminal state.
type Processor interface {
	Process(ctx context.Context, fileID uuid.UUID) (*pipeline.Result, error)
}

// Server is the HTTP server for the file delivery pipeline.
type Server struct {
	mappings mapping.Store
	registry *mapping.Registry
	jobs     pipeline.JobStore
	ledger   pipeline.LedgerStore
	proc     Processor
	reporter *pipeline.Reporter
	limiter  *worker.Limiter
	db       Pinger
	log      *slog.Logger

	spoolDir    string
	maxFileSize int64
	fileTimeout time.Duration

	router *chi.Mux
	server *http.Server
}

// Deps carries the server's collaborators.
type Deps struct {
	Mappings mapping.Store
	Registry *mapping.Registry
	Jobs     pipeline.JobStore
	Ledger   pipeline.LedgerStore
	Proc     Processor
	Reporter *pipeline.Reporter
	Limiter  *worker.Limiter
	DB       Pinger
	Log      *slog.Logger
}

// NewServer creates the HTTP server with all routes configured.
func NewServer(cfg *config.Config, deps Deps) *Server {
	s := &Server{
		mappings:    deps.Mappings,
		registry:    deps.Registry,
		jobs:        deps.Jobs,
		ledger:      deps.Ledger,
		proc:        deps.Proc,
		reporter:    deps.Reporter,
		limiter:     deps.Limiter,
		db:          deps.DB,
		log:         deps.Log,
		spoolDir:    cfg.Pipeline.SpoolDir,
		maxFileSize: cfg.Pipeline.MaxFileSize,
		fileTimeout: cfg.Pipeline.FileTimeout,
		router:      chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(chimw.RequestID)
	s.router.Use(chimw.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(chimw.Recoverer)

	// 300 requests per minute per IP
	s.router.Use(middleware.NewRateLimiter(300, time.Minute).Middleware)
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		// Mapping management
		r.Get("/mappings", s.handleListMappings)
		r.Post("/mappings", s.handleCreateMapping)
		r.Get("/mappings/{clientCode}", s.handleGetMapping)
		r.Post("/mappings/{clientCode}/activate/{version}", s.handleActivateMapping)
		r.Post("/mappings/{clientCode}/test", s.handleTestMapping)

		// File processing
		r.Get("/files", s.handleListFiles)
		r.Post("/files", s.handleUploadFile)
		r.Get("/files/{fileID}", s.handleGetFile)
		r.Post("/files/{fileID}/process", s.handleProcessFile)
		r.Get("/files/{fileID}/report", s.handleFileReport)
		r.Get("/files/{fileID}/outcomes", s.handleFileOutcomes)
	})
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins listening. Blocks until the server stops.
func (s *Server) Start() error {
	s.log.Info("http server listening", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{"status": "ok"}

	if s.db != nil {
		pingCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.db.Ping(pingCtx); err != nil {
			s.log.Error("health check failed", "error", err)
			status["status"] = "degraded"
			status["database"] = "unreachable"
			respondJSON(w, http.StatusServiceUnavailable, status)
			return
		}
		status["database"] = "ok"
	}

	respondJSON(w, http.StatusOK, status)
}
