package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/apsjohn/pianovision-fingerings/internal/engine"
	"github.com/apsjohn/pianovision-fingerings/internal/worker"
)

// Config holds server configuration
type Config struct {
	Port        int
	MaxUploadMB int
	JobTTL      time.Duration
}

// EngineState reports the bootstrap state for health checks
type EngineState interface {
	State() engine.State
}

// Server is the HTTP server
type Server struct {
	config Config
	router *chi.Mux
	logger *slog.Logger
	jobs   *JobManager
	worker *worker.Worker
	engine EngineState
}

// New creates a new server on top of a running worker
func New(cfg Config, w *worker.Worker, eng EngineState, logger *slog.Logger) *Server {
	if cfg.MaxUploadMB <= 0 {
		cfg.MaxUploadMB = 16
	}
	if cfg.JobTTL <= 0 {
		cfg.JobTTL = 10 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "server")

	s := &Server{
		config: cfg,
		router: chi.NewRouter(),
		logger: logger,
		jobs:   NewJobManager(w, cfg.JobTTL, logger),
		worker: w,
		engine: eng,
	}

	s.setupRoutes()
	return s
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Jobs returns the job manager
func (s *Server) Jobs() *JobManager {
	return s.jobs
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	r := s.router

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/ws", s.handleWS)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Logger)
		r.Use(middleware.Compress(5, "application/json"))

		r.Post("/fingering", s.handleSubmit)
		r.Get("/status/{id}", s.handleStatus)
		r.Get("/result/{id}", s.handleResult)
		r.Get("/download/{id}/midi", s.handleDownloadMIDI)
	})
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.config.Port)

	srv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // Long for SSE
		IdleTimeout:  60 * time.Second,
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()

		s.logger.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("shutdown error", slog.Any("error", err))
		}
		s.jobs.Close()
	}()

	s.logger.Info("server starting", slog.Int("port", s.config.Port))

	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	<-done
	return nil
}
