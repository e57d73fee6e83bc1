// Package server exposes file ingestion and operational status over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/gyeh/tm2ingest/internal/config"
	"github.com/gyeh/tm2ingest/internal/ingest"
	"github.com/gyeh/tm2ingest/internal/staging"
	"github.com/gyeh/tm2ingest/internal/submit"
)

// Deps are the components the handlers operate on.
type Deps struct {
	Pipeline *ingest.Pipeline
	Store    staging.Store
	BatchLog staging.BatchLog
	Client   submit.Client
	// MaxFileBytes limits uploads; zero means config.DefaultMaxFileBytes.
	MaxFileBytes int64
}

// Server is the HTTP front end of the ingestion pipeline.
type Server struct {
	deps   Deps
	log    zerolog.Logger
	router *chi.Mux
	server *http.Server
}

// New builds a Server with its routes mounted.
func New(deps Deps, log zerolog.Logger) *Server {
	if deps.MaxFileBytes <= 0 {
		deps.MaxFileBytes = config.DefaultMaxFileBytes
	}
	s := &Server{
		deps:   deps,
		log:    log.With().Str("component", "http").Logger(),
		router: chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger(s.log))
	s.router.Use(middleware.Recoverer)
}

func (s *Server) setupRoutes() {
	s.router.Get("/", s.handleIndex)
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Post("/ingest/trigger", s.handleTrigger)
		r.Get("/status", s.handleStatus)
		r.Get("/records", s.handleRecords)
	})
}

// Start listens on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.log.Info().Str("addr", addr).Msg("http server listening")
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.log.Debug().Int("status", status).Msg(message)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("json encode")
	}
}
