// Package web provides the HTTP JSON API for semsync.
package web

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/semsync/semsync/internal/config"
	"github.com/semsync/semsync/internal/project"
	"github.com/semsync/semsync/internal/search"
	syncer "github.com/semsync/semsync/internal/sync"
)

// ServerConfig holds the collaborators exposed over HTTP.
type ServerConfig struct {
	Host      string
	Port      int
	Config    *config.Config
	Registry  *project.Registry
	Scheduler *syncer.Scheduler
	Searcher  *search.Searcher
	Logger    *zap.Logger
}

// Server is the HTTP API server.
type Server struct {
	config  ServerConfig
	router  *chi.Mux
	handler *Handler
	logger  *zap.Logger
}

// NewServer creates the API server with its routes and middleware.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	s := &Server{
		config: cfg,
		router: chi.NewRouter(),
		logger: cfg.Logger,
	}
	s.handler = NewHandler(cfg.Config, cfg.Registry, cfg.Scheduler, cfg.Searcher, cfg.Logger)
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))
	s.router.Use(middleware.Compress(5))
}

func (s *Server) setupRoutes() {
	s.router.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handler.Health)
		r.Get("/status", s.handler.Status)
		r.Get("/search", s.handler.Search)

		r.Route("/projects", func(r chi.Router) {
			r.Get("/", s.handler.ListProjects)
			r.Post("/", s.handler.RegisterProject)
			r.Delete("/{projectID}", s.handler.UnregisterProject)
			r.Post("/{projectID}/sync", s.handler.SyncProject)
			r.Get("/{projectID}/status", s.handler.ProjectStatus)
		})
	})
}

// Router returns the chi router for external use.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting api server", zap.String("addr", addr))
	return http.ListenAndServe(addr, s.router)
}
