// Package server provides the HTTP API for kioku.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/memory"
	"github.com/hyperjump/kioku/internal/scanner"
	"github.com/hyperjump/kioku/internal/watcher"
	"github.com/hyperjump/kioku/pkg/utils"
)

// Server is the HTTP server for the memory API.
type Server struct {
	engine  *memory.Engine
	scanner *scanner.Scanner // optional; nil disables /api/v1/scan
	watch   *watcher.Watcher // optional
	config  *config.Config
	logger  *zap.Logger
	server  *http.Server

	// configPath is where scan directory changes are persisted; empty disables it.
	configPath string
	configMu   sync.Mutex
}

// Option configures a Server.
type Option func(*Server)

// WithWatcher keeps w's roots in step with the scan directories.
func WithWatcher(w *watcher.Watcher) Option {
	return func(s *Server) { s.watch = w }
}

// WithConfigPath persists scan directory changes to the config file at path.
func WithConfigPath(path string) Option {
	return func(s *Server) { s.configPath = path }
}

// NewServer creates a server with the given dependencies. scan may be nil.
func NewServer(engine *memory.Engine, scan *scanner.Scanner, cfg *config.Config, logger *zap.Logger, opts ...Option) *Server {
	s := &Server{
		engine:  engine,
		scanner: scan,
		config:  cfg,
		logger:  utils.OrNop(logger),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router returns the HTTP handler with all routes mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/memories", s.handleAddMemory)
		r.Delete("/memories", s.handleClear)
		r.Get("/memories/{id}", s.handleGetMemory)
		r.Delete("/memories/{id}", s.handleDeleteMemory)
		r.Post("/search", s.handleSearch)
		r.Get("/groups/{group}", s.handleListGroup)
		r.Delete("/groups/{group}", s.handleDeleteGroup)
		r.Post("/scan", s.handleScan)
		r.Get("/scan/directories", s.handleScanDirectoriesList)
		r.Post("/scan/directories", s.handleScanDirectoriesAdd)
		r.Delete("/scan/directories", s.handleScanDirectoriesRemove)
		r.Get("/status", s.handleStatus)
	})
	r.Get("/health", s.handleHealth)
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
