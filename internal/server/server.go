// Package server provides the HTTP API for Bunsho.
package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/bunsho/internal/config"
	"github.com/hyperjump/bunsho/internal/indexer"
	"github.com/hyperjump/bunsho/internal/render"
	"github.com/hyperjump/bunsho/internal/search"
	"github.com/hyperjump/bunsho/internal/storage"
	"github.com/hyperjump/bunsho/internal/watcher"
)

// WatchService is the part of the watcher the API manages.
type WatchService interface {
	Directories() []string
	AddDirectory(path string, syncExisting bool) error
	RemoveDirectory(path string) error
	Stats() watcher.Stats
}

// Dependencies are the components the API serves.
type Dependencies struct {
	Search  *search.Engine
	Render  *render.Engine
	Indexer *indexer.Indexer
	Storage storage.Storage
	// Vectors reports fast vector availability; defaults to Storage.
	Vectors storage.VectorSearcher
}

// Server is the HTTP server for the Bunsho API.
type Server struct {
	search  *search.Engine
	render  *render.Engine
	indexer *indexer.Indexer
	storage storage.Storage
	vectors storage.VectorSearcher

	config     *config.Config
	configPath string
	configMu   sync.Mutex
	watch      WatchService

	validate *validator.Validate
	logger   *zap.Logger
	server   *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithWatch enables the watch directory endpoints. When configPath is set,
// directory changes are saved back to the config file.
func WithWatch(w WatchService, configPath string) Option {
	return func(s *Server) {
		s.watch = w
		s.configPath = configPath
	}
}

// NewServer creates a server with the given dependencies.
func NewServer(deps Dependencies, cfg *config.Config, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		search:   deps.Search,
		render:   deps.Render,
		indexer:  deps.Indexer,
		storage:  deps.Storage,
		vectors:  deps.Vectors,
		config:   cfg,
		validate: validator.New(),
		logger:   logger,
	}
	if s.vectors == nil {
		s.vectors = deps.Storage
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Router builds the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Get("/health", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/status", s.handleStatus)

		r.Post("/search", s.handleSearch)
		r.Post("/semsearch", s.handleSemanticSearch)

		r.Post("/documents", s.handleIngestDocument)
		r.Get("/documents/{id}", s.handleGetDocument)
		r.Delete("/documents/{id}", s.handleDeleteDocument)
		r.Get("/documents/{id}/render", s.handleRenderDocument)
		r.Post("/documents/{id}/render", s.handleRenderFiltered)

		r.Get("/nodes/{shortID}", s.handleGetNode)
		r.Get("/nodes/{shortID}/render", s.handleRenderNode)

		r.Get("/projects", s.handleListProjects)
		r.Post("/projects", s.handleCreateProject)
		r.Post("/projects/{name}/members", s.handleAddMember)
		r.Get("/topics", s.handleListTopics)
		r.Post("/topics", s.handleCreateTopic)
		r.Post("/topics/{name}/tags", s.handleTagTarget)

		r.Route("/watch/directories", func(r chi.Router) {
			r.Use(s.requireWatch)
			r.Get("/", s.handleWatchList)
			r.Post("/", s.handleWatchAdd)
			r.Delete("/", s.handleWatchRemove)
		})
	})
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := s.config.Server.Addr()
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

// requestLogger tags each request with an id and logs it once served.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", reqID)
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			zap.String("request_id", reqID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}
