// Package http provides the HTTP server and handlers.
package http //nolint:revive // package name conflicts with stdlib but is acceptable in this context

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/jobrunner/geofetch/internal/application"
	"github.com/jobrunner/geofetch/internal/config"
	"github.com/jobrunner/geofetch/internal/ports/input"
)

// Syncer triggers a boundary sync from remote storage.
type Syncer interface {
	TriggerSync(ctx context.Context) (application.SyncResult, error)
}

// RequestDefaults fills fields a job request leaves out.
type RequestDefaults struct {
	Scale        float64
	Clip         bool
	InitialSplit int
}

// Server wraps the HTTP server with application handlers.
type Server struct {
	server     *http.Server
	router     *mux.Router
	jobs       input.JobService
	boundaries input.BoundaryRegistry
	health     input.HealthChecker
	syncer     Syncer
	defaults   RequestDefaults
	logger     *slog.Logger
	config     config.ServerConfig
}

// NewServer creates a new HTTP server. syncer may be nil, in which case the
// sync endpoint is not registered.
func NewServer(
	cfg config.ServerConfig,
	jobs input.JobService,
	boundaries input.BoundaryRegistry,
	health input.HealthChecker,
	syncer Syncer,
	defaults RequestDefaults,
	logger *slog.Logger,
) *Server {
	s := &Server{
		jobs:       jobs,
		boundaries: boundaries,
		health:     health,
		syncer:     syncer,
		defaults:   defaults,
		logger:     logger,
		config:     cfg,
	}

	s.router = s.setupRoutes()

	s.server = &http.Server{
		Addr:              cfg.Address(),
		Handler:           s.router,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.WriteTimeout,
	}

	return s
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() *mux.Router {
	r := mux.NewRouter()

	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)

	// Preflight requests only match a route when CORS is enabled.
	post := []string{http.MethodPost}
	if s.config.CORS.Enabled() {
		r.Use(s.corsMiddleware)
		post = append(post, http.MethodOptions)
	}

	// Health endpoints
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/health/live", s.handleLiveness).Methods(http.MethodGet)
	r.HandleFunc("/health/ready", s.handleReadiness).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()

	// Jobs
	api.HandleFunc("/jobs", s.handleListJobs).Methods(http.MethodGet)
	api.HandleFunc("/jobs/population", s.handleSubmitPopulation).Methods(post...)
	api.HandleFunc("/jobs/glofas", s.handleSubmitGloFAS).Methods(post...)
	api.HandleFunc("/jobs/{jobId}", s.handleGetJob).Methods(http.MethodGet)

	// Boundaries
	api.HandleFunc("/boundaries", s.handleListBoundaries).Methods(http.MethodGet)
	api.HandleFunc("/boundaries/{boundaryId}", s.handleGetBoundary).Methods(http.MethodGet)

	if s.syncer != nil {
		api.HandleFunc("/sync", s.handleSync).Methods(post...)
	}

	return r
}

// EnableMetrics serves handler at path and records every request through
// middleware.
func (s *Server) EnableMetrics(path string, handler http.Handler, middleware mux.MiddlewareFunc) {
	s.router.Handle(path, handler).Methods(http.MethodGet)
	s.router.Use(middleware)
}

// Router returns the mux router.
func (s *Server) Router() *mux.Router {
	return s.router
}

// HTTPServer returns the underlying server for the TLS wrapper.
func (s *Server) HTTPServer() *http.Server {
	return s.server
}

// loggingMiddleware logs incoming requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration", time.Since(start),
			"remote_addr", r.RemoteAddr,
		)
	})
}

// recoveryMiddleware recovers from panics.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("panic recovered", "error", err, "path", r.URL.Path)
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
