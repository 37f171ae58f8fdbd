// Package http provides the HTTP server and handlers.
package http //nolint:revive // package name conflicts with stdlib but is acceptable in this context

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/openterra/efflux/internal/application"
	"github.com/openterra/efflux/internal/config"
	"github.com/openterra/efflux/internal/ports/input"
)

// Server wraps the HTTP server with application handlers.
type Server struct {
	server    *http.Server
	router    *mux.Router
	converter input.Converter
	registry  input.ConversionRegistry
	health    input.HealthChecker
	retention *application.RetentionService
	logger    *slog.Logger
	config    config.ServerConfig

	// Optional middleware and handler for Prometheus metrics.
	metricsMiddleware func(http.Handler) http.Handler
	metricsHandler    http.Handler
	metricsPath       string
}

// ServerOption customizes the server.
type ServerOption func(*Server)

// WithMetrics mounts the metrics handler at path and wraps all routes in
// the collection middleware.
func WithMetrics(middleware func(http.Handler) http.Handler, handler http.Handler, path string) ServerOption {
	return func(s *Server) {
		s.metricsMiddleware = middleware
		s.metricsHandler = handler
		s.metricsPath = path
	}
}

// NewServer creates a new HTTP server.
func NewServer(
	cfg config.ServerConfig,
	converter input.Converter,
	registry input.ConversionRegistry,
	health input.HealthChecker,
	retention *application.RetentionService,
	logger *slog.Logger,
	opts ...ServerOption,
) *Server {
	s := &Server{
		converter: converter,
		registry:  registry,
		health:    health,
		retention: retention,
		logger:    logger,
		config:    cfg,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.router = s.setupRoutes()

	s.server = &http.Server{
		Addr:         cfg.Address(),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() *mux.Router {
	r := mux.NewRouter()

	// Add middleware
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	if s.metricsMiddleware != nil {
		r.Use(mux.MiddlewareFunc(s.metricsMiddleware))
	}

	// Add CORS middleware if configured
	if s.config.CORS.Enabled() {
		r.Use(s.corsMiddleware)
	}

	// Health endpoints
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/health/live", s.handleLiveness).Methods(http.MethodGet)
	r.HandleFunc("/health/ready", s.handleReadiness).Methods(http.MethodGet)

	// API v1
	api := r.PathPrefix("/api/v1").Subrouter()

	// Conversion endpoints
	api.HandleFunc("/convert", s.handleConvert).Methods(http.MethodPost)
	api.HandleFunc("/prune", s.handlePrune).Methods(http.MethodPost)
	api.HandleFunc("/conversions", s.handleListConversions).Methods(http.MethodGet)
	api.HandleFunc("/conversions/{conversionId}", s.handleGetConversion).Methods(http.MethodGet)

	// Sweep endpoint (only when the retention sweeper is configured)
	if s.retention != nil && s.retention.Enabled() {
		api.HandleFunc("/sweep", s.handleSweep).Methods(http.MethodPost)
	}

	// OpenAPI spec
	r.HandleFunc("/openapi.json", s.handleOpenAPI).Methods(http.MethodGet)

	// Prometheus metrics
	if s.metricsHandler != nil {
		r.Handle(s.metricsPath, s.metricsHandler).Methods(http.MethodGet)
	}

	return r
}

// Router returns the mux router.
func (s *Server) Router() *mux.Router {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "address", s.config.Address())
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs incoming requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Wrap response writer to capture status code
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
