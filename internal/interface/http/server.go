// Package http serves the operational endpoints of the scoring worker:
// health, Prometheus metrics, the scheduled jobs and a read-only view of
// result standings for downstream reporting.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hirohiroko250/autograder-system/internal/application/query"
	"github.com/hirohiroko250/autograder-system/internal/domain/scoring"
	"github.com/hirohiroko250/autograder-system/internal/domain/shared"
	"github.com/hirohiroko250/autograder-system/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SERVER CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains HTTP server configuration.
type Config struct {
	// Addr is the listen address, e.g. ":9090".
	Addr string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// RequestTimeout bounds the handling of one API request; 0 disables it.
	RequestTimeout time.Duration
}

// DefaultConfig returns default server configuration.
func DefaultConfig(addr string) Config {
	return Config{
		Addr:           addr,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   15 * time.Second,
		IdleTimeout:    60 * time.Second,
		RequestTimeout: 5 * time.Second,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// StandingReader is the read side used by the standing endpoints.
// query.StandingService implements it.
type StandingReader interface {
	Standing(ctx context.Context, studentID, testID string) (*query.StandingView, error)
	GetCurrentRank(ctx context.Context, studentID, testID string, pt scoring.PartitionType) (*scoring.RankPair, error)
	IsFinalized(ctx context.Context, studentID, testID string) (bool, error)
}

// Dependencies contains everything the handlers need. Nil fields disable
// the matching routes.
type Dependencies struct {
	Standing StandingReader
	Health   *CompositeHealthChecker
	Jobs     JobRunner

	// Metrics serves /metrics, typically promhttp.HandlerFor(registry, ...).
	Metrics http.Handler

	Logger *slog.Logger
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER
// ══════════════════════════════════════════════════════════════════════════════

// Server represents the HTTP server.
type Server struct {
	config     Config
	deps       Dependencies
	httpServer *http.Server
	router     *http.ServeMux
	log        *slog.Logger

	mu      sync.Mutex
	running bool
}

// NewServer creates a new HTTP server with the given configuration and dependencies.
func NewServer(cfg Config, deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	s := &Server{
		config: cfg,
		deps:   deps,
		router: http.NewServeMux(),
		log:    deps.Logger.With(logger.Component("http")),
	}
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
	return s
}

// Handler returns the routed handler wrapped in middleware.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.router
	h = s.loggingMiddleware(h)
	h = s.requestIDMiddleware(h)
	h = s.recoveryMiddleware(h)
	return h
}

// ══════════════════════════════════════════════════════════════════════════════
// ROUTING
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) setupRoutes() {
	s.router.HandleFunc("GET /livez", s.handleLive)
	if s.deps.Health != nil {
		s.router.HandleFunc("GET /healthz", s.handleHealth)
	}
	if s.deps.Metrics != nil {
		s.router.Handle("GET /metrics", s.deps.Metrics)
	}

	if s.deps.Standing != nil {
		s.router.HandleFunc("GET /v1/tests/{testID}/students/{studentID}/standing", s.api(s.handleStanding))
		s.router.HandleFunc("GET /v1/tests/{testID}/students/{studentID}/ranks/{partition}", s.api(s.handleRank))
		s.router.HandleFunc("GET /v1/tests/{testID}/students/{studentID}/finalized", s.api(s.handleFinalized))
	}

	if s.deps.Jobs != nil {
		s.router.HandleFunc("GET /v1/jobs", s.api(s.handleListJobs))
		s.router.HandleFunc("GET /v1/jobs/history", s.api(s.handleJobHistory))
		s.router.HandleFunc("POST /v1/jobs/{name}/run", s.handleRunJob)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Handlers
// ─────────────────────────────────────────────────────────────────────────────

func (s *Server) handleLive(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.deps.Health.Check(r.Context())
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

// apiHandler returns the response body or an error mapped to a status.
type apiHandler func(r *http.Request) (interface{}, error)

func (s *Server) api(h apiHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.config.RequestTimeout > 0 {
			ctx, cancel := context.WithTimeout(r.Context(), s.config.RequestTimeout)
			defer cancel()
			r = r.WithContext(ctx)
		}

		data, err := h(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, data)
	}
}

func (s *Server) handleStanding(r *http.Request) (interface{}, error) {
	return s.deps.Standing.Standing(r.Context(), r.PathValue("studentID"), r.PathValue("testID"))
}

// RankResponse is the body of the rank endpoint. Rank is nil when the
// student is not ranked in the partition.
type RankResponse struct {
	Partition string            `json:"partition"`
	Rank      *scoring.RankPair `json:"rank"`
}

func (s *Server) handleRank(r *http.Request) (interface{}, error) {
	pt, err := scoring.ParsePartitionType(r.PathValue("partition"))
	if err != nil {
		return nil, err
	}
	p, err := s.deps.Standing.GetCurrentRank(r.Context(), r.PathValue("studentID"), r.PathValue("testID"), pt)
	if err != nil {
		return nil, err
	}
	return RankResponse{Partition: pt.String(), Rank: p}, nil
}

func (s *Server) handleFinalized(r *http.Request) (interface{}, error) {
	ok, err := s.deps.Standing.IsFinalized(r.Context(), r.PathValue("studentID"), r.PathValue("testID"))
	if err != nil {
		return nil, err
	}
	return map[string]bool{"finalized": ok}, nil
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if status, code, ok := jobErrorStatus(err); ok {
		writeJSONError(w, status, code, err.Error())
		return
	}

	switch {
	case shared.IsValidation(err):
		writeJSONError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case shared.IsNotFound(err):
		writeJSONError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeJSONError(w, http.StatusGatewayTimeout, "timeout", "request timed out")
	default:
		logger.FromContext(r.Context()).Error("request failed",
			slog.String("path", r.URL.Path),
			logger.Err(err),
		)
		writeJSONError(w, http.StatusInternalServerError, "internal_error", "an unexpected error occurred")
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

// requestIDMiddleware tags the request with an ID and stores a logger
// carrying it in the context.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := logger.WithContext(r.Context(), s.log.With(slog.String("request_id", id)))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		// Scrapes and health checks are too frequent for INFO.
		level := slog.LevelInfo
		if r.URL.Path == "/metrics" || r.URL.Path == "/livez" || r.URL.Path == "/healthz" {
			level = slog.LevelDebug
		}
		logger.FromContext(r.Context()).Log(r.Context(), level, "http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rw.statusCode),
			logger.Latency(time.Since(start)),
		)
	})
}

func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.log.Error("panic recovered",
					slog.Any("panic", rec),
					slog.String("stack", string(debug.Stack())),
					slog.String("path", r.URL.Path),
				)
				writeJSONError(w, http.StatusInternalServerError, "internal_error", "an unexpected error occurred")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// StartAsync starts the server in a goroutine. The returned channel
// receives a listen error, if any, and is closed when the server stops.
func (s *Server) StartAsync() <-chan error {
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		s.log.Info("http server listening", slog.String("addr", s.config.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	return errCh
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.log.Info("shutting down http server")
	return s.httpServer.Shutdown(ctx)
}

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSE HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// APIError is the body of every error response.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]APIError{"error": {Code: code, Message: message}})
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
