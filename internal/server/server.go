package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/Sahmey2004/xtern/internal/config"
	"github.com/Sahmey2004/xtern/internal/db"
	"github.com/Sahmey2004/xtern/internal/pipeline"
	"github.com/Sahmey2004/xtern/internal/review"
	"github.com/Sahmey2004/xtern/internal/server/middleware"
	"github.com/Sahmey2004/xtern/internal/server/ratelimit"
	"github.com/Sahmey2004/xtern/internal/types"
)

// ServiceName is reported by /health.
const ServiceName = "xtern"

// RunStarter executes pipeline runs.
type RunStarter interface {
	Run(ctx context.Context, opts pipeline.RunOptions) (types.Record, error)
}

// Reviewer serves the human review endpoints.
type Reviewer interface {
	Approve(ctx context.Context, poNumber string, req types.ApprovalRequest) (review.Decision, error)
	ListPOs(ctx context.Context, status string, limit int) (json.RawMessage, error)
	DecisionLog(ctx context.Context, q review.LogQuery) (json.RawMessage, error)
	Snapshot(ctx context.Context, status string, limit int, q review.LogQuery) (review.Snapshot, error)
}

// RunReader reads the Postgres run mirror.
type RunReader interface {
	ListRuns(ctx context.Context, filters db.RunFilters) ([]db.Run, error)
	GetRun(ctx context.Context, runID uuid.UUID) (*db.Run, error)
	ListRunSteps(ctx context.Context, runID uuid.UUID, status, category *string) ([]db.RunStep, error)
	GetRunStep(ctx context.Context, runID uuid.UUID, stepName string) (*db.RunStep, error)
}

// Config holds server configuration
type Config struct {
	Port            int
	AllowedOrigins  []string
	RateLimit       *ratelimit.Config
	JWT             *config.JWTConfig // nil leaves approval open
	ShutdownTimeout time.Duration
	LLMConfigured   bool
}

// Deps are the services behind the routes. Runs may be nil.
type Deps struct {
	Runner   RunStarter
	Review   Reviewer
	Runs     RunReader
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

// Server represents the HTTP server
type Server struct {
	httpServer      *http.Server
	handler         http.Handler
	runner          RunStarter
	review          Reviewer
	runs            RunReader
	jwtService      *JWTService
	rateLimiter     *ratelimit.Limiter
	origins         []string
	logger          *zap.Logger
	shutdownTimeout time.Duration
	llmConfigured   bool
}

// New creates a new server instance
func New(cfg Config, deps Deps) (*Server, error) {
	if deps.Runner == nil {
		return nil, fmt.Errorf("server requires a pipeline runner")
	}
	if deps.Review == nil {
		return nil, fmt.Errorf("server requires a review service")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		runner:          deps.Runner,
		review:          deps.Review,
		runs:            deps.Runs,
		rateLimiter:     ratelimit.NewLimiter(cfg.RateLimit),
		origins:         cfg.AllowedOrigins,
		logger:          logger.With(zap.String("component", "server")),
		shutdownTimeout: cfg.ShutdownTimeout,
		llmConfigured:   cfg.LLMConfigured,
	}
	if s.shutdownTimeout <= 0 {
		s.shutdownTimeout = 10 * time.Second
	}
	if cfg.JWT != nil {
		s.jwtService = NewJWTService(cfg.JWT)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /pipeline/run", s.handleRun)
	mux.HandleFunc("POST /pipeline/run/stream", s.handleRunStream)

	var approve http.Handler = http.HandlerFunc(s.handleApprove)
	if s.jwtService != nil {
		approve = middleware.AuthMiddleware(s.jwtService.AsTokenValidator())(approve)
	}
	mux.Handle("POST /pipeline/approve/{po_number}", approve)

	mux.HandleFunc("GET /pipeline/pos", s.handleListPOs)
	mux.HandleFunc("GET /pipeline/logs", s.handleDecisionLog)
	mux.HandleFunc("GET /pipeline/overview", s.handleOverview)

	mux.HandleFunc("GET /pipeline/runs", s.handleListRuns)
	mux.HandleFunc("GET /pipeline/runs/{run_id}", s.handleGetRun)
	mux.HandleFunc("GET /pipeline/runs/{run_id}/steps", s.handleListRunSteps)

	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	s.handler = otelhttp.NewHandler(
		s.withRateLimit(s.withLogging(s.withCORS(mux))),
		"xtern-http",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 300 * time.Second, // pipeline runs wait on four stages of tool calls
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		s.rateLimiter.Stop()
		if ok {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	err := s.httpServer.Shutdown(shutdownCtx)
	s.rateLimiter.Stop()
	if err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.logger.Info("server stopped")
	return nil
}

// withCORS echoes allowed origins. Entries may use a single "*" wildcard
// such as https://*.vercel.app.
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Add("Vary", "Origin")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	for _, allowed := range s.origins {
		if allowed == "*" || allowed == origin {
			return true
		}
		if strings.Contains(allowed, "*") {
			if ok, err := path.Match(allowed, origin); err == nil && ok {
				return true
			}
		}
	}
	return false
}

// withRateLimit adds rate limiting middleware
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, info := s.rateLimiter.Allow(s.extractClientID(r), r.URL.Path, r.Method)
		s.setRateLimitHeaders(w, info)
		if !allowed {
			s.rateLimitResponse(w, r, info)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response status for request logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE working through the logging middleware.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// withLogging adds request logging
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote_addr", r.RemoteAddr),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

// jsonResponse writes a JSON response
func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("failed to encode JSON response", zap.Error(err))
	}
}

// errorResponse writes an error JSON response
func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	s.jsonResponse(w, status, map[string]string{"error": message})
}

// errorFrom maps err onto a status and writes it. 5xx errors are logged.
func (s *Server) errorFrom(w http.ResponseWriter, r *http.Request, err error) {
	status := HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	s.errorResponse(w, status, err.Error())
}

// extractClientID uses the IP address from RemoteAddr.
func (s *Server) extractClientID(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// setRateLimitHeaders sets standard rate limit headers on the response.
func (s *Server) setRateLimitHeaders(w http.ResponseWriter, info ratelimit.Info) {
	if info.Limit > 0 {
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(info.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(info.ResetTime.Unix(), 10))
	}
}

// rateLimitResponse writes a 429 Too Many Requests response with rate limit information.
func (s *Server) rateLimitResponse(w http.ResponseWriter, r *http.Request, info ratelimit.Info) {
	response := map[string]any{
		"error":     "rate_limit_exceeded",
		"message":   "Rate limit exceeded. Please try again later.",
		"limit":     info.Limit,
		"remaining": info.Remaining,
		"reset_at":  info.ResetTime.Format(time.RFC3339),
	}

	if info.RetryAfter > 0 {
		seconds := int(info.RetryAfter.Seconds())
		if seconds < 1 {
			seconds = 1
		}
		response["retry_after"] = seconds
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
	}

	s.logger.Warn("rate limit exceeded",
		zap.String("client", s.extractClientID(r)),
		zap.String("path", r.URL.Path),
		zap.Int("limit", info.Limit),
	)
	s.jsonResponse(w, http.StatusTooManyRequests, response)
}
