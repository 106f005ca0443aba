package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/JakeFAU/betline-crawler/internal/metrics"
	"github.com/JakeFAU/betline-crawler/internal/policy/breaker"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// BreakerSource reports the upstream circuit state.
type BreakerSource interface {
	BreakerState() breaker.State
}

// RunInfo describes the crawl the server is attached to.
type RunInfo struct {
	RunID        uuid.UUID
	StartedAt    time.Time
	TargetSports []string
}

// Server wires operator routes onto a chi router.
type Server struct {
	router  chi.Router
	info    RunInfo
	breaker BreakerSource
	logger  *zap.Logger
	now     func() time.Time
	httpSrv *http.Server
}

// NewServer constructs a Server with middleware and routes. A nil breaker
// source is treated as permanently closed.
func NewServer(info RunInfo, source BreakerSource, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		info:    info,
		breaker: source,
		logger:  logger.Named("api"),
		now:     time.Now,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(metrics.Middleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Get("/v1/run", s.run)

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves on addr in the background. Listener failures other than a
// normal shutdown are logged.
func (s *Server) Start(addr string) {
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	srv := s.httpSrv
	go func() {
		s.logger.Info("operator server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("operator server failed", zap.Error(err))
		}
	}()
}

// Shutdown stops a server started with Start. It is a no-op otherwise.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil || s.httpSrv == nil {
		return nil
	}
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown operator server: %w", err)
	}
	return nil
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	state := s.breakerState()
	if state == breaker.StateOpen {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":  "degraded",
			"circuit": state.String(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ready",
		"circuit": state.String(),
	})
}

type runResponse struct {
	RunID          string   `json:"run_id"`
	StartedAt      string   `json:"started_at"`
	UptimeSeconds  float64  `json:"uptime_seconds"`
	TargetSports   []string `json:"target_sports"`
	CircuitBreaker string   `json:"circuit_breaker"`
}

func (s *Server) run(w http.ResponseWriter, _ *http.Request) {
	sports := s.info.TargetSports
	if sports == nil {
		sports = []string{}
	}
	writeJSON(w, http.StatusOK, runResponse{
		RunID:          s.info.RunID.String(),
		StartedAt:      s.info.StartedAt.UTC().Format(time.RFC3339),
		UptimeSeconds:  s.now().Sub(s.info.StartedAt).Seconds(),
		TargetSports:   sports,
		CircuitBreaker: s.breakerState().String(),
	})
}

func (s *Server) breakerState() breaker.State {
	if s.breaker == nil {
		return breaker.StateClosed
	}
	return s.breaker.BreakerState()
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		reqID, _ := r.Context().Value(requestIDKey{}).(string)
		s.logger.Debug("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.String("request_id", reqID),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

type requestIDKey struct{}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
