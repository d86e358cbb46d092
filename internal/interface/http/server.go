package http

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/coursehub/learning-analytics/internal/infrastructure/scheduler"
	"github.com/coursehub/learning-analytics/pkg/logger"
)

// Config holds the ops server settings.
type Config struct {
	// Addr to listen on, e.g. ":8081".
	Addr string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns default server configuration.
func DefaultConfig() Config {
	return Config{
		Addr:         ":8081",
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// JobStatus reports the last run of a scheduled job.
type JobStatus interface {
	LastResult(jobName string) *scheduler.JobResult
}

// Server exposes /live, /ready and /jobs/{name}.
type Server struct {
	cfg     Config
	health  *HealthChecker
	jobs    JobStatus
	log     *logger.Logger
	httpSrv *http.Server

	mu       sync.Mutex
	listener net.Listener
}

// NewServer creates a Server. jobs may be nil.
func NewServer(cfg Config, health *HealthChecker, jobs JobStatus, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Nop()
	}
	if health == nil {
		health = NewHealthChecker("")
	}
	s := &Server{
		cfg:    cfg,
		health: health,
		jobs:   jobs,
		log:    log.With(logger.Component("ops_http")),
	}
	s.httpSrv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Handler returns the routed handler with panic recovery.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /live", s.handleLive)
	mux.HandleFunc("GET /healthz", s.handleLive)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /jobs/{name}", s.handleJob)
	return s.withLogger(s.recover(mux))
}

// Start listens in the background. The bound address is available from Addr.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("ops server stopped", logger.Err(err))
		}
	}()
	s.log.Info("ops server listening", logger.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the listening address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// ─────────────────────────────────────────────────────────────────────────────
// Handlers
// ─────────────────────────────────────────────────────────────────────────────

func (s *Server) handleLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	status := s.health.Check(r.Context())
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
		logger.FromContext(r.Context()).Warn("readiness check failed", logger.String("message", status.Message))
	}
	writeJSON(w, code, status)
}

type jobResponse struct {
	Job         string    `json:"job"`
	Success     bool      `json:"success"`
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	Duration    string    `json:"duration"`
	Manual      bool      `json:"manual"`
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if s.jobs == nil {
		writeError(w, http.StatusNotFound, "scheduler not running")
		return
	}
	res := s.jobs.LastResult(name)
	if res == nil {
		writeError(w, http.StatusNotFound, "no runs recorded for "+name)
		return
	}

	out := jobResponse{
		Job:         res.JobName,
		Success:     res.Success,
		StartedAt:   res.StartedAt,
		CompletedAt: res.CompletedAt,
		Duration:    res.Duration.Round(time.Millisecond).String(),
		Manual:      res.Manual,
	}
	if res.Error != nil {
		out.Error = res.Error.Error()
	}
	writeJSON(w, http.StatusOK, out)
}

// withLogger attaches a request-scoped logger to the request context.
func (s *Server) withLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, requestID)

		log := s.log.WithRequestID(requestID).With(
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
		)
		next.ServeHTTP(w, r.WithContext(logger.WithContext(r.Context(), log)))
	})
}

func (s *Server) recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				logger.FromContext(r.Context()).Error("panic recovered",
					logger.Any("panic", v),
					logger.String("stack", string(debug.Stack())),
				)
				writeError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
