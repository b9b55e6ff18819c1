// Package api exposes the HTTP interface for the scrape service.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hirewire/jobscraper/internal/scrape"
	"github.com/hirewire/jobscraper/internal/telemetry"
)

// Admitter is the dispatcher surface the server depends on.
type Admitter interface {
	Admit(ctx context.Context, rawURL string) (scrape.Admission, error)
	GetJob(ctx context.Context, fingerprint string) (scrape.TrackedJob, error)
}

// Server wires HTTP handlers to the dispatcher.
type Server struct {
	router    chi.Router
	admitter  Admitter
	logger    *zap.Logger
	readiness func(context.Context) error
}

// Option adjusts optional Server behavior.
type Option func(*Server)

// WithReadinessCheck installs a downstream probe for /readyz.
func WithReadinessCheck(check func(context.Context) error) Option {
	return func(s *Server) { s.readiness = check }
}

// NewServer constructs a Server with middleware and routes.
func NewServer(admitter Admitter, logger *zap.Logger, timeout time.Duration, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	s := &Server{admitter: admitter, logger: logger}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(telemetry.Middleware)
	r.Use(timeoutMiddleware(timeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", telemetry.Handler())

	r.Route("/jobs", func(r chi.Router) {
		r.Post("/scrape", s.submitScrape)
		r.Get("/{fingerprint}", s.getJob)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.readiness != nil {
		if err := s.readiness(r.Context()); err != nil {
			writeMessage(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type scrapeRequest struct {
	JobURL string `json:"job_url"`
}

type scrapeResponse struct {
	Message      string `json:"message"`
	Fingerprint  string `json:"fingerprint,omitempty"`
	CanonicalURL string `json:"canonical_url,omitempty"`
}

func (s *Server) submitScrape(w http.ResponseWriter, r *http.Request) {
	var req scrapeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.JobURL == "" {
		writeMessage(w, http.StatusBadRequest, "missing job_url")
		return
	}

	admission, err := s.admitter.Admit(r.Context(), req.JobURL)
	switch {
	case errors.Is(err, scrape.ErrInvalidURL):
		writeMessage(w, http.StatusBadRequest, "invalid url")
		return
	case errors.Is(err, scrape.ErrUnknownHost):
		writeMessage(w, http.StatusUnprocessableEntity, "no scraper registered for this site")
		return
	case err != nil:
		s.logger.Error("admission failed", zap.String("job_url", req.JobURL), zap.Error(err))
		writeMessage(w, http.StatusInternalServerError, "internal server error")
		return
	}

	message := "Job is already queued or was scraped recently"
	if admission.Queued {
		message = "Job queued for scraping"
	}
	writeJSON(w, http.StatusAccepted, scrapeResponse{
		Message:      message,
		Fingerprint:  admission.Fingerprint,
		CanonicalURL: admission.CanonicalURL,
	})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	fingerprint := chi.URLParam(r, "fingerprint")
	job, err := s.admitter.GetJob(r.Context(), fingerprint)
	if errors.Is(err, scrape.ErrJobNotFound) {
		writeMessage(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.logger.Error("job lookup failed", zap.String("fingerprint", fingerprint), zap.Error(err))
		writeMessage(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("panic", rec))
					writeMessage(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type requestIDKey struct{}

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

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}
