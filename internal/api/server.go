// Package api exposes the HTTP status interface of a crawl run.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/showtimes-crawler/internal/metrics"
	"github.com/JakeFAU/showtimes-crawler/internal/output"
	"github.com/JakeFAU/showtimes-crawler/internal/progress"
)

const (
	requestTimeout  = 30 * time.Second
	shutdownTimeout = 10 * time.Second
)

// ProgressSource reports the current task snapshot. *progress.Tracker
// satisfies it.
type ProgressSource interface {
	Snapshot() progress.Snapshot
}

// ResultSource reports how many items each stage collected.
type ResultSource interface {
	Counts() map[string]int
}

// DocumentSource lists saved documents. *output.Memory satisfies it.
type DocumentSource interface {
	Documents() []output.Document
}

// Status bundles the run state the server reports on. Nil fields are
// reported as unavailable.
type Status struct {
	RunID     string
	CrawlerID string
	Progress  ProgressSource
	Results   ResultSource
	Documents DocumentSource
}

// Server wires HTTP handlers to the run status.
type Server struct {
	router chi.Router
	status Status
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(status Status, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{status: status, logger: logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(requestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Get("/progress", s.progress)
	r.Route("/results", func(r chi.Router) {
		r.Get("/", s.results)
		r.Get("/documents", s.documents)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve listens on addr until ctx is done, then shuts the server down.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("status server started", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("status server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown status server: %w", err)
	}
	return nil
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.status.Progress == nil {
		writeError(w, http.StatusServiceUnavailable, "crawl not started")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type progressResponse struct {
	RunID     string           `json:"run_id,omitempty"`
	CrawlerID string           `json:"crawler_id,omitempty"`
	Ratio     float64          `json:"ratio"`
	Progress  string           `json:"progress"`
	Snapshot  progress.Snapshot `json:"snapshot"`
}

func (s *Server) progress(w http.ResponseWriter, _ *http.Request) {
	if s.status.Progress == nil {
		writeError(w, http.StatusServiceUnavailable, "progress unavailable")
		return
	}
	snap := s.status.Progress.Snapshot()
	writeJSON(w, http.StatusOK, progressResponse{
		RunID:     s.status.RunID,
		CrawlerID: s.status.CrawlerID,
		Ratio:     snap.Aggregate.Ratio(),
		Progress:  snap.Aggregate.String(),
		Snapshot:  snap,
	})
}

func (s *Server) results(w http.ResponseWriter, _ *http.Request) {
	if s.status.Results == nil {
		writeError(w, http.StatusServiceUnavailable, "results unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"run_id": s.status.RunID,
		"counts": s.status.Results.Counts(),
	})
}

type documentDTO struct {
	Name      string `json:"name"`
	Cinema    string `json:"cinema"`
	Showtimes int    `json:"showtimes"`
	Bytes     int    `json:"bytes"`
}

func (s *Server) documents(w http.ResponseWriter, _ *http.Request) {
	if s.status.Documents == nil {
		writeError(w, http.StatusNotFound, "documents are only kept by the memory writer")
		return
	}
	docs := s.status.Documents.Documents()
	out := make([]documentDTO, 0, len(docs))
	for _, d := range docs {
		dto := documentDTO{Name: d.Name, Bytes: len(d.Body)}
		if d.Result != nil {
			dto.Cinema = d.Result.Cinema.Key()
			dto.Showtimes = len(d.Result.Showtimes)
		}
		out = append(out, dto)
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": out})
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
		s.logger.Debug("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

type requestIDKey struct{}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload) //nolint:errcheck // client went away
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
