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

	"github.com/JakeFAU/host-inventory/internal/inventory"
	"github.com/JakeFAU/host-inventory/internal/metrics"
)

// SourceStatus is the externally visible state of one poll loop.
type SourceStatus struct {
	Name    string `json:"name"`
	URL     string `json:"url"`
	Skip    int    `json:"skip"`
	Limit   int    `json:"limit"`
	Stopped bool   `json:"stopped"`
	Error   string `json:"error,omitempty"`
}

// SourceLister reports the poll loops of the fetch unit.
type SourceLister interface {
	SourceStatuses() []SourceStatus
}

// HostFinder looks up stored host documents.
type HostFinder interface {
	FindByHostname(ctx context.Context, hostname string) (inventory.StoredHost, error)
}

// HostLister is implemented by host backends that can enumerate every
// document. The hosts index route is mounted only for those.
type HostLister interface {
	List() []inventory.StoredHost
}

// Options wires the optional route backends. Routes whose backend is nil are
// not mounted.
type Options struct {
	Sources SourceLister
	Hosts   HostFinder
	// Ready reports whether the unit can do useful work. Nil means always ready.
	Ready   func(ctx context.Context) error
	Timeout time.Duration
	Logger  *zap.Logger
}

// Server wires HTTP handlers to the pipeline components.
type Server struct {
	router chi.Router
	opts   Options
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	s := &Server{
		opts:   opts,
		logger: logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(opts.Timeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if opts.Sources != nil {
			r.Get("/sources", s.listSources)
		}
		if opts.Hosts != nil {
			if _, ok := opts.Hosts.(HostLister); ok {
				r.Get("/hosts", s.listHosts)
			}
			r.Get("/hosts/{hostname}", s.getHost)
		}
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.opts.Ready != nil {
		if err := s.opts.Ready(r.Context()); err != nil {
			s.writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) listSources(w http.ResponseWriter, _ *http.Request) {
	statuses := s.opts.Sources.SourceStatuses()
	if statuses == nil {
		statuses = []SourceStatus{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"sources": statuses})
}

func (s *Server) listHosts(w http.ResponseWriter, _ *http.Request) {
	stored := s.opts.Hosts.(HostLister).List()
	hosts := make([]map[string]any, 0, len(stored))
	for _, h := range stored {
		hosts = append(hosts, map[string]any{"id": h.ID, "host": h.Record})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"hosts": hosts})
}

func (s *Server) getHost(w http.ResponseWriter, r *http.Request) {
	hostname := chi.URLParam(r, "hostname")
	stored, err := s.opts.Hosts.FindByHostname(r.Context(), hostname)
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusOK, map[string]any{"id": stored.ID, "host": stored.Record})
	case errors.Is(err, inventory.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "host not found")
	default:
		s.logger.Error("host lookup failed", zap.String("hostname", hostname), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "host lookup failed")
	}
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
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
		s.logger.Info("request completed",
			zap.String("request_id", reqID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
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

type requestIDKey struct{}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
