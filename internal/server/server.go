// Package server exposes the template pipeline over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/shineum/mailform/internal/email"
	"github.com/shineum/mailform/internal/message"
	"github.com/shineum/mailform/internal/metrics"
	"github.com/shineum/mailform/internal/transport"
)

const (
	// shutdownTimeout is the maximum time to wait for in-flight requests
	// during graceful shutdown.
	shutdownTimeout = 30 * time.Second

	// statusTimeout bounds the relay health check behind GET /status.
	statusTimeout = time.Second
)

// Pipeline turns a delivery request into an assembled message.
type Pipeline interface {
	Handle(ctx context.Context, req *email.Request) (*message.Message, error)
}

// Config holds the HTTP server settings.
type Config struct {
	// Addr is the address to listen on (e.g., "0.0.0.0:3000").
	Addr string

	// MaxBodySize caps request bodies, attachments included.
	MaxBodySize int64

	// RequestIDHeader is read for an incoming request ID and echoed on the
	// response.
	RequestIDHeader string
}

// Server serves the delivery endpoints.
type Server struct {
	config    Config
	pipeline  Pipeline
	transport transport.Transport
	metrics   *metrics.Metrics
	router    chi.Router
}

// New creates a Server. m may be nil, in which case /metrics is not mounted.
func New(cfg Config, pipeline Pipeline, tr transport.Transport, m *metrics.Metrics) *Server {
	if cfg.RequestIDHeader == "" {
		cfg.RequestIDHeader = "X-Request-Id"
	}

	s := &Server{
		config:    cfg,
		pipeline:  pipeline,
		transport: tr,
		metrics:   m,
	}

	r := chi.NewRouter()
	r.Use(s.requestID)
	r.Use(s.requestLog)
	r.Use(chimw.Recoverer)

	r.Route("/templates/{name}", func(r chi.Router) {
		r.Post("/json", s.handleJSON)
		r.Post("/multipart", s.handleMultipart)
	})
	r.Get("/status", s.handleStatus)
	if m != nil {
		r.Method(http.MethodGet, "/metrics", m.Handler())
	}

	s.router = r
	return s
}

// ServeHTTP implements http.Handler so the server can be used directly in
// tests.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe listens on the configured address and serves until ctx is
// cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then stops
// accepting and waits up to 30 seconds for in-flight requests.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	slog.Info("HTTP server listening",
		"addr", ln.Addr().String(),
		"transport", s.transport.Name(),
		"max_body_size", s.config.MaxBodySize,
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("shutdown timeout reached, forcing close", "error", err)
		_ = srv.Close()
	} else {
		slog.Info("all requests completed")
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
