package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/ghibliflow/internal/app"
)

const (
	readHeaderTimeout = 10 * time.Second
	idleTimeout       = 60 * time.Second
)

// Server exposes the upload and status API
type Server struct {
	app    *app.App
	logger arbor.ILogger
	server *http.Server
}

// New builds the server. Nothing is bound until Start.
func New(application *app.App) *Server {
	cfg := application.Config.Server
	s := &Server{
		app:    application,
		logger: application.Logger,
	}

	s.server = &http.Server{
		Addr:              net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Handler:           s.withMiddleware(s.setupRoutes()),
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout.D(),
		WriteTimeout:      cfg.WriteTimeout.D(),
		IdleTimeout:       idleTimeout,
		ErrorLog:          log.New(errorLogWriter{logger: s.logger}, "", 0),
	}

	return s
}

// Handler returns the routed handler with middleware applied
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start binds the listen address and serves until Shutdown.
// A bind failure is returned immediately.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.server.Addr, err)
	}

	s.logger.Info().
		Str("address", ln.Addr().String()).
		Msg("HTTP server accepting uploads")

	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown stops accepting uploads and waits for in-flight requests.
// Jobs already queued are left to the queue's own shutdown.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	event := s.logger.Info()
	if s.app.Queue != nil {
		event = event.Int("queued_jobs", s.app.Queue.Size())
	}
	event.Msg("HTTP server stopped")
	return nil
}

// errorLogWriter sends net/http's internal errors (TLS handshakes, header
// parsing) to the application logger
type errorLogWriter struct {
	logger arbor.ILogger
}

func (w errorLogWriter) Write(p []byte) (int, error) {
	w.logger.Warn().Str("source", "net/http").Msg(strings.TrimSpace(string(p)))
	return len(p), nil
}
