// Package server exposes a storage backend over HTTP: health, metrics and,
// for the filesystem backend, the endpoint its signed URLs point at.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/raptscallions/storage/internal/storage"
)

const (
	DefaultAddr = ":8080"

	defaultTokenFailureThreshold = 10
	defaultTokenFailureWindow    = 15 * time.Minute

	readTimeout  = 30 * time.Second
	writeTimeout = 5 * time.Minute
	idleTimeout  = 2 * time.Minute
)

type Server struct {
	addr        string
	backendName string
	backend     storage.Backend
	local       *storage.FilesystemBackend
	guard       *TokenGuard
	httpServer  *http.Server
	router      *Router
}

type Option func(*Server)

func WithAddr(addr string) Option {
	return func(s *Server) {
		s.addr = addr
	}
}

// WithTokenGuard sets how many rejected tokens a client may present within
// window before it is blocked.
func WithTokenGuard(threshold int, window time.Duration) Option {
	return func(s *Server) {
		s.guard = NewTokenGuard(threshold, window)
	}
}

// New builds a server for backend. backendName is reported by /health and
// in logs.
func New(backendName string, backend storage.Backend, opts ...Option) *Server {
	srv := &Server{
		addr:        DefaultAddr,
		backendName: backendName,
		backend:     backend,
	}

	for _, opt := range opts {
		opt(srv)
	}
	if srv.guard == nil {
		srv.guard = NewTokenGuard(defaultTokenFailureThreshold, defaultTokenFailureWindow)
	}

	if local, ok := storage.Underlying(backend).(*storage.FilesystemBackend); ok {
		srv.local = local
	}

	srv.router = NewRouter(srv)
	srv.httpServer = &http.Server{
		Addr:         srv.addr,
		Handler:      srv.router,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	return srv
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Addr() string {
	return s.addr
}

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until Shutdown.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	log.Info().
		Str("addr", ln.Addr().String()).
		Str("backend", s.backendName).
		Bool("signed_urls", s.local != nil).
		Msg("Starting server")

	s.httpServer.BaseContext = func(net.Listener) context.Context { return ctx }

	err := s.httpServer.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down server")

	s.guard.Stop()
	return s.httpServer.Shutdown(ctx)
}
