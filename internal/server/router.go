package server

import (
	"net/http"

	"github.com/raptscallions/storage/internal/metrics"
)

type Router struct {
	server      *Server
	mux         *http.ServeMux
	middlewares []Middleware
}

type Middleware func(http.Handler) http.Handler

func NewRouter(srv *Server) *Router {
	r := &Router{
		server: srv,
		mux:    http.NewServeMux(),
	}

	r.setupMiddleware()
	r.setupRoutes()

	return r
}

func (r *Router) setupMiddleware() {
	r.Use(RecoveryMiddleware)
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware)
	r.Use(MetricsMiddleware)
	r.Use(CompressionMiddleware)
}

func (r *Router) Use(mw Middleware) {
	r.middlewares = append(r.middlewares, mw)
}

func (r *Router) setupRoutes() {
	health := NewHealthHandlers(r.server.backendName, r.server.backend)
	r.mux.HandleFunc("GET /health", health.Health)
	r.mux.Handle("GET /metrics", metrics.Handler())

	// Only the filesystem backend issues URLs that point back at us.
	if r.server.local != nil {
		files := NewFileHandlers(r.server.backend, r.server.local, r.server.guard)
		r.mux.HandleFunc("GET /files/{key...}", files.Download)
		r.mux.HandleFunc("PUT /files/{key...}", files.Upload)
	}
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	handler := http.Handler(r.mux)

	for i := len(r.middlewares) - 1; i >= 0; i-- {
		handler = r.middlewares[i](handler)
	}

	handler.ServeHTTP(w, req)
}
