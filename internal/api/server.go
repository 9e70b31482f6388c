package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/fraudsvc/fraudsvc/internal/domain"
)

// Server wires the chi router, middleware chain, and Handler together
// into a runnable HTTP server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer builds the router for the public endpoints plus the batch
// endpoint, with CORS, panic recovery, tracing, and structured logging
// in that order so a recovered panic is still traced and logged.
func NewServer(cfg domain.ServerConfig, handler *Handler) *Server {
	router := chi.NewRouter()

	router.Use(CORSMiddleware)
	router.Use(RecoverMiddleware)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware)
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5))

	router.Get("/health", handler.Health)

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(AuthMiddleware(handler))

		r.Post("/fraud/check", handler.Check)
		r.Post("/fraud/check/batch", handler.CheckBatch)
		r.Post("/feedback", handler.Feedback)
		r.Get("/verticals", handler.ListVerticals)
		r.Get("/verticals/{vertical}/config", handler.GetVerticalConfig)
	})

	return &Server{router: router, handler: handler, config: cfg}
}

// Start begins serving; it blocks until Shutdown is called or the
// listener fails.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s.server.ListenAndServe()
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router exposes the underlying router for tests.
func (s *Server) Router() *chi.Mux { return s.router }

// Handler exposes the underlying handler for tests.
func (s *Server) Handler() *Handler { return s.handler }
