package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/syaikhipin/ipinproxy/internal/auth"
)

// Options carries everything New needs to assemble the HTTP surface.
type Options struct {
	Port          int
	Logger        *slog.Logger
	Authenticator *auth.Authenticator
	Handlers      *Handlers
	Timeout       time.Duration
	MediaTimeout  time.Duration
}

// Server is the public proxy listener.
type Server struct {
	Router *chi.Mux
	Port   int

	httpServer *http.Server
	logger     *slog.Logger
}

// New builds the router. JSON endpoints run under the short timeout; chat
// (which may stream) and media uploads get the long one.
func New(opts Options) *Server {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.MediaTimeout <= 0 {
		opts.MediaTimeout = 5 * time.Minute
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(opts.Logger))
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "ipinproxy")
	})

	h := opts.Handlers
	r.Route("/v1", func(r chi.Router) {
		r.Use(AuthMiddleware(opts.Authenticator))

		r.Group(func(r chi.Router) {
			r.Use(TimeoutMiddleware(opts.Timeout))
			r.Post("/embeddings", h.Embeddings)
			r.Post("/rerank", h.Rerank)
			r.Get("/models", h.ListModels)
		})

		r.Group(func(r chi.Router) {
			r.Use(TimeoutMiddleware(opts.MediaTimeout))
			r.Post("/chat/completions", h.ChatCompletions)
			r.Post("/audio/transcriptions", h.Transcriptions)
			r.Post("/images/ocr", h.OCR)
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return &Server{
		Router: r,
		Port:   opts.Port,
		httpServer: &http.Server{
			Addr:    fmt.Sprintf(":%d", opts.Port),
			Handler: r,
		},
		logger: opts.Logger,
	}
}

// Start blocks serving requests until Shutdown or a listener error.
func (s *Server) Start() error {
	s.logger.Info("starting server", slog.Int("port", s.Port))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")
	return s.httpServer.Shutdown(ctx)
}
