// Package core provides the API chassis for the entitlement service. It
// builds a chi router, enforces the cross-cutting concerns (auth, logging,
// metrics, rate limiting, error envelopes) and leaves endpoint registration
// to the handler packages through V1RouteRegistrars.
package core

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"flui/internal/config"
)

// Server encapsulates the dependencies of the HTTP API.
type Server struct {
	Config    *config.Config
	Logger    *slog.Logger
	Validator *Validator

	// Dependencies are pinged by GET /health.
	Dependencies []Dependency
	// RateLimitStore enables per-account rate limiting when non-nil.
	RateLimitStore RateLimitStore
	// V1RouteRegistrars mount domain handlers under /v1.
	V1RouteRegistrars []func(r chi.Router)
	// Closers are released by Shutdown in order.
	Closers []io.Closer

	router *chi.Mux
}

// NewServer initializes the chassis. The caller registers routes and then
// calls MountRoutes.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	return &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(logger),
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the http.Handler for the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Shutdown releases server resources.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.InfoContext(ctx, "server shutdown initiated")

	var firstErr error
	for _, c := range s.Closers {
		if err := c.Close(); err != nil {
			s.Logger.Error("error closing resource", "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("closing resources: %w", err)
			}
		}
	}

	s.Logger.InfoContext(ctx, "server shutdown complete")
	return firstErr
}
