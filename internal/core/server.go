// Package core provides the HTTP chassis for the parking engine. It owns the
// chi router, the global middleware chain, the response envelope and request
// validation; domain handlers attach to it through V1RouteRegistrars.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"parking/internal/config"
)

// MetricsCollector records API telemetry.
type MetricsCollector interface {
	// RecordRequest records one completed request. endpoint is the chi route
	// pattern, not the raw path, to keep label cardinality bounded.
	RecordRequest(method, endpoint, status string, duration time.Duration)
}

// Server bundles the dependencies of the API process so tests can swap them.
type Server struct {
	Config    *config.Config
	Logger    *slog.Logger
	Validator *Validator
	Metrics   MetricsCollector

	// OpsAuth verifies the bearer token on maintenance endpoints. Nil
	// disables those endpoints (RequireOps answers 401).
	OpsAuth Authenticator

	HealthProbes []HealthProbe

	// MetricsHandler, when set, is served at Config.Server.MetricsPath.
	MetricsHandler http.Handler

	// V1RouteRegistrars attach domain handlers under /v1. Populated by main.
	V1RouteRegistrars []func(chi.Router)

	// Closers run on Shutdown in registration order.
	Closers []func() error

	router *chi.Mux
}

// NewServer validates the critical dependencies and prepares an empty router.
// Callers mount routes with MountRoutes after wiring handlers.
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

// Handler returns the router wrapped with response compression.
func (s *Server) Handler() http.Handler {
	return Compress(s.router)
}

// Router returns the underlying chi.Mux.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Shutdown releases server resources. All closers run; their errors are joined.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.InfoContext(ctx, "server shutdown initiated")

	var errs []error
	for _, c := range s.Closers {
		if err := c(); err != nil {
			s.Logger.ErrorContext(ctx, "error closing resource", "error", err)
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("closing server resources: %w", err)
	}

	s.Logger.InfoContext(ctx, "server shutdown complete")
	return nil
}
