// Package main is the entry point for the parking engine API server.
//
// It loads configuration, opens the Postgres pool, builds the domain
// services, wires the handlers onto the core chassis and serves HTTP until
// SIGINT or SIGTERM, after which it drains in-flight requests.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"parking/internal/api/handlers"
	"parking/internal/app"
	"parking/internal/config"
	"parking/internal/core"
	"parking/internal/db"
	"parking/internal/external"
	"parking/internal/metrics"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := app.NewLogger(os.Stdout, cfg.LogLevel)
	logger.Info("parking API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
	)

	ctx := context.Background()

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}

	awsCfg, err := app.LoadAWS(ctx, cfg.AWS)
	if err != nil {
		pool.Close()
		return err
	}

	collector := metrics.NewCollector("parking")
	deps := app.Deps{
		TxManager: db.NewTxManager(pool, logger),
		Repos:     db.NewRepos(pool),
		Publisher: app.NewPublisher(awsCfg, cfg.AWS, logger),
		Recorder:  collector,
		Logger:    logger,
	}

	srv, err := buildServer(cfg, logger, deps, collector)
	if err != nil {
		pool.Close()
		return err
	}
	srv.HealthProbes = append(srv.HealthProbes, core.PingProbe{ProbeName: "database", Ping: pool.Ping})
	srv.Closers = append(srv.Closers, func() error {
		pool.Close()
		return nil
	})

	return runHTTPServer(srv, cfg, logger)
}

// buildServer wires the engine and every handler onto a mounted Server.
func buildServer(cfg *config.Config, logger *slog.Logger, deps app.Deps, collector *metrics.Collector) (*core.Server, error) {
	engine, err := app.NewEngine(cfg.Lot, deps)
	if err != nil {
		return nil, fmt.Errorf("building engine: %w", err)
	}

	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("creating server: %w", err)
	}
	if ops := core.NewOpsAuthenticator(cfg.Security.OpsTokenHash); ops != nil {
		srv.OpsAuth = ops
	} else {
		logger.Warn("OPS_TOKEN_HASH is not set, maintenance endpoints are disabled")
	}

	var payments handlers.PaymentMetrics
	if collector != nil && cfg.Observability.EnableMetrics {
		srv.Metrics = collector
		srv.MetricsHandler = collector.Handler()
		payments = collector
	}

	if !cfg.Payments.StripeWebhookSecret.IsSet() {
		logger.Warn("STRIPE_WEBHOOK_SECRET is not set, every webhook will fail verification")
	}

	registrars := []interface{ RegisterRoutes(chi.Router) }{
		handlers.NewAvailabilityHandler(engine.Availability, logger),
		handlers.NewReservationHandler(engine.Reservations, srv.Validator, srv.RequireOps, payments, logger),
		handlers.NewOccupancyHandler(engine.Tariffs, logger),
		handlers.NewLotHandler(engine.Plazas, engine.Subscriptions, engine.Reservations, srv.RequireOps, logger),
		handlers.NewStripeWebhookHandler(
			&external.StripeVerifier{},
			engine.Reservations,
			cfg.Payments.StripeWebhookSecret,
			cfg.Payments.ReservationMetadataKey,
			payments,
			logger,
		),
	}
	for _, h := range registrars {
		srv.V1RouteRegistrars = append(srv.V1RouteRegistrars, h.RegisterRoutes)
	}

	srv.MountRoutes()
	return srv, nil
}

// runHTTPServer serves until a shutdown signal or a listener error.
func runHTTPServer(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	timeout := cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	logger.Info("initiating graceful shutdown", "timeout", timeout)
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}
