// Package main is the entry point for the entitlement API server.
//
// It loads the configuration, opens the ledger store, wires the entitlement
// service into the HTTP chassis and serves until SIGINT or SIGTERM.
//
// Outside APP_ENV=local, secrets are resolved from AWS SSM Parameter Store.
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

	"flui/internal/api/handlers"
	"flui/internal/app"
	"flui/internal/config"
	"flui/internal/core"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	cfg, err := config.LoadConfig(secretProvider())
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("entitlement API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	engine, err := app.New(ctx, cfg, logger)
	cancel()
	if err != nil {
		return fmt.Errorf("wiring engine: %w", err)
	}

	srv, err := buildServer(engine)
	if err != nil {
		engine.Close()
		return err
	}

	return runHTTPServer(srv, cfg, logger)
}

// secretProvider returns the SSM provider, or nil in local mode where
// secrets come from the environment.
func secretProvider() config.SecretProvider {
	if os.Getenv("APP_ENV") == "local" {
		return nil
	}
	region := os.Getenv("AWS_REGION")
	if region == "" {
		region = "us-east-1"
	}
	return config.NewSSMProvider(region)
}

// buildServer mounts the access, billing and webhook handlers on the chassis.
func buildServer(engine *app.App) (*core.Server, error) {
	cfg, logger := engine.Config, engine.Logger

	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("creating server: %w", err)
	}

	srv.Dependencies = append(srv.Dependencies, core.PingFunc{
		Label: "ledger_store",
		Fn:    engine.Store.Ping,
	})
	if cfg.Security.RateLimitPerMinute > 0 {
		srv.RateLimitStore = core.NewMemoryRateLimitStore()
	}
	srv.Closers = append(srv.Closers, engine)

	accessHandler := handlers.NewAccessHandler(
		engine.Service,
		engine.Usage,
		engine.Plans,
		engine.Packages,
		srv.Validator,
		logger,
	)
	billingHandler := handlers.NewBillingHandler(engine.Service, srv.Validator, logger)
	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars, func(r chi.Router) {
		accessHandler.RegisterRoutes(r, srv.RequireAccount)
		billingHandler.RegisterRoutes(r, srv.RequireAccount)
	})

	if engine.Clients.StripeVerifier != nil {
		webhookHandler := handlers.NewStripeWebhookHandler(
			engine.Clients.StripeVerifier,
			engine.Service,
			engine.Packages,
			cfg.Billing.StripeWebhookSecret.Unmask(),
			logger.With("handler", "stripe_webhook"),
		)
		srv.V1RouteRegistrars = append(srv.V1RouteRegistrars, webhookHandler.RegisterRoutes)
	} else {
		logger.Warn("Stripe webhook endpoint disabled")
	}

	srv.MountRoutes()
	return srv, nil
}

// runHTTPServer starts the server in standard HTTP mode with graceful shutdown.
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
			_ = srv.Shutdown(context.Background())
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	// Releases the ledger store.
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server resource shutdown error", "error", err)
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a structured slog.Logger configured for the given log level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return slog.New(handler)
}
