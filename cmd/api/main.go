// Package main provides the entrypoint for the air quality API server.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/breatheroute/airwatch/internal/api"
	"github.com/breatheroute/airwatch/internal/api/handler"
	"github.com/breatheroute/airwatch/internal/api/middleware"
	"github.com/breatheroute/airwatch/internal/app"
	"github.com/breatheroute/airwatch/internal/config"
	"github.com/breatheroute/airwatch/internal/telemetry"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "airwatch-api"

	cfg, err := config.Load()
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("invalid configuration")
	}

	// Setup structured logging
	log := app.NewLogger(cfg.App, serviceName, Version)

	log.Info().
		Str("build_time", BuildTime).
		Str("env", cfg.App.Env).
		Str("store", cfg.App.StoreBackend).
		Msg("starting air quality API")

	// Initialize OpenTelemetry
	ctx := context.Background()

	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: Version,
		Environment:    cfg.App.Env,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Enabled:        cfg.Telemetry.Enabled,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRatio:    cfg.Telemetry.SampleRatio,
		MetricInterval: cfg.Telemetry.MetricInterval,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	if cfg.Telemetry.Enabled {
		log.Info().
			Str("otlp_endpoint", cfg.Telemetry.OTLPEndpoint).
			Float64("sample_ratio", cfg.Telemetry.SampleRatio).
			Msg("OpenTelemetry initialized")
	}

	// Initialize HTTP metrics
	httpMetrics, err := middleware.NewMetrics()
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize metrics")
		os.Exit(1) //nolint:gocritic // intentional exit, telemetry cleanup is best-effort
	}

	if cfg.UsesDefaultSigningKey() {
		log.Warn().Msg("using default admin JWT signing key - not secure for production")
	}

	// Connect the store and build services
	svc, err := app.New(ctx, cfg, app.Options{Logger: log})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize services")
	}
	defer svc.Close()

	if err := svc.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to apply schema")
	}

	// Create router with configuration
	router := api.NewRouter(api.RouterConfig{
		Version:        Version,
		BuildTime:      BuildTime,
		Logger:         log,
		Metrics:        httpMetrics,
		MetricsHandler: promhttp.Handler(),
		RequireTLS:     cfg.App.RequireTLS,
		Ingester:       svc.Ingest,
		Reports:        svc.Query,
		Alerts:         svc.Alerts,
		Store:          svc.Store,
		Registry:       svc.Health,
		Tokens:         svc.Tokens,
		Caches:         []handler.CacheFlusher{svc.Cities},
		RateLimits:     rateLimits(cfg.RateLimit),
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().
			Str("addr", server.Addr).
			Msg("server listening")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
		os.Exit(1)
	}

	log.Info().Msg("server stopped")
}

func rateLimits(cfg config.RateLimitConfig) api.RateLimits {
	per := func(n int) middleware.RateLimitConfig {
		return middleware.RateLimitConfig{RequestLimit: n, WindowLength: cfg.Window}
	}
	return api.RateLimits{
		Upload:   per(cfg.Upload),
		Standard: per(cfg.Standard),
		Admin:    per(cfg.Admin),
	}
}
