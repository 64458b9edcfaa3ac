// Package api provides the HTTP API for the air quality service.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/breatheroute/airwatch/internal/api/handler"
	"github.com/breatheroute/airwatch/internal/api/middleware"
	"github.com/breatheroute/airwatch/internal/resilience"
)

// Store is the storage capability the router needs directly.
type Store interface {
	handler.Pinger
	handler.Resetter
}

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version   string
	BuildTime string
	Logger    zerolog.Logger

	// Metrics records OpenTelemetry HTTP metrics. Optional.
	Metrics *middleware.Metrics

	// MetricsHandler serves GET /metrics. Optional.
	MetricsHandler http.Handler

	// RequireTLS rejects plain-HTTP requests forwarded by a proxy.
	RequireTLS bool

	Ingester handler.Ingester
	Reports  handler.ReportQuerier
	Alerts   handler.AlertQuerier
	Store    Store

	// Registry lists guarded components on the readiness endpoint. Optional.
	Registry *resilience.Registry

	// Tokens validates admin bearer tokens.
	Tokens middleware.TokenValidator

	// Caches are flushed after an admin reset.
	Caches []handler.CacheFlusher

	// RateLimits override the per-group request limits. Zero values fall
	// back to the middleware defaults.
	RateLimits RateLimits

	// MaxUploadBytes caps upload size. Default: handler.DefaultMaxUploadBytes
	MaxUploadBytes int64
}

// RateLimits configures the limiter of each route group.
type RateLimits struct {
	Upload   middleware.RateLimitConfig
	Standard middleware.RateLimitConfig
	Admin    middleware.RateLimitConfig
}

// NewRouter creates a new chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware - order matters
	r.Use(middleware.RequestID)            // Generate/propagate request ID first
	r.Use(middleware.Tracing())            // Distributed tracing
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware()) // HTTP metrics
	}
	r.Use(middleware.Logger(cfg.Logger))         // Structured logging
	r.Use(middleware.Recovery(cfg.Logger))       // Panic recovery
	r.Use(chimiddleware.RealIP)                  // Real IP extraction
	r.Use(middleware.SecurityHeaders)            // Security headers (HSTS, CSP, etc.)
	r.Use(middleware.RequireTLS(cfg.RequireTLS)) // TLS enforcement
	r.Use(middleware.ContentTypeJSON)            // JSON content type

	// Initialize handlers
	opsHandler := handler.NewOpsHandler(cfg.Version, cfg.BuildTime, cfg.Store, cfg.Registry)
	airQualityHandler := handler.NewAirQualityHandler(cfg.Ingester, cfg.Reports, cfg.MaxUploadBytes)
	alertHandler := handler.NewAlertHandler(cfg.Alerts)
	adminHandler := handler.NewAdminHandler(cfg.Store, cfg.Logger, cfg.Caches...)

	adminAuth := middleware.AdminAuth(cfg.Tokens)

	limits := cfg.RateLimits
	uploadRateLimit := middleware.RateLimitByIP(limits.Upload.OrDefault(middleware.UploadRateLimit))
	standardRateLimit := middleware.RateLimitByIP(limits.Standard.OrDefault(middleware.StandardRateLimit))
	adminRateLimit := middleware.RateLimitBySubject(limits.Admin.OrDefault(middleware.AdminRateLimit))

	if cfg.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", cfg.MetricsHandler)
	}

	// API v1 routes
	r.Route("/v1", func(r chi.Router) {
		// Ops endpoints (public)
		r.Route("/ops", func(r chi.Router) {
			r.Get("/health", opsHandler.HealthCheck)
			r.Get("/ready", opsHandler.ReadinessCheck)
		})

		r.Route("/air-quality", func(r chi.Router) {
			r.With(uploadRateLimit).Post("/upload", airQualityHandler.Upload)

			r.Group(func(r chi.Router) {
				r.Use(standardRateLimit)
				r.Get("/", airQualityHandler.TimeRange)
				r.Get("/cities/{city}", airQualityHandler.ByCity)
			})
		})

		r.Route("/aqi", func(r chi.Router) {
			r.Use(standardRateLimit)
			r.Get("/cities/{city}/history", airQualityHandler.History)
			r.Get("/cities/{city}/average", airQualityHandler.Average)
			r.Get("/best-cities", airQualityHandler.BestCities)
		})

		r.Route("/alerts", func(r chi.Router) {
			r.Use(standardRateLimit)
			r.Get("/", alertHandler.List)
			r.Get("/cities/{city}", alertHandler.ByCity)
		})

		// Admin endpoints (admin token)
		r.Route("/admin", func(r chi.Router) {
			r.Use(adminAuth)
			r.Use(adminRateLimit)
			r.Post("/reset", adminHandler.Reset)
		})
	})

	return r
}
