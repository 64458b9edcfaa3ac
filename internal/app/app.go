// Package app assembles the air quality services from configuration. Both
// the HTTP server and the command line tool start from New.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/breatheroute/airwatch/internal/airquality"
	"github.com/breatheroute/airwatch/internal/alert"
	"github.com/breatheroute/airwatch/internal/aqi"
	"github.com/breatheroute/airwatch/internal/auth"
	"github.com/breatheroute/airwatch/internal/config"
	"github.com/breatheroute/airwatch/internal/database"
	"github.com/breatheroute/airwatch/internal/ingest"
	"github.com/breatheroute/airwatch/internal/observability"
	"github.com/breatheroute/airwatch/internal/query"
	"github.com/breatheroute/airwatch/internal/resilience"
)

// Options holds process-level dependencies that do not come from Config.
type Options struct {
	Logger zerolog.Logger

	// Registerer receives the Prometheus metrics. Default:
	// prometheus.DefaultRegisterer
	Registerer prometheus.Registerer
}

// App holds the assembled services.
type App struct {
	Config *config.Config
	Logger zerolog.Logger

	// Store is the repository, wrapped in a circuit breaker when enabled.
	Store airquality.Store

	// Health lists guarded components for the readiness endpoint.
	Health *resilience.Registry

	Cities  *airquality.CachedCityLookup
	Metrics *observability.Metrics

	Ingest *ingest.Service
	Query  *query.Service
	Alerts *alert.Service
	Tokens *auth.JWTService

	pool      *pgxpool.Pool
	publisher alert.Publisher
}

// NewLogger builds the process logger from the app settings.
func NewLogger(cfg config.AppConfig, service, version string) zerolog.Logger {
	var out io.Writer = os.Stdout
	if cfg.LogFormat == "console" {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	return zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Str("service", service).
		Str("version", version).
		Logger()
}

// New connects the store and builds every service. It does not apply the
// schema; call Migrate for that. Close releases what New acquired.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	log := opts.Logger
	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	a := &App{
		Config:  cfg,
		Logger:  log,
		Health:  resilience.NewRegistry(),
		Metrics: observability.NewMetricsWithRegistry(reg),
	}

	engine, err := newEngine(cfg.BreakpointsFile)
	if err != nil {
		return nil, err
	}
	dateFormat, err := airquality.NewDateFormat(cfg.Ingest.DateFormat)
	if err != nil {
		return nil, fmt.Errorf("date format: %w", err)
	}
	imputer, err := newImputer(cfg.Ingest)
	if err != nil {
		return nil, err
	}

	repoOpts := airquality.Options{
		AlertMode: cfg.Alert.Mode,
		Deriver:   alert.NewDeriver(cfg.Alert.Threshold),
	}
	if err := a.openStore(ctx, repoOpts); err != nil {
		return nil, err
	}

	a.publisher, err = newPublisher(ctx, cfg.Alert, log)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Cities = airquality.NewCachedCityLookup(a.Store, cfg.App.CityCacheTTL)

	a.Ingest = ingest.NewService(ingest.ServiceConfig{
		Store:      a.Store,
		Engine:     engine,
		DateFormat: dateFormat,
		Imputer:    imputer,
		Publisher:  a.publisher,
		Metrics:    a.Metrics,
		Logger:     log,
	})
	a.Query = query.NewService(query.ServiceConfig{
		Reports:    a.Store,
		Cities:     a.Cities,
		DateFormat: dateFormat,
		Metrics:    a.Metrics,
		Logger:     log,
	})
	a.Alerts = alert.NewService(alert.ServiceConfig{
		Alerts:     a.Store,
		Cities:     a.Cities,
		DateFormat: dateFormat,
		Logger:     log,
	})
	a.Tokens = auth.NewJWTService(auth.JWTConfig{
		SigningKey: cfg.Auth.AdminSigningKey,
		TTL:        cfg.Auth.AdminTokenTTL,
	})

	return a, nil
}

// Close flushes the alert publisher and closes the database pool.
func (a *App) Close() {
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("failed to close alert publisher")
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

// Migrate applies the schema. It is a no-op for the memory store.
func (a *App) Migrate(ctx context.Context) error {
	if a.pool == nil {
		return nil
	}
	return database.Migrate(ctx, a.pool)
}

func (a *App) openStore(ctx context.Context, opts airquality.Options) error {
	var repo airquality.Store

	switch a.Config.App.StoreBackend {
	case config.StoreMemory:
		repo = airquality.NewInMemoryRepository(opts)
		a.Logger.Warn().Msg("using in-memory store - data is lost on exit")
	case config.StorePostgres:
		dbCfg := a.Config.Database
		pool, err := database.ConnectWithRetry(ctx, dbCfg, a.Logger)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		a.pool = pool
		repo = airquality.NewPostgresRepository(pool, opts)
		a.Logger.Info().
			Str("host", dbCfg.Host).
			Int("port", dbCfg.Port).
			Str("database", dbCfg.Database).
			Msg("database connected")
	default:
		return fmt.Errorf("unknown store backend %q", a.Config.App.StoreBackend)
	}

	if !a.Config.Breaker.Enabled {
		a.Store = repo
		return nil
	}

	guarded := resilience.NewStore(repo, resilience.StoreConfig{
		Timeout:     a.Config.Breaker.Timeout,
		MaxFailures: a.Config.Breaker.MaxFailures,
		Metrics:     a.Metrics,
		Logger:      a.Logger,
	})
	a.Health.Register("store", guarded)
	a.Store = guarded
	return nil
}

func newEngine(breakpointsFile string) (*aqi.Engine, error) {
	if breakpointsFile == "" {
		return aqi.Default(), nil
	}
	tables, err := aqi.LoadTables(breakpointsFile)
	if err != nil {
		return nil, fmt.Errorf("breakpoints: %w", err)
	}
	return aqi.NewEngine(tables)
}

func newImputer(cfg config.IngestConfig) (ingest.Imputer, error) {
	if !cfg.ImputationEnabled {
		return nil, nil
	}
	rng := ingest.NewRand(cfg.ImputationSeed)

	switch cfg.ImputationMethod {
	case config.ImputationParametric:
		return ingest.NewParametricImputer(ingest.ParametricConfig(cfg.Parametric), rng), nil
	case config.ImputationEmpirical:
		ref, err := ingest.LoadReferenceData(cfg.ReferenceDataPath)
		if err != nil {
			return nil, err
		}
		imputer, err := ingest.NewEmpiricalImputer(ref, cfg.EmpiricalNoiseSigma, rng)
		if err != nil {
			return nil, err
		}
		return imputer, nil
	default:
		return nil, fmt.Errorf("unknown imputation method %q", cfg.ImputationMethod)
	}
}

func newPublisher(ctx context.Context, cfg config.AlertConfig, log zerolog.Logger) (alert.Publisher, error) {
	switch cfg.Publisher {
	case config.PublisherNone, "":
		return alert.NoopPublisher{}, nil
	case config.PublisherPubSub:
		p, err := alert.NewPubSubPublisher(ctx, alert.PubSubConfig{
			ProjectID: cfg.PubSubProjectID,
			Topic:     cfg.PubSubTopic,
			Logger:    log,
		})
		if err != nil {
			return nil, err
		}
		log.Info().Str("topic", cfg.PubSubTopic).Msg("publishing alerts to Pub/Sub")
		return p, nil
	case config.PublisherKafka:
		log.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).Msg("publishing alerts to Kafka")
		return alert.NewKafkaPublisher(alert.KafkaConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
		}), nil
	default:
		return nil, errors.New("unknown alert publisher " + cfg.Publisher)
	}
}
