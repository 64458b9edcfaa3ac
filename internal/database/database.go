// Package database provides PostgreSQL connection management.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Config holds database connection configuration.
type Config struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	// ConnectRetries is the number of extra connection attempts made at
	// startup. ConnectDelay is the initial wait between them.
	ConnectRetries int
	ConnectDelay   time.Duration
}

// ConnectionString returns the PostgreSQL connection string.
func (c Config) ConnectionString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

// Connect creates a new database connection pool.
func Connect(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns) //nolint:gosec // MaxOpenConns is bounded by config validation
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(cfg.MaxIdleConns) //nolint:gosec // MaxIdleConns is bounded by config validation
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// ConnectWithRetry calls Connect, retrying with exponential backoff up to
// cfg.ConnectRetries extra times. It gives up early when ctx is done.
func ConnectWithRetry(ctx context.Context, cfg Config, logger zerolog.Logger) (*pgxpool.Pool, error) {
	bo := backoff.NewExponentialBackOff()
	if cfg.ConnectDelay > 0 {
		bo.InitialInterval = cfg.ConnectDelay
	}
	bo.MaxElapsedTime = 0 // Attempts are bounded by WithMaxRetries

	retries := cfg.ConnectRetries
	if retries < 0 {
		retries = 0
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(retries)), ctx) //nolint:gosec // retries is non-negative

	var pool *pgxpool.Pool
	attempt := 0
	operation := func() error {
		attempt++
		p, err := Connect(ctx, cfg)
		if err != nil {
			logger.Warn().
				Err(err).
				Int("attempt", attempt).
				Str("host", cfg.Host).
				Msg("database connection failed")
			return err
		}
		pool = p
		return nil
	}

	if err := backoff.Retry(operation, policy); err != nil {
		return nil, fmt.Errorf("connect after %d attempts: %w", attempt, err)
	}
	return pool, nil
}
