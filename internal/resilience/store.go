package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"github.com/breatheroute/airwatch/internal/airquality"
	"github.com/breatheroute/airwatch/internal/observability"
)

// StoreConfig holds configuration for a breaker-guarded store.
type StoreConfig struct {
	// Name identifies the store in logs and health reports.
	// Default: "store"
	Name string

	// Timeout is how long the breaker stays open before probing again.
	// Default: 30 seconds
	Timeout time.Duration

	// MaxFailures is the number of consecutive connection failures that
	// opens the breaker. Default: 5
	MaxFailures uint32

	// Metrics receives breaker state changes. Default: unregistered metrics.
	Metrics *observability.Metrics

	Logger zerolog.Logger
}

// Store wraps an airquality.Store with a circuit breaker. Only connection
// failures count against the breaker. While it is open every call fails
// fast with a *airquality.ConnectionError wrapping ErrCircuitOpen.
type Store struct {
	next    airquality.Store
	name    string
	cb      *gobreaker.CircuitBreaker[any]
	metrics *observability.Metrics
	logger  zerolog.Logger

	mu            sync.RWMutex
	lastSuccessAt *time.Time
	lastFailureAt *time.Time
	lastError     string
}

// Ensure Store implements airquality.Store interface.
var _ airquality.Store = (*Store)(nil)

// NewStore wraps next with a circuit breaker.
func NewStore(next airquality.Store, cfg StoreConfig) *Store {
	if cfg.Name == "" {
		cfg.Name = "store"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NewMetricsWithRegistry(nil)
	}

	s := &Store{
		next:    next,
		name:    cfg.Name,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
	}

	cbConfig := DefaultCircuitBreakerConfig(cfg.Name)
	cbConfig.Timeout = cfg.Timeout
	cbConfig.ReadyToTrip = ConsecutiveFailures(cfg.MaxFailures)
	cbConfig.IsSuccessful = func(err error) bool {
		return !errors.Is(err, airquality.ErrConnection)
	}
	cbConfig.OnStateChange = s.onStateChange
	s.cb = NewCircuitBreaker[any](cbConfig)

	s.metrics.StoreBreakerState.Set(float64(gobreaker.StateClosed))
	return s
}

func (s *Store) onStateChange(name string, from, to gobreaker.State) {
	s.metrics.StoreBreakerState.Set(float64(to))

	event := s.logger.Info()
	if to == gobreaker.StateOpen {
		event = s.logger.Warn()
	}
	event.
		Str("breaker", name).
		Str("from", from.String()).
		Str("to", to.String()).
		Msg("store circuit breaker state changed")
}

// State returns the current breaker state.
func (s *Store) State() gobreaker.State {
	return s.cb.State()
}

// Health reports the breaker state and the most recent outcomes.
func (s *Store) Health() ComponentHealth {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return ComponentHealth{
		Name:          s.name,
		CircuitState:  s.cb.State(),
		Counts:        s.cb.Counts(),
		LastSuccessAt: s.lastSuccessAt,
		LastFailureAt: s.lastFailureAt,
		LastError:     s.lastError,
	}
}

func (s *Store) record(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if err == nil || !errors.Is(err, airquality.ErrConnection) {
		s.lastSuccessAt = &now
		return
	}
	s.lastFailureAt = &now
	s.lastError = err.Error()
}

// execute runs fn through the breaker.
func execute[T any](s *Store, op string, fn func() (T, error)) (T, error) {
	var zero T

	v, err := s.cb.Execute(func() (any, error) {
		return fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return zero, &airquality.ConnectionError{Op: op, Err: ErrCircuitOpen}
	}
	s.record(err)
	if err != nil {
		return zero, err
	}

	result, _ := v.(T)
	return result, nil
}

func executeErr(s *Store, op string, fn func() error) error {
	_, err := execute(s, op, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// CityExists checks whether a city has been ingested.
func (s *Store) CityExists(ctx context.Context, name string) (bool, error) {
	return execute(s, "city exists", func() (bool, error) {
		return s.next.CityExists(ctx, name)
	})
}

// UpsertCities registers cities.
func (s *Store) UpsertCities(ctx context.Context, names []string) error {
	return executeErr(s, "upsert cities", func() error {
		return s.next.UpsertCities(ctx, names)
	})
}

// InsertReports stores a batch of reports.
func (s *Store) InsertReports(ctx context.Context, candidates []airquality.ReportCandidate) (*airquality.InsertResult, error) {
	return execute(s, "insert reports", func() (*airquality.InsertResult, error) {
		return s.next.InsertReports(ctx, candidates)
	})
}

// ReportsByTimeRange returns reports dated within [start, end].
func (s *Store) ReportsByTimeRange(ctx context.Context, start, end time.Time) ([]airquality.Report, error) {
	return execute(s, "reports by time range", func() ([]airquality.Report, error) {
		return s.next.ReportsByTimeRange(ctx, start, end)
	})
}

// ReportsByCity returns all reports of a city.
func (s *Store) ReportsByCity(ctx context.Context, city string) ([]airquality.Report, error) {
	return execute(s, "reports by city", func() ([]airquality.Report, error) {
		return s.next.ReportsByCity(ctx, city)
	})
}

// History returns a city's index history.
func (s *Store) History(ctx context.Context, city string) ([]airquality.HistoryPoint, error) {
	return execute(s, "history", func() ([]airquality.HistoryPoint, error) {
		return s.next.History(ctx, city)
	})
}

// Stats returns the mean overall index of a city.
func (s *Store) Stats(ctx context.Context, city string) (airquality.CityStats, error) {
	return execute(s, "stats", func() (airquality.CityStats, error) {
		return s.next.Stats(ctx, city)
	})
}

// BestCities returns the cities with the lowest recorded index.
func (s *Store) BestCities(ctx context.Context, limit int) ([]string, error) {
	return execute(s, "best cities", func() ([]string, error) {
		return s.next.BestCities(ctx, limit)
	})
}

// AllAlerts returns every alert.
func (s *Store) AllAlerts(ctx context.Context) ([]airquality.Alert, error) {
	return execute(s, "all alerts", func() ([]airquality.Alert, error) {
		return s.next.AllAlerts(ctx)
	})
}

// AlertsSince returns alerts dated after date.
func (s *Store) AlertsSince(ctx context.Context, date time.Time) ([]airquality.Alert, error) {
	return execute(s, "alerts since", func() ([]airquality.Alert, error) {
		return s.next.AlertsSince(ctx, date)
	})
}

// AlertsByCity returns the alerts of a city.
func (s *Store) AlertsByCity(ctx context.Context, city string) ([]airquality.Alert, error) {
	return execute(s, "alerts by city", func() ([]airquality.Alert, error) {
		return s.next.AlertsByCity(ctx, city)
	})
}

// Reset wipes all stored data.
func (s *Store) Reset(ctx context.Context) error {
	return executeErr(s, "reset", func() error {
		return s.next.Reset(ctx)
	})
}

// Ping checks that the underlying store is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return executeErr(s, "ping", func() error {
		return s.next.Ping(ctx)
	})
}
