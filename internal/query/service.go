// Package query answers read-only questions about stored reports.
package query

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/breatheroute/airwatch/internal/airquality"
	"github.com/breatheroute/airwatch/internal/aqi"
	"github.com/breatheroute/airwatch/internal/observability"
	"github.com/breatheroute/airwatch/internal/telemetry"
)

// DefaultBestCitiesLimit is used when BestCities is called with limit <= 0.
const DefaultBestCitiesLimit = 3

// CityAverage is the mean overall index of a city.
type CityAverage struct {
	City string

	// Mean is the arithmetic mean of the city's overall indices.
	Mean float64

	// AQI is Mean rounded to the nearest integer, and Level its band.
	AQI   int
	Level aqi.Level

	Reports int

	// NoData is set when the city exists but has no reports. Mean, AQI and
	// Level are then zero.
	NoData bool
}

// ServiceConfig holds configuration for the query service.
type ServiceConfig struct {
	Reports airquality.ReportQuery
	Cities  airquality.CityLookup

	// DateFormat parses range bounds. Defaults to YYYY-MM-DD.
	DateFormat *airquality.DateFormat

	// Metrics counts queries. Default: unregistered metrics.
	Metrics *observability.Metrics

	Logger zerolog.Logger
}

// Service answers report queries.
type Service struct {
	reports    airquality.ReportQuery
	cities     airquality.CityLookup
	dateFormat *airquality.DateFormat
	metrics    *observability.Metrics
	logger     zerolog.Logger
}

// NewService creates a new query service.
func NewService(cfg ServiceConfig) *Service {
	if cfg.DateFormat == nil {
		cfg.DateFormat = airquality.MustDateFormat(airquality.DefaultDateFormat)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NewMetricsWithRegistry(nil)
	}

	return &Service{
		reports:    cfg.Reports,
		cities:     cfg.Cities,
		dateFormat: cfg.DateFormat,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
	}
}

// TimeRange returns reports dated within [start, end]. Both bounds must be
// valid dates and start must not be after end.
func (s *Service) TimeRange(ctx context.Context, start, end string) (reports []airquality.Report, err error) {
	ctx, done := s.observe(ctx, "time_range", "")
	defer func() { done(err) }()

	from, err := s.dateFormat.Parse(start)
	if err != nil {
		return nil, err
	}
	to, err := s.dateFormat.Parse(end)
	if err != nil {
		return nil, err
	}
	if from.After(to) {
		return nil, &airquality.InvalidDateError{
			Values: []string{start, end},
			Reason: "start is after end",
		}
	}

	return s.reports.ReportsByTimeRange(ctx, from, to)
}

// ByCity returns all reports of a city.
func (s *Service) ByCity(ctx context.Context, city string) (reports []airquality.Report, err error) {
	ctx, done := s.observe(ctx, "by_city", city)
	defer func() { done(err) }()

	if err := s.requireCity(ctx, city); err != nil {
		return nil, err
	}
	return s.reports.ReportsByCity(ctx, city)
}

// History returns a city's overall index per date.
func (s *Service) History(ctx context.Context, city string) (points []airquality.HistoryPoint, err error) {
	ctx, done := s.observe(ctx, "history", city)
	defer func() { done(err) }()

	if err := s.requireCity(ctx, city); err != nil {
		return nil, err
	}
	return s.reports.History(ctx, city)
}

// Average returns a city's mean overall index and the level it falls in.
func (s *Service) Average(ctx context.Context, city string) (avg *CityAverage, err error) {
	ctx, done := s.observe(ctx, "average", city)
	defer func() { done(err) }()

	if err := s.requireCity(ctx, city); err != nil {
		return nil, err
	}

	stats, err := s.reports.Stats(ctx, city)
	if err != nil {
		return nil, err
	}
	if stats.Reports == 0 {
		return &CityAverage{City: city, NoData: true}, nil
	}

	return &CityAverage{
		City:    city,
		Mean:    stats.Mean,
		AQI:     roundIndex(stats.Mean),
		Level:   aqi.LevelForAverage(stats.Mean),
		Reports: stats.Reports,
	}, nil
}

// BestCities returns up to limit cities ranked by their best day. A limit
// of zero or less means DefaultBestCitiesLimit.
func (s *Service) BestCities(ctx context.Context, limit int) (cities []string, err error) {
	ctx, done := s.observe(ctx, "best_cities", "")
	defer func() { done(err) }()

	if limit <= 0 {
		limit = DefaultBestCitiesLimit
	}
	return s.reports.BestCities(ctx, limit)
}

func (s *Service) requireCity(ctx context.Context, city string) error {
	exists, err := s.cities.CityExists(ctx, city)
	if err != nil {
		return err
	}
	if !exists {
		s.logger.Debug().Str("city", city).Msg("query for unknown city")
		return &airquality.UnknownCityError{City: city}
	}
	return nil
}

// observe starts a span for a query and returns a function that ends it and
// records the outcome.
func (s *Service) observe(ctx context.Context, name, city string) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := telemetry.StartSpan(ctx, "query."+name, telemetry.AttrQuery.String(name))
	if city != "" {
		span.SetAttributes(telemetry.AttrCity.String(city))
	}

	return ctx, func(err error) {
		telemetry.RecordError(span, err)
		span.End()
		s.metrics.Queries.WithLabelValues(name, outcome(err)).Inc()

		if err != nil && !airquality.IsValidation(err) && !isNotFound(err) {
			s.logger.Error().Err(err).Str("query", name).Dur("duration", time.Since(start)).Msg("query failed")
		}
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return observability.OutcomeSuccess
	case airquality.IsValidation(err):
		return observability.OutcomeValidation
	case isNotFound(err):
		return observability.OutcomeUnknown
	case isConnection(err):
		return observability.OutcomeConnection
	default:
		return observability.OutcomeError
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, airquality.ErrUnknownCity)
}

func isConnection(err error) bool {
	return errors.Is(err, airquality.ErrConnection)
}

func roundIndex(mean float64) int {
	return int(math.Round(mean))
}
