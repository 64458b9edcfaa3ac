package alert

import (
	"context"
	"sort"

	"github.com/rs/zerolog"

	"github.com/breatheroute/airwatch/internal/airquality"
)

// ServiceConfig holds configuration for the alert service.
type ServiceConfig struct {
	// Alerts reads stored or derived alerts.
	Alerts airquality.AlertQuery

	// Cities answers city existence checks.
	Cities airquality.CityLookup

	// DateFormat parses the "since" argument. Defaults to YYYY-MM-DD.
	DateFormat *airquality.DateFormat

	// Logger for service operations.
	Logger zerolog.Logger
}

// Service answers alert queries. Results are sorted by date, then city.
type Service struct {
	alerts     airquality.AlertQuery
	cities     airquality.CityLookup
	dateFormat *airquality.DateFormat
	logger     zerolog.Logger
}

// NewService creates a new alert service.
func NewService(cfg ServiceConfig) *Service {
	dateFormat := cfg.DateFormat
	if dateFormat == nil {
		dateFormat = airquality.MustDateFormat(airquality.DefaultDateFormat)
	}

	return &Service{
		alerts:     cfg.Alerts,
		cities:     cfg.Cities,
		dateFormat: dateFormat,
		logger:     cfg.Logger,
	}
}

// All returns every alert.
func (s *Service) All(ctx context.Context) ([]airquality.Alert, error) {
	alerts, err := s.alerts.AllAlerts(ctx)
	if err != nil {
		return nil, err
	}
	return sorted(alerts), nil
}

// Since returns alerts dated strictly after since.
func (s *Service) Since(ctx context.Context, since string) ([]airquality.Alert, error) {
	date, err := s.dateFormat.Parse(since)
	if err != nil {
		return nil, err
	}

	alerts, err := s.alerts.AlertsSince(ctx, date)
	if err != nil {
		return nil, err
	}
	return sorted(alerts), nil
}

// ByCity returns the alerts of a city. It fails with *UnknownCityError when
// the city was never ingested; a known city without alerts yields an empty
// slice.
func (s *Service) ByCity(ctx context.Context, city string) ([]airquality.Alert, error) {
	exists, err := s.cities.CityExists(ctx, city)
	if err != nil {
		return nil, err
	}
	if !exists {
		s.logger.Debug().Str("city", city).Msg("alerts requested for unknown city")
		return nil, &airquality.UnknownCityError{City: city}
	}

	alerts, err := s.alerts.AlertsByCity(ctx, city)
	if err != nil {
		return nil, err
	}
	return sorted(alerts), nil
}

func sorted(alerts []airquality.Alert) []airquality.Alert {
	sort.SliceStable(alerts, func(i, j int) bool {
		if !alerts[i].Date.Equal(alerts[j].Date) {
			return alerts[i].Date.Before(alerts[j].Date)
		}
		return alerts[i].City < alerts[j].City
	})
	return alerts
}
