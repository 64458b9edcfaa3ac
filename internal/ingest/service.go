package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/breatheroute/airwatch/internal/airquality"
	"github.com/breatheroute/airwatch/internal/alert"
	"github.com/breatheroute/airwatch/internal/aqi"
	"github.com/breatheroute/airwatch/internal/observability"
	"github.com/breatheroute/airwatch/internal/telemetry"
)

// Store is the persistence capability needed to ingest a batch.
type Store interface {
	airquality.CityWriter
	airquality.ReportWriter
}

// Result describes a committed batch.
type Result struct {
	BatchID  uuid.UUID
	Inserted int

	// Cities lists the distinct cities in the batch, in order of first
	// appearance.
	Cities []string

	// Imputed is the number of pollutant cells filled by imputation.
	Imputed int

	// Warnings describes rows whose cells were imputed.
	Warnings []string

	// Alerts are the alerts raised by this batch.
	Alerts []airquality.Alert
}

// ServiceConfig holds dependencies for the ingestion service.
type ServiceConfig struct {
	Store Store

	// Engine computes AQI values. Default: aqi.Default().
	Engine *aqi.Engine

	// DateFormat parses date cells. Default: YYYY-MM-DD.
	DateFormat *airquality.DateFormat

	// Imputer fills missing cells. Nil disables imputation, so batches with
	// missing cells are rejected.
	Imputer Imputer

	// Publisher receives alerts after commit. Default: alert.NoopPublisher.
	Publisher alert.Publisher

	// Metrics records ingestion metrics. Default: unregistered metrics.
	Metrics *observability.Metrics

	// MaxConcurrentFiles bounds IngestFiles. Default: 4.
	MaxConcurrentFiles int

	Logger zerolog.Logger
}

// Service ingests batches.
type Service struct {
	store     Store
	engine    *aqi.Engine
	validator *Validator
	imputer   Imputer
	publisher alert.Publisher
	metrics   *observability.Metrics
	maxFiles  int
	logger    zerolog.Logger
}

// NewService creates a new ingestion service.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Engine == nil {
		cfg.Engine = aqi.Default()
	}
	if cfg.Publisher == nil {
		cfg.Publisher = alert.NoopPublisher{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NewMetricsWithRegistry(nil)
	}
	if cfg.MaxConcurrentFiles <= 0 {
		cfg.MaxConcurrentFiles = 4
	}

	return &Service{
		store:  cfg.Store,
		engine: cfg.Engine,
		validator: NewValidator(ValidatorConfig{
			DateFormat:   cfg.DateFormat,
			AllowMissing: cfg.Imputer != nil,
		}),
		imputer:   cfg.Imputer,
		publisher: cfg.Publisher,
		metrics:   cfg.Metrics,
		maxFiles:  cfg.MaxConcurrentFiles,
		logger:    cfg.Logger,
	}
}

// Ingest reads, validates, completes and stores one batch. Either every row
// is stored or none is. Alerts are published after commit; a publish
// failure is logged and does not fail the ingestion.
func (s *Service) Ingest(ctx context.Context, r io.Reader) (*Result, error) {
	start := time.Now()
	batchID := uuid.New()

	ctx, span := telemetry.StartSpan(ctx, "ingest.Batch", telemetry.AttrBatchID.String(batchID.String()))
	defer span.End()

	result, err := s.ingest(ctx, batchID, r)

	s.metrics.IngestDuration.Observe(time.Since(start).Seconds())
	s.metrics.BatchesIngested.WithLabelValues(Outcome(err)).Inc()

	if err != nil {
		telemetry.RecordError(span, err)
		event := s.logger.Warn()
		if !airquality.IsValidation(err) && !errors.Is(err, airquality.ErrDuplicateReport) {
			event = s.logger.Error()
		}
		event.Err(err).Str("batch_id", batchID.String()).Msg("batch rejected")
		return nil, err
	}

	span.SetAttributes(
		telemetry.AttrInserted.Int(result.Inserted),
		telemetry.AttrAlerts.Int(len(result.Alerts)),
		telemetry.AttrImputed.Int(result.Imputed),
	)
	s.logger.Info().
		Str("batch_id", batchID.String()).
		Int("inserted", result.Inserted).
		Int("cities", len(result.Cities)).
		Int("imputed", result.Imputed).
		Int("alerts", len(result.Alerts)).
		Dur("duration", time.Since(start)).
		Msg("batch ingested")

	return result, nil
}

func (s *Service) ingest(ctx context.Context, batchID uuid.UUID, r io.Reader) (*Result, error) {
	batch, err := ReadBatch(r)
	if err != nil {
		return nil, err
	}
	s.metrics.BatchRows.Observe(float64(len(batch.Records)))

	readings, err := s.validator.Validate(batch)
	if err != nil {
		return nil, err
	}

	var stats ImputeStats
	if s.imputer != nil {
		stats = s.imputer.Impute(readings)
		for p, n := range stats.Cells {
			s.metrics.CellsImputed.WithLabelValues(string(p)).Add(float64(n))
		}
	}

	candidates := s.derive(readings)
	cities := distinctCities(readings)

	if err := s.store.UpsertCities(ctx, cities); err != nil {
		return nil, fmt.Errorf("register cities: %w", err)
	}
	inserted, err := s.store.InsertReports(ctx, candidates)
	if err != nil {
		return nil, fmt.Errorf("store batch: %w", err)
	}

	s.metrics.ReportsInserted.Add(float64(len(inserted.Reports)))
	s.metrics.AlertsRaised.Add(float64(len(inserted.Alerts)))
	s.publish(ctx, batchID, inserted.Alerts)

	return &Result{
		BatchID:  batchID,
		Inserted: len(inserted.Reports),
		Cities:   cities,
		Imputed:  stats.Total(),
		Warnings: warnings(readings),
		Alerts:   inserted.Alerts,
	}, nil
}

// derive computes the AQI of every reading. Readings must be complete.
func (s *Service) derive(readings []PendingReading) []airquality.ReportCandidate {
	values := make([]aqi.Reading, len(readings))
	for i, r := range readings {
		values[i] = aqi.Reading{
			PM25: roundConcentration(*r.PM25),
			NO2:  roundConcentration(*r.NO2),
			CO2:  roundConcentration(*r.CO2),
		}
	}

	results := s.engine.ComputeAll(values)
	candidates := make([]airquality.ReportCandidate, len(readings))
	for i, r := range readings {
		candidates[i] = airquality.ReportCandidate{
			City:       r.City,
			Date:       r.Date,
			PM25:       values[i].PM25,
			NO2:        values[i].NO2,
			CO2:        values[i].CO2,
			OverallAQI: results[i].AQI,
			Level:      results[i].Level,
		}
	}
	return candidates
}

func (s *Service) publish(ctx context.Context, batchID uuid.UUID, alerts []airquality.Alert) {
	if len(alerts) == 0 {
		return
	}

	// The batch is committed; a cancelled request must not drop its alerts.
	if err := s.publisher.Publish(context.WithoutCancel(ctx), alerts); err != nil {
		s.metrics.AlertPublishFailures.Inc()
		s.logger.Error().
			Err(err).
			Str("batch_id", batchID.String()).
			Int("alerts", len(alerts)).
			Msg("failed to publish alerts")
	}
}

// IngestFiles ingests each file as its own batch, concurrently. Results are
// returned in path order; the entry of a failed file is nil. The first
// failure cancels files that have not finished and is returned.
func (s *Service) IngestFiles(ctx context.Context, paths []string) ([]*Result, error) {
	results := make([]*Result, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.maxFiles)
	for i, path := range paths {
		g.Go(func() error {
			f, err := os.Open(path) //nolint:gosec // operator-supplied path
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			defer f.Close() //nolint:errcheck // read-only file

			res, err := s.Ingest(gctx, f)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			results[i] = res
			return nil
		})
	}

	return results, g.Wait()
}

// Outcome maps an ingestion error to a metrics label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return observability.OutcomeSuccess
	case airquality.IsValidation(err):
		return observability.OutcomeValidation
	case errors.Is(err, airquality.ErrDuplicateReport):
		return observability.OutcomeDuplicate
	case errors.Is(err, airquality.ErrUnknownCity):
		return observability.OutcomeUnknown
	case errors.Is(err, airquality.ErrConnection):
		return observability.OutcomeConnection
	default:
		return observability.OutcomeError
	}
}

func distinctCities(readings []PendingReading) []string {
	seen := make(map[string]bool)
	cities := make([]string, 0)
	for _, r := range readings {
		if !seen[r.City] {
			seen[r.City] = true
			cities = append(cities, r.City)
		}
	}
	return cities
}

func warnings(readings []PendingReading) []string {
	out := make([]string, 0)
	for _, r := range readings {
		if len(r.Imputed) == 0 {
			continue
		}
		names := make([]string, len(r.Imputed))
		for i, p := range r.Imputed {
			names[i] = string(p)
		}
		out = append(out, fmt.Sprintf("row %d: imputed %s for %s on %s",
			r.Row, strings.Join(names, ", "), r.City, r.DateRaw))
	}
	return out
}
