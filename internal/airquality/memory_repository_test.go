package airquality_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breatheroute/airwatch/internal/airquality"
	"github.com/breatheroute/airwatch/internal/alert"
	"github.com/breatheroute/airwatch/internal/aqi"
)

func day(s string) time.Time {
	t, err := time.Parse(airquality.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func withAQI(city, date string, overall int) airquality.ReportCandidate {
	return airquality.ReportCandidate{
		City:       city,
		Date:       day(date),
		PM25:       10,
		NO2:        20,
		CO2:        420,
		OverallAQI: overall,
		Level:      aqi.LevelFor(overall),
	}
}

func newRepo(t *testing.T, mode airquality.AlertMode, cities ...string) *airquality.InMemoryRepository {
	t.Helper()
	repo := airquality.NewInMemoryRepository(airquality.Options{
		AlertMode: mode,
		Deriver:   alert.NewDeriver(alert.DefaultThreshold),
	})
	require.NoError(t, repo.UpsertCities(context.Background(), cities))
	return repo
}

func TestInMemoryRepository_UpsertCitiesIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t, airquality.AlertModeMaterialized, "Haifa")

	require.NoError(t, repo.UpsertCities(ctx, []string{"Haifa", "Holon", "Holon"}))

	for _, name := range []string{"Haifa", "Holon"} {
		exists, err := repo.CityExists(ctx, name)
		require.NoError(t, err)
		assert.True(t, exists, name)
	}

	exists, err := repo.CityExists(ctx, "Eilat")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestInMemoryRepository_InsertReports(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t, airquality.AlertModeMaterialized, "Haifa", "Holon")

	result, err := repo.InsertReports(ctx, []airquality.ReportCandidate{
		withAQI("Haifa", "2024-01-01", 40),
		withAQI("Holon", "2024-01-01", 320),
	})
	require.NoError(t, err)
	require.Len(t, result.Reports, 2)
	require.Len(t, result.Alerts, 1)

	assert.NotZero(t, result.Reports[0].ID)
	assert.Equal(t, result.Reports[1].ID, result.Alerts[0].ID, "alert id is the report id")
	assert.Equal(t, "Holon", result.Alerts[0].City)
}

func TestInMemoryRepository_DuplicateRollsBackWholeBatch(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t, airquality.AlertModeMaterialized, "Haifa", "Holon")

	_, err := repo.InsertReports(ctx, []airquality.ReportCandidate{withAQI("Haifa", "2024-01-01", 40)})
	require.NoError(t, err)

	_, err = repo.InsertReports(ctx, []airquality.ReportCandidate{
		withAQI("Holon", "2024-01-01", 350),
		withAQI("Haifa", "2024-01-01", 45),
	})

	var dup *airquality.DuplicateReportError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "Haifa", dup.City)
	assert.Equal(t, day("2024-01-01"), dup.Date)
	assert.ErrorIs(t, err, airquality.ErrDuplicateReport)

	holon, err := repo.ReportsByCity(ctx, "Holon")
	require.NoError(t, err)
	assert.Empty(t, holon, "no partial rows")

	alerts, err := repo.AllAlerts(ctx)
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestInMemoryRepository_DuplicateWithinBatch(t *testing.T) {
	repo := newRepo(t, airquality.AlertModeMaterialized, "Haifa")

	_, err := repo.InsertReports(context.Background(), []airquality.ReportCandidate{
		withAQI("Haifa", "2024-01-01", 40),
		withAQI("Haifa", "2024-01-01", 41),
	})
	assert.ErrorIs(t, err, airquality.ErrDuplicateReport)

	reports, err := repo.ReportsByCity(context.Background(), "Haifa")
	require.NoError(t, err)
	assert.Empty(t, reports)
}

func TestInMemoryRepository_InsertUnknownCity(t *testing.T) {
	repo := newRepo(t, airquality.AlertModeMaterialized)

	_, err := repo.InsertReports(context.Background(), []airquality.ReportCandidate{withAQI("Nowhere", "2024-01-01", 40)})
	assert.ErrorIs(t, err, airquality.ErrUnknownCity)
}

func TestInMemoryRepository_ReportsByTimeRangeIsInclusive(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t, airquality.AlertModeMaterialized, "Haifa")

	_, err := repo.InsertReports(ctx, []airquality.ReportCandidate{
		withAQI("Haifa", "2024-01-01", 10),
		withAQI("Haifa", "2024-01-02", 20),
		withAQI("Haifa", "2024-01-03", 30),
		withAQI("Haifa", "2024-01-04", 40),
	})
	require.NoError(t, err)

	reports, err := repo.ReportsByTimeRange(ctx, day("2024-01-02"), day("2024-01-03"))
	require.NoError(t, err)
	require.Len(t, reports, 2)
	assert.Equal(t, 20, reports[0].OverallAQI)
	assert.Equal(t, 30, reports[1].OverallAQI)

	reports, err = repo.ReportsByTimeRange(ctx, day("2023-01-01"), day("2023-12-31"))
	require.NoError(t, err)
	assert.NotNil(t, reports)
	assert.Empty(t, reports)
}

func TestInMemoryRepository_HistoryAndStats(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t, airquality.AlertModeMaterialized, "Haifa", "Eilat")

	_, err := repo.InsertReports(ctx, []airquality.ReportCandidate{
		withAQI("Haifa", "2024-01-03", 30),
		withAQI("Haifa", "2024-01-01", 10),
		withAQI("Haifa", "2024-01-02", 25),
	})
	require.NoError(t, err)

	history, err := repo.History(ctx, "Haifa")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, day("2024-01-01"), history[0].Date)
	assert.Equal(t, day("2024-01-03"), history[2].Date)

	stats, err := repo.Stats(ctx, "Haifa")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Reports)
	assert.InDelta(t, 21.667, stats.Mean, 0.001)

	stats, err = repo.Stats(ctx, "Eilat")
	require.NoError(t, err)
	assert.Zero(t, stats.Reports)

	history, err = repo.History(ctx, "Eilat")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestInMemoryRepository_BestCities(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t, airquality.AlertModeMaterialized, "A", "B", "C", "D")

	_, err := repo.InsertReports(ctx, []airquality.ReportCandidate{
		withAQI("A", "2024-01-01", 40),
		withAQI("A", "2024-01-02", 120),
		withAQI("B", "2024-01-01", 55),
		withAQI("C", "2024-01-01", 90),
		withAQI("D", "2024-01-01", 30),
		withAQI("D", "2024-01-02", 400),
	})
	require.NoError(t, err)

	best, err := repo.BestCities(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"D", "A", "B"}, best)

	best, err = repo.BestCities(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, best, 4)
}

func TestInMemoryRepository_BestCitiesTiesByCityID(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t, airquality.AlertModeMaterialized, "First", "Second")

	_, err := repo.InsertReports(ctx, []airquality.ReportCandidate{
		withAQI("Second", "2024-01-01", 20),
		withAQI("First", "2024-01-01", 20),
	})
	require.NoError(t, err)

	best, err := repo.BestCities(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"First", "Second"}, best)
}

func TestInMemoryRepository_AlertModesAgree(t *testing.T) {
	ctx := context.Background()
	batch := []airquality.ReportCandidate{
		withAQI("Haifa", "2024-01-01", 310),
		withAQI("Holon", "2024-01-02", 300),
		withAQI("Haifa", "2024-01-03", 450),
		withAQI("Holon", "2024-01-04", 301),
	}

	materialized := newRepo(t, airquality.AlertModeMaterialized, "Haifa", "Holon")
	onDemand := newRepo(t, airquality.AlertModeOnDemand, "Haifa", "Holon")
	for _, repo := range []airquality.Store{materialized, onDemand} {
		_, err := repo.InsertReports(ctx, batch)
		require.NoError(t, err)
	}

	queries := map[string]func(airquality.AlertQuery) ([]airquality.Alert, error){
		"all":     func(q airquality.AlertQuery) ([]airquality.Alert, error) { return q.AllAlerts(ctx) },
		"since":   func(q airquality.AlertQuery) ([]airquality.Alert, error) { return q.AlertsSince(ctx, day("2024-01-01")) },
		"by city": func(q airquality.AlertQuery) ([]airquality.Alert, error) { return q.AlertsByCity(ctx, "Holon") },
	}

	for name, query := range queries {
		t.Run(name, func(t *testing.T) {
			want, err := query(materialized)
			require.NoError(t, err)
			got, err := query(onDemand)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}

	all, err := materialized.AllAlerts(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestInMemoryRepository_Reset(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t, airquality.AlertModeMaterialized, "Haifa")

	_, err := repo.InsertReports(ctx, []airquality.ReportCandidate{withAQI("Haifa", "2024-01-01", 400)})
	require.NoError(t, err)

	require.NoError(t, repo.Reset(ctx))

	exists, err := repo.CityExists(ctx, "Haifa")
	require.NoError(t, err)
	assert.False(t, exists)

	alerts, err := repo.AllAlerts(ctx)
	require.NoError(t, err)
	assert.Empty(t, alerts)

	require.NoError(t, repo.UpsertCities(ctx, []string{"Haifa"}))
	_, err = repo.InsertReports(ctx, []airquality.ReportCandidate{withAQI("Haifa", "2024-01-01", 400)})
	assert.NoError(t, err, "date is free again after reset")
}
