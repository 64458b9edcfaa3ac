package airquality

import (
	"context"
	"time"
)

// AlertDeriver selects the alerts raised by a set of stored reports.
type AlertDeriver interface {
	// Derive returns one alert per report above the threshold.
	Derive(reports []Report) []Alert

	// Threshold is the exclusive lower bound on the overall index.
	Threshold() int
}

// CityLookup answers whether a city has ever been ingested.
type CityLookup interface {
	CityExists(ctx context.Context, name string) (bool, error)
}

// CityWriter registers cities.
type CityWriter interface {
	// UpsertCities inserts every distinct name not yet known. Names that
	// already exist are ignored.
	UpsertCities(ctx context.Context, names []string) error
}

// ReportWriter stores report batches.
type ReportWriter interface {
	// InsertReports stores all candidates in one transaction. If any
	// (city, date) pair collides with a stored report or with another
	// candidate, nothing is stored and a *DuplicateReportError is returned.
	InsertReports(ctx context.Context, candidates []ReportCandidate) (*InsertResult, error)
}

// ReportQuery reads stored reports. Every method returns an empty slice,
// not an error, when nothing matches. City existence is checked separately
// through CityLookup.
type ReportQuery interface {
	// ReportsByTimeRange returns reports dated within [start, end].
	ReportsByTimeRange(ctx context.Context, start, end time.Time) ([]Report, error)

	// ReportsByCity returns all reports of a city.
	ReportsByCity(ctx context.Context, city string) ([]Report, error)

	// History returns a city's index history ordered by date.
	History(ctx context.Context, city string) ([]HistoryPoint, error)

	// Stats returns the mean overall index of a city.
	Stats(ctx context.Context, city string) (CityStats, error)

	// BestCities returns up to limit city names ordered by their lowest
	// recorded overall index. Ties are broken by city ID.
	BestCities(ctx context.Context, limit int) ([]string, error)
}

// AlertQuery reads alerts.
type AlertQuery interface {
	AllAlerts(ctx context.Context) ([]Alert, error)

	// AlertsSince returns alerts dated strictly after date.
	AlertsSince(ctx context.Context, date time.Time) ([]Alert, error)

	AlertsByCity(ctx context.Context, city string) ([]Alert, error)
}

// Resetter wipes all stored data.
type Resetter interface {
	Reset(ctx context.Context) error
}

// Store is the full persistence capability set.
type Store interface {
	CityLookup
	CityWriter
	ReportWriter
	ReportQuery
	AlertQuery
	Resetter

	// Ping checks that the store is reachable.
	Ping(ctx context.Context) error
}
