package airquality

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/breatheroute/airwatch/internal/aqi"
)

const reportColumns = `
	r.id, r.city_id, c.name, r.date,
	r.pm2_5, r.no2, r.co2,
	r.overall_aqi, r.aqi_level
`

// PostgresRepository is a PostgreSQL implementation of Store.
type PostgresRepository struct {
	pool *pgxpool.Pool
	opts Options
}

// NewPostgresRepository creates a new PostgreSQL repository.
func NewPostgresRepository(pool *pgxpool.Pool, opts Options) *PostgresRepository {
	return &PostgresRepository{pool: pool, opts: opts.withDefaults()}
}

// Ping checks database connectivity.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return classifyError("ping", r.pool.Ping(ctx))
}

// CityExists reports whether the city is known.
func (r *PostgresRepository) CityExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM cities WHERE name = $1)`, name).Scan(&exists)
	if err != nil {
		return false, classifyError("city exists", err)
	}
	return exists, nil
}

// UpsertCities inserts unknown city names in the given order.
func (r *PostgresRepository) UpsertCities(ctx context.Context, names []string) error {
	if len(names) == 0 {
		return nil
	}

	query := `
		INSERT INTO cities (name)
		SELECT name FROM unnest($1::text[]) WITH ORDINALITY AS t(name, ord)
		ORDER BY ord
		ON CONFLICT (name) DO NOTHING
	`

	_, err := r.pool.Exec(ctx, query, distinct(names))
	return classifyError("upsert cities", err)
}

// InsertReports stores the batch in one transaction.
//
// Each row is inserted with ON CONFLICT DO NOTHING RETURNING id. A row that
// returns no ID collided with the (city_id, date) constraint, which names
// the offending candidate without inspecting the server's error text.
func (r *PostgresRepository) InsertReports(ctx context.Context, candidates []ReportCandidate) (*InsertResult, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, classifyError("begin insert reports", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	cityIDs, err := r.lookupCityIDs(ctx, tx, candidates)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO reports (city_id, date, pm2_5, no2, co2, overall_aqi, aqi_level)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (city_id, date) DO NOTHING
		RETURNING id
	`

	result := &InsertResult{Reports: make([]Report, 0, len(candidates))}
	for _, c := range candidates {
		report := Report{
			CityID:     cityIDs[c.City],
			City:       c.City,
			Date:       NormalizeDate(c.Date),
			PM25:       c.PM25,
			NO2:        c.NO2,
			CO2:        c.CO2,
			OverallAQI: c.OverallAQI,
			Level:      c.Level,
		}

		err := tx.QueryRow(ctx, query,
			report.CityID,
			report.Date,
			report.PM25,
			report.NO2,
			report.CO2,
			report.OverallAQI,
			string(report.Level),
		).Scan(&report.ID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, &DuplicateReportError{City: c.City, Date: report.Date}
			}
			return nil, classifyError("insert report", err)
		}

		result.Reports = append(result.Reports, report)
	}

	result.Alerts = r.opts.Deriver.Derive(result.Reports)
	if r.opts.AlertMode == AlertModeMaterialized {
		for _, a := range result.Alerts {
			if _, err := tx.Exec(ctx, `INSERT INTO alerts (report_id) VALUES ($1)`, a.ID); err != nil {
				return nil, classifyError("insert alert", err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, classifyError("commit insert reports", err)
	}

	return result, nil
}

func (r *PostgresRepository) lookupCityIDs(ctx context.Context, tx pgx.Tx, candidates []ReportCandidate) (map[string]int64, error) {
	names := make([]string, 0, len(candidates))
	for _, c := range candidates {
		names = append(names, c.City)
	}
	names = distinct(names)

	rows, err := tx.Query(ctx, `SELECT id, name FROM cities WHERE name = ANY($1)`, names)
	if err != nil {
		return nil, classifyError("lookup cities", err)
	}
	defer rows.Close()

	ids := make(map[string]int64, len(names))
	for rows.Next() {
		var (
			id   int64
			name string
		)
		if err := rows.Scan(&id, &name); err != nil {
			return nil, classifyError("lookup cities", err)
		}
		ids[name] = id
	}
	if err := rows.Err(); err != nil {
		return nil, classifyError("lookup cities", err)
	}

	for _, name := range names {
		if _, ok := ids[name]; !ok {
			return nil, &UnknownCityError{City: name}
		}
	}
	return ids, nil
}

// ReportsByTimeRange returns reports dated within [start, end].
func (r *PostgresRepository) ReportsByTimeRange(ctx context.Context, start, end time.Time) ([]Report, error) {
	query := `
		SELECT ` + reportColumns + `
		FROM reports r
		JOIN cities c ON c.id = r.city_id
		WHERE r.date BETWEEN $1 AND $2
		ORDER BY r.date, r.id
	`

	return r.queryReports(ctx, "reports by time range", query, NormalizeDate(start), NormalizeDate(end))
}

// ReportsByCity returns all reports of a city.
func (r *PostgresRepository) ReportsByCity(ctx context.Context, city string) ([]Report, error) {
	query := `
		SELECT ` + reportColumns + `
		FROM reports r
		JOIN cities c ON c.id = r.city_id
		WHERE c.name = $1
		ORDER BY r.date, r.id
	`

	return r.queryReports(ctx, "reports by city", query, city)
}

func (r *PostgresRepository) queryReports(ctx context.Context, op, query string, args ...interface{}) ([]Report, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, classifyError(op, err)
	}
	defer rows.Close()

	reports := make([]Report, 0)
	for rows.Next() {
		var (
			rep   Report
			level string
		)
		err := rows.Scan(
			&rep.ID,
			&rep.CityID,
			&rep.City,
			&rep.Date,
			&rep.PM25,
			&rep.NO2,
			&rep.CO2,
			&rep.OverallAQI,
			&level,
		)
		if err != nil {
			return nil, classifyError(op, err)
		}
		rep.Level = aqi.Level(level)
		reports = append(reports, rep)
	}

	if err := rows.Err(); err != nil {
		return nil, classifyError(op, err)
	}
	return reports, nil
}

// History returns the city's index history ordered by date.
func (r *PostgresRepository) History(ctx context.Context, city string) ([]HistoryPoint, error) {
	query := `
		SELECT r.date, r.overall_aqi, r.aqi_level
		FROM reports r
		JOIN cities c ON c.id = r.city_id
		WHERE c.name = $1
		ORDER BY r.date
	`

	rows, err := r.pool.Query(ctx, query, city)
	if err != nil {
		return nil, classifyError("history", err)
	}
	defer rows.Close()

	points := make([]HistoryPoint, 0)
	for rows.Next() {
		var (
			p     HistoryPoint
			level string
		)
		if err := rows.Scan(&p.Date, &p.OverallAQI, &level); err != nil {
			return nil, classifyError("history", err)
		}
		p.Level = aqi.Level(level)
		points = append(points, p)
	}

	if err := rows.Err(); err != nil {
		return nil, classifyError("history", err)
	}
	return points, nil
}

// Stats returns the mean overall index of a city.
func (r *PostgresRepository) Stats(ctx context.Context, city string) (CityStats, error) {
	query := `
		SELECT COALESCE(AVG(r.overall_aqi), 0)::float8, COUNT(r.id)
		FROM reports r
		JOIN cities c ON c.id = r.city_id
		WHERE c.name = $1
	`

	var stats CityStats
	if err := r.pool.QueryRow(ctx, query, city).Scan(&stats.Mean, &stats.Reports); err != nil {
		return CityStats{}, classifyError("stats", err)
	}
	return stats, nil
}

// BestCities returns city names ordered by their lowest overall index.
func (r *PostgresRepository) BestCities(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		return []string{}, nil
	}

	query := `
		SELECT c.name
		FROM cities c
		JOIN reports r ON r.city_id = c.id
		GROUP BY c.id, c.name
		ORDER BY MIN(r.overall_aqi), c.id
		LIMIT $1
	`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, classifyError("best cities", err)
	}
	defer rows.Close()

	names := make([]string, 0, limit)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, classifyError("best cities", err)
		}
		names = append(names, name)
	}

	if err := rows.Err(); err != nil {
		return nil, classifyError("best cities", err)
	}
	return names, nil
}

// AllAlerts returns every alert.
func (r *PostgresRepository) AllAlerts(ctx context.Context) ([]Alert, error) {
	return r.queryAlerts(ctx, "all alerts", "", nil)
}

// AlertsSince returns alerts dated strictly after date.
func (r *PostgresRepository) AlertsSince(ctx context.Context, date time.Time) ([]Alert, error) {
	return r.queryAlerts(ctx, "alerts since", "r.date > $%d", NormalizeDate(date))
}

// AlertsByCity returns the alerts of a city.
func (r *PostgresRepository) AlertsByCity(ctx context.Context, city string) ([]Alert, error) {
	return r.queryAlerts(ctx, "alerts by city", "c.name = $%d", city)
}

// queryAlerts reads alerts from the alerts table, or straight from reports
// when alerts are derived on demand. filter is an optional WHERE clause with
// a single %d verb for its placeholder number.
func (r *PostgresRepository) queryAlerts(ctx context.Context, op, filter string, arg interface{}) ([]Alert, error) {
	var (
		from  string
		where []string
		args  []interface{}
	)

	if r.opts.AlertMode == AlertModeOnDemand {
		from = `FROM reports r JOIN cities c ON c.id = r.city_id`
		args = append(args, r.opts.Deriver.Threshold())
		where = append(where, fmt.Sprintf("r.overall_aqi > $%d", len(args)))
	} else {
		from = `FROM alerts a JOIN reports r ON r.id = a.report_id JOIN cities c ON c.id = r.city_id`
	}

	if filter != "" {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(filter, len(args)))
	}

	query := `SELECT r.id, c.name, r.date, r.overall_aqi, r.aqi_level ` + from
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY r.id`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, classifyError(op, err)
	}
	defer rows.Close()

	alerts := make([]Alert, 0)
	for rows.Next() {
		var (
			a     Alert
			level string
		)
		if err := rows.Scan(&a.ID, &a.City, &a.Date, &a.OverallAQI, &level); err != nil {
			return nil, classifyError(op, err)
		}
		a.Level = aqi.Level(level)
		alerts = append(alerts, a)
	}

	if err := rows.Err(); err != nil {
		return nil, classifyError(op, err)
	}
	return alerts, nil
}

// Reset removes all cities. Reports and alerts go with them through
// ON DELETE CASCADE.
func (r *PostgresRepository) Reset(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `TRUNCATE cities RESTART IDENTITY CASCADE`)
	return classifyError("reset", err)
}

// distinct returns names without duplicates, keeping first occurrences.
func distinct(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

// Ensure PostgresRepository implements Store interface.
var _ Store = (*PostgresRepository)(nil)
