package airquality

import (
	"context"
	"sort"
	"sync"
	"time"
)

type reportKey struct {
	cityID int64
	date   time.Time
}

// InMemoryRepository is an in-memory implementation of Store.
// This is intended for testing and local runs. Production should use
// PostgresRepository.
type InMemoryRepository struct {
	opts Options

	mu           sync.RWMutex
	nextCityID   int64
	nextReportID int64
	cities       map[string]*City
	reports      map[int64]*Report
	keys         map[reportKey]int64
	alerts       map[int64]*Alert
}

// NewInMemoryRepository creates a new in-memory repository.
func NewInMemoryRepository(opts Options) *InMemoryRepository {
	r := &InMemoryRepository{opts: opts.withDefaults()}
	r.clear()
	return r
}

func (r *InMemoryRepository) clear() {
	r.nextCityID = 0
	r.nextReportID = 0
	r.cities = make(map[string]*City)
	r.reports = make(map[int64]*Report)
	r.keys = make(map[reportKey]int64)
	r.alerts = make(map[int64]*Alert)
}

// Ping always succeeds.
func (r *InMemoryRepository) Ping(_ context.Context) error {
	return nil
}

// CityExists reports whether the city is known.
func (r *InMemoryRepository) CityExists(_ context.Context, name string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.cities[name]
	return ok, nil
}

// UpsertCities inserts unknown city names.
func (r *InMemoryRepository) UpsertCities(_ context.Context, names []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, name := range names {
		if _, ok := r.cities[name]; ok {
			continue
		}
		r.nextCityID++
		r.cities[name] = &City{ID: r.nextCityID, Name: name}
	}
	return nil
}

// InsertReports stores the batch atomically. All checks run before any
// state is modified.
func (r *InMemoryRepository) InsertReports(_ context.Context, candidates []ReportCandidate) (*InsertResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pending := make(map[reportKey]struct{}, len(candidates))
	for _, c := range candidates {
		city, ok := r.cities[c.City]
		if !ok {
			return nil, &UnknownCityError{City: c.City}
		}

		key := reportKey{cityID: city.ID, date: NormalizeDate(c.Date)}
		if _, exists := r.keys[key]; exists {
			return nil, &DuplicateReportError{City: c.City, Date: key.date}
		}
		if _, seen := pending[key]; seen {
			return nil, &DuplicateReportError{City: c.City, Date: key.date}
		}
		pending[key] = struct{}{}
	}

	result := &InsertResult{Reports: make([]Report, 0, len(candidates))}
	for _, c := range candidates {
		city := r.cities[c.City]
		r.nextReportID++
		report := &Report{
			ID:         r.nextReportID,
			CityID:     city.ID,
			City:       city.Name,
			Date:       NormalizeDate(c.Date),
			PM25:       c.PM25,
			NO2:        c.NO2,
			CO2:        c.CO2,
			OverallAQI: c.OverallAQI,
			Level:      c.Level,
		}
		r.reports[report.ID] = report
		r.keys[reportKey{cityID: city.ID, date: report.Date}] = report.ID
		result.Reports = append(result.Reports, *report)
	}

	result.Alerts = r.opts.Deriver.Derive(result.Reports)
	if r.opts.AlertMode == AlertModeMaterialized {
		for _, a := range result.Alerts {
			cpy := a
			r.alerts[a.ID] = &cpy
		}
	}

	return result, nil
}

// ReportsByTimeRange returns reports dated within [start, end].
func (r *InMemoryRepository) ReportsByTimeRange(_ context.Context, start, end time.Time) ([]Report, error) {
	start, end = NormalizeDate(start), NormalizeDate(end)
	return r.filterReports(func(rep *Report) bool {
		return !rep.Date.Before(start) && !rep.Date.After(end)
	}), nil
}

// ReportsByCity returns all reports of a city.
func (r *InMemoryRepository) ReportsByCity(_ context.Context, city string) ([]Report, error) {
	return r.filterReports(func(rep *Report) bool { return rep.City == city }), nil
}

// History returns the city's index history ordered by date.
func (r *InMemoryRepository) History(ctx context.Context, city string) ([]HistoryPoint, error) {
	reports, _ := r.ReportsByCity(ctx, city)

	points := make([]HistoryPoint, 0, len(reports))
	for _, rep := range reports {
		points = append(points, HistoryPoint{Date: rep.Date, OverallAQI: rep.OverallAQI, Level: rep.Level})
	}
	return points, nil
}

// Stats returns the mean overall index of a city.
func (r *InMemoryRepository) Stats(ctx context.Context, city string) (CityStats, error) {
	reports, _ := r.ReportsByCity(ctx, city)
	if len(reports) == 0 {
		return CityStats{}, nil
	}

	var sum int
	for _, rep := range reports {
		sum += rep.OverallAQI
	}
	return CityStats{Mean: float64(sum) / float64(len(reports)), Reports: len(reports)}, nil
}

// BestCities returns city names ordered by their lowest overall index.
func (r *InMemoryRepository) BestCities(_ context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		return []string{}, nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	type best struct {
		cityID int64
		name   string
		min    int
	}
	byCity := make(map[int64]*best)
	for _, rep := range r.reports {
		b, ok := byCity[rep.CityID]
		if !ok {
			byCity[rep.CityID] = &best{cityID: rep.CityID, name: rep.City, min: rep.OverallAQI}
			continue
		}
		if rep.OverallAQI < b.min {
			b.min = rep.OverallAQI
		}
	}

	ranked := make([]*best, 0, len(byCity))
	for _, b := range byCity {
		ranked = append(ranked, b)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].min != ranked[j].min {
			return ranked[i].min < ranked[j].min
		}
		return ranked[i].cityID < ranked[j].cityID
	})

	names := make([]string, 0, limit)
	for i := 0; i < len(ranked) && i < limit; i++ {
		names = append(names, ranked[i].name)
	}
	return names, nil
}

// AllAlerts returns every alert.
func (r *InMemoryRepository) AllAlerts(_ context.Context) ([]Alert, error) {
	return r.filterAlerts(func(*Alert) bool { return true }), nil
}

// AlertsSince returns alerts dated strictly after date.
func (r *InMemoryRepository) AlertsSince(_ context.Context, date time.Time) ([]Alert, error) {
	date = NormalizeDate(date)
	return r.filterAlerts(func(a *Alert) bool { return a.Date.After(date) }), nil
}

// AlertsByCity returns the alerts of a city.
func (r *InMemoryRepository) AlertsByCity(_ context.Context, city string) ([]Alert, error) {
	return r.filterAlerts(func(a *Alert) bool { return a.City == city }), nil
}

// Reset removes all cities, reports and alerts.
func (r *InMemoryRepository) Reset(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.clear()
	return nil
}

// filterReports returns matching reports ordered by date, then ID.
func (r *InMemoryRepository) filterReports(match func(*Report) bool) []Report {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reports := make([]Report, 0)
	for _, rep := range r.reports {
		if match(rep) {
			reports = append(reports, *rep)
		}
	}
	sort.Slice(reports, func(i, j int) bool {
		if !reports[i].Date.Equal(reports[j].Date) {
			return reports[i].Date.Before(reports[j].Date)
		}
		return reports[i].ID < reports[j].ID
	})
	return reports
}

func (r *InMemoryRepository) filterAlerts(match func(*Alert) bool) []Alert {
	var source []Alert
	if r.opts.AlertMode == AlertModeOnDemand {
		source = r.opts.Deriver.Derive(r.filterReports(func(*Report) bool { return true }))
	} else {
		r.mu.RLock()
		source = make([]Alert, 0, len(r.alerts))
		for _, a := range r.alerts {
			source = append(source, *a)
		}
		r.mu.RUnlock()
	}

	alerts := make([]Alert, 0)
	for i := range source {
		if match(&source[i]) {
			alerts = append(alerts, source[i])
		}
	}
	sort.Slice(alerts, func(i, j int) bool { return alerts[i].ID < alerts[j].ID })
	return alerts
}

// Ensure InMemoryRepository implements Store interface.
var _ Store = (*InMemoryRepository)(nil)
