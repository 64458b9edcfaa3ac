// Package airquality stores city air-quality reports and the alerts derived
// from them.
package airquality

import (
	"time"

	"github.com/breatheroute/airwatch/internal/aqi"
)

// DateLayout is the calendar date format used for report dates.
const DateLayout = "2006-01-02"

// AlertMode selects how alerts are persisted.
type AlertMode string

const (
	// AlertModeMaterialized writes an alert row alongside each qualifying
	// report, inside the ingestion transaction.
	AlertModeMaterialized AlertMode = "materialized"

	// AlertModeOnDemand derives alerts at query time by filtering reports.
	AlertModeOnDemand AlertMode = "on_demand"
)

// Valid reports whether m is a known alert mode.
func (m AlertMode) Valid() bool {
	return m == AlertModeMaterialized || m == AlertModeOnDemand
}

// City is a monitored city. Cities are created on first sighting and
// never updated.
type City struct {
	ID   int64
	Name string
}

// Report is one day of readings for one city.
type Report struct {
	ID         int64
	CityID     int64
	City       string
	Date       time.Time
	PM25       int
	NO2        int
	CO2        int
	OverallAQI int
	Level      aqi.Level
}

// ReportCandidate is a fully derived report that has not been stored yet.
type ReportCandidate struct {
	City       string
	Date       time.Time
	PM25       int
	NO2        int
	CO2        int
	OverallAQI int
	Level      aqi.Level
}

// Alert flags a report whose index exceeded the alert threshold.
// ID is the ID of the originating report.
type Alert struct {
	ID         int64
	City       string
	Date       time.Time
	OverallAQI int
	Level      aqi.Level
}

// HistoryPoint is one entry of a city's index history.
type HistoryPoint struct {
	Date       time.Time
	OverallAQI int
	Level      aqi.Level
}

// CityStats summarises the stored reports of a city.
type CityStats struct {
	// Mean is the mean overall index. Zero when Reports is zero.
	Mean    float64
	Reports int
}

// InsertResult describes a committed batch.
type InsertResult struct {
	Reports []Report
	Alerts  []Alert
}

// Options configures repository behaviour shared by all implementations.
type Options struct {
	// AlertMode defaults to AlertModeMaterialized.
	AlertMode AlertMode

	// Deriver selects alerts from inserted reports. Required.
	Deriver AlertDeriver
}

func (o Options) withDefaults() Options {
	if o.AlertMode == "" {
		o.AlertMode = AlertModeMaterialized
	}
	return o
}

// NormalizeDate truncates t to a UTC calendar date.
func NormalizeDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// FormatDate formats a report date.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}
