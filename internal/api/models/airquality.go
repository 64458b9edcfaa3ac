package models

import (
	"github.com/breatheroute/airwatch/internal/airquality"
	"github.com/breatheroute/airwatch/internal/ingest"
	"github.com/breatheroute/airwatch/internal/query"
)

// Report is a stored daily report.
type Report struct {
	ID         int64  `json:"id"`
	City       string `json:"city"`
	Date       Date   `json:"date"`
	PM25       int    `json:"pm25"`
	NO2        int    `json:"no2"`
	CO2        int    `json:"co2"`
	OverallAQI int    `json:"overallAqi"`
	Level      string `json:"level"`
}

// ReportList wraps a list of reports.
type ReportList struct {
	Items []Report `json:"items"`
	Count int      `json:"count"`
}

// IngestResult describes a committed upload.
type IngestResult struct {
	BatchID  string   `json:"batchId"`
	Inserted int      `json:"inserted"`
	Cities   []string `json:"cities"`
	Imputed  int      `json:"imputedCells"`
	Warnings []string `json:"warnings"`
	Alerts   []Alert  `json:"alerts"`
}

// HistoryPoint is one entry of a city's index history.
type HistoryPoint struct {
	Date       Date   `json:"date"`
	OverallAQI int    `json:"overallAqi"`
	Level      string `json:"level"`
}

// History is a city's index history.
type History struct {
	City   string         `json:"city"`
	Points []HistoryPoint `json:"points"`
}

// Average is a city's mean index.
type Average struct {
	City    string   `json:"city"`
	Mean    *float64 `json:"mean"`
	AQI     *int     `json:"aqi"`
	Level   *string  `json:"level"`
	Reports int      `json:"reports"`
	NoData  bool     `json:"noData"`
}

// BestCities lists the cities with the lowest recorded index.
type BestCities struct {
	Cities []string `json:"cities"`
	Limit  int      `json:"limit"`
}

// NewReport converts a stored report.
func NewReport(r airquality.Report) Report {
	return Report{
		ID:         r.ID,
		City:       r.City,
		Date:       Date(r.Date),
		PM25:       r.PM25,
		NO2:        r.NO2,
		CO2:        r.CO2,
		OverallAQI: r.OverallAQI,
		Level:      string(r.Level),
	}
}

// NewReportList converts stored reports.
func NewReportList(reports []airquality.Report) ReportList {
	items := make([]Report, 0, len(reports))
	for _, r := range reports {
		items = append(items, NewReport(r))
	}
	return ReportList{Items: items, Count: len(items)}
}

// NewIngestResult converts an ingestion result.
func NewIngestResult(r *ingest.Result) IngestResult {
	warnings := r.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	return IngestResult{
		BatchID:  r.BatchID.String(),
		Inserted: r.Inserted,
		Cities:   r.Cities,
		Imputed:  r.Imputed,
		Warnings: warnings,
		Alerts:   NewAlertList(r.Alerts).Items,
	}
}

// NewHistory converts a city's history.
func NewHistory(city string, points []airquality.HistoryPoint) History {
	out := make([]HistoryPoint, 0, len(points))
	for _, p := range points {
		out = append(out, HistoryPoint{Date: Date(p.Date), OverallAQI: p.OverallAQI, Level: string(p.Level)})
	}
	return History{City: city, Points: out}
}

// NewAverage converts a city average. Mean, AQI and Level are null when the
// city has no reports.
func NewAverage(avg *query.CityAverage) Average {
	out := Average{City: avg.City, Reports: avg.Reports, NoData: avg.NoData}
	if !avg.NoData {
		mean, index, level := avg.Mean, avg.AQI, string(avg.Level)
		out.Mean, out.AQI, out.Level = &mean, &index, &level
	}
	return out
}
