package models

import "github.com/breatheroute/airwatch/internal/airquality"

// Alert flags a report above the alert threshold.
type Alert struct {
	ID         int64  `json:"id"`
	City       string `json:"city"`
	Date       Date   `json:"date"`
	OverallAQI int    `json:"overallAqi"`
	Level      string `json:"level"`
}

// AlertList wraps a list of alerts.
type AlertList struct {
	Items []Alert `json:"items"`
	Count int     `json:"count"`
}

// NewAlertList converts alerts.
func NewAlertList(alerts []airquality.Alert) AlertList {
	items := make([]Alert, 0, len(alerts))
	for _, a := range alerts {
		items = append(items, Alert{
			ID:         a.ID,
			City:       a.City,
			Date:       Date(a.Date),
			OverallAQI: a.OverallAQI,
			Level:      string(a.Level),
		})
	}
	return AlertList{Items: items, Count: len(items)}
}
