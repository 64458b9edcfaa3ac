// Package alert derives, queries and publishes air-quality alerts.
package alert

import (
	"github.com/breatheroute/airwatch/internal/airquality"
)

// DefaultThreshold is the overall index an alert must exceed.
const DefaultThreshold = 300

// Deriver raises one alert per report whose overall index is strictly
// greater than the threshold.
type Deriver struct {
	threshold int
}

// NewDeriver creates a Deriver with the given threshold. Range checks
// belong to configuration loading.
func NewDeriver(threshold int) *Deriver {
	return &Deriver{threshold: threshold}
}

// Threshold returns the exclusive lower bound.
func (d *Deriver) Threshold() int {
	return d.threshold
}

// Derive returns the alerts for reports above the threshold, in input order.
func (d *Deriver) Derive(reports []airquality.Report) []airquality.Alert {
	alerts := make([]airquality.Alert, 0)
	for _, r := range reports {
		if r.OverallAQI <= d.threshold {
			continue
		}
		alerts = append(alerts, airquality.Alert{
			ID:         r.ID,
			City:       r.City,
			Date:       r.Date,
			OverallAQI: r.OverallAQI,
			Level:      r.Level,
		})
	}
	return alerts
}

// Ensure Deriver implements airquality.AlertDeriver interface.
var _ airquality.AlertDeriver = (*Deriver)(nil)
