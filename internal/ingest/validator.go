package ingest

import (
	"math"
	"strconv"
	"strings"

	"github.com/breatheroute/airwatch/internal/airquality"
	"github.com/breatheroute/airwatch/internal/aqi"
)

// missingMarkers are the cell values read as "no measurement".
var missingMarkers = []string{"", "na", "nan", "null", "none"}

// ValidatorConfig configures a Validator.
type ValidatorConfig struct {
	// DateFormat parses date cells. Default: YYYY-MM-DD.
	DateFormat *airquality.DateFormat

	// AllowMissing accepts missing pollutant cells, leaving them for an
	// Imputer. When false they are rejected with IncompleteDataError.
	AllowMissing bool
}

// Validator checks a batch against the upload rules.
type Validator struct {
	dates        *airquality.DateFormat
	allowMissing bool
}

// NewValidator creates a validator.
func NewValidator(cfg ValidatorConfig) *Validator {
	if cfg.DateFormat == nil {
		cfg.DateFormat = airquality.MustDateFormat(airquality.DefaultDateFormat)
	}
	return &Validator{dates: cfg.DateFormat, allowMissing: cfg.AllowMissing}
}

// Validate converts records into pending readings. The whole batch is
// rejected on the first class of failure found, checked in this order:
//
//   - no data rows: *airquality.IncompleteDataError with no rows
//   - bad date cells: *airquality.InvalidDateError naming every offending row
//   - empty city or unusable pollutant cell: *airquality.InvalidValueError
//   - missing pollutant cells when not allowed: *airquality.IncompleteDataError
func (v *Validator) Validate(batch *Batch) ([]PendingReading, error) {
	if batch == nil || len(batch.Records) == 0 {
		return nil, &airquality.IncompleteDataError{}
	}

	readings := make([]PendingReading, len(batch.Records))
	var badDates *airquality.InvalidDateError
	for i, rec := range batch.Records {
		date, err := v.dates.Parse(rec.Date)
		if err != nil {
			if badDates == nil {
				badDates = &airquality.InvalidDateError{
					Reason: "expected a calendar date in format " + v.dates.Pattern(),
				}
			}
			badDates.Values = append(badDates.Values, rec.Date)
			badDates.Rows = append(badDates.Rows, rec.Row)
			continue
		}
		readings[i] = PendingReading{Row: rec.Row, City: rec.City, DateRaw: rec.Date, Date: date}
	}
	if badDates != nil {
		return nil, badDates
	}

	var incomplete []int
	for i, rec := range batch.Records {
		if rec.City == "" {
			return nil, &airquality.InvalidValueError{Row: rec.Row, Column: ColumnCity, Value: rec.City}
		}

		cells := map[aqi.Pollutant]string{
			aqi.PollutantPM25: rec.PM25,
			aqi.PollutantNO2:  rec.NO2,
			aqi.PollutantCO2:  rec.CO2,
		}
		missing := false
		for _, p := range aqi.Pollutants {
			value, present, err := parseCell(cells[p])
			if err != nil {
				return nil, &airquality.InvalidValueError{Row: rec.Row, Column: pollutantColumns[p], Value: cells[p]}
			}
			if !present {
				missing = true
				continue
			}
			readings[i].SetValue(p, value)
		}
		if missing {
			incomplete = append(incomplete, rec.Row)
		}
	}

	if len(incomplete) > 0 && !v.allowMissing {
		return nil, &airquality.IncompleteDataError{Rows: incomplete}
	}
	return readings, nil
}

// parseCell reads a pollutant cell. present is false for a missing marker.
// Values must be finite and non-negative.
func parseCell(raw string) (value float64, present bool, err error) {
	s := strings.TrimSpace(raw)
	for _, marker := range missingMarkers {
		if strings.EqualFold(s, marker) {
			return 0, false, nil
		}
	}

	value, err = strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false, err
	}
	if math.IsInf(value, 0) || math.IsNaN(value) || value < 0 {
		return 0, false, strconv.ErrRange
	}
	return value, true, nil
}

// MaxConcentration is the largest stored concentration. It fits the INTEGER
// report columns and sits far above every breakpoint table, so larger
// readings still rate 500.
const MaxConcentration = math.MaxInt32

// roundConcentration rounds half away from zero and caps at MaxConcentration.
func roundConcentration(v float64) int {
	if v >= MaxConcentration {
		return MaxConcentration
	}
	return int(math.Round(v))
}
