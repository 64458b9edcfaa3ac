// Package ingest turns uploaded CSV batches into stored air-quality reports.
//
// A batch passes through four stages: reading, validation, imputation of
// missing pollutant cells and AQI derivation. Only then is it handed to the
// store, so a failed write never changes what a retry would compute.
package ingest

import (
	"encoding/csv"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/breatheroute/airwatch/internal/airquality"
	"github.com/breatheroute/airwatch/internal/aqi"
)

// Column names of the upload format.
const (
	ColumnDate = "date"
	ColumnCity = "city"
	ColumnPM25 = "PM2.5"
	ColumnNO2  = "NO2"
	ColumnCO2  = "CO2"
)

// requiredColumns lists the upload columns in the order they are reported.
var requiredColumns = []string{ColumnDate, ColumnCity, ColumnPM25, ColumnNO2, ColumnCO2}

// columnAliases maps a normalized header cell to its canonical column.
var columnAliases = map[string]string{
	"date":  ColumnDate,
	"city":  ColumnCity,
	"pm2.5": ColumnPM25,
	"pm2_5": ColumnPM25,
	"pm25":  ColumnPM25,
	"no2":   ColumnNO2,
	"co2":   ColumnCO2,
}

// pollutantColumns maps each pollutant to its upload column.
var pollutantColumns = map[aqi.Pollutant]string{
	aqi.PollutantPM25: ColumnPM25,
	aqi.PollutantNO2:  ColumnNO2,
	aqi.PollutantCO2:  ColumnCO2,
}

// Record is one data row as read, before validation.
type Record struct {
	// Row is the 1-based data row number. The header is not counted.
	Row  int
	Date string
	City string
	PM25 string
	NO2  string
	CO2  string
}

// Batch is a parsed upload.
type Batch struct {
	Records []Record
}

// PendingReading is a validated row whose pollutant cells may still be
// missing.
type PendingReading struct {
	Row     int
	City    string
	DateRaw string
	Date    time.Time

	// PM25, NO2 and CO2 are nil when the cell was missing.
	PM25 *float64
	NO2  *float64
	CO2  *float64

	// Imputed lists the pollutants filled in by an Imputer.
	Imputed []aqi.Pollutant
}

// Value returns the reading for p.
func (r *PendingReading) Value(p aqi.Pollutant) *float64 {
	switch p {
	case aqi.PollutantPM25:
		return r.PM25
	case aqi.PollutantNO2:
		return r.NO2
	case aqi.PollutantCO2:
		return r.CO2
	}
	return nil
}

// SetValue stores v as the reading for p.
func (r *PendingReading) SetValue(p aqi.Pollutant, v float64) {
	switch p {
	case aqi.PollutantPM25:
		r.PM25 = &v
	case aqi.PollutantNO2:
		r.NO2 = &v
	case aqi.PollutantCO2:
		r.CO2 = &v
	}
}

// Complete reports whether every pollutant cell is present.
func (r *PendingReading) Complete() bool {
	return r.PM25 != nil && r.NO2 != nil && r.CO2 != nil
}

// ReadBatch parses a CSV upload. Header cells are matched case-insensitively
// after trimming; unknown columns are ignored. A header lacking any required
// column yields *airquality.SchemaError naming all of them. Rows shorter
// than the header read as missing cells.
func ReadBatch(r io.Reader) (*Batch, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, &airquality.SchemaError{Missing: append([]string(nil), requiredColumns...)}
	}
	if err != nil {
		return nil, &airquality.MalformedBatchError{Err: err}
	}

	index, missing := mapColumns(header)
	if len(missing) > 0 {
		return nil, &airquality.SchemaError{Missing: missing}
	}

	batch := &Batch{}
	for row := 1; ; row++ {
		fields, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &airquality.MalformedBatchError{Err: err}
		}
		if blank(fields) {
			row--
			continue
		}

		cell := func(column string) string {
			i := index[column]
			if i >= len(fields) {
				return ""
			}
			return strings.TrimSpace(fields[i])
		}

		batch.Records = append(batch.Records, Record{
			Row:  row,
			Date: cell(ColumnDate),
			City: cell(ColumnCity),
			PM25: cell(ColumnPM25),
			NO2:  cell(ColumnNO2),
			CO2:  cell(ColumnCO2),
		})
	}

	return batch, nil
}

// mapColumns returns the position of each known column in header and the
// required columns that are absent. The first occurrence of a column wins.
func mapColumns(header []string) (map[string]int, []string) {
	index := make(map[string]int, len(requiredColumns))
	for i, cell := range header {
		if i == 0 {
			cell = strings.TrimPrefix(cell, "\ufeff")
		}
		column, ok := columnAliases[strings.ToLower(strings.TrimSpace(cell))]
		if !ok {
			continue
		}
		if _, seen := index[column]; !seen {
			index[column] = i
		}
	}

	var missing []string
	for _, column := range requiredColumns {
		if _, ok := index[column]; !ok {
			missing = append(missing, column)
		}
	}
	return index, missing
}

func blank(fields []string) bool {
	for _, f := range fields {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
