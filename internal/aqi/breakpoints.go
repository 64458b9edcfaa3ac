package aqi

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Table errors.
var (
	ErrEmptyTable       = errors.New("breakpoint table is empty")
	ErrInvalidTable     = errors.New("invalid breakpoint table")
	ErrMissingPollutant = errors.New("no breakpoint table for pollutant")
)

// Breakpoint maps the concentration range [CLow, CHigh] linearly onto the
// index range [ILow, IHigh].
type Breakpoint struct {
	CLow  float64 `yaml:"c_low"`
	CHigh float64 `yaml:"c_high"`
	ILow  int     `yaml:"i_low"`
	IHigh int     `yaml:"i_high"`
}

// Table is an ascending list of breakpoints for a single pollutant.
type Table []Breakpoint

// Tables holds one breakpoint table per pollutant.
type Tables map[Pollutant]Table

// DefaultTables returns the built-in breakpoint tables.
//
// PM2.5 (µg/m³) and NO2 (ppb) follow the EPA 2012 24-hour and 1-hour
// tables. CO2 (ppm) has no EPA table; its bands follow common indoor-air
// guidance and saturate at 40000 ppm.
func DefaultTables() Tables {
	return Tables{
		PollutantPM25: {
			{CLow: 0.0, CHigh: 12.0, ILow: 0, IHigh: 50},
			{CLow: 12.1, CHigh: 35.4, ILow: 51, IHigh: 100},
			{CLow: 35.5, CHigh: 55.4, ILow: 101, IHigh: 150},
			{CLow: 55.5, CHigh: 150.4, ILow: 151, IHigh: 200},
			{CLow: 150.5, CHigh: 250.4, ILow: 201, IHigh: 300},
			{CLow: 250.5, CHigh: 350.4, ILow: 301, IHigh: 400},
			{CLow: 350.5, CHigh: 500.4, ILow: 401, IHigh: 500},
		},
		PollutantNO2: {
			{CLow: 0, CHigh: 53, ILow: 0, IHigh: 50},
			{CLow: 54, CHigh: 100, ILow: 51, IHigh: 100},
			{CLow: 101, CHigh: 360, ILow: 101, IHigh: 150},
			{CLow: 361, CHigh: 649, ILow: 151, IHigh: 200},
			{CLow: 650, CHigh: 1249, ILow: 201, IHigh: 300},
			{CLow: 1250, CHigh: 1649, ILow: 301, IHigh: 400},
			{CLow: 1650, CHigh: 2049, ILow: 401, IHigh: 500},
		},
		PollutantCO2: {
			{CLow: 0, CHigh: 600, ILow: 0, IHigh: 50},
			{CLow: 601, CHigh: 1000, ILow: 51, IHigh: 100},
			{CLow: 1001, CHigh: 1500, ILow: 101, IHigh: 150},
			{CLow: 1501, CHigh: 2500, ILow: 151, IHigh: 200},
			{CLow: 2501, CHigh: 5000, ILow: 201, IHigh: 300},
			{CLow: 5001, CHigh: 10000, ILow: 301, IHigh: 400},
			{CLow: 10001, CHigh: 40000, ILow: 401, IHigh: 500},
		},
	}
}

// Validate checks that the table is non-empty, ascending and stays within
// the 0..MaxIndex index range.
func (t Table) Validate() error {
	if len(t) == 0 {
		return ErrEmptyTable
	}

	for i, bp := range t {
		switch {
		case bp.CLow < 0:
			return fmt.Errorf("%w: segment %d has negative concentration %v", ErrInvalidTable, i, bp.CLow)
		case bp.CHigh <= bp.CLow:
			return fmt.Errorf("%w: segment %d has c_high %v <= c_low %v", ErrInvalidTable, i, bp.CHigh, bp.CLow)
		case bp.ILow < 0 || bp.IHigh > MaxIndex || bp.IHigh < bp.ILow:
			return fmt.Errorf("%w: segment %d has index range %d..%d", ErrInvalidTable, i, bp.ILow, bp.IHigh)
		}

		if i == 0 {
			continue
		}
		prev := t[i-1]
		if bp.CLow < prev.CHigh {
			return fmt.Errorf("%w: segment %d overlaps previous segment", ErrInvalidTable, i)
		}
		if bp.ILow < prev.IHigh {
			return fmt.Errorf("%w: segment %d index range is not ascending", ErrInvalidTable, i)
		}
	}

	return nil
}

// Validate checks every table and requires one for each scored pollutant.
func (ts Tables) Validate() error {
	for _, p := range Pollutants {
		table, ok := ts[p]
		if !ok {
			return fmt.Errorf("%w %s", ErrMissingPollutant, p)
		}
		if err := table.Validate(); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	return nil
}

// ParseTables decodes YAML breakpoint tables keyed by pollutant name.
// Pollutants absent from the document keep their default table.
//
//	PM2.5:
//	  - {c_low: 0, c_high: 12.0, i_low: 0, i_high: 50}
//	  - {c_low: 12.1, c_high: 35.4, i_low: 51, i_high: 100}
func ParseTables(data []byte) (Tables, error) {
	var decoded map[Pollutant]Table
	if err := yaml.Unmarshal(data, &decoded); err != nil {
		return nil, fmt.Errorf("decode breakpoint tables: %w", err)
	}

	tables := DefaultTables()
	for p, table := range decoded {
		if !isKnown(p) {
			return nil, fmt.Errorf("%w: unknown pollutant %q", ErrInvalidTable, p)
		}
		tables[p] = table
	}

	if err := tables.Validate(); err != nil {
		return nil, err
	}
	return tables, nil
}

// LoadTables reads and parses a YAML breakpoint file.
func LoadTables(path string) (Tables, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read breakpoint file: %w", err)
	}
	return ParseTables(data)
}

func isKnown(p Pollutant) bool {
	for _, known := range Pollutants {
		if p == known {
			return true
		}
	}
	return false
}
