package aqi

import "math"

// Reading is one row of pollutant concentrations.
type Reading struct {
	PM25 int
	NO2  int
	CO2  int
}

// Result is the index and level computed for a Reading.
type Result struct {
	AQI   int
	Level Level
}

// Engine computes AQI values from a fixed set of breakpoint tables.
// An Engine is immutable and safe for concurrent use.
type Engine struct {
	tables Tables
}

// NewEngine validates the tables and returns an engine using them.
func NewEngine(tables Tables) (*Engine, error) {
	if err := tables.Validate(); err != nil {
		return nil, err
	}

	cpy := make(Tables, len(tables))
	for p, t := range tables {
		cpy[p] = append(Table(nil), t...)
	}
	return &Engine{tables: cpy}, nil
}

// Default returns an engine using DefaultTables.
func Default() *Engine {
	return defaultEngine
}

var defaultEngine = mustEngine(DefaultTables())

func mustEngine(tables Tables) *Engine {
	e, err := NewEngine(tables)
	if err != nil {
		panic(err)
	}
	return e
}

// SubIndex maps a single concentration to its 0..MaxIndex sub-index.
//
// Negative concentrations are treated as zero. A concentration falling in
// the gap between two segments belongs to the upper segment. Anything
// above the last segment saturates at MaxIndex.
func (e *Engine) SubIndex(p Pollutant, c float64) int {
	table := e.tables[p]
	if c < 0 {
		c = 0
	}

	for _, bp := range table {
		if c > bp.CHigh {
			continue
		}
		if c < bp.CLow {
			c = bp.CLow
		}
		span := float64(bp.IHigh-bp.ILow) / (bp.CHigh - bp.CLow)
		return int(math.Round(span*(c-bp.CLow) + float64(bp.ILow)))
	}

	return MaxIndex
}

// Compute returns the overall index, the maximum of the three sub-indices,
// and its level.
func (e *Engine) Compute(pm25, no2, co2 int) (int, Level) {
	overall := max(
		e.SubIndex(PollutantPM25, float64(pm25)),
		e.SubIndex(PollutantNO2, float64(no2)),
		e.SubIndex(PollutantCO2, float64(co2)),
	)
	return overall, LevelFor(overall)
}

// ComputeAll applies Compute to every reading independently.
func (e *Engine) ComputeAll(readings []Reading) []Result {
	results := make([]Result, len(readings))
	for i, r := range readings {
		index, level := e.Compute(r.PM25, r.NO2, r.CO2)
		results[i] = Result{AQI: index, Level: level}
	}
	return results
}

// Compute runs the default engine.
func Compute(pm25, no2, co2 int) (int, Level) {
	return defaultEngine.Compute(pm25, no2, co2)
}
