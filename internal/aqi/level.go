// Package aqi converts pollutant concentrations into an Air Quality Index
// and its severity level.
package aqi

import "math"

// MaxIndex is the highest index value. Concentrations above the last
// breakpoint of a table saturate here.
const MaxIndex = 500

// Pollutant identifies one of the measured pollutants.
type Pollutant string

const (
	PollutantPM25 Pollutant = "PM2.5"
	PollutantNO2  Pollutant = "NO2"
	PollutantCO2  Pollutant = "CO2"
)

// Pollutants lists every pollutant the engine scores, in column order.
var Pollutants = []Pollutant{PollutantPM25, PollutantNO2, PollutantCO2}

// Level is a severity label derived from an index value.
type Level string

const (
	LevelGood               Level = "Good"
	LevelModerate           Level = "Moderate"
	LevelUnhealthySensitive Level = "Unhealthy for Sensitive Groups"
	LevelUnhealthy          Level = "Unhealthy"
	LevelVeryUnhealthy      Level = "Very Unhealthy"
	LevelHazardous          Level = "Hazardous"
)

// levelBands are inclusive upper bounds, ascending. First match wins.
var levelBands = []struct {
	upper int
	level Level
}{
	{50, LevelGood},
	{100, LevelModerate},
	{150, LevelUnhealthySensitive},
	{200, LevelUnhealthy},
	{300, LevelVeryUnhealthy},
	{MaxIndex, LevelHazardous},
}

// Levels returns all levels from least to most severe.
func Levels() []Level {
	levels := make([]Level, 0, len(levelBands))
	for _, b := range levelBands {
		levels = append(levels, b.level)
	}
	return levels
}

// LevelFor returns the severity level for an index value.
// Values above MaxIndex are Hazardous.
func LevelFor(index int) Level {
	for _, b := range levelBands {
		if index <= b.upper {
			return b.level
		}
	}
	return LevelHazardous
}

// LevelForAverage rounds a mean index to the nearest integer and
// returns its level.
func LevelForAverage(mean float64) Level {
	return LevelFor(int(math.Round(mean)))
}

// Valid reports whether l is one of the known levels.
func (l Level) Valid() bool {
	for _, b := range levelBands {
		if b.level == l {
			return true
		}
	}
	return false
}
