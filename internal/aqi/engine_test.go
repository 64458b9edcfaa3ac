package aqi_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breatheroute/airwatch/internal/aqi"
)

func TestLevelFor(t *testing.T) {
	tests := []struct {
		index int
		want  aqi.Level
	}{
		{0, aqi.LevelGood},
		{50, aqi.LevelGood},
		{51, aqi.LevelModerate},
		{100, aqi.LevelModerate},
		{101, aqi.LevelUnhealthySensitive},
		{150, aqi.LevelUnhealthySensitive},
		{151, aqi.LevelUnhealthy},
		{200, aqi.LevelUnhealthy},
		{201, aqi.LevelVeryUnhealthy},
		{300, aqi.LevelVeryUnhealthy},
		{301, aqi.LevelHazardous},
		{500, aqi.LevelHazardous},
		{900, aqi.LevelHazardous},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, aqi.LevelFor(tt.index), "index %d", tt.index)
	}
}

func TestLevelForAverage(t *testing.T) {
	assert.Equal(t, aqi.LevelGood, aqi.LevelForAverage(50.4))
	assert.Equal(t, aqi.LevelModerate, aqi.LevelForAverage(50.5))
	assert.Equal(t, aqi.LevelHazardous, aqi.LevelForAverage(300.6))
}

func TestEngine_SubIndex(t *testing.T) {
	e := aqi.Default()

	tests := []struct {
		name string
		p    aqi.Pollutant
		c    float64
		want int
	}{
		{"pm25 zero", aqi.PollutantPM25, 0, 0},
		{"pm25 top of good", aqi.PollutantPM25, 12, 50},
		{"pm25 gap rounds up to next segment", aqi.PollutantPM25, 12.05, 51},
		{"pm25 moderate", aqi.PollutantPM25, 35, 99},
		{"pm25 just hazardous", aqi.PollutantPM25, 251, 301},
		{"pm25 above table saturates", aqi.PollutantPM25, 501, aqi.MaxIndex},
		{"no2 top of moderate", aqi.PollutantNO2, 100, 100},
		{"no2 negative clamps", aqi.PollutantNO2, -5, 0},
		{"co2 outdoor baseline", aqi.PollutantCO2, 420, 35},
		{"co2 above table saturates", aqi.PollutantCO2, 40001, aqi.MaxIndex},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, e.SubIndex(tt.p, tt.c))
		})
	}
}

func TestCompute_TakesMaximumSubIndex(t *testing.T) {
	index, level := aqi.Compute(10, 200, 700)
	assert.Equal(t, 120, index)
	assert.Equal(t, aqi.LevelUnhealthySensitive, level)

	index, level = aqi.Compute(0, 0, 0)
	assert.Equal(t, 0, index)
	assert.Equal(t, aqi.LevelGood, level)

	index, level = aqi.Compute(600, 10, 400)
	assert.Equal(t, aqi.MaxIndex, index)
	assert.Equal(t, aqi.LevelHazardous, level)
}

func TestCompute_MaxAndLevelProperty(t *testing.T) {
	e := aqi.Default()

	for pm := 0; pm <= 500; pm += 7 {
		for no2 := 0; no2 <= 2049; no2 += 61 {
			for co2 := 0; co2 <= 40000; co2 += 1999 {
				index, level := e.Compute(pm, no2, co2)

				want := max(
					e.SubIndex(aqi.PollutantPM25, float64(pm)),
					e.SubIndex(aqi.PollutantNO2, float64(no2)),
					e.SubIndex(aqi.PollutantCO2, float64(co2)),
				)
				require.Equal(t, want, index)
				require.GreaterOrEqual(t, index, 0)
				require.LessOrEqual(t, index, aqi.MaxIndex)
				require.Equal(t, aqi.LevelFor(index), level)
			}
		}
	}
}

func TestEngine_ComputeAll(t *testing.T) {
	readings := []aqi.Reading{
		{PM25: 5, NO2: 20, CO2: 410},
		{PM25: 260, NO2: 40, CO2: 500},
	}

	results := aqi.Default().ComputeAll(readings)
	require.Len(t, results, 2)

	for i, r := range readings {
		index, level := aqi.Compute(r.PM25, r.NO2, r.CO2)
		assert.Equal(t, aqi.Result{AQI: index, Level: level}, results[i])
	}
	assert.Equal(t, aqi.LevelHazardous, results[1].Level)
}

func TestDefaultTables_Valid(t *testing.T) {
	require.NoError(t, aqi.DefaultTables().Validate())
}

func TestTable_Validate(t *testing.T) {
	tests := []struct {
		name  string
		table aqi.Table
	}{
		{"empty", aqi.Table{}},
		{"inverted concentration", aqi.Table{{CLow: 10, CHigh: 5, ILow: 0, IHigh: 50}}},
		{"index above max", aqi.Table{{CLow: 0, CHigh: 5, ILow: 0, IHigh: 600}}},
		{"overlapping", aqi.Table{
			{CLow: 0, CHigh: 10, ILow: 0, IHigh: 50},
			{CLow: 5, CHigh: 20, ILow: 51, IHigh: 100},
		}},
		{"descending index", aqi.Table{
			{CLow: 0, CHigh: 10, ILow: 0, IHigh: 50},
			{CLow: 11, CHigh: 20, ILow: 10, IHigh: 100},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.table.Validate())
		})
	}
}

func TestParseTables_OverridesOnePollutant(t *testing.T) {
	doc := []byte(`
PM2.5:
  - {c_low: 0, c_high: 100, i_low: 0, i_high: 500}
`)

	tables, err := aqi.ParseTables(doc)
	require.NoError(t, err)

	e, err := aqi.NewEngine(tables)
	require.NoError(t, err)

	assert.Equal(t, 250, e.SubIndex(aqi.PollutantPM25, 50))
	assert.Equal(t, aqi.Default().SubIndex(aqi.PollutantNO2, 80), e.SubIndex(aqi.PollutantNO2, 80))
}

func TestParseTables_Errors(t *testing.T) {
	_, err := aqi.ParseTables([]byte(`SO2: [{c_low: 0, c_high: 1, i_low: 0, i_high: 50}]`))
	assert.ErrorIs(t, err, aqi.ErrInvalidTable)

	_, err = aqi.ParseTables([]byte(`NO2: []`))
	assert.ErrorIs(t, err, aqi.ErrEmptyTable)

	_, err = aqi.ParseTables([]byte(`not: [valid`))
	assert.Error(t, err)
}

func TestLoadTables(t *testing.T) {
	path := filepath.Join(t.TempDir(), "breakpoints.yaml")
	require.NoError(t, os.WriteFile(path, []byte("CO2:\n  - {c_low: 0, c_high: 1000, i_low: 0, i_high: 100}\n"), 0o600))

	tables, err := aqi.LoadTables(path)
	require.NoError(t, err)
	assert.Len(t, tables[aqi.PollutantCO2], 1)

	_, err = aqi.LoadTables(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
