package ingest_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breatheroute/airwatch/internal/aqi"
	"github.com/breatheroute/airwatch/internal/ingest"
)

func ptr(v float64) *float64 { return &v }

func emptyReadings(n int) []ingest.PendingReading {
	readings := make([]ingest.PendingReading, n)
	for i := range readings {
		readings[i].Row = i + 1
	}
	return readings
}

func TestParametricImputer_FillsOnlyMissingCells(t *testing.T) {
	imputer := ingest.NewParametricImputer(ingest.DefaultParametricConfig(), ingest.NewRand(7))
	readings := []ingest.PendingReading{
		{Row: 1, PM25: ptr(10), NO2: ptr(20), CO2: ptr(400)},
		{Row: 2, PM25: ptr(11), CO2: ptr(401)},
	}

	stats := imputer.Impute(readings)

	assert.Equal(t, 1, stats.Rows)
	assert.Equal(t, 1, stats.Total())
	assert.Equal(t, 1, stats.Cells[aqi.PollutantNO2])

	assert.Empty(t, readings[0].Imputed)
	assert.InDelta(t, 10, *readings[0].PM25, 0)
	assert.InDelta(t, 11, *readings[1].PM25, 0)
	assert.InDelta(t, 401, *readings[1].CO2, 0)
	require.NotNil(t, readings[1].NO2)
	assert.Equal(t, []aqi.Pollutant{aqi.PollutantNO2}, readings[1].Imputed)
}

func TestParametricImputer_SeededIsDeterministic(t *testing.T) {
	a := emptyReadings(20)
	b := emptyReadings(20)

	ingest.NewParametricImputer(ingest.DefaultParametricConfig(), ingest.NewRand(42)).Impute(a)
	ingest.NewParametricImputer(ingest.DefaultParametricConfig(), ingest.NewRand(42)).Impute(b)

	for i := range a {
		assert.Equal(t, *a[i].PM25, *b[i].PM25)
		assert.Equal(t, *a[i].NO2, *b[i].NO2)
		assert.Equal(t, *a[i].CO2, *b[i].CO2)
	}
}

func TestParametricImputer_Distributions(t *testing.T) {
	const samples = 10000
	readings := emptyReadings(samples)

	ingest.NewParametricImputer(ingest.DefaultParametricConfig(), ingest.NewRand(1)).Impute(readings)

	var co2Sum float64
	for _, r := range readings {
		require.GreaterOrEqual(t, *r.CO2, 350.0, "CO2 is clipped at 350")
		assert.Greater(t, *r.PM25, -1.0)
		assert.Greater(t, *r.NO2, -1.0)
		assert.Equal(t, float64(int(*r.CO2)), *r.CO2, "values are whole numbers")
		co2Sum += *r.CO2
	}
	assert.InDelta(t, 420, co2Sum/samples, 5)
}

func TestNewEmpiricalImputer_RequiresEveryPollutant(t *testing.T) {
	_, err := ingest.NewEmpiricalImputer(ingest.ReferenceData{
		aqi.PollutantPM25: {10},
		aqi.PollutantNO2:  {20},
	}, ingest.DefaultEmpiricalNoiseSigma, nil)
	assert.ErrorIs(t, err, ingest.ErrNoReferenceData)

	_, err = ingest.NewEmpiricalImputer(ingest.ReferenceData{
		aqi.PollutantPM25: {10},
		aqi.PollutantNO2:  {20},
		aqi.PollutantCO2:  {400},
	}, -0.1, nil)
	assert.Error(t, err)
}

func TestEmpiricalImputer_ResamplesReferenceValues(t *testing.T) {
	ref := ingest.ReferenceData{
		aqi.PollutantPM25: {10, 20},
		aqi.PollutantNO2:  {40},
		aqi.PollutantCO2:  {500},
	}

	t.Run("without noise", func(t *testing.T) {
		imputer, err := ingest.NewEmpiricalImputer(ref, 0, ingest.NewRand(3))
		require.NoError(t, err)

		readings := emptyReadings(200)
		stats := imputer.Impute(readings)
		assert.Equal(t, 600, stats.Total())

		for _, r := range readings {
			assert.Contains(t, []float64{10, 20}, *r.PM25)
			assert.InDelta(t, 40, *r.NO2, 0)
			assert.InDelta(t, 500, *r.CO2, 0)
		}
	})

	t.Run("with noise", func(t *testing.T) {
		imputer, err := ingest.NewEmpiricalImputer(ref, ingest.DefaultEmpiricalNoiseSigma, ingest.NewRand(3))
		require.NoError(t, err)

		readings := emptyReadings(500)
		imputer.Impute(readings)

		for _, r := range readings {
			assert.GreaterOrEqual(t, *r.CO2, 0.0)
			assert.InDelta(t, 500, *r.CO2, 500*0.05*6)
		}
	})
}

func TestLoadReferenceData(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
	}
	write("a.csv", "date,city,PM2.5,NO2,CO2\n2023-01-01,Haifa,10,20,400\n2023-01-02,Haifa,NA,21,\n")
	write("b.csv", "pm25,no2,co2\n12,-3,410\n")
	write("ignored.txt", "PM2.5,NO2,CO2\n999,999,999\n")

	data, err := ingest.LoadReferenceData(dir)
	require.NoError(t, err)

	assert.Equal(t, []float64{10, 12}, data[aqi.PollutantPM25])
	assert.Equal(t, []float64{20, 21}, data[aqi.PollutantNO2])
	assert.Equal(t, []float64{400, 410}, data[aqi.PollutantCO2])
}

func TestLoadReferenceData_MissingPollutant(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.csv"), []byte("PM2.5,NO2\n10,20\n"), 0o600))

	_, err := ingest.LoadReferenceData(dir)
	assert.ErrorIs(t, err, ingest.ErrNoReferenceData)
}
