package ingest

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"

	"github.com/breatheroute/airwatch/internal/aqi"
)

// ErrNoReferenceData is returned when empirical imputation has no reference
// values for a pollutant.
var ErrNoReferenceData = errors.New("no reference data")

// Imputer fills missing pollutant cells. Present values are never changed.
type Imputer interface {
	Impute(readings []PendingReading) ImputeStats
}

// ImputeStats summarizes one Impute call.
type ImputeStats struct {
	// Rows is the number of readings that had at least one cell filled.
	Rows int

	// Cells counts filled cells per pollutant.
	Cells map[aqi.Pollutant]int
}

// Total returns the number of filled cells.
func (s ImputeStats) Total() int {
	total := 0
	for _, n := range s.Cells {
		total += n
	}
	return total
}

// NewRand returns a PCG-backed generator. A zero seed draws a random one.
func NewRand(seed uint64) *rand.Rand {
	if seed == 0 {
		return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())) //nolint:gosec // statistical sampling, not security
	}
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)) //nolint:gosec // statistical sampling, not security
}

// fill runs sample for every missing cell. sample is called with the
// generator lock held.
func fill(readings []PendingReading, mu *sync.Mutex, sample func(aqi.Pollutant) float64) ImputeStats {
	stats := ImputeStats{Cells: make(map[aqi.Pollutant]int, len(aqi.Pollutants))}

	mu.Lock()
	defer mu.Unlock()

	for i := range readings {
		r := &readings[i]
		filled := false
		for _, p := range aqi.Pollutants {
			if r.Value(p) != nil {
				continue
			}
			r.SetValue(p, sample(p))
			r.Imputed = append(r.Imputed, p)
			stats.Cells[p]++
			filled = true
		}
		if filled {
			stats.Rows++
		}
	}
	return stats
}

// ParametricConfig holds the distribution parameters used by
// ParametricImputer.
type ParametricConfig struct {
	// PM25Median and PM25Sigma parameterise a log-normal distribution.
	// Default: 15 and 0.8.
	PM25Median float64
	PM25Sigma  float64

	// NO2Median and NO2Sigma parameterise a log-normal distribution.
	// Default: 30 and 0.7.
	NO2Median float64
	NO2Sigma  float64

	// CO2Mean and CO2Std parameterise a normal distribution whose samples
	// are clipped below at CO2Min. Default: 420, 50 and 350.
	CO2Mean float64
	CO2Std  float64
	CO2Min  float64
}

// DefaultParametricConfig returns the default distribution parameters.
func DefaultParametricConfig() ParametricConfig {
	return ParametricConfig{
		PM25Median: 15,
		PM25Sigma:  0.8,
		NO2Median:  30,
		NO2Sigma:   0.7,
		CO2Mean:    420,
		CO2Std:     50,
		CO2Min:     350,
	}
}

// ParametricImputer samples missing cells from fixed distributions.
// It is safe for concurrent use.
type ParametricImputer struct {
	cfg ParametricConfig

	mu  sync.Mutex
	rng *rand.Rand
}

// NewParametricImputer creates an imputer. A nil rng uses a randomly
// seeded generator.
func NewParametricImputer(cfg ParametricConfig, rng *rand.Rand) *ParametricImputer {
	if rng == nil {
		rng = NewRand(0)
	}
	return &ParametricImputer{cfg: cfg, rng: rng}
}

// Impute fills every missing cell with a rounded sample.
func (m *ParametricImputer) Impute(readings []PendingReading) ImputeStats {
	return fill(readings, &m.mu, m.sample)
}

func (m *ParametricImputer) sample(p aqi.Pollutant) float64 {
	switch p {
	case aqi.PollutantPM25:
		return math.Round(logNormal(m.rng, m.cfg.PM25Median, m.cfg.PM25Sigma))
	case aqi.PollutantNO2:
		return math.Round(logNormal(m.rng, m.cfg.NO2Median, m.cfg.NO2Sigma))
	default:
		v := math.Round(m.rng.NormFloat64()*m.cfg.CO2Std + m.cfg.CO2Mean)
		return math.Max(v, m.cfg.CO2Min)
	}
}

func logNormal(rng *rand.Rand, median, sigma float64) float64 {
	return math.Exp(math.Log(median) + sigma*rng.NormFloat64())
}

// DefaultEmpiricalNoiseSigma is the relative noise added to resampled values.
const DefaultEmpiricalNoiseSigma = 0.05

// EmpiricalImputer resamples missing cells from reference data and adds
// multiplicative Gaussian noise. It is safe for concurrent use.
type EmpiricalImputer struct {
	ref   ReferenceData
	sigma float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewEmpiricalImputer creates an imputer over ref. Every pollutant must have
// at least one reference value, otherwise ErrNoReferenceData is returned.
// A negative noiseSigma is rejected; a nil rng uses a randomly seeded
// generator.
func NewEmpiricalImputer(ref ReferenceData, noiseSigma float64, rng *rand.Rand) (*EmpiricalImputer, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	if noiseSigma < 0 {
		return nil, fmt.Errorf("noise sigma must not be negative, got %v", noiseSigma)
	}
	if rng == nil {
		rng = NewRand(0)
	}
	return &EmpiricalImputer{ref: ref, sigma: noiseSigma, rng: rng}, nil
}

// Impute fills every missing cell with a noisy resampled value.
func (m *EmpiricalImputer) Impute(readings []PendingReading) ImputeStats {
	return fill(readings, &m.mu, m.sample)
}

func (m *EmpiricalImputer) sample(p aqi.Pollutant) float64 {
	values := m.ref[p]
	base := values[m.rng.IntN(len(values))]
	noisy := base + m.rng.NormFloat64()*m.sigma*base
	return math.Max(math.Round(noisy), 0)
}

// Ensure both strategies implement Imputer interface.
var (
	_ Imputer = (*ParametricImputer)(nil)
	_ Imputer = (*EmpiricalImputer)(nil)
)
