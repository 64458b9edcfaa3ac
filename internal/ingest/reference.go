package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/breatheroute/airwatch/internal/aqi"
)

// ReferenceData holds observed concentrations per pollutant used by
// EmpiricalImputer.
type ReferenceData map[aqi.Pollutant][]float64

// Validate returns ErrNoReferenceData when any pollutant has no values.
func (d ReferenceData) Validate() error {
	var empty []string
	for _, p := range aqi.Pollutants {
		if len(d[p]) == 0 {
			empty = append(empty, string(p))
		}
	}
	if len(empty) > 0 {
		return fmt.Errorf("%w for %s", ErrNoReferenceData, strings.Join(empty, ", "))
	}
	return nil
}

// LoadReferenceData reads every *.csv file in dir. Files use the upload
// column names; only the pollutant columns are read. Missing, unparsable
// and negative cells are skipped.
func LoadReferenceData(dir string) (ReferenceData, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.csv"))
	if err != nil {
		return nil, fmt.Errorf("list reference files: %w", err)
	}
	sort.Strings(paths)

	data := make(ReferenceData, len(aqi.Pollutants))
	for _, path := range paths {
		if err := readReferenceFile(path, data); err != nil {
			return nil, err
		}
	}

	if err := data.Validate(); err != nil {
		return nil, fmt.Errorf("reference data in %s: %w", dir, err)
	}
	return data, nil
}

func readReferenceFile(path string, data ReferenceData) error {
	f, err := os.Open(path) //nolint:gosec // path comes from operator configuration
	if err != nil {
		return fmt.Errorf("open reference file: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only file

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	index, _ := mapColumns(header)

	for {
		fields, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}

		for _, p := range aqi.Pollutants {
			i, ok := index[pollutantColumns[p]]
			if !ok || i >= len(fields) {
				continue
			}
			if v, present, err := parseCell(fields[i]); err == nil && present {
				data[p] = append(data[p], v)
			}
		}
	}
}
