package airquality

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Sentinel errors. Every typed error below matches exactly one of these
// through errors.Is.
var (
	ErrSchema          = errors.New("schema error")
	ErrInvalidDate     = errors.New("invalid date")
	ErrIncompleteData  = errors.New("incomplete data")
	ErrInvalidValue    = errors.New("invalid value")
	ErrDuplicateReport = errors.New("duplicate report")
	ErrUnknownCity     = errors.New("unknown city")
	ErrConnection      = errors.New("storage unavailable")
)

// SchemaError is returned when a batch lacks required columns.
type SchemaError struct {
	Missing []string
}

func (e *SchemaError) Error() string {
	return "missing required columns: " + strings.Join(e.Missing, ", ")
}

func (e *SchemaError) Is(target error) bool { return target == ErrSchema }

// MalformedBatchError is returned when a batch is not readable as CSV. It
// matches ErrSchema.
type MalformedBatchError struct {
	Err error
}

func (e *MalformedBatchError) Error() string {
	return "batch could not be parsed: " + e.Err.Error()
}

func (e *MalformedBatchError) Unwrap() error { return e.Err }

func (e *MalformedBatchError) Is(target error) bool { return target == ErrSchema }

// InvalidDateError is returned for an unparsable date or an inverted range.
type InvalidDateError struct {
	// Values holds the offending raw strings.
	Values []string

	// Rows holds 1-based data row numbers when the dates came from a batch.
	Rows []int

	Reason string
}

func (e *InvalidDateError) Error() string {
	msg := "invalid date"
	if len(e.Values) > 0 {
		msg += " " + strings.Join(quoteAll(e.Values), ", ")
	}
	if len(e.Rows) > 0 {
		msg += " at rows " + joinInts(e.Rows)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *InvalidDateError) Is(target error) bool { return target == ErrInvalidDate }

// IncompleteDataError is returned when pollutant cells are missing and
// imputation is disabled, or when a batch has no data rows at all.
type IncompleteDataError struct {
	Rows []int
}

func (e *IncompleteDataError) Error() string {
	if len(e.Rows) == 0 {
		return "batch contains no data rows"
	}
	return "missing pollutant values at rows " + joinInts(e.Rows)
}

func (e *IncompleteDataError) Is(target error) bool { return target == ErrIncompleteData }

// InvalidValueError is returned for a cell that is present but unusable.
type InvalidValueError struct {
	Row    int
	Column string
	Value  string
}

func (e *InvalidValueError) Error() string {
	return fmt.Sprintf("invalid value %q for %s at row %d", e.Value, e.Column, e.Row)
}

func (e *InvalidValueError) Is(target error) bool { return target == ErrInvalidValue }

// DuplicateReportError is returned when a report for the same city and
// date already exists, or appears twice in one batch.
type DuplicateReportError struct {
	City string
	Date time.Time
}

func (e *DuplicateReportError) Error() string {
	return fmt.Sprintf("report for %s on %s already exists", e.City, FormatDate(e.Date))
}

func (e *DuplicateReportError) Is(target error) bool { return target == ErrDuplicateReport }

// UnknownCityError is returned when a query names a city that was never
// ingested.
type UnknownCityError struct {
	City string
}

func (e *UnknownCityError) Error() string {
	return fmt.Sprintf("city %q not found", e.City)
}

func (e *UnknownCityError) Is(target error) bool { return target == ErrUnknownCity }

// ConnectionError wraps a transient storage failure. Callers may retry it.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s: storage unavailable: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

func (e *ConnectionError) Is(target error) bool { return target == ErrConnection }

// IsValidation reports whether err is caused by bad caller input.
func IsValidation(err error) bool {
	return errors.Is(err, ErrSchema) ||
		errors.Is(err, ErrInvalidDate) ||
		errors.Is(err, ErrIncompleteData) ||
		errors.Is(err, ErrInvalidValue)
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ", ")
}

func quoteAll(values []string) []string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = strconv.Quote(v)
	}
	return quoted
}
