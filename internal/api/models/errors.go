package models

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/breatheroute/airwatch/internal/airquality"
)

// ProblemFromError maps a domain error to a Problem. Validation errors
// become 400, oversized uploads 413, duplicates 409, unknown cities 404 and
// storage outages 503.
// Anything else is a 500 without internal detail.
func ProblemFromError(traceID string, err error) *Problem {
	var (
		schemaErr     *airquality.SchemaError
		dateErr       *airquality.InvalidDateError
		incompleteErr *airquality.IncompleteDataError
		valueErr      *airquality.InvalidValueError
		duplicateErr  *airquality.DuplicateReportError
		tooLargeErr   *http.MaxBytesError
	)

	switch {
	case errors.As(err, &tooLargeErr):
		return NewPayloadTooLarge(traceID, "batch exceeds "+strconv.FormatInt(tooLargeErr.Limit, 10)+" bytes")

	case errors.As(err, &schemaErr):
		fields := make([]FieldError, 0, len(schemaErr.Missing))
		for _, col := range schemaErr.Missing {
			fields = append(fields, FieldError{Field: col, Message: "required column is missing", Code: "MISSING_COLUMN"})
		}
		return NewBadRequest(traceID, err.Error(), fields)

	case errors.As(err, &dateErr):
		fields := make([]FieldError, 0, len(dateErr.Values))
		for i, v := range dateErr.Values {
			field := "date"
			if i < len(dateErr.Rows) {
				field = "row " + strconv.Itoa(dateErr.Rows[i]) + ".date"
			}
			fields = append(fields, FieldError{Field: field, Message: "invalid date " + strconv.Quote(v), Code: "INVALID_DATE"})
		}
		return NewBadRequest(traceID, err.Error(), fields)

	case errors.As(err, &incompleteErr):
		fields := make([]FieldError, 0, len(incompleteErr.Rows))
		for _, row := range incompleteErr.Rows {
			fields = append(fields, FieldError{Field: "row " + strconv.Itoa(row), Message: "missing pollutant values", Code: "INCOMPLETE"})
		}
		return NewBadRequest(traceID, err.Error(), fields)

	case errors.As(err, &valueErr):
		return NewBadRequest(traceID, err.Error(), []FieldError{{
			Field:   "row " + strconv.Itoa(valueErr.Row) + "." + valueErr.Column,
			Message: "invalid value " + strconv.Quote(valueErr.Value),
			Code:    "INVALID_VALUE",
		}})

	case airquality.IsValidation(err):
		return NewBadRequest(traceID, err.Error(), nil)

	case errors.As(err, &duplicateErr):
		p := NewConflict(traceID, err.Error())
		p.Errors = []FieldError{
			{Field: "city", Message: duplicateErr.City, Code: "DUPLICATE_REPORT"},
			{Field: "date", Message: airquality.FormatDate(duplicateErr.Date), Code: "DUPLICATE_REPORT"},
		}
		return p

	case errors.Is(err, airquality.ErrUnknownCity):
		return NewNotFound(traceID, err.Error())

	case errors.Is(err, airquality.ErrConnection):
		return NewServiceUnavailable(traceID, "storage is temporarily unavailable")

	default:
		return NewInternalError(traceID, "an unexpected error occurred")
	}
}
