package models

import (
	"encoding/json"
	"net/http"
)

// Problem is an RFC 7807 error body, served as application/problem+json.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`

	// TraceID echoes the X-Request-Id of the failed request.
	TraceID string `json:"traceId"`

	// Errors lists per-field failures, such as missing CSV columns.
	Errors []FieldError `json:"errors,omitempty"`
}

// FieldError is one field-level validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Problem type URIs, relative to the API root.
const (
	ProblemTypeValidation      = "/problems/validation-error"
	ProblemTypeUnauthorized    = "/problems/unauthorized"
	ProblemTypeForbidden       = "/problems/forbidden"
	ProblemTypeNotFound        = "/problems/not-found"
	ProblemTypeConflict        = "/problems/conflict"
	ProblemTypeTooManyRequests = "/problems/too-many-requests"
	ProblemTypePayloadTooLarge = "/problems/payload-too-large"
	ProblemTypeTLSRequired     = "/problems/tls-required"
	ProblemTypeInternal        = "/problems/internal-error"
	ProblemTypeUnavailable     = "/problems/service-unavailable"
)

type problemKind struct{ typ, title string }

var kindByStatus = map[int]problemKind{
	http.StatusBadRequest:            {ProblemTypeValidation, "Validation error"},
	http.StatusUnauthorized:          {ProblemTypeUnauthorized, "Unauthorized"},
	http.StatusForbidden:             {ProblemTypeForbidden, "Forbidden"},
	http.StatusNotFound:              {ProblemTypeNotFound, "Not found"},
	http.StatusConflict:              {ProblemTypeConflict, "Conflict"},
	http.StatusRequestEntityTooLarge: {ProblemTypePayloadTooLarge, "Payload too large"},
	http.StatusTooManyRequests:       {ProblemTypeTooManyRequests, "Too many requests"},
	http.StatusInternalServerError:   {ProblemTypeInternal, "Internal server error"},
	http.StatusServiceUnavailable:    {ProblemTypeUnavailable, "Service unavailable"},
}

// NewProblem creates a Problem with an explicit type and title.
func NewProblem(problemType, title string, status int, traceID string) *Problem {
	return &Problem{Type: problemType, Title: title, Status: status, TraceID: traceID}
}

// NewStatusProblem creates the standard Problem for an HTTP status. Statuses
// without a registered kind fall back to about:blank and the status text.
func NewStatusProblem(status int, traceID, detail string) *Problem {
	kind, ok := kindByStatus[status]
	if !ok {
		kind = problemKind{"about:blank", http.StatusText(status)}
	}
	p := NewProblem(kind.typ, kind.title, status, traceID)
	p.Detail = detail
	return p
}

// Write sends the Problem with its status code.
func (p *Problem) Write(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/problem+json")
	if p.TraceID != "" {
		w.Header().Set("X-Request-Id", p.TraceID)
	}
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// NewBadRequest creates a 400 validation Problem with optional field errors.
func NewBadRequest(traceID, detail string, errors []FieldError) *Problem {
	p := NewStatusProblem(http.StatusBadRequest, traceID, detail)
	p.Errors = errors
	return p
}

func NewUnauthorized(traceID, detail string) *Problem {
	return NewStatusProblem(http.StatusUnauthorized, traceID, detail)
}

func NewForbidden(traceID, detail string) *Problem {
	return NewStatusProblem(http.StatusForbidden, traceID, detail)
}

func NewNotFound(traceID, detail string) *Problem {
	return NewStatusProblem(http.StatusNotFound, traceID, detail)
}

func NewConflict(traceID, detail string) *Problem {
	return NewStatusProblem(http.StatusConflict, traceID, detail)
}

func NewPayloadTooLarge(traceID, detail string) *Problem {
	return NewStatusProblem(http.StatusRequestEntityTooLarge, traceID, detail)
}

func NewTooManyRequests(traceID, detail string) *Problem {
	return NewStatusProblem(http.StatusTooManyRequests, traceID, detail)
}

func NewInternalError(traceID, detail string) *Problem {
	return NewStatusProblem(http.StatusInternalServerError, traceID, detail)
}

func NewServiceUnavailable(traceID, detail string) *Problem {
	return NewStatusProblem(http.StatusServiceUnavailable, traceID, detail)
}
