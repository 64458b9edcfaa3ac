package response_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/breatheroute/airwatch/internal/airquality"
	"github.com/breatheroute/airwatch/internal/api/middleware"
	"github.com/breatheroute/airwatch/internal/api/models"
	"github.com/breatheroute/airwatch/internal/api/response"
)

const testRequestID = "req_response_test"

func newRequest(method, path string) *http.Request {
	req := httptest.NewRequest(method, path, http.NoBody)
	return req.WithContext(middleware.WithRequestID(req.Context(), testRequestID))
}

func decodeProblem(t *testing.T, rec *httptest.ResponseRecorder) models.Problem {
	t.Helper()
	var problem models.Problem
	if err := json.NewDecoder(rec.Body).Decode(&problem); err != nil {
		t.Fatalf("failed to decode Problem response: %v", err)
	}
	return problem
}

func TestJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	response.JSON(rec, newRequest(http.MethodGet, "/v1/aqi/best-cities"), http.StatusOK, []string{"Haifa", "Holon"})

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("X-Request-Id"); got != testRequestID {
		t.Errorf("expected X-Request-Id %q, got %q", testRequestID, got)
	}
	if got := rec.Header().Get("Content-Type"); got != "application/json" {
		t.Errorf("expected Content-Type application/json, got %q", got)
	}
	if got := rec.Body.String(); got != "[\"Haifa\",\"Holon\"]\n" {
		t.Errorf("unexpected body %q", got)
	}
}

func TestJSON_WithoutRequestID(t *testing.T) {
	rec := httptest.NewRecorder()
	response.JSON(rec, httptest.NewRequest(http.MethodGet, "/v1/alerts", http.NoBody), http.StatusOK, nil)

	if _, ok := rec.Header()["X-Request-Id"]; ok {
		t.Error("expected no X-Request-Id header when none is in context")
	}
	if rec.Body.Len() != 0 {
		t.Errorf("expected empty body for nil data, got %q", rec.Body.String())
	}
}

func TestCreated(t *testing.T) {
	rec := httptest.NewRecorder()
	response.Created(rec, newRequest(http.MethodPost, "/v1/air-quality/upload"), "/v1/air-quality?start=2024-01-01&end=2024-01-02", map[string]int{"inserted": 5})

	if rec.Code != http.StatusCreated {
		t.Errorf("expected status 201, got %d", rec.Code)
	}
	if got := rec.Header().Get("Location"); got != "/v1/air-quality?start=2024-01-01&end=2024-01-02" {
		t.Errorf("unexpected Location %q", got)
	}
	if got := rec.Header().Get("X-Request-Id"); got != testRequestID {
		t.Errorf("expected X-Request-Id %q, got %q", testRequestID, got)
	}
}

func TestBadRequest(t *testing.T) {
	rec := httptest.NewRecorder()
	response.BadRequest(rec, newRequest(http.MethodGet, "/v1/air-quality"), "start is after end", []models.FieldError{
		{Field: "start", Message: "must not be after end"},
	})

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", rec.Code)
	}
	problem := decodeProblem(t, rec)
	if problem.TraceID != testRequestID {
		t.Errorf("expected traceId %q, got %q", testRequestID, problem.TraceID)
	}
	if problem.Instance != "/v1/air-quality" {
		t.Errorf("expected instance /v1/air-quality, got %q", problem.Instance)
	}
	if len(problem.Errors) != 1 || problem.Errors[0].Field != "start" {
		t.Errorf("unexpected field errors %+v", problem.Errors)
	}
}

func TestDomainError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		status     int
		retryAfter string
	}{
		{"connection", &airquality.ConnectionError{Op: "all alerts", Err: errors.New("refused")}, http.StatusServiceUnavailable, "30"},
		{"unknown city", &airquality.UnknownCityError{City: "Atlantis"}, http.StatusNotFound, ""},
		{"incomplete", &airquality.IncompleteDataError{Rows: []int{2}}, http.StatusBadRequest, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			response.DomainError(rec, newRequest(http.MethodGet, "/v1/alerts"), tt.err)

			if rec.Code != tt.status {
				t.Errorf("expected status %d, got %d", tt.status, rec.Code)
			}
			if got := rec.Header().Get("Retry-After"); got != tt.retryAfter {
				t.Errorf("expected Retry-After %q, got %q", tt.retryAfter, got)
			}
			if problem := decodeProblem(t, rec); problem.Instance != "/v1/alerts" {
				t.Errorf("expected instance /v1/alerts, got %q", problem.Instance)
			}
		})
	}
}
