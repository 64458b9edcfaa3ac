// Package response writes JSON and RFC 7807 responses for the handlers.
// Every response echoes the request ID when one is in the context.
package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/breatheroute/airwatch/internal/airquality"
	"github.com/breatheroute/airwatch/internal/api/middleware"
	"github.com/breatheroute/airwatch/internal/api/models"
)

// RetryAfterSeconds is advertised on 503 responses caused by storage outages.
const RetryAfterSeconds = 30

// JSON writes data as a JSON body with status. A nil data writes no body.
func JSON(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	writeJSON(w, r, status, "", data)
}

// Created writes a 201 with an optional Location header.
func Created(w http.ResponseWriter, r *http.Request, location string, data interface{}) {
	writeJSON(w, r, http.StatusCreated, location, data)
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, location string, data interface{}) {
	h := w.Header()
	if id := middleware.GetRequestID(r.Context()); id != "" {
		h.Set(middleware.RequestIDHeader, id)
	}
	if location != "" {
		h.Set("Location", location)
	}
	h.Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// Error writes problem with the request path as its instance.
func Error(w http.ResponseWriter, r *http.Request, problem *models.Problem) {
	problem.Instance = r.URL.Path
	problem.Write(w)
}

// DomainError writes the Problem that err maps to. Storage outages carry a
// Retry-After header.
func DomainError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, airquality.ErrConnection) {
		w.Header().Set("Retry-After", strconv.Itoa(RetryAfterSeconds))
	}
	Error(w, r, models.ProblemFromError(middleware.GetRequestID(r.Context()), err))
}

// BadRequest writes a 400 validation Problem.
func BadRequest(w http.ResponseWriter, r *http.Request, detail string, errors []models.FieldError) {
	Error(w, r, models.NewBadRequest(middleware.GetRequestID(r.Context()), detail, errors))
}
