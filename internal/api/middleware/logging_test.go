package middleware_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breatheroute/airwatch/internal/api/middleware"
)

// logOnce serves req through wrap(Logger(h)) and returns the decoded log line.
func logOnce(t *testing.T, req *http.Request, h http.HandlerFunc, wrap func(http.Handler) http.Handler) map[string]interface{} {
	t.Helper()
	var buf bytes.Buffer
	var handler http.Handler = middleware.Logger(zerolog.New(&buf))(h)
	if wrap != nil {
		handler = wrap(handler)
	}
	handler.ServeHTTP(httptest.NewRecorder(), req)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestLogger_LogsRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/alerts?since=2024-01-01", http.NoBody)
	req.Header.Set("User-Agent", "airwatch-test")

	entry := logOnce(t, req, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"items":[]}`))
	}, nil)

	assert.Equal(t, "request completed", entry["message"])
	assert.Equal(t, "GET", entry["method"])
	assert.Equal(t, "/v1/alerts", entry["path"])
	assert.Equal(t, float64(200), entry["status"], "status defaults to 200")
	assert.Equal(t, float64(len(`{"items":[]}`)), entry["bytes"])
	assert.Equal(t, "airwatch-test", entry["user_agent"])
	assert.NotEmpty(t, entry["duration"])
	assert.NotContains(t, entry, "trace_id", "untraced requests carry no trace fields")
}

func TestLogger_IncludesRequestID(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/v1/air-quality/upload", http.NoBody)
	req.Header.Set(middleware.RequestIDHeader, "req_upload")

	entry := logOnce(t, req, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}, middleware.RequestID)

	assert.Equal(t, "req_upload", entry["request_id"])
	assert.Equal(t, float64(201), entry["status"])
}

func TestLogger_IncludesTraceID(t *testing.T) {
	setupTestTracer(t)

	entry := logOnce(t, httptest.NewRequest(http.MethodGet, "/v1/aqi/best-cities", http.NoBody),
		func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) },
		middleware.Tracing(),
	)

	assert.Len(t, entry["trace_id"], 32)
	assert.Len(t, entry["span_id"], 16)
}

func TestLogger_LevelFollowsStatus(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		status int
		level  string
	}{
		{"success", "/v1/alerts", http.StatusOK, "info"},
		{"client error", "/v1/alerts", http.StatusNotFound, "warn"},
		{"server error", "/v1/alerts", http.StatusServiceUnavailable, "error"},
		{"probe", "/v1/ops/health", http.StatusOK, "debug"},
		{"scrape", "/metrics", http.StatusOK, "debug"},
		{"failing probe", "/v1/ops/ready", http.StatusServiceUnavailable, "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := logOnce(t, httptest.NewRequest(http.MethodGet, tt.path, http.NoBody),
				func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(tt.status) }, nil)

			assert.Equal(t, tt.level, entry["level"])
			assert.Equal(t, float64(tt.status), entry["status"])
		})
	}
}

func TestLogger_IncludesRoutePattern(t *testing.T) {
	var buf bytes.Buffer

	r := chi.NewRouter()
	r.Use(middleware.Logger(zerolog.New(&buf)))
	r.Get("/v1/aqi/cities/{city}/history", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/aqi/cities/Haifa/history", http.NoBody))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "/v1/aqi/cities/Haifa/history", entry["path"])
	assert.Equal(t, "/v1/aqi/cities/{city}/history", entry["route"])
}
