package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breatheroute/airwatch/internal/airquality"
	"github.com/breatheroute/airwatch/internal/alert"
	"github.com/breatheroute/airwatch/internal/api"
	"github.com/breatheroute/airwatch/internal/api/handler"
	"github.com/breatheroute/airwatch/internal/api/middleware"
	"github.com/breatheroute/airwatch/internal/api/models"
	"github.com/breatheroute/airwatch/internal/auth"
	"github.com/breatheroute/airwatch/internal/ingest"
	"github.com/breatheroute/airwatch/internal/observability"
	"github.com/breatheroute/airwatch/internal/query"
	"github.com/breatheroute/airwatch/internal/resilience"
)

const testSigningKey = "test-secret-key-for-testing-only"

const fiveRows = `date,city,PM2.5,NO2,CO2
2024-01-01,Haifa,10,20,400
2024-01-01,Holon,12,25,410
2024-01-01,Tel Aviv,300,30,420
2024-01-02,Haifa,8,18,390
2024-01-02,Holon,11,22,405
`

type testServer struct {
	router http.Handler
	tokens *auth.JWTService
}

func newTestServer(t *testing.T, opts ...func(*api.RouterConfig)) *testServer {
	t.Helper()
	logger := zerolog.New(io.Discard)

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetricsWithRegistry(reg)

	repo := airquality.NewInMemoryRepository(airquality.Options{
		Deriver: alert.NewDeriver(alert.DefaultThreshold),
	})
	store := resilience.NewStore(repo, resilience.StoreConfig{Metrics: metrics, Logger: logger})
	registry := resilience.NewRegistry()
	registry.Register("store", store)

	cities := airquality.NewCachedCityLookup(store, time.Minute)
	tokens := auth.NewJWTService(auth.JWTConfig{SigningKey: testSigningKey})

	cfg := api.RouterConfig{
		Version:        "test",
		BuildTime:      "2024-01-01T00:00:00Z",
		Logger:         logger,
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Ingester: ingest.NewService(ingest.ServiceConfig{
			Store:   store,
			Metrics: metrics,
			Logger:  logger,
		}),
		Reports: query.NewService(query.ServiceConfig{
			Reports: store,
			Cities:  cities,
			Metrics: metrics,
			Logger:  logger,
		}),
		Alerts: alert.NewService(alert.ServiceConfig{
			Alerts: store,
			Cities: cities,
			Logger: logger,
		}),
		Store:    store,
		Registry: registry,
		Tokens:   tokens,
		Caches:   []handler.CacheFlusher{cities},
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &testServer{router: api.NewRouter(cfg), tokens: tokens}
}

func (s *testServer) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	return s.do(t, httptest.NewRequest(http.MethodGet, path, http.NoBody))
}

func (s *testServer) upload(t *testing.T, csv string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/air-quality/upload", strings.NewReader(csv))
	req.Header.Set("Content-Type", "text/csv")
	return s.do(t, req)
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestRouter_HealthCheck(t *testing.T) {
	s := newTestServer(t)

	w := s.get(t, "/v1/ops/health")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))

	health := decode[models.Health](t, w)
	assert.Equal(t, models.HealthStatusOK, health.Status)
	assert.Equal(t, "test", health.Details["version"])
}

func TestRouter_ReadinessCheck(t *testing.T) {
	s := newTestServer(t)

	w := s.get(t, "/v1/ops/ready")
	require.Equal(t, http.StatusOK, w.Code)

	ready := decode[models.Readiness](t, w)
	assert.Equal(t, models.HealthStatusOK, ready.Status)
	require.Len(t, ready.Components, 2)
	assert.Equal(t, "store", ready.Components[0].Name)
	assert.Equal(t, "closed", ready.Components[1].Circuit)
}

func TestRouter_UploadCSV(t *testing.T) {
	s := newTestServer(t)

	w := s.upload(t, fiveRows)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	result := decode[models.IngestResult](t, w)
	assert.NotEmpty(t, result.BatchID)
	assert.Equal(t, 5, result.Inserted)
	assert.Equal(t, []string{"Haifa", "Holon", "Tel Aviv"}, result.Cities)
	assert.Empty(t, result.Warnings)
	require.Len(t, result.Alerts, 1)
	assert.Equal(t, "Tel Aviv", result.Alerts[0].City)
	assert.Equal(t, "Hazardous", result.Alerts[0].Level)
}

func TestRouter_UploadMultipart(t *testing.T) {
	s := newTestServer(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "batch.csv")
	require.NoError(t, err)
	_, err = part.Write([]byte(fiveRows))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/air-quality/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	w := s.do(t, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, 5, decode[models.IngestResult](t, w).Inserted)
}

func TestRouter_UploadErrors(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusCreated, s.upload(t, fiveRows).Code)

	t.Run("duplicate batch", func(t *testing.T) {
		w := s.upload(t, fiveRows)
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))

		problem := decode[models.Problem](t, w)
		assert.Equal(t, models.ProblemTypeConflict, problem.Type)
		assert.Contains(t, problem.Detail, "Haifa")
		assert.Equal(t, "/v1/air-quality/upload", problem.Instance)
		require.Len(t, problem.Errors, 2)
		assert.Equal(t, "Haifa", problem.Errors[0].Message)
		assert.Equal(t, "2024-01-01", problem.Errors[1].Message)
	})

	t.Run("missing column", func(t *testing.T) {
		w := s.upload(t, "date,city,PM2.5\n2024-03-01,Haifa,10\n")
		assert.Equal(t, http.StatusBadRequest, w.Code)

		problem := decode[models.Problem](t, w)
		require.Len(t, problem.Errors, 2)
		assert.Equal(t, "NO2", problem.Errors[0].Field)
	})

	t.Run("missing cells without imputation", func(t *testing.T) {
		w := s.upload(t, "date,city,PM2.5,NO2,CO2\n2024-03-01,Haifa,10,,400\n")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unsupported content type", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/air-quality/upload", strings.NewReader("{}"))
		req.Header.Set("Content-Type", "application/json")
		assert.Equal(t, http.StatusBadRequest, s.do(t, req).Code)
	})

	t.Run("multipart without file", func(t *testing.T) {
		var body bytes.Buffer
		mw := multipart.NewWriter(&body)
		require.NoError(t, mw.WriteField("other", "x"))
		require.NoError(t, mw.Close())

		req := httptest.NewRequest(http.MethodPost, "/v1/air-quality/upload", &body)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		assert.Equal(t, http.StatusBadRequest, s.do(t, req).Code)
	})
}

func TestRouter_UploadTooLarge(t *testing.T) {
	s := newTestServer(t, func(cfg *api.RouterConfig) { cfg.MaxUploadBytes = 64 })
	batch := fiveRows + strings.Repeat("2024-01-03,Haifa,8,18,390\n", 10)

	t.Run("csv body", func(t *testing.T) {
		w := s.upload(t, batch)
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

		problem := decode[models.Problem](t, w)
		assert.Equal(t, models.ProblemTypePayloadTooLarge, problem.Type)
	})

	t.Run("multipart", func(t *testing.T) {
		var body bytes.Buffer
		mw := multipart.NewWriter(&body)
		part, err := mw.CreateFormFile("file", "batch.csv")
		require.NoError(t, err)
		_, err = part.Write([]byte(batch))
		require.NoError(t, err)
		require.NoError(t, mw.Close())

		req := httptest.NewRequest(http.MethodPost, "/v1/air-quality/upload", &body)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		assert.Equal(t, http.StatusRequestEntityTooLarge, s.do(t, req).Code)
	})

	t.Run("nothing stored", func(t *testing.T) {
		assert.Equal(t, http.StatusNotFound, s.get(t, "/v1/air-quality/cities/Haifa").Code)
	})
}

func TestRouter_TimeRange(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusCreated, s.upload(t, fiveRows).Code)

	w := s.get(t, "/v1/air-quality?start=2024-01-02&end=2024-01-02")
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[models.ReportList](t, w)
	assert.Equal(t, 2, list.Count)

	w = s.get(t, "/v1/air-quality?start=2023-01-01&end=2023-01-31")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"items":[],"count":0}`, w.Body.String())

	assert.Equal(t, http.StatusBadRequest, s.get(t, "/v1/air-quality?start=2024-01-01").Code)
	assert.Equal(t, http.StatusBadRequest, s.get(t, "/v1/air-quality?start=2024-01-03&end=2024-01-01").Code)
	assert.Equal(t, http.StatusBadRequest, s.get(t, "/v1/air-quality?start=2024-02-30&end=2024-03-01").Code)
}

func TestRouter_CityQueries(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusCreated, s.upload(t, fiveRows).Code)

	w := s.get(t, "/v1/air-quality/cities/Haifa")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, decode[models.ReportList](t, w).Count)

	w = s.get(t, "/v1/aqi/cities/Tel%20Aviv/history")
	require.Equal(t, http.StatusOK, w.Code)
	history := decode[models.History](t, w)
	assert.Equal(t, "Tel Aviv", history.City)
	require.Len(t, history.Points, 1)

	w = s.get(t, "/v1/aqi/cities/Haifa/average")
	require.Equal(t, http.StatusOK, w.Code)
	avg := decode[models.Average](t, w)
	require.NotNil(t, avg.AQI)
	assert.Equal(t, 2, avg.Reports)
	assert.False(t, avg.NoData)

	for _, path := range []string{
		"/v1/air-quality/cities/Atlantis",
		"/v1/aqi/cities/Atlantis/history",
		"/v1/aqi/cities/Atlantis/average",
		"/v1/alerts/cities/Atlantis",
	} {
		w := s.get(t, path)
		assert.Equal(t, http.StatusNotFound, w.Code, path)
		assert.Equal(t, models.ProblemTypeNotFound, decode[models.Problem](t, w).Type)
	}
}

func TestRouter_BestCities(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusCreated, s.upload(t, fiveRows).Code)

	w := s.get(t, "/v1/aqi/best-cities")
	require.Equal(t, http.StatusOK, w.Code)
	best := decode[models.BestCities](t, w)
	assert.Equal(t, 3, best.Limit)
	require.Len(t, best.Cities, 3)
	assert.Equal(t, "Tel Aviv", best.Cities[2])

	w = s.get(t, "/v1/aqi/best-cities?limit=1")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[models.BestCities](t, w).Cities, 1)

	assert.Equal(t, http.StatusBadRequest, s.get(t, "/v1/aqi/best-cities?limit=0").Code)
	assert.Equal(t, http.StatusBadRequest, s.get(t, "/v1/aqi/best-cities?limit=abc").Code)
}

func TestRouter_Alerts(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusCreated, s.upload(t, fiveRows).Code)

	w := s.get(t, "/v1/alerts")
	require.Equal(t, http.StatusOK, w.Code)
	all := decode[models.AlertList](t, w)
	require.Equal(t, 1, all.Count)
	assert.Equal(t, "Tel Aviv", all.Items[0].City)

	w = s.get(t, "/v1/alerts?since=2024-01-01")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, decode[models.AlertList](t, w).Count, "since is exclusive")

	w = s.get(t, "/v1/alerts/cities/Haifa")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, decode[models.AlertList](t, w).Count)

	assert.Equal(t, http.StatusBadRequest, s.get(t, "/v1/alerts?since=01-01-2024").Code)
}

func TestRouter_AdminReset(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusCreated, s.upload(t, fiveRows).Code)
	require.Equal(t, http.StatusOK, s.get(t, "/v1/air-quality/cities/Haifa").Code)

	req := httptest.NewRequest(http.MethodPost, "/v1/admin/reset", http.NoBody)
	assert.Equal(t, http.StatusUnauthorized, s.do(t, req).Code)

	token, _, err := s.tokens.GenerateAdminToken("ops@example.com")
	require.NoError(t, err)

	req = httptest.NewRequest(http.MethodPost, "/v1/admin/reset", http.NoBody)
	req.Header.Set("Authorization", "Bearer "+token)
	w := s.do(t, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.ResetResult{Reset: true, By: "ops@example.com"}, decode[models.ResetResult](t, w))

	assert.Equal(t, http.StatusNotFound, s.get(t, "/v1/air-quality/cities/Haifa").Code, "city cache is flushed")
	assert.Equal(t, http.StatusCreated, s.upload(t, fiveRows).Code, "data can be re-ingested after reset")
}

type unavailableReports struct{}

var errUnavailable = &airquality.ConnectionError{Op: "query", Err: errors.New("connection refused")}

func (unavailableReports) TimeRange(context.Context, string, string) ([]airquality.Report, error) {
	return nil, errUnavailable
}

func (unavailableReports) ByCity(context.Context, string) ([]airquality.Report, error) {
	return nil, errUnavailable
}

func (unavailableReports) History(context.Context, string) ([]airquality.HistoryPoint, error) {
	return nil, errUnavailable
}

func (unavailableReports) Average(context.Context, string) (*query.CityAverage, error) {
	return nil, errUnavailable
}

func (unavailableReports) BestCities(context.Context, int) ([]string, error) {
	return nil, errUnavailable
}

func TestRouter_StorageOutageIs503(t *testing.T) {
	router := api.NewRouter(api.RouterConfig{
		Logger:  zerolog.New(io.Discard),
		Reports: unavailableReports{},
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/aqi/best-cities", http.NoBody)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "30", w.Header().Get("Retry-After"))
	assert.NotContains(t, w.Body.String(), "connection refused")
}

func TestRouter_Metrics(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusCreated, s.upload(t, fiveRows).Code)

	w := s.get(t, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "airwatch_reports_inserted_total 5")
}

func TestRouter_RequestID_Generated(t *testing.T) {
	s := newTestServer(t)

	w := s.get(t, "/v1/ops/health")

	requestID := w.Header().Get("X-Request-Id")
	assert.NotEmpty(t, requestID)
	assert.Contains(t, requestID, "req_")
}

func TestRouter_RequestID_Preserved(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/ops/health", http.NoBody)
	req.Header.Set("X-Request-Id", "custom_request_id")

	w := s.do(t, req)

	assert.Equal(t, "custom_request_id", w.Header().Get("X-Request-Id"))
}

func TestRouter_NotFound(t *testing.T) {
	s := newTestServer(t)

	w := s.get(t, "/v1/nonexistent")

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouter_UploadRateLimit(t *testing.T) {
	s := newTestServer(t, func(cfg *api.RouterConfig) {
		cfg.RateLimits.Upload = middleware.RateLimitConfig{RequestLimit: 1, WindowLength: 30 * time.Second}
	})

	require.Equal(t, http.StatusCreated, s.upload(t, fiveRows).Code)

	w := s.upload(t, fiveRows)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "30", w.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, s.get(t, "/v1/aqi/best-cities").Code, "queries have their own budget")
}
