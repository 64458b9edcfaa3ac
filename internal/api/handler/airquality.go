// Package handler provides HTTP handlers for the air quality API.
package handler

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/breatheroute/airwatch/internal/airquality"
	"github.com/breatheroute/airwatch/internal/api/models"
	"github.com/breatheroute/airwatch/internal/api/response"
	"github.com/breatheroute/airwatch/internal/ingest"
	"github.com/breatheroute/airwatch/internal/query"
)

// DefaultMaxUploadBytes caps the size of an uploaded batch.
const DefaultMaxUploadBytes = 32 << 20

// Ingester stores uploaded batches.
type Ingester interface {
	Ingest(ctx context.Context, r io.Reader) (*ingest.Result, error)
}

// ReportQuerier answers report queries.
type ReportQuerier interface {
	TimeRange(ctx context.Context, start, end string) ([]airquality.Report, error)
	ByCity(ctx context.Context, city string) ([]airquality.Report, error)
	History(ctx context.Context, city string) ([]airquality.HistoryPoint, error)
	Average(ctx context.Context, city string) (*query.CityAverage, error)
	BestCities(ctx context.Context, limit int) ([]string, error)
}

// AirQualityHandler handles upload and report query endpoints.
type AirQualityHandler struct {
	ingester       Ingester
	reports        ReportQuerier
	maxUploadBytes int64
}

// NewAirQualityHandler creates a new AirQualityHandler. A maxUploadBytes of
// zero or less means DefaultMaxUploadBytes.
func NewAirQualityHandler(ingester Ingester, reports ReportQuerier, maxUploadBytes int64) *AirQualityHandler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = DefaultMaxUploadBytes
	}
	return &AirQualityHandler{
		ingester:       ingester,
		reports:        reports,
		maxUploadBytes: maxUploadBytes,
	}
}

// Upload handles POST /v1/air-quality/upload. The batch is either the
// "file" part of a multipart form or a raw text/csv body.
func (h *AirQualityHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)

	body, closeBody, ok := h.batchReader(w, r)
	if !ok {
		return
	}
	defer closeBody()

	result, err := h.ingester.Ingest(r.Context(), body)
	if err != nil {
		response.DomainError(w, r, err)
		return
	}

	response.Created(w, r, "", models.NewIngestResult(result))
}

func (h *AirQualityHandler) batchReader(w http.ResponseWriter, r *http.Request) (io.Reader, func(), bool) {
	mediaType := ""
	if ct := r.Header.Get("Content-Type"); ct != "" {
		parsed, _, err := mime.ParseMediaType(ct)
		if err != nil {
			response.BadRequest(w, r, "invalid Content-Type header", nil)
			return nil, nil, false
		}
		mediaType = parsed
	}

	switch mediaType {
	case "multipart/form-data":
		file, _, err := r.FormFile("file")
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.DomainError(w, r, err)
			return nil, nil, false
		}
		if err != nil {
			response.BadRequest(w, r, "multipart upload requires a \"file\" part", []models.FieldError{
				{Field: "file", Message: "required", Code: "REQUIRED"},
			})
			return nil, nil, false
		}
		return file, func() { _ = file.Close() }, true

	case "", "text/csv", "application/csv", "text/plain":
		return r.Body, func() {}, true

	default:
		response.BadRequest(w, r, "expected multipart/form-data or text/csv, got "+mediaType, nil)
		return nil, nil, false
	}
}

// TimeRange handles GET /v1/air-quality?start=&end=.
func (h *AirQualityHandler) TimeRange(w http.ResponseWriter, r *http.Request) {
	start := strings.TrimSpace(r.URL.Query().Get("start"))
	end := strings.TrimSpace(r.URL.Query().Get("end"))

	var missing []models.FieldError
	if start == "" {
		missing = append(missing, models.FieldError{Field: "start", Message: "required", Code: "REQUIRED"})
	}
	if end == "" {
		missing = append(missing, models.FieldError{Field: "end", Message: "required", Code: "REQUIRED"})
	}
	if len(missing) > 0 {
		response.BadRequest(w, r, "start and end query parameters are required", missing)
		return
	}

	reports, err := h.reports.TimeRange(r.Context(), start, end)
	if err != nil {
		response.DomainError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, models.NewReportList(reports))
}

// ByCity handles GET /v1/air-quality/cities/{city}.
func (h *AirQualityHandler) ByCity(w http.ResponseWriter, r *http.Request) {
	reports, err := h.reports.ByCity(r.Context(), cityParam(r))
	if err != nil {
		response.DomainError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, models.NewReportList(reports))
}

// History handles GET /v1/aqi/cities/{city}/history.
func (h *AirQualityHandler) History(w http.ResponseWriter, r *http.Request) {
	city := cityParam(r)
	points, err := h.reports.History(r.Context(), city)
	if err != nil {
		response.DomainError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, models.NewHistory(city, points))
}

// Average handles GET /v1/aqi/cities/{city}/average.
func (h *AirQualityHandler) Average(w http.ResponseWriter, r *http.Request) {
	avg, err := h.reports.Average(r.Context(), cityParam(r))
	if err != nil {
		response.DomainError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, models.NewAverage(avg))
}

// BestCities handles GET /v1/aqi/best-cities?limit=.
func (h *AirQualityHandler) BestCities(w http.ResponseWriter, r *http.Request) {
	limit := query.DefaultBestCitiesLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			response.BadRequest(w, r, "limit must be a positive integer", []models.FieldError{
				{Field: "limit", Message: "must be a positive integer", Code: "OUT_OF_RANGE"},
			})
			return
		}
		limit = n
	}

	cities, err := h.reports.BestCities(r.Context(), limit)
	if err != nil {
		response.DomainError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, models.BestCities{Cities: cities, Limit: limit})
}

// cityParam returns the unescaped {city} path parameter.
func cityParam(r *http.Request) string {
	raw := chi.URLParam(r, "city")
	if city, err := url.PathUnescape(raw); err == nil {
		return city
	}
	return raw
}
