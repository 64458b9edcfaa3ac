package handler

import (
	"context"
	"net/http"

	"github.com/breatheroute/airwatch/internal/airquality"
	"github.com/breatheroute/airwatch/internal/api/models"
	"github.com/breatheroute/airwatch/internal/api/response"
)

// AlertQuerier answers alert queries.
type AlertQuerier interface {
	All(ctx context.Context) ([]airquality.Alert, error)
	Since(ctx context.Context, since string) ([]airquality.Alert, error)
	ByCity(ctx context.Context, city string) ([]airquality.Alert, error)
}

// AlertHandler handles alert endpoints.
type AlertHandler struct {
	alerts AlertQuerier
}

// NewAlertHandler creates a new AlertHandler.
func NewAlertHandler(alerts AlertQuerier) *AlertHandler {
	return &AlertHandler{alerts: alerts}
}

// List handles GET /v1/alerts and GET /v1/alerts?since=.
func (h *AlertHandler) List(w http.ResponseWriter, r *http.Request) {
	var (
		alerts []airquality.Alert
		err    error
	)
	if since := r.URL.Query().Get("since"); since != "" {
		alerts, err = h.alerts.Since(r.Context(), since)
	} else {
		alerts, err = h.alerts.All(r.Context())
	}
	if err != nil {
		response.DomainError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, models.NewAlertList(alerts))
}

// ByCity handles GET /v1/alerts/cities/{city}.
func (h *AlertHandler) ByCity(w http.ResponseWriter, r *http.Request) {
	alerts, err := h.alerts.ByCity(r.Context(), cityParam(r))
	if err != nil {
		response.DomainError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, models.NewAlertList(alerts))
}
