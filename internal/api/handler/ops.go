package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/breatheroute/airwatch/internal/api/models"
	"github.com/breatheroute/airwatch/internal/api/response"
	"github.com/breatheroute/airwatch/internal/resilience"
)

// readinessTimeout bounds the store ping of a readiness check.
const readinessTimeout = 2 * time.Second

// Pinger checks that a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	version   string
	buildTime string
	store     Pinger
	registry  *resilience.Registry
}

// NewOpsHandler creates a new OpsHandler. registry may be nil.
func NewOpsHandler(version, buildTime string, store Pinger, registry *resilience.Registry) *OpsHandler {
	return &OpsHandler{
		version:   version,
		buildTime: buildTime,
		store:     store,
		registry:  registry,
	}
}

// HealthCheck handles GET /v1/ops/health - liveness check.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health := models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(time.Now()),
		Details: map[string]interface{}{
			"version":   h.version,
			"buildTime": h.buildTime,
		},
	}
	response.JSON(w, r, http.StatusOK, health)
}

// ReadinessCheck handles GET /v1/ops/ready. It pings the store and reports
// every guarded component. The service is not ready when the ping fails.
func (h *OpsHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	readiness := models.Readiness{
		Status:     models.HealthStatusOK,
		Time:       models.Timestamp(time.Now()),
		Components: []models.ComponentStatus{},
	}

	storeStatus := models.ComponentStatus{Name: "store", Status: models.HealthStatusOK}
	if err := h.store.Ping(ctx); err != nil {
		msg := "store is unreachable"
		storeStatus.Status = models.HealthStatusFail
		storeStatus.Message = &msg
		readiness.Status = models.HealthStatusFail
	}
	readiness.Components = append(readiness.Components, storeStatus)

	if h.registry != nil {
		for _, c := range h.registry.GetAllHealth() {
			status := componentStatus(c)
			if status.Status == models.HealthStatusDegraded && readiness.Status == models.HealthStatusOK {
				readiness.Status = models.HealthStatusDegraded
			}
			readiness.Components = append(readiness.Components, status)
		}
	}

	code := http.StatusOK
	if readiness.Status == models.HealthStatusFail {
		code = http.StatusServiceUnavailable
		w.Header().Set("Retry-After", "5")
	}
	response.JSON(w, r, code, readiness)
}

func componentStatus(h *resilience.ComponentHealth) models.ComponentStatus {
	status := models.ComponentStatus{
		Name:    h.Name,
		Status:  models.HealthStatusOK,
		Circuit: h.CircuitState.String(),
	}
	switch {
	case h.IsUnhealthy():
		status.Status = models.HealthStatusFail
	case h.IsDegraded():
		status.Status = models.HealthStatusDegraded
	}
	if h.LastSuccessAt != nil {
		ts := models.Timestamp(*h.LastSuccessAt)
		status.LastSuccessAt = &ts
	}
	if h.LastFailureAt != nil {
		ts := models.Timestamp(*h.LastFailureAt)
		status.LastFailureAt = &ts
	}
	return status
}
