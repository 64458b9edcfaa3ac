package handler

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/breatheroute/airwatch/internal/api/middleware"
	"github.com/breatheroute/airwatch/internal/api/models"
	"github.com/breatheroute/airwatch/internal/api/response"
)

// Resetter wipes all stored data.
type Resetter interface {
	Reset(ctx context.Context) error
}

// CacheFlusher drops cached lookups.
type CacheFlusher interface {
	Flush()
}

// AdminHandler handles administrative endpoints.
type AdminHandler struct {
	store  Resetter
	caches []CacheFlusher
	logger zerolog.Logger
}

// NewAdminHandler creates a new AdminHandler. Caches are flushed after a
// successful reset.
func NewAdminHandler(store Resetter, logger zerolog.Logger, caches ...CacheFlusher) *AdminHandler {
	return &AdminHandler{store: store, caches: caches, logger: logger}
}

// Reset handles POST /v1/admin/reset.
func (h *AdminHandler) Reset(w http.ResponseWriter, r *http.Request) {
	subject := middleware.GetSubject(r.Context())

	if err := h.store.Reset(r.Context()); err != nil {
		h.logger.Error().Err(err).Str("subject", subject).Msg("reset failed")
		response.DomainError(w, r, err)
		return
	}
	for _, c := range h.caches {
		c.Flush()
	}

	h.logger.Warn().Str("subject", subject).Msg("all air quality data was reset")
	response.JSON(w, r, http.StatusOK, models.ResetResult{Reset: true, By: subject})
}
