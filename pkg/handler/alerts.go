package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/poseidon-mda/poseidon/pkg/messages"
	"github.com/poseidon-mda/poseidon/pkg/store"
)

// AlertHandler handles dark-vessel alert requests
type AlertHandler struct {
	store  store.AlertStore
	logger zerolog.Logger
}

// NewAlertHandler creates a new AlertHandler
func NewAlertHandler(s store.AlertStore, logger zerolog.Logger) *AlertHandler {
	return &AlertHandler{
		store:  s,
		logger: logger.With().Str("handler", "alerts").Logger(),
	}
}

// Routes returns the alert routes
func (h *AlertHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.ListAlerts)
	r.Get("/vessel/{vesselId}/active", h.GetActiveAlert)

	return r
}

// AlertListResponse represents the response for listing alerts
type AlertListResponse struct {
	Alerts        []messages.DarkAlert `json:"alerts"`
	Total         int                  `json:"total"`
	CorrelationID string               `json:"correlation_id"`
}

// ListAlerts handles GET /api/v1/alerts
func (h *AlertHandler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := GetCorrelationID(ctx)

	filter := store.AlertFilter{
		VesselID: r.URL.Query().Get("vessel_id"),
		Status:   messages.AlertStatus(r.URL.Query().Get("status")),
		Since:    queryTime(r, "since"),
		Limit:    queryInt(r, "limit", 100),
	}

	alerts, err := h.store.ListAlerts(ctx, filter)
	if err != nil {
		h.logger.Error().Err(err).Str("correlation_id", correlationID).Msg("Failed to list alerts")
		WriteError(w, http.StatusInternalServerError, "Failed to list alerts", correlationID)
		return
	}

	WriteJSON(w, http.StatusOK, AlertListResponse{
		Alerts:        alerts,
		Total:         len(alerts),
		CorrelationID: correlationID,
	})
}

// GetActiveAlert handles GET /api/v1/alerts/vessel/{vesselId}/active
func (h *AlertHandler) GetActiveAlert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := GetCorrelationID(ctx)
	vesselID := chi.URLParam(r, "vesselId")

	alert, err := h.store.ActiveAlert(ctx, vesselID)
	if errors.Is(err, store.ErrNotFound) {
		WriteError(w, http.StatusNotFound, "No active alert for vessel", correlationID)
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("correlation_id", correlationID).Str("vessel_id", vesselID).Msg("Failed to get active alert")
		WriteError(w, http.StatusInternalServerError, "Failed to get active alert", correlationID)
		return
	}

	WriteJSON(w, http.StatusOK, alert)
}
