package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/poseidon-mda/poseidon/pkg/messages"
	"github.com/poseidon-mda/poseidon/pkg/store"
)

// StatsHandler serves the dashboard summary counters
type StatsHandler struct {
	store  store.Store
	logger zerolog.Logger
}

// NewStatsHandler creates a new StatsHandler
func NewStatsHandler(s store.Store, logger zerolog.Logger) *StatsHandler {
	return &StatsHandler{
		store:  s,
		logger: logger.With().Str("handler", "stats").Logger(),
	}
}

// Routes returns the stats routes
func (h *StatsHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.GetStats)

	return r
}

// StatsResponse summarizes the current maritime picture
type StatsResponse struct {
	TrackedVessels  int       `json:"tracked_vessels"`
	ActiveAlerts    int       `json:"active_alerts"`
	ActiveClusters  int       `json:"active_clusters"`
	Signals24h      int       `json:"signals_24h"`
	UnmatchedSar24h int       `json:"unmatched_sar_24h"`
	GeneratedAt     time.Time `json:"generated_at"`
	CorrelationID   string    `json:"correlation_id"`
}

// GetStats handles GET /api/v1/stats
func (h *StatsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := GetCorrelationID(ctx)

	now := time.Now().UTC()
	dayAgo := now.Add(-24 * time.Hour)

	vessels, err := h.store.LatestAll(ctx, 0)
	if err != nil {
		h.logger.Error().Err(err).Str("correlation_id", correlationID).Msg("Failed to count vessels")
		WriteError(w, http.StatusInternalServerError, "Failed to compute stats", correlationID)
		return
	}

	alerts, err := h.store.ListAlerts(ctx, store.AlertFilter{Status: messages.AlertActive})
	if err != nil {
		h.logger.Error().Err(err).Str("correlation_id", correlationID).Msg("Failed to count alerts")
		WriteError(w, http.StatusInternalServerError, "Failed to compute stats", correlationID)
		return
	}

	clusters, err := h.store.ListClusters(ctx, store.ClusterFilter{Status: messages.AlertActive})
	if err != nil {
		h.logger.Error().Err(err).Str("correlation_id", correlationID).Msg("Failed to count clusters")
		WriteError(w, http.StatusInternalServerError, "Failed to compute stats", correlationID)
		return
	}

	signals, err := h.store.ListSignals(ctx, store.SignalFilter{Since: &dayAgo})
	if err != nil {
		h.logger.Error().Err(err).Str("correlation_id", correlationID).Msg("Failed to count signals")
		WriteError(w, http.StatusInternalServerError, "Failed to compute stats", correlationID)
		return
	}

	ghosts, err := h.store.ListSarDetections(ctx, store.DetectionFilter{UnmatchedOnly: true, Since: &dayAgo})
	if err != nil {
		h.logger.Error().Err(err).Str("correlation_id", correlationID).Msg("Failed to count SAR detections")
		WriteError(w, http.StatusInternalServerError, "Failed to compute stats", correlationID)
		return
	}

	WriteJSON(w, http.StatusOK, StatsResponse{
		TrackedVessels:  len(vessels),
		ActiveAlerts:    len(alerts),
		ActiveClusters:  len(clusters),
		Signals24h:      len(signals),
		UnmatchedSar24h: len(ghosts),
		GeneratedAt:     now,
		CorrelationID:   correlationID,
	})
}
