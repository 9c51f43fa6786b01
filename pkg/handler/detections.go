package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/poseidon-mda/poseidon/pkg/geo"
	"github.com/poseidon-mda/poseidon/pkg/messages"
	"github.com/poseidon-mda/poseidon/pkg/store"
)

// DetectionHandler handles sensor detection queries: SAR contacts, VIIRS
// nighttime-light anomalies, and acoustic events.
type DetectionHandler struct {
	store  store.DetectionStore
	logger zerolog.Logger
}

// NewDetectionHandler creates a new DetectionHandler
func NewDetectionHandler(s store.DetectionStore, logger zerolog.Logger) *DetectionHandler {
	return &DetectionHandler{
		store:  s,
		logger: logger.With().Str("handler", "detections").Logger(),
	}
}

// Routes returns the detection routes
func (h *DetectionHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/sar", h.ListSarDetections)
	r.Get("/nightlights", h.ListNightLights)
	r.Get("/acoustic", h.ListAcousticEvents)

	return r
}

// SarDetectionView is a SAR detection flattened for API responses, with the
// match outcome expanded into optional fields.
type SarDetectionView struct {
	DetectionID string             `json:"detection_id"`
	SceneID     string             `json:"scene_id"`
	Position    geo.Point          `json:"position"`
	RCS         float64            `json:"rcs_db"`
	Confidence  float64            `json:"confidence"`
	ObservedAt  time.Time          `json:"observed_at"`
	Matched     bool               `json:"matched"`
	Match       *messages.Matched  `json:"match,omitempty"`
}

// SarListResponse represents the response for listing SAR detections
type SarListResponse struct {
	Detections    []SarDetectionView `json:"detections"`
	Total         int                `json:"total"`
	CorrelationID string             `json:"correlation_id"`
}

// ListSarDetections handles GET /api/v1/detections/sar
func (h *DetectionHandler) ListSarDetections(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := GetCorrelationID(ctx)

	filter := store.DetectionFilter{
		SceneID:       r.URL.Query().Get("scene_id"),
		UnmatchedOnly: r.URL.Query().Get("unmatched") == "true",
		Since:         queryTime(r, "since"),
		Limit:         queryInt(r, "limit", 200),
	}

	dets, err := h.store.ListSarDetections(ctx, filter)
	if err != nil {
		h.logger.Error().Err(err).Str("correlation_id", correlationID).Msg("Failed to list SAR detections")
		WriteError(w, http.StatusInternalServerError, "Failed to list SAR detections", correlationID)
		return
	}

	views := make([]SarDetectionView, 0, len(dets))
	for _, d := range dets {
		v := SarDetectionView{
			DetectionID: d.DetectionID,
			SceneID:     d.SceneID,
			Position:    d.Position,
			RCS:         d.RCS,
			Confidence:  d.Confidence,
			ObservedAt:  d.ObservedAt,
		}
		if m, ok := d.Match.(messages.Matched); ok {
			v.Matched = true
			v.Match = &m
		}
		views = append(views, v)
	}

	WriteJSON(w, http.StatusOK, SarListResponse{
		Detections:    views,
		Total:         len(views),
		CorrelationID: correlationID,
	})
}

// NightLightListResponse represents the response for listing VIIRS anomalies
type NightLightListResponse struct {
	Anomalies     []messages.NightLightAnomaly `json:"anomalies"`
	Total         int                          `json:"total"`
	CorrelationID string                       `json:"correlation_id"`
}

// ListNightLights handles GET /api/v1/detections/nightlights. Requires lat
// and lon; radius_nm defaults to 50.
func (h *DetectionHandler) ListNightLights(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := GetCorrelationID(ctx)

	center := geo.Point{
		Lat: queryFloat(r, "lat", 0),
		Lon: queryFloat(r, "lon", 0),
	}
	if r.URL.Query().Get("lat") == "" || r.URL.Query().Get("lon") == "" {
		WriteError(w, http.StatusBadRequest, "lat and lon are required", correlationID)
		return
	}

	radiusNM := queryFloat(r, "radius_nm", 50)
	since := time.Now().Add(-7 * 24 * time.Hour)
	if t := queryTime(r, "since"); t != nil {
		since = *t
	}

	anomalies, err := h.store.NightLightsNear(ctx, center, radiusNM, since)
	if err != nil {
		h.logger.Error().Err(err).Str("correlation_id", correlationID).Msg("Failed to list night light anomalies")
		WriteError(w, http.StatusInternalServerError, "Failed to list night light anomalies", correlationID)
		return
	}

	WriteJSON(w, http.StatusOK, NightLightListResponse{
		Anomalies:     anomalies,
		Total:         len(anomalies),
		CorrelationID: correlationID,
	})
}

// AcousticView is an acoustic event flattened for API responses
type AcousticView struct {
	EventID   string            `json:"event_id"`
	Position  geo.Point         `json:"position"`
	Bearing   float64           `json:"bearing"`
	Magnitude float64           `json:"magnitude"`
	EventTime time.Time         `json:"event_time"`
	Matched   bool              `json:"matched"`
	Match     *messages.Matched `json:"match,omitempty"`
}

// AcousticListResponse represents the response for listing acoustic events
type AcousticListResponse struct {
	Events        []AcousticView `json:"events"`
	Total         int            `json:"total"`
	CorrelationID string         `json:"correlation_id"`
}

// ListAcousticEvents handles GET /api/v1/detections/acoustic
func (h *DetectionHandler) ListAcousticEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := GetCorrelationID(ctx)

	since := time.Now().Add(-7 * 24 * time.Hour)
	if t := queryTime(r, "since"); t != nil {
		since = *t
	}

	events, err := h.store.ListAcousticEvents(ctx, r.URL.Query().Get("vessel_id"), since)
	if err != nil {
		h.logger.Error().Err(err).Str("correlation_id", correlationID).Msg("Failed to list acoustic events")
		WriteError(w, http.StatusInternalServerError, "Failed to list acoustic events", correlationID)
		return
	}

	views := make([]AcousticView, 0, len(events))
	for _, e := range events {
		v := AcousticView{
			EventID:   e.EventID,
			Position:  e.Position,
			Bearing:   e.Bearing,
			Magnitude: e.Magnitude,
			EventTime: e.EventTime,
		}
		if m, ok := e.Match.(messages.Matched); ok {
			v.Matched = true
			v.Match = &m
		}
		views = append(views, v)
	}

	WriteJSON(w, http.StatusOK, AcousticListResponse{
		Events:        views,
		Total:         len(views),
		CorrelationID: correlationID,
	})
}
