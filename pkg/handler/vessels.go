// Package handler provides HTTP handlers for the poseidon API gateway
package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/poseidon-mda/poseidon/pkg/engine"
	"github.com/poseidon-mda/poseidon/pkg/messages"
	"github.com/poseidon-mda/poseidon/pkg/store"
)

// VesselHandler handles vessel, track, and per-vessel scoring requests
type VesselHandler struct {
	store  store.Store
	engine *engine.Engine
	logger zerolog.Logger
}

// NewVesselHandler creates a new VesselHandler
func NewVesselHandler(s store.Store, eng *engine.Engine, logger zerolog.Logger) *VesselHandler {
	return &VesselHandler{
		store:  s,
		engine: eng,
		logger: logger.With().Str("handler", "vessels").Logger(),
	}
}

// Routes returns the vessel routes
func (h *VesselHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.ListVessels)
	r.Get("/{vesselId}", h.GetVessel)
	r.Get("/{vesselId}/history", h.GetHistory)
	r.Get("/{vesselId}/fusion", h.ListFusion)
	r.Post("/{vesselId}/fusion", h.ComputeFusion)
	r.Get("/{vesselId}/risk", h.GetRisk)
	r.Post("/{vesselId}/risk", h.ComputeRisk)
	r.Get("/{vesselId}/route", h.ListRoutes)
	r.Post("/{vesselId}/route", h.PredictRoute)

	return r
}

// VesselListResponse represents the response for listing tracked vessels
type VesselListResponse struct {
	Vessels       []messages.PositionSample `json:"vessels"`
	Total         int                       `json:"total"`
	CorrelationID string                    `json:"correlation_id"`
}

// ListVessels handles GET /api/v1/vessels
func (h *VesselHandler) ListVessels(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := GetCorrelationID(ctx)

	limit := queryInt(r, "limit", 500)

	latest, err := h.store.LatestAll(ctx, limit)
	if err != nil {
		h.logger.Error().Err(err).Str("correlation_id", correlationID).Msg("Failed to list vessels")
		WriteError(w, http.StatusInternalServerError, "Failed to list vessels", correlationID)
		return
	}

	WriteJSON(w, http.StatusOK, VesselListResponse{
		Vessels:       latest,
		Total:         len(latest),
		CorrelationID: correlationID,
	})
}

// VesselDetailResponse represents a vessel with its latest position
type VesselDetailResponse struct {
	Vessel        *messages.Vessel         `json:"vessel,omitempty"`
	Latest        *messages.PositionSample `json:"latest,omitempty"`
	Risk          *messages.RiskScore      `json:"risk,omitempty"`
	CorrelationID string                   `json:"correlation_id"`
}

// GetVessel handles GET /api/v1/vessels/{vesselId}
func (h *VesselHandler) GetVessel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := GetCorrelationID(ctx)
	vesselID := chi.URLParam(r, "vesselId")

	latest, err := h.store.Latest(ctx, vesselID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		h.logger.Error().Err(err).Str("correlation_id", correlationID).Str("vessel_id", vesselID).Msg("Failed to get position")
		WriteError(w, http.StatusInternalServerError, "Failed to get vessel", correlationID)
		return
	}

	vessel, err := h.store.GetVessel(ctx, vesselID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		h.logger.Error().Err(err).Str("correlation_id", correlationID).Str("vessel_id", vesselID).Msg("Failed to get vessel")
		WriteError(w, http.StatusInternalServerError, "Failed to get vessel", correlationID)
		return
	}

	if latest == nil && vessel == nil {
		WriteError(w, http.StatusNotFound, "Vessel not found", correlationID)
		return
	}

	risk, err := h.store.LatestRiskScore(ctx, vesselID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		h.logger.Error().Err(err).Str("correlation_id", correlationID).Str("vessel_id", vesselID).Msg("Failed to get risk score")
		WriteError(w, http.StatusInternalServerError, "Failed to get vessel", correlationID)
		return
	}

	WriteJSON(w, http.StatusOK, VesselDetailResponse{
		Vessel:        vessel,
		Latest:        latest,
		Risk:          risk,
		CorrelationID: correlationID,
	})
}

// HistoryResponse represents a vessel's position history
type HistoryResponse struct {
	VesselID      string                    `json:"vessel_id"`
	Positions     []messages.PositionSample `json:"positions"`
	Total         int                       `json:"total"`
	CorrelationID string                    `json:"correlation_id"`
}

// GetHistory handles GET /api/v1/vessels/{vesselId}/history
func (h *VesselHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := GetCorrelationID(ctx)
	vesselID := chi.URLParam(r, "vesselId")

	since := time.Now().Add(-24 * time.Hour)
	if t := queryTime(r, "since"); t != nil {
		since = *t
	}

	history, err := h.store.History(ctx, vesselID, since)
	if err != nil {
		h.logger.Error().Err(err).Str("correlation_id", correlationID).Str("vessel_id", vesselID).Msg("Failed to get history")
		WriteError(w, http.StatusInternalServerError, "Failed to get history", correlationID)
		return
	}

	WriteJSON(w, http.StatusOK, HistoryResponse{
		VesselID:      vesselID,
		Positions:     history,
		Total:         len(history),
		CorrelationID: correlationID,
	})
}

// FusionListResponse represents fusion score history for a vessel
type FusionListResponse struct {
	VesselID      string                  `json:"vessel_id"`
	Results       []messages.FusionResult `json:"results"`
	CorrelationID string                  `json:"correlation_id"`
}

// ListFusion handles GET /api/v1/vessels/{vesselId}/fusion
func (h *VesselHandler) ListFusion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := GetCorrelationID(ctx)
	vesselID := chi.URLParam(r, "vesselId")

	results, err := h.store.ListFusionResults(ctx, vesselID, queryInt(r, "limit", 50))
	if err != nil {
		h.logger.Error().Err(err).Str("correlation_id", correlationID).Str("vessel_id", vesselID).Msg("Failed to list fusion results")
		WriteError(w, http.StatusInternalServerError, "Failed to list fusion results", correlationID)
		return
	}

	WriteJSON(w, http.StatusOK, FusionListResponse{
		VesselID:      vesselID,
		Results:       results,
		CorrelationID: correlationID,
	})
}

// ComputeFusion handles POST /api/v1/vessels/{vesselId}/fusion
func (h *VesselHandler) ComputeFusion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := GetCorrelationID(ctx)
	vesselID := chi.URLParam(r, "vesselId")

	result, err := h.engine.Fusion.Fuse(ctx, vesselID)
	if err != nil {
		h.logger.Error().Err(err).Str("correlation_id", correlationID).Str("vessel_id", vesselID).Msg("Failed to fuse signals")
		WriteError(w, http.StatusInternalServerError, "Failed to fuse signals", correlationID)
		return
	}

	WriteJSON(w, http.StatusOK, result)
}

// GetRisk handles GET /api/v1/vessels/{vesselId}/risk
func (h *VesselHandler) GetRisk(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := GetCorrelationID(ctx)
	vesselID := chi.URLParam(r, "vesselId")

	score, err := h.store.LatestRiskScore(ctx, vesselID)
	if errors.Is(err, store.ErrNotFound) {
		WriteError(w, http.StatusNotFound, "No risk score for vessel", correlationID)
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("correlation_id", correlationID).Str("vessel_id", vesselID).Msg("Failed to get risk score")
		WriteError(w, http.StatusInternalServerError, "Failed to get risk score", correlationID)
		return
	}

	WriteJSON(w, http.StatusOK, score)
}

// ComputeRisk handles POST /api/v1/vessels/{vesselId}/risk
func (h *VesselHandler) ComputeRisk(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := GetCorrelationID(ctx)
	vesselID := chi.URLParam(r, "vesselId")

	score, err := h.engine.Risk.Score(ctx, vesselID)
	if err != nil {
		h.logger.Error().Err(err).Str("correlation_id", correlationID).Str("vessel_id", vesselID).Msg("Failed to score vessel")
		WriteError(w, http.StatusInternalServerError, "Failed to score vessel", correlationID)
		return
	}

	WriteJSON(w, http.StatusOK, score)
}

// RouteListResponse represents route prediction history for a vessel
type RouteListResponse struct {
	VesselID      string                     `json:"vessel_id"`
	Predictions   []messages.RoutePrediction `json:"predictions"`
	CorrelationID string                     `json:"correlation_id"`
}

// ListRoutes handles GET /api/v1/vessels/{vesselId}/route
func (h *VesselHandler) ListRoutes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := GetCorrelationID(ctx)
	vesselID := chi.URLParam(r, "vesselId")

	preds, err := h.store.ListRoutePredictions(ctx, vesselID, queryInt(r, "limit", 10))
	if err != nil {
		h.logger.Error().Err(err).Str("correlation_id", correlationID).Str("vessel_id", vesselID).Msg("Failed to list route predictions")
		WriteError(w, http.StatusInternalServerError, "Failed to list route predictions", correlationID)
		return
	}

	WriteJSON(w, http.StatusOK, RouteListResponse{
		VesselID:      vesselID,
		Predictions:   preds,
		CorrelationID: correlationID,
	})
}

// PredictRoute handles POST /api/v1/vessels/{vesselId}/route
func (h *VesselHandler) PredictRoute(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := GetCorrelationID(ctx)
	vesselID := chi.URLParam(r, "vesselId")

	hours := queryFloat(r, "hours", engine.DefaultRouteHorizon)
	if hours <= 0 {
		WriteError(w, http.StatusBadRequest, "hours must be positive", correlationID)
		return
	}

	pred, err := h.engine.Routes.Predict(ctx, vesselID, hours)
	if errors.Is(err, engine.ErrInsufficientHistory) {
		WriteError(w, http.StatusUnprocessableEntity, "No position history for vessel", correlationID)
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("correlation_id", correlationID).Str("vessel_id", vesselID).Msg("Failed to predict route")
		WriteError(w, http.StatusInternalServerError, "Failed to predict route", correlationID)
		return
	}

	WriteJSON(w, http.StatusOK, pred)
}
