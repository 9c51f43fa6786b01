package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/poseidon-mda/poseidon/pkg/messages"
	"github.com/poseidon-mda/poseidon/pkg/store"
)

// SignalHandler handles raw spoof signal queries
type SignalHandler struct {
	store  store.SignalStore
	logger zerolog.Logger
}

// NewSignalHandler creates a new SignalHandler
func NewSignalHandler(s store.SignalStore, logger zerolog.Logger) *SignalHandler {
	return &SignalHandler{
		store:  s,
		logger: logger.With().Str("handler", "signals").Logger(),
	}
}

// Routes returns the signal routes
func (h *SignalHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.ListSignals)

	return r
}

// ListSignals handles GET /api/v1/signals
func (h *SignalHandler) ListSignals(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := GetCorrelationID(ctx)

	filter := store.SignalFilter{
		VesselID:    r.URL.Query().Get("vessel_id"),
		Type:        messages.AnomalyType(r.URL.Query().Get("type")),
		Since:       queryTime(r, "since"),
		Unclustered: r.URL.Query().Get("unclustered") == "true",
		Limit:       queryInt(r, "limit", 200),
	}

	signals, err := h.store.ListSignals(ctx, filter)
	if err != nil {
		h.logger.Error().Err(err).Str("correlation_id", correlationID).Msg("Failed to list signals")
		WriteError(w, http.StatusInternalServerError, "Failed to list signals", correlationID)
		return
	}

	WriteJSON(w, http.StatusOK, SignalListResponse{
		Signals:       signals,
		Total:         len(signals),
		CorrelationID: correlationID,
	})
}
