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

// ClusterHandler handles spoof signal and cluster requests
type ClusterHandler struct {
	store      store.Store
	correlator *engine.Correlator
	logger     zerolog.Logger
}

// NewClusterHandler creates a new ClusterHandler
func NewClusterHandler(s store.Store, correlator *engine.Correlator, logger zerolog.Logger) *ClusterHandler {
	return &ClusterHandler{
		store:      s,
		correlator: correlator,
		logger:     logger.With().Str("handler", "clusters").Logger(),
	}
}

// Routes returns the cluster routes
func (h *ClusterHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.ListClusters)
	r.Get("/correlations", h.ListCorrelations)
	r.Get("/{clusterId}", h.GetCluster)
	r.Get("/{clusterId}/signals", h.GetClusterSignals)

	return r
}

// ClusterListResponse represents the response for listing clusters
type ClusterListResponse struct {
	Clusters      []messages.SpoofCluster `json:"clusters"`
	Total         int                     `json:"total"`
	CorrelationID string                  `json:"correlation_id"`
}

// ListClusters handles GET /api/v1/clusters
func (h *ClusterHandler) ListClusters(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := GetCorrelationID(ctx)

	filter := store.ClusterFilter{
		Status: messages.AlertStatus(r.URL.Query().Get("status")),
		Since:  queryTime(r, "since"),
		Limit:  queryInt(r, "limit", 100),
	}

	clusters, err := h.store.ListClusters(ctx, filter)
	if err != nil {
		h.logger.Error().Err(err).Str("correlation_id", correlationID).Msg("Failed to list clusters")
		WriteError(w, http.StatusInternalServerError, "Failed to list clusters", correlationID)
		return
	}

	WriteJSON(w, http.StatusOK, ClusterListResponse{
		Clusters:      clusters,
		Total:         len(clusters),
		CorrelationID: correlationID,
	})
}

// GetCluster handles GET /api/v1/clusters/{clusterId}
func (h *ClusterHandler) GetCluster(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := GetCorrelationID(ctx)
	clusterID := chi.URLParam(r, "clusterId")

	cluster, err := h.store.GetCluster(ctx, clusterID)
	if errors.Is(err, store.ErrNotFound) {
		WriteError(w, http.StatusNotFound, "Cluster not found", correlationID)
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("correlation_id", correlationID).Str("cluster_id", clusterID).Msg("Failed to get cluster")
		WriteError(w, http.StatusInternalServerError, "Failed to get cluster", correlationID)
		return
	}

	WriteJSON(w, http.StatusOK, cluster)
}

// SignalListResponse represents the response for listing spoof signals
type SignalListResponse struct {
	Signals       []messages.SpoofSignal `json:"signals"`
	Total         int                    `json:"total"`
	CorrelationID string                 `json:"correlation_id"`
}

// GetClusterSignals handles GET /api/v1/clusters/{clusterId}/signals
func (h *ClusterHandler) GetClusterSignals(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := GetCorrelationID(ctx)
	clusterID := chi.URLParam(r, "clusterId")

	cluster, err := h.store.GetCluster(ctx, clusterID)
	if errors.Is(err, store.ErrNotFound) {
		WriteError(w, http.StatusNotFound, "Cluster not found", correlationID)
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("correlation_id", correlationID).Str("cluster_id", clusterID).Msg("Failed to get cluster")
		WriteError(w, http.StatusInternalServerError, "Failed to get cluster", correlationID)
		return
	}

	// Signals carry their cluster assignment; scan from the cluster's window
	// start and filter, the store has no per-cluster index.
	windowStart := cluster.WindowStart.Add(-time.Minute)
	all, err := h.store.ListSignals(ctx, store.SignalFilter{Since: &windowStart})
	if err != nil {
		h.logger.Error().Err(err).Str("correlation_id", correlationID).Str("cluster_id", clusterID).Msg("Failed to list signals")
		WriteError(w, http.StatusInternalServerError, "Failed to list signals", correlationID)
		return
	}

	signals := make([]messages.SpoofSignal, 0, cluster.SignalCount)
	for _, s := range all {
		if s.ClusterID == clusterID {
			signals = append(signals, s)
		}
	}

	WriteJSON(w, http.StatusOK, SignalListResponse{
		Signals:       signals,
		Total:         len(signals),
		CorrelationID: correlationID,
	})
}

// CorrelationListResponse represents cluster-to-alert pairings
type CorrelationListResponse struct {
	Pairs         []messages.CorrelationPair `json:"pairs"`
	Total         int                        `json:"total"`
	CorrelationID string                     `json:"correlation_id"`
}

// ListCorrelations handles GET /api/v1/clusters/correlations. Pairings are
// computed on demand from the current active clusters and alerts.
func (h *ClusterHandler) ListCorrelations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := GetCorrelationID(ctx)

	pairs, err := h.correlator.PairClusters(ctx)
	if err != nil {
		h.logger.Error().Err(err).Str("correlation_id", correlationID).Msg("Failed to pair clusters")
		WriteError(w, http.StatusInternalServerError, "Failed to pair clusters", correlationID)
		return
	}

	WriteJSON(w, http.StatusOK, CorrelationListResponse{
		Pairs:         pairs,
		Total:         len(pairs),
		CorrelationID: correlationID,
	})
}
