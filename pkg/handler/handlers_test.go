package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poseidon-mda/poseidon/pkg/engine"
	"github.com/poseidon-mda/poseidon/pkg/geo"
	"github.com/poseidon-mda/poseidon/pkg/messages"
	"github.com/poseidon-mda/poseidon/pkg/store"
)

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, messages.Message) error { return nil }

func newFixture(t *testing.T) (*store.Memory, *engine.Engine) {
	t.Helper()
	mem := store.NewMemory(1000)
	eng := engine.New(mem, nopPublisher{}, nil, zerolog.Nop(), engine.DefaultConfig())
	return mem, eng
}

func addPosition(t *testing.T, mem *store.Memory, vesselID string, lat, lon, sog, cog float64, at time.Time) {
	t.Helper()
	_, err := mem.UpsertPosition(context.Background(), messages.PositionSample{
		VesselID:  vesselID,
		Position:  geo.Point{Lat: lat, Lon: lon},
		SOG:       sog,
		COG:       cog,
		NavStatus: "under_way",
		Timestamp: at,
	})
	require.NoError(t, err)
}

func doRequest(t *testing.T, router http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestListVessels(t *testing.T) {
	mem, eng := newFixture(t)
	now := time.Now().UTC()
	addPosition(t, mem, "235001001", 22.0, 114.0, 10, 90, now)
	addPosition(t, mem, "235001002", 23.0, 115.0, 8, 180, now)

	h := NewVesselHandler(mem, eng, zerolog.Nop())
	rec := doRequest(t, h.Routes(), http.MethodGet, "/")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp VesselListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Total)
	assert.NotEmpty(t, resp.CorrelationID)
}

func TestGetVesselNotFound(t *testing.T) {
	mem, eng := newFixture(t)
	h := NewVesselHandler(mem, eng, zerolog.Nop())

	rec := doRequest(t, h.Routes(), http.MethodGet, "/999000000")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetVesselIncludesIdentityAndRisk(t *testing.T) {
	mem, eng := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	addPosition(t, mem, "235001001", 22.0, 114.0, 10, 90, now)
	require.NoError(t, mem.UpsertVessel(ctx, messages.Vessel{
		VesselID: "235001001",
		Name:     "EVER TRUE",
		ShipType: "cargo",
	}))
	_, err := eng.Risk.Score(ctx, "235001001")
	require.NoError(t, err)

	h := NewVesselHandler(mem, eng, zerolog.Nop())
	rec := doRequest(t, h.Routes(), http.MethodGet, "/235001001")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp VesselDetailResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Vessel)
	assert.Equal(t, "EVER TRUE", resp.Vessel.Name)
	require.NotNil(t, resp.Latest)
	require.NotNil(t, resp.Risk)
	assert.Equal(t, resp.Risk.Overall, resp.Risk.IdentityScore+resp.Risk.FlagRiskScore+resp.Risk.AnomalyScore+resp.Risk.DarkHistoryScore)
}

func TestVesselHistorySince(t *testing.T) {
	mem, eng := newFixture(t)
	now := time.Now().UTC()
	addPosition(t, mem, "235001001", 22.0, 114.0, 10, 90, now.Add(-48*time.Hour))
	addPosition(t, mem, "235001001", 22.1, 114.1, 10, 90, now.Add(-2*time.Hour))
	addPosition(t, mem, "235001001", 22.2, 114.2, 10, 90, now.Add(-1*time.Hour))

	h := NewVesselHandler(mem, eng, zerolog.Nop())
	rec := doRequest(t, h.Routes(), http.MethodGet, "/235001001/history")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp HistoryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Total, "default window is 24h")
}

func TestComputeFusionAndHistory(t *testing.T) {
	mem, eng := newFixture(t)
	now := time.Now().UTC()
	addPosition(t, mem, "235001001", 22.0, 114.0, 10, 90, now)

	h := NewVesselHandler(mem, eng, zerolog.Nop())

	rec := doRequest(t, h.Routes(), http.MethodPost, "/235001001/fusion")
	require.Equal(t, http.StatusOK, rec.Code)
	var result messages.FusionResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.InDelta(t, 0.85, result.AISConfidence, 1e-9)

	rec = doRequest(t, h.Routes(), http.MethodGet, "/235001001/fusion")
	require.Equal(t, http.StatusOK, rec.Code)
	var list FusionListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list.Results, 1)
}

func TestRiskNotScoredYet(t *testing.T) {
	mem, eng := newFixture(t)
	h := NewVesselHandler(mem, eng, zerolog.Nop())

	rec := doRequest(t, h.Routes(), http.MethodGet, "/235001001/risk")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPredictRoute(t *testing.T) {
	mem, eng := newFixture(t)
	now := time.Now().UTC()
	addPosition(t, mem, "235001001", 22.0, 114.0, 12, 90, now)

	h := NewVesselHandler(mem, eng, zerolog.Nop())

	rec := doRequest(t, h.Routes(), http.MethodPost, "/235001001/route?hours=3")
	require.Equal(t, http.StatusOK, rec.Code)
	var pred messages.RoutePrediction
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pred))
	assert.Len(t, pred.Waypoints, 4)

	rec = doRequest(t, h.Routes(), http.MethodPost, "/999000000/route")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestListAlertsFilters(t *testing.T) {
	mem, _ := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, mem.CreateAlert(ctx, &messages.DarkAlert{
		Envelope:   messages.NewEnvelope("engine", "engine"),
		AlertID:    "a1",
		VesselID:   "235001001",
		Status:     messages.AlertActive,
		LastKnown:  geo.Point{Lat: 22, Lon: 114},
		LastSeenAt: now.Add(-3 * time.Hour),
		DetectedAt: now,
	}))
	resolved := now.Add(-time.Hour)
	require.NoError(t, mem.CreateAlert(ctx, &messages.DarkAlert{
		Envelope:   messages.NewEnvelope("engine", "engine"),
		AlertID:    "a2",
		VesselID:   "235001002",
		Status:     messages.AlertResolved,
		LastKnown:  geo.Point{Lat: 23, Lon: 115},
		LastSeenAt: now.Add(-6 * time.Hour),
		DetectedAt: now.Add(-2 * time.Hour),
		ResolvedAt: &resolved,
	}))

	h := NewAlertHandler(mem, zerolog.Nop())

	rec := doRequest(t, h.Routes(), http.MethodGet, "/?status=active")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp AlertListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Total)
	assert.Equal(t, "a1", resp.Alerts[0].AlertID)

	rec = doRequest(t, h.Routes(), http.MethodGet, "/vessel/235001001/active")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, h.Routes(), http.MethodGet, "/vessel/235001002/active")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestClusterRoutes(t *testing.T) {
	mem, eng := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i, id := range []string{"s1", "s2"} {
		require.NoError(t, mem.InsertSignal(ctx, &messages.SpoofSignal{
			SignalID:   id,
			VesselID:   "235001001",
			Type:       messages.AnomalyImpossibleSpeed,
			Position:   geo.Point{Lat: 22 + float64(i)*0.01, Lon: 114},
			DetectedAt: now.Add(-time.Duration(i) * time.Minute),
		}))
	}
	_, err := eng.Clusterer.Run(ctx)
	require.NoError(t, err)

	clusters, err := mem.ListClusters(ctx, store.ClusterFilter{})
	require.NoError(t, err)
	require.Len(t, clusters, 1)
	clusterID := clusters[0].ClusterID

	h := NewClusterHandler(mem, eng.Correlator, zerolog.Nop())

	rec := doRequest(t, h.Routes(), http.MethodGet, "/")
	require.Equal(t, http.StatusOK, rec.Code)
	var list ClusterListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Total)

	rec = doRequest(t, h.Routes(), http.MethodGet, "/"+clusterID)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, h.Routes(), http.MethodGet, "/"+clusterID+"/signals")
	require.Equal(t, http.StatusOK, rec.Code)
	var signals SignalListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &signals))
	assert.Equal(t, 2, signals.Total)

	rec = doRequest(t, h.Routes(), http.MethodGet, "/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListCorrelationsEmpty(t *testing.T) {
	mem, eng := newFixture(t)
	h := NewClusterHandler(mem, eng.Correlator, zerolog.Nop())

	rec := doRequest(t, h.Routes(), http.MethodGet, "/correlations")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp CorrelationListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 0, resp.Total)
}

func TestListSignalsByType(t *testing.T) {
	mem, _ := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, mem.InsertSignal(ctx, &messages.SpoofSignal{
		SignalID: "s1", VesselID: "235001001",
		Type:       messages.AnomalyImpossibleSpeed,
		Position:   geo.Point{Lat: 22, Lon: 114},
		DetectedAt: now,
	}))
	require.NoError(t, mem.InsertSignal(ctx, &messages.SpoofSignal{
		SignalID: "s2", VesselID: "235001001",
		Type:       messages.AnomalyNoIdentity,
		Position:   geo.Point{Lat: 22, Lon: 114},
		DetectedAt: now,
	}))

	h := NewSignalHandler(mem, zerolog.Nop())
	rec := doRequest(t, h.Routes(), http.MethodGet, "/?type=no_identity")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp SignalListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Total)
	assert.Equal(t, "s2", resp.Signals[0].SignalID)
}

func TestListSarDetections(t *testing.T) {
	mem, _ := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, mem.InsertSarDetection(ctx, &messages.SarDetection{
		DetectionID: "d1", SceneID: "scene-1",
		Position: geo.Point{Lat: 22, Lon: 114}, RCS: 14.2, Confidence: 0.9,
		ObservedAt: now,
	}))
	require.NoError(t, mem.InsertSarDetection(ctx, &messages.SarDetection{
		DetectionID: "d2", SceneID: "scene-1",
		Position: geo.Point{Lat: 23, Lon: 115}, RCS: 9.7, Confidence: 0.8,
		ObservedAt: now,
		Match:      messages.Matched{VesselID: "235001001", Confidence: 0.9},
	}))

	h := NewDetectionHandler(mem, zerolog.Nop())

	rec := doRequest(t, h.Routes(), http.MethodGet, "/sar?scene_id=scene-1")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp SarListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 2, resp.Total)

	rec = doRequest(t, h.Routes(), http.MethodGet, "/sar?unmatched=true")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Total)
	assert.Equal(t, "d1", resp.Detections[0].DetectionID)
	assert.False(t, resp.Detections[0].Matched)
}

func TestListNightLightsRequiresCenter(t *testing.T) {
	mem, _ := newFixture(t)
	h := NewDetectionHandler(mem, zerolog.Nop())

	rec := doRequest(t, h.Routes(), http.MethodGet, "/nightlights")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, h.Routes(), http.MethodGet, "/nightlights?lat=22&lon=114")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestListAcousticEvents(t *testing.T) {
	mem, _ := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, mem.InsertAcousticEvent(ctx, &messages.AcousticEvent{
		EventID: "e1", Position: geo.Point{Lat: 22, Lon: 114},
		Magnitude: 0.7, EventTime: now,
		Match: messages.Matched{VesselID: "235001001", Confidence: 0.8},
	}))

	h := NewDetectionHandler(mem, zerolog.Nop())
	rec := doRequest(t, h.Routes(), http.MethodGet, "/acoustic?vessel_id=235001001")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp AcousticListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Total)
	assert.True(t, resp.Events[0].Matched)
}

func TestStats(t *testing.T) {
	mem, _ := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	addPosition(t, mem, "235001001", 22.0, 114.0, 10, 90, now)
	require.NoError(t, mem.CreateAlert(ctx, &messages.DarkAlert{
		Envelope:   messages.NewEnvelope("engine", "engine"),
		AlertID:    "a1",
		VesselID:   "235001001",
		Status:     messages.AlertActive,
		LastKnown:  geo.Point{Lat: 22, Lon: 114},
		LastSeenAt: now.Add(-3 * time.Hour),
		DetectedAt: now,
	}))
	require.NoError(t, mem.InsertSignal(ctx, &messages.SpoofSignal{
		SignalID: "s1", VesselID: "235001001",
		Type:       messages.AnomalyImpossibleSpeed,
		Position:   geo.Point{Lat: 22, Lon: 114},
		DetectedAt: now,
	}))

	h := NewStatsHandler(mem, zerolog.Nop())
	rec := doRequest(t, h.Routes(), http.MethodGet, "/")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp StatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.TrackedVessels)
	assert.Equal(t, 1, resp.ActiveAlerts)
	assert.Equal(t, 1, resp.Signals24h)
}
