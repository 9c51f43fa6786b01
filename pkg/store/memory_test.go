package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poseidon-mda/poseidon/pkg/geo"
	"github.com/poseidon-mda/poseidon/pkg/messages"
)

func TestUpsertPositionOrdersHistory(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(0)
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	for _, offset := range []time.Duration{0, 20 * time.Minute, 10 * time.Minute} {
		_, err := m.UpsertPosition(ctx, messages.PositionSample{
			VesselID:  "367001234",
			Position:  geo.Point{Lon: -70.1, Lat: 40.2},
			SOG:       11.5,
			Timestamp: base.Add(offset),
		})
		require.NoError(t, err)
	}

	history, err := m.History(ctx, "367001234", base)
	require.NoError(t, err)
	require.Len(t, history, 3)
	for i := 1; i < len(history); i++ {
		assert.True(t, history[i].Timestamp.After(history[i-1].Timestamp),
			"history must be ordered by timestamp")
	}

	latest, err := m.Latest(ctx, "367001234")
	require.NoError(t, err)
	assert.Equal(t, base.Add(20*time.Minute), latest.Timestamp)
}

func TestUpsertPositionRejectsInvalidCoordinates(t *testing.T) {
	m := NewMemory(0)
	_, err := m.UpsertPosition(context.Background(), messages.PositionSample{
		VesselID:  "367001234",
		Position:  geo.Point{Lon: -200, Lat: 40},
		Timestamp: time.Now(),
	})
	assert.Error(t, err)
}

func TestUpsertPositionTrimsHistory(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(3)
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		_, err := m.UpsertPosition(ctx, messages.PositionSample{
			VesselID:  "367001234",
			Position:  geo.Point{Lon: float64(i), Lat: 40},
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	history, err := m.History(ctx, "367001234", base)
	require.NoError(t, err)
	assert.Len(t, history, 3)
	assert.Equal(t, base.Add(2*time.Minute), history[0].Timestamp)
}

func TestLatestUnknownVessel(t *testing.T) {
	m := NewMemory(0)
	_, err := m.Latest(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAlertSingleActivePerVessel(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(0)
	now := time.Now().UTC()

	first := &messages.DarkAlert{
		AlertID:    "a-1",
		VesselID:   "367001234",
		Status:     messages.AlertActive,
		DetectedAt: now,
	}
	require.NoError(t, m.CreateAlert(ctx, first))
	assert.Equal(t, int64(1), first.Version)

	dup := &messages.DarkAlert{
		AlertID:    "a-2",
		VesselID:   "367001234",
		Status:     messages.AlertActive,
		DetectedAt: now,
	}
	assert.ErrorIs(t, m.CreateAlert(ctx, dup), ErrDuplicateActive)

	// A different vessel is unaffected.
	other := &messages.DarkAlert{
		AlertID:    "a-3",
		VesselID:   "563009999",
		Status:     messages.AlertActive,
		DetectedAt: now,
	}
	require.NoError(t, m.CreateAlert(ctx, other))
}

func TestAlertCASUpdate(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(0)

	alert := &messages.DarkAlert{
		AlertID:    "a-1",
		VesselID:   "367001234",
		Status:     messages.AlertActive,
		DetectedAt: time.Now().UTC(),
	}
	require.NoError(t, m.CreateAlert(ctx, alert))

	// Stale copy, same version.
	stale := *alert

	alert.Status = messages.AlertResolved
	require.NoError(t, m.UpdateAlert(ctx, alert))
	assert.Equal(t, int64(2), alert.Version)

	stale.Status = messages.AlertTimedOut
	assert.ErrorIs(t, m.UpdateAlert(ctx, &stale), ErrVersionConflict)

	stored, err := m.ListAlerts(ctx, AlertFilter{VesselID: "367001234"})
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, messages.AlertResolved, stored[0].Status)
}

func TestActiveAlertAfterResolution(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(0)

	alert := &messages.DarkAlert{
		AlertID:    "a-1",
		VesselID:   "367001234",
		Status:     messages.AlertActive,
		DetectedAt: time.Now().UTC(),
	}
	require.NoError(t, m.CreateAlert(ctx, alert))

	got, err := m.ActiveAlert(ctx, "367001234")
	require.NoError(t, err)
	assert.Equal(t, "a-1", got.AlertID)

	alert.Status = messages.AlertResolved
	require.NoError(t, m.UpdateAlert(ctx, alert))

	_, err = m.ActiveAlert(ctx, "367001234")
	assert.ErrorIs(t, err, ErrNotFound)

	// The vessel may now go dark again under a fresh alert.
	require.NoError(t, m.CreateAlert(ctx, &messages.DarkAlert{
		AlertID:    "a-2",
		VesselID:   "367001234",
		Status:     messages.AlertActive,
		DetectedAt: time.Now().UTC(),
	}))
}

func TestSignalFilterUnclustered(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(0)
	now := time.Now().UTC()

	for i, id := range []string{"s-1", "s-2", "s-3"} {
		require.NoError(t, m.InsertSignal(ctx, &messages.SpoofSignal{
			SignalID:   id,
			VesselID:   "367001234",
			Type:       messages.AnomalyImpossibleSpeed,
			Position:   geo.Point{Lon: 120.0, Lat: 22.0},
			DetectedAt: now.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, m.AssignCluster(ctx, []string{"s-1", "s-2"}, "c-1"))

	loose, err := m.ListSignals(ctx, SignalFilter{Unclustered: true})
	require.NoError(t, err)
	require.Len(t, loose, 1)
	assert.Equal(t, "s-3", loose[0].SignalID)
}

func TestClusterCASUpdate(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(0)

	c := &messages.SpoofCluster{
		ClusterID:   "c-1",
		SignalCount: 2,
		Status:      messages.AlertActive,
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, m.CreateCluster(ctx, c))

	stale := *c
	c.SignalCount = 3
	require.NoError(t, m.UpdateCluster(ctx, c))
	assert.ErrorIs(t, m.UpdateCluster(ctx, &stale), ErrVersionConflict)
}

func TestSarMatchLifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(0)
	now := time.Now().UTC()

	d := &messages.SarDetection{
		DetectionID: "d-1",
		SceneID:     "scene-7",
		Position:    geo.Point{Lon: 3.2, Lat: 51.4},
		ObservedAt:  now,
	}
	require.NoError(t, m.InsertSarDetection(ctx, d))

	ghosts, err := m.ListSarDetections(ctx, DetectionFilter{UnmatchedOnly: true})
	require.NoError(t, err)
	require.Len(t, ghosts, 1)

	require.NoError(t, m.SetSarMatch(ctx, "d-1", messages.Matched{
		VesselID:   "367001234",
		DistanceNM: 1.2,
		Confidence: 0.8,
	}))

	ghosts, err = m.ListSarDetections(ctx, DetectionFilter{UnmatchedOnly: true})
	require.NoError(t, err)
	assert.Empty(t, ghosts)

	all, err := m.ListSarDetections(ctx, DetectionFilter{SceneID: "scene-7"})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, all[0].IsMatched())
}

func TestNightLightsNearRadius(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(0)
	now := time.Now().UTC()

	center := geo.Point{Lon: 105.0, Lat: 10.0}
	require.NoError(t, m.InsertNightLight(ctx, &messages.NightLightAnomaly{
		AnomalyID:  "n-near",
		Position:   geo.Point{Lon: 105.1, Lat: 10.1},
		ObservedAt: now,
	}))
	require.NoError(t, m.InsertNightLight(ctx, &messages.NightLightAnomaly{
		AnomalyID:  "n-far",
		Position:   geo.Point{Lon: 110.0, Lat: 15.0},
		ObservedAt: now,
	}))
	require.NoError(t, m.InsertNightLight(ctx, &messages.NightLightAnomaly{
		AnomalyID:  "n-old",
		Position:   geo.Point{Lon: 105.1, Lat: 10.1},
		ObservedAt: now.Add(-10 * 24 * time.Hour),
	}))

	got, err := m.NightLightsNear(ctx, center, 30, now.Add(-7*24*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "n-near", got[0].AnomalyID)
}

func TestAcousticEventsByVessel(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(0)
	now := time.Now().UTC()

	require.NoError(t, m.InsertAcousticEvent(ctx, &messages.AcousticEvent{
		EventID:   "e-1",
		Position:  geo.Point{Lon: 12.0, Lat: 56.0},
		EventTime: now,
	}))
	require.NoError(t, m.SetAcousticMatch(ctx, "e-1", messages.Matched{VesselID: "367001234", Confidence: 0.7}))
	require.NoError(t, m.InsertAcousticEvent(ctx, &messages.AcousticEvent{
		EventID:   "e-2",
		Position:  geo.Point{Lon: 12.1, Lat: 56.1},
		EventTime: now,
	}))

	mine, err := m.ListAcousticEvents(ctx, "367001234", now.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "e-1", mine[0].EventID)

	all, err := m.ListAcousticEvents(ctx, "", now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestScoreStoresNewestFirst(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(0)
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		require.NoError(t, m.InsertRiskScore(ctx, &messages.RiskScore{
			ScoreID:  string(rune('a' + i)),
			VesselID: "367001234",
			Overall:  10 * i,
			ScoredAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}

	latest, err := m.LatestRiskScore(ctx, "367001234")
	require.NoError(t, err)
	assert.Equal(t, 20, latest.Overall)

	_, err = m.LatestRiskScore(ctx, "unknown")
	assert.ErrorIs(t, err, ErrNotFound)
}
