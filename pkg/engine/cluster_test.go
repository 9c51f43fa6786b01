package engine

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poseidon-mda/poseidon/pkg/geo"
	"github.com/poseidon-mda/poseidon/pkg/messages"
	"github.com/poseidon-mda/poseidon/pkg/store"
)

func newClusterFixture(t *testing.T) (*Clusterer, *store.Memory, time.Time) {
	t.Helper()
	mem := store.NewMemory(0)
	c := NewClusterer(mem, &fakePublisher{}, zerolog.Nop(), DefaultClusterConfig())
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	return c, mem, now
}

func addSignal(t *testing.T, mem *store.Memory, p geo.Point, ts time.Time) string {
	t.Helper()
	sig := &messages.SpoofSignal{
		SignalID:   uuid.New().String(),
		VesselID:   "367001234",
		Type:       messages.AnomalyImpossibleSpeed,
		Position:   p,
		DetectedAt: ts,
	}
	require.NoError(t, mem.InsertSignal(context.Background(), sig))
	return sig.SignalID
}

func TestThreeAdjacentSignalsFormOneCluster(t *testing.T) {
	c, mem, now := newClusterFixture(t)
	ctx := context.Background()

	// Three signals mutually within 2 nm: one cluster of 3.
	addSignal(t, mem, geo.Point{Lon: 120.00, Lat: 22.00}, now.Add(-time.Hour))
	addSignal(t, mem, geo.Point{Lon: 120.02, Lat: 22.00}, now.Add(-50*time.Minute))
	addSignal(t, mem, geo.Point{Lon: 120.00, Lat: 22.02}, now.Add(-40*time.Minute))

	res, err := c.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)

	clusters, err := mem.ListClusters(ctx, store.ClusterFilter{})
	require.NoError(t, err)
	require.Len(t, clusters, 1)
	assert.Equal(t, 3, clusters[0].SignalCount)
	assert.Equal(t, messages.AlertActive, clusters[0].Status)
	assert.False(t, clusters[0].WindowEnd.Before(clusters[0].WindowStart))
}

func TestDistantSignalsStaySeparate(t *testing.T) {
	c, mem, now := newClusterFixture(t)
	ctx := context.Background()

	// Two pairs about 60 nm apart, no chain between them.
	addSignal(t, mem, geo.Point{Lon: 120.00, Lat: 22.00}, now.Add(-time.Hour))
	addSignal(t, mem, geo.Point{Lon: 120.02, Lat: 22.00}, now.Add(-time.Hour))
	addSignal(t, mem, geo.Point{Lon: 121.00, Lat: 22.80}, now.Add(-time.Hour))
	addSignal(t, mem, geo.Point{Lon: 121.02, Lat: 22.80}, now.Add(-time.Hour))

	res, err := c.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Created)
}

func TestChainLinkageMergesTransitively(t *testing.T) {
	c, mem, now := newClusterFixture(t)
	ctx := context.Background()

	// A-B and B-C within epsilon, A-C beyond it: still one cluster.
	addSignal(t, mem, geo.Point{Lon: 120.00, Lat: 22.00}, now.Add(-time.Hour))
	addSignal(t, mem, geo.Point{Lon: 120.07, Lat: 22.00}, now.Add(-time.Hour)) // ~3.9 nm east
	addSignal(t, mem, geo.Point{Lon: 120.14, Lat: 22.00}, now.Add(-time.Hour)) // ~7.8 nm from A

	res, err := c.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)

	clusters, err := mem.ListClusters(ctx, store.ClusterFilter{})
	require.NoError(t, err)
	require.Len(t, clusters, 1)
	assert.Equal(t, 3, clusters[0].SignalCount)
}

func TestSingletonSuppressed(t *testing.T) {
	c, mem, now := newClusterFixture(t)
	ctx := context.Background()

	addSignal(t, mem, geo.Point{Lon: 120, Lat: 22}, now.Add(-time.Hour))

	res, err := c.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Created)

	clusters, err := mem.ListClusters(ctx, store.ClusterFilter{})
	require.NoError(t, err)
	assert.Empty(t, clusters)
}

func TestClusterKeepsIdentityAcrossPasses(t *testing.T) {
	c, mem, now := newClusterFixture(t)
	ctx := context.Background()

	addSignal(t, mem, geo.Point{Lon: 120.00, Lat: 22.00}, now.Add(-2*time.Hour))
	addSignal(t, mem, geo.Point{Lon: 120.02, Lat: 22.00}, now.Add(-2*time.Hour))

	_, err := c.Run(ctx)
	require.NoError(t, err)

	clusters, err := mem.ListClusters(ctx, store.ClusterFilter{})
	require.NoError(t, err)
	require.Len(t, clusters, 1)
	clusterID := clusters[0].ClusterID
	version := clusters[0].Version

	// A third signal joins; the cluster grows in place, version bumps.
	addSignal(t, mem, geo.Point{Lon: 120.01, Lat: 22.01}, now.Add(-time.Minute))
	res, err := c.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Created)
	assert.Equal(t, 1, res.Updated)

	updated, err := mem.GetCluster(ctx, clusterID)
	require.NoError(t, err)
	assert.Equal(t, 3, updated.SignalCount)
	assert.Greater(t, updated.Version, version)

	// All members carry the cluster ID.
	signals, err := mem.ListSignals(ctx, store.SignalFilter{})
	require.NoError(t, err)
	for _, s := range signals {
		assert.Equal(t, clusterID, s.ClusterID)
	}
}

func TestBridgingSignalMergesClusters(t *testing.T) {
	c, mem, now := newClusterFixture(t)
	ctx := context.Background()

	// Two separate clusters about 6.7 nm apart.
	addSignal(t, mem, geo.Point{Lon: 120.00, Lat: 22.00}, now.Add(-3*time.Hour))
	addSignal(t, mem, geo.Point{Lon: 120.02, Lat: 22.00}, now.Add(-3*time.Hour))
	addSignal(t, mem, geo.Point{Lon: 120.14, Lat: 22.00}, now.Add(-2*time.Hour))
	addSignal(t, mem, geo.Point{Lon: 120.16, Lat: 22.00}, now.Add(-2*time.Hour))

	res, err := c.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, res.Created)

	active, err := mem.ListClusters(ctx, store.ClusterFilter{Status: messages.AlertActive})
	require.NoError(t, err)
	require.Len(t, active, 2)

	// A signal between the two chains everything into one component. The
	// earlier cluster absorbs it; the other must not stay active with a
	// stale membership.
	addSignal(t, mem, geo.Point{Lon: 120.08, Lat: 22.00}, now.Add(-time.Minute))
	res, err = c.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Created)
	assert.Equal(t, 1, res.Updated)

	active, err = mem.ListClusters(ctx, store.ClusterFilter{Status: messages.AlertActive})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, 5, active[0].SignalCount)

	resolved, err := mem.ListClusters(ctx, store.ClusterFilter{Status: messages.AlertResolved})
	require.NoError(t, err)
	assert.Len(t, resolved, 1)

	signals, err := mem.ListSignals(ctx, store.SignalFilter{})
	require.NoError(t, err)
	for _, s := range signals {
		assert.Equal(t, active[0].ClusterID, s.ClusterID)
	}
}

func TestCentroidAndRadiusRecomputed(t *testing.T) {
	c, mem, now := newClusterFixture(t)
	ctx := context.Background()

	addSignal(t, mem, geo.Point{Lon: 120.00, Lat: 22.00}, now.Add(-time.Hour))
	addSignal(t, mem, geo.Point{Lon: 120.04, Lat: 22.00}, now.Add(-time.Hour))

	_, err := c.Run(ctx)
	require.NoError(t, err)

	clusters, err := mem.ListClusters(ctx, store.ClusterFilter{})
	require.NoError(t, err)
	require.Len(t, clusters, 1)
	assert.InDelta(t, 120.02, clusters[0].Centroid.Lon, 0.001)
	assert.InDelta(t, 22.00, clusters[0].Centroid.Lat, 0.001)
	assert.Greater(t, clusters[0].RadiusNM, 0.0)
	assert.Less(t, clusters[0].RadiusNM, DefaultClusterEpsilonNM)
}

func TestExpiredClusterResolved(t *testing.T) {
	c, mem, now := newClusterFixture(t)
	ctx := context.Background()

	addSignal(t, mem, geo.Point{Lon: 120.00, Lat: 22.00}, now.Add(-time.Hour))
	addSignal(t, mem, geo.Point{Lon: 120.02, Lat: 22.00}, now.Add(-time.Hour))
	_, err := c.Run(ctx)
	require.NoError(t, err)

	// Move past the window with no new members.
	c.now = func() time.Time { return now.Add(26 * time.Hour) }
	res, err := c.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Expired)

	clusters, err := mem.ListClusters(ctx, store.ClusterFilter{Status: messages.AlertResolved})
	require.NoError(t, err)
	assert.Len(t, clusters, 1)
}
