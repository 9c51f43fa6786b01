package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poseidon-mda/poseidon/pkg/geo"
	"github.com/poseidon-mda/poseidon/pkg/messages"
	"github.com/poseidon-mda/poseidon/pkg/store"
)

type fakePublisher struct {
	mu   sync.Mutex
	msgs []messages.Message
}

func (p *fakePublisher) Publish(_ context.Context, msg messages.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
	return nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.msgs)
}

func newGapFixture(t *testing.T) (*GapDetector, *store.Memory, *fakePublisher, time.Time) {
	t.Helper()
	mem := store.NewMemory(0)
	pub := &fakePublisher{}
	d := NewGapDetector(mem, pub, zerolog.Nop(), DefaultGapConfig())
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }
	return d, mem, pub, now
}

func addSample(t *testing.T, mem *store.Memory, vesselID string, p geo.Point, sog, cog float64, ts time.Time) {
	t.Helper()
	_, err := mem.UpsertPosition(context.Background(), messages.PositionSample{
		VesselID:  vesselID,
		Position:  p,
		SOG:       sog,
		COG:       cog,
		Timestamp: ts,
	})
	require.NoError(t, err)
}

func TestSweepOpensAlertForSilentMovingVessel(t *testing.T) {
	d, mem, pub, now := newGapFixture(t)
	ctx := context.Background()

	addSample(t, mem, "367001234", geo.Point{Lon: -70, Lat: 40}, 12, 90, now.Add(-3*time.Hour))

	res, err := d.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Opened)

	alert, err := mem.ActiveAlert(ctx, "367001234")
	require.NoError(t, err)
	assert.InDelta(t, 3, alert.GapHours, 0.01)
	assert.Equal(t, 1, pub.count())

	// Re-running does not create a second active alert.
	res, err = d.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Opened)
}

func TestSweepRefreshesAlertAsSilenceGrows(t *testing.T) {
	d, mem, pub, now := newGapFixture(t)
	ctx := context.Background()

	addSample(t, mem, "367001234", geo.Point{Lon: -70, Lat: 40}, 12, 90, now.Add(-3*time.Hour))

	res, err := d.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Opened)

	first, err := mem.ActiveAlert(ctx, "367001234")
	require.NoError(t, err)

	// Two hours later the vessel is still silent: the same alert widens
	// instead of freezing at its creation-time values.
	d.now = func() time.Time { return now.Add(2 * time.Hour) }
	res, err = d.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Opened)
	assert.Equal(t, 1, res.Refreshed)

	second, err := mem.ActiveAlert(ctx, "367001234")
	require.NoError(t, err)
	assert.Equal(t, first.AlertID, second.AlertID)
	assert.InDelta(t, 5, second.GapHours, 0.01)
	assert.Greater(t, second.SearchRadiusNM, first.SearchRadiusNM)
	assert.Greater(t, geo.DistanceNM(first.LastKnown, second.Predicted),
		geo.DistanceNM(first.LastKnown, first.Predicted))
	assert.Equal(t, 2, pub.count())
}

func TestSweepSkipsStationaryAndFreshVessels(t *testing.T) {
	d, mem, _, now := newGapFixture(t)
	ctx := context.Background()

	// Anchored vessel, silent 3h: no alert.
	addSample(t, mem, "111111111", geo.Point{Lon: -70, Lat: 40}, 0.2, 0, now.Add(-3*time.Hour))
	// Moving vessel, seen 30min ago: no alert.
	addSample(t, mem, "222222222", geo.Point{Lon: -71, Lat: 41}, 14, 180, now.Add(-30*time.Minute))

	res, err := d.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Opened)
}

func TestDeadReckonedProjectionEastbound(t *testing.T) {
	d, mem, _, now := newGapFixture(t)
	ctx := context.Background()

	// 12 kn on course 090 for 3 hours should put the predicted point
	// about 36 nm due east of the last known position.
	last := geo.Point{Lon: -70, Lat: 40}
	addSample(t, mem, "367001234", last, 12, 90, now.Add(-3*time.Hour))

	_, err := d.Sweep(ctx)
	require.NoError(t, err)

	alert, err := mem.ActiveAlert(ctx, "367001234")
	require.NoError(t, err)
	assert.InDelta(t, 36, geo.DistanceNM(last, alert.Predicted), 1.0)
	assert.InDelta(t, last.Lat, alert.Predicted.Lat, 0.05)
	assert.Greater(t, alert.Predicted.Lon, last.Lon)
}

func TestSearchRadiusGrowsWithGap(t *testing.T) {
	ctx := context.Background()

	radiusAt := func(gap time.Duration) float64 {
		d, mem, _, now := newGapFixture(t)
		addSample(t, mem, "367001234", geo.Point{Lon: -70, Lat: 40}, 12, 90, now.Add(-gap))
		_, err := d.Sweep(ctx)
		require.NoError(t, err)
		alert, err := mem.ActiveAlert(ctx, "367001234")
		require.NoError(t, err)
		return alert.SearchRadiusNM
	}

	r1 := radiusAt(time.Hour + DefaultGapThreshold)
	r3 := radiusAt(3*time.Hour + DefaultGapThreshold)
	assert.Greater(t, r3, r1, "search radius must grow with gap duration")
}

func TestFreshPositionResolvesAlertOnce(t *testing.T) {
	d, mem, pub, now := newGapFixture(t)
	ctx := context.Background()

	addSample(t, mem, "367001234", geo.Point{Lon: -70, Lat: 40}, 12, 90, now.Add(-3*time.Hour))
	_, err := d.Sweep(ctx)
	require.NoError(t, err)

	fresh := messages.PositionSample{
		VesselID:  "367001234",
		Position:  geo.Point{Lon: -69.5, Lat: 40},
		SOG:       11,
		Timestamp: now.Add(-time.Minute),
	}
	addSample(t, mem, fresh.VesselID, fresh.Position, fresh.SOG, fresh.COG, fresh.Timestamp)

	published := pub.count()
	d.ResolveOnPosition(ctx, fresh)

	_, err = mem.ActiveAlert(ctx, "367001234")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Equal(t, published+1, pub.count())

	// Idempotent: resolving again is a no-op.
	d.ResolveOnPosition(ctx, fresh)
	assert.Equal(t, published+1, pub.count())

	// The next sweep does not recreate the alert for the fresh vessel.
	res, err := d.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Opened)
	assert.Equal(t, 0, res.Resolved)
}

func TestStalePositionDoesNotResolve(t *testing.T) {
	d, mem, _, now := newGapFixture(t)
	ctx := context.Background()

	lastSeen := now.Add(-3 * time.Hour)
	addSample(t, mem, "367001234", geo.Point{Lon: -70, Lat: 40}, 12, 90, lastSeen)
	_, err := d.Sweep(ctx)
	require.NoError(t, err)

	// A replayed sample older than the alert's last-seen time changes nothing.
	d.ResolveOnPosition(ctx, messages.PositionSample{
		VesselID:  "367001234",
		Position:  geo.Point{Lon: -70.1, Lat: 40},
		Timestamp: lastSeen.Add(-time.Hour),
	})

	_, err = mem.ActiveAlert(ctx, "367001234")
	assert.NoError(t, err)
}

func TestSweepTimesOutLongSilentVessel(t *testing.T) {
	d, mem, _, now := newGapFixture(t)
	ctx := context.Background()

	addSample(t, mem, "367001234", geo.Point{Lon: -70, Lat: 40}, 12, 90, now.Add(-3*time.Hour))
	_, err := d.Sweep(ctx)
	require.NoError(t, err)

	// Move time past the active window; the alert is force-closed.
	d.now = func() time.Time { return now.Add(25 * time.Hour) }
	res, err := d.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.TimedOut)

	alerts, err := mem.ListAlerts(ctx, store.AlertFilter{VesselID: "367001234"})
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, messages.AlertTimedOut, alerts[0].Status)
}
