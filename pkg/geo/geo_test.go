package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPointValid(t *testing.T) {
	assert.True(t, Point{Lat: 0, Lon: 0}.Valid())
	assert.True(t, Point{Lat: -90, Lon: 180}.Valid())
	assert.False(t, Point{Lat: 91, Lon: 0}.Valid())
	assert.False(t, Point{Lat: 0, Lon: -181}.Valid())
	assert.False(t, Point{Lat: math.NaN(), Lon: 0}.Valid())

	require.Error(t, Point{Lat: 100, Lon: 0}.Validate())
	require.NoError(t, Point{Lat: 51.5, Lon: -0.1}.Validate())
}

func TestDistanceNM(t *testing.T) {
	// One degree of latitude on a great circle is 60 NM.
	d := DistanceNM(Point{Lat: 0, Lon: 0}, Point{Lat: 1, Lon: 0})
	assert.InDelta(t, 60.04, d, 0.1)

	// Same point.
	assert.Zero(t, DistanceNM(Point{Lat: 45, Lon: 45}, Point{Lat: 45, Lon: 45}))

	// Symmetric.
	a := Point{Lat: 35.6, Lon: 139.7}
	b := Point{Lat: 37.8, Lon: -122.4}
	assert.InDelta(t, DistanceNM(a, b), DistanceNM(b, a), 1e-9)

	// Tokyo to San Francisco, roughly 4450 NM.
	assert.InDelta(t, 4450, DistanceNM(a, b), 50)
}

func TestDeadReckon(t *testing.T) {
	start := Point{Lat: 0, Lon: 0}

	// Due north at 10 knots for 6 hours: 60 NM = 1 degree of latitude.
	p := DeadReckon(start, 10, 0, 6)
	assert.InDelta(t, 1.0, p.Lat, 1e-6)
	assert.InDelta(t, 0.0, p.Lon, 1e-6)

	// Due east at the equator, cos(lat)=1.
	p = DeadReckon(start, 10, 90, 6)
	assert.InDelta(t, 0.0, p.Lat, 1e-6)
	assert.InDelta(t, 1.0, p.Lon, 1e-6)

	// At 60N a degree of longitude is half as long.
	p = DeadReckon(Point{Lat: 60, Lon: 0}, 10, 90, 6)
	assert.InDelta(t, 2.0, p.Lon, 1e-6)

	// Longitude wraps across the dateline.
	p = DeadReckon(Point{Lat: 0, Lon: 179.5}, 60, 90, 1)
	assert.InDelta(t, -179.5, p.Lon, 1e-6)

	// Stationary or zero-duration input is returned unchanged.
	assert.Equal(t, start, DeadReckon(start, 0, 45, 6))
	assert.Equal(t, start, DeadReckon(start, 10, 45, 0))
}

func TestCircularMeanDeg(t *testing.T) {
	// Wraparound: mean of 350 and 10 is 0, not 180.
	assert.InDelta(t, 0, CircularMeanDeg([]float64{350, 10}), 1e-6)

	assert.InDelta(t, 90, CircularMeanDeg([]float64{80, 100}), 1e-6)
	assert.InDelta(t, 45, CircularMeanDeg([]float64{45}), 1e-6)
	assert.Zero(t, CircularMeanDeg(nil))
}

func TestCentroidAndMaxDistance(t *testing.T) {
	points := []Point{
		{Lat: 10, Lon: 20},
		{Lat: 12, Lon: 22},
	}
	c := Centroid(points)
	assert.InDelta(t, 11, c.Lat, 1e-9)
	assert.InDelta(t, 21, c.Lon, 1e-9)

	assert.Equal(t, Point{}, Centroid(nil))

	max := MaxDistanceNM(c, points)
	assert.Greater(t, max, 0.0)
	assert.InDelta(t, DistanceNM(c, points[0]), max, 1e-9)

	assert.Zero(t, MaxDistanceNM(c, nil))
}
