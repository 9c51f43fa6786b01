// Package geo provides the spherical geometry used by the analysis passes:
// great-circle distances, planar dead reckoning, and circular statistics.
package geo

import (
	"fmt"
	"math"
)

const (
	// EarthRadiusNM is the mean Earth radius in nautical miles.
	EarthRadiusNM = 3440.065
	// MetersPerNM converts nautical miles to meters.
	MetersPerNM = 1852.0
)

// Point is a geographic position in decimal degrees.
type Point struct {
	Lon float64 `json:"lon"`
	Lat float64 `json:"lat"`
}

// Valid reports whether the point holds plausible coordinates.
func (p Point) Valid() bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lon) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180
}

// Validate returns a descriptive error for malformed coordinates.
func (p Point) Validate() error {
	if !p.Valid() {
		return fmt.Errorf("invalid coordinates lat=%v lon=%v", p.Lat, p.Lon)
	}
	return nil
}

// DistanceNM computes the great-circle distance between two points in
// nautical miles using the haversine formula.
func DistanceNM(a, b Point) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return EarthRadiusNM * c
}

// DeadReckon advances a position along a course at a speed for the given
// elapsed hours using a planar approximation: one minute of latitude is one
// nautical mile, longitude scaled by cos(lat). Latitude is clamped and
// longitude wrapped to [-180, 180). A non-positive speed returns the start
// point unchanged.
func DeadReckon(p Point, sogKnots, cogDeg, hours float64) Point {
	if sogKnots <= 0 || hours <= 0 {
		return p
	}

	distNM := sogKnots * hours
	cogRad := cogDeg * math.Pi / 180
	latRad := p.Lat * math.Pi / 180

	lat := p.Lat + (distNM/60)*math.Cos(cogRad)
	lon := p.Lon + (distNM/60)*math.Sin(cogRad)/math.Cos(latRad)

	if lat > 90 {
		lat = 90
	} else if lat < -90 {
		lat = -90
	}
	lon = math.Mod(lon+180, 360)
	if lon < 0 {
		lon += 360
	}
	lon -= 180

	return Point{Lat: lat, Lon: lon}
}

// CircularMeanDeg averages a set of headings in degrees, handling the
// 359°/1° wraparound via vector components. Returns a value in [0, 360).
func CircularMeanDeg(headings []float64) float64 {
	if len(headings) == 0 {
		return 0
	}

	var x, y float64
	for _, h := range headings {
		r := h * math.Pi / 180
		x += math.Cos(r)
		y += math.Sin(r)
	}

	mean := math.Atan2(y, x) * 180 / math.Pi
	if mean < 0 {
		mean += 360
	}
	return mean
}

// Centroid returns the arithmetic mean position of a set of points.
// Suitable for the short baselines the clusterer works with.
func Centroid(points []Point) Point {
	if len(points) == 0 {
		return Point{}
	}

	var lat, lon float64
	for _, p := range points {
		lat += p.Lat
		lon += p.Lon
	}
	n := float64(len(points))
	return Point{Lat: lat / n, Lon: lon / n}
}

// MaxDistanceNM returns the largest distance from center to any point.
func MaxDistanceNM(center Point, points []Point) float64 {
	var max float64
	for _, p := range points {
		if d := DistanceNM(center, p); d > max {
			max = d
		}
	}
	return max
}
