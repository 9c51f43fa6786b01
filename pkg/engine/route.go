package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/poseidon-mda/poseidon/pkg/geo"
	"github.com/poseidon-mda/poseidon/pkg/messages"
	"github.com/poseidon-mda/poseidon/pkg/store"
)

const (
	// Uncertainty grows with the square root of projection time.
	baseUncertaintyNM   = 5.0
	uncertaintyGrowthNM = 3.0

	// z-multipliers for the confidence envelopes.
	z70 = 1.04
	z90 = 1.645

	// stationarySOG: below this the vessel is treated as not underway.
	stationarySOG = 0.5

	// Course/speed smoothing uses moving samples from recent history.
	smoothingLookback   = 48 * time.Hour
	smoothingMinSamples = 5
	smoothingMaxSamples = 10

	// DefaultRouteHorizon is the default projection horizon in hours.
	DefaultRouteHorizon = 24.0
)

// RoutePredictor projects a vessel's forward path by dead reckoning with
// widening confidence envelopes. A pure function of current kinematics,
// stabilized by a circular-mean course over recent history when enough
// samples exist.
type RoutePredictor struct {
	store  store.Store
	logger zerolog.Logger
	now    func() time.Time
}

// NewRoutePredictor creates a predictor over the given store.
func NewRoutePredictor(s store.Store, logger zerolog.Logger) *RoutePredictor {
	return &RoutePredictor{
		store:  s,
		logger: logger.With().Str("component", "route_predictor").Logger(),
		now:    time.Now,
	}
}

// Predict projects the vessel forward over the horizon (hours) and
// persists the prediction. A stationary vessel yields a single point with
// no envelopes. Returns ErrInsufficientHistory when the vessel has never
// reported a position.
func (r *RoutePredictor) Predict(ctx context.Context, vesselID string, horizonHours float64) (*messages.RoutePrediction, error) {
	if horizonHours <= 0 {
		horizonHours = DefaultRouteHorizon
	}

	latest, err := r.store.Latest(ctx, vesselID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInsufficientHistory
		}
		return nil, fmt.Errorf("predict %s: latest position: %w", vesselID, err)
	}

	now := r.now()
	sog, cog := latest.SOG, latest.COG

	if sog < stationarySOG {
		pred := &messages.RoutePrediction{
			VesselID:    vesselID,
			Waypoints:   []messages.RoutePoint{{Position: latest.Position, HoursAhead: 0}},
			HoursAhead:  horizonHours,
			SOGUsed:     sog,
			COGUsed:     cog,
			PredictedAt: now,
		}
		if err := r.store.InsertRoutePrediction(ctx, pred); err != nil {
			return nil, fmt.Errorf("predict %s: persist: %w", vesselID, err)
		}
		return pred, nil
	}

	// Smooth course and speed over recent moving samples for stability.
	history, err := r.store.History(ctx, vesselID, now.Add(-smoothingLookback))
	if err != nil {
		return nil, fmt.Errorf("predict %s: history: %w", vesselID, err)
	}
	if len(history) >= smoothingMinSamples {
		recent := history
		if len(recent) > smoothingMaxSamples {
			recent = recent[len(recent)-smoothingMaxSamples:]
		}
		var cogs, sogs []float64
		for _, h := range recent {
			if h.SOG > stationarySOG {
				cogs = append(cogs, h.COG)
				sogs = append(sogs, h.SOG)
			}
		}
		if len(cogs) > 0 {
			cog = geo.CircularMeanDeg(cogs)
			sum := 0.0
			for _, s := range sogs {
				sum += s
			}
			sog = sum / float64(len(sogs))
		}
	}

	// Hourly steps, with a final partial step covering any fractional
	// remainder so the last waypoint lands exactly on the horizon.
	waypoints := []messages.RoutePoint{{Position: latest.Position, HoursAhead: 0}}
	current := latest.Position
	for t := 0.0; horizonHours-t > 1e-9; {
		step := math.Min(1, horizonHours-t)
		t += step
		current = geo.DeadReckon(current, sog, cog, step)
		waypoints = append(waypoints, messages.RoutePoint{
			Position:      current,
			HoursAhead:    t,
			UncertaintyNM: baseUncertaintyNM + uncertaintyGrowthNM*math.Sqrt(t),
		})
	}

	var eta *time.Time
	if vessel, err := r.store.GetVessel(ctx, vesselID); err == nil && vessel.Destination != "" && vessel.ETA != nil {
		eta = vessel.ETA
	}

	pred := &messages.RoutePrediction{
		VesselID:     vesselID,
		Waypoints:    waypoints,
		Confidence70: confidenceEnvelope(waypoints, z70),
		Confidence90: confidenceEnvelope(waypoints, z90),
		HoursAhead:   horizonHours,
		SOGUsed:      sog,
		COGUsed:      cog,
		ETA:          eta,
		PredictedAt:  now,
	}
	if err := r.store.InsertRoutePrediction(ctx, pred); err != nil {
		return nil, fmt.Errorf("predict %s: persist: %w", vesselID, err)
	}

	r.logger.Debug().
		Str("vessel_id", vesselID).
		Int("waypoints", len(waypoints)).
		Float64("sog_used", sog).
		Float64("cog_used", cog).
		Msg("Route predicted")
	return pred, nil
}

// confidenceEnvelope builds a closed polygon of [lon, lat] pairs around
// the route by offsetting each waypoint laterally by z times its
// uncertainty: left side forward, right side back, first point repeated.
func confidenceEnvelope(waypoints []messages.RoutePoint, z float64) [][]float64 {
	if len(waypoints) < 2 {
		return nil
	}

	left := make([][]float64, 0, len(waypoints))
	right := make([][]float64, 0, len(waypoints))
	for _, wp := range waypoints {
		offsetNM := wp.UncertaintyNM * z
		dLat := offsetNM / 60.0
		latRad := wp.Position.Lat * math.Pi / 180
		dLon := offsetNM / (60.0 * math.Max(math.Cos(latRad), 0.01))

		left = append(left, []float64{wp.Position.Lon - dLon, wp.Position.Lat + dLat})
		right = append(right, []float64{wp.Position.Lon + dLon, wp.Position.Lat - dLat})
	}

	polygon := left
	for i := len(right) - 1; i >= 0; i-- {
		polygon = append(polygon, right[i])
	}
	return append(polygon, left[0])
}
