package engine

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/poseidon-mda/poseidon/pkg/geo"
	"github.com/poseidon-mda/poseidon/pkg/messages"
	"github.com/poseidon-mda/poseidon/pkg/store"
)

const (
	// SAR detection <-> track matching tolerances.
	DefaultSARMatchRadiusM  = 5000.0
	DefaultSARMatchWindow   = time.Hour
	// Acoustic event <-> track correlation tolerances.
	DefaultAcousticRadiusKM = 100.0
	DefaultAcousticWindow   = 2 * time.Hour
	// Spoof-cluster <-> dark-alert pairing tolerances.
	DefaultPairRadiusNM = 100.0
	DefaultPairWindow   = 2 * time.Hour
)

// CorrelatorConfig tunes the cross-source correlator.
type CorrelatorConfig struct {
	SARRadiusM       float64
	SARWindow        time.Duration
	AcousticRadiusKM float64
	AcousticWindow   time.Duration
	PairRadiusNM     float64
	PairWindow       time.Duration
}

// DefaultCorrelatorConfig returns the production defaults.
func DefaultCorrelatorConfig() CorrelatorConfig {
	return CorrelatorConfig{
		SARRadiusM:       DefaultSARMatchRadiusM,
		SARWindow:        DefaultSARMatchWindow,
		AcousticRadiusKM: DefaultAcousticRadiusKM,
		AcousticWindow:   DefaultAcousticWindow,
		PairRadiusNM:     DefaultPairRadiusNM,
		PairWindow:       DefaultPairWindow,
	}
}

// Correlator ties sensor detections to vessel tracks and spoof clusters to
// dark alerts. All passes are best-effort and re-runnable: partial inputs
// produce fewer matches, never errors.
type Correlator struct {
	store  store.Store
	logger zerolog.Logger
	cfg    CorrelatorConfig
}

// NewCorrelator creates a correlator over the given store.
func NewCorrelator(s store.Store, logger zerolog.Logger, cfg CorrelatorConfig) *Correlator {
	if cfg.SARRadiusM <= 0 {
		cfg.SARRadiusM = DefaultSARMatchRadiusM
	}
	if cfg.SARWindow <= 0 {
		cfg.SARWindow = DefaultSARMatchWindow
	}
	if cfg.AcousticRadiusKM <= 0 {
		cfg.AcousticRadiusKM = DefaultAcousticRadiusKM
	}
	if cfg.AcousticWindow <= 0 {
		cfg.AcousticWindow = DefaultAcousticWindow
	}
	if cfg.PairRadiusNM <= 0 {
		cfg.PairRadiusNM = DefaultPairRadiusNM
	}
	if cfg.PairWindow <= 0 {
		cfg.PairWindow = DefaultPairWindow
	}
	return &Correlator{
		store:  s,
		logger: logger.With().Str("component", "correlator").Logger(),
		cfg:    cfg,
	}
}

type candidate struct {
	vesselID   string
	distanceNM float64
	deltaSec   float64
	confidence float64
}

// MatchScene correlates every unmatched detection of a SAR scene against
// vessel tracks: greedy nearest-match within tolerance, one vessel per
// detection per scene, best combined spatial+temporal score first.
// Detections with no candidate stay explicitly unmatched (ghosts).
func (c *Correlator) MatchScene(ctx context.Context, sceneID string) (matched, ghosts int, err error) {
	detections, err := c.store.ListSarDetections(ctx, store.DetectionFilter{
		SceneID:       sceneID,
		UnmatchedOnly: true,
	})
	if err != nil {
		return 0, 0, fmt.Errorf("match scene %s: %w", sceneID, err)
	}
	if len(detections) == 0 {
		return 0, 0, nil
	}

	tracks, err := c.store.LatestAll(ctx, 0)
	if err != nil {
		return 0, 0, fmt.Errorf("match scene %s: list tracks: %w", sceneID, err)
	}

	radiusNM := c.cfg.SARRadiusM / geo.MetersPerNM

	type scored struct {
		detectionID string
		cand        candidate
	}
	var all []scored
	for _, det := range detections {
		best, ok := c.bestCandidate(det.Position, det.ObservedAt, tracks, radiusNM, c.cfg.SARWindow)
		if !ok {
			continue
		}
		all = append(all, scored{detectionID: det.DetectionID, cand: best})
	}
	// Highest confidence claims its vessel first.
	sort.Slice(all, func(i, j int) bool { return all[i].cand.confidence > all[j].cand.confidence })

	claimed := make(map[string]bool)
	for _, s := range all {
		if claimed[s.cand.vesselID] {
			continue
		}
		claimed[s.cand.vesselID] = true
		err := c.store.SetSarMatch(ctx, s.detectionID, messages.Matched{
			VesselID:     s.cand.vesselID,
			DistanceNM:   s.cand.distanceNM,
			TimeDeltaSec: s.cand.deltaSec,
			Confidence:   s.cand.confidence,
		})
		if err != nil {
			c.logger.Error().Err(err).Str("detection_id", s.detectionID).Msg("SAR match write failed")
			continue
		}
		matched++
	}
	ghosts = len(detections) - matched

	c.logger.Info().
		Str("scene_id", sceneID).
		Int("matched", matched).
		Int("ghosts", ghosts).
		Msg("SAR scene matched")
	return matched, ghosts, nil
}

// CorrelateAcoustic ties each uncorrelated acoustic event observed since
// the given time to the closest vessel inside the spatial and temporal
// tolerances.
func (c *Correlator) CorrelateAcoustic(ctx context.Context, since time.Time) (int, error) {
	events, err := c.store.ListAcousticEvents(ctx, "", since)
	if err != nil {
		return 0, fmt.Errorf("correlate acoustic: %w", err)
	}

	tracks, err := c.store.LatestAll(ctx, 0)
	if err != nil {
		return 0, fmt.Errorf("correlate acoustic: list tracks: %w", err)
	}

	radiusNM := c.cfg.AcousticRadiusKM * 1000 / geo.MetersPerNM

	correlated := 0
	for _, ev := range events {
		if ev.IsMatched() {
			continue
		}
		best, ok := c.bestCandidate(ev.Position, ev.EventTime, tracks, radiusNM, c.cfg.AcousticWindow)
		if !ok {
			continue
		}
		err := c.store.SetAcousticMatch(ctx, ev.EventID, messages.Matched{
			VesselID:     best.vesselID,
			DistanceNM:   best.distanceNM,
			TimeDeltaSec: best.deltaSec,
			Confidence:   best.confidence,
		})
		if err != nil {
			c.logger.Error().Err(err).Str("event_id", ev.EventID).Msg("Acoustic match write failed")
			continue
		}
		correlated++
	}
	return correlated, nil
}

// bestCandidate finds the track sample with the best combined score within
// both tolerances. Confidence is the mean of the spatial and temporal
// closeness, each linear in [0,1].
func (c *Correlator) bestCandidate(p geo.Point, at time.Time, tracks []messages.PositionSample, radiusNM float64, window time.Duration) (candidate, bool) {
	var best candidate
	found := false
	for _, t := range tracks {
		if !t.Position.Valid() {
			continue
		}
		deltaSec := math.Abs(t.Timestamp.Sub(at).Seconds())
		if deltaSec > window.Seconds() {
			continue
		}
		dist := geo.DistanceNM(p, t.Position)
		if dist > radiusNM {
			continue
		}
		distConf := math.Max(0, 1-dist/radiusNM)
		timeConf := math.Max(0, 1-deltaSec/window.Seconds())
		conf := (distConf + timeConf) / 2
		if !found || conf > best.confidence {
			best = candidate{
				vesselID:   t.VesselID,
				distanceNM: dist,
				deltaSec:   deltaSec,
				confidence: conf,
			}
			found = true
		}
	}
	return best, found
}

// PairClusters computes spoof-cluster/dark-alert correlation pairs: for
// each active alert, every active cluster whose centroid lies within the
// spatial radius of the alert's last known position and whose window
// touches the alert's last-seen time within the time tolerance. Pairs are
// derived on demand, never persisted.
func (c *Correlator) PairClusters(ctx context.Context) ([]messages.CorrelationPair, error) {
	alerts, err := c.store.ListAlerts(ctx, store.AlertFilter{Status: messages.AlertActive})
	if err != nil {
		return nil, fmt.Errorf("pair clusters: list alerts: %w", err)
	}
	clusters, err := c.store.ListClusters(ctx, store.ClusterFilter{Status: messages.AlertActive})
	if err != nil {
		return nil, fmt.Errorf("pair clusters: list clusters: %w", err)
	}

	var pairs []messages.CorrelationPair
	for _, alert := range alerts {
		for _, cluster := range clusters {
			dist := geo.DistanceNM(alert.LastKnown, cluster.Centroid)
			if dist > c.cfg.PairRadiusNM {
				continue
			}
			gap := windowGapHours(alert.LastSeenAt, cluster.WindowStart, cluster.WindowEnd)
			if gap > c.cfg.PairWindow.Hours() {
				continue
			}
			distConf := 1 - dist/c.cfg.PairRadiusNM
			timeConf := 1 - gap/c.cfg.PairWindow.Hours()
			pairs = append(pairs, messages.CorrelationPair{
				Cluster:      cluster,
				Alert:        alert,
				DistanceNM:   dist,
				TimeGapHours: gap,
				Score:        (distConf + timeConf) / 2,
			})
		}
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Score > pairs[j].Score })
	return pairs, nil
}

// windowGapHours is zero when t falls inside [start, end], otherwise the
// distance in hours to the nearest edge.
func windowGapHours(t, start, end time.Time) float64 {
	if t.Before(start) {
		return start.Sub(t).Hours()
	}
	if t.After(end) {
		return t.Sub(end).Hours()
	}
	return 0
}
