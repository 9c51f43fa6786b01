package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/poseidon-mda/poseidon/pkg/geo"
	"github.com/poseidon-mda/poseidon/pkg/messages"
	"github.com/poseidon-mda/poseidon/pkg/store"
)

const (
	// DefaultGapThreshold is how long a moving vessel may be silent before
	// it is flagged dark.
	DefaultGapThreshold = 2 * time.Hour
	// DefaultActiveWindow bounds how far back the detector looks; vessels
	// silent longer than this are considered out of the active picture.
	DefaultActiveWindow = 24 * time.Hour
	// DefaultMovingSOG filters out anchored and drifting vessels.
	DefaultMovingSOG = 0.5
	// searchRadiusFactor scales speed x elapsed hours into a search radius.
	searchRadiusFactor = 0.5
)

// GapConfig tunes the dark-vessel detector.
type GapConfig struct {
	GapThreshold time.Duration
	ActiveWindow time.Duration
	MovingSOG    float64
	// MaxVesselsPerPass bounds a sweep for forward progress (0 = no cap).
	MaxVesselsPerPass int
}

// DefaultGapConfig returns the production defaults.
func DefaultGapConfig() GapConfig {
	return GapConfig{
		GapThreshold: DefaultGapThreshold,
		ActiveWindow: DefaultActiveWindow,
		MovingSOG:    DefaultMovingSOG,
	}
}

// GapDetector opens dark-vessel alerts for vessels that stop transmitting
// while underway, and resolves them when the vessel reappears. Sweep runs
// on a schedule; ResolveOnPosition runs reactively per ingested position.
// The two race safely through the store's versioned updates.
type GapDetector struct {
	store  store.Store
	pub    Publisher
	logger zerolog.Logger
	cfg    GapConfig
	now    func() time.Time
}

// NewGapDetector creates a detector over the given store. pub may be nil
// when no downstream consumers exist (tests, batch tools).
func NewGapDetector(s store.Store, pub Publisher, logger zerolog.Logger, cfg GapConfig) *GapDetector {
	if cfg.GapThreshold <= 0 {
		cfg.GapThreshold = DefaultGapThreshold
	}
	if cfg.ActiveWindow <= 0 {
		cfg.ActiveWindow = DefaultActiveWindow
	}
	if cfg.MovingSOG <= 0 {
		cfg.MovingSOG = DefaultMovingSOG
	}
	return &GapDetector{
		store:  s,
		pub:    pub,
		logger: logger.With().Str("component", "gap_detector").Logger(),
		cfg:    cfg,
		now:    time.Now,
	}
}

// GapSweepResult summarizes one detector pass.
type GapSweepResult struct {
	Scanned   int
	Opened    int
	Refreshed int
	Resolved  int
	TimedOut  int
}

// Sweep runs one detection pass over every tracked vessel.
// Per-vessel failures are logged and skipped; only a failed store read
// aborts the pass.
func (d *GapDetector) Sweep(ctx context.Context) (GapSweepResult, error) {
	var res GapSweepResult
	now := d.now()

	latest, err := d.store.LatestAll(ctx, d.cfg.MaxVesselsPerPass)
	if err != nil {
		return res, fmt.Errorf("gap sweep: list latest positions: %w", err)
	}

	for _, sample := range latest {
		res.Scanned++
		age := now.Sub(sample.Timestamp)

		switch {
		case age > d.cfg.ActiveWindow:
			if d.timeOutAlert(ctx, sample.VesselID, now) {
				res.TimedOut++
			}
		case age > d.cfg.GapThreshold:
			if sample.SOG <= d.cfg.MovingSOG {
				continue
			}
			opened, refreshed := d.upsertAlert(ctx, sample, now)
			if opened {
				res.Opened++
			}
			if refreshed {
				res.Refreshed++
			}
		default:
			if d.resolveAlert(ctx, sample.VesselID, sample.Timestamp, now) {
				res.Resolved++
			}
		}
	}

	if res.Opened > 0 || res.Refreshed > 0 || res.Resolved > 0 || res.TimedOut > 0 {
		d.logger.Info().
			Int("scanned", res.Scanned).
			Int("opened", res.Opened).
			Int("refreshed", res.Refreshed).
			Int("resolved", res.Resolved).
			Int("timed_out", res.TimedOut).
			Msg("Gap sweep complete")
	}
	return res, nil
}

// ResolveOnPosition resolves a vessel's active alert as soon as a fresh
// position arrives, independent of the sweep schedule. A position newer
// than the alert's detection time always wins.
func (d *GapDetector) ResolveOnPosition(ctx context.Context, sample messages.PositionSample) {
	d.resolveAlert(ctx, sample.VesselID, sample.Timestamp, d.now())
}

// upsertAlert opens an alert for a newly dark vessel, or refreshes the
// existing active one so the gap, predicted point, and search radius keep
// tracking the growing silence. Never creates a second active alert.
func (d *GapDetector) upsertAlert(ctx context.Context, sample messages.PositionSample, now time.Time) (opened, refreshed bool) {
	existing, err := d.store.ActiveAlert(ctx, sample.VesselID)
	if err == nil {
		return false, d.refreshAlert(ctx, existing, sample, now)
	}
	if !errors.Is(err, store.ErrNotFound) {
		d.logger.Error().Err(err).Str("vessel_id", sample.VesselID).Msg("Active alert lookup failed")
		return false, false
	}

	gapHours := now.Sub(sample.Timestamp).Hours()
	predicted := geo.DeadReckon(sample.Position, sample.SOG, sample.COG, gapHours)

	sog := sample.SOG
	if sog <= 0 {
		sog = 1
	}
	alert := &messages.DarkAlert{
		Envelope:       messages.NewEnvelope("engine", "engine"),
		AlertID:        uuid.New().String(),
		VesselID:       sample.VesselID,
		Status:         messages.AlertActive,
		LastKnown:      sample.Position,
		Predicted:      predicted,
		LastSOG:        sample.SOG,
		LastCOG:        sample.COG,
		GapHours:       gapHours,
		SearchRadiusNM: sog * gapHours * searchRadiusFactor,
		LastSeenAt:     sample.Timestamp,
		DetectedAt:     now,
	}

	if err := d.store.CreateAlert(ctx, alert); err != nil {
		if errors.Is(err, store.ErrDuplicateActive) {
			// A concurrent sweep won the race.
			return false, false
		}
		d.logger.Error().Err(err).Str("vessel_id", sample.VesselID).Msg("Alert create failed")
		return false, false
	}

	d.logger.Info().
		Str("vessel_id", sample.VesselID).
		Float64("gap_hours", gapHours).
		Float64("search_radius_nm", alert.SearchRadiusNM).
		Msg("Dark vessel alert opened")
	d.publish(ctx, alert)
	return true, false
}

// refreshAlert recomputes the silence-dependent fields of an open alert
// against the same last sighting. CAS conflicts are retried once against a
// fresh read, then skipped; the next sweep catches up.
func (d *GapDetector) refreshAlert(ctx context.Context, alert *messages.DarkAlert, sample messages.PositionSample, now time.Time) bool {
	for attempt := 0; attempt < 2; attempt++ {
		gapHours := now.Sub(sample.Timestamp).Hours()
		if gapHours <= alert.GapHours {
			return false
		}

		sog := sample.SOG
		if sog <= 0 {
			sog = 1
		}
		alert.GapHours = gapHours
		alert.Predicted = geo.DeadReckon(sample.Position, sample.SOG, sample.COG, gapHours)
		alert.SearchRadiusNM = sog * gapHours * searchRadiusFactor

		err := d.store.UpdateAlert(ctx, alert)
		if err == nil {
			d.logger.Debug().
				Str("vessel_id", alert.VesselID).
				Float64("gap_hours", gapHours).
				Float64("search_radius_nm", alert.SearchRadiusNM).
				Msg("Dark vessel alert refreshed")
			d.publish(ctx, alert)
			return true
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			d.logger.Error().Err(err).Str("vessel_id", alert.VesselID).Msg("Alert refresh failed")
			return false
		}

		alert, err = d.store.ActiveAlert(ctx, alert.VesselID)
		if err != nil {
			return false
		}
	}
	d.logger.Warn().Str("vessel_id", alert.VesselID).Msg("Alert refresh skipped after version conflict")
	return false
}

// resolveAlert closes the active alert if the given position postdates its
// creation. CAS conflicts are retried once against a fresh read, then
// skipped; the next sweep picks the alert up again.
func (d *GapDetector) resolveAlert(ctx context.Context, vesselID string, observedAt, now time.Time) bool {
	for attempt := 0; attempt < 2; attempt++ {
		alert, err := d.store.ActiveAlert(ctx, vesselID)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				d.logger.Error().Err(err).Str("vessel_id", vesselID).Msg("Active alert lookup failed")
			}
			return false
		}
		if !observedAt.After(alert.LastSeenAt) {
			// Replayed or out-of-order sample, not a reappearance.
			return false
		}

		resolvedAt := now
		alert.Status = messages.AlertResolved
		alert.ResolvedAt = &resolvedAt

		err = d.store.UpdateAlert(ctx, alert)
		if err == nil {
			d.logger.Info().Str("vessel_id", vesselID).Str("alert_id", alert.AlertID).Msg("Dark vessel alert resolved")
			d.publish(ctx, alert)
			return true
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			d.logger.Error().Err(err).Str("vessel_id", vesselID).Msg("Alert resolve failed")
			return false
		}
	}
	d.logger.Warn().Str("vessel_id", vesselID).Msg("Alert resolve skipped after version conflict")
	return false
}

func (d *GapDetector) timeOutAlert(ctx context.Context, vesselID string, now time.Time) bool {
	for attempt := 0; attempt < 2; attempt++ {
		alert, err := d.store.ActiveAlert(ctx, vesselID)
		if err != nil {
			return false
		}

		resolvedAt := now
		alert.Status = messages.AlertTimedOut
		alert.ResolvedAt = &resolvedAt

		err = d.store.UpdateAlert(ctx, alert)
		if err == nil {
			d.logger.Info().Str("vessel_id", vesselID).Str("alert_id", alert.AlertID).Msg("Dark vessel alert timed out")
			d.publish(ctx, alert)
			return true
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			return false
		}
	}
	return false
}

func (d *GapDetector) publish(ctx context.Context, alert *messages.DarkAlert) {
	if d.pub == nil {
		return
	}
	if err := d.pub.Publish(ctx, alert); err != nil {
		d.logger.Error().Err(err).Str("alert_id", alert.AlertID).Msg("Alert publish failed")
	}
}
