package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/poseidon-mda/poseidon/pkg/geo"
	"github.com/poseidon-mda/poseidon/pkg/messages"
	"github.com/poseidon-mda/poseidon/pkg/store"
)

const (
	// DefaultMaxSOG is the physical speed ceiling in knots for commercial
	// traffic; anything faster is treated as spoofed.
	DefaultMaxSOG = 50.0
	// sogNoData is the AIS "speed not available" marker, never a real speed.
	sogNoData = 102.3
	// DefaultJumpDistanceNM / DefaultJumpWindow define the teleportation
	// rule: displacement beyond this distance inside the window is flagged
	// regardless of the reported speed field.
	DefaultJumpDistanceNM = 100.0
	DefaultJumpWindow     = 5 * time.Minute
	// DefaultDedupeWindow suppresses repeat signals of the same type for
	// the same vessel.
	DefaultDedupeWindow = time.Minute
)

// FlagConfig tunes the anomaly rules.
type FlagConfig struct {
	MaxSOG         float64
	JumpDistanceNM float64
	JumpWindow     time.Duration
	DedupeWindow   time.Duration
}

// DefaultFlagConfig returns the production defaults.
func DefaultFlagConfig() FlagConfig {
	return FlagConfig{
		MaxSOG:         DefaultMaxSOG,
		JumpDistanceNM: DefaultJumpDistanceNM,
		JumpWindow:     DefaultJumpWindow,
		DedupeWindow:   DefaultDedupeWindow,
	}
}

// Flagger evaluates each ingested position message against the vessel's
// previous sample and emits typed spoof signals. One message may emit
// zero, one, or several signals; the rules are independent.
type Flagger struct {
	store  store.SignalStore
	logger zerolog.Logger
	cfg    FlagConfig

	mu   sync.Mutex
	seen map[string]time.Time // vesselID+type -> last emission
}

// NewFlagger creates a flagger persisting signals to s.
func NewFlagger(s store.SignalStore, logger zerolog.Logger, cfg FlagConfig) *Flagger {
	if cfg.MaxSOG <= 0 {
		cfg.MaxSOG = DefaultMaxSOG
	}
	if cfg.JumpDistanceNM <= 0 {
		cfg.JumpDistanceNM = DefaultJumpDistanceNM
	}
	if cfg.JumpWindow <= 0 {
		cfg.JumpWindow = DefaultJumpWindow
	}
	if cfg.DedupeWindow <= 0 {
		cfg.DedupeWindow = DefaultDedupeWindow
	}
	return &Flagger{
		store:  s,
		logger: logger.With().Str("component", "anomaly_flagger").Logger(),
		cfg:    cfg,
		seen:   make(map[string]time.Time),
	}
}

// Evaluate applies every rule to one message. prev is the vessel's previous
// sample and may be nil; rules needing history skip silently without it.
// Pure: no store access, no dedupe.
func (f *Flagger) Evaluate(msg *messages.PositionMessage, prev *messages.PositionSample) []messages.SpoofSignal {
	s := msg.Sample
	if !s.Position.Valid() {
		return nil
	}

	var signals []messages.SpoofSignal
	emit := func(t messages.AnomalyType, details messages.AnomalyDetails) {
		signals = append(signals, messages.SpoofSignal{
			SignalID:   uuid.New().String(),
			VesselID:   s.VesselID,
			Type:       t,
			Position:   s.Position,
			SOG:        s.SOG,
			COG:        s.COG,
			NavStatus:  s.NavStatus,
			Details:    details,
			DetectedAt: s.Timestamp,
		})
	}

	// Impossible speed: either the reported SOG exceeds the ceiling, or
	// the displacement since the previous sample implies it does. The
	// 102.3 marker means "not available", not 102.3 knots.
	reported := s.SOG > f.cfg.MaxSOG && !nearEqual(s.SOG, sogNoData, 0.1)
	implied := 0.0
	if prev != nil && prev.Position.Valid() {
		if dt := s.Timestamp.Sub(prev.Timestamp).Hours(); dt > 0 {
			implied = geo.DistanceNM(prev.Position, s.Position) / dt
		}
	}
	if reported || implied > f.cfg.MaxSOG {
		emit(messages.AnomalyImpossibleSpeed, messages.SpeedDetails{
			ReportedSOG: s.SOG,
			ImpliedSOG:  implied,
		})
	}

	// Position jump: teleportation regardless of the speed field.
	if prev != nil && prev.Position.Valid() {
		dt := s.Timestamp.Sub(prev.Timestamp)
		if dt > 0 && dt < f.cfg.JumpWindow {
			if dist := geo.DistanceNM(prev.Position, s.Position); dist > f.cfg.JumpDistanceNM {
				emit(messages.AnomalyPositionJump, messages.JumpDetails{
					DistanceNM: dist,
					DtMinutes:  dt.Minutes(),
				})
			}
		}
	}

	// SART transponder status on a vessel not declared search-and-rescue.
	if s.NavStatus == "ais_sart" && msg.ShipType != "sar" && msg.ShipType != "" {
		emit(messages.AnomalySARTOnNonSAR, messages.SARTDetails{DeclaredType: msg.ShipType})
	}

	// No identity at all.
	if msg.Name == "" && msg.IMO == "" && msg.Callsign == "" {
		emit(messages.AnomalyNoIdentity, messages.IdentityDetails{})
	}

	return signals
}

// Flag evaluates a message, suppresses duplicates inside the dedupe
// window, and persists the surviving signals. Per-signal store failures
// are logged and skipped.
func (f *Flagger) Flag(ctx context.Context, msg *messages.PositionMessage, prev *messages.PositionSample) []messages.SpoofSignal {
	signals := f.Evaluate(msg, prev)
	if len(signals) == 0 {
		return nil
	}

	kept := signals[:0]
	for _, sig := range signals {
		if !f.admit(sig.VesselID, sig.Type, sig.DetectedAt) {
			continue
		}
		s := sig
		if err := f.store.InsertSignal(ctx, &s); err != nil {
			f.logger.Error().Err(err).
				Str("vessel_id", sig.VesselID).
				Str("anomaly_type", string(sig.Type)).
				Msg("Signal insert failed")
			continue
		}
		f.logger.Info().
			Str("vessel_id", sig.VesselID).
			Str("anomaly_type", string(sig.Type)).
			Msg("Spoof signal flagged")
		kept = append(kept, sig)
	}
	return kept
}

func (f *Flagger) admit(vesselID string, t messages.AnomalyType, at time.Time) bool {
	key := vesselID + "|" + string(t)

	f.mu.Lock()
	defer f.mu.Unlock()
	if last, ok := f.seen[key]; ok && at.Sub(last) < f.cfg.DedupeWindow {
		return false
	}
	f.seen[key] = at
	return true
}

func nearEqual(a, b, tol float64) bool {
	d := a - b
	return d < tol && d > -tol
}
