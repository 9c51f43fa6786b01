package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/poseidon-mda/poseidon/pkg/geo"
	"github.com/poseidon-mda/poseidon/pkg/messages"
	"github.com/poseidon-mda/poseidon/pkg/store"
)

const (
	// AIS freshness model: full confidence inside the fresh window, then
	// exponential decay with a two hour half-life down to a floor.
	aisFreshConfidence = 0.85
	aisFreshWindow     = 30 * time.Minute
	aisHalfLife        = 2 * time.Hour
	aisFloor           = 0.05

	// Neutral default when a source has no evidence at all.
	noEvidenceConfidence = 0.1

	// viirsRadiusNM is the 50 km VIIRS proximity radius.
	viirsRadiusNM = 50_000 / geo.MetersPerNM
	// evidenceWindow bounds how far back SAR/VIIRS/acoustic evidence counts.
	evidenceWindow = 7 * 24 * time.Hour

	// DefaultFuseParallelism bounds concurrent per-vessel fusions in FuseAll.
	DefaultFuseParallelism = 8
)

// Combiner folds per-source confidences into one posterior in [0,1].
// The combination rule is pluggable; LogOdds is the production default.
type Combiner interface {
	Combine(confidences []float64) float64
	Name() string
}

// LogOdds is naive-Bayes fusion with a uniform prior: each source is an
// independent likelihood, combined in log space for numerical stability.
type LogOdds struct{}

func (LogOdds) Name() string { return "log_odds" }

func (LogOdds) Combine(confidences []float64) float64 {
	if len(confidences) == 0 {
		return 0
	}
	logProd, logComp := 0.0, 0.0
	for _, p := range confidences {
		p = math.Max(1e-6, math.Min(1-1e-6, p))
		logProd += math.Log(p)
		logComp += math.Log(1 - p)
	}
	diff := logComp - logProd
	switch {
	case diff > 500:
		return 0
	case diff < -500:
		return 1
	}
	return 1 / (1 + math.Exp(diff))
}

// WeightedAverage is the alternative strategy: a plain weighted mean.
// Weights align positionally with the confidences; missing weights count
// as 1.
type WeightedAverage struct {
	Weights []float64
}

func (WeightedAverage) Name() string { return "weighted_average" }

func (w WeightedAverage) Combine(confidences []float64) float64 {
	if len(confidences) == 0 {
		return 0
	}
	sum, totalWeight := 0.0, 0.0
	for i, p := range confidences {
		weight := 1.0
		if i < len(w.Weights) {
			weight = w.Weights[i]
		}
		sum += p * weight
		totalWeight += weight
	}
	if totalWeight == 0 {
		return 0
	}
	return math.Max(0, math.Min(1, sum/totalWeight))
}

// FusionScorer derives per-source confidences for a vessel and folds them
// into a posterior presence score. A source with no data contributes a
// neutral default, never an error; only store failures abort.
type FusionScorer struct {
	store    store.Store
	combiner Combiner
	logger   zerolog.Logger
	now      func() time.Time
}

// NewFusionScorer creates a scorer. combiner may be nil for the default
// log-odds rule.
func NewFusionScorer(s store.Store, combiner Combiner, logger zerolog.Logger) *FusionScorer {
	if combiner == nil {
		combiner = LogOdds{}
	}
	return &FusionScorer{
		store:    s,
		combiner: combiner,
		logger:   logger.With().Str("component", "fusion_scorer").Logger(),
		now:      time.Now,
	}
}

// Fuse computes and persists one fusion result for the vessel.
func (f *FusionScorer) Fuse(ctx context.Context, vesselID string) (*messages.FusionResult, error) {
	now := f.now()
	since := now.Add(-evidenceWindow)

	latest, err := f.store.Latest(ctx, vesselID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("fuse %s: latest position: %w", vesselID, err)
	}

	ais := f.aisConfidence(latest, now)
	sar, err := f.sarConfidence(ctx, vesselID, since)
	if err != nil {
		return nil, fmt.Errorf("fuse %s: %w", vesselID, err)
	}
	viirs, err := f.viirsConfidence(ctx, latest, since)
	if err != nil {
		return nil, fmt.Errorf("fuse %s: %w", vesselID, err)
	}
	acoustic, err := f.acousticConfidence(ctx, vesselID, since)
	if err != nil {
		return nil, fmt.Errorf("fuse %s: %w", vesselID, err)
	}

	posterior := f.combiner.Combine([]float64{ais, sar, viirs, acoustic})

	result := &messages.FusionResult{
		ResultID:           uuid.New().String(),
		VesselID:           vesselID,
		AISConfidence:      ais,
		SARConfidence:      sar,
		VIIRSConfidence:    viirs,
		AcousticConfidence: acoustic,
		Posterior:          posterior,
		Classification:     messages.ClassifyPosterior(posterior),
		Timestamp:          now,
	}
	if err := f.store.InsertFusionResult(ctx, result); err != nil {
		return nil, fmt.Errorf("fuse %s: persist: %w", vesselID, err)
	}

	f.logger.Debug().
		Str("vessel_id", vesselID).
		Float64("posterior", posterior).
		Str("classification", string(result.Classification)).
		Str("combiner", f.combiner.Name()).
		Msg("Fusion computed")
	return result, nil
}

// FuseAll recomputes fusion for every tracked vessel, parallelism workers
// at a time. Per-vessel failures are logged and skipped; only the initial
// vessel listing aborts. Returns how many vessels were fused.
func (f *FusionScorer) FuseAll(ctx context.Context, parallelism int) (int, error) {
	latest, err := f.store.LatestAll(ctx, 0)
	if err != nil {
		return 0, fmt.Errorf("fuse all: list vessels: %w", err)
	}
	if parallelism <= 0 {
		parallelism = DefaultFuseParallelism
	}

	var fused atomic.Int64
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for _, sample := range latest {
		vesselID := sample.VesselID
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			if _, err := f.Fuse(gCtx, vesselID); err != nil {
				f.logger.Error().Err(err).Str("vessel_id", vesselID).Msg("Fusion failed")
				return nil
			}
			fused.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(fused.Load()), err
	}
	return int(fused.Load()), nil
}

func (f *FusionScorer) aisConfidence(latest *messages.PositionSample, now time.Time) float64 {
	if latest == nil {
		return aisFloor
	}
	age := now.Sub(latest.Timestamp)
	if age <= aisFreshWindow {
		return aisFreshConfidence
	}
	excess := age - aisFreshWindow
	decay := math.Exp(-math.Ln2 * excess.Minutes() / aisHalfLife.Minutes())
	return math.Max(aisFloor, aisFreshConfidence*decay)
}

func (f *FusionScorer) sarConfidence(ctx context.Context, vesselID string, since time.Time) (float64, error) {
	detections, err := f.store.ListSarDetections(ctx, store.DetectionFilter{Since: &since})
	if err != nil {
		return 0, err
	}
	count := 0
	for i := range detections {
		if m, ok := detections[i].Match.(messages.Matched); ok && m.VesselID == vesselID {
			count++
		}
	}
	if count == 0 {
		return noEvidenceConfidence, nil
	}
	return math.Min(0.9, 0.5+0.1*float64(count)), nil
}

func (f *FusionScorer) viirsConfidence(ctx context.Context, latest *messages.PositionSample, since time.Time) (float64, error) {
	if latest == nil {
		return noEvidenceConfidence, nil
	}
	anomalies, err := f.store.NightLightsNear(ctx, latest.Position, viirsRadiusNM, since)
	if err != nil {
		return 0, err
	}
	if len(anomalies) == 0 {
		return noEvidenceConfidence, nil
	}
	return math.Min(0.85, 0.4+0.1*float64(len(anomalies))), nil
}

func (f *FusionScorer) acousticConfidence(ctx context.Context, vesselID string, since time.Time) (float64, error) {
	events, err := f.store.ListAcousticEvents(ctx, vesselID, since)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return noEvidenceConfidence, nil
	}
	maxConf := 0.3
	for i := range events {
		if m, ok := events[i].Match.(messages.Matched); ok && m.Confidence > maxConf {
			maxConf = m.Confidence
		}
	}
	return math.Min(0.9, maxConf+0.05*float64(len(events)-1)), nil
}
