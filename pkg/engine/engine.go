// Package engine implements the maritime domain awareness analysis core:
// dark-vessel gap detection, spoof-signal flagging and clustering,
// cross-source correlation, Bayesian fusion, risk scoring, and route
// prediction over a shared versioned store.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/poseidon-mda/poseidon/pkg/messages"
	"github.com/poseidon-mda/poseidon/pkg/store"
)

const (
	// DefaultGapInterval is how often the gap detector sweeps.
	DefaultGapInterval = 5 * time.Minute
	// DefaultClusterInterval is how often signals are reclustered.
	DefaultClusterInterval = 2 * time.Minute
	// DefaultAcousticInterval is how often acoustic events are correlated.
	DefaultAcousticInterval = 10 * time.Minute
	// DefaultMaxSampleAge is the oldest position OnPosition will accept.
	DefaultMaxSampleAge = 24 * time.Hour
)

// Publisher pushes derived messages (alerts, clusters) to downstream
// consumers. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, msg messages.Message) error
}

// Config assembles the per-component configurations plus pass intervals.
type Config struct {
	Gap        GapConfig
	Flag       FlagConfig
	Cluster    ClusterConfig
	Correlator CorrelatorConfig

	GapInterval      time.Duration
	ClusterInterval  time.Duration
	AcousticInterval time.Duration

	// MaxSampleAge bounds how old an ingested position may be. Older
	// samples are rejected with ErrStaleInput; replaying a feed that far
	// back would reopen resolved alerts.
	MaxSampleAge time.Duration
}

// DefaultConfig returns production defaults for every component.
func DefaultConfig() Config {
	return Config{
		Gap:              DefaultGapConfig(),
		Flag:             DefaultFlagConfig(),
		Cluster:          DefaultClusterConfig(),
		Correlator:       DefaultCorrelatorConfig(),
		GapInterval:      DefaultGapInterval,
		ClusterInterval:  DefaultClusterInterval,
		AcousticInterval: DefaultAcousticInterval,
		MaxSampleAge:     DefaultMaxSampleAge,
	}
}

// Engine wires the analysis components over one store and publisher and
// drives the periodic passes. Reactive entry points (OnPosition, OnScene)
// are safe to call concurrently with the scheduled passes; versioned
// store updates resolve the races.
type Engine struct {
	Gaps       *GapDetector
	Flagger    *Flagger
	Clusterer  *Clusterer
	Correlator *Correlator
	Fusion     *FusionScorer
	Risk       *RiskScorer
	Routes     *RoutePredictor

	store  store.Store
	cfg    Config
	logger zerolog.Logger
	tracer trace.Tracer

	registry       *prometheus.Registry
	passesTotal    *prometheus.CounterVec
	passDuration   *prometheus.HistogramVec
	alertsGauge    prometheus.Gauge
	signalsFlagged prometheus.Counter
}

// New assembles an engine. combiner may be nil for the default log-odds
// fusion rule.
func New(s store.Store, pub Publisher, combiner Combiner, logger zerolog.Logger, cfg Config) *Engine {
	if cfg.GapInterval <= 0 {
		cfg.GapInterval = DefaultGapInterval
	}
	if cfg.ClusterInterval <= 0 {
		cfg.ClusterInterval = DefaultClusterInterval
	}
	if cfg.AcousticInterval <= 0 {
		cfg.AcousticInterval = DefaultAcousticInterval
	}

	registry := prometheus.NewRegistry()
	passesTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_passes_total",
		Help: "Completed analysis passes by type and status",
	}, []string{"pass", "status"})
	passDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "engine_pass_duration_seconds",
		Help:    "Analysis pass duration in seconds",
		Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"pass"})
	alertsGauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "engine_active_dark_alerts",
		Help: "Currently active dark vessel alerts",
	})
	signalsFlagged := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "engine_spoof_signals_total",
		Help: "Total spoof signals flagged",
	})
	registry.MustRegister(passesTotal, passDuration, alertsGauge, signalsFlagged)

	e := &Engine{
		Gaps:       NewGapDetector(s, pub, logger, cfg.Gap),
		Flagger:    NewFlagger(s, logger, cfg.Flag),
		Clusterer:  NewClusterer(s, pub, logger, cfg.Cluster),
		Correlator: NewCorrelator(s, logger, cfg.Correlator),
		Fusion:     NewFusionScorer(s, combiner, logger),
		Risk:       NewRiskScorer(s, logger),
		Routes:     NewRoutePredictor(s, logger),

		store:  s,
		cfg:    cfg,
		logger: logger.With().Str("component", "engine").Logger(),
		tracer: otel.Tracer("poseidon/engine"),

		registry:       registry,
		passesTotal:    passesTotal,
		passDuration:   passDuration,
		alertsGauge:    alertsGauge,
		signalsFlagged: signalsFlagged,
	}
	return e
}

// Metrics returns the engine's Prometheus registry.
func (e *Engine) Metrics() *prometheus.Registry {
	return e.registry
}

// OnPosition handles one ingested position: persist the sample, flag
// anomalies against the previous sample, and resolve any active dark
// alert. Called per message; per-record failures are logged, not fatal.
func (e *Engine) OnPosition(ctx context.Context, msg *messages.PositionMessage) error {
	ctx, span := e.tracer.Start(ctx, "engine.OnPosition",
		trace.WithAttributes(attribute.String("vessel_id", msg.Sample.VesselID)))
	defer span.End()

	if e.cfg.MaxSampleAge > 0 && time.Since(msg.Sample.Timestamp) > e.cfg.MaxSampleAge {
		return fmt.Errorf("position for %s aged %s: %w",
			msg.Sample.VesselID, time.Since(msg.Sample.Timestamp).Round(time.Minute), ErrStaleInput)
	}

	prev, err := e.store.Latest(ctx, msg.Sample.VesselID)
	if err != nil {
		prev = nil
	}

	if _, err := e.store.UpsertPosition(ctx, msg.Sample); err != nil {
		return err
	}
	if msg.Name != "" || msg.IMO != "" || msg.Callsign != "" || msg.ShipType != "" {
		vessel := messages.Vessel{
			VesselID: msg.Sample.VesselID,
			IMO:      msg.IMO,
			Name:     msg.Name,
			Callsign: msg.Callsign,
			ShipType: msg.ShipType,
		}
		if err := e.store.UpsertVessel(ctx, vessel); err != nil {
			e.logger.Error().Err(err).Str("vessel_id", vessel.VesselID).Msg("Vessel upsert failed")
		}
	}

	flagged := e.Flagger.Flag(ctx, msg, prev)
	e.signalsFlagged.Add(float64(len(flagged)))

	e.Gaps.ResolveOnPosition(ctx, msg.Sample)
	return nil
}

// OnScene correlates a completed SAR scene. Safe to call repeatedly as
// scenes finish processing.
func (e *Engine) OnScene(ctx context.Context, sceneID string) error {
	ctx, span := e.tracer.Start(ctx, "engine.OnScene",
		trace.WithAttributes(attribute.String("scene_id", sceneID)))
	defer span.End()

	_, _, err := e.Correlator.MatchScene(ctx, sceneID)
	return err
}

// Run drives the periodic passes until the context is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.loop(ctx, "gap_sweep", e.cfg.GapInterval, e.gapPass) })
	g.Go(func() error { return e.loop(ctx, "cluster", e.cfg.ClusterInterval, e.clusterPass) })
	g.Go(func() error { return e.loop(ctx, "acoustic", e.cfg.AcousticInterval, e.acousticPass) })

	e.logger.Info().
		Dur("gap_interval", e.cfg.GapInterval).
		Dur("cluster_interval", e.cfg.ClusterInterval).
		Dur("acoustic_interval", e.cfg.AcousticInterval).
		Msg("Engine passes started")
	return g.Wait()
}

func (e *Engine) loop(ctx context.Context, name string, interval time.Duration, pass func(context.Context) error) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.runPass(ctx, name, pass)
		}
	}
}

func (e *Engine) runPass(ctx context.Context, name string, pass func(context.Context) error) {
	ctx, span := e.tracer.Start(ctx, "engine."+name)
	defer span.End()

	start := time.Now()
	err := pass(ctx)
	e.passDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if err != nil {
		e.passesTotal.WithLabelValues(name, "error").Inc()
		span.RecordError(err)
		e.logger.Error().Err(err).Str("pass", name).Msg("Pass failed")
		return
	}
	e.passesTotal.WithLabelValues(name, "ok").Inc()
}

func (e *Engine) gapPass(ctx context.Context) error {
	if _, err := e.Gaps.Sweep(ctx); err != nil {
		return err
	}
	active, err := e.store.ListAlerts(ctx, store.AlertFilter{Status: messages.AlertActive})
	if err == nil {
		e.alertsGauge.Set(float64(len(active)))
	}
	return nil
}

func (e *Engine) clusterPass(ctx context.Context) error {
	_, err := e.Clusterer.Run(ctx)
	return err
}

func (e *Engine) acousticPass(ctx context.Context) error {
	since := time.Now().Add(-e.cfg.Correlator.AcousticWindow * 2)
	_, err := e.Correlator.CorrelateAcoustic(ctx, since)
	return err
}
