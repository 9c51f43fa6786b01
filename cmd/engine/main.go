// Engine service - consumes position and detection feeds, runs the scheduled
// analysis passes, and publishes derived alerts and clusters.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/poseidon-mda/poseidon/pkg/engine"
	"github.com/poseidon-mda/poseidon/pkg/messages"
	natsutil "github.com/poseidon-mda/poseidon/pkg/nats"
	"github.com/poseidon-mda/poseidon/pkg/policy"
	"github.com/poseidon-mda/poseidon/pkg/postgres"
	"github.com/poseidon-mda/poseidon/pkg/service"
)

const fetchBatch = 10

// EngineService runs the analysis engine over the JetStream feeds
type EngineService struct {
	*service.Base
	logger zerolog.Logger

	db     *postgres.Pool
	eng    *engine.Engine
	policy *policy.Client

	positions  jetstream.Consumer
	detections jetstream.Consumer
}

// NewEngineService creates the engine service
func NewEngineService(ctx context.Context, cfg service.Config) (*EngineService, error) {
	base := service.NewBase(cfg)

	dbURL := cfg.DBUrl
	if dbURL == "" {
		dbURL = postgres.DefaultConfig().ConnectionString()
	}
	db, err := postgres.NewPoolFromURL(ctx, dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	if err := db.InitSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	s := &EngineService{
		Base:   base,
		logger: *base.Logger(),
		db:     db,
		policy: policy.NewClient(cfg.PolicyURL),
	}

	// Alert and cluster publications pass through the policy gate before
	// they reach the wire.
	s.eng = engine.New(db, s.gatedPublisher(), nil, s.logger, engine.DefaultConfig())

	return s, nil
}

// gatedPublisher wraps the base publisher with the policy release check for
// dark alerts. Denied alerts stay in the store but are not broadcast.
func (s *EngineService) gatedPublisher() engine.Publisher {
	return publisherFunc(func(ctx context.Context, msg messages.Message) error {
		if alert, ok := msg.(*messages.DarkAlert); ok {
			decision := s.policy.ReleaseAlert(ctx, alert)
			if !decision.Allowed {
				s.logger.Warn().
					Str("alert_id", alert.AlertID).
					Str("vessel_id", alert.VesselID).
					Strs("reasons", decision.Reasons).
					Msg("Alert release denied by policy")
				return nil
			}
		}
		return s.Publish(ctx, msg)
	})
}

type publisherFunc func(context.Context, messages.Message) error

func (f publisherFunc) Publish(ctx context.Context, msg messages.Message) error {
	return f(ctx, msg)
}

// Run starts the engine service
func (s *EngineService) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return fmt.Errorf("failed to start service: %w", err)
	}

	if err := natsutil.SetupStreams(ctx, s.JetStream()); err != nil {
		return fmt.Errorf("failed to setup streams: %w", err)
	}

	positions, err := natsutil.SetupConsumer(ctx, s.JetStream(), "POSITIONS", "engine-positions")
	if err != nil {
		return fmt.Errorf("failed to setup positions consumer: %w", err)
	}
	s.positions = positions

	detections, err := natsutil.SetupConsumer(ctx, s.JetStream(), "DETECTIONS", "engine-detections")
	if err != nil {
		return fmt.Errorf("failed to setup detections consumer: %w", err)
	}
	s.detections = detections

	s.logger.Info().Msg("Engine started, consuming POSITIONS and DETECTIONS")

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.eng.Run(gCtx) })
	g.Go(func() error { return s.consume(gCtx, s.positions, "position", s.processPosition) })
	g.Go(func() error { return s.consume(gCtx, s.detections, "detection", s.processDetection) })
	return g.Wait()
}

// consume runs a fetch loop over a durable consumer
func (s *EngineService) consume(ctx context.Context, consumer jetstream.Consumer, msgType string, process func(context.Context, jetstream.Msg) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msgs, err := consumer.Fetch(fetchBatch, jetstream.FetchMaxWait(5*time.Second))
		if err != nil {
			if err == context.DeadlineExceeded || err == context.Canceled {
				continue
			}
			s.logger.Error().Err(err).Str("type", msgType).Msg("Failed to fetch messages")
			s.RecordError("fetch_error")
			time.Sleep(time.Second)
			continue
		}

		for msg := range msgs.Messages() {
			start := time.Now()
			if err := process(ctx, msg); err != nil {
				s.logger.Error().Err(err).Str("subject", msg.Subject()).Msg("Failed to process message")
				s.RecordError("process_error")
				s.RecordMessage("error", msgType)
				msg.Nak()
			} else {
				s.RecordMessage("ok", msgType)
				msg.Ack()
			}
			s.RecordLatency(msgType, time.Since(start))
		}

		if msgs.Error() != nil && msgs.Error() != context.DeadlineExceeded {
			s.logger.Warn().Err(msgs.Error()).Str("type", msgType).Msg("Message batch error")
		}
	}
}

// processPosition handles one AIS position report
func (s *EngineService) processPosition(ctx context.Context, msg jetstream.Msg) error {
	var pos messages.PositionMessage
	if err := json.Unmarshal(msg.Data(), &pos); err != nil {
		return fmt.Errorf("failed to unmarshal position: %w", err)
	}
	if err := s.eng.OnPosition(ctx, &pos); err != nil {
		// Stale replays are dropped, not redelivered.
		if errors.Is(err, engine.ErrStaleInput) {
			s.logger.Warn().Err(err).Msg("Dropping stale position")
			return nil
		}
		return err
	}
	return nil
}

// processDetection routes a sensed.> message by its subject
func (s *EngineService) processDetection(ctx context.Context, msg jetstream.Msg) error {
	subject := msg.Subject()

	switch {
	case strings.HasPrefix(subject, "sensed.sar."):
		var det messages.DetectionMessage
		if err := json.Unmarshal(msg.Data(), &det); err != nil {
			return fmt.Errorf("failed to unmarshal SAR detection: %w", err)
		}
		if err := s.db.InsertSarDetection(ctx, &det.Detection); err != nil {
			return err
		}
		// Correlate the scene immediately; detections for the same scene
		// arrive in a burst and MatchScene reruns are idempotent.
		return s.eng.OnScene(ctx, det.Detection.SceneID)

	case strings.HasPrefix(subject, "sensed.viirs."):
		var nl messages.NightLightMessage
		if err := json.Unmarshal(msg.Data(), &nl); err != nil {
			return fmt.Errorf("failed to unmarshal VIIRS anomaly: %w", err)
		}
		return s.db.InsertNightLight(ctx, &nl.Anomaly)

	case strings.HasPrefix(subject, "sensed.acoustic."):
		var ac messages.AcousticMessage
		if err := json.Unmarshal(msg.Data(), &ac); err != nil {
			return fmt.Errorf("failed to unmarshal acoustic event: %w", err)
		}
		return s.db.InsertAcousticEvent(ctx, &ac.Event)

	default:
		s.logger.Warn().Str("subject", subject).Msg("Unknown detection subject, dropping")
		return nil
	}
}

// Close releases the database pool
func (s *EngineService) Close() {
	if s.db != nil {
		s.db.Close()
	}
}

func main() {
	cfg := service.FromEnv("poseidon-engine")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eng, err := NewEngineService(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create engine service: %v\n", err)
		os.Exit(1)
	}
	defer eng.Close()

	shutdownTracing, err := service.InitTracing(ctx, cfg.Name, cfg.OTELUrl)
	if err != nil {
		eng.logger.Warn().Err(err).Msg("Tracing disabled")
		shutdownTracing = func(context.Context) error { return nil }
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Metrics and health server
	go func() {
		metricsAddr := eng.Config().HTTPAddr
		mux := http.NewServeMux()
		gatherers := prometheus.Gatherers{eng.Metrics(), eng.eng.Metrics()}
		mux.Handle("/metrics", promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{}))
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			health := eng.Health()
			if health.Healthy {
				w.WriteHeader(http.StatusOK)
			} else {
				w.WriteHeader(http.StatusServiceUnavailable)
			}
			json.NewEncoder(w).Encode(health)
		})
		eng.logger.Info().Str("addr", metricsAddr).Msg("Starting metrics server")
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			eng.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()

	go func() {
		if err := eng.Run(ctx); err != nil && err != context.Canceled {
			eng.logger.Error().Err(err).Msg("Engine service error")
			cancel()
		}
	}()

	sig := <-sigChan
	eng.logger.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := eng.Stop(shutdownCtx); err != nil {
		eng.logger.Error().Err(err).Msg("Error during shutdown")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		eng.logger.Warn().Err(err).Msg("Tracer shutdown error")
	}

	eng.logger.Info().Msg("Engine service stopped")
}
