// Package service provides the shared runtime base for poseidon services:
// configuration from the environment, NATS/JetStream connectivity, structured
// logging, per-service metrics, and signed message publishing.
package service

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/poseidon-mda/poseidon/pkg/messages"
)

// HealthStatus reports service health for the /health endpoint
type HealthStatus struct {
	Healthy bool   `json:"healthy"`
	Status  string `json:"status"`
	Details string `json:"details,omitempty"`
}

// Config holds configuration for a service
type Config struct {
	Name      string
	NATSUrl   string
	NATSUser  string
	NATSPass  string
	DBUrl     string
	PolicyURL string
	OTELUrl   string
	HTTPAddr  string
	Secret    []byte
}

// FromEnv builds a service config from environment variables, falling back
// to local-development defaults.
func FromEnv(name string) Config {
	return Config{
		Name:      name,
		NATSUrl:   envOr("NATS_URL", nats.DefaultURL),
		NATSUser:  envOr("NATS_USER", name),
		NATSPass:  envOr("NATS_PASSWORD", ""),
		DBUrl:     envOr("DATABASE_URL", ""),
		PolicyURL: envOr("POLICY_URL", "http://localhost:8181"),
		OTELUrl:   envOr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		HTTPAddr:  envOr("HTTP_ADDR", ":8080"),
		Secret:    []byte(envOr("MESSAGE_SECRET", "poseidon-dev-secret")),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// EnvInt reads an integer environment variable with a fallback
func EnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// Base provides common functionality for all services
type Base struct {
	name   string
	config Config

	nc *nats.Conn
	js jetstream.JetStream

	logger zerolog.Logger

	registry      *prometheus.Registry
	messagesTotal *prometheus.CounterVec
	latencyHist   *prometheus.HistogramVec
	errorsTotal   *prometheus.CounterVec

	running bool
	mu      sync.RWMutex
	cancel  context.CancelFunc
}

// NewBase creates a new service base with common setup
func NewBase(cfg Config) *Base {
	logger := zerolog.New(os.Stdout).With().
		Timestamp().
		Str("service", cfg.Name).
		Logger()

	registry := prometheus.NewRegistry()

	messagesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "service_messages_total",
			Help: "Total messages processed by service",
		},
		[]string{"status", "message_type"},
	)

	latencyHist := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "service_processing_latency_seconds",
			Help:    "Message processing latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"message_type"},
	)

	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "service_errors_total",
			Help: "Total errors encountered by service",
		},
		[]string{"error_type"},
	)

	registry.MustRegister(messagesTotal, latencyHist, errorsTotal)

	return &Base{
		name:          cfg.Name,
		config:        cfg,
		logger:        logger,
		registry:      registry,
		messagesTotal: messagesTotal,
		latencyHist:   latencyHist,
		errorsTotal:   errorsTotal,
	}
}

// Name returns the service name
func (b *Base) Name() string {
	return b.name
}

// Config returns the service configuration
func (b *Base) Config() Config {
	return b.config
}

// Logger returns the service logger
func (b *Base) Logger() *zerolog.Logger {
	return &b.logger
}

// NATS returns the NATS connection
func (b *Base) NATS() *nats.Conn {
	return b.nc
}

// JetStream returns the JetStream context
func (b *Base) JetStream() jetstream.JetStream {
	return b.js
}

// Metrics returns the Prometheus registry
func (b *Base) Metrics() *prometheus.Registry {
	return b.registry
}

// RecordMessage records a processed message metric
func (b *Base) RecordMessage(status, msgType string) {
	b.messagesTotal.WithLabelValues(status, msgType).Inc()
}

// RecordLatency records processing latency
func (b *Base) RecordLatency(msgType string, duration time.Duration) {
	b.latencyHist.WithLabelValues(msgType).Observe(duration.Seconds())
}

// RecordError records an error metric
func (b *Base) RecordError(errorType string) {
	b.errorsTotal.WithLabelValues(errorType).Inc()
}

// Connect establishes the NATS connection and JetStream context
func (b *Base) Connect(ctx context.Context) error {
	b.logger.Info().Str("url", b.config.NATSUrl).Msg("Connecting to NATS")

	opts := []nats.Option{
		nats.Name(b.name),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			b.logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			b.logger.Info().Msg("NATS reconnected")
		}),
	}
	if b.config.NATSPass != "" {
		opts = append(opts, nats.UserInfo(b.config.NATSUser, b.config.NATSPass))
	}

	nc, err := nats.Connect(b.config.NATSUrl, opts...)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}

	b.nc = nc

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	b.js = js
	b.logger.Info().Msg("Connected to NATS with JetStream")

	return nil
}

// Health returns the health status
func (b *Base) Health() HealthStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.running {
		return HealthStatus{Healthy: false, Status: "stopped"}
	}

	if b.nc == nil || !b.nc.IsConnected() {
		return HealthStatus{Healthy: false, Status: "disconnected", Details: "NATS connection lost"}
	}

	return HealthStatus{Healthy: true, Status: "running"}
}

// Start begins the service lifecycle
func (b *Base) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return fmt.Errorf("service already running")
	}
	b.running = true

	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.mu.Unlock()

	if err := b.Connect(ctx); err != nil {
		b.mu.Lock()
		b.running = false
		b.mu.Unlock()
		return err
	}

	b.logger.Info().Msg("Service started")
	return nil
}

// Stop gracefully stops the service
func (b *Base) Stop(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.running {
		return nil
	}

	b.logger.Info().Msg("Stopping service")

	if b.cancel != nil {
		b.cancel()
	}

	if b.nc != nil {
		b.nc.Close()
	}

	b.running = false
	b.logger.Info().Msg("Service stopped")
	return nil
}

// Publish signs a message with the shared secret and publishes it to its
// subject via JetStream.
func (b *Base) Publish(ctx context.Context, msg messages.Message) error {
	data, err := messages.MarshalWithSignature(msg, b.config.Secret)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if _, err := b.js.Publish(ctx, msg.Subject(), data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", msg.Subject(), err)
	}
	return nil
}

// EnsureStream creates a stream if it doesn't exist
func (b *Base) EnsureStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error) {
	stream, err := b.js.Stream(ctx, cfg.Name)
	if err == nil {
		return stream, nil
	}

	stream, err = b.js.CreateStream(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create stream %s: %w", cfg.Name, err)
	}

	b.logger.Info().Str("stream", cfg.Name).Msg("Created stream")
	return stream, nil
}

// EnsureConsumer creates a consumer if it doesn't exist
func (b *Base) EnsureConsumer(ctx context.Context, stream string, cfg jetstream.ConsumerConfig) (jetstream.Consumer, error) {
	s, err := b.js.Stream(ctx, stream)
	if err != nil {
		return nil, fmt.Errorf("stream %s not found: %w", stream, err)
	}

	consumer, err := s.Consumer(ctx, cfg.Durable)
	if err == nil {
		return consumer, nil
	}

	consumer, err = s.CreateConsumer(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer %s: %w", cfg.Durable, err)
	}

	b.logger.Info().Str("consumer", cfg.Durable).Str("stream", stream).Msg("Created consumer")
	return consumer, nil
}
