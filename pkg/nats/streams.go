// Package natsutil provides NATS JetStream configuration and helpers
// for the poseidon platform.
package natsutil

import (
	"context"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// StreamConfigs defines all streams used by the platform.
var StreamConfigs = map[string]jetstream.StreamConfig{
	"POSITIONS": {
		Name:              "POSITIONS",
		Description:       "Normalized AIS position reports",
		Subjects:          []string{"position.>"},
		Retention:         jetstream.LimitsPolicy,
		MaxBytes:          2 * 1024 * 1024 * 1024, // 2GB
		MaxAge:            72 * time.Hour,
		Storage:           jetstream.FileStorage,
		Replicas:          1,
		Discard:           jetstream.DiscardOld,
		MaxMsgsPerSubject: 100000,
	},
	"DETECTIONS": {
		Name:        "DETECTIONS",
		Description: "Sensor detections: SAR contacts, VIIRS anomalies, acoustic events",
		Subjects:    []string{"sensed.>"},
		Retention:   jetstream.LimitsPolicy,
		MaxBytes:    1 * 1024 * 1024 * 1024, // 1GB
		MaxAge:      7 * 24 * time.Hour,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Discard:     jetstream.DiscardOld,
	},
	"ALERTS": {
		Name:        "ALERTS",
		Description: "Derived dark vessel alerts and spoof clusters",
		Subjects:    []string{"alert.>", "cluster.>"},
		Retention:   jetstream.LimitsPolicy,
		MaxBytes:    512 * 1024 * 1024, // 512MB
		MaxAge:      30 * 24 * time.Hour,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	},
}

// ConsumerConfigs defines the durable consumers per service.
var ConsumerConfigs = map[string]jetstream.ConsumerConfig{
	"engine-positions": {
		Durable:       "engine-positions",
		Description:   "Engine consumer for position reports",
		FilterSubject: "position.>",
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    3,
		MaxAckPending: 1000,
	},
	"engine-detections": {
		Durable:       "engine-detections",
		Description:   "Engine consumer for sensor detections",
		FilterSubject: "sensed.>",
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    3,
		MaxAckPending: 500,
	},
	"gateway-alerts": {
		Durable:       "gateway-alerts",
		Description:   "API gateway consumer for alerts and clusters",
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    3,
		MaxAckPending: 500,
	},
}

// SetupStreams creates all required streams.
func SetupStreams(ctx context.Context, js jetstream.JetStream) error {
	for name, cfg := range StreamConfigs {
		_, err := js.Stream(ctx, name)
		if err == nil {
			continue // Stream exists
		}

		_, err = js.CreateStream(ctx, cfg)
		if err != nil {
			return err
		}
	}
	return nil
}

// SetupConsumer creates a durable consumer on a stream.
func SetupConsumer(ctx context.Context, js jetstream.JetStream, streamName, consumerName string) (jetstream.Consumer, error) {
	cfg, ok := ConsumerConfigs[consumerName]
	if !ok {
		cfg = jetstream.ConsumerConfig{
			Durable:       consumerName,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    3,
			MaxAckPending: 100,
		}
	}

	stream, err := js.Stream(ctx, streamName)
	if err != nil {
		return nil, err
	}

	consumer, err := stream.Consumer(ctx, cfg.Durable)
	if err == nil {
		return consumer, nil
	}

	return stream.CreateConsumer(ctx, cfg)
}
