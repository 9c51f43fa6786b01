package postgres

import (
	"context"
	"fmt"
)

// schemaSQL creates the engine's tables. Statements are idempotent so every
// service can run InitSchema at startup without coordination.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS vessels (
	vessel_id   TEXT PRIMARY KEY,
	imo         TEXT NOT NULL DEFAULT '',
	name        TEXT NOT NULL DEFAULT '',
	callsign    TEXT NOT NULL DEFAULT '',
	ship_type   TEXT NOT NULL DEFAULT '',
	destination TEXT NOT NULL DEFAULT '',
	eta         TIMESTAMPTZ,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS vessel_positions (
	vessel_id  TEXT NOT NULL,
	lat        DOUBLE PRECISION NOT NULL,
	lon        DOUBLE PRECISION NOT NULL,
	sog        DOUBLE PRECISION NOT NULL,
	cog        DOUBLE PRECISION NOT NULL,
	heading    DOUBLE PRECISION NOT NULL,
	nav_status TEXT NOT NULL DEFAULT '',
	ts         TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (vessel_id, ts)
);
CREATE INDEX IF NOT EXISTS idx_vessel_positions_ts ON vessel_positions (ts DESC);

CREATE TABLE IF NOT EXISTS dark_vessel_alerts (
	alert_id         TEXT PRIMARY KEY,
	vessel_id        TEXT NOT NULL,
	status           TEXT NOT NULL,
	last_lat         DOUBLE PRECISION NOT NULL,
	last_lon         DOUBLE PRECISION NOT NULL,
	pred_lat         DOUBLE PRECISION NOT NULL,
	pred_lon         DOUBLE PRECISION NOT NULL,
	last_sog         DOUBLE PRECISION NOT NULL,
	last_cog         DOUBLE PRECISION NOT NULL,
	gap_hours        DOUBLE PRECISION NOT NULL,
	search_radius_nm DOUBLE PRECISION NOT NULL,
	last_seen_at     TIMESTAMPTZ NOT NULL,
	detected_at      TIMESTAMPTZ NOT NULL,
	resolved_at      TIMESTAMPTZ,
	envelope         JSONB NOT NULL,
	version          BIGINT NOT NULL DEFAULT 1
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_alerts_one_active
	ON dark_vessel_alerts (vessel_id) WHERE status = 'active';
CREATE INDEX IF NOT EXISTS idx_alerts_detected_at ON dark_vessel_alerts (detected_at DESC);

CREATE TABLE IF NOT EXISTS spoof_signals (
	signal_id    TEXT PRIMARY KEY,
	vessel_id    TEXT NOT NULL,
	anomaly_type TEXT NOT NULL,
	lat          DOUBLE PRECISION NOT NULL,
	lon          DOUBLE PRECISION NOT NULL,
	sog          DOUBLE PRECISION NOT NULL DEFAULT 0,
	cog          DOUBLE PRECISION NOT NULL DEFAULT 0,
	nav_status   TEXT NOT NULL DEFAULT '',
	details      JSONB,
	detected_at  TIMESTAMPTZ NOT NULL,
	cluster_id   TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_spoof_signals_vessel ON spoof_signals (vessel_id, detected_at);
CREATE INDEX IF NOT EXISTS idx_spoof_signals_detected_at ON spoof_signals (detected_at);

CREATE TABLE IF NOT EXISTS spoof_clusters (
	cluster_id    TEXT PRIMARY KEY,
	signal_count  INTEGER NOT NULL,
	centroid_lat  DOUBLE PRECISION NOT NULL,
	centroid_lon  DOUBLE PRECISION NOT NULL,
	radius_nm     DOUBLE PRECISION NOT NULL,
	window_start  TIMESTAMPTZ NOT NULL,
	window_end    TIMESTAMPTZ NOT NULL,
	anomaly_types TEXT[] NOT NULL DEFAULT '{}',
	status        TEXT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL,
	envelope      JSONB NOT NULL,
	version       BIGINT NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS sar_detections (
	detection_id         TEXT PRIMARY KEY,
	scene_id             TEXT NOT NULL,
	lat                  DOUBLE PRECISION NOT NULL,
	lon                  DOUBLE PRECISION NOT NULL,
	rcs_db               DOUBLE PRECISION NOT NULL,
	confidence           DOUBLE PRECISION NOT NULL,
	observed_at          TIMESTAMPTZ NOT NULL,
	matched_vessel_id    TEXT,
	match_distance_nm    DOUBLE PRECISION,
	match_time_delta_sec DOUBLE PRECISION,
	match_confidence     DOUBLE PRECISION
);
CREATE INDEX IF NOT EXISTS idx_sar_detections_scene ON sar_detections (scene_id);
CREATE INDEX IF NOT EXISTS idx_sar_detections_matched ON sar_detections (matched_vessel_id)
	WHERE matched_vessel_id IS NOT NULL;

CREATE TABLE IF NOT EXISTS viirs_anomalies (
	anomaly_id  TEXT PRIMARY KEY,
	lat         DOUBLE PRECISION NOT NULL,
	lon         DOUBLE PRECISION NOT NULL,
	radiance    DOUBLE PRECISION NOT NULL,
	baseline    DOUBLE PRECISION NOT NULL,
	ratio       DOUBLE PRECISION NOT NULL,
	observed_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_viirs_anomalies_observed ON viirs_anomalies (observed_at, lat, lon);

CREATE TABLE IF NOT EXISTS acoustic_events (
	event_id             TEXT PRIMARY KEY,
	lat                  DOUBLE PRECISION NOT NULL,
	lon                  DOUBLE PRECISION NOT NULL,
	bearing              DOUBLE PRECISION NOT NULL,
	magnitude            DOUBLE PRECISION NOT NULL,
	event_time           TIMESTAMPTZ NOT NULL,
	matched_vessel_id    TEXT,
	match_distance_nm    DOUBLE PRECISION,
	match_time_delta_sec DOUBLE PRECISION,
	match_confidence     DOUBLE PRECISION
);
CREATE INDEX IF NOT EXISTS idx_acoustic_events_time ON acoustic_events (event_time);

CREATE TABLE IF NOT EXISTS signal_fusion_results (
	result_id           TEXT PRIMARY KEY,
	vessel_id           TEXT NOT NULL,
	ais_confidence      DOUBLE PRECISION NOT NULL,
	sar_confidence      DOUBLE PRECISION NOT NULL,
	viirs_confidence    DOUBLE PRECISION NOT NULL,
	acoustic_confidence DOUBLE PRECISION NOT NULL,
	posterior           DOUBLE PRECISION NOT NULL,
	classification      TEXT NOT NULL,
	ts                  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_fusion_results_vessel ON signal_fusion_results (vessel_id, ts DESC);

CREATE TABLE IF NOT EXISTS vessel_risk_scores (
	score_id           TEXT PRIMARY KEY,
	vessel_id          TEXT NOT NULL,
	identity_score     INTEGER NOT NULL,
	flag_risk_score    INTEGER NOT NULL,
	anomaly_score      INTEGER NOT NULL,
	dark_history_score INTEGER NOT NULL,
	overall            INTEGER NOT NULL,
	level              TEXT NOT NULL,
	details            JSONB,
	scored_at          TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_risk_scores_vessel ON vessel_risk_scores (vessel_id, scored_at DESC);

CREATE TABLE IF NOT EXISTS route_predictions (
	id            BIGSERIAL PRIMARY KEY,
	vessel_id     TEXT NOT NULL,
	waypoints     JSONB NOT NULL,
	confidence_70 JSONB NOT NULL,
	confidence_90 JSONB NOT NULL,
	hours_ahead   DOUBLE PRECISION NOT NULL,
	sog_used      DOUBLE PRECISION NOT NULL,
	cog_used      DOUBLE PRECISION NOT NULL,
	eta           TIMESTAMPTZ,
	predicted_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_route_predictions_vessel ON route_predictions (vessel_id, predicted_at DESC);
`

// InitSchema creates all tables and indexes if they do not exist
func (p *Pool) InitSchema(ctx context.Context) error {
	if _, err := p.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}
