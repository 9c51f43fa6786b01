// Package postgres provides PostgreSQL connection pooling and the durable
// implementation of the store interfaces.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/poseidon-mda/poseidon/pkg/geo"
	"github.com/poseidon-mda/poseidon/pkg/messages"
	"github.com/poseidon-mda/poseidon/pkg/store"
)

// Pool wraps pgxpool.Pool with domain-specific query methods
type Pool struct {
	*pgxpool.Pool
}

// Config holds PostgreSQL connection configuration
type Config struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string

	// Pool settings
	MaxConns    int32
	MinConns    int32
	MaxConnLife time.Duration
	MaxConnIdle time.Duration
	HealthCheck time.Duration
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		Host:        "localhost",
		Port:        5432,
		Database:    "poseidon",
		User:        "poseidon",
		Password:    "poseidon",
		SSLMode:     "disable",
		MaxConns:    25,
		MinConns:    5,
		MaxConnLife: time.Hour,
		MaxConnIdle: 30 * time.Minute,
		HealthCheck: time.Minute,
	}
}

// ConnectionString builds a PostgreSQL connection string
func (c Config) ConnectionString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

// NewPool creates a new PostgreSQL connection pool
func NewPool(ctx context.Context, cfg Config) (*Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLife
	poolCfg.MaxConnIdleTime = cfg.MaxConnIdle
	poolCfg.HealthCheckPeriod = cfg.HealthCheck

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Pool{Pool: pool}, nil
}

// NewPoolFromURL creates a pool from a connection URL
func NewPoolFromURL(ctx context.Context, url string) (*Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection URL: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Pool{Pool: pool}, nil
}

// Health checks if the database connection is healthy
func (p *Pool) Health(ctx context.Context) error {
	return p.Ping(ctx)
}

// historyWindow bounds the history slice returned by UpsertPosition. Callers
// that need more call History directly.
const historyWindow = 24 * time.Hour

// UpsertPosition appends a position sample and returns the vessel's track
// with the trailing day of history. Duplicate (vessel, timestamp) samples
// are ignored so replayed feed messages stay idempotent.
func (p *Pool) UpsertPosition(ctx context.Context, sample messages.PositionSample) (*messages.VesselTrack, error) {
	if err := sample.Position.Validate(); err != nil {
		return nil, fmt.Errorf("invalid position for %s: %w", sample.VesselID, err)
	}

	_, err := p.Exec(ctx, `
		INSERT INTO vessel_positions (vessel_id, lat, lon, sog, cog, heading, nav_status, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (vessel_id, ts) DO NOTHING
	`, sample.VesselID, sample.Position.Lat, sample.Position.Lon,
		sample.SOG, sample.COG, sample.Heading, sample.NavStatus, sample.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("failed to insert position: %w", err)
	}

	history, err := p.History(ctx, sample.VesselID, sample.Timestamp.Add(-historyWindow))
	if err != nil {
		return nil, err
	}

	track := &messages.VesselTrack{VesselID: sample.VesselID, History: history}
	if len(history) > 0 {
		track.Latest = history[len(history)-1]
	}
	return track, nil
}

// Latest returns the most recent sample for a vessel
func (p *Pool) Latest(ctx context.Context, vesselID string) (*messages.PositionSample, error) {
	row := p.QueryRow(ctx, `
		SELECT vessel_id, lat, lon, sog, cog, heading, nav_status, ts
		FROM vessel_positions
		WHERE vessel_id = $1
		ORDER BY ts DESC
		LIMIT 1
	`, vesselID)

	s, err := scanPosition(row)
	if err == pgx.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest position: %w", err)
	}
	return &s, nil
}

// LatestAll returns the most recent sample of every tracked vessel
func (p *Pool) LatestAll(ctx context.Context, limit int) ([]messages.PositionSample, error) {
	query := `
		SELECT DISTINCT ON (vessel_id)
			vessel_id, lat, lon, sog, cog, heading, nav_status, ts
		FROM vessel_positions
		ORDER BY vessel_id, ts DESC
	`
	args := []interface{}{}
	if limit > 0 {
		query = "SELECT * FROM (" + query + ") latest LIMIT $1"
		args = append(args, limit)
	}

	rows, err := p.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest positions: %w", err)
	}
	defer rows.Close()

	var samples []messages.PositionSample
	for rows.Next() {
		s, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		samples = append(samples, s)
	}
	return samples, rows.Err()
}

// History returns samples for a vessel at or after since, oldest first
func (p *Pool) History(ctx context.Context, vesselID string, since time.Time) ([]messages.PositionSample, error) {
	rows, err := p.Query(ctx, `
		SELECT vessel_id, lat, lon, sog, cog, heading, nav_status, ts
		FROM vessel_positions
		WHERE vessel_id = $1 AND ts >= $2
		ORDER BY ts ASC
	`, vesselID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var samples []messages.PositionSample
	for rows.Next() {
		s, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		samples = append(samples, s)
	}
	return samples, rows.Err()
}

func scanPosition(row pgx.Row) (messages.PositionSample, error) {
	var s messages.PositionSample
	err := row.Scan(&s.VesselID, &s.Position.Lat, &s.Position.Lon,
		&s.SOG, &s.COG, &s.Heading, &s.NavStatus, &s.Timestamp)
	return s, err
}

// GetVessel retrieves static vessel identity by MMSI
func (p *Pool) GetVessel(ctx context.Context, vesselID string) (*messages.Vessel, error) {
	var v messages.Vessel
	err := p.QueryRow(ctx, `
		SELECT vessel_id, imo, name, callsign, ship_type, destination, eta
		FROM vessels
		WHERE vessel_id = $1
	`, vesselID).Scan(&v.VesselID, &v.IMO, &v.Name, &v.Callsign, &v.ShipType, &v.Destination, &v.ETA)
	if err == pgx.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get vessel: %w", err)
	}
	return &v, nil
}

// UpsertVessel inserts or updates vessel identity. Empty fields never
// overwrite previously declared values.
func (p *Pool) UpsertVessel(ctx context.Context, v messages.Vessel) error {
	_, err := p.Exec(ctx, `
		INSERT INTO vessels (vessel_id, imo, name, callsign, ship_type, destination, eta, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (vessel_id) DO UPDATE SET
			imo = COALESCE(NULLIF(EXCLUDED.imo, ''), vessels.imo),
			name = COALESCE(NULLIF(EXCLUDED.name, ''), vessels.name),
			callsign = COALESCE(NULLIF(EXCLUDED.callsign, ''), vessels.callsign),
			ship_type = COALESCE(NULLIF(EXCLUDED.ship_type, ''), vessels.ship_type),
			destination = COALESCE(NULLIF(EXCLUDED.destination, ''), vessels.destination),
			eta = COALESCE(EXCLUDED.eta, vessels.eta),
			updated_at = NOW()
	`, v.VesselID, v.IMO, v.Name, v.Callsign, v.ShipType, v.Destination, v.ETA)
	if err != nil {
		return fmt.Errorf("failed to upsert vessel: %w", err)
	}
	return nil
}

// ActiveAlert returns the vessel's active dark alert
func (p *Pool) ActiveAlert(ctx context.Context, vesselID string) (*messages.DarkAlert, error) {
	row := p.QueryRow(ctx, alertSelect+` WHERE vessel_id = $1 AND status = 'active'`, vesselID)
	a, err := scanAlert(row)
	if err == pgx.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active alert: %w", err)
	}
	return &a, nil
}

const alertSelect = `
	SELECT alert_id, vessel_id, status,
		last_lat, last_lon, pred_lat, pred_lon,
		last_sog, last_cog, gap_hours, search_radius_nm,
		last_seen_at, detected_at, resolved_at, envelope, version
	FROM dark_vessel_alerts`

func scanAlert(row pgx.Row) (messages.DarkAlert, error) {
	var a messages.DarkAlert
	var envelope []byte
	err := row.Scan(&a.AlertID, &a.VesselID, &a.Status,
		&a.LastKnown.Lat, &a.LastKnown.Lon, &a.Predicted.Lat, &a.Predicted.Lon,
		&a.LastSOG, &a.LastCOG, &a.GapHours, &a.SearchRadiusNM,
		&a.LastSeenAt, &a.DetectedAt, &a.ResolvedAt, &envelope, &a.Version)
	if err != nil {
		return a, err
	}
	if err := json.Unmarshal(envelope, &a.Envelope); err != nil {
		return a, fmt.Errorf("failed to decode alert envelope: %w", err)
	}
	return a, nil
}

// CreateAlert inserts a new dark alert. The partial unique index on
// (vessel_id) WHERE status='active' enforces one active alert per vessel.
func (p *Pool) CreateAlert(ctx context.Context, alert *messages.DarkAlert) error {
	envelope, err := json.Marshal(alert.Envelope)
	if err != nil {
		return fmt.Errorf("failed to encode alert envelope: %w", err)
	}

	alert.Version = 1
	_, err = p.Exec(ctx, `
		INSERT INTO dark_vessel_alerts (
			alert_id, vessel_id, status,
			last_lat, last_lon, pred_lat, pred_lon,
			last_sog, last_cog, gap_hours, search_radius_nm,
			last_seen_at, detected_at, resolved_at, envelope, version
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`, alert.AlertID, alert.VesselID, alert.Status,
		alert.LastKnown.Lat, alert.LastKnown.Lon, alert.Predicted.Lat, alert.Predicted.Lon,
		alert.LastSOG, alert.LastCOG, alert.GapHours, alert.SearchRadiusNM,
		alert.LastSeenAt, alert.DetectedAt, alert.ResolvedAt, envelope, alert.Version)
	if isUniqueViolation(err) {
		return store.ErrDuplicateActive
	}
	if err != nil {
		return fmt.Errorf("failed to create alert: %w", err)
	}
	return nil
}

// UpdateAlert replaces an alert iff the stored version matches. On success
// the version is incremented in place.
func (p *Pool) UpdateAlert(ctx context.Context, alert *messages.DarkAlert) error {
	envelope, err := json.Marshal(alert.Envelope)
	if err != nil {
		return fmt.Errorf("failed to encode alert envelope: %w", err)
	}

	tag, err := p.Exec(ctx, `
		UPDATE dark_vessel_alerts SET
			status = $2,
			last_lat = $3, last_lon = $4, pred_lat = $5, pred_lon = $6,
			last_sog = $7, last_cog = $8, gap_hours = $9, search_radius_nm = $10,
			last_seen_at = $11, detected_at = $12, resolved_at = $13,
			envelope = $14, version = version + 1
		WHERE alert_id = $1 AND version = $15
	`, alert.AlertID, alert.Status,
		alert.LastKnown.Lat, alert.LastKnown.Lon, alert.Predicted.Lat, alert.Predicted.Lon,
		alert.LastSOG, alert.LastCOG, alert.GapHours, alert.SearchRadiusNM,
		alert.LastSeenAt, alert.DetectedAt, alert.ResolvedAt,
		envelope, alert.Version)
	if err != nil {
		return fmt.Errorf("failed to update alert: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return p.casFailure(ctx, `SELECT 1 FROM dark_vessel_alerts WHERE alert_id = $1`, alert.AlertID)
	}
	alert.Version++
	return nil
}

// ListAlerts retrieves dark alerts with optional filtering
func (p *Pool) ListAlerts(ctx context.Context, f store.AlertFilter) ([]messages.DarkAlert, error) {
	query := alertSelect + ` WHERE 1=1`
	args := []interface{}{}
	argNum := 1

	if f.VesselID != "" {
		query += fmt.Sprintf(" AND vessel_id = $%d", argNum)
		args = append(args, f.VesselID)
		argNum++
	}
	if f.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argNum)
		args = append(args, f.Status)
		argNum++
	}
	if f.Since != nil {
		query += fmt.Sprintf(" AND detected_at >= $%d", argNum)
		args = append(args, *f.Since)
		argNum++
	}

	query += " ORDER BY detected_at DESC"

	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argNum)
		args = append(args, f.Limit)
	}

	rows, err := p.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []messages.DarkAlert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// InsertSignal persists a spoof signal
func (p *Pool) InsertSignal(ctx context.Context, sig *messages.SpoofSignal) error {
	details, err := json.Marshal(sig.Details)
	if err != nil {
		return fmt.Errorf("failed to encode signal details: %w", err)
	}

	_, err = p.Exec(ctx, `
		INSERT INTO spoof_signals (
			signal_id, vessel_id, anomaly_type, lat, lon,
			sog, cog, nav_status, details, detected_at, cluster_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, sig.SignalID, sig.VesselID, sig.Type, sig.Position.Lat, sig.Position.Lon,
		sig.SOG, sig.COG, sig.NavStatus, details, sig.DetectedAt, sig.ClusterID)
	if err != nil {
		return fmt.Errorf("failed to insert signal: %w", err)
	}
	return nil
}

// ListSignals retrieves spoof signals with optional filtering, oldest first
func (p *Pool) ListSignals(ctx context.Context, f store.SignalFilter) ([]messages.SpoofSignal, error) {
	query := `
		SELECT signal_id, vessel_id, anomaly_type, lat, lon,
			sog, cog, nav_status, details, detected_at, cluster_id
		FROM spoof_signals
		WHERE 1=1
	`
	args := []interface{}{}
	argNum := 1

	if f.VesselID != "" {
		query += fmt.Sprintf(" AND vessel_id = $%d", argNum)
		args = append(args, f.VesselID)
		argNum++
	}
	if f.Type != "" {
		query += fmt.Sprintf(" AND anomaly_type = $%d", argNum)
		args = append(args, f.Type)
		argNum++
	}
	if f.Since != nil {
		query += fmt.Sprintf(" AND detected_at >= $%d", argNum)
		args = append(args, *f.Since)
		argNum++
	}
	if f.Unclustered {
		query += " AND cluster_id = ''"
	}

	query += " ORDER BY detected_at ASC, signal_id ASC"

	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argNum)
		args = append(args, f.Limit)
	}

	rows, err := p.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query signals: %w", err)
	}
	defer rows.Close()

	var signals []messages.SpoofSignal
	for rows.Next() {
		var s messages.SpoofSignal
		var details []byte
		err := rows.Scan(&s.SignalID, &s.VesselID, &s.Type, &s.Position.Lat, &s.Position.Lon,
			&s.SOG, &s.COG, &s.NavStatus, &details, &s.DetectedAt, &s.ClusterID)
		if err != nil {
			return nil, fmt.Errorf("failed to scan signal: %w", err)
		}
		s.Details, err = decodeDetails(s.Type, details)
		if err != nil {
			return nil, err
		}
		signals = append(signals, s)
	}
	return signals, rows.Err()
}

// AssignCluster stamps a cluster ID onto the given signals
func (p *Pool) AssignCluster(ctx context.Context, signalIDs []string, clusterID string) error {
	if len(signalIDs) == 0 {
		return nil
	}
	_, err := p.Exec(ctx, `
		UPDATE spoof_signals SET cluster_id = $1 WHERE signal_id = ANY($2)
	`, clusterID, signalIDs)
	if err != nil {
		return fmt.Errorf("failed to assign cluster: %w", err)
	}
	return nil
}

func decodeDetails(t messages.AnomalyType, raw []byte) (messages.AnomalyDetails, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var (
		d   messages.AnomalyDetails
		err error
	)
	switch t {
	case messages.AnomalyImpossibleSpeed:
		var v messages.SpeedDetails
		err = json.Unmarshal(raw, &v)
		d = v
	case messages.AnomalyPositionJump:
		var v messages.JumpDetails
		err = json.Unmarshal(raw, &v)
		d = v
	case messages.AnomalySARTOnNonSAR:
		var v messages.SARTDetails
		err = json.Unmarshal(raw, &v)
		d = v
	case messages.AnomalyNoIdentity:
		d = messages.IdentityDetails{}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s details: %w", t, err)
	}
	return d, nil
}

const clusterSelect = `
	SELECT cluster_id, signal_count, centroid_lat, centroid_lon, radius_nm,
		window_start, window_end, anomaly_types, status, created_at, envelope, version
	FROM spoof_clusters`

func scanCluster(row pgx.Row) (messages.SpoofCluster, error) {
	var c messages.SpoofCluster
	var types []string
	var envelope []byte
	err := row.Scan(&c.ClusterID, &c.SignalCount, &c.Centroid.Lat, &c.Centroid.Lon, &c.RadiusNM,
		&c.WindowStart, &c.WindowEnd, &types, &c.Status, &c.CreatedAt, &envelope, &c.Version)
	if err != nil {
		return c, err
	}
	for _, t := range types {
		c.AnomalyTypes = append(c.AnomalyTypes, messages.AnomalyType(t))
	}
	if err := json.Unmarshal(envelope, &c.Envelope); err != nil {
		return c, fmt.Errorf("failed to decode cluster envelope: %w", err)
	}
	return c, nil
}

// GetCluster retrieves a spoof cluster by ID
func (p *Pool) GetCluster(ctx context.Context, clusterID string) (*messages.SpoofCluster, error) {
	row := p.QueryRow(ctx, clusterSelect+` WHERE cluster_id = $1`, clusterID)
	c, err := scanCluster(row)
	if err == pgx.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cluster: %w", err)
	}
	return &c, nil
}

// CreateCluster inserts a new spoof cluster
func (p *Pool) CreateCluster(ctx context.Context, c *messages.SpoofCluster) error {
	envelope, err := json.Marshal(c.Envelope)
	if err != nil {
		return fmt.Errorf("failed to encode cluster envelope: %w", err)
	}

	c.Version = 1
	_, err = p.Exec(ctx, `
		INSERT INTO spoof_clusters (
			cluster_id, signal_count, centroid_lat, centroid_lon, radius_nm,
			window_start, window_end, anomaly_types, status, created_at, envelope, version
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, c.ClusterID, c.SignalCount, c.Centroid.Lat, c.Centroid.Lon, c.RadiusNM,
		c.WindowStart, c.WindowEnd, anomalyTypeStrings(c.AnomalyTypes), c.Status,
		c.CreatedAt, envelope, c.Version)
	if err != nil {
		return fmt.Errorf("failed to create cluster: %w", err)
	}
	return nil
}

// UpdateCluster replaces a cluster iff the stored version matches
func (p *Pool) UpdateCluster(ctx context.Context, c *messages.SpoofCluster) error {
	envelope, err := json.Marshal(c.Envelope)
	if err != nil {
		return fmt.Errorf("failed to encode cluster envelope: %w", err)
	}

	tag, err := p.Exec(ctx, `
		UPDATE spoof_clusters SET
			signal_count = $2, centroid_lat = $3, centroid_lon = $4, radius_nm = $5,
			window_start = $6, window_end = $7, anomaly_types = $8, status = $9,
			envelope = $10, version = version + 1
		WHERE cluster_id = $1 AND version = $11
	`, c.ClusterID, c.SignalCount, c.Centroid.Lat, c.Centroid.Lon, c.RadiusNM,
		c.WindowStart, c.WindowEnd, anomalyTypeStrings(c.AnomalyTypes), c.Status,
		envelope, c.Version)
	if err != nil {
		return fmt.Errorf("failed to update cluster: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return p.casFailure(ctx, `SELECT 1 FROM spoof_clusters WHERE cluster_id = $1`, c.ClusterID)
	}
	c.Version++
	return nil
}

// ListClusters retrieves spoof clusters with optional filtering
func (p *Pool) ListClusters(ctx context.Context, f store.ClusterFilter) ([]messages.SpoofCluster, error) {
	query := clusterSelect + ` WHERE 1=1`
	args := []interface{}{}
	argNum := 1

	if f.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argNum)
		args = append(args, f.Status)
		argNum++
	}
	if f.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argNum)
		args = append(args, *f.Since)
		argNum++
	}

	query += " ORDER BY created_at DESC"

	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argNum)
		args = append(args, f.Limit)
	}

	rows, err := p.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query clusters: %w", err)
	}
	defer rows.Close()

	var clusters []messages.SpoofCluster
	for rows.Next() {
		c, err := scanCluster(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cluster: %w", err)
		}
		clusters = append(clusters, c)
	}
	return clusters, rows.Err()
}

func anomalyTypeStrings(types []messages.AnomalyType) []string {
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}

// InsertSarDetection persists a SAR ship contact, initially unmatched
func (p *Pool) InsertSarDetection(ctx context.Context, d *messages.SarDetection) error {
	vesselID, distNM, dtSec, conf := matchColumns(d.Match)
	_, err := p.Exec(ctx, `
		INSERT INTO sar_detections (
			detection_id, scene_id, lat, lon, rcs_db, confidence, observed_at,
			matched_vessel_id, match_distance_nm, match_time_delta_sec, match_confidence
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (detection_id) DO NOTHING
	`, d.DetectionID, d.SceneID, d.Position.Lat, d.Position.Lon,
		d.RCS, d.Confidence, d.ObservedAt, vesselID, distNM, dtSec, conf)
	if err != nil {
		return fmt.Errorf("failed to insert sar detection: %w", err)
	}
	return nil
}

// ListSarDetections retrieves SAR detections with optional filtering
func (p *Pool) ListSarDetections(ctx context.Context, f store.DetectionFilter) ([]messages.SarDetection, error) {
	query := `
		SELECT detection_id, scene_id, lat, lon, rcs_db, confidence, observed_at,
			matched_vessel_id, match_distance_nm, match_time_delta_sec, match_confidence
		FROM sar_detections
		WHERE 1=1
	`
	args := []interface{}{}
	argNum := 1

	if f.SceneID != "" {
		query += fmt.Sprintf(" AND scene_id = $%d", argNum)
		args = append(args, f.SceneID)
		argNum++
	}
	if f.Since != nil {
		query += fmt.Sprintf(" AND observed_at >= $%d", argNum)
		args = append(args, *f.Since)
		argNum++
	}
	if f.UnmatchedOnly {
		query += " AND matched_vessel_id IS NULL"
	}

	query += " ORDER BY detection_id ASC"

	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argNum)
		args = append(args, f.Limit)
	}

	rows, err := p.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sar detections: %w", err)
	}
	defer rows.Close()

	var dets []messages.SarDetection
	for rows.Next() {
		var d messages.SarDetection
		var vesselID *string
		var distNM, dtSec, conf *float64
		err := rows.Scan(&d.DetectionID, &d.SceneID, &d.Position.Lat, &d.Position.Lon,
			&d.RCS, &d.Confidence, &d.ObservedAt, &vesselID, &distNM, &dtSec, &conf)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sar detection: %w", err)
		}
		d.Match = matchFromColumns(vesselID, distNM, dtSec, conf)
		dets = append(dets, d)
	}
	return dets, rows.Err()
}

// SetSarMatch records a correlation outcome for a detection
func (p *Pool) SetSarMatch(ctx context.Context, detectionID string, m messages.MatchStatus) error {
	vesselID, distNM, dtSec, conf := matchColumns(m)
	tag, err := p.Exec(ctx, `
		UPDATE sar_detections SET
			matched_vessel_id = $2, match_distance_nm = $3,
			match_time_delta_sec = $4, match_confidence = $5
		WHERE detection_id = $1
	`, detectionID, vesselID, distNM, dtSec, conf)
	if err != nil {
		return fmt.Errorf("failed to set sar match: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// InsertNightLight persists a VIIRS radiance anomaly
func (p *Pool) InsertNightLight(ctx context.Context, a *messages.NightLightAnomaly) error {
	_, err := p.Exec(ctx, `
		INSERT INTO viirs_anomalies (anomaly_id, lat, lon, radiance, baseline, ratio, observed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (anomaly_id) DO NOTHING
	`, a.AnomalyID, a.Position.Lat, a.Position.Lon, a.Radiance, a.Baseline, a.Ratio, a.ObservedAt)
	if err != nil {
		return fmt.Errorf("failed to insert viirs anomaly: %w", err)
	}
	return nil
}

// NightLightsNear returns anomalies within radiusNM of p observed at or
// after since. A latitude/longitude bounding box narrows the scan before
// the exact great-circle check.
func (p *Pool) NightLightsNear(ctx context.Context, pt geo.Point, radiusNM float64, since time.Time) ([]messages.NightLightAnomaly, error) {
	dLat := radiusNM / 60.0
	dLon := radiusNM / 30.0 // generous near the poles, exact filter below

	rows, err := p.Query(ctx, `
		SELECT anomaly_id, lat, lon, radiance, baseline, ratio, observed_at
		FROM viirs_anomalies
		WHERE observed_at >= $1
			AND lat BETWEEN $2 AND $3
			AND lon BETWEEN $4 AND $5
	`, since, pt.Lat-dLat, pt.Lat+dLat, pt.Lon-dLon, pt.Lon+dLon)
	if err != nil {
		return nil, fmt.Errorf("failed to query viirs anomalies: %w", err)
	}
	defer rows.Close()

	var out []messages.NightLightAnomaly
	for rows.Next() {
		var a messages.NightLightAnomaly
		err := rows.Scan(&a.AnomalyID, &a.Position.Lat, &a.Position.Lon,
			&a.Radiance, &a.Baseline, &a.Ratio, &a.ObservedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan viirs anomaly: %w", err)
		}
		if geo.DistanceNM(pt, a.Position) <= radiusNM {
			out = append(out, a)
		}
	}
	return out, rows.Err()
}

// InsertAcousticEvent persists a hydrophone detection, initially unmatched
func (p *Pool) InsertAcousticEvent(ctx context.Context, e *messages.AcousticEvent) error {
	vesselID, distNM, dtSec, conf := matchColumns(e.Match)
	_, err := p.Exec(ctx, `
		INSERT INTO acoustic_events (
			event_id, lat, lon, bearing, magnitude, event_time,
			matched_vessel_id, match_distance_nm, match_time_delta_sec, match_confidence
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (event_id) DO NOTHING
	`, e.EventID, e.Position.Lat, e.Position.Lon, e.Bearing, e.Magnitude, e.EventTime,
		vesselID, distNM, dtSec, conf)
	if err != nil {
		return fmt.Errorf("failed to insert acoustic event: %w", err)
	}
	return nil
}

// ListAcousticEvents returns events at or after since. vesselID filters to
// events matched to that vessel; empty returns all, matched or not.
func (p *Pool) ListAcousticEvents(ctx context.Context, vesselID string, since time.Time) ([]messages.AcousticEvent, error) {
	query := `
		SELECT event_id, lat, lon, bearing, magnitude, event_time,
			matched_vessel_id, match_distance_nm, match_time_delta_sec, match_confidence
		FROM acoustic_events
		WHERE event_time >= $1
	`
	args := []interface{}{since}
	if vesselID != "" {
		query += " AND matched_vessel_id = $2"
		args = append(args, vesselID)
	}
	query += " ORDER BY event_time ASC"

	rows, err := p.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query acoustic events: %w", err)
	}
	defer rows.Close()

	var events []messages.AcousticEvent
	for rows.Next() {
		var e messages.AcousticEvent
		var matchedID *string
		var distNM, dtSec, conf *float64
		err := rows.Scan(&e.EventID, &e.Position.Lat, &e.Position.Lon,
			&e.Bearing, &e.Magnitude, &e.EventTime, &matchedID, &distNM, &dtSec, &conf)
		if err != nil {
			return nil, fmt.Errorf("failed to scan acoustic event: %w", err)
		}
		e.Match = matchFromColumns(matchedID, distNM, dtSec, conf)
		events = append(events, e)
	}
	return events, rows.Err()
}

// SetAcousticMatch records a correlation outcome for an acoustic event
func (p *Pool) SetAcousticMatch(ctx context.Context, eventID string, m messages.MatchStatus) error {
	vesselID, distNM, dtSec, conf := matchColumns(m)
	tag, err := p.Exec(ctx, `
		UPDATE acoustic_events SET
			matched_vessel_id = $2, match_distance_nm = $3,
			match_time_delta_sec = $4, match_confidence = $5
		WHERE event_id = $1
	`, eventID, vesselID, distNM, dtSec, conf)
	if err != nil {
		return fmt.Errorf("failed to set acoustic match: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func matchColumns(m messages.MatchStatus) (vesselID *string, distNM, dtSec, conf *float64) {
	if matched, ok := m.(messages.Matched); ok {
		return &matched.VesselID, &matched.DistanceNM, &matched.TimeDeltaSec, &matched.Confidence
	}
	return nil, nil, nil, nil
}

func matchFromColumns(vesselID *string, distNM, dtSec, conf *float64) messages.MatchStatus {
	if vesselID == nil {
		return messages.Unmatched{}
	}
	m := messages.Matched{VesselID: *vesselID}
	if distNM != nil {
		m.DistanceNM = *distNM
	}
	if dtSec != nil {
		m.TimeDeltaSec = *dtSec
	}
	if conf != nil {
		m.Confidence = *conf
	}
	return m
}

// InsertFusionResult persists a fused confidence computation
func (p *Pool) InsertFusionResult(ctx context.Context, r *messages.FusionResult) error {
	_, err := p.Exec(ctx, `
		INSERT INTO signal_fusion_results (
			result_id, vessel_id, ais_confidence, sar_confidence,
			viirs_confidence, acoustic_confidence, posterior, classification, ts
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, r.ResultID, r.VesselID, r.AISConfidence, r.SARConfidence,
		r.VIIRSConfidence, r.AcousticConfidence, r.Posterior, r.Classification, r.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to insert fusion result: %w", err)
	}
	return nil
}

// ListFusionResults returns fusion history for a vessel, newest first
func (p *Pool) ListFusionResults(ctx context.Context, vesselID string, limit int) ([]messages.FusionResult, error) {
	query := `
		SELECT result_id, vessel_id, ais_confidence, sar_confidence,
			viirs_confidence, acoustic_confidence, posterior, classification, ts
		FROM signal_fusion_results
		WHERE vessel_id = $1
		ORDER BY ts DESC
	`
	args := []interface{}{vesselID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := p.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query fusion results: %w", err)
	}
	defer rows.Close()

	var results []messages.FusionResult
	for rows.Next() {
		var r messages.FusionResult
		err := rows.Scan(&r.ResultID, &r.VesselID, &r.AISConfidence, &r.SARConfidence,
			&r.VIIRSConfidence, &r.AcousticConfidence, &r.Posterior, &r.Classification, &r.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("failed to scan fusion result: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// InsertRiskScore persists a composite risk assessment
func (p *Pool) InsertRiskScore(ctx context.Context, s *messages.RiskScore) error {
	details, err := json.Marshal(s.Details)
	if err != nil {
		return fmt.Errorf("failed to encode risk details: %w", err)
	}

	_, err = p.Exec(ctx, `
		INSERT INTO vessel_risk_scores (
			score_id, vessel_id, identity_score, flag_risk_score,
			anomaly_score, dark_history_score, overall, level, details, scored_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, s.ScoreID, s.VesselID, s.IdentityScore, s.FlagRiskScore,
		s.AnomalyScore, s.DarkHistoryScore, s.Overall, s.Level, details, s.ScoredAt)
	if err != nil {
		return fmt.Errorf("failed to insert risk score: %w", err)
	}
	return nil
}

// LatestRiskScore returns the most recent risk score for a vessel
func (p *Pool) LatestRiskScore(ctx context.Context, vesselID string) (*messages.RiskScore, error) {
	var s messages.RiskScore
	var details []byte
	err := p.QueryRow(ctx, `
		SELECT score_id, vessel_id, identity_score, flag_risk_score,
			anomaly_score, dark_history_score, overall, level, details, scored_at
		FROM vessel_risk_scores
		WHERE vessel_id = $1
		ORDER BY scored_at DESC
		LIMIT 1
	`, vesselID).Scan(&s.ScoreID, &s.VesselID, &s.IdentityScore, &s.FlagRiskScore,
		&s.AnomalyScore, &s.DarkHistoryScore, &s.Overall, &s.Level, &details, &s.ScoredAt)
	if err == pgx.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get risk score: %w", err)
	}
	if len(details) > 0 {
		if err := json.Unmarshal(details, &s.Details); err != nil {
			return nil, fmt.Errorf("failed to decode risk details: %w", err)
		}
	}
	return &s, nil
}

// InsertRoutePrediction persists a dead-reckoned route
func (p *Pool) InsertRoutePrediction(ctx context.Context, pred *messages.RoutePrediction) error {
	waypoints, err := json.Marshal(pred.Waypoints)
	if err != nil {
		return fmt.Errorf("failed to encode waypoints: %w", err)
	}
	conf70, err := json.Marshal(pred.Confidence70)
	if err != nil {
		return fmt.Errorf("failed to encode 70%% envelope: %w", err)
	}
	conf90, err := json.Marshal(pred.Confidence90)
	if err != nil {
		return fmt.Errorf("failed to encode 90%% envelope: %w", err)
	}

	_, err = p.Exec(ctx, `
		INSERT INTO route_predictions (
			vessel_id, waypoints, confidence_70, confidence_90,
			hours_ahead, sog_used, cog_used, eta, predicted_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, pred.VesselID, waypoints, conf70, conf90,
		pred.HoursAhead, pred.SOGUsed, pred.COGUsed, pred.ETA, pred.PredictedAt)
	if err != nil {
		return fmt.Errorf("failed to insert route prediction: %w", err)
	}
	return nil
}

// ListRoutePredictions returns prediction history for a vessel, newest first
func (p *Pool) ListRoutePredictions(ctx context.Context, vesselID string, limit int) ([]messages.RoutePrediction, error) {
	query := `
		SELECT vessel_id, waypoints, confidence_70, confidence_90,
			hours_ahead, sog_used, cog_used, eta, predicted_at
		FROM route_predictions
		WHERE vessel_id = $1
		ORDER BY predicted_at DESC
	`
	args := []interface{}{vesselID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := p.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query route predictions: %w", err)
	}
	defer rows.Close()

	var preds []messages.RoutePrediction
	for rows.Next() {
		var pr messages.RoutePrediction
		var waypoints, conf70, conf90 []byte
		err := rows.Scan(&pr.VesselID, &waypoints, &conf70, &conf90,
			&pr.HoursAhead, &pr.SOGUsed, &pr.COGUsed, &pr.ETA, &pr.PredictedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan route prediction: %w", err)
		}
		if err := json.Unmarshal(waypoints, &pr.Waypoints); err != nil {
			return nil, fmt.Errorf("failed to decode waypoints: %w", err)
		}
		if err := json.Unmarshal(conf70, &pr.Confidence70); err != nil {
			return nil, fmt.Errorf("failed to decode 70%% envelope: %w", err)
		}
		if err := json.Unmarshal(conf90, &pr.Confidence90); err != nil {
			return nil, fmt.Errorf("failed to decode 90%% envelope: %w", err)
		}
		preds = append(preds, pr)
	}
	return preds, rows.Err()
}

// casFailure disambiguates a zero-row CAS update: the record either never
// existed or was modified underneath the writer.
func (p *Pool) casFailure(ctx context.Context, existsQuery, id string) error {
	var one int
	err := p.QueryRow(ctx, existsQuery, id).Scan(&one)
	if err == pgx.ErrNoRows {
		return store.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check record existence: %w", err)
	}
	return store.ErrVersionConflict
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

var _ store.Store = (*Pool)(nil)
