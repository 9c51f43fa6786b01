// Package store defines the persistence boundary of the analysis engine.
// The engine owns derived entities (alerts, clusters, scores) and only reads
// positions, vessel identity, and raw detections, which belong to the
// ingestion collaborators. Mutable derived records are versioned and updated
// via compare-and-set so scheduled passes and reactive resolution can race
// safely.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/poseidon-mda/poseidon/pkg/geo"
	"github.com/poseidon-mda/poseidon/pkg/messages"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrVersionConflict is returned by CAS updates when the record changed
	// underneath the writer.
	ErrVersionConflict = errors.New("store: version conflict")
	// ErrDuplicateActive is returned when creating a second active alert for
	// the same vessel.
	ErrDuplicateActive = errors.New("store: active alert already exists")
)

// AlertFilter selects dark alerts.
type AlertFilter struct {
	VesselID string
	Status   messages.AlertStatus
	Since    *time.Time
	Limit    int
}

// SignalFilter selects spoof signals.
type SignalFilter struct {
	VesselID    string
	Type        messages.AnomalyType
	Since       *time.Time
	Unclustered bool
	Limit       int
}

// ClusterFilter selects spoof clusters.
type ClusterFilter struct {
	Status messages.AlertStatus
	Since  *time.Time
	Limit  int
}

// DetectionFilter selects SAR detections.
type DetectionFilter struct {
	SceneID       string
	UnmatchedOnly bool
	Since         *time.Time
	Limit         int
}

// TrackStore reads and appends vessel position samples.
type TrackStore interface {
	// UpsertPosition appends a sample and returns the updated track. Samples
	// never mutate history; out-of-order arrivals are inserted in timestamp
	// order so the monotonic-history invariant holds.
	UpsertPosition(ctx context.Context, sample messages.PositionSample) (*messages.VesselTrack, error)
	// Latest returns the most recent sample for a vessel, or ErrNotFound.
	Latest(ctx context.Context, vesselID string) (*messages.PositionSample, error)
	// LatestAll returns the most recent sample of every tracked vessel,
	// capped at limit (0 = no cap).
	LatestAll(ctx context.Context, limit int) ([]messages.PositionSample, error)
	// History returns samples for a vessel at or after since, oldest first.
	History(ctx context.Context, vesselID string, since time.Time) ([]messages.PositionSample, error)
}

// VesselStore reads and writes static vessel identity.
type VesselStore interface {
	GetVessel(ctx context.Context, vesselID string) (*messages.Vessel, error)
	UpsertVessel(ctx context.Context, v messages.Vessel) error
}

// AlertStore manages dark-vessel alerts. The store enforces at most one
// active alert per vessel.
type AlertStore interface {
	// ActiveAlert returns the vessel's active alert, or ErrNotFound.
	ActiveAlert(ctx context.Context, vesselID string) (*messages.DarkAlert, error)
	// CreateAlert inserts a new alert; ErrDuplicateActive if the vessel
	// already has an active one.
	CreateAlert(ctx context.Context, alert *messages.DarkAlert) error
	// UpdateAlert replaces an alert iff the stored version matches
	// alert.Version; on success the version is incremented in place.
	UpdateAlert(ctx context.Context, alert *messages.DarkAlert) error
	ListAlerts(ctx context.Context, f AlertFilter) ([]messages.DarkAlert, error)
}

// SignalStore manages spoof signals.
type SignalStore interface {
	InsertSignal(ctx context.Context, sig *messages.SpoofSignal) error
	ListSignals(ctx context.Context, f SignalFilter) ([]messages.SpoofSignal, error)
	// AssignCluster stamps a cluster ID onto the given signals.
	AssignCluster(ctx context.Context, signalIDs []string, clusterID string) error
}

// ClusterStore manages spoof clusters with versioned updates.
type ClusterStore interface {
	GetCluster(ctx context.Context, clusterID string) (*messages.SpoofCluster, error)
	CreateCluster(ctx context.Context, c *messages.SpoofCluster) error
	// UpdateCluster is a CAS update analogous to AlertStore.UpdateAlert.
	UpdateCluster(ctx context.Context, c *messages.SpoofCluster) error
	ListClusters(ctx context.Context, f ClusterFilter) ([]messages.SpoofCluster, error)
}

// DetectionStore holds sensor detections owned by the ingestion side; the
// engine only toggles correlation outcomes.
type DetectionStore interface {
	InsertSarDetection(ctx context.Context, d *messages.SarDetection) error
	ListSarDetections(ctx context.Context, f DetectionFilter) ([]messages.SarDetection, error)
	// SetSarMatch records a correlation outcome for a detection.
	SetSarMatch(ctx context.Context, detectionID string, m messages.MatchStatus) error

	InsertNightLight(ctx context.Context, a *messages.NightLightAnomaly) error
	// NightLightsNear returns anomalies within radiusNM of p observed at or
	// after since.
	NightLightsNear(ctx context.Context, p geo.Point, radiusNM float64, since time.Time) ([]messages.NightLightAnomaly, error)

	InsertAcousticEvent(ctx context.Context, e *messages.AcousticEvent) error
	ListAcousticEvents(ctx context.Context, vesselID string, since time.Time) ([]messages.AcousticEvent, error)
	SetAcousticMatch(ctx context.Context, eventID string, m messages.MatchStatus) error
}

// ScoreStore persists fusion results, risk scores, and route predictions.
type ScoreStore interface {
	InsertFusionResult(ctx context.Context, r *messages.FusionResult) error
	ListFusionResults(ctx context.Context, vesselID string, limit int) ([]messages.FusionResult, error)

	InsertRiskScore(ctx context.Context, s *messages.RiskScore) error
	LatestRiskScore(ctx context.Context, vesselID string) (*messages.RiskScore, error)

	InsertRoutePrediction(ctx context.Context, p *messages.RoutePrediction) error
	ListRoutePredictions(ctx context.Context, vesselID string, limit int) ([]messages.RoutePrediction, error)
}

// Store is the full persistence surface the engine operates over.
type Store interface {
	TrackStore
	VesselStore
	AlertStore
	SignalStore
	ClusterStore
	DetectionStore
	ScoreStore
}
