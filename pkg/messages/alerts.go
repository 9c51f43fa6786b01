package messages

import (
	"time"

	"github.com/poseidon-mda/poseidon/pkg/geo"
)

// AlertStatus is the lifecycle state of a dark-vessel alert or spoof cluster.
type AlertStatus string

const (
	AlertActive   AlertStatus = "active"
	AlertResolved AlertStatus = "resolved"
	AlertTimedOut AlertStatus = "timed_out"
)

// DarkAlert records a vessel whose AIS transmissions stopped while underway.
// At most one active alert exists per vessel; Version guards concurrent
// updates via compare-and-set.
type DarkAlert struct {
	Envelope Envelope `json:"envelope"`

	AlertID        string      `json:"alert_id"`
	VesselID       string      `json:"vessel_id"`
	Status         AlertStatus `json:"status"`
	LastKnown      geo.Point   `json:"last_known"`
	Predicted      geo.Point   `json:"predicted"`
	LastSOG        float64     `json:"last_sog"`
	LastCOG        float64     `json:"last_cog"`
	GapHours       float64     `json:"gap_hours"`
	SearchRadiusNM float64     `json:"search_radius_nm"`
	LastSeenAt     time.Time   `json:"last_seen_at"`
	DetectedAt     time.Time   `json:"detected_at"`
	ResolvedAt     *time.Time  `json:"resolved_at,omitempty"`

	Version int64 `json:"version"`
}

func (a *DarkAlert) GetEnvelope() Envelope { return a.Envelope }

func (a *DarkAlert) SetEnvelope(e Envelope) { a.Envelope = e }

func (a *DarkAlert) Subject() string {
	return "alert.dark." + string(a.Status)
}

// AnomalyType is the closed set of spoof-signal rules.
type AnomalyType string

const (
	AnomalyImpossibleSpeed AnomalyType = "impossible_speed"
	AnomalyPositionJump    AnomalyType = "position_jump"
	AnomalySARTOnNonSAR    AnomalyType = "sart_on_non_sar"
	AnomalyNoIdentity      AnomalyType = "no_identity"
)

// AnomalyDetails is the closed union of per-rule evidence payloads. Each
// anomaly type carries its own variant so consumers can switch exhaustively.
type AnomalyDetails interface {
	anomalyType() AnomalyType
}

// SpeedDetails is the evidence attached to an impossible_speed signal.
type SpeedDetails struct {
	ReportedSOG float64 `json:"reported_sog,omitempty"`
	ImpliedSOG  float64 `json:"implied_sog,omitempty"`
}

func (SpeedDetails) anomalyType() AnomalyType { return AnomalyImpossibleSpeed }

// JumpDetails is the evidence attached to a position_jump signal.
type JumpDetails struct {
	DistanceNM float64 `json:"distance_nm"`
	DtMinutes  float64 `json:"dt_minutes"`
}

func (JumpDetails) anomalyType() AnomalyType { return AnomalyPositionJump }

// SARTDetails is the evidence attached to a sart_on_non_sar signal.
type SARTDetails struct {
	DeclaredType string `json:"declared_type"`
}

func (SARTDetails) anomalyType() AnomalyType { return AnomalySARTOnNonSAR }

// IdentityDetails is the evidence attached to a no_identity signal.
type IdentityDetails struct{}

func (IdentityDetails) anomalyType() AnomalyType { return AnomalyNoIdentity }

// SpoofSignal is one typed anomaly observation. Immutable after creation;
// only ClusterID is assigned later by the clusterer.
type SpoofSignal struct {
	SignalID   string         `json:"signal_id"`
	VesselID   string         `json:"vessel_id"`
	Type       AnomalyType    `json:"anomaly_type"`
	Position   geo.Point      `json:"position"`
	SOG        float64        `json:"sog,omitempty"`
	COG        float64        `json:"cog,omitempty"`
	NavStatus  string         `json:"nav_status,omitempty"`
	Details    AnomalyDetails `json:"-"`
	DetectedAt time.Time      `json:"detected_at"`
	ClusterID  string         `json:"cluster_id,omitempty"`
}

// SpoofCluster summarizes a spatially linked group of spoof signals.
// Centroid, radius, and the anomaly type set are recomputed whenever
// membership changes; Version guards concurrent recomputation.
type SpoofCluster struct {
	Envelope Envelope `json:"envelope"`

	ClusterID    string        `json:"cluster_id"`
	SignalCount  int           `json:"signal_count"`
	Centroid     geo.Point     `json:"centroid"`
	RadiusNM     float64       `json:"radius_nm"`
	WindowStart  time.Time     `json:"window_start"`
	WindowEnd    time.Time     `json:"window_end"`
	AnomalyTypes []AnomalyType `json:"anomaly_types"`
	Status       AlertStatus   `json:"status"`
	CreatedAt    time.Time     `json:"created_at"`

	Version int64 `json:"version"`
}

func (c *SpoofCluster) GetEnvelope() Envelope { return c.Envelope }

func (c *SpoofCluster) SetEnvelope(e Envelope) { c.Envelope = e }

func (c *SpoofCluster) Subject() string {
	return "cluster.spoof." + string(c.Status)
}

// CorrelationPair links a spoof cluster to a dark alert that plausibly
// belongs to the same spoof-and-hide operation. Computed on demand, never
// persisted as ground truth.
type CorrelationPair struct {
	Cluster      SpoofCluster `json:"cluster"`
	Alert        DarkAlert    `json:"alert"`
	DistanceNM   float64      `json:"distance_nm"`
	TimeGapHours float64      `json:"time_gap_hours"`
	Score        float64      `json:"score"` // combined spatial+temporal closeness, 0-1
}
