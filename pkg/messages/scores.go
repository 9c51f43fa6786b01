package messages

import (
	"time"

	"github.com/poseidon-mda/poseidon/pkg/geo"
)

// Classification labels a fused posterior score.
type Classification string

const (
	ClassConfirmed   Classification = "confirmed"   // posterior >= 0.8
	ClassLikely      Classification = "likely"      // posterior >= 0.5
	ClassUncertain   Classification = "uncertain"   // posterior >= 0.3
	ClassUnexplained Classification = "unexplained" // below 0.3
)

// ClassifyPosterior maps a posterior in [0,1] to its label.
func ClassifyPosterior(p float64) Classification {
	switch {
	case p >= 0.8:
		return ClassConfirmed
	case p >= 0.5:
		return ClassLikely
	case p >= 0.3:
		return ClassUncertain
	default:
		return ClassUnexplained
	}
}

// FusionResult is one fused multi-source confidence computation for a
// vessel. History is retained for trend display.
type FusionResult struct {
	ResultID string `json:"result_id"`
	VesselID string `json:"vessel_id"`

	AISConfidence      float64 `json:"ais_confidence"`
	SARConfidence      float64 `json:"sar_confidence"`
	VIIRSConfidence    float64 `json:"viirs_confidence"`
	AcousticConfidence float64 `json:"acoustic_confidence"`

	Posterior      float64        `json:"posterior_score"`
	Classification Classification `json:"classification"`
	Timestamp      time.Time      `json:"timestamp"`
}

// RiskLevel buckets an overall risk score.
type RiskLevel string

const (
	RiskCritical RiskLevel = "critical" // >= 75
	RiskHigh     RiskLevel = "high"     // >= 50
	RiskMedium   RiskLevel = "medium"   // >= 25
	RiskLow      RiskLevel = "low"
)

// LevelForScore maps an overall score to its risk level.
func LevelForScore(overall int) RiskLevel {
	switch {
	case overall >= 75:
		return RiskCritical
	case overall >= 50:
		return RiskHigh
	case overall >= 25:
		return RiskMedium
	default:
		return RiskLow
	}
}

// RiskScore is a composite 0-100 vessel risk assessment. Overall is always
// the sum of the four sub-scores; each sub-score is bounded by construction.
type RiskScore struct {
	ScoreID  string `json:"score_id"`
	VesselID string `json:"vessel_id"`

	IdentityScore    int `json:"identity_score"`     // 0-20
	FlagRiskScore    int `json:"flag_risk_score"`    // 0-20
	AnomalyScore     int `json:"anomaly_score"`      // 0-30
	DarkHistoryScore int `json:"dark_history_score"` // 0-30

	Overall  int               `json:"overall_score"` // 0-100
	Level    RiskLevel         `json:"risk_level"`
	Details  map[string]string `json:"details,omitempty"`
	ScoredAt time.Time         `json:"scored_at"`
}

// RoutePoint is one projected waypoint with its positional uncertainty.
type RoutePoint struct {
	Position      geo.Point `json:"position"`
	HoursAhead    float64   `json:"hours_ahead"`
	UncertaintyNM float64   `json:"uncertainty_nm"`
}

// RoutePrediction is a dead-reckoned forward path with confidence envelopes.
// The envelopes are closed polygons of [lon, lat] pairs.
type RoutePrediction struct {
	VesselID     string       `json:"vessel_id"`
	Waypoints    []RoutePoint `json:"waypoints"`
	Confidence70 [][]float64  `json:"confidence_70,omitempty"`
	Confidence90 [][]float64  `json:"confidence_90,omitempty"`
	HoursAhead   float64      `json:"hours_ahead"`
	SOGUsed      float64      `json:"sog_used"`
	COGUsed      float64      `json:"cog_used"`
	ETA          *time.Time   `json:"eta,omitempty"`
	PredictedAt  time.Time    `json:"predicted_at"`
}
