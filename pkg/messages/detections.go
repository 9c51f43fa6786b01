package messages

import (
	"time"

	"github.com/poseidon-mda/poseidon/pkg/geo"
)

// MatchStatus is the correlation outcome for a sensor detection: either it
// was tied to a known vessel track or it is a ghost. The two variants are
// sealed so an unmatched detection cannot carry half-filled match fields.
type MatchStatus interface {
	isMatchStatus()
}

// Matched records the vessel a detection was correlated to.
type Matched struct {
	VesselID     string  `json:"vessel_id"`
	DistanceNM   float64 `json:"distance_nm"`
	TimeDeltaSec float64 `json:"time_delta_sec"`
	Confidence   float64 `json:"confidence"` // combined spatial+temporal score, 0-1
}

func (Matched) isMatchStatus() {}

// Unmatched marks a ghost detection with no corresponding track.
type Unmatched struct{}

func (Unmatched) isMatchStatus() {}

// SarDetection is one extracted ship contact from a processed SAR scene.
type SarDetection struct {
	DetectionID string      `json:"detection_id"`
	SceneID     string      `json:"scene_id"`
	Position    geo.Point   `json:"position"`
	RCS         float64     `json:"rcs_db"` // radar cross-section, dB
	Confidence  float64     `json:"confidence"`
	ObservedAt  time.Time   `json:"observed_at"`
	Match       MatchStatus `json:"-"`
}

// IsMatched reports whether the detection has been tied to a track.
func (d *SarDetection) IsMatched() bool {
	_, ok := d.Match.(Matched)
	return ok
}

// NightLightAnomaly is a VIIRS radiance observation exceeding its rolling
// baseline, delivered by the nighttime-light ingestion collaborator.
type NightLightAnomaly struct {
	AnomalyID  string    `json:"anomaly_id"`
	Position   geo.Point `json:"position"`
	Radiance   float64   `json:"radiance"` // nW/cm^2/sr
	Baseline   float64   `json:"baseline"`
	Ratio      float64   `json:"ratio"` // radiance / baseline
	ObservedAt time.Time `json:"observed_at"`
}

// AcousticEvent is a hydrophone detection with an optional AIS correlation.
type AcousticEvent struct {
	EventID    string      `json:"event_id"`
	Position   geo.Point   `json:"position"`
	Bearing    float64     `json:"bearing"`
	Magnitude  float64     `json:"magnitude"`
	EventTime  time.Time   `json:"event_time"`
	Match      MatchStatus `json:"-"`
}

// IsMatched reports whether the event has been correlated to a vessel.
func (e *AcousticEvent) IsMatched() bool {
	_, ok := e.Match.(Matched)
	return ok
}

// DetectionMessage wraps a SAR detection with its transport envelope.
type DetectionMessage struct {
	Envelope  Envelope     `json:"envelope"`
	Detection SarDetection `json:"detection"`
}

func (m *DetectionMessage) GetEnvelope() Envelope { return m.Envelope }

func (m *DetectionMessage) SetEnvelope(e Envelope) { m.Envelope = e }

func (m *DetectionMessage) Subject() string {
	return "sensed.sar." + m.Detection.SceneID
}

// NightLightMessage wraps a VIIRS anomaly with its transport envelope.
type NightLightMessage struct {
	Envelope Envelope          `json:"envelope"`
	Anomaly  NightLightAnomaly `json:"anomaly"`
}

func (m *NightLightMessage) GetEnvelope() Envelope { return m.Envelope }

func (m *NightLightMessage) SetEnvelope(e Envelope) { m.Envelope = e }

func (m *NightLightMessage) Subject() string {
	return "sensed.viirs." + m.Anomaly.AnomalyID
}

// AcousticMessage wraps an acoustic event with its transport envelope.
type AcousticMessage struct {
	Envelope Envelope      `json:"envelope"`
	Event    AcousticEvent `json:"event"`
}

func (m *AcousticMessage) GetEnvelope() Envelope { return m.Envelope }

func (m *AcousticMessage) SetEnvelope(e Envelope) { m.Envelope = e }

func (m *AcousticMessage) Subject() string {
	return "sensed.acoustic." + m.Event.EventID
}
