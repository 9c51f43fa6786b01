package messages

import (
	"time"

	"github.com/poseidon-mda/poseidon/pkg/geo"
)

// Vessel holds the static identity a vessel has declared over AIS.
// Owned by the ingestion side; the engine only reads it.
type Vessel struct {
	VesselID    string     `json:"vessel_id"` // MMSI
	IMO         string     `json:"imo,omitempty"`
	Name        string     `json:"name,omitempty"`
	Callsign    string     `json:"callsign,omitempty"`
	ShipType    string     `json:"ship_type,omitempty"` // cargo, tanker, fishing, sar, unknown, ...
	Destination string     `json:"destination,omitempty"`
	ETA         *time.Time `json:"eta,omitempty"`
}

// PositionSample is one normalized AIS position report. Immutable once stored.
type PositionSample struct {
	VesselID  string    `json:"vessel_id"`
	Position  geo.Point `json:"position"`
	SOG       float64   `json:"sog"`     // speed over ground, knots
	COG       float64   `json:"cog"`     // course over ground, degrees true
	Heading   float64   `json:"heading"` // degrees true
	NavStatus string    `json:"nav_status"`
	Timestamp time.Time `json:"timestamp"`
}

// VesselTrack is the per-vessel view the position store maintains: the
// latest sample plus time-ordered history.
type VesselTrack struct {
	VesselID string           `json:"vessel_id"`
	Latest   PositionSample   `json:"latest"`
	History  []PositionSample `json:"history,omitempty"`
}

// PositionMessage wraps a position sample with its transport envelope.
type PositionMessage struct {
	Envelope Envelope       `json:"envelope"`
	Sample   PositionSample `json:"sample"`

	// Identity fields carried on the raw message, used by the flag rules.
	Name     string `json:"name,omitempty"`
	Callsign string `json:"callsign,omitempty"`
	IMO      string `json:"imo,omitempty"`
	ShipType string `json:"ship_type,omitempty"`
}

func (m *PositionMessage) GetEnvelope() Envelope { return m.Envelope }

func (m *PositionMessage) SetEnvelope(e Envelope) { m.Envelope = e }

func (m *PositionMessage) Subject() string {
	return "position." + m.Sample.VesselID
}

// NewPositionMessage creates a position message from an ingestion feed.
func NewPositionMessage(feedID string, sample PositionSample) *PositionMessage {
	return &PositionMessage{
		Envelope: NewEnvelope(feedID, "ais"),
		Sample:   sample,
	}
}
