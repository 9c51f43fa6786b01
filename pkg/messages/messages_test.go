package messages

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poseidon-mda/poseidon/pkg/geo"
)

func TestEnvelopeSignAndVerify(t *testing.T) {
	secret := []byte("test-secret")
	payload := []byte(`{"vessel_id":"v-1"}`)

	env := NewEnvelope("ais-feed-1", "ais")
	require.NotEmpty(t, env.MessageID)
	assert.Equal(t, "ais-feed-1", env.Source)
	assert.Empty(t, env.Signature)

	env.Sign(payload, secret)
	require.NotEmpty(t, env.Signature)

	assert.True(t, env.VerifySignature(payload, secret))
	assert.False(t, env.VerifySignature([]byte(`{"vessel_id":"v-2"}`), secret))
	assert.False(t, env.VerifySignature(payload, []byte("wrong-secret")))
}

func TestEnvelopeCorrelation(t *testing.T) {
	parent := NewEnvelope("gap-detector", "engine")
	child := NewEnvelope("gap-detector", "engine").
		WithCorrelation(parent.CorrelationID, parent.MessageID)

	assert.Equal(t, parent.MessageID, child.CausationID)
	assert.NotEqual(t, parent.MessageID, child.MessageID)
}

func TestMarshalWithSignature(t *testing.T) {
	secret := []byte("test-secret")
	msg := NewPositionMessage("ais-feed-1", PositionSample{
		VesselID:  "v-1",
		Position:  geo.Point{Lat: 51.5, Lon: 1.2},
		SOG:       12.5,
		COG:       90,
		Timestamp: time.Now().UTC(),
	})

	data, err := MarshalWithSignature(msg, secret)
	require.NoError(t, err)

	var decoded PositionMessage
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.NotEmpty(t, decoded.Envelope.Signature)
	assert.Equal(t, "v-1", decoded.Sample.VesselID)

	// The signature covers the message as marshaled before signing, so
	// verification re-marshals with the signature field cleared.
	env := decoded.Envelope
	decoded.Envelope.Signature = ""
	unsigned, err := json.Marshal(&decoded)
	require.NoError(t, err)
	assert.True(t, env.VerifySignature(unsigned, secret))
	assert.False(t, env.VerifySignature(unsigned, []byte("wrong-secret")))
}

func TestSubjects(t *testing.T) {
	pos := NewPositionMessage("feed", PositionSample{VesselID: "v-9"})
	assert.Equal(t, "position.v-9", pos.Subject())

	alert := &DarkAlert{VesselID: "v-9", Status: AlertActive}
	assert.Equal(t, "alert.dark.active", alert.Subject())
	alert.Status = AlertResolved
	assert.Equal(t, "alert.dark.resolved", alert.Subject())

	cluster := &SpoofCluster{Status: AlertActive}
	assert.Equal(t, "cluster.spoof.active", cluster.Subject())

	det := &DetectionMessage{Detection: SarDetection{SceneID: "scene-1"}}
	assert.Equal(t, "sensed.sar.scene-1", det.Subject())

	nl := &NightLightMessage{Anomaly: NightLightAnomaly{AnomalyID: "nl-1"}}
	assert.Equal(t, "sensed.viirs.nl-1", nl.Subject())

	ac := &AcousticMessage{Event: AcousticEvent{EventID: "ac-1"}}
	assert.Equal(t, "sensed.acoustic.ac-1", ac.Subject())
}

func TestClassifyPosterior(t *testing.T) {
	assert.Equal(t, ClassConfirmed, ClassifyPosterior(0.8))
	assert.Equal(t, ClassConfirmed, ClassifyPosterior(0.95))
	assert.Equal(t, ClassLikely, ClassifyPosterior(0.5))
	assert.Equal(t, ClassLikely, ClassifyPosterior(0.79))
	assert.Equal(t, ClassUncertain, ClassifyPosterior(0.3))
	assert.Equal(t, ClassUnexplained, ClassifyPosterior(0.29))
	assert.Equal(t, ClassUnexplained, ClassifyPosterior(0))
}

func TestLevelForScore(t *testing.T) {
	assert.Equal(t, RiskCritical, LevelForScore(75))
	assert.Equal(t, RiskCritical, LevelForScore(100))
	assert.Equal(t, RiskHigh, LevelForScore(50))
	assert.Equal(t, RiskMedium, LevelForScore(25))
	assert.Equal(t, RiskLow, LevelForScore(24))
	assert.Equal(t, RiskLow, LevelForScore(0))
}

func TestAnomalyDetailsTypes(t *testing.T) {
	cases := []struct {
		details AnomalyDetails
		want    AnomalyType
	}{
		{SpeedDetails{ReportedSOG: 120, ImpliedSOG: 95}, AnomalyImpossibleSpeed},
		{JumpDetails{DistanceNM: 300, DtMinutes: 1}, AnomalyPositionJump},
		{SARTDetails{DeclaredType: "cargo"}, AnomalySARTOnNonSAR},
		{IdentityDetails{}, AnomalyNoIdentity},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.details.anomalyType())
	}
}

func TestMatchStatus(t *testing.T) {
	det := SarDetection{DetectionID: "d-1", SceneID: "s-1"}
	assert.False(t, det.IsMatched())

	det.Match = Matched{
		VesselID:     "v-1",
		DistanceNM:   0.4,
		TimeDeltaSec: 120,
		Confidence:   0.9,
	}
	assert.True(t, det.IsMatched())

	ev := AcousticEvent{EventID: "ac-1"}
	assert.False(t, ev.IsMatched())
	ev.Match = Matched{VesselID: "v-1", Confidence: 0.7}
	assert.True(t, ev.IsMatched())
}
