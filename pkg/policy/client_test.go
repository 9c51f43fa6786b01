package policy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poseidon-mda/poseidon/pkg/messages"
)

func TestReleaseAlertAllowed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/data/poseidon/alerts/release", r.URL.Path)

		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		input := payload["input"].(map[string]any)
		assert.Equal(t, "367001234", input["vessel_id"])

		json.NewEncoder(w).Encode(map[string]any{
			"result": map[string]any{
				"allow":   true,
				"reasons": []any{"gap exceeds threshold"},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	decision := c.ReleaseAlert(context.Background(), &messages.DarkAlert{
		VesselID: "367001234",
		Status:   messages.AlertActive,
		GapHours: 3,
	})
	assert.True(t, decision.Allowed)
	assert.Equal(t, []string{"gap exceeds threshold"}, decision.Reasons)
}

func TestReleaseAlertDenied(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"result": map[string]any{"allow": false},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	decision := c.ReleaseAlert(context.Background(), &messages.DarkAlert{VesselID: "367001234"})
	assert.False(t, decision.Allowed)
}

func TestReleaseAlertFailsOpen(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	decision := c.ReleaseAlert(context.Background(), &messages.DarkAlert{VesselID: "367001234"})
	assert.True(t, decision.Allowed)
	assert.NotEmpty(t, decision.Warnings)
}
