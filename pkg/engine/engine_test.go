package engine

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poseidon-mda/poseidon/pkg/geo"
	"github.com/poseidon-mda/poseidon/pkg/messages"
	"github.com/poseidon-mda/poseidon/pkg/store"
)

func TestOnPositionStoresSampleAndIdentity(t *testing.T) {
	mem := store.NewMemory(0)
	eng := New(mem, &fakePublisher{}, nil, zerolog.Nop(), DefaultConfig())
	ctx := context.Background()

	msg := messages.NewPositionMessage("feed-1", messages.PositionSample{
		VesselID:  "v-1",
		Position:  geo.Point{Lat: 54.1, Lon: 7.9},
		SOG:       11,
		COG:       45,
		Timestamp: time.Now().UTC(),
	})
	msg.Name = "NORDIC STAR"
	msg.IMO = "9321483"

	require.NoError(t, eng.OnPosition(ctx, msg))

	latest, err := mem.Latest(ctx, "v-1")
	require.NoError(t, err)
	assert.Equal(t, "v-1", latest.VesselID)

	vessel, err := mem.GetVessel(ctx, "v-1")
	require.NoError(t, err)
	assert.Equal(t, "NORDIC STAR", vessel.Name)
}

func TestOnPositionRejectsStaleSample(t *testing.T) {
	mem := store.NewMemory(0)
	eng := New(mem, &fakePublisher{}, nil, zerolog.Nop(), DefaultConfig())
	ctx := context.Background()

	msg := messages.NewPositionMessage("feed-1", messages.PositionSample{
		VesselID:  "v-1",
		Position:  geo.Point{Lat: 54.1, Lon: 7.9},
		SOG:       11,
		Timestamp: time.Now().UTC().Add(-48 * time.Hour),
	})

	err := eng.OnPosition(ctx, msg)
	require.ErrorIs(t, err, ErrStaleInput)

	_, err = mem.Latest(ctx, "v-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
