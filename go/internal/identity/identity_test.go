package identity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/pointing/go/internal/localstore"
	"github.com/mcdev12/pointing/go/internal/models"
)

func TestResolver_GetOrCreateIsStable(t *testing.T) {
	ctx := context.Background()
	r := NewResolver(localstore.NewMemory())

	id1, created, err := r.GetOrCreateParticipantID(ctx, "ABC123")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, id1)

	id2, created, err := r.GetOrCreateParticipantID(ctx, "ABC123")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, id1, id2)

	other, _, err := r.GetOrCreateParticipantID(ctx, "XYZ789")
	require.NoError(t, err)
	assert.NotEqual(t, id1, other)
}

func TestResolver_SessionRoundTrip(t *testing.T) {
	ctx := context.Background()
	r := NewResolver(localstore.NewMemory())

	session, err := r.LastSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, session)

	require.NoError(t, r.SaveSession(ctx, "ABC123", "p-1"))

	session, err = r.LastSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, "ABC123", session.RoomID)
	assert.Equal(t, "p-1", session.ParticipantID)

	id, ok, err := r.ParticipantID(ctx, "ABC123")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "p-1", id)

	require.NoError(t, r.ClearSession(ctx))
	session, err = r.LastSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, session)

	_, ok, err = r.ParticipantID(ctx, "ABC123")
	require.NoError(t, err)
	assert.True(t, ok, "identifier survives clearing the session")
}

func TestResolver_CorruptSessionIgnored(t *testing.T) {
	ctx := context.Background()
	store := localstore.NewMemory()
	require.NoError(t, store.Set(ctx, RoomSessionKey, "{not json"))

	session, err := NewResolver(store).LastSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, session)
}

func TestResolver_GuestNameWatch(t *testing.T) {
	ctx := context.Background()
	r := NewResolver(localstore.NewMemory())

	_, ok, err := r.GuestName(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	updates, cancel := r.WatchGuestName()
	defer cancel()

	require.NoError(t, r.SetGuestName(ctx, "  Ada  "))
	select {
	case name := <-updates:
		assert.Equal(t, "Ada", name)
	case <-time.After(time.Second):
		t.Fatal("guest name not delivered")
	}

	assert.Error(t, r.SetGuestName(ctx, "   "))
}

func TestFindSeat(t *testing.T) {
	participants := []models.Participant{
		{ID: "p1", Name: "Zoë", Active: true},
		{ID: "p2", Name: "Grace", Active: false},
	}

	seat, ok := FindSeat(participants, "p2", "")
	require.True(t, ok)
	assert.Equal(t, "p2", seat.ID)

	seat, ok = FindSeat(participants, "unknown", "  ZOË ")
	require.True(t, ok)
	assert.Equal(t, "p1", seat.ID)

	_, ok = FindSeat(participants, "unknown", "grace")
	assert.False(t, ok, "inactive seats are not matched by name")

	_, ok = FindSeat(participants, "", "")
	assert.False(t, ok)
}
