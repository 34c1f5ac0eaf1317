package remote

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_WriteMergesFields(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	require.NoError(t, m.Write(ctx, "rooms/ABC/participants/p1", map[string]any{"name": "Ada", "estimation": 5.0}))
	require.NoError(t, m.Write(ctx, "rooms/ABC/participants/p1", map[string]any{"active": true}))

	snap, ok, err := m.Read(ctx, "rooms/ABC/participants/p1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Ada", snap["name"])
	assert.Equal(t, 5.0, snap["estimation"])
	assert.Equal(t, true, snap["active"])
}

func TestMemoryStore_NilDeletesAndPrunes(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	require.NoError(t, m.Write(ctx, "rooms/ABC/votes/s1/i1", map[string]any{"p1": 3.0}))
	require.NoError(t, m.Write(ctx, "rooms/ABC/votes/s1", map[string]any{"i1": nil}))

	_, ok, err := m.Read(ctx, "rooms/ABC/votes")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStore_ReadMissing(t *testing.T) {
	m := NewMemoryStore()
	snap, ok, err := m.Read(context.Background(), "rooms/NOPE")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, snap)
}

func TestMemoryStore_SubscribeDeliversSubtree(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	require.NoError(t, m.Write(ctx, "rooms/ABC", map[string]any{"seriesKey": "fibonacci"}))

	var got []Snapshot
	unsubscribe, err := m.Subscribe(ctx, "rooms/ABC", func(s Snapshot) { got = append(got, s) })
	require.NoError(t, err)

	require.NoError(t, m.Write(ctx, "rooms/ABC/participants/p1", map[string]any{"name": "Ada"}))
	require.NoError(t, m.Write(ctx, "rooms/OTHER", map[string]any{"seriesKey": "tshirt"}))

	require.Len(t, got, 2)
	assert.Equal(t, "fibonacci", got[0]["seriesKey"])
	assert.Equal(t, "Ada", got[1].Child("participants").Child("p1")["name"])

	unsubscribe()
	require.NoError(t, m.Write(ctx, "rooms/ABC", map[string]any{"seriesKey": "tshirt"}))
	assert.Len(t, got, 2)
	assert.Equal(t, 0, m.SubscriberCount())
}

func TestMemoryStore_WriteHookVetoes(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	boom := errors.New("net::ERR_BLOCKED_BY_CLIENT")
	m.SetWriteHook(func(op WriteOp) error { return boom })

	err := m.Write(ctx, "rooms/ABC", map[string]any{"seriesKey": "fibonacci"})
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, m.Writes())

	_, ok, err := m.Read(ctx, "rooms/ABC")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStore_SnapshotsAreCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	require.NoError(t, m.Write(ctx, "rooms/ABC", map[string]any{"seriesKey": "fibonacci"}))

	snap, _, err := m.Read(ctx, "rooms/ABC")
	require.NoError(t, err)
	snap["seriesKey"] = "mutated"

	again, _, err := m.Read(ctx, "rooms/ABC")
	require.NoError(t, err)
	assert.Equal(t, "fibonacci", again["seriesKey"])
}

func TestMemoryStore_Closed(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	require.NoError(t, m.Close())

	assert.ErrorIs(t, m.Write(ctx, "rooms/ABC", map[string]any{"a": 1}), ErrClosed)
	_, _, err := m.Read(ctx, "rooms/ABC")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestRelated(t *testing.T) {
	assert.True(t, Related("rooms/ABC", "rooms/ABC/participants/p1"))
	assert.True(t, Related("rooms/ABC/participants", "rooms/ABC"))
	assert.False(t, Related("rooms/ABC", "rooms/ABD"))
	assert.Equal(t, []string{"rooms", "ABC"}, Split("/rooms//ABC/"))
}
