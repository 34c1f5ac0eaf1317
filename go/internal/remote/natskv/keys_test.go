package natskv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocKey(t *testing.T) {
	key, err := docKey("rooms/ABC123/participants/0b6f1c2e-3c44-4d1b-9a4e-54f0f1f3f7a1")
	require.NoError(t, err)
	assert.Equal(t, "rooms.ABC123.participants.0b6f1c2e-3c44-4d1b-9a4e-54f0f1f3f7a1._", key)

	_, err = docKey("rooms/a.b")
	assert.Error(t, err)
	_, err = docKey("rooms/*")
	assert.Error(t, err)
	_, err = docKey("")
	assert.Error(t, err)
}

func TestSubtreeFilter(t *testing.T) {
	filter, err := subtreeFilter("rooms/ABC123")
	require.NoError(t, err)
	assert.Equal(t, "rooms.ABC123.>", filter)
}

func TestRelativeSegments(t *testing.T) {
	rel, ok := relativeSegments("rooms/ABC", "rooms.ABC.participants.p1._")
	require.True(t, ok)
	assert.Equal(t, []string{"participants", "p1"}, rel)

	rel, ok = relativeSegments("rooms/ABC", "rooms.ABC._")
	require.True(t, ok)
	assert.Empty(t, rel)

	_, ok = relativeSegments("rooms/ABC", "rooms.ABD._")
	assert.False(t, ok)
	_, ok = relativeSegments("rooms/ABC", "rooms.ABC.participants")
	assert.False(t, ok)
}

func TestBuildSnapshot(t *testing.T) {
	docs := map[string]map[string]any{
		"rooms.ABC._":                   {"seriesKey": "fibonacci", "isRevealed": false},
		"rooms.ABC.participants.p1._":   {"name": "Ada", "estimation": 5.0},
		"rooms.ABC.participants.p2._":   {"name": "Grace"},
		"rooms.ABC.votes.s1.i1._":       {"p1": 5.0},
		"rooms.OTHER.participants.p9._": {"name": "ignored"},
	}

	snap := buildSnapshot("rooms/ABC", docs)
	require.NotNil(t, snap)
	assert.Equal(t, "fibonacci", snap["seriesKey"])
	assert.Equal(t, "Ada", snap.Child("participants").Child("p1")["name"])
	assert.Equal(t, "Grace", snap.Child("participants").Child("p2")["name"])
	assert.Equal(t, 5.0, snap.Child("votes").Child("s1").Child("i1")["p1"])
	assert.Nil(t, snap.Child("participants").Child("p9"))

	assert.Nil(t, buildSnapshot("rooms/ABC", nil))
}
