package localstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openSQLite(t *testing.T) *SQLite {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "local.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func stores(t *testing.T) map[string]Store {
	return map[string]Store{
		"memory": NewMemory(),
		"sqlite": openSQLite(t),
	}
}

func TestStore_GetSetDelete(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, s.Set(ctx, "guest_name", "Ada"))
			require.NoError(t, s.Set(ctx, "guest_name", "Grace"))
			v, err := s.Get(ctx, "guest_name")
			require.NoError(t, err)
			assert.Equal(t, "Grace", v)

			require.NoError(t, s.Delete(ctx, "guest_name"))
			_, err = s.Get(ctx, "guest_name")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStore_SetMany(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.SetMany(ctx, map[string]string{"a": "1", "b": "2"}))

			a, err := s.Get(ctx, "a")
			require.NoError(t, err)
			b, err := s.Get(ctx, "b")
			require.NoError(t, err)
			assert.Equal(t, "1", a)
			assert.Equal(t, "2", b)
		})
	}
}

func TestStore_Watch(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			updates, cancel := s.Watch("guest_name")
			defer cancel()

			require.NoError(t, s.Set(ctx, "other", "x"))
			require.NoError(t, s.Set(ctx, "guest_name", "Ada"))

			select {
			case v := <-updates:
				assert.Equal(t, "Ada", v)
			case <-time.After(time.Second):
				t.Fatal("no update delivered")
			}
		})
	}
}

func TestStore_WatchKeepsLatest(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	updates, cancel := s.Watch("k")
	defer cancel()

	require.NoError(t, s.Set(ctx, "k", "1"))
	require.NoError(t, s.Set(ctx, "k", "2"))

	assert.Equal(t, "2", <-updates)
}

func TestSQLite_Persists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "local.db")

	s1, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, s1.Set(ctx, "participant:ABC", "p1"))
	require.NoError(t, s1.Close())

	s2, err := OpenSQLite(path)
	require.NoError(t, err)
	defer s2.Close()

	v, err := s2.Get(ctx, "participant:ABC")
	require.NoError(t, err)
	assert.Equal(t, "p1", v)
}
