package store_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transit-tracker/internal/store"
	"transit-tracker/internal/transit"
)

func trace(id, line string, coords ...transit.Coordinate) transit.VehicleTrace {
	return transit.VehicleTrace{
		VehicleID: id,
		Line:      line,
		Coords:    coords,
		FirstSeen: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC),
	}
}

func requireSameTrace(t *testing.T, want, got transit.VehicleTrace) {
	t.Helper()
	require.Equal(t, want.VehicleID, got.VehicleID)
	require.Equal(t, want.Line, got.Line)
	require.Equal(t, want.Coords, got.Coords)
	require.True(t, want.FirstSeen.Equal(got.FirstSeen), "first seen %v != %v", want.FirstSeen, got.FirstSeen)
}

// exerciseStore runs the behaviour every backend must share.
func exerciseStore(t *testing.T, s store.Store) {
	ctx := t.Context()
	a := trace("bus-1", "5", transit.Coordinate{Lat: 47.64, Lng: 26.25}, transit.Coordinate{Lat: 47.641, Lng: 26.25})
	b := trace("bus-2", "11", transit.Coordinate{Lat: 47.65, Lng: 26.26})

	t.Run("empty snapshot", func(t *testing.T) {
		snap, err := s.Snapshot(ctx)
		require.NoError(t, err)
		assert.Empty(t, snap)
	})

	t.Run("get missing", func(t *testing.T) {
		_, err := s.Get(ctx, "nope")
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("put and get", func(t *testing.T) {
		require.NoError(t, s.Put(ctx, a))
		got, err := s.Get(ctx, "bus-1")
		require.NoError(t, err)
		requireSameTrace(t, a, got)
	})

	t.Run("replace swaps whole snapshot", func(t *testing.T) {
		require.NoError(t, s.Replace(ctx, store.Snapshot{"bus-2": b}))

		snap, err := s.Snapshot(ctx)
		require.NoError(t, err)
		require.Len(t, snap, 1)
		requireSameTrace(t, b, snap["bus-2"])

		_, err = s.Get(ctx, "bus-1")
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("snapshot is a copy", func(t *testing.T) {
		snap, err := s.Snapshot(ctx)
		require.NoError(t, err)
		tr := snap["bus-2"]
		tr.Coords[0] = transit.Coordinate{Lat: 1, Lng: 1}
		delete(snap, "bus-2")

		again, err := s.Snapshot(ctx)
		require.NoError(t, err)
		requireSameTrace(t, b, again["bus-2"])
	})

	t.Run("ping", func(t *testing.T) {
		require.NoError(t, s.Ping(ctx))
	})
}

func TestMemory(t *testing.T) {
	exerciseStore(t, store.NewMemory())
}

func TestFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "busCoord.json")
	s, err := store.NewFile(path)
	require.NoError(t, err)
	exerciseStore(t, s)

	t.Run("document is keyed by vehicle id", func(t *testing.T) {
		b, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.JSONEq(t, `{"bus-2":{"line":"11","coord":[[47.65,26.26]],"firstSeen":"2024-05-01T08:00:00Z"}}`, string(b))
	})

	t.Run("no temp files left behind", func(t *testing.T) {
		entries, err := os.ReadDir(filepath.Dir(path))
		require.NoError(t, err)
		assert.Len(t, entries, 1)
	})

	t.Run("corrupt document", func(t *testing.T) {
		require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
		_, err := s.Snapshot(context.Background())
		require.Error(t, err)
	})
}

func TestSQLite(t *testing.T) {
	s, err := store.OpenSQLite(t.Context(), filepath.Join(t.TempDir(), "traces.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	exerciseStore(t, s)
}

func TestOpen(t *testing.T) {
	ctx := t.Context()

	s, err := store.Open(ctx, store.Config{Backend: store.BackendMemory})
	require.NoError(t, err)
	assert.IsType(t, &store.Memory{}, s)

	s, err = store.Open(ctx, store.Config{Backend: store.BackendFile, Path: filepath.Join(t.TempDir(), "x.json")})
	require.NoError(t, err)
	assert.IsType(t, &store.File{}, s)

	_, err = store.Open(ctx, store.Config{Backend: store.BackendSQLite})
	require.Error(t, err)

	_, err = store.Open(ctx, store.Config{Backend: "redis"})
	require.Error(t, err)
}
