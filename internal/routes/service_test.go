package routes_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transit-tracker/internal/routes"
	"transit-tracker/internal/store"
	"transit-tracker/internal/transit"
)

var t0 = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

func vt(ln string, n int, seen time.Time) transit.VehicleTrace {
	return transit.VehicleTrace{Line: ln, Coords: line(n, 0.0001), FirstSeen: seen}
}

func TestAggregate(t *testing.T) {
	snap := store.Snapshot{
		"A": vt("5", 10, t0),
		"B": vt("5", 12, t0.Add(time.Minute)),
		"C": vt("11", 8, t0.Add(time.Minute)),
		"D": vt("11", 8, t0),
		"E": vt("7", 1, t0),
		"F": vt("30", 4, t0),
		"G": vt("30", 4, t0),
	}

	got := routes.Aggregate(snap)
	require.Len(t, got, 3)

	assert.Equal(t, "11", got[0].Line)
	assert.Equal(t, "D", got[0].VehicleID, "earlier first-seen wins a tie")
	assert.Equal(t, "30", got[1].Line)
	assert.Equal(t, "F", got[1].VehicleID, "lower id wins a full tie")
	assert.Equal(t, "5", got[2].Line)
	assert.Equal(t, "B", got[2].VehicleID, "more points wins")
}

type fakeSnapper struct {
	out   []transit.Coordinate
	err   error
	calls int
}

func (f *fakeSnapper) Snap(_ context.Context, pts []transit.Coordinate) ([]transit.Coordinate, error) {
	f.calls++
	return f.out, f.err
}

type countingMetrics struct {
	builds  int
	results map[string]int
}

func (m *countingMetrics) RouteBuildObserve(time.Duration) { m.builds++ }
func (m *countingMetrics) SnapResultInc(r string)          { m.results[r]++ }

func TestServiceRoutes(t *testing.T) {
	ctx := t.Context()
	st := store.NewMemory()
	require.NoError(t, st.Replace(ctx, store.Snapshot{
		"bus-1": vt("5", 20, t0),
		"bus-2": vt("7", 1, t0),
	}))

	t.Run("unsnapped", func(t *testing.T) {
		svc := routes.NewService(st, nil, routes.DefaultCleanerOptions(), nil, nil)
		got, err := svc.Routes(ctx, true)
		require.NoError(t, err)
		require.Contains(t, got, "5")
		assert.NotContains(t, got, "7")
		assert.Equal(t, "bus-1", got["5"].SourceVehicleID)
		assert.False(t, got["5"].Snapped)
		assert.GreaterOrEqual(t, len(got["5"].Coords), 2)
	})

	t.Run("snapped", func(t *testing.T) {
		snapped := []transit.Coordinate{c(1, 1), c(1, 2)}
		m := &countingMetrics{results: map[string]int{}}
		svc := routes.NewService(st, &fakeSnapper{out: snapped}, routes.DefaultCleanerOptions(), nil, m)

		got, err := svc.Routes(ctx, true)
		require.NoError(t, err)
		assert.True(t, got["5"].Snapped)
		assert.Equal(t, snapped, got["5"].Coords)
		assert.Equal(t, 1, m.builds)
		assert.Equal(t, 1, m.results["ok"])
	})

	t.Run("snap failure falls back silently", func(t *testing.T) {
		m := &countingMetrics{results: map[string]int{}}
		sn := &fakeSnapper{err: assert.AnError}
		svc := routes.NewService(st, sn, routes.DefaultCleanerOptions(), nil, m)

		plain, err := routes.NewService(st, nil, routes.DefaultCleanerOptions(), nil, nil).Routes(ctx, false)
		require.NoError(t, err)
		got, err := svc.Routes(ctx, true)
		require.NoError(t, err)
		assert.False(t, got["5"].Snapped)
		assert.Equal(t, plain["5"].Coords, got["5"].Coords)
		assert.Equal(t, 1, m.results["fallback"])
	})

	t.Run("snap not requested", func(t *testing.T) {
		sn := &fakeSnapper{out: []transit.Coordinate{c(1, 1), c(1, 2)}}
		svc := routes.NewService(st, sn, routes.DefaultCleanerOptions(), nil, nil)
		_, err := svc.Routes(ctx, false)
		require.NoError(t, err)
		assert.Zero(t, sn.calls)
	})
}
