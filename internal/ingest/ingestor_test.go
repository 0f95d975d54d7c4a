package ingest_test

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transit-tracker/internal/geo"
	"transit-tracker/internal/ingest"
	"transit-tracker/internal/store"
	"transit-tracker/internal/transit"
)

func rec(id, line string, lat, lng float64) ingest.Record {
	return ingest.Record{
		VehicleID: id,
		Status:    "on",
		Position:  transit.Coordinate{Lat: lat, Lng: lng},
		Line:      line,
		Timestamp: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC),
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*ingest.Record)
		want error
	}{
		{"active", func(*ingest.Record) {}, nil},
		{"status must match exactly", func(r *ingest.Record) { r.Status = "ON" }, ingest.ErrInactive},
		{"padded status", func(r *ingest.Record) { r.Status = " on " }, ingest.ErrInactive},
		{"inactive", func(r *ingest.Record) { r.Status = "off" }, ingest.ErrInactive},
		{"inactive wins over bad coords", func(r *ingest.Record) { r.Status = ""; r.Position.Lat = math.NaN() }, ingest.ErrInactive},
		{"nan latitude", func(r *ingest.Record) { r.Position.Lat = math.NaN() }, ingest.ErrInvalidInput},
		{"infinite longitude", func(r *ingest.Record) { r.Position.Lng = math.Inf(1) }, ingest.ErrInvalidInput},
		{"sentinel line", func(r *ingest.Record) { r.Line = " ? " }, ingest.ErrNoLine},
		{"empty line", func(r *ingest.Record) { r.Line = "  " }, ingest.ErrNoLine},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := rec("v", "5", 47, 26)
			tt.mod(&r)
			err := r.Validate()
			if tt.want == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.want)
		})
	}
	assert.ErrorIs(t, ingest.ErrNoLine, ingest.ErrInvalidInput)
}

// A jump is rejected without becoming the reference point, and a later fix close to the
// accepted point is treated as jitter.
func TestApplyFilters(t *testing.T) {
	opts := ingest.DefaultOptions()
	var tr transit.VehicleTrace

	require.NoError(t, ingest.Apply(&tr, rec("V1", "5", 47.0000, 26.0000), opts))
	require.NoError(t, ingest.Apply(&tr, rec("V1", "5", 47.0005, 26.0000), opts))
	require.ErrorIs(t, ingest.Apply(&tr, rec("V1", "5", 47.0500, 26.0000), opts), ingest.ErrJump)
	require.ErrorIs(t, ingest.Apply(&tr, rec("V1", "5", 47.00051, 26.00001), opts), ingest.ErrJitter)
	require.ErrorIs(t, ingest.Apply(&tr, rec("V1", "5", 47.0005, 26.0000), opts), ingest.ErrDuplicate)

	assert.Equal(t, []transit.Coordinate{{Lat: 47, Lng: 26}, {Lat: 47.0005, Lng: 26}}, tr.Coords)
	assert.Equal(t, "5", tr.Line)
}

func TestApplyUpdatesLineTag(t *testing.T) {
	opts := ingest.DefaultOptions()
	var tr transit.VehicleTrace

	require.NoError(t, ingest.Apply(&tr, rec("V1", "5", 47.0000, 26.0), opts))
	require.ErrorIs(t, ingest.Apply(&tr, rec("V1", "?", 47.0005, 26.0), opts), ingest.ErrNoLine)
	assert.Equal(t, "5", tr.Line)

	require.NoError(t, ingest.Apply(&tr, rec("V1", " 11 ", 47.0005, 26.0), opts))
	assert.Equal(t, "11", tr.Line)
}

func TestApplyCapacity(t *testing.T) {
	opts := ingest.Options{MaxJump: 350, MinMove: 8, MaxPoints: 5}
	var tr transit.VehicleTrace
	for i := 0; i < 8; i++ {
		require.NoError(t, ingest.Apply(&tr, rec("V1", "5", 47+float64(i)*0.0002, 26), opts))
	}
	require.Len(t, tr.Coords, 5)
	assert.InDelta(t, 47.0006, tr.Coords[0].Lat, 1e-9)
	assert.InDelta(t, 47.0014, tr.Coords[4].Lat, 1e-9)
}

func TestTraceInvariants(t *testing.T) {
	opts := ingest.DefaultOptions()
	var tr transit.VehicleTrace
	// A noisy walk: small wobble, occasional spikes, repeats.
	lat, lng := 47.64, 26.25
	for i := 0; i < 500; i++ {
		step := 0.0001 * float64(i%7)
		if i%13 == 0 {
			step = 0.01
		}
		_ = ingest.Apply(&tr, rec("V1", "5", lat+step, lng+float64(i)*0.00005), opts)
	}
	require.NotEmpty(t, tr.Coords)
	for i := 1; i < len(tr.Coords); i++ {
		assert.NotEqual(t, tr.Coords[i-1], tr.Coords[i])
		assert.LessOrEqual(t, geo.Haversine(tr.Coords[i-1], tr.Coords[i]), opts.MaxJump)
	}
}

type failingStore struct {
	*store.Memory
}

func (f failingStore) Replace(context.Context, store.Snapshot) error { return assert.AnError }

func TestCycle(t *testing.T) {
	t.Run("persists accepted fixes", func(t *testing.T) {
		st := store.NewMemory()
		in := ingest.New(st, ingest.DefaultOptions(), nil)

		stats, err := in.Cycle(t.Context(), []ingest.Record{
			rec("V2", "11", 47.1, 26.1),
			rec("V1", "5", 47.0, 26.0),
			{VehicleID: "V3", Status: "off"},
			rec("V4", "?", 47.2, 26.2),
		})
		require.NoError(t, err)
		assert.True(t, stats.Persisted)
		assert.Equal(t, 2, stats.Outcomes["accepted"])
		assert.Equal(t, 1, stats.Outcomes["inactive"])
		assert.Equal(t, 1, stats.Outcomes["no_line"])
		require.Len(t, stats.Accepted, 2)
		assert.Equal(t, "V1", stats.Accepted[0].VehicleID)

		snap, err := st.Snapshot(t.Context())
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"V1", "V2"}, snap.IDs())
		assert.False(t, snap["V1"].FirstSeen.IsZero())

		stats, err = in.Cycle(t.Context(), []ingest.Record{rec("V1", "5", 47.0005, 26.0)})
		require.NoError(t, err)
		require.Len(t, stats.Accepted, 1)
		assert.InDelta(t, 0, stats.Accepted[0].Bearing, 1e-6)

		got, err := st.Get(t.Context(), "V1")
		require.NoError(t, err)
		assert.Len(t, got.Coords, 2)
	})

	t.Run("nothing accepted skips write", func(t *testing.T) {
		st := failingStore{store.NewMemory()}
		in := ingest.New(st, ingest.DefaultOptions(), nil)

		stats, err := in.Cycle(t.Context(), []ingest.Record{{VehicleID: "V3", Status: "off"}})
		require.NoError(t, err)
		assert.False(t, stats.Persisted)
	})

	t.Run("write failure keeps prior snapshot", func(t *testing.T) {
		mem := store.NewMemory()
		require.NoError(t, mem.Put(t.Context(), transit.VehicleTrace{
			VehicleID: "V1", Line: "5", Coords: []transit.Coordinate{{Lat: 47, Lng: 26}},
		}))
		in := ingest.New(failingStore{mem}, ingest.DefaultOptions(), nil)

		_, err := in.Cycle(t.Context(), []ingest.Record{rec("V1", "5", 47.0005, 26.0)})
		require.ErrorIs(t, err, assert.AnError)

		got, err := mem.Get(t.Context(), "V1")
		require.NoError(t, err)
		assert.Len(t, got.Coords, 1)
	})
}

func TestCycleConcurrentWritersKeepEveryVehicle(t *testing.T) {
	const n = 32
	st := store.NewMemory()
	in := ingest.New(st, ingest.DefaultOptions(), nil)

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := rec(fmt.Sprintf("V%02d", i), "5", 47+float64(i)*0.01, 26)
			if _, err := in.Cycle(context.Background(), []ingest.Record{r}); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	snap, err := st.Snapshot(t.Context())
	require.NoError(t, err)
	require.Len(t, snap, n)
	for i := range n {
		assert.Len(t, snap[fmt.Sprintf("V%02d", i)].Coords, 1)
	}
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, "accepted", ingest.Outcome(nil))
	assert.Equal(t, "jump", ingest.Outcome(ingest.ErrJump))
	assert.Equal(t, "invalid", ingest.Outcome(ingest.ErrInvalidInput))
	assert.Equal(t, "no_line", ingest.Outcome(ingest.ErrNoLine))
	assert.Equal(t, "error", ingest.Outcome(assert.AnError))
}
