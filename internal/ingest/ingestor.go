package ingest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"transit-tracker/internal/geo"
	"transit-tracker/internal/store"
	"transit-tracker/internal/transit"
)

const (
	DefaultMaxJump   = 350.0 // meters
	DefaultMinMove   = 8.0   // meters
	DefaultMaxPoints = 6000
)

// Options tunes the plausibility filters.
type Options struct {
	MaxJump   float64
	MinMove   float64
	MaxPoints int
}

func DefaultOptions() Options {
	return Options{MaxJump: DefaultMaxJump, MinMove: DefaultMinMove, MaxPoints: DefaultMaxPoints}
}

// Fix is an accepted position together with the heading it implies.
type Fix struct {
	Record
	Bearing float64
}

// CycleStats summarises one ingest cycle.
type CycleStats struct {
	Outcomes  map[string]int
	Accepted  []Fix
	Vehicles  int
	Persisted bool
}

// Ingestor folds feed records into the trace store. Cycle is the only writer.
type Ingestor struct {
	store store.Store
	opts  Options
	log   *zap.Logger
	now   func() time.Time

	mu sync.Mutex
}

func New(st store.Store, opts Options, log *zap.Logger) *Ingestor {
	if opts.MaxPoints <= 0 {
		opts.MaxPoints = DefaultMaxPoints
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Ingestor{store: st, opts: opts, log: log, now: time.Now}
}

// Apply runs r through validation and the duplicate, jump and jitter filters and appends it to
// trace on success. On any rejection the trace is left untouched.
func Apply(trace *transit.VehicleTrace, r Record, opts Options) error {
	if err := r.Validate(); err != nil {
		return err
	}
	p := r.Position
	if last, ok := trace.Last(); ok {
		if last == p {
			return ErrDuplicate
		}
		d := geo.Haversine(last, p)
		if d > opts.MaxJump {
			return fmt.Errorf("%w: %.0fm", ErrJump, d)
		}
		if d < opts.MinMove {
			return fmt.Errorf("%w: %.1fm", ErrJitter, d)
		}
	}
	trace.Coords = append(trace.Coords, p)
	trace.Line = strings.TrimSpace(r.Line)
	if opts.MaxPoints > 0 && len(trace.Coords) > opts.MaxPoints {
		trace.Coords = append([]transit.Coordinate(nil), trace.Coords[len(trace.Coords)-opts.MaxPoints:]...)
	}
	return nil
}

// Cycle applies one batch of records as a single read-modify-write against the store.
// If the write fails the stored snapshot is unchanged and the error is returned.
func (in *Ingestor) Cycle(ctx context.Context, records []Record) (CycleStats, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	stats := CycleStats{Outcomes: make(map[string]int)}
	snap, err := in.store.Snapshot(ctx)
	if err != nil {
		return stats, fmt.Errorf("load snapshot: %w", err)
	}

	sorted := append([]Record(nil), records...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].VehicleID < sorted[j].VehicleID })

	changed := false
	for _, r := range sorted {
		trace, exists := snap[r.VehicleID]
		if !exists {
			trace = transit.VehicleTrace{VehicleID: r.VehicleID, FirstSeen: in.firstSeen(r)}
		}
		prev, hadPrev := trace.Last()
		err := Apply(&trace, r, in.opts)
		stats.Outcomes[Outcome(err)]++
		if err != nil {
			if Outcome(err) == "invalid" {
				in.log.Debug("invalid record", zap.String("vehicle", r.VehicleID), zap.Error(err))
			}
			continue
		}
		fix := Fix{Record: r}
		if hadPrev {
			fix.Bearing = geo.Bearing(prev, r.Position)
		}
		stats.Accepted = append(stats.Accepted, fix)
		snap[r.VehicleID] = trace
		changed = true
	}
	stats.Vehicles = len(snap)

	if !changed {
		return stats, nil
	}
	if err := in.store.Replace(ctx, snap); err != nil {
		return stats, fmt.Errorf("replace snapshot: %w", err)
	}
	stats.Persisted = true
	return stats, nil
}

func (in *Ingestor) firstSeen(r Record) time.Time {
	if !r.Timestamp.IsZero() {
		return r.Timestamp
	}
	return in.now()
}
