package store

import (
	"context"
	"errors"
	"sort"

	"transit-tracker/internal/transit"
)

var ErrNotFound = errors.New("trace not found")

// Snapshot maps vehicle id to its trace.
type Snapshot map[string]transit.VehicleTrace

// Clone deep-copies the snapshot.
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for id, t := range s {
		c := t.Clone()
		c.VehicleID = id
		out[id] = c
	}
	return out
}

// IDs returns the vehicle ids in ascending order.
func (s Snapshot) IDs() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Store persists vehicle traces. Snapshot must return a copy the caller owns, and Replace must
// swap the whole collection atomically: readers see either the old or the new snapshot.
type Store interface {
	// Get and Put address a single trace. The ingest cycle goes through Snapshot and Replace;
	// these serve fixtures and tooling.
	Get(ctx context.Context, vehicleID string) (transit.VehicleTrace, error)
	Put(ctx context.Context, trace transit.VehicleTrace) error
	Snapshot(ctx context.Context) (Snapshot, error)
	Replace(ctx context.Context, snap Snapshot) error
	Ping(ctx context.Context) error
	Close() error
}
