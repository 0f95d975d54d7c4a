package routes

import (
	"sort"

	"transit-tracker/internal/store"
	"transit-tracker/internal/transit"
)

// Source is the trace elected to represent a line.
type Source struct {
	Line      string
	VehicleID string
	Coords    []transit.Coordinate
}

// Aggregate picks, for every line, the trace with the most points. Ties go to the vehicle seen
// first, then to the lowest vehicle id. Lines whose best trace has fewer than two points are left out.
// The result is ordered by line.
func Aggregate(snap store.Snapshot) []Source {
	best := make(map[string]transit.VehicleTrace)
	for _, id := range snap.IDs() {
		t := snap[id]
		t.VehicleID = id
		if t.Line == "" {
			continue
		}
		cur, ok := best[t.Line]
		if !ok || better(t, cur) {
			best[t.Line] = t
		}
	}

	out := make([]Source, 0, len(best))
	for line, t := range best {
		if len(t.Coords) < 2 {
			continue
		}
		out = append(out, Source{Line: line, VehicleID: t.VehicleID, Coords: t.Coords})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Line < out[j].Line })
	return out
}

func better(a, b transit.VehicleTrace) bool {
	if len(a.Coords) != len(b.Coords) {
		return len(a.Coords) > len(b.Coords)
	}
	if !a.FirstSeen.Equal(b.FirstSeen) {
		return a.FirstSeen.Before(b.FirstSeen)
	}
	return a.VehicleID < b.VehicleID
}
