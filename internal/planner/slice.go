package planner

import (
	"slices"

	"transit-tracker/internal/geo"
	"transit-tracker/internal/transit"
)

// Slice cuts the part of route between the vertices nearest to a and b, oriented from a to b.
// Routes may be loops: when the complement of the direct arc (total length minus the direct arc)
// is shorter, that wrap-around arc is returned instead. Returns nil for routes with fewer than two points.
func Slice(route []transit.Coordinate, a, b transit.Coordinate) []transit.Coordinate {
	if len(route) < 2 {
		return nil
	}
	iA := geo.NearestIndex(route, a)
	iB := geo.NearestIndex(route, b)
	if iA == iB {
		return []transit.Coordinate{route[iA], route[iA]}
	}

	lo, hi := min(iA, iB), max(iA, iB)
	cum := geo.CumDistances(route)
	total := cum[len(cum)-1]
	forward := cum[hi] - cum[lo]
	wrap := total - forward

	if wrap < forward {
		// Travel from hi to the end, then from the start to lo.
		arc := make([]transit.Coordinate, 0, len(route)-hi+lo+1)
		arc = append(arc, route[hi:]...)
		start := route[:lo+1]
		if len(start) > 0 && start[0] == arc[len(arc)-1] {
			start = start[1:]
		}
		arc = append(arc, start...)
		if iA < iB {
			slices.Reverse(arc)
		}
		return arc
	}

	arc := slices.Clone(route[lo : hi+1])
	if iA > iB {
		slices.Reverse(arc)
	}
	return arc
}
