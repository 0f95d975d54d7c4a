package routes

import (
	"sort"

	"transit-tracker/internal/geo"
	"transit-tracker/internal/transit"
)

// CleanerOptions holds the tuning constants of the cleaning pipeline.
type CleanerOptions struct {
	MedianWindow int // odd; smoothing is skipped for shorter traces

	SpikePasses   int
	SpikeMaxChord float64 // meters, A to C
	SpikeMinLeg   float64 // meters, A to B and B to C
	SpikeMaxAngle float64 // degrees at B

	Epsilon    float64 // RDP tolerance, meters
	MaxSegment float64 // meters
}

func DefaultCleanerOptions() CleanerOptions {
	return CleanerOptions{
		MedianWindow:  7,
		SpikePasses:   3,
		SpikeMaxChord: 35,
		SpikeMinLeg:   18,
		SpikeMaxAngle: 55,
		Epsilon:       6,
		MaxSegment:    60,
	}
}

// Clean turns a raw trace into a presentable polyline: dedupe, median smoothing, spike removal,
// RDP simplification and a max-segment guard, in that order. The result has at least two points
// whenever the deduplicated input does.
func Clean(pts []transit.Coordinate, opts CleanerOptions) []transit.Coordinate {
	deduped := Dedupe(pts)
	if len(deduped) < 2 {
		return deduped
	}

	smoothed := Dedupe(MedianSmooth(deduped, opts.MedianWindow))
	despiked := Despike(smoothed, opts)
	keep := Simplify(despiked, opts.Epsilon)
	out := GuardSegments(despiked, keep, opts.MaxSegment)
	if len(out) < 2 {
		return deduped
	}
	return out
}

// Dedupe drops points identical to their predecessor.
func Dedupe(pts []transit.Coordinate) []transit.Coordinate {
	out := make([]transit.Coordinate, 0, len(pts))
	for i, p := range pts {
		if i > 0 && p == pts[i-1] {
			continue
		}
		out = append(out, p)
	}
	return out
}

// MedianSmooth replaces each point by the per-axis median of the window centred on it, clamped
// at the ends. Sequences shorter than the window are returned unchanged.
func MedianSmooth(pts []transit.Coordinate, window int) []transit.Coordinate {
	if window < 3 || len(pts) < window {
		return pts
	}
	half := window / 2
	out := make([]transit.Coordinate, len(pts))
	lats := make([]float64, 0, window)
	lngs := make([]float64, 0, window)
	for i := range pts {
		lo := max(0, i-half)
		hi := min(len(pts)-1, i+half)
		lats, lngs = lats[:0], lngs[:0]
		for _, p := range pts[lo : hi+1] {
			lats = append(lats, p.Lat)
			lngs = append(lngs, p.Lng)
		}
		out[i] = transit.Coordinate{Lat: median(lats), Lng: median(lngs)}
	}
	return out
}

func median(v []float64) float64 {
	sort.Float64s(v)
	n := len(v)
	if n%2 == 1 {
		return v[n/2]
	}
	return (v[n/2-1] + v[n/2]) / 2
}

// Despike removes out-and-back GPS excursions, repeating up to opts.SpikePasses times or until a
// pass removes nothing.
func Despike(pts []transit.Coordinate, opts CleanerOptions) []transit.Coordinate {
	for pass := 0; pass < opts.SpikePasses; pass++ {
		next, removed := despikePass(pts, opts)
		pts = next
		if !removed {
			break
		}
	}
	return pts
}

func despikePass(pts []transit.Coordinate, opts CleanerOptions) ([]transit.Coordinate, bool) {
	if len(pts) < 3 {
		return pts, false
	}
	out := make([]transit.Coordinate, 0, len(pts))
	out = append(out, pts[0])
	removed := false
	for i := 1; i < len(pts)-1; i++ {
		if isSpike(out[len(out)-1], pts[i], pts[i+1], opts) {
			removed = true
			continue
		}
		out = append(out, pts[i])
	}
	out = append(out, pts[len(pts)-1])
	return out, removed
}

func isSpike(a, b, c transit.Coordinate, opts CleanerOptions) bool {
	return geo.Distance(a, c) <= opts.SpikeMaxChord &&
		geo.Distance(a, b) >= opts.SpikeMinLeg &&
		geo.Distance(b, c) >= opts.SpikeMinLeg &&
		geo.AngleAt(a, b, c) <= opts.SpikeMaxAngle
}

// Simplify runs Ramer-Douglas-Peucker and returns the ascending indices of the kept points.
// Both endpoints are always kept.
func Simplify(pts []transit.Coordinate, epsilon float64) []int {
	n := len(pts)
	if n <= 2 {
		keep := make([]int, n)
		for i := range keep {
			keep[i] = i
		}
		return keep
	}

	marked := make([]bool, n)
	marked[0], marked[n-1] = true, true
	type span struct{ first, last int }
	stack := []span{{0, n - 1}}
	for len(stack) > 0 {
		s := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		idx, dmax := -1, 0.0
		for i := s.first + 1; i < s.last; i++ {
			if d := geo.PerpendicularDistance(pts[i], pts[s.first], pts[s.last]); d > dmax {
				idx, dmax = i, d
			}
		}
		if idx < 0 || dmax <= epsilon {
			continue
		}
		marked[idx] = true
		stack = append(stack, span{s.first, idx}, span{idx, s.last})
	}

	keep := make([]int, 0, n)
	for i, m := range marked {
		if m {
			keep = append(keep, i)
		}
	}
	return keep
}

// GuardSegments materialises the kept points of pts and, wherever two consecutive kept points
// are more than maxSegment apart, splices back every original point between them.
func GuardSegments(pts []transit.Coordinate, keep []int, maxSegment float64) []transit.Coordinate {
	if len(keep) == 0 {
		return nil
	}
	out := make([]transit.Coordinate, 0, len(keep))
	out = append(out, pts[keep[0]])
	for k := 1; k < len(keep); k++ {
		i, j := keep[k-1], keep[k]
		if geo.Distance(pts[i], pts[j]) > maxSegment {
			out = append(out, pts[i+1:j]...)
		}
		out = append(out, pts[j])
	}
	return out
}
