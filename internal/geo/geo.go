package geo

import (
	"math"

	"transit-tracker/internal/transit"
)

const (
	earthRadius = 6371000.0

	// Meters per degree used by the planar projection. Longitude is scaled by cos(lat0).
	metersPerDegLng = 111320.0
	metersPerDegLat = 110540.0
)

func toRad(d float64) float64 { return d * math.Pi / 180 }

// Haversine returns the great-circle distance in meters.
func Haversine(a, b transit.Coordinate) float64 {
	dLat := toRad(b.Lat - a.Lat)
	dLon := toRad(b.Lng - a.Lng)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadius * c
}

// Distance returns the planar approximation in meters, projected at the mean latitude of a and b.
// It is accurate to well under a percent at city scale.
func Distance(a, b transit.Coordinate) float64 {
	lat0 := toRad((a.Lat + b.Lat) / 2)
	dx := (b.Lng - a.Lng) * metersPerDegLng * math.Cos(lat0)
	dy := (b.Lat - a.Lat) * metersPerDegLat
	return math.Hypot(dx, dy)
}

// Frame is a local tangent plane anchored at an origin coordinate.
type Frame struct {
	origin transit.Coordinate
	kx     float64
}

// NewFrame anchors a planar frame at origin.
func NewFrame(origin transit.Coordinate) Frame {
	return Frame{origin: origin, kx: metersPerDegLng * math.Cos(toRad(origin.Lat))}
}

// XY projects c into the frame, in meters east and north of the origin.
func (f Frame) XY(c transit.Coordinate) (x, y float64) {
	return (c.Lng - f.origin.Lng) * f.kx, (c.Lat - f.origin.Lat) * metersPerDegLat
}

// AngleAt returns the interior angle ABC at vertex b in degrees.
// Zero-length legs yield 180, i.e. no turn.
func AngleAt(a, b, c transit.Coordinate) float64 {
	f := NewFrame(b)
	ax, ay := f.XY(a)
	cx, cy := f.XY(c)
	na := math.Hypot(ax, ay)
	nc := math.Hypot(cx, cy)
	if na == 0 || nc == 0 {
		return 180
	}
	cos := (ax*cx + ay*cy) / (na * nc)
	cos = math.Max(-1, math.Min(1, cos))
	return math.Acos(cos) * 180 / math.Pi
}

// PerpendicularDistance returns the distance in meters from p to the line through a and b.
// When a and b coincide the plain distance from p to a is returned.
func PerpendicularDistance(p, a, b transit.Coordinate) float64 {
	f := NewFrame(transit.Coordinate{Lat: (a.Lat + b.Lat) / 2, Lng: a.Lng})
	ax, ay := f.XY(a)
	bx, by := f.XY(b)
	px, py := f.XY(p)
	dx, dy := bx-ax, by-ay
	l := math.Hypot(dx, dy)
	if l == 0 {
		return math.Hypot(px-ax, py-ay)
	}
	return math.Abs(dx*(ay-py)-dy*(ax-px)) / l
}

// CumDistances returns the running planar arc length at each vertex; the first entry is 0.
func CumDistances(pts []transit.Coordinate) []float64 {
	if len(pts) == 0 {
		return nil
	}
	cum := make([]float64, len(pts))
	for i := 1; i < len(pts); i++ {
		cum[i] = cum[i-1] + Distance(pts[i-1], pts[i])
	}
	return cum
}

// NearestIndex returns the index of the vertex of pts closest to c, or -1 for an empty slice.
// Ties resolve to the lowest index.
func NearestIndex(pts []transit.Coordinate, c transit.Coordinate) int {
	best := -1
	bestD := math.Inf(1)
	for i, p := range pts {
		if d := Distance(p, c); d < bestD {
			best, bestD = i, d
		}
	}
	return best
}

// Bearing returns the initial bearing from a to b in degrees [0, 360).
func Bearing(a, b transit.Coordinate) float64 {
	y := math.Sin(toRad(b.Lng-a.Lng)) * math.Cos(toRad(b.Lat))
	x := math.Cos(toRad(a.Lat))*math.Sin(toRad(b.Lat)) - math.Sin(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Cos(toRad(b.Lng-a.Lng))
	brng := math.Atan2(y, x) * 180 / math.Pi
	if brng < 0 {
		brng += 360
	}
	return brng
}

// Finite reports whether both components of c are finite numbers.
func Finite(c transit.Coordinate) bool {
	return !math.IsNaN(c.Lat) && !math.IsInf(c.Lat, 0) && !math.IsNaN(c.Lng) && !math.IsInf(c.Lng, 0)
}
