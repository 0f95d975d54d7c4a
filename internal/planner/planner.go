package planner

import (
	"fmt"
	"sort"

	"transit-tracker/internal/geo"
	"transit-tracker/internal/transit"
)

const (
	DefaultSearchRadius  = 900.0 // meters
	DefaultNearStopLimit = 10

	ReasonUnknownDestination = "Destination stop not found."
	ReasonNoRoute            = "No direct or 1-transfer route found with current stop/line data."
)

// Kind discriminates Plan variants.
type Kind string

const (
	KindDirect   Kind = "direct"
	KindTransfer Kind = "transfer"
	KindFailure  Kind = "failure"
)

// Plan is the outcome of a planning query. Which fields are set depends on Kind:
// direct fills LineA, BoardStop, DestStop, Walk and RideA; transfer additionally fills LineB,
// TransferStop and RideB; failure only fills Reason.
type Plan struct {
	Kind         Kind
	LineA        string
	LineB        string
	BoardStop    transit.Stop
	TransferStop transit.Stop
	DestStop     transit.Stop
	Walk         []transit.Coordinate
	RideA        []transit.Coordinate
	RideB        []transit.Coordinate
	Reason       string
}

func (p Plan) OK() bool { return p.Kind != KindFailure }

func failure(reason string) Plan { return Plan{Kind: KindFailure, Reason: reason} }

func missingPolyline(line string) Plan {
	return failure(fmt.Sprintf("No route polyline found for line %s.", line))
}

// Options bounds the stop search.
type Options struct {
	SearchRadius  float64
	NearStopLimit int
}

func DefaultOptions() Options {
	return Options{SearchRadius: DefaultSearchRadius, NearStopLimit: DefaultNearStopLimit}
}

// Planner answers rider queries against a stop catalog. It holds no mutable state.
type Planner struct {
	catalog *Catalog
	opts    Options
}

func New(catalog *Catalog, opts Options) *Planner {
	return &Planner{catalog: catalog, opts: opts}
}

func (p *Planner) Catalog() *Catalog { return p.catalog }

// Plan finds a direct ride, or failing that a ride with one transfer, from the stops near rider
// to destStopID. routes maps line to its polyline. The search is greedy: the first acceptable
// candidate wins, not the shortest trip.
func (p *Planner) Plan(rider transit.Coordinate, destStopID string, routes map[string][]transit.Coordinate) Plan {
	dest, ok := p.catalog.Stop(destStopID)
	if !ok {
		return failure(ReasonUnknownDestination)
	}

	near := p.nearStops(rider)

	// Direct: nearest stop sharing a line with the destination.
	for _, s := range near {
		shared := intersect(s.stop.Lines, dest.Lines)
		if len(shared) == 0 {
			continue
		}
		lineA := shared[0]
		route := routes[lineA]
		if len(route) < 2 {
			return missingPolyline(lineA)
		}
		return Plan{
			Kind:      KindDirect,
			LineA:     lineA,
			BoardStop: s.stop,
			DestStop:  dest,
			Walk:      []transit.Coordinate{rider, s.stop.Position},
			RideA:     Slice(route, s.stop.Position, dest.Position),
		}
	}

	// One transfer: board one of the nearest stops, ride lineA to any stop that also serves a
	// destination line.
	limit := p.opts.NearStopLimit
	boards := make([]transit.Stop, 0, limit)
	for _, s := range near {
		if len(boards) == limit {
			break
		}
		if len(s.stop.Lines) > 0 {
			boards = append(boards, s.stop)
		}
	}
	for _, board := range boards {
		for _, lineA := range board.Lines {
			if lineA == "" {
				continue
			}
			for _, t := range p.catalog.Stops() {
				if !t.Serves(lineA) {
					continue
				}
				lineBs := without(intersect(t.Lines, dest.Lines), lineA)
				if len(lineBs) == 0 {
					continue
				}
				return p.transfer(rider, board, t, dest, lineA, lineBs[0], routes)
			}
		}
	}

	return failure(ReasonNoRoute)
}

func (p *Planner) transfer(rider transit.Coordinate, board, xfer, dest transit.Stop, lineA, lineB string, routes map[string][]transit.Coordinate) Plan {
	routeA, routeB := routes[lineA], routes[lineB]
	if len(routeA) < 2 {
		return missingPolyline(lineA)
	}
	if len(routeB) < 2 {
		return missingPolyline(lineB)
	}
	return Plan{
		Kind:         KindTransfer,
		LineA:        lineA,
		LineB:        lineB,
		BoardStop:    board,
		TransferStop: xfer,
		DestStop:     dest,
		Walk:         []transit.Coordinate{rider, board.Position},
		RideA:        Slice(routeA, board.Position, xfer.Position),
		RideB:        Slice(routeB, xfer.Position, dest.Position),
	}
}

type nearStop struct {
	stop transit.Stop
	dist float64
}

// nearStops lists catalog stops within the search radius of c, nearest first. Equal distances
// keep catalog order.
func (p *Planner) nearStops(c transit.Coordinate) []nearStop {
	var out []nearStop
	for _, s := range p.catalog.Stops() {
		if d := geo.Distance(c, s.Position); d <= p.opts.SearchRadius {
			out = append(out, nearStop{stop: s, dist: d})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].dist < out[j].dist })
	return out
}

// intersect keeps the elements of a, in a's order, that also appear in b. Empty names never match.
func intersect(a, b []string) []string {
	set := make(map[string]struct{}, len(b))
	for _, x := range b {
		set[x] = struct{}{}
	}
	var out []string
	for _, x := range a {
		if x == "" {
			continue
		}
		if _, ok := set[x]; ok {
			out = append(out, x)
		}
	}
	return out
}

func without(a []string, x string) []string {
	out := a[:0:0]
	for _, v := range a {
		if v != x {
			out = append(out, v)
		}
	}
	return out
}
