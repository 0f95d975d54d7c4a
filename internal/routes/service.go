package routes

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"transit-tracker/internal/store"
	"transit-tracker/internal/transit"
)

// Snapper aligns a polyline to the road network.
type Snapper interface {
	Snap(ctx context.Context, pts []transit.Coordinate) ([]transit.Coordinate, error)
}

// ServiceMetrics receives route build observations. A nil value disables them.
type ServiceMetrics interface {
	RouteBuildObserve(d time.Duration)
	SnapResultInc(result string)
}

// Service derives line routes from the trace store on demand.
type Service struct {
	store   store.Store
	snapper Snapper
	opts    CleanerOptions
	log     *zap.Logger
	metrics ServiceMetrics
}

// NewService wires a route service. snapper may be nil, in which case snapping requests return
// the cleaned polylines unchanged.
func NewService(st store.Store, snapper Snapper, opts CleanerOptions, log *zap.Logger, m ServiceMetrics) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: st, snapper: snapper, opts: opts, log: log, metrics: m}
}

// Routes returns the cleaned route of every line with enough data, keyed by line.
// With snap set, each route is additionally aligned to roads where the snapper succeeds.
func (s *Service) Routes(ctx context.Context, snap bool) (map[string]transit.LineRoute, error) {
	start := time.Now()
	traces, err := s.store.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("load traces: %w", err)
	}

	out := make(map[string]transit.LineRoute)
	for _, src := range Aggregate(traces) {
		coords := Clean(src.Coords, s.opts)
		if len(coords) < 2 {
			continue
		}
		route := transit.LineRoute{Line: src.Line, Coords: coords, SourceVehicleID: src.VehicleID}
		if snap {
			route.Coords, route.Snapped = s.SnapOrFallback(ctx, coords)
		}
		out[src.Line] = route
	}

	if s.metrics != nil {
		s.metrics.RouteBuildObserve(time.Since(start))
	}
	return out, nil
}

// SnapOrFallback snaps pts and reports whether it did. Any snapper failure yields pts unchanged.
func (s *Service) SnapOrFallback(ctx context.Context, pts []transit.Coordinate) ([]transit.Coordinate, bool) {
	if s.snapper == nil || len(pts) < 2 {
		return pts, false
	}
	snapped, err := s.snapper.Snap(ctx, pts)
	if err != nil || len(snapped) < 2 {
		if err != nil {
			s.log.Warn("snap failed, using unsnapped polyline", zap.Int("points", len(pts)), zap.Error(err))
		}
		s.snapResult("fallback")
		return pts, false
	}
	s.snapResult("ok")
	return snapped, true
}

func (s *Service) snapResult(result string) {
	if s.metrics != nil {
		s.metrics.SnapResultInc(result)
	}
}
