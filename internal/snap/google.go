package snap

import (
	"context"
	"fmt"

	"googlemaps.github.io/maps"

	"transit-tracker/internal/transit"
)

// GoogleAPIClient is the part of *maps.Client used for snapping.
type GoogleAPIClient interface {
	SnapToRoad(ctx context.Context, r *maps.SnapToRoadRequest) (*maps.SnapToRoadResponse, error)
}

// GoogleRoads snaps batches with the Google Roads API.
type GoogleRoads struct {
	client GoogleAPIClient
}

func NewGoogleRoads(client GoogleAPIClient) *GoogleRoads {
	return &GoogleRoads{client: client}
}

// Match snaps one batch with interpolation so the result follows road geometry between fixes.
func (g *GoogleRoads) Match(ctx context.Context, pts []transit.Coordinate) ([]transit.Coordinate, error) {
	if len(pts) < 2 {
		return nil, ErrTooFewPoints
	}
	path := make([]maps.LatLng, len(pts))
	for i, p := range pts {
		path[i] = maps.LatLng{Lat: p.Lat, Lng: p.Lng}
	}
	resp, err := g.client.SnapToRoad(ctx, &maps.SnapToRoadRequest{Path: path, Interpolate: true})
	if err != nil {
		return nil, fmt.Errorf("google roads: %w", err)
	}
	if resp == nil || len(resp.SnappedPoints) == 0 {
		return nil, ErrEmptyMatch
	}
	var out []transit.Coordinate
	for _, sp := range resp.SnappedPoints {
		out = Stitch(out, []transit.Coordinate{{Lat: sp.Location.Lat, Lng: sp.Location.Lng}})
	}
	return out, nil
}
