package snap

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"transit-tracker/internal/transit"
)

// OSRMBaseURL is the public OSRM demo server.
const OSRMBaseURL = "https://router.project-osrm.org"

// HTTPClient is satisfied by *http.Client.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// OSRM snaps batches with the OSRM map-matching service.
type OSRM struct {
	client  HTTPClient
	baseURL string
	radius  float64
	limiter *rate.Limiter
}

type osrmResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Matchings []struct {
		Geometry struct {
			Coordinates [][]float64 `json:"coordinates"` // [lng, lat]
		} `json:"geometry"`
	} `json:"matchings"`
}

// NewOSRM creates an OSRM provider with its own HTTP client. ratePerSec <= 0 disables pacing.
func NewOSRM(baseURL string, radius float64, ratePerSec float64, timeout time.Duration) *OSRM {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return NewOSRMWithClient(&http.Client{Timeout: timeout}, baseURL, radius, ratePerSec)
}

// NewOSRMWithClient allows injecting a custom HTTP client.
func NewOSRMWithClient(client HTTPClient, baseURL string, radius float64, ratePerSec float64) *OSRM {
	if baseURL == "" {
		baseURL = OSRMBaseURL
	}
	if radius <= 0 {
		radius = DefaultRadius
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if ratePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(ratePerSec), 1)
	}
	return &OSRM{client: client, baseURL: strings.TrimRight(baseURL, "/"), radius: radius, limiter: limiter}
}

func (o *OSRM) requestURL(pts []transit.Coordinate) string {
	coords := make([]string, len(pts))
	radiuses := make([]string, len(pts))
	r := strconv.FormatFloat(o.radius, 'f', -1, 64)
	for i, p := range pts {
		coords[i] = strconv.FormatFloat(p.Lng, 'f', -1, 64) + "," + strconv.FormatFloat(p.Lat, 'f', -1, 64)
		radiuses[i] = r
	}
	// OSRM expects literal ';' separators, so the query is not form-encoded.
	return o.baseURL + "/match/v1/driving/" + strings.Join(coords, ";") +
		"?geometries=geojson&overview=full&radiuses=" + strings.Join(radiuses, ";")
}

// Match snaps one batch. Multiple matchings are concatenated in order.
func (o *OSRM) Match(ctx context.Context, pts []transit.Coordinate) ([]transit.Coordinate, error) {
	if len(pts) < 2 {
		return nil, ErrTooFewPoints
	}
	if err := o.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("osrm: rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.requestURL(pts), nil)
	if err != nil {
		return nil, fmt.Errorf("osrm: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("osrm: request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("osrm: read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("osrm: unexpected status %d", resp.StatusCode)
	}

	var out osrmResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("osrm: decode: %w", err)
	}
	if out.Code != "Ok" {
		return nil, fmt.Errorf("osrm: %s: %s", out.Code, out.Message)
	}

	var coords []transit.Coordinate
	for _, m := range out.Matchings {
		for _, c := range m.Geometry.Coordinates {
			if len(c) < 2 {
				continue
			}
			coords = Stitch(coords, []transit.Coordinate{{Lat: c[1], Lng: c[0]}})
		}
	}
	if len(coords) == 0 {
		return nil, ErrEmptyMatch
	}
	return coords, nil
}
