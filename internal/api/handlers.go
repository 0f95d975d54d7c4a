package api

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"go.uber.org/zap"

	"transit-tracker/internal/geo"
	"transit-tracker/internal/ingest"
	"transit-tracker/internal/planner"
	"transit-tracker/internal/transit"
)

const (
	errInvalidMe     = "Missing/invalid `me` (LatLng)."
	errMissingDest   = "Missing `destStopId`."
	errRoutesLoad    = "Failed to load routes."
	errTracesLoad    = "Failed to load traces."
	errInvalidCoords = "Missing/invalid `coords`."
)

// Health reports whether the trace store is reachable.
func (s *Server) Health(c *gin.Context) {
	if err := s.deps.Store.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type busesResponse struct {
	PolledAt string          `json:"polledAt,omitempty"`
	Buses    []ingest.Record `json:"buses"`
}

// Buses returns the in-service vehicles of the last poll.
func (s *Server) Buses(c *gin.Context) {
	recs, polled := s.deps.Live.Latest()
	out := busesResponse{Buses: recs}
	if out.Buses == nil {
		out.Buses = []ingest.Record{}
	}
	if !polled.IsZero() {
		out.PolledAt = polled.UTC().Format(time.RFC3339)
	}
	c.JSON(http.StatusOK, out)
}

// Traces returns the raw stored trace of every vehicle keyed by vehicle id.
func (s *Server) Traces(c *gin.Context) {
	snap, err := s.deps.Store.Snapshot(c.Request.Context())
	if err != nil {
		s.log.Error("load traces failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": errTracesLoad})
		return
	}
	c.JSON(http.StatusOK, snap)
}

// Routes returns line -> route. With ?snap=true routes are aligned to roads where possible.
func (s *Server) Routes(c *gin.Context) {
	snap, _ := strconv.ParseBool(c.Query("snap"))
	routes, err := s.deps.Routes.Routes(c.Request.Context(), snap)
	if err != nil {
		s.log.Error("build routes failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": errRoutesLoad})
		return
	}
	c.JSON(http.StatusOK, routes)
}

// RoutesGeoJSON returns the routes as a FeatureCollection of LineStrings ordered by line.
func (s *Server) RoutesGeoJSON(c *gin.Context) {
	snap, _ := strconv.ParseBool(c.Query("snap"))
	routes, err := s.deps.Routes.Routes(c.Request.Context(), snap)
	if err != nil {
		s.log.Error("build routes failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": errRoutesLoad})
		return
	}

	lines := make([]string, 0, len(routes))
	for line := range routes {
		lines = append(lines, line)
	}
	sort.Strings(lines)

	fc := geojson.NewFeatureCollection()
	for _, line := range lines {
		fc.Append(routeFeature(routes[line]))
	}
	b, err := fc.MarshalJSON()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": errRoutesLoad})
		return
	}
	c.Data(http.StatusOK, "application/geo+json", b)
}

func routeFeature(r transit.LineRoute) *geojson.Feature {
	ls := make(orb.LineString, len(r.Coords))
	for i, p := range r.Coords {
		ls[i] = orb.Point{p.Lng, p.Lat}
	}
	f := geojson.NewFeature(ls)
	f.ID = r.Line
	f.Properties["line"] = r.Line
	f.Properties["sourceBusId"] = r.SourceVehicleID
	f.Properties["snapped"] = r.Snapped
	return f
}

func (s *Server) Stops(c *gin.Context) {
	stops := s.deps.Planner.Catalog().Stops()
	if stops == nil {
		stops = []transit.Stop{}
	}
	c.JSON(http.StatusOK, stops)
}

type planRequest struct {
	Me         json.RawMessage `json:"me"`
	DestStopID json.RawMessage `json:"destStopId"`
}

type planResponse struct {
	OK             bool                 `json:"ok"`
	Error          string               `json:"error,omitempty"`
	Kind           planner.Kind         `json:"kind,omitempty"`
	LineA          string               `json:"lineA,omitempty"`
	LineB          string               `json:"lineB,omitempty"`
	BoardStopID    string               `json:"boardStopId,omitempty"`
	TransferStopID string               `json:"transferStopId,omitempty"`
	DestStopID     string               `json:"destStopId,omitempty"`
	Walk           []transit.Coordinate `json:"walk,omitempty"`
	RideA          []transit.Coordinate `json:"rideA,omitempty"`
	RideB          []transit.Coordinate `json:"rideB,omitempty"`
}

func newPlanResponse(p planner.Plan) planResponse {
	if !p.OK() {
		return planResponse{OK: false, Error: p.Reason}
	}
	out := planResponse{
		OK:          true,
		Kind:        p.Kind,
		LineA:       p.LineA,
		BoardStopID: p.BoardStop.ID,
		DestStopID:  p.DestStop.ID,
		Walk:        p.Walk,
		RideA:       nonNil(p.RideA),
	}
	if p.Kind == planner.KindTransfer {
		out.LineB = p.LineB
		out.TransferStopID = p.TransferStop.ID
		out.RideB = nonNil(p.RideB)
	}
	return out
}

func nonNil(c []transit.Coordinate) []transit.Coordinate {
	if c == nil {
		return []transit.Coordinate{}
	}
	return c
}

// Plan answers {me: [lat, lng], destStopId} with a direct or one-transfer itinerary. Planning
// failures are reported with 200 and ok=false; only malformed requests get 400.
func (s *Server) Plan(c *gin.Context) {
	var req planRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, planResponse{Error: errInvalidMe})
		return
	}
	me, ok := parseRider(req.Me)
	if !ok {
		c.JSON(http.StatusBadRequest, planResponse{Error: errInvalidMe})
		return
	}
	var dest string
	if err := json.Unmarshal(req.DestStopID, &dest); err != nil || dest == "" {
		c.JSON(http.StatusBadRequest, planResponse{Error: errMissingDest})
		return
	}

	p := s.deps.Planner
	if _, known := p.Catalog().Stop(dest); !known {
		s.respondPlan(c, p.Plan(me, dest, nil))
		return
	}

	routes, err := s.deps.Routes.Routes(c.Request.Context(), false)
	if err != nil {
		s.log.Error("load routes for plan failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, planResponse{Error: errRoutesLoad})
		return
	}
	polylines := make(map[string][]transit.Coordinate, len(routes))
	for line, r := range routes {
		polylines[line] = r.Coords
	}
	s.respondPlan(c, p.Plan(me, dest, polylines))
}

func (s *Server) respondPlan(c *gin.Context, p planner.Plan) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.PlanInc(string(p.Kind))
	}
	c.JSON(http.StatusOK, newPlanResponse(p))
}

func parseRider(raw json.RawMessage) (transit.Coordinate, bool) {
	if len(raw) == 0 {
		return transit.Coordinate{}, false
	}
	var me transit.Coordinate
	if err := json.Unmarshal(raw, &me); err != nil || !geo.Finite(me) {
		return transit.Coordinate{}, false
	}
	return me, true
}

type snapRequest struct {
	Coords []transit.Coordinate `json:"coords"`
}

type snapResponse struct {
	Snapped bool                 `json:"snapped"`
	Coords  []transit.Coordinate `json:"coords,omitempty"`
}

// Snap aligns an arbitrary polyline to roads. Provider failures answer snapped=false.
func (s *Server) Snap(c *gin.Context) {
	var req snapRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidCoords})
		return
	}
	if len(req.Coords) < 2 {
		c.JSON(http.StatusOK, snapResponse{Snapped: false})
		return
	}
	coords, ok := s.deps.Routes.SnapOrFallback(c.Request.Context(), req.Coords)
	if !ok {
		c.JSON(http.StatusOK, snapResponse{Snapped: false})
		return
	}
	c.JSON(http.StatusOK, snapResponse{Snapped: true, Coords: coords})
}
