// Package api exposes live positions, derived routes and the trip planner over HTTP.
package api

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"transit-tracker/internal/ingest"
	"transit-tracker/internal/planner"
	"transit-tracker/internal/store"
	"transit-tracker/internal/transit"
)

// RouteService builds line routes on demand.
type RouteService interface {
	Routes(ctx context.Context, snap bool) (map[string]transit.LineRoute, error)
	SnapOrFallback(ctx context.Context, pts []transit.Coordinate) ([]transit.Coordinate, bool)
}

// LiveFeed reports the vehicles seen by the most recent poll.
type LiveFeed interface {
	Latest() ([]ingest.Record, time.Time)
}

type PlanMetrics interface {
	PlanInc(kind string)
}

// Deps are the collaborators the handlers read from. Metrics may be nil.
type Deps struct {
	Store   store.Store
	Routes  RouteService
	Live    LiveFeed
	Planner *planner.Planner
	Metrics PlanMetrics
	Logger  *zap.Logger
}

type Server struct {
	deps Deps
	log  *zap.Logger
}

func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Server{deps: deps, log: deps.Logger}
}

// Router returns the gin engine with middleware and every route registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(RecoveryMiddleware(s.log))
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(s.log))

	r.GET("/healthz", s.Health)
	s.RegisterRoutes(&r.RouterGroup)
	return r
}

// RegisterRoutes registers the /api endpoints on r.
func (s *Server) RegisterRoutes(r *gin.RouterGroup) {
	api := r.Group("/api")
	{
		api.GET("/buses", s.Buses)
		api.GET("/traces", s.Traces)
		api.GET("/routes", s.Routes)
		api.GET("/routes.geojson", s.RoutesGeoJSON)
		api.GET("/stops", s.Stops)
		api.POST("/plan", s.Plan)
		api.POST("/snap", s.Snap)
	}
}
