package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"transit-tracker/internal/ingest"
	"transit-tracker/internal/transit"
)

// PositionMessage is the JSON payload of GTFS simulator position subjects (<route>.<trip>).
type PositionMessage struct {
	TripID    string    `json:"tripId"`
	RouteID   string    `json:"routeId"`
	Timestamp time.Time `json:"timestamp"`
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	Bearing   float64   `json:"bearing"`
	SpeedMps  float64   `json:"speedMps"`
}

// NATSSource subscribes to position messages and hands out the latest message per trip on
// every Fetch. Each message is returned at most once.
type NATSSource struct {
	nc  *nats.Conn
	sub *nats.Subscription
	log *zap.Logger

	mu     sync.Mutex
	latest map[string]PositionMessage
}

func NewNATSSource(url, subject string, log *zap.Logger) (*NATSSource, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if subject == "" {
		subject = ">"
	}
	s := &NATSSource{log: log, latest: make(map[string]PositionMessage)}

	nc, err := nats.Connect(url,
		nats.Name("transit-tracker-feed"),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("nats feed disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info("nats feed reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats feed connect: %w", err)
	}
	sub, err := nc.Subscribe(subject, s.handle)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("nats feed subscribe %q: %w", subject, err)
	}
	s.nc, s.sub = nc, sub
	log.Info("nats feed subscribed", zap.String("subject", subject))
	return s, nil
}

func (s *NATSSource) handle(msg *nats.Msg) {
	var pm PositionMessage
	if err := json.Unmarshal(msg.Data, &pm); err != nil {
		s.log.Debug("nats feed: bad payload", zap.String("subject", msg.Subject), zap.Error(err))
		return
	}
	s.add(pm)
}

func (s *NATSSource) add(pm PositionMessage) {
	if pm.TripID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.latest[pm.TripID]; ok && pm.Timestamp.Before(prev.Timestamp) {
		return
	}
	s.latest[pm.TripID] = pm
}

// Fetch drains the buffered messages. It never blocks on the network.
func (s *NATSSource) Fetch(ctx context.Context) ([]ingest.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	buffered := s.latest
	s.latest = make(map[string]PositionMessage, len(buffered))
	s.mu.Unlock()

	recs := make([]ingest.Record, 0, len(buffered))
	for _, pm := range buffered {
		recs = append(recs, ingest.Record{
			VehicleID: pm.TripID,
			Status:    ingest.StatusActive,
			Position:  transit.Coordinate{Lat: pm.Lat, Lng: pm.Lon},
			Line:      pm.RouteID,
			Timestamp: pm.Timestamp,
		})
	}
	sortByVehicle(recs)
	return recs, nil
}

func (s *NATSSource) Close() {
	if s.sub != nil {
		_ = s.sub.Unsubscribe()
	}
	if s.nc != nil {
		_ = s.nc.Drain()
		s.nc.Close()
	}
}
