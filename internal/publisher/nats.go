package publisher

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"transit-tracker/internal/ingest"
)

// SubjectPrefix is the first token of every fix subject: vehicles.<line>.<vehicle>.
const SubjectPrefix = "vehicles"

type NATSPublisher struct {
	nc      *nats.Conn
	log     *zap.Logger
	metrics PublisherMetrics
}

type PublisherMetrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	PublishObserve(d time.Duration)
	NATSSetConnected(connected bool)
}

func NewNATSPublisher(url string, log *zap.Logger, m PublisherMetrics) (*NATSPublisher, error) {
	if log == nil {
		log = zap.NewNop()
	}
	nc, err := nats.Connect(url,
		nats.Name("transit-tracker"),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			log.Info("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Info("nats closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	return &NATSPublisher{nc: nc, log: log, metrics: m}, nil
}

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		_ = p.nc.Drain()
		p.nc.Close()
	}
}

// VehicleMessage is the payload published for every accepted fix.
type VehicleMessage struct {
	VehicleID string    `json:"vehicleId"`
	Line      string    `json:"line"`
	Timestamp time.Time `json:"timestamp"`
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	Bearing   float64   `json:"bearing"`
}

// NewVehicleMessage converts an accepted fix. A zero record timestamp is replaced by now.
func NewVehicleMessage(f ingest.Fix, now time.Time) VehicleMessage {
	ts := f.Timestamp
	if ts.IsZero() {
		ts = now
	}
	return VehicleMessage{
		VehicleID: f.VehicleID,
		Line:      strings.TrimSpace(f.Line),
		Timestamp: ts.UTC(),
		Lat:       f.Position.Lat,
		Lon:       f.Position.Lng,
		Bearing:   f.Bearing,
	}
}

// Subject returns the NATS subject a message for line and vehicle is published on.
func Subject(line, vehicleID string) string {
	return fmt.Sprintf("%s.%s.%s", SubjectPrefix, subjectToken(line), subjectToken(vehicleID))
}

func (p *NATSPublisher) PublishFix(f ingest.Fix) error {
	msg := NewVehicleMessage(f, time.Now())
	subject := Subject(msg.Line, msg.VehicleID)
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	p.log.Debug("nats publish", zap.String("subject", subject))
	start := time.Now()
	err = p.nc.Publish(subject, b)
	if p.metrics != nil {
		p.metrics.PublishObserve(time.Since(start))
		if err != nil {
			p.metrics.NATSPublishErrInc()
		} else {
			p.metrics.NATSPublishedInc()
		}
	}
	return err
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or trailing '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
