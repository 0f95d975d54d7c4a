package feed

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	gtfsrtpb "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"

	"transit-tracker/internal/ingest"
)

var fetchedAt = time.Date(2026, 5, 4, 7, 30, 0, 0, time.UTC)

func TestDecodeThoreb(t *testing.T) {
	body := []byte(`{
		"204": {"1": "on", "2": "47.6512", "3": "26.2553", "4": " 3 "},
		"101": {"1": "off", "2": "47.64", "3": "26.25", "4": "2"},
		"150": {"1": "on", "2": 47.66, "3": 26.26, "4": 14},
		"177": {"1": "on", "2": "n/a", "3": "26.25", "4": "?"},
		"999": "garbage"
	}`)

	recs, err := DecodeThoreb(body, fetchedAt)
	require.NoError(t, err)
	require.Len(t, recs, 4)

	assert.Equal(t, []string{"101", "150", "177", "204"},
		[]string{recs[0].VehicleID, recs[1].VehicleID, recs[2].VehicleID, recs[3].VehicleID})

	assert.Equal(t, "off", recs[0].Status)
	assert.ErrorIs(t, recs[0].Validate(), ingest.ErrInactive)

	assert.Equal(t, "14", recs[1].Line)
	assert.InDelta(t, 47.66, recs[1].Position.Lat, 1e-9)
	assert.NoError(t, recs[1].Validate())

	assert.True(t, math.IsNaN(recs[2].Position.Lat))
	assert.ErrorIs(t, recs[2].Validate(), ingest.ErrInvalidInput)

	assert.Equal(t, "3", recs[3].Line)
	assert.InDelta(t, 26.2553, recs[3].Position.Lng, 1e-9)
	assert.Equal(t, fetchedAt, recs[3].Timestamp)
}

func TestDecodeThorebRejectsNonObject(t *testing.T) {
	_, err := DecodeThoreb([]byte(`[1,2,3]`), fetchedAt)
	require.Error(t, err)
}

func TestThorebFetch(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "application/json", r.Header.Get("Accept"))
			_, _ = w.Write([]byte(`{"7": {"1": "on", "2": "47.65", "3": "26.25", "4": "5"}}`))
		}))
		defer srv.Close()

		recs, err := NewThoreb(srv.Client(), srv.URL, nil).Fetch(t.Context())
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, "5", recs[0].Line)
	})

	t.Run("upstream error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		_, err := NewThoreb(srv.Client(), srv.URL, nil).Fetch(t.Context())
		require.ErrorContains(t, err, "502")
	})

	t.Run("malformed body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`<html>`))
		}))
		defer srv.Close()

		_, err := NewThoreb(srv.Client(), srv.URL, nil).Fetch(t.Context())
		require.ErrorContains(t, err, "decode")
	})
}

func vehicleEntity(entityID, vehicleID, route string, lat, lng float32, ts uint64) *gtfsrtpb.FeedEntity {
	vp := &gtfsrtpb.VehiclePosition{
		Trip:     &gtfsrtpb.TripDescriptor{RouteId: proto.String(route)},
		Position: &gtfsrtpb.Position{Latitude: proto.Float32(lat), Longitude: proto.Float32(lng)},
	}
	if vehicleID != "" {
		vp.Vehicle = &gtfsrtpb.VehicleDescriptor{Id: proto.String(vehicleID)}
	}
	if ts > 0 {
		vp.Timestamp = proto.Uint64(ts)
	}
	return &gtfsrtpb.FeedEntity{Id: proto.String(entityID), Vehicle: vp}
}

func TestDecodeVehiclePositions(t *testing.T) {
	fm := &gtfsrtpb.FeedMessage{
		Header: &gtfsrtpb.FeedHeader{GtfsRealtimeVersion: proto.String("2.0")},
		Entity: []*gtfsrtpb.FeedEntity{
			vehicleEntity("e1", "bus-9", "12", 47.65, 26.25, 1_700_000_000),
			vehicleEntity("e2", "", "3", 47.66, 26.26, 0),
			{Id: proto.String("e3"), IsDeleted: proto.Bool(true), Vehicle: &gtfsrtpb.VehiclePosition{
				Position: &gtfsrtpb.Position{Latitude: proto.Float32(1), Longitude: proto.Float32(1)},
			}},
			{Id: proto.String("e4"), TripUpdate: &gtfsrtpb.TripUpdate{Trip: &gtfsrtpb.TripDescriptor{TripId: proto.String("t")}}},
		},
	}

	recs := DecodeVehiclePositions(fm, fetchedAt)
	require.Len(t, recs, 2)

	assert.Equal(t, "bus-9", recs[0].VehicleID)
	assert.Equal(t, "12", recs[0].Line)
	assert.Equal(t, "on", recs[0].Status)
	assert.Equal(t, time.Unix(1_700_000_000, 0).UTC(), recs[0].Timestamp)
	assert.InDelta(t, 47.65, recs[0].Position.Lat, 1e-5)

	assert.Equal(t, "e2", recs[1].VehicleID)
	assert.Equal(t, fetchedAt, recs[1].Timestamp)
}

func TestGTFSRTFetch(t *testing.T) {
	fm := &gtfsrtpb.FeedMessage{
		Header: &gtfsrtpb.FeedHeader{GtfsRealtimeVersion: proto.String("2.0")},
		Entity: []*gtfsrtpb.FeedEntity{vehicleEntity("e1", "v1", "7", 47.6, 26.2, 0)},
	}
	payload, err := proto.Marshal(fm)
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/x-protobuf")
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	recs, err := NewGTFSRT(srv.Client(), srv.URL, nil).Fetch(t.Context())
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "v1", recs[0].VehicleID)
	assert.Equal(t, "7", recs[0].Line)
}

func TestNATSSourceBuffersLatestPerTrip(t *testing.T) {
	s := &NATSSource{log: zap.NewNop(), latest: make(map[string]PositionMessage)}
	t0 := fetchedAt

	publish := func(pm PositionMessage) {
		b, err := json.Marshal(pm)
		require.NoError(t, err)
		s.handle(&nats.Msg{Subject: "12.trip", Data: b})
	}
	publish(PositionMessage{TripID: "trip-b", RouteID: "12", Timestamp: t0, Lat: 47.6, Lon: 26.2})
	publish(PositionMessage{TripID: "trip-a", RouteID: "3", Timestamp: t0, Lat: 47.7, Lon: 26.3})
	publish(PositionMessage{TripID: "trip-b", RouteID: "12", Timestamp: t0.Add(time.Second), Lat: 47.61, Lon: 26.21})
	publish(PositionMessage{TripID: "trip-b", RouteID: "12", Timestamp: t0.Add(-time.Second), Lat: 1, Lon: 1})
	publish(PositionMessage{RouteID: "no-trip"})
	s.handle(&nats.Msg{Subject: "x", Data: []byte("not json")})

	recs, err := s.Fetch(t.Context())
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "trip-a", recs[0].VehicleID)
	assert.Equal(t, "trip-b", recs[1].VehicleID)
	assert.InDelta(t, 47.61, recs[1].Position.Lat, 1e-9)
	assert.Equal(t, "12", recs[1].Line)

	again, err := s.Fetch(t.Context())
	require.NoError(t, err)
	assert.Empty(t, again)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	_, err = s.Fetch(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	_, err := New(Config{Format: "csv"})
	require.ErrorContains(t, err, "csv")

	src, err := New(Config{Format: FormatThoreb, URL: "http://example.invalid"})
	require.NoError(t, err)
	assert.IsType(t, &Thoreb{}, src)
}
