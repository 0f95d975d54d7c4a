package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"transit-tracker/internal/ingest"
	"transit-tracker/internal/transit"
)

// Field keys of a thoreb vehicle entry.
const (
	keyStatus = "1"
	keyLat    = "2"
	keyLng    = "3"
	keyLine   = "4"
)

// Thoreb polls a thoreb xhr_update endpoint: a JSON object keyed by vehicle id whose values hold
// positional fields "1" status, "2" latitude, "3" longitude and "4" line.
type Thoreb struct {
	client HTTPClient
	url    string
	log    *zap.Logger
	now    func() time.Time
}

func NewThoreb(client HTTPClient, url string, log *zap.Logger) *Thoreb {
	if log == nil {
		log = zap.NewNop()
	}
	return &Thoreb{client: client, url: url, log: log, now: time.Now}
}

func (t *Thoreb) Fetch(ctx context.Context) ([]ingest.Record, error) {
	body, err := get(ctx, t.client, t.url, "application/json")
	if err != nil {
		return nil, fmt.Errorf("thoreb feed: %w", err)
	}
	recs, err := DecodeThoreb(body, t.now())
	if err != nil {
		return nil, fmt.Errorf("thoreb feed: %w", err)
	}
	t.log.Debug("thoreb feed fetched", zap.Int("records", len(recs)), zap.Int("bytes", len(body)))
	return recs, nil
}

// DecodeThoreb parses a thoreb payload. Entries that are not objects are skipped; numbers that
// cannot be parsed become NaN so ingestion rejects them as invalid.
func DecodeThoreb(body []byte, ts time.Time) ([]ingest.Record, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	recs := make([]ingest.Record, 0, len(raw))
	for id, msg := range raw {
		var fields map[string]any
		if err := json.Unmarshal(msg, &fields); err != nil || fields == nil {
			continue
		}
		recs = append(recs, ingest.Record{
			VehicleID: id,
			Status:    text(fields[keyStatus]),
			Position:  transit.Coordinate{Lat: number(fields[keyLat]), Lng: number(fields[keyLng])},
			Line:      strings.TrimSpace(text(fields[keyLine])),
			Timestamp: ts,
		})
	}
	sortByVehicle(recs)
	return recs, nil
}

func text(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return ""
	}
}

func number(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return math.NaN()
		}
		return f
	default:
		return math.NaN()
	}
}
