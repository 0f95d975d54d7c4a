package transit

import (
	"encoding/json"
	"fmt"
	"time"
)

// Coordinate is a WGS84 position in decimal degrees. It travels on the wire as [lat, lng].
type Coordinate struct {
	Lat float64
	Lng float64
}

func (c Coordinate) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{c.Lat, c.Lng})
}

func (c *Coordinate) UnmarshalJSON(b []byte) error {
	var pair []float64
	if err := json.Unmarshal(b, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("coordinate must have 2 elements, got %d", len(pair))
	}
	c.Lat, c.Lng = pair[0], pair[1]
	return nil
}

// VehicleTrace is the accumulated GPS history of one vehicle.
type VehicleTrace struct {
	VehicleID string       `json:"-"`
	Line      string       `json:"line"`
	Coords    []Coordinate `json:"coord"`
	FirstSeen time.Time    `json:"firstSeen"`
}

// Last returns the most recent coordinate of the trace.
func (t VehicleTrace) Last() (Coordinate, bool) {
	if len(t.Coords) == 0 {
		return Coordinate{}, false
	}
	return t.Coords[len(t.Coords)-1], true
}

// Clone returns a deep copy so callers may mutate it freely.
func (t VehicleTrace) Clone() VehicleTrace {
	out := t
	out.Coords = append([]Coordinate(nil), t.Coords...)
	return out
}

// LineRoute is the cleaned polyline published for a transit line.
type LineRoute struct {
	Line            string       `json:"line"`
	Coords          []Coordinate `json:"coord"`
	SourceVehicleID string       `json:"sourceBusId"`
	Snapped         bool         `json:"snapped"`
}

// Stop is an entry of the static stop catalog.
type Stop struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Position Coordinate `json:"pos"`
	Lines    []string   `json:"lines"`
}

// Serves reports whether the stop is served by line.
func (s Stop) Serves(line string) bool {
	for _, l := range s.Lines {
		if l == line {
			return true
		}
	}
	return false
}
