package ingest

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"transit-tracker/internal/geo"
	"transit-tracker/internal/transit"
)

const (
	// NoLine is the feed's placeholder for a vehicle without an assigned line.
	NoLine = "?"
	// StatusActive is the exact status value of a vehicle in service.
	StatusActive = "on"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrInactive     = errors.New("vehicle not active")
	ErrNoLine       = fmt.Errorf("%w: no line assigned", ErrInvalidInput)

	ErrDuplicate = errors.New("duplicate fix")
	ErrJump      = errors.New("implausible jump")
	ErrJitter    = errors.New("jitter")
)

// Record is one vehicle position as reported by a feed, already decoded into typed fields.
// Missing or unparseable numbers are carried as NaN so that Validate can report them.
type Record struct {
	VehicleID string             `json:"vehicleId"`
	Status    string             `json:"status"`
	Position  transit.Coordinate `json:"pos"`
	Line      string             `json:"line"`
	Timestamp time.Time          `json:"ts"`
}

// Active reports whether the status marks the vehicle as in service.
func (r Record) Active() bool {
	return r.Status == StatusActive
}

// Validate checks status, coordinates and line tag in that order and returns the first failure.
func (r Record) Validate() error {
	if !r.Active() {
		return ErrInactive
	}
	if !geo.Finite(r.Position) {
		return fmt.Errorf("%w: non-finite position for vehicle %q", ErrInvalidInput, r.VehicleID)
	}
	if l := strings.TrimSpace(r.Line); l == "" || l == NoLine {
		return ErrNoLine
	}
	return nil
}

// Outcome labels the result of ingesting one record, for counters and logs.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "accepted"
	case errors.Is(err, ErrInactive):
		return "inactive"
	case errors.Is(err, ErrNoLine):
		return "no_line"
	case errors.Is(err, ErrInvalidInput):
		return "invalid"
	case errors.Is(err, ErrDuplicate):
		return "duplicate"
	case errors.Is(err, ErrJump):
		return "jump"
	case errors.Is(err, ErrJitter):
		return "jitter"
	default:
		return "error"
	}
}
