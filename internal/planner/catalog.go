package planner

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"transit-tracker/internal/transit"
)

// stopEntry is the on-disk form of a stop.
type stopEntry struct {
	ID    string   `yaml:"id" json:"id" validate:"required"`
	Name  string   `yaml:"name" json:"name" validate:"required"`
	Lat   float64  `yaml:"lat" json:"lat" validate:"latitude"`
	Lng   float64  `yaml:"lng" json:"lng" validate:"longitude"`
	Lines []string `yaml:"lines" json:"lines" validate:"dive,required"`
}

type catalogFile struct {
	Stops []stopEntry `yaml:"stops" json:"stops" validate:"required,min=1,dive"`
}

// Catalog is the immutable set of stops known to the planner, in file order.
type Catalog struct {
	stops []transit.Stop
	byID  map[string]int
}

// NewCatalog indexes stops. Stop ids must be unique.
func NewCatalog(stops []transit.Stop) (*Catalog, error) {
	c := &Catalog{stops: make([]transit.Stop, 0, len(stops)), byID: make(map[string]int, len(stops))}
	for _, s := range stops {
		if _, dup := c.byID[s.ID]; dup {
			return nil, fmt.Errorf("duplicate stop id %q", s.ID)
		}
		c.byID[s.ID] = len(c.stops)
		s.Lines = append([]string(nil), s.Lines...)
		c.stops = append(c.stops, s)
	}
	return c, nil
}

// LoadCatalog reads a YAML or JSON stop file and validates every entry.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read stop catalog: %w", err)
	}
	var f catalogFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &f)
	default:
		err = yaml.Unmarshal(data, &f)
	}
	if err != nil {
		return nil, fmt.Errorf("decode stop catalog %s: %w", path, err)
	}
	if err := validator.New().Struct(f); err != nil {
		return nil, fmt.Errorf("validate stop catalog %s: %w", path, err)
	}

	stops := make([]transit.Stop, 0, len(f.Stops))
	for _, e := range f.Stops {
		lines := make([]string, 0, len(e.Lines))
		for _, l := range e.Lines {
			lines = append(lines, strings.TrimSpace(l))
		}
		stops = append(stops, transit.Stop{
			ID:       e.ID,
			Name:     e.Name,
			Position: transit.Coordinate{Lat: e.Lat, Lng: e.Lng},
			Lines:    lines,
		})
	}
	return NewCatalog(stops)
}

// Stop looks a stop up by id.
func (c *Catalog) Stop(id string) (transit.Stop, bool) {
	i, ok := c.byID[id]
	if !ok {
		return transit.Stop{}, false
	}
	return c.stops[i], true
}

// Stops returns all stops in catalog order. The slice must not be modified.
func (c *Catalog) Stops() []transit.Stop { return c.stops }

func (c *Catalog) Len() int { return len(c.stops) }
