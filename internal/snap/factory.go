package snap

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"googlemaps.github.io/maps"
)

// ProviderType names a road-snapping backend.
type ProviderType string

const (
	ProviderNone   ProviderType = "none"
	ProviderOSRM   ProviderType = "osrm"
	ProviderGoogle ProviderType = "google"
)

// Config holds everything needed to build a Snapper.
type Config struct {
	Type       ProviderType
	BaseURL    string  // osrm
	APIKey     string  // google
	Radius     float64 // osrm search radius, meters
	RatePerSec float64
	BatchSize  int
	Timeout    time.Duration
	CacheSize  int
	CacheTTL   time.Duration
	Logger     *zap.Logger
}

// New builds a Snapper for cfg.Type. ProviderNone is rejected; callers skip snapping instead.
func New(cfg Config) (*Snapper, error) {
	var (
		p   Provider
		err error
	)
	switch cfg.Type {
	case ProviderOSRM:
		p = NewOSRM(cfg.BaseURL, cfg.Radius, cfg.RatePerSec, cfg.Timeout)
	case ProviderGoogle:
		p, err = newGoogleProvider(cfg)
	default:
		return nil, fmt.Errorf("unsupported snap provider: %s", cfg.Type)
	}
	if err != nil {
		return nil, err
	}
	return NewSnapper(p, cfg.BatchSize, cfg.Timeout, cfg.CacheSize, cfg.CacheTTL, cfg.Logger), nil
}

func newGoogleProvider(cfg Config) (Provider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("API key is required for Google Roads provider")
	}
	opts := []maps.ClientOption{maps.WithAPIKey(cfg.APIKey)}
	if cfg.RatePerSec >= 1 {
		opts = append(opts, maps.WithRateLimit(int(cfg.RatePerSec)))
	}
	client, err := maps.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Google Maps client: %w", err)
	}
	return NewGoogleRoads(client), nil
}
