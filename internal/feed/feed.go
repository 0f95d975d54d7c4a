// Package feed decodes live vehicle position feeds into ingest records.
package feed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"go.uber.org/zap"

	"transit-tracker/internal/ingest"
)

// Source yields the current set of vehicle positions.
type Source interface {
	Fetch(ctx context.Context) ([]ingest.Record, error)
}

// HTTPClient is satisfied by *http.Client.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

type Format string

const (
	FormatThoreb Format = "thoreb"
	FormatGTFSRT Format = "gtfsrt"
	FormatNATS   Format = "nats"
)

const (
	DefaultTimeout = 5 * time.Second
	maxBodyBytes   = 16 << 20
)

type Config struct {
	Format  Format
	URL     string
	Timeout time.Duration
	NATSURL string
	Subject string
	Logger  *zap.Logger
}

// New builds the source for cfg.Format. NATS sources connect immediately.
func New(cfg Config) (Source, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	client := &http.Client{Timeout: cfg.Timeout}

	switch cfg.Format {
	case FormatThoreb:
		return NewThoreb(client, cfg.URL, cfg.Logger), nil
	case FormatGTFSRT:
		return NewGTFSRT(client, cfg.URL, cfg.Logger), nil
	case FormatNATS:
		return NewNATSSource(cfg.NATSURL, cfg.Subject, cfg.Logger)
	default:
		return nil, fmt.Errorf("unsupported feed format: %s", cfg.Format)
	}
}

// get performs a GET and returns the body of a 200 response.
func get(ctx context.Context, client HTTPClient, url, accept string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", accept)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return b, nil
}

func sortByVehicle(recs []ingest.Record) {
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].VehicleID < recs[j].VehicleID })
}
