package snap

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"time"

	"github.com/bluele/gcache"
	"go.uber.org/zap"

	"transit-tracker/internal/geo"
	"transit-tracker/internal/transit"
)

const (
	DefaultBatchSize = 60
	DefaultRadius    = 50.0 // meters
	DefaultTimeout   = 8 * time.Second

	// Consecutive batches share one input point; snapped copies closer than this are merged.
	boundaryTolerance = 1.0 // meters
)

var (
	ErrEmptyMatch   = errors.New("snap: provider returned no geometry")
	ErrTooFewPoints = errors.New("snap: need at least two points")
)

// Provider snaps a single batch of at most BatchSize points.
type Provider interface {
	Match(ctx context.Context, pts []transit.Coordinate) ([]transit.Coordinate, error)
}

// Snapper splits polylines into overlapping batches, snaps each through a Provider and stitches
// the results. It never retries; callers fall back to the unsnapped polyline on error.
type Snapper struct {
	provider  Provider
	batchSize int
	timeout   time.Duration
	cache     gcache.Cache
	log       *zap.Logger
}

// NewSnapper wraps provider. A cacheSize of zero disables caching.
func NewSnapper(provider Provider, batchSize int, timeout time.Duration, cacheSize int, cacheTTL time.Duration, log *zap.Logger) *Snapper {
	if batchSize < 2 {
		batchSize = DefaultBatchSize
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	s := &Snapper{provider: provider, batchSize: batchSize, timeout: timeout, log: log}
	if cacheSize > 0 {
		b := gcache.New(cacheSize).LRU()
		if cacheTTL > 0 {
			b = b.Expiration(cacheTTL)
		}
		s.cache = b.Build()
	}
	return s
}

// Snap aligns pts to the road network. Any batch failure fails the whole call.
func (s *Snapper) Snap(ctx context.Context, pts []transit.Coordinate) ([]transit.Coordinate, error) {
	if len(pts) < 2 {
		return nil, ErrTooFewPoints
	}
	key := cacheKey(pts)
	if s.cache != nil {
		if v, err := s.cache.Get(key); err == nil {
			return v.([]transit.Coordinate), nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var out []transit.Coordinate
	for i, batch := range Batches(pts, s.batchSize) {
		snapped, err := s.provider.Match(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("snap batch %d: %w", i, err)
		}
		if len(snapped) == 0 {
			return nil, fmt.Errorf("snap batch %d: %w", i, ErrEmptyMatch)
		}
		out = Stitch(out, snapped)
	}
	if len(out) < 2 {
		return nil, ErrEmptyMatch
	}

	if s.cache != nil {
		if err := s.cache.Set(key, out); err != nil {
			s.log.Debug("snap cache set failed", zap.Error(err))
		}
	}
	return out, nil
}

// Batches splits pts into windows of at most size points where each window starts at the last
// point of the previous one.
func Batches(pts []transit.Coordinate, size int) [][]transit.Coordinate {
	if len(pts) == 0 {
		return nil
	}
	if size < 2 {
		size = 2
	}
	var out [][]transit.Coordinate
	for start := 0; ; start += size - 1 {
		end := min(start+size, len(pts))
		out = append(out, pts[start:end])
		if end == len(pts) {
			break
		}
	}
	return out
}

// Stitch appends next to acc, dropping next's first point when it repeats acc's last.
func Stitch(acc, next []transit.Coordinate) []transit.Coordinate {
	if len(acc) > 0 && len(next) > 0 && geo.Distance(acc[len(acc)-1], next[0]) < boundaryTolerance {
		next = next[1:]
	}
	return append(acc, next...)
}

func cacheKey(pts []transit.Coordinate) uint64 {
	h := fnv.New64a()
	var buf [16]byte
	for _, p := range pts {
		binary.LittleEndian.PutUint64(buf[:8], math.Float64bits(p.Lat))
		binary.LittleEndian.PutUint64(buf[8:], math.Float64bits(p.Lng))
		_, _ = h.Write(buf[:])
	}
	return h.Sum64()
}

