package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"transit-tracker/internal/feed"
	"transit-tracker/internal/ingest"
)

// Cycler applies one batch of records to the trace store.
type Cycler interface {
	Cycle(ctx context.Context, records []ingest.Record) (ingest.CycleStats, error)
}

// Publisher fans accepted fixes out to subscribers.
type Publisher interface {
	PublishFix(f ingest.Fix) error
}

type Metrics interface {
	PollInc(result string)
	FixesAdd(outcome string, n int)
	VehiclesSet(n int)
	CycleObserve(d time.Duration)
	StoreErrInc()
}

// Manager polls a feed on a fixed interval and feeds every batch through the ingestor.
type Manager struct {
	source   feed.Source
	ingestor Cycler
	pub      Publisher
	metrics  Metrics
	log      *zap.Logger
	interval time.Duration

	mu     sync.RWMutex
	latest []ingest.Record
	polled time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager wires a poll loop. pub and metrics may be nil.
func NewManager(source feed.Source, ingestor Cycler, pub Publisher, m Metrics, interval time.Duration, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{source: source, ingestor: ingestor, pub: pub, metrics: m, interval: interval, log: log}
}

// Start runs an immediate poll and then one per interval until ctx is cancelled or Stop is called.
func (m *Manager) Start(parent context.Context) {
	if m.interval <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	m.cancel = cancel
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.pollLogged(ctx)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.pollLogged(ctx)
			}
		}
	}()
}

func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

func (m *Manager) pollLogged(ctx context.Context) {
	stats, err := m.Poll(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		m.log.Error("poll error", zap.Error(err))
		return
	}
	m.log.Debug("poll complete",
		zap.Int("accepted", len(stats.Accepted)),
		zap.Int("vehicles", stats.Vehicles),
		zap.Bool("persisted", stats.Persisted),
	)
}

// Poll runs one fetch, ingest and publish cycle. A fetch failure skips the cycle without touching
// the store; a store failure leaves the previous snapshot in place.
func (m *Manager) Poll(ctx context.Context) (ingest.CycleStats, error) {
	start := time.Now()
	defer func() {
		if m.metrics != nil {
			m.metrics.CycleObserve(time.Since(start))
		}
	}()

	records, err := m.source.Fetch(ctx)
	if err != nil {
		m.pollResult("fetch_error")
		return ingest.CycleStats{}, fmt.Errorf("fetch feed: %w", err)
	}
	m.remember(records, start)

	stats, err := m.ingestor.Cycle(ctx, records)
	m.countOutcomes(stats)
	if err != nil {
		m.pollResult("store_error")
		if m.metrics != nil {
			m.metrics.StoreErrInc()
		}
		return stats, err
	}
	m.pollResult("ok")
	if m.metrics != nil {
		m.metrics.VehiclesSet(stats.Vehicles)
	}

	if m.pub != nil {
		for _, f := range stats.Accepted {
			if err := m.pub.PublishFix(f); err != nil {
				m.log.Warn("publish fix failed", zap.String("vehicle", f.VehicleID), zap.Error(err))
			}
		}
	}
	return stats, nil
}

// Latest returns the valid, in-service records of the most recent successful fetch and when it ran.
func (m *Manager) Latest() ([]ingest.Record, time.Time) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]ingest.Record(nil), m.latest...), m.polled
}

func (m *Manager) remember(records []ingest.Record, at time.Time) {
	live := make([]ingest.Record, 0, len(records))
	for _, r := range records {
		if r.Validate() == nil {
			live = append(live, r)
		}
	}
	m.mu.Lock()
	m.latest = live
	m.polled = at
	m.mu.Unlock()
}

func (m *Manager) countOutcomes(stats ingest.CycleStats) {
	if m.metrics == nil {
		return
	}
	for outcome, n := range stats.Outcomes {
		m.metrics.FixesAdd(outcome, n)
	}
}

func (m *Manager) pollResult(result string) {
	if m.metrics != nil {
		m.metrics.PollInc(result)
	}
}
