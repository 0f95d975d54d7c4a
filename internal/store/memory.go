package store

import (
	"context"
	"sync"

	"transit-tracker/internal/transit"
)

// Memory keeps traces in process. Useful for tests and for deployments that accept losing
// history on restart.
type Memory struct {
	mu     sync.RWMutex
	traces Snapshot
}

func NewMemory() *Memory {
	return &Memory{traces: make(Snapshot)}
}

func (m *Memory) Get(_ context.Context, vehicleID string) (transit.VehicleTrace, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.traces[vehicleID]
	if !ok {
		return transit.VehicleTrace{}, ErrNotFound
	}
	return t.Clone(), nil
}

func (m *Memory) Put(_ context.Context, trace transit.VehicleTrace) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.traces[trace.VehicleID] = trace.Clone()
	return nil
}

func (m *Memory) Snapshot(_ context.Context) (Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.traces.Clone(), nil
}

func (m *Memory) Replace(_ context.Context, snap Snapshot) error {
	next := snap.Clone()
	m.mu.Lock()
	m.traces = next
	m.mu.Unlock()
	return nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }
