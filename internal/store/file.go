package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"transit-tracker/internal/transit"
)

// File stores the whole snapshot as one JSON document keyed by vehicle id.
// Writes go to a temporary file in the same directory which is then renamed over the target.
type File struct {
	path string
	mu   sync.Mutex
}

func NewFile(path string) (*File, error) {
	if path == "" {
		return nil, errors.New("file store: empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("file store: create dir: %w", err)
	}
	return &File{path: path}, nil
}

func (f *File) read() (Snapshot, error) {
	b, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return make(Snapshot), nil
	}
	if err != nil {
		return nil, fmt.Errorf("file store: read: %w", err)
	}
	if len(b) == 0 {
		return make(Snapshot), nil
	}
	snap := make(Snapshot)
	if err := json.Unmarshal(b, &snap); err != nil {
		return nil, fmt.Errorf("file store: decode %s: %w", f.path, err)
	}
	for id, t := range snap {
		t.VehicleID = id
		snap[id] = t
	}
	return snap, nil
}

func (f *File) write(snap Snapshot) error {
	b, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("file store: encode: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("file store: create temp: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("file store: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("file store: sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("file store: close temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("file store: rename: %w", err)
	}
	return nil
}

func (f *File) Get(_ context.Context, vehicleID string) (transit.VehicleTrace, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap, err := f.read()
	if err != nil {
		return transit.VehicleTrace{}, err
	}
	t, ok := snap[vehicleID]
	if !ok {
		return transit.VehicleTrace{}, ErrNotFound
	}
	return t, nil
}

func (f *File) Put(_ context.Context, trace transit.VehicleTrace) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap, err := f.read()
	if err != nil {
		return err
	}
	snap[trace.VehicleID] = trace.Clone()
	return f.write(snap)
}

func (f *File) Snapshot(_ context.Context) (Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.read()
}

func (f *File) Replace(_ context.Context, snap Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.write(snap)
}

func (f *File) Ping(context.Context) error {
	_, err := os.Stat(filepath.Dir(f.path))
	return err
}

func (f *File) Close() error { return nil }
