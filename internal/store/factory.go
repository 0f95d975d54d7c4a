package store

import (
	"context"
	"errors"
	"fmt"

	"transit-tracker/internal/db"
)

// Backend names a Store implementation.
type Backend string

const (
	BackendMemory   Backend = "memory"
	BackendFile     Backend = "file"
	BackendSQLite   Backend = "sqlite"
	BackendPostgres Backend = "postgres"
)

// Config selects and parameterises a backend.
type Config struct {
	Backend Backend
	Path    string // file and sqlite
	DSN     string // postgres
}

// Open builds the configured Store.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case BackendMemory, "":
		return NewMemory(), nil
	case BackendFile:
		return NewFile(cfg.Path)
	case BackendSQLite:
		if cfg.Path == "" {
			return nil, errors.New("sqlite store: empty path")
		}
		return OpenSQLite(ctx, cfg.Path)
	case BackendPostgres:
		pool, err := db.Open(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("postgres store: %w", err)
		}
		if err := db.Ping(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("postgres store: ping: %w", err)
		}
		pg := NewPostgres(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return pg, nil
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", cfg.Backend)
	}
}
