package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"transit-tracker/internal/transit"
)

// Database is the subset of *pgxpool.Pool used by Postgres.
type Database interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

const (
	pgSchema = `CREATE TABLE IF NOT EXISTS vehicle_traces (
    vehicle_id TEXT PRIMARY KEY,
    line       TEXT NOT NULL,
    coords     JSONB NOT NULL,
    first_seen TIMESTAMPTZ NOT NULL
)`
	pgSelectOne = `SELECT vehicle_id, line, coords, first_seen FROM vehicle_traces WHERE vehicle_id = $1`
	pgSelectAll = `SELECT vehicle_id, line, coords, first_seen FROM vehicle_traces`
	pgUpsert    = `INSERT INTO vehicle_traces (vehicle_id, line, coords, first_seen) VALUES ($1, $2, $3, $4)
ON CONFLICT (vehicle_id) DO UPDATE SET line = EXCLUDED.line, coords = EXCLUDED.coords, first_seen = EXCLUDED.first_seen`
	pgDeleteAll = `DELETE FROM vehicle_traces`
	pgInsert    = `INSERT INTO vehicle_traces (vehicle_id, line, coords, first_seen) VALUES ($1, $2, $3, $4)`
)

// Postgres keeps traces in a vehicle_traces table, one row per vehicle.
type Postgres struct {
	db Database
}

func NewPostgres(db Database) *Postgres {
	return &Postgres{db: db}
}

// EnsureSchema creates the traces table when missing.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, pgSchema); err != nil {
		return fmt.Errorf("postgres store: create schema: %w", err)
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context, vehicleID string) (transit.VehicleTrace, error) {
	t, err := scanPgTrace(p.db.QueryRow(ctx, pgSelectOne, vehicleID))
	if errors.Is(err, pgx.ErrNoRows) {
		return transit.VehicleTrace{}, ErrNotFound
	}
	if err != nil {
		return transit.VehicleTrace{}, fmt.Errorf("postgres store: get %q: %w", vehicleID, err)
	}
	return t, nil
}

func (p *Postgres) Put(ctx context.Context, trace transit.VehicleTrace) error {
	coords, err := json.Marshal(trace.Coords)
	if err != nil {
		return fmt.Errorf("postgres store: encode coords: %w", err)
	}
	if _, err := p.db.Exec(ctx, pgUpsert, trace.VehicleID, trace.Line, coords, trace.FirstSeen); err != nil {
		return fmt.Errorf("postgres store: put %q: %w", trace.VehicleID, err)
	}
	return nil
}

func (p *Postgres) Snapshot(ctx context.Context) (Snapshot, error) {
	rows, err := p.db.Query(ctx, pgSelectAll)
	if err != nil {
		return nil, fmt.Errorf("postgres store: query traces: %w", err)
	}
	defer rows.Close()

	snap := make(Snapshot)
	for rows.Next() {
		t, err := scanPgTrace(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres store: scan trace: %w", err)
		}
		snap[t.VehicleID] = t
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres store: iterate traces: %w", err)
	}
	return snap, nil
}

// Replace rewrites the table inside one transaction.
func (p *Postgres) Replace(ctx context.Context, snap Snapshot) error {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres store: begin: %w", err)
	}
	if _, err := tx.Exec(ctx, pgDeleteAll); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("postgres store: clear traces: %w", err)
	}
	for _, id := range snap.IDs() {
		t := snap[id]
		coords, err := json.Marshal(t.Coords)
		if err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("postgres store: encode coords: %w", err)
		}
		if _, err := tx.Exec(ctx, pgInsert, id, t.Line, coords, t.FirstSeen); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("postgres store: insert %q: %w", id, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres store: commit: %w", err)
	}
	return nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return p.db.Ping(ctx)
}

func (p *Postgres) Close() error {
	p.db.Close()
	return nil
}

func scanPgTrace(row pgx.Row) (transit.VehicleTrace, error) {
	var (
		t      transit.VehicleTrace
		coords []byte
	)
	if err := row.Scan(&t.VehicleID, &t.Line, &coords, &t.FirstSeen); err != nil {
		return t, err
	}
	if err := json.Unmarshal(coords, &t.Coords); err != nil {
		return t, fmt.Errorf("decode coords: %w", err)
	}
	return t, nil
}
