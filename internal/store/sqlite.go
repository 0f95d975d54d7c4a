package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"transit-tracker/internal/transit"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS vehicle_traces (
    vehicle_id TEXT PRIMARY KEY,
    line       TEXT NOT NULL,
    coords     TEXT NOT NULL,
    first_seen INTEGER NOT NULL
);`

// SQLite keeps traces in an embedded database file.
type SQLite struct {
	DB *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and ensures the schema exists.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("sqlite store: open: %w", err)
	}
	// A single connection serialises writers.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite store: create schema: %w", err)
	}
	return &SQLite{DB: db}, nil
}

func (s *SQLite) Get(ctx context.Context, vehicleID string) (transit.VehicleTrace, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT vehicle_id, line, coords, first_seen FROM vehicle_traces WHERE vehicle_id = ?`, vehicleID)
	t, err := scanSQLiteTrace(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return transit.VehicleTrace{}, ErrNotFound
	}
	if err != nil {
		return transit.VehicleTrace{}, fmt.Errorf("sqlite store: get %q: %w", vehicleID, err)
	}
	return t, nil
}

func (s *SQLite) Put(ctx context.Context, trace transit.VehicleTrace) error {
	coords, err := json.Marshal(trace.Coords)
	if err != nil {
		return fmt.Errorf("sqlite store: encode coords: %w", err)
	}
	_, err = s.DB.ExecContext(ctx,
		`INSERT OR REPLACE INTO vehicle_traces (vehicle_id, line, coords, first_seen) VALUES (?, ?, ?, ?)`,
		trace.VehicleID, trace.Line, string(coords), trace.FirstSeen.UnixNano())
	if err != nil {
		return fmt.Errorf("sqlite store: put %q: %w", trace.VehicleID, err)
	}
	return nil
}

func (s *SQLite) Snapshot(ctx context.Context) (Snapshot, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT vehicle_id, line, coords, first_seen FROM vehicle_traces`)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: query traces: %w", err)
	}
	defer rows.Close()

	snap := make(Snapshot)
	for rows.Next() {
		t, err := scanSQLiteTrace(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("sqlite store: scan trace: %w", err)
		}
		snap[t.VehicleID] = t
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite store: iterate traces: %w", err)
	}
	return snap, nil
}

// Replace rewrites the table inside one transaction.
func (s *SQLite) Replace(ctx context.Context, snap Snapshot) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite store: begin: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM vehicle_traces`); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("sqlite store: clear traces: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO vehicle_traces (vehicle_id, line, coords, first_seen) VALUES (?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("sqlite store: prepare insert: %w", err)
	}
	defer stmt.Close()
	for _, id := range snap.IDs() {
		t := snap[id]
		coords, err := json.Marshal(t.Coords)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("sqlite store: encode coords: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, id, t.Line, string(coords), t.FirstSeen.UnixNano()); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("sqlite store: insert %q: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite store: commit: %w", err)
	}
	return nil
}

func (s *SQLite) Ping(ctx context.Context) error { return s.DB.PingContext(ctx) }

func (s *SQLite) Close() error { return s.DB.Close() }

func scanSQLiteTrace(scan func(dest ...any) error) (transit.VehicleTrace, error) {
	var (
		t         transit.VehicleTrace
		coords    string
		firstSeen int64
	)
	if err := scan(&t.VehicleID, &t.Line, &coords, &firstSeen); err != nil {
		return t, err
	}
	if err := json.Unmarshal([]byte(coords), &t.Coords); err != nil {
		return t, fmt.Errorf("decode coords: %w", err)
	}
	t.FirstSeen = time.Unix(0, firstSeen)
	return t, nil
}
