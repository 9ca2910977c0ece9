package offsets

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS global_offsets (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	crop_x INTEGER NOT NULL DEFAULT 0,
	crop_y INTEGER NOT NULL DEFAULT 0,
	zoom REAL NOT NULL DEFAULT 1.0,
	logo_x INTEGER NOT NULL DEFAULT 0,
	logo_y INTEGER NOT NULL DEFAULT 0,
	logo_scale REAL NOT NULL DEFAULT 1.0,
	start_time REAL NOT NULL DEFAULT 0,
	end_time REAL NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS game_offsets (
	system TEXT NOT NULL,
	game TEXT NOT NULL,
	crop_x INTEGER NOT NULL DEFAULT 0,
	crop_y INTEGER NOT NULL DEFAULT 0,
	zoom REAL NOT NULL DEFAULT 1.0,
	logo_x INTEGER NOT NULL DEFAULT 0,
	logo_y INTEGER NOT NULL DEFAULT 0,
	logo_scale REAL NOT NULL DEFAULT 1.0,
	start_time REAL NOT NULL DEFAULT 0,
	end_time REAL NOT NULL DEFAULT 0,
	PRIMARY KEY (system, game)
);
INSERT OR IGNORE INTO global_offsets (id, zoom, logo_scale) VALUES (1, 1.0, 1.0);
`

// SQLiteStore is the production Store implementation.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (and if necessary creates) the offsets database.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("offsets: storage path is required")
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("offsets: open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("offsets: ping sqlite db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("offsets: create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the connection. Safe on a nil receiver.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// GlobalOffsets implements Store.
func (s *SQLiteStore) GlobalOffsets(ctx context.Context) (Data, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT crop_x, crop_y, zoom, logo_x, logo_y, logo_scale, start_time, end_time
FROM global_offsets WHERE id = 1`)
	return scanData(row)
}

// UpdateGlobalOffsets implements Store.
func (s *SQLiteStore) UpdateGlobalOffsets(ctx context.Context, d Data) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE global_offsets
SET crop_x = ?, crop_y = ?, zoom = ?, logo_x = ?, logo_y = ?, logo_scale = ?, start_time = ?, end_time = ?
WHERE id = 1`,
		d.CropX, d.CropY, d.Zoom, d.LogoX, d.LogoY, d.LogoScale, d.StartTime, d.EndTime)
	if err != nil {
		return fmt.Errorf("offsets: update global: %w", err)
	}
	return nil
}

// IndividualOffsets implements Store.
func (s *SQLiteStore) IndividualOffsets(ctx context.Context, system, game string) (Data, bool, error) {
	if system == "" || game == "" {
		return Data{}, false, fmt.Errorf("offsets: system and game are required")
	}
	row := s.db.QueryRowContext(ctx, `
SELECT crop_x, crop_y, zoom, logo_x, logo_y, logo_scale, start_time, end_time
FROM game_offsets WHERE system = ? AND game = ?`, system, game)
	d, err := scanData(row)
	if errors.Is(err, sql.ErrNoRows) {
		global, gerr := s.GlobalOffsets(ctx)
		if gerr != nil {
			return Data{}, false, gerr
		}
		return global, false, nil
	}
	if err != nil {
		return Data{}, false, err
	}
	return d, true, nil
}

// SaveIndividualOffsets implements Store.
func (s *SQLiteStore) SaveIndividualOffsets(ctx context.Context, system, game string, d Data) error {
	if system == "" || game == "" {
		return fmt.Errorf("offsets: system and game are required")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO game_offsets (system, game, crop_x, crop_y, zoom, logo_x, logo_y, logo_scale, start_time, end_time)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(system, game) DO UPDATE SET
	crop_x = excluded.crop_x,
	crop_y = excluded.crop_y,
	zoom = excluded.zoom,
	logo_x = excluded.logo_x,
	logo_y = excluded.logo_y,
	logo_scale = excluded.logo_scale,
	start_time = excluded.start_time,
	end_time = excluded.end_time`,
		system, game, d.CropX, d.CropY, d.Zoom, d.LogoX, d.LogoY, d.LogoScale, d.StartTime, d.EndTime)
	if err != nil {
		return fmt.Errorf("offsets: save individual: %w", err)
	}
	return nil
}

func scanData(row *sql.Row) (Data, error) {
	var d Data
	err := row.Scan(&d.CropX, &d.CropY, &d.Zoom, &d.LogoX, &d.LogoY, &d.LogoScale, &d.StartTime, &d.EndTime)
	if err != nil {
		return Data{}, err
	}
	return d, nil
}
