package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS history (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp_ns   INTEGER NOT NULL,
    water_detected INTEGER NOT NULL,
    distance_cm    REAL NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_history_timestamp ON history(timestamp_ns);
`

// SQLiteStore persists history in a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens or creates the database at path and applies the schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One writer at a time; WAL still allows concurrent readers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Append(ctx context.Context, rec HistoryRecord) error {
	water := 0
	if rec.WaterDetected {
		water = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO history (timestamp_ns, water_detected, distance_cm) VALUES (?, ?, ?)`,
		rec.Timestamp.UnixNano(), water, rec.DistanceCM,
	)
	if err != nil {
		return fmt.Errorf("insert history: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Query(ctx context.Context, since time.Time) ([]HistoryRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp_ns, water_detected, distance_cm
		FROM history
		WHERE timestamp_ns >= ?
		ORDER BY timestamp_ns ASC, id ASC`,
		since.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	out := make([]HistoryRecord, 0, 256)
	for rows.Next() {
		var (
			ns    int64
			water int
			rec   HistoryRecord
		)
		if err := rows.Scan(&ns, &water, &rec.DistanceCM); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		rec.Timestamp = time.Unix(0, ns).UTC()
		rec.WaterDetected = water != 0
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM history WHERE timestamp_ns < ?`, before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune history: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

var _ HistoryStore = (*SQLiteStore)(nil)
