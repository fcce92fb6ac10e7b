// Package history provides durable storage for completed scan reports: a
// WAL-mode SQLite store by default (grounded on internal/queue's
// SQLiteQueue, adapted from an alert delivery queue to an append-only scan
// history), plus an optional Postgres-backed store for multi-host
// aggregation (internal/history/postgres_store.go).
package history

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // register "sqlite" driver with database/sql

	"github.com/hollows-hunter/agent/internal/report"
)

// SQLiteStore is a WAL-mode SQLite-backed scan history store. It is safe
// for concurrent use.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path, enables WAL
// journal mode, and applies the schema, matching the connection-pool and
// PRAGMA setup of queue.New.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open %q: %w", path, err)
	}

	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history: set WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA synchronous = NORMAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history: set synchronous = NORMAL: %w", err)
	}
	if _, err := db.Exec(sqliteDDL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history: apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

const sqliteDDL = `
CREATE TABLE IF NOT EXISTS scan_report (
    scan_id          TEXT    PRIMARY KEY,
    start_time       TEXT    NOT NULL,
    end_time         TEXT    NOT NULL,
    scan_time_ms     INTEGER NOT NULL,
    scanned_count    INTEGER NOT NULL,
    suspicious_count INTEGER NOT NULL,
    report_json      TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_scan_report_start_time
    ON scan_report (start_time);
`

// Append persists rep as a row, encoding its full JSON rendering for later
// retrieval. It is safe to call once per completed Report.
func (s *SQLiteStore) Append(ctx context.Context, rep *report.Report, opts report.RenderOptions) error {
	raw, err := rep.JSON(opts)
	if err != nil {
		return fmt.Errorf("history: render report: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO scan_report
		 (scan_id, start_time, end_time, scan_time_ms, scanned_count, suspicious_count, report_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rep.ScanID,
		rep.StartTick.UTC().Format("2006-01-02T15:04:05.000000000Z"),
		rep.EndTick.UTC().Format("2006-01-02T15:04:05.000000000Z"),
		rep.ScanTimeMS(),
		rep.TotalCount(),
		rep.SuspiciousCount(),
		string(raw),
	)
	if err != nil {
		return fmt.Errorf("history: append: %w", err)
	}
	return nil
}

// Record is one stored scan's rendered JSON.
type Record struct {
	ScanID          string
	StartTime       string
	ScanTimeMS      int64
	ScannedCount    int
	SuspiciousCount int
	ReportJSON      string
}

// Recent returns the n scans with the latest start times, newest first.
func (s *SQLiteStore) Recent(ctx context.Context, n int) ([]Record, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT scan_id, start_time, scan_time_ms, scanned_count, suspicious_count, report_json
		 FROM scan_report ORDER BY start_time DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("history: recent query: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ScanID, &r.StartTime, &r.ScanTimeMS, &r.ScannedCount, &r.SuspiciousCount, &r.ReportJSON); err != nil {
			return nil, fmt.Errorf("history: recent scan: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
