// Package store persists metrics to sqlite. The batch writer coalesces
// snapshots from a bounded queue into one transaction per flush interval so
// write-transaction frequency stays bounded regardless of collection rate.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps the sqlite connection for the metric log.
type Store struct {
	db *sql.DB
}

// Open creates the database file (and parent directory) if needed, applies
// the connection pragmas and bootstraps the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s := &Store{db: db}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS resource_logs (
		  id INTEGER PRIMARY KEY AUTOINCREMENT,
		  timestamp DATETIME NOT NULL,
		  metric_type TEXT NOT NULL,
		  value REAL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_resource_logs_timestamp ON resource_logs(timestamp);`,
		`CREATE INDEX IF NOT EXISTS idx_resource_logs_metric_type_timestamp ON resource_logs(metric_type, timestamp);`,
	}
	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("creating tables: %w", err)
		}
	}
	return nil
}

// MetricPoint is one persisted reading returned by history queries.
type MetricPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
	Value     float64   `json:"value"`
}

// MetricHistory returns the persisted points for one metric type since the
// given time, oldest first.
func (s *Store) MetricHistory(metricType string, since time.Time) ([]MetricPoint, error) {
	rows, err := s.db.Query(
		`SELECT timestamp, metric_type, value FROM resource_logs
		 WHERE metric_type = ? AND timestamp >= ? ORDER BY timestamp ASC`,
		metricType, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []MetricPoint
	for rows.Next() {
		var p MetricPoint
		if err := rows.Scan(&p.Timestamp, &p.Type, &p.Value); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// PruneBefore deletes persisted rows older than the cutoff and returns the
// number removed.
func (s *Store) PruneBefore(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM resource_logs WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
