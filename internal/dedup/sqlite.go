// Metrics Report - Incremental Feed Reconciliation for Commerce Metrics
// Copyright 2026 Notorios Big
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/notorios-big/metrics-report

package dedup

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/notorios-big/metrics-report/internal/dates"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS daily_counts (
	date   TEXT NOT NULL,
	metric TEXT NOT NULL,
	count  INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (date, metric)
);
CREATE TABLE IF NOT EXISTS seen_events (
	event_key TEXT PRIMARY KEY,
	date      TEXT NOT NULL
);
`

// sqliteStore keeps the dedup tables in a local sqlite file.
type sqliteStore struct {
	db *sql.DB
}

func openSQLite(ctx context.Context, path string) (*sqliteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("dedup: sqlite path is empty")
	}
	// Serialize writers; sqlite holds a single write lock anyway and
	// _busy_timeout keeps racing inserts from failing spuriously.
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("opening sqlite store: %w", err)
	}
	configurePool(db)
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensuring sqlite schema: %w", err)
	}
	return &sqliteStore{db: db}, nil
}

func (s *sqliteStore) RecordIfNew(ctx context.Context, key string, eventDate dates.Date) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO seen_events (event_key, date) VALUES (?, ?)`,
		key, eventDate.String())
	if err != nil {
		return false, fmt.Errorf("recording event key: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking insert result: %w", err)
	}
	return affected > 0, nil
}

func (s *sqliteStore) IncrementCounter(ctx context.Context, date dates.Date, metric string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO daily_counts (date, metric, count) VALUES (?, ?, 1)
		 ON CONFLICT (date, metric) DO UPDATE SET count = count + 1`,
		date.String(), metric)
	if err != nil {
		return fmt.Errorf("incrementing counter %s/%s: %w", date, metric, err)
	}
	return nil
}

func (s *sqliteStore) Counts(ctx context.Context, start, end dates.Date) ([]Count, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT date, metric, count FROM daily_counts
		 WHERE date >= ? AND date <= ? ORDER BY date, metric`,
		start.String(), end.String())
	if err != nil {
		return nil, fmt.Errorf("querying counts: %w", err)
	}
	defer rows.Close()
	return scanCounts(rows)
}

func (s *sqliteStore) EvictBefore(ctx context.Context, cutoff dates.Date) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM seen_events WHERE date < ?`, cutoff.String())
	if err != nil {
		return 0, fmt.Errorf("evicting event keys: %w", err)
	}
	return res.RowsAffected()
}

func (s *sqliteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *sqliteStore) Close() error { return s.db.Close() }

func scanCounts(rows *sql.Rows) ([]Count, error) {
	var out []Count
	for rows.Next() {
		var c Count
		if err := rows.Scan(&c.Date, &c.Metric, &c.Count); err != nil {
			return nil, fmt.Errorf("scanning count row: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
