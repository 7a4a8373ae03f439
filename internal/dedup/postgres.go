// Metrics Report - Incremental Feed Reconciliation for Commerce Metrics
// Copyright 2026 Notorios Big
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/notorios-big/metrics-report

package dedup

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/notorios-big/metrics-report/internal/dates"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS daily_counts (
	date   TEXT NOT NULL,
	metric TEXT NOT NULL,
	count  BIGINT NOT NULL DEFAULT 0,
	PRIMARY KEY (date, metric)
);
CREATE TABLE IF NOT EXISTS seen_events (
	event_key TEXT PRIMARY KEY,
	date      TEXT NOT NULL
);
`

type postgresStore struct {
	db *sql.DB
}

func openPostgres(ctx context.Context, dsn string) (*postgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("dedup: postgres dsn is empty")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres store: %w", err)
	}
	configurePool(db)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to postgres store: %w", err)
	}
	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensuring postgres schema: %w", err)
	}
	return &postgresStore{db: db}, nil
}

func (s *postgresStore) RecordIfNew(ctx context.Context, key string, eventDate dates.Date) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO seen_events (event_key, date) VALUES ($1, $2)
		 ON CONFLICT (event_key) DO NOTHING`,
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

func (s *postgresStore) IncrementCounter(ctx context.Context, date dates.Date, metric string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO daily_counts (date, metric, count) VALUES ($1, $2, 1)
		 ON CONFLICT (date, metric) DO UPDATE SET count = daily_counts.count + 1`,
		date.String(), metric)
	if err != nil {
		return fmt.Errorf("incrementing counter %s/%s: %w", date, metric, err)
	}
	return nil
}

func (s *postgresStore) Counts(ctx context.Context, start, end dates.Date) ([]Count, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT date, metric, count FROM daily_counts
		 WHERE date >= $1 AND date <= $2 ORDER BY date, metric`,
		start.String(), end.String())
	if err != nil {
		return nil, fmt.Errorf("querying counts: %w", err)
	}
	defer rows.Close()
	return scanCounts(rows)
}

func (s *postgresStore) EvictBefore(ctx context.Context, cutoff dates.Date) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM seen_events WHERE date < $1`, cutoff.String())
	if err != nil {
		return 0, fmt.Errorf("evicting event keys: %w", err)
	}
	return res.RowsAffected()
}

func (s *postgresStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *postgresStore) Close() error { return s.db.Close() }
