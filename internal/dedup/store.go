// Metrics Report - Incremental Feed Reconciliation for Commerce Metrics
// Copyright 2026 Notorios Big
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/notorios-big/metrics-report

// Package dedup is the webhook idempotency store: a uniqueness table for
// event keys and permanent per-day metric counters. Correctness under
// concurrent delivery rests entirely on the primary-key constraint; no
// in-process locking is used.
package dedup

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/notorios-big/metrics-report/internal/dates"
)

// Count is one (date, metric) counter row.
type Count struct {
	Date   string `json:"date"`
	Metric string `json:"metric"`
	Count  int64  `json:"count"`
}

// Store is the idempotency surface the webhook handlers use.
type Store interface {
	// RecordIfNew inserts (key, eventDate) under the key's uniqueness
	// constraint. True iff the key was unseen; a lost race is a normal
	// duplicate outcome, not an error.
	RecordIfNew(ctx context.Context, key string, eventDate dates.Date) (bool, error)

	// IncrementCounter upserts the per-date-per-metric counter by one.
	IncrementCounter(ctx context.Context, date dates.Date, metric string) error

	// Counts returns counters within [start, end], date ascending.
	Counts(ctx context.Context, start, end dates.Date) ([]Count, error)

	// EvictBefore deletes uniqueness keys with eventDate before cutoff.
	// Counters are permanent and never evicted.
	EvictBefore(ctx context.Context, cutoff dates.Date) (int64, error)

	// Ping verifies connectivity for health checks.
	Ping(ctx context.Context) error

	Close() error
}

// Config selects and parameterizes a backend.
type Config struct {
	// Engine is "sqlite" or "postgres".
	Engine string
	// Path is the sqlite database file.
	Path string
	// DSN is the postgres connection string.
	DSN string
}

// Open builds the configured store and ensures its schema.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Engine {
	case "sqlite":
		return openSQLite(ctx, cfg.Path)
	case "postgres":
		return openPostgres(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("dedup: unknown engine %q", cfg.Engine)
	}
}

func configurePool(db *sql.DB) {
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)
}
