// Metrics Report - Incremental Feed Reconciliation for Commerce Metrics
// Copyright 2026 Notorios Big
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/notorios-big/metrics-report

package services

import (
	"context"
	"time"

	"github.com/notorios-big/metrics-report/internal/dates"
	"github.com/notorios-big/metrics-report/internal/dedup"
	"github.com/notorios-big/metrics-report/internal/logging"
	"github.com/notorios-big/metrics-report/internal/metrics"
)

// EvictorService deletes idempotency keys past their retention window:
// once at startup, then every interval. Daily counters are permanent and
// untouched by eviction.
type EvictorService struct {
	store         dedup.Store
	loc           *time.Location
	retentionDays int
	interval      time.Duration
}

// NewEvictorService builds the retention evictor. interval defaults to
// 24 hours.
func NewEvictorService(store dedup.Store, loc *time.Location, retentionDays int, interval time.Duration) *EvictorService {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &EvictorService{
		store:         store,
		loc:           loc,
		retentionDays: retentionDays,
		interval:      interval,
	}
}

// Serve implements suture.Service.
func (s *EvictorService) Serve(ctx context.Context) error {
	if err := s.evict(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.evict(ctx); err != nil {
				return err
			}
		}
	}
}

func (s *EvictorService) evict(ctx context.Context) error {
	cutoff := dates.TodayIn(s.loc).AddDays(-s.retentionDays)
	deleted, err := s.store.EvictBefore(ctx, cutoff)
	if err != nil {
		logging.Err(err).Str("cutoff", cutoff.String()).Msg("Retention eviction failed")
		return err
	}
	if deleted > 0 {
		metrics.DedupEvictions.Add(float64(deleted))
		logging.Info().
			Int64("deleted", deleted).
			Str("cutoff", cutoff.String()).
			Msg("Evicted expired idempotency keys")
	}
	return nil
}

func (s *EvictorService) String() string { return "retention-evictor" }
