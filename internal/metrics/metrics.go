// Metrics Report - Incremental Feed Reconciliation for Commerce Metrics
// Copyright 2026 Notorios Big
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/notorios-big/metrics-report

// Package metrics provides Prometheus instrumentation for the
// reconciliation pipeline and the webhook daemon:
//   - per-feed sync duration, rows written, failures by class
//   - tabular store request counts
//   - webhook delivery outcomes and dedup eviction counts
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Feed Sync Metrics
	FeedSyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "feed_sync_duration_seconds",
			Help:    "Duration of a single feed sync task in seconds",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"feed"},
	)

	FeedRowsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_rows_written_total",
			Help: "Total number of rows written to the tabular store per feed",
		},
		[]string{"feed"},
	)

	FeedErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_errors_total",
			Help: "Total number of feed sync failures",
		},
		[]string{"feed", "error_type"}, // "config" or "sync"
	)

	FeedLastSuccess = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "feed_last_success_timestamp",
			Help: "Unix timestamp of the last successful sync per feed",
		},
		[]string{"feed"},
	)

	ConsolidationEliminated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consolidation_rows_eliminated_total",
			Help: "Total number of duplicate rows eliminated by consolidation",
		},
		[]string{"sheet"},
	)

	// Tabular Store Metrics
	StoreRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sheets_requests_total",
			Help: "Total number of tabular store API requests",
		},
		[]string{"operation", "status"}, // operation: "get", "update", "batch_update", "append"
	)

	// Webhook Metrics
	WebhookEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Total number of inbound webhook deliveries by outcome",
		},
		[]string{"endpoint", "result"}, // result: "new", "duplicate", "counted", "invalid", "unauthorized"
	)

	WebhookRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "webhook_request_duration_seconds",
			Help:    "Webhook request handling duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"endpoint"},
	)

	DedupEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dedup_evictions_total",
			Help: "Total number of idempotency keys evicted by retention",
		},
	)
)
