// Metrics Report - Incremental Feed Reconciliation for Commerce Metrics
// Copyright 2026 Notorios Big
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/notorios-big/metrics-report

// Command webhookd ingests Shopify cart and checkout webhooks into the
// idempotency store, serves the counters read API, and evicts expired
// cart tokens on a daily schedule. Shut down with SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/notorios-big/metrics-report/internal/api"
	"github.com/notorios-big/metrics-report/internal/config"
	"github.com/notorios-big/metrics-report/internal/dedup"
	"github.com/notorios-big/metrics-report/internal/logging"
	"github.com/notorios-big/metrics-report/internal/supervisor"
	"github.com/notorios-big/metrics-report/internal/supervisor/services"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Err(err).Msg("Daemon failed")
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	_ = godotenv.Load()

	cfg, err := config.Load("")
	if err != nil {
		return err
	}
	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Logging.Level
	logCfg.Format = cfg.Logging.Format
	logCfg.Caller = cfg.Logging.Caller
	logging.Init(logCfg)

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	store, err := dedup.Open(ctx, dedup.Config{
		Engine: cfg.Webhook.Engine,
		Path:   cfg.Webhook.Path,
		DSN:    cfg.Webhook.DSN,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	server := &http.Server{
		Addr:              cfg.Webhook.ListenAddr,
		Handler:           api.NewRouter(cfg.Webhook, loc, store),
		ReadHeaderTimeout: 10 * time.Second,
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddIntakeService(services.NewHTTPService(server, 10*time.Second))
	tree.AddMaintenanceService(services.NewEvictorService(store, loc, cfg.Webhook.RetentionDays, 24*time.Hour))

	logging.Info().
		Str("listen", cfg.Webhook.ListenAddr).
		Str("engine", cfg.Webhook.Engine).
		Msg("Webhook daemon starting")
	return tree.Serve(ctx)
}
