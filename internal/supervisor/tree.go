// Metrics Report - Incremental Feed Reconciliation for Commerce Metrics
// Copyright 2026 Notorios Big
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/notorios-big/metrics-report

// Package supervisor wires the webhook daemon's long-running services
// under a suture supervision tree. A crash in the maintenance layer
// (retention eviction) never takes down event intake.
package supervisor

import (
	"context"
	"log/slog"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"
)

// TreeConfig holds restart policy knobs. Zero values fall back to
// suture's defaults.
type TreeConfig struct {
	FailureThreshold float64
	FailureDecay     float64
	FailureBackoff   time.Duration
	ShutdownTimeout  time.Duration
}

// DefaultTreeConfig matches suture's built-in restart policy.
func DefaultTreeConfig() TreeConfig {
	return TreeConfig{
		FailureThreshold: 5.0,
		FailureDecay:     30.0,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

// Tree is the daemon's supervision hierarchy: an intake layer for the
// HTTP server and a maintenance layer for background work.
type Tree struct {
	root        *suture.Supervisor
	intake      *suture.Supervisor
	maintenance *suture.Supervisor
}

// NewTree builds the supervision tree. Supervisor events are logged
// through the given slog logger.
func NewTree(logger *slog.Logger, cfg TreeConfig) *Tree {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5.0
	}
	if cfg.FailureDecay == 0 {
		cfg.FailureDecay = 30.0
	}
	if cfg.FailureBackoff == 0 {
		cfg.FailureBackoff = 15 * time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	// sutureslog's hook constructor has a pointer receiver.
	handler := &sutureslog.Handler{Logger: logger}

	rootSpec := suture.Spec{
		EventHook:        handler.MustHook(),
		FailureThreshold: cfg.FailureThreshold,
		FailureDecay:     cfg.FailureDecay,
		FailureBackoff:   cfg.FailureBackoff,
		Timeout:          cfg.ShutdownTimeout,
	}
	childSpec := suture.Spec{
		FailureThreshold: cfg.FailureThreshold,
		FailureDecay:     cfg.FailureDecay,
		FailureBackoff:   cfg.FailureBackoff,
		Timeout:          cfg.ShutdownTimeout,
	}

	root := suture.New("webhookd", rootSpec)
	intake := suture.New("intake-layer", childSpec)
	maintenance := suture.New("maintenance-layer", childSpec)
	root.Add(intake)
	root.Add(maintenance)

	return &Tree{root: root, intake: intake, maintenance: maintenance}
}

// AddIntakeService supervises a service in the intake layer.
func (t *Tree) AddIntakeService(svc suture.Service) {
	t.intake.Add(svc)
}

// AddMaintenanceService supervises a service in the maintenance layer.
func (t *Tree) AddMaintenanceService(svc suture.Service) {
	t.maintenance.Add(svc)
}

// Serve runs the tree until ctx is canceled.
func (t *Tree) Serve(ctx context.Context) error {
	return t.root.Serve(ctx)
}
