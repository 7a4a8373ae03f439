// Metrics Report - Incremental Feed Reconciliation for Commerce Metrics
// Copyright 2026 Notorios Big
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/notorios-big/metrics-report

package supervisor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notorios-big/metrics-report/internal/logging"
)

type blockingService struct {
	started atomic.Bool
}

func (s *blockingService) Serve(ctx context.Context) error {
	s.started.Store(true)
	<-ctx.Done()
	return ctx.Err()
}

func (s *blockingService) String() string { return "blocking" }

func TestTreeStartsAndStopsServices(t *testing.T) {
	tree := NewTree(logging.NewSlogLogger(), DefaultTreeConfig())

	intake := &blockingService{}
	maintenance := &blockingService{}
	tree.AddIntakeService(intake)
	tree.AddMaintenanceService(maintenance)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- tree.Serve(ctx) }()

	require.Eventually(t, func() bool {
		return intake.started.Load() && maintenance.started.Load()
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("tree did not stop")
	}
}

func TestTreeConfigDefaults(t *testing.T) {
	cfg := DefaultTreeConfig()
	assert.Equal(t, 5.0, cfg.FailureThreshold)
	assert.Equal(t, 15*time.Second, cfg.FailureBackoff)
}
