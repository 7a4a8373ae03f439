// Metrics Report - Incremental Feed Reconciliation for Commerce Metrics
// Copyright 2026 Notorios Big
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/notorios-big/metrics-report

package services

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notorios-big/metrics-report/internal/dates"
	"github.com/notorios-big/metrics-report/internal/dedup"
)

type fakeServer struct {
	serveErr error
	done     chan struct{}
	shutdown bool
	mu       sync.Mutex
}

func newFakeServer(serveErr error) *fakeServer {
	return &fakeServer{serveErr: serveErr, done: make(chan struct{})}
}

func (f *fakeServer) ListenAndServe() error {
	if f.serveErr != nil {
		return f.serveErr
	}
	<-f.done
	return http.ErrServerClosed
}

func (f *fakeServer) Shutdown(context.Context) error {
	f.mu.Lock()
	f.shutdown = true
	f.mu.Unlock()
	close(f.done)
	return nil
}

func TestHTTPServiceGracefulShutdown(t *testing.T) {
	server := newFakeServer(nil)
	svc := NewHTTPService(server, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Serve(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("service did not stop")
	}

	server.mu.Lock()
	defer server.mu.Unlock()
	assert.True(t, server.shutdown)
}

func TestHTTPServiceStartupFailure(t *testing.T) {
	svc := NewHTTPService(newFakeServer(errors.New("address already in use")), time.Second)
	err := svc.Serve(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "address already in use")
}

type fakeEvictStore struct {
	mu      sync.Mutex
	cutoffs []dates.Date
	deleted int64
}

func (f *fakeEvictStore) RecordIfNew(context.Context, string, dates.Date) (bool, error) {
	return false, nil
}
func (f *fakeEvictStore) IncrementCounter(context.Context, dates.Date, string) error { return nil }
func (f *fakeEvictStore) Counts(context.Context, dates.Date, dates.Date) ([]dedup.Count, error) {
	return nil, nil
}

func (f *fakeEvictStore) EvictBefore(_ context.Context, cutoff dates.Date) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoffs = append(f.cutoffs, cutoff)
	return f.deleted, nil
}

func (f *fakeEvictStore) Ping(context.Context) error { return nil }
func (f *fakeEvictStore) Close() error               { return nil }

func (f *fakeEvictStore) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cutoffs)
}

func TestEvictorEvictsAtStartup(t *testing.T) {
	store := &fakeEvictStore{deleted: 3}
	svc := NewEvictorService(store, time.UTC, 7, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Serve(ctx) }()

	require.Eventually(t, func() bool { return store.calls() >= 1 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)

	store.mu.Lock()
	defer store.mu.Unlock()
	want := dates.TodayIn(time.UTC).AddDays(-7)
	assert.Equal(t, want, store.cutoffs[0])
}

func TestEvictorRunsPeriodically(t *testing.T) {
	store := &fakeEvictStore{}
	svc := NewEvictorService(store, time.UTC, 7, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = svc.Serve(ctx) }()

	require.Eventually(t, func() bool { return store.calls() >= 3 }, time.Second, 5*time.Millisecond)
}

func TestEvictorStopsOnStoreFailure(t *testing.T) {
	svc := NewEvictorService(failingEvictStore{&fakeEvictStore{}}, time.UTC, 7, time.Hour)
	err := svc.Serve(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database is locked")
}

type failingEvictStore struct{ *fakeEvictStore }

func (failingEvictStore) EvictBefore(context.Context, dates.Date) (int64, error) {
	return 0, errors.New("database is locked")
}
