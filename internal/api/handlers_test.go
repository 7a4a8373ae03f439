// Metrics Report - Incremental Feed Reconciliation for Commerce Metrics
// Copyright 2026 Notorios Big
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/notorios-big/metrics-report

package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notorios-big/metrics-report/internal/config"
	"github.com/notorios-big/metrics-report/internal/dates"
	"github.com/notorios-big/metrics-report/internal/dedup"
)

type fakeStore struct {
	seen     map[string]string
	counters map[string]int64
	pingErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{seen: map[string]string{}, counters: map[string]int64{}}
}

func (f *fakeStore) RecordIfNew(_ context.Context, key string, eventDate dates.Date) (bool, error) {
	if _, ok := f.seen[key]; ok {
		return false, nil
	}
	f.seen[key] = eventDate.String()
	return true, nil
}

func (f *fakeStore) IncrementCounter(_ context.Context, date dates.Date, metric string) error {
	f.counters[date.String()+"/"+metric]++
	return nil
}

func (f *fakeStore) Counts(_ context.Context, start, end dates.Date) ([]dedup.Count, error) {
	var out []dedup.Count
	for _, d := range dates.RangeInclusive(start, end) {
		for _, metric := range []string{"add_to_cart", "begin_checkout"} {
			if n := f.counters[d.String()+"/"+metric]; n > 0 {
				out = append(out, dedup.Count{Date: d.String(), Metric: metric, Count: n})
			}
		}
	}
	return out, nil
}

func (f *fakeStore) EvictBefore(_ context.Context, cutoff dates.Date) (int64, error) {
	var n int64
	for key, date := range f.seen {
		if date < cutoff.String() {
			delete(f.seen, key)
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) Ping(context.Context) error { return f.pingErr }
func (f *fakeStore) Close() error               { return nil }

const testSecret = "hush"

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func testRouter(store dedup.Store, secret string) http.Handler {
	cfg := config.WebhookConfig{
		Secret:          secret,
		RateLimitReqs:   1000,
		RateLimitWindow: time.Minute,
	}
	return NewRouter(cfg, time.UTC, store)
}

func postWebhook(t *testing.T, router http.Handler, path string, body []byte, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	if signature != "" {
		req.Header.Set(hmacHeader, signature)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestCartsCreatedCountsOnlyNewTokens(t *testing.T) {
	store := newFakeStore()
	router := testRouter(store, testSecret)
	body := []byte(`{"token":"cart-abc","created_at":"2026-03-05T14:30:00-03:00"}`)

	rec := postWebhook(t, router, "/carts_created", body, sign(testSecret, body))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(1), store.counters["2026-03-05/add_to_cart"])

	// Redelivery acks 200 but the counter does not move.
	rec = postWebhook(t, router, "/carts_created", body, sign(testSecret, body))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(1), store.counters["2026-03-05/add_to_cart"])
}

func TestCartsCreatedBadSignature(t *testing.T) {
	store := newFakeStore()
	router := testRouter(store, testSecret)
	body := []byte(`{"token":"cart-abc"}`)

	rec := postWebhook(t, router, "/carts_created", body, "bm90LXRoZS1zaWduYXR1cmU=")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, store.seen)
}

func TestCartsCreatedMalformedJSON(t *testing.T) {
	store := newFakeStore()
	router := testRouter(store, testSecret)
	body := []byte(`{not json`)

	rec := postWebhook(t, router, "/carts_created", body, sign(testSecret, body))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCartsCreatedEmptySecretSkipsVerification(t *testing.T) {
	store := newFakeStore()
	router := testRouter(store, "")
	body := []byte(`{"token":"cart-open"}`)

	rec := postWebhook(t, router, "/carts_created", body, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, store.seen, "cart-open")
}

func TestCartsCreatedMissingTokenIsAcked(t *testing.T) {
	store := newFakeStore()
	router := testRouter(store, testSecret)
	body := []byte(`{"created_at":"2026-03-05T10:00:00Z"}`)

	rec := postWebhook(t, router, "/carts_created", body, sign(testSecret, body))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, store.seen)
	assert.Empty(t, store.counters)
}

func TestCartsCreatedNumericIDFallback(t *testing.T) {
	store := newFakeStore()
	router := testRouter(store, testSecret)
	body := []byte(`{"id":987654321,"updated_at":"2026-03-06T01:00:00Z"}`)

	rec := postWebhook(t, router, "/carts_created", body, sign(testSecret, body))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, store.seen, "987654321")
	assert.Equal(t, int64(1), store.counters["2026-03-06/add_to_cart"])
}

func TestCartsCreatedDateFallsBackToToday(t *testing.T) {
	store := newFakeStore()
	router := testRouter(store, testSecret)
	body := []byte(`{"token":"cart-nodate"}`)

	rec := postWebhook(t, router, "/carts_created", body, sign(testSecret, body))
	assert.Equal(t, http.StatusOK, rec.Code)
	today := dates.TodayIn(time.UTC).String()
	assert.Equal(t, int64(1), store.counters[today+"/add_to_cart"])
}

func TestCheckoutCreatedAlwaysCounts(t *testing.T) {
	store := newFakeStore()
	router := testRouter(store, testSecret)
	body := []byte(`{"id":1,"created_at":"2026-03-05T12:00:00Z"}`)

	for i := 0; i < 3; i++ {
		rec := postWebhook(t, router, "/checkout_created", body, sign(testSecret, body))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
	assert.Equal(t, int64(3), store.counters["2026-03-05/begin_checkout"])
}

func TestCountsEndpoint(t *testing.T) {
	store := newFakeStore()
	store.counters["2026-03-05/add_to_cart"] = 4
	store.counters["2026-03-06/begin_checkout"] = 2
	router := testRouter(store, testSecret)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/counts?start=2026-03-05&end=2026-03-06", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp countsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "2026-03-05", resp.Start)
	assert.Equal(t, "2026-03-06", resp.End)
	require.Len(t, resp.Counts, 2)
	assert.Equal(t, int64(4), resp.Counts[0].Count)
}

func TestCountsDefaultsToLastSevenDays(t *testing.T) {
	store := newFakeStore()
	router := testRouter(store, testSecret)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/counts", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp countsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	end := dates.TodayIn(time.UTC)
	assert.Equal(t, end.String(), resp.End)
	assert.Equal(t, end.AddDays(-6).String(), resp.Start)
	assert.NotNil(t, resp.Counts)
}

func TestCountsRejectsBadRange(t *testing.T) {
	router := testRouter(newFakeStore(), testSecret)
	for _, query := range []string{
		"start=garbage",
		"end=05/03/2026",
		"start=2026-03-06&end=2026-03-05",
	} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/counts?"+query, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, query)
	}
}

func TestHealth(t *testing.T) {
	store := newFakeStore()
	router := testRouter(store, testSecret)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	store.pingErr = errors.New("database is locked")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestTruncateToken(t *testing.T) {
	assert.Equal(t, "abcdefgh", truncateToken("abcdefghijkl"))
	assert.Equal(t, "short", truncateToken("short"))
}

func TestMetricsEndpointExposed(t *testing.T) {
	router := testRouter(newFakeStore(), testSecret)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestRateLimitAppliesToWebhooks(t *testing.T) {
	cfg := config.WebhookConfig{
		Secret:          "",
		RateLimitReqs:   2,
		RateLimitWindow: time.Minute,
	}
	router := NewRouter(cfg, time.UTC, newFakeStore())

	var last int
	for i := 0; i < 3; i++ {
		body := []byte(fmt.Sprintf(`{"token":"cart-%d"}`, i))
		rec := postWebhook(t, router, "/carts_created", body, "")
		last = rec.Code
	}
	assert.Equal(t, http.StatusTooManyRequests, last)
}
