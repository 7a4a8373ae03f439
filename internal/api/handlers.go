// Metrics Report - Incremental Feed Reconciliation for Commerce Metrics
// Copyright 2026 Notorios Big
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/notorios-big/metrics-report

package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/notorios-big/metrics-report/internal/dates"
	"github.com/notorios-big/metrics-report/internal/dedup"
	"github.com/notorios-big/metrics-report/internal/logging"
	"github.com/notorios-big/metrics-report/internal/metrics"
)

const hmacHeader = "X-Shopify-Hmac-Sha256"

// Handler serves webhook intake and the counts read API.
type Handler struct {
	store  dedup.Store
	loc    *time.Location
	secret string
}

// verifySignature checks the delivery's HMAC-SHA256 signature. An empty
// configured secret accepts everything, with a warning, so a fresh
// deployment can be smoke-tested before the secret is provisioned.
func (h *Handler) verifySignature(body []byte, signature string) bool {
	if h.secret == "" {
		logging.Warn().Msg("Webhook secret not set, skipping HMAC verification")
		return true
	}
	mac := hmac.New(sha256.New, []byte(h.secret))
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// eventDate buckets the delivery into a report-timezone day: created_at,
// then updated_at, then today.
func (h *Handler) eventDate(payload map[string]any) dates.Date {
	for _, key := range []string{"created_at", "updated_at"} {
		s, _ := payload[key].(string)
		if s == "" {
			continue
		}
		t, err := dates.ParseISODateTime(s)
		if err != nil {
			continue
		}
		return dates.DayIn(t, h.loc)
	}
	return dates.TodayIn(h.loc)
}

// payloadToken extracts the cart identity: token, else id. Numeric ids
// arrive as JSON numbers.
func payloadToken(payload map[string]any) string {
	for _, key := range []string{"token", "id"} {
		switch v := payload[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

// truncateToken shortens an identity for logs; full tokens never appear
// in log output.
func truncateToken(token string) string {
	if len(token) > 8 {
		return token[:8]
	}
	return token
}

// readEvent runs the shared intake steps: body read, signature check,
// JSON decode. A false return means the response was already written.
func (h *Handler) readEvent(w http.ResponseWriter, r *http.Request, endpoint string) (map[string]any, bool) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		metrics.WebhookEvents.WithLabelValues(endpoint, "invalid").Inc()
		w.WriteHeader(http.StatusBadRequest)
		return nil, false
	}
	if !h.verifySignature(body, r.Header.Get(hmacHeader)) {
		metrics.WebhookEvents.WithLabelValues(endpoint, "unauthorized").Inc()
		logging.Warn().Str("endpoint", endpoint).Msg("Webhook signature mismatch")
		w.WriteHeader(http.StatusUnauthorized)
		return nil, false
	}
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		metrics.WebhookEvents.WithLabelValues(endpoint, "invalid").Inc()
		w.WriteHeader(http.StatusBadRequest)
		return nil, false
	}
	return payload, true
}

// CartsCreated handles CARTS_CREATE/CARTS_UPDATE deliveries. The vendor
// redelivers and re-fires on cart mutation, so the counter only moves
// when the cart token is seen for the first time. Success is always 200:
// the vendor retries non-2xx responses and a duplicate is not a failure.
func (h *Handler) CartsCreated(w http.ResponseWriter, r *http.Request) {
	payload, ok := h.readEvent(w, r, "carts_created")
	if !ok {
		return
	}

	token := payloadToken(payload)
	if token == "" {
		w.WriteHeader(http.StatusOK)
		return
	}

	date := h.eventDate(payload)
	fresh, err := h.store.RecordIfNew(r.Context(), token, date)
	if err != nil {
		logging.Err(err).Str("endpoint", "carts_created").Msg("Idempotency store failure")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if fresh {
		if err := h.store.IncrementCounter(r.Context(), date, "add_to_cart"); err != nil {
			logging.Err(err).Str("endpoint", "carts_created").Msg("Counter increment failed")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		metrics.WebhookEvents.WithLabelValues("carts_created", "new").Inc()
		logging.Info().
			Str("token", truncateToken(token)).
			Str("date", date.String()).
			Msg("add_to_cart: new cart")
	} else {
		metrics.WebhookEvents.WithLabelValues("carts_created", "duplicate").Inc()
	}
	w.WriteHeader(http.StatusOK)
}

// CheckoutCreated handles CHECKOUTS_CREATE deliveries. Checkouts carry no
// usable dedup identity, so every delivery counts.
func (h *Handler) CheckoutCreated(w http.ResponseWriter, r *http.Request) {
	payload, ok := h.readEvent(w, r, "checkout_created")
	if !ok {
		return
	}

	date := h.eventDate(payload)
	if err := h.store.IncrementCounter(r.Context(), date, "begin_checkout"); err != nil {
		logging.Err(err).Str("endpoint", "checkout_created").Msg("Counter increment failed")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	metrics.WebhookEvents.WithLabelValues("checkout_created", "counted").Inc()
	logging.Info().Str("date", date.String()).Msg("begin_checkout")
	w.WriteHeader(http.StatusOK)
}

// countsResponse is the read API body.
type countsResponse struct {
	Start  string        `json:"start"`
	End    string        `json:"end"`
	Counts []dedup.Count `json:"counts"`
}

// Counts returns counters in [start, end]; the default window is the
// last seven days.
func (h *Handler) Counts(w http.ResponseWriter, r *http.Request) {
	end := dates.TodayIn(h.loc)
	start := end.AddDays(-6)
	if s := r.URL.Query().Get("start"); s != "" {
		d, ok := dates.ParseYMD(s)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid start date")
			return
		}
		start = d
	}
	if s := r.URL.Query().Get("end"); s != "" {
		d, ok := dates.ParseYMD(s)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid end date")
			return
		}
		end = d
	}
	if start.After(end) {
		writeError(w, http.StatusBadRequest, "start after end")
		return
	}

	counts, err := h.store.Counts(r.Context(), start, end)
	if err != nil {
		logging.Err(err).Msg("Counts query failed")
		writeError(w, http.StatusInternalServerError, "store query failed")
		return
	}
	if counts == nil {
		counts = []dedup.Count{}
	}
	writeJSON(w, http.StatusOK, countsResponse{
		Start:  start.String(),
		End:    end.String(),
		Counts: counts,
	})
}

// Health reports liveness and store connectivity.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "degraded",
			"store":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
