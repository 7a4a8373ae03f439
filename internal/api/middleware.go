// Metrics Report - Incremental Feed Reconciliation for Commerce Metrics
// Copyright 2026 Notorios Big
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/notorios-big/metrics-report

package api

import (
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/notorios-big/metrics-report/internal/logging"
	"github.com/notorios-big/metrics-report/internal/metrics"
)

// requestLogger emits one structured line per request and feeds the
// request duration histogram for webhook endpoints.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		elapsed := time.Since(started)
		if r.Method == http.MethodPost {
			metrics.WebhookRequestDuration.WithLabelValues(r.URL.Path).Observe(elapsed.Seconds())
		}
		logging.Info().
			Str("request_id", chimiddleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", elapsed).
			Str("remote", r.RemoteAddr).
			Msg("Request")
	})
}
