// Metrics Report - Incremental Feed Reconciliation for Commerce Metrics
// Copyright 2026 Notorios Big
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/notorios-big/metrics-report

// Package api is the webhook daemon's HTTP surface: Shopify event intake
// with HMAC verification, the counts read API, health and Prometheus
// endpoints.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/notorios-big/metrics-report/internal/config"
	"github.com/notorios-big/metrics-report/internal/dedup"
)

// NewRouter assembles the daemon's routes. Webhook intake is rate limited
// per client IP; the read API is CORS-enabled for dashboard use.
func NewRouter(cfg config.WebhookConfig, loc *time.Location, store dedup.Store) http.Handler {
	h := &Handler{
		store:  store,
		loc:    loc,
		secret: cfg.Secret,
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(requestLogger)

	r.Group(func(r chi.Router) {
		r.Use(httprate.LimitByIP(cfg.RateLimitReqs, cfg.RateLimitWindow))
		r.Post("/carts_created", h.CartsCreated)
		r.Post("/checkout_created", h.CheckoutCreated)
	})

	r.Route("/api/v1", func(r chi.Router) {
		if len(cfg.CORSOrigins) > 0 {
			r.Use(cors.Handler(cors.Options{
				AllowedOrigins: cfg.CORSOrigins,
				AllowedMethods: []string{http.MethodGet, http.MethodOptions},
				MaxAge:         300,
			}))
		}
		r.Get("/counts", h.Counts)
	})

	r.Get("/health", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	return r
}
