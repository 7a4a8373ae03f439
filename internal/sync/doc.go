// Metrics Report - Incremental Feed Reconciliation for Commerce Metrics
// Copyright 2026 Notorios Big
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/notorios-big/metrics-report

/*
Package sync orchestrates one reconciliation run across every vendor feed.

A run resolves the reporting window end (yesterday in the configured
timezone), probes the first enabled sheet's header to fail fast on broken
store access, and then executes the feed tasks sequentially:

 1. shopify    - orders bucketed per day and cohort, appended to the
    purchase sheet above its watermark
 2. customers  - consolidated customer sheet merge (see internal/customer)
 3. meta       - account-level daily ad insights
 4. meta_ads   - ad-level daily insights, backfilled from a configured
    floor when the sheet is empty
 5. google_ads - GAQL daily campaign metrics
 6. klaviyo    - subscriber counts; the sheet is consolidated before the
    watermark read because the vendor re-reports whole days
 7. funnel     - ShopifyQL add-to-cart/checkout/purchase counts, only when
    a funnel sheet is configured

A task failure is collected and the run continues; the run returns a
single RunError naming the failure count and wrapping the first cause
only after every enabled task was attempted. Dry-run computes and logs
would-write counts without touching the store.
*/
package sync
