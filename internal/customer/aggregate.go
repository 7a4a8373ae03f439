// Metrics Report - Incremental Feed Reconciliation for Commerce Metrics
// Copyright 2026 Notorios Big
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/notorios-big/metrics-report

// Package customer maintains the consolidated per-customer purchase
// sheet: lifetime order counts, net revenue, recency and discount
// sensitivity, merged idempotently across incremental runs.
package customer

import (
	"math"
	"strings"

	"github.com/notorios-big/metrics-report/internal/cell"
	"github.com/notorios-big/metrics-report/internal/dates"
	"github.com/notorios-big/metrics-report/internal/feeds"
)

// Aggregate is one customer's accumulated state, keyed by normalized
// email.
type Aggregate struct {
	Email            string
	Name             string
	Phone            string
	TotalOrders      int
	DiscountedOrders int
	// MoneyUnits is net revenue in currency units, unrounded. The display
	// column shows a rounded integer; this value is what future merges
	// build on, so rounding drift never accumulates.
	MoneyUnits   float64
	LastPurchase dates.Date
}

// NormalizeEmail lowercases and trims a text cell. Non-text cells and
// blanks yield "", which callers treat as no identity.
func NormalizeEmail(c cell.Cell) string {
	if c.Kind != cell.KindText {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(c.Str))
}

// SensitivityLabel classifies how discount-driven a customer's purchases
// are. Customers with no orders are unclassified.
func SensitivityLabel(discounted, total int) string {
	if total <= 0 {
		return ""
	}
	ratio := float64(discounted) / float64(total)
	switch {
	case ratio >= 0.8:
		return "High"
	case ratio >= 0.6:
		return "Medium"
	default:
		return "Low"
	}
}

// MergeSnapshot folds an existing sheet row into the aggregate. Snapshot
// values are already-cumulative, so every field takes the maximum rather
// than a sum.
func (a *Aggregate) MergeSnapshot(total, discounted int, moneyUnits float64, last dates.Date, hasLast bool) {
	if total > a.TotalOrders {
		a.TotalOrders = total
	}
	if discounted > a.DiscountedOrders {
		a.DiscountedOrders = discounted
	}
	if moneyUnits > a.MoneyUnits {
		a.MoneyUnits = moneyUnits
	}
	if hasLast && (a.LastPurchase.IsZero() || last.After(a.LastPurchase)) {
		a.LastPurchase = last
	}
}

// MergeOrder folds one freshly fetched order into the aggregate.
// netUnits is the order's net revenue contribution; discount decides the
// discounted-order count. Name and phone are first-non-empty-wins.
func (a *Aggregate) MergeOrder(o *feeds.Order, day dates.Date, netUnits, discount float64) {
	a.TotalOrders++
	if discount > 0 {
		a.DiscountedOrders++
	}
	a.MoneyUnits += netUnits
	if a.LastPurchase.IsZero() || day.After(a.LastPurchase) {
		a.LastPurchase = day
	}
	if a.Name == "" {
		a.Name = o.CustomerName()
	}
	if a.Phone == "" {
		a.Phone = o.CustomerPhone()
	}
}

// NetUnits computes an order's net revenue: the recorded gross amount
// minus a fixed per-order deduction, divided by the VAT factor.
func NetUnits(o *feeds.Order, fixedDeduction, vatFactor float64) float64 {
	amount, _ := feeds.PickMoney(o)
	return (amount - fixedDeduction) / vatFactor
}

// RoundUnits trims money units to 6 decimals for the internal tracking
// column.
func RoundUnits(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
