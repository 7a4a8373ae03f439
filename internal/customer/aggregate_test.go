// Metrics Report - Incremental Feed Reconciliation for Commerce Metrics
// Copyright 2026 Notorios Big
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/notorios-big/metrics-report

package customer

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/notorios-big/metrics-report/internal/cell"
	"github.com/notorios-big/metrics-report/internal/dates"
	"github.com/notorios-big/metrics-report/internal/feeds"
)

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "ana@example.com", NormalizeEmail(cell.Text("  Ana@Example.COM ")))
	assert.Equal(t, "", NormalizeEmail(cell.Text("   ")))
	assert.Equal(t, "", NormalizeEmail(cell.Number(42)), "numeric cells are not identities")
	assert.Equal(t, "", NormalizeEmail(cell.Empty()))
}

func TestSensitivityLabel(t *testing.T) {
	assert.Equal(t, "", SensitivityLabel(0, 0))
	assert.Equal(t, "High", SensitivityLabel(4, 5))
	assert.Equal(t, "High", SensitivityLabel(8, 10))
	assert.Equal(t, "Medium", SensitivityLabel(6, 10))
	assert.Equal(t, "Medium", SensitivityLabel(7, 10))
	assert.Equal(t, "Low", SensitivityLabel(5, 10))
	assert.Equal(t, "Low", SensitivityLabel(0, 10))
}

func TestMergeSnapshotTakesMax(t *testing.T) {
	var a Aggregate
	a.MergeSnapshot(5, 2, 1000.5, dates.MustParseYMD("2025-01-10"), true)
	a.MergeSnapshot(3, 4, 900.0, dates.MustParseYMD("2025-02-01"), true)

	// Cumulative snapshots merge by max, never by sum.
	assert.Equal(t, 5, a.TotalOrders)
	assert.Equal(t, 4, a.DiscountedOrders)
	assert.Equal(t, 1000.5, a.MoneyUnits)
	assert.Equal(t, dates.MustParseYMD("2025-02-01"), a.LastPurchase)

	a.MergeSnapshot(0, 0, 0, dates.Date{}, false)
	assert.Equal(t, 5, a.TotalOrders)
	assert.Equal(t, dates.MustParseYMD("2025-02-01"), a.LastPurchase)
}

func TestMergeOrder(t *testing.T) {
	var a Aggregate
	o1 := &feeds.Order{Customer: &feeds.OrderCustomer{DisplayName: "Ana", Phone: "+56911111111"}}
	a.MergeOrder(o1, dates.MustParseYMD("2025-01-05"), 1000, 0)

	assert.Equal(t, 1, a.TotalOrders)
	assert.Equal(t, 0, a.DiscountedOrders)
	assert.Equal(t, 1000.0, a.MoneyUnits)
	assert.Equal(t, "Ana", a.Name)
	assert.Equal(t, "+56911111111", a.Phone)

	// Second order: counts sum, identity fields never overwritten.
	o2 := &feeds.Order{Customer: &feeds.OrderCustomer{DisplayName: "Other", Phone: "+56900000000"}}
	a.MergeOrder(o2, dates.MustParseYMD("2025-01-03"), 500, 100)

	assert.Equal(t, 2, a.TotalOrders)
	assert.Equal(t, 1, a.DiscountedOrders)
	assert.Equal(t, 1500.0, a.MoneyUnits)
	assert.Equal(t, "Ana", a.Name)
	assert.Equal(t, dates.MustParseYMD("2025-01-05"), a.LastPurchase, "earlier order never regresses recency")
}

func TestNetUnits(t *testing.T) {
	o := &feeds.Order{CurrentTotalPriceSet: &feeds.MoneyBag{ShopMoney: &feeds.Money{Amount: "1190"}}}
	assert.InDelta(t, 1000.0, NetUnits(o, 0, 1.19), 1e-9)
	assert.InDelta(t, 900.0, NetUnits(o, 119, 1.19), 1e-9)
}

func TestRoundUnits(t *testing.T) {
	assert.Equal(t, 1000.123457, RoundUnits(1000.1234567))
	assert.Equal(t, -1000.123457, RoundUnits(-1000.1234567))
}

func TestFindIdxToleratesAccentsAndPrefix(t *testing.T) {
	header := []string{"Nombre", "EMAIL", "telefono", "Sensibilidad a descuento"}

	idx, ok := findIdx(header, "Teléfono", []string{"Telefono"}, false)
	assert.True(t, ok)
	assert.Equal(t, 2, idx)

	idx, ok = findIdx(header, "Email", nil, false)
	assert.True(t, ok)
	assert.Equal(t, 1, idx)

	idx, ok = findIdx(header, "Sensibilidad a descuento", nil, true)
	assert.True(t, ok)
	assert.Equal(t, 3, idx)

	// Full column name matches the short legacy header via its alias.
	idx, ok = findIdx(header, SensitivityColumn, []string{"Sensibilidad a descuento"}, true)
	assert.True(t, ok)
	assert.Equal(t, 3, idx)

	_, ok = findIdx(header, "Recency", nil, false)
	assert.False(t, ok)
}
