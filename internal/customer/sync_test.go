// Metrics Report - Incremental Feed Reconciliation for Commerce Metrics
// Copyright 2026 Notorios Big
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/notorios-big/metrics-report

package customer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notorios-big/metrics-report/internal/cell"
	"github.com/notorios-big/metrics-report/internal/config"
	"github.com/notorios-big/metrics-report/internal/dates"
	"github.com/notorios-big/metrics-report/internal/feeds"
	"github.com/notorios-big/metrics-report/internal/sheets"
	"github.com/notorios-big/metrics-report/internal/table"
)

// fakeSheet is an in-memory customer sheet.
type fakeSheet struct {
	header []string
	rows   [][]cell.Cell

	headerWrites int
	plans        []table.RangePlan
	appended     []map[string]cell.Cell
}

func (f *fakeSheet) GetHeader(ctx context.Context, sheet string) ([]string, error) {
	return append([]string{}, f.header...), nil
}

func (f *fakeSheet) GetValues(ctx context.Context, sheet, a1Range string, opts ...sheets.GetOption) ([][]cell.Cell, error) {
	if len(f.header) == 0 {
		return nil, nil
	}
	out := [][]cell.Cell{make([]cell.Cell, len(f.header))}
	for i, name := range f.header {
		out[0][i] = cell.Text(name)
	}
	out = append(out, f.rows...)
	return out, nil
}

func (f *fakeSheet) UpdateValues(ctx context.Context, sheet, a1Range string, values [][]cell.Cell) error {
	if a1Range == "A1" && len(values) == 1 {
		f.headerWrites++
		f.header = make([]string, len(values[0]))
		for i, c := range values[0] {
			f.header[i] = c.String()
		}
	}
	return nil
}

func (f *fakeSheet) ApplyPlan(ctx context.Context, sheet string, plans []table.RangePlan) error {
	f.plans = append(f.plans, plans...)
	return nil
}

func (f *fakeSheet) AppendRows(ctx context.Context, sheet string, header []string, rows []map[string]cell.Cell) error {
	f.appended = append(f.appended, rows...)
	return nil
}

type fakeOrders struct {
	queries []string
	orders  []feeds.Order
}

func (f *fakeOrders) FetchOrders(ctx context.Context, query string) ([]feeds.Order, error) {
	f.queries = append(f.queries, query)
	return f.orders, nil
}

func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Sheets.SpreadsheetID = "sheet-1"
	return cfg
}

func fullHeader() []string {
	return append(append([]string{}, defaultHeader...), internalColumns...)
}

func order(email, createdAt, amount, discount string) feeds.Order {
	o := feeds.Order{
		CreatedAt:            createdAt,
		CurrentTotalPriceSet: &feeds.MoneyBag{ShopMoney: &feeds.Money{Amount: amount}},
		Customer:             &feeds.OrderCustomer{Email: email, DisplayName: "Cliente"},
	}
	if discount != "" {
		o.CurrentTotalDiscountsSet = &feeds.MoneyBag{ShopMoney: &feeds.Money{Amount: discount}}
	}
	return o
}

func TestSyncBootstrapsEmptySheet(t *testing.T) {
	sheet := &fakeSheet{}
	orders := &fakeOrders{orders: []feeds.Order{
		order("ana@example.com", "2025-06-01T15:00:00Z", "1190", "100"),
		order("ana@example.com", "2025-06-03T15:00:00Z", "2380", ""),
		order("beto@example.com", "2025-06-02T15:00:00Z", "1190", ""),
	}}
	syncer := NewSyncer(sheet, orders, testConfig(), time.UTC)

	require.NoError(t, syncer.Sync(context.Background(), dates.MustParseYMD("2025-06-10"), false))

	assert.Equal(t, 1, sheet.headerWrites)
	require.Len(t, orders.queries, 1)
	assert.Equal(t, "created_at:<=2025-06-10 financial_status:paid -status:cancelled", orders.queries[0])

	// Empty sheet: nothing to update, both customers appended in email order.
	assert.Empty(t, sheet.plans)
	require.Len(t, sheet.appended, 2)

	ana := sheet.appended[0]
	assert.Equal(t, "ana@example.com", ana["Email"].Str)
	assert.Equal(t, "Cliente", ana["Nombre"].Str)
	assert.Equal(t, 2.0, ana["Frecuency"].Num)
	assert.Equal(t, 7.0, ana["Recency"].Num) // 2025-06-10 - 2025-06-03
	assert.Equal(t, 3000.0, ana["Money"].Num)
	assert.Equal(t, "Low", ana[SensitivityColumn].Str)
	assert.Equal(t, "2025-06-03", ana["__last_purchase_ymd"].Str)
	assert.Equal(t, 1.0, ana["__discounted_orders"].Num)
	assert.Equal(t, 2.0, ana["__total_orders"].Num)
	assert.InDelta(t, 3000.0, ana["__money_units"].Num, 1e-6)

	assert.Equal(t, "beto@example.com", sheet.appended[1]["Email"].Str)
}

func TestSyncIncrementalUpdatesExistingRow(t *testing.T) {
	sheet := &fakeSheet{header: fullHeader()}
	// Existing row: ana with 2 orders through 2025-06-03.
	row := make([]cell.Cell, len(sheet.header))
	row[1] = cell.Text("Ana@Example.com") // Email, denormalized on purpose
	row[3] = cell.Number(2)               // Frecuency
	row[10] = cell.Text("2025-06-03")     // __last_purchase_ymd
	row[11] = cell.Number(1)              // __discounted_orders
	row[12] = cell.Number(2)              // __total_orders
	row[13] = cell.Number(3000)           // __money_units
	sheet.rows = [][]cell.Cell{row}

	orders := &fakeOrders{orders: []feeds.Order{
		order("ana@example.com", "2025-06-05T12:00:00Z", "1190", "50"),
	}}
	syncer := NewSyncer(sheet, orders, testConfig(), time.UTC)

	require.NoError(t, syncer.Sync(context.Background(), dates.MustParseYMD("2025-06-10"), false))

	require.Len(t, orders.queries, 1)
	assert.Equal(t,
		"created_at:>=2025-06-04 created_at:<=2025-06-10 financial_status:paid -status:cancelled",
		orders.queries[0])

	assert.Equal(t, 0, sheet.headerWrites, "schema already complete")
	assert.Empty(t, sheet.appended)
	require.NotEmpty(t, sheet.plans)

	// Locate the updated Frecuency/Recency/Money run.
	var freqPlan *table.RangePlan
	for i := range sheet.plans {
		if sheet.plans[i].StartCol <= 3 && sheet.plans[i].EndCol >= 3 {
			freqPlan = &sheet.plans[i]
		}
	}
	require.NotNil(t, freqPlan)
	vals := freqPlan.Values[0]
	assert.Equal(t, 3.0, vals[3-freqPlan.StartCol].Num, "2 snapshot orders + 1 fresh")
	assert.Equal(t, 5.0, vals[4-freqPlan.StartCol].Num, "recency from new last purchase")
	assert.Equal(t, 4000.0, vals[5-freqPlan.StartCol].Num)
	assert.Equal(t, "Medium", vals[6-freqPlan.StartCol].Str, "2 of 3 orders discounted")
}

func TestSyncNothingToFetch(t *testing.T) {
	sheet := &fakeSheet{header: fullHeader()}
	row := make([]cell.Cell, len(sheet.header))
	row[1] = cell.Text("ana@example.com")
	row[10] = cell.Text("2025-06-10")
	row[12] = cell.Number(1)
	row[13] = cell.Number(1000)
	sheet.rows = [][]cell.Cell{row}

	orders := &fakeOrders{}
	syncer := NewSyncer(sheet, orders, testConfig(), time.UTC)

	require.NoError(t, syncer.Sync(context.Background(), dates.MustParseYMD("2025-06-10"), false))
	assert.Empty(t, orders.queries, "watermark at end means no fetch")
	// Snapshot aggregates still rewrite derived columns.
	assert.NotEmpty(t, sheet.plans)
	assert.Empty(t, sheet.appended)
}

func TestSyncMigrationTriggersBackfill(t *testing.T) {
	// Sheet has display columns only: gaining the internal columns must
	// trigger a full-history reload, ignoring display values.
	sheet := &fakeSheet{header: append([]string{}, defaultHeader...)}
	orders := &fakeOrders{}
	syncer := NewSyncer(sheet, orders, testConfig(), time.UTC)

	require.NoError(t, syncer.Sync(context.Background(), dates.MustParseYMD("2025-06-10"), false))

	assert.Equal(t, 1, sheet.headerWrites)
	assert.Len(t, sheet.header, len(defaultHeader)+len(internalColumns))
	require.Len(t, orders.queries, 1)
	assert.Equal(t, "created_at:<=2025-06-10 financial_status:paid -status:cancelled", orders.queries[0])
}

func TestSyncDryRunWritesNothing(t *testing.T) {
	sheet := &fakeSheet{}
	orders := &fakeOrders{orders: []feeds.Order{
		order("ana@example.com", "2025-06-01T15:00:00Z", "1190", ""),
	}}
	syncer := NewSyncer(sheet, orders, testConfig(), time.UTC)

	require.NoError(t, syncer.Sync(context.Background(), dates.MustParseYMD("2025-06-10"), true))
	assert.Empty(t, sheet.plans)
	assert.Empty(t, sheet.appended)
}
