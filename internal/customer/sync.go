// Metrics Report - Incremental Feed Reconciliation for Commerce Metrics
// Copyright 2026 Notorios Big
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/notorios-big/metrics-report

package customer

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/notorios-big/metrics-report/internal/cell"
	"github.com/notorios-big/metrics-report/internal/config"
	"github.com/notorios-big/metrics-report/internal/dates"
	"github.com/notorios-big/metrics-report/internal/feeds"
	"github.com/notorios-big/metrics-report/internal/logging"
	"github.com/notorios-big/metrics-report/internal/sheets"
	"github.com/notorios-big/metrics-report/internal/table"
)

// SensitivityColumn is the full display header of the sensitivity
// column. Existing sheets may carry shorter variants; matching is by
// prefix.
const SensitivityColumn = "Sensibilidad a descuento (Alta +80%, Media 60%, Baja 40%)"

// defaultHeader is written when the sheet is empty. Display columns keep
// the deployment's names; the __-prefixed columns are machine-managed.
var defaultHeader = []string{
	"Nombre",
	"Email",
	"Teléfono",
	"Frecuency",
	"Recency",
	"Money",
	SensitivityColumn,
	"Buy_reason",
	"Occasion_trigger",
	"Desired_outcome",
}

var internalColumns = []string{
	"__last_purchase_ymd",
	"__discounted_orders",
	"__total_orders",
	"__money_units",
}

// findIdx locates a header column by normalized name, optional aliases,
// and optional prefix matching.
func findIdx(header []string, name string, aliases []string, prefix bool) (int, bool) {
	wanted := make([]string, 0, 1+len(aliases))
	wanted = append(wanted, table.Normalize(name))
	for _, a := range aliases {
		wanted = append(wanted, table.Normalize(a))
	}
	return table.FindColumnFunc(header, func(h string) bool {
		norm := table.Normalize(h)
		if norm == "" {
			return false
		}
		for _, w := range wanted {
			if w == "" {
				continue
			}
			if norm == w || (prefix && strings.HasPrefix(norm, w)) {
				return true
			}
		}
		return false
	})
}

// Store is the sheet surface the syncer needs.
type Store interface {
	GetHeader(ctx context.Context, sheet string) ([]string, error)
	GetValues(ctx context.Context, sheet, a1Range string, opts ...sheets.GetOption) ([][]cell.Cell, error)
	UpdateValues(ctx context.Context, sheet, a1Range string, values [][]cell.Cell) error
	ApplyPlan(ctx context.Context, sheet string, plans []table.RangePlan) error
	AppendRows(ctx context.Context, sheet string, header []string, rows []map[string]cell.Cell) error
}

// OrderSource fetches orders matching a search query.
type OrderSource interface {
	FetchOrders(ctx context.Context, query string) ([]feeds.Order, error)
}

// Syncer reconciles the consolidated customer sheet.
type Syncer struct {
	store  Store
	orders OrderSource
	cfg    *config.Config
	loc    *time.Location
}

// NewSyncer wires the syncer.
func NewSyncer(store Store, orders OrderSource, cfg *config.Config, loc *time.Location) *Syncer {
	return &Syncer{store: store, orders: orders, cfg: cfg, loc: loc}
}

// columnSet holds the resolved column indices the merge writes.
type columnSet struct {
	email       int
	name        int
	hasName     bool
	phone       int
	hasPhone    bool
	freq        int
	recency     int
	money       int
	sensitivity int
	last        int
	discounted  int
	total       int
	moneyUnits  int
}

// ensureHeader creates or migrates the header row. internalAdded is true
// when the sheet just gained the internal tracking columns, which
// triggers the one-time reload/backfill pass.
func (s *Syncer) ensureHeader(ctx context.Context, sheet string) ([]string, bool, error) {
	existing, err := s.store.GetHeader(ctx, sheet)
	if err != nil {
		return nil, false, err
	}
	if len(existing) == 0 {
		header := append(append([]string{}, defaultHeader...), internalColumns...)
		if err := s.writeHeader(ctx, sheet, header); err != nil {
			return nil, false, err
		}
		logging.Info().Str("sheet", sheet).Msg("Initialized customer sheet header")
		return header, true, nil
	}

	header := append([]string{}, existing...)
	changed := false

	required := []struct {
		name    string
		aliases []string
		prefix  bool
	}{
		{"Nombre", nil, false},
		{"Email", nil, false},
		{"Teléfono", []string{"Telefono"}, false},
		{"Frecuency", nil, false},
		{"Recency", nil, false},
		{"Money", nil, false},
		{SensitivityColumn, []string{"Sensibilidad a descuento"}, true},
	}
	for _, col := range required {
		if _, ok := findIdx(header, col.name, col.aliases, col.prefix); !ok {
			header = append(header, col.name)
			changed = true
		}
	}

	internalAdded := false
	for _, name := range internalColumns {
		if _, ok := findIdx(header, name, nil, false); !ok {
			header = append(header, name)
			changed = true
			internalAdded = true
		}
	}

	if changed {
		if err := s.writeHeader(ctx, sheet, header); err != nil {
			return nil, false, err
		}
		logging.Info().Str("sheet", sheet).Bool("internal_added", internalAdded).
			Msg("Migrated customer sheet header")
	}
	return header, internalAdded, nil
}

func (s *Syncer) writeHeader(ctx context.Context, sheet string, header []string) error {
	row := make([]cell.Cell, len(header))
	for i, name := range header {
		row[i] = cell.Text(name)
	}
	return s.store.UpdateValues(ctx, sheet, "A1", [][]cell.Cell{row})
}

func (s *Syncer) resolveColumns(sheet string, header []string) (columnSet, error) {
	var cols columnSet
	var ok bool

	if cols.email, ok = findIdx(header, "Email", nil, false); !ok {
		return cols, fmt.Errorf("sheet %q missing column %q", sheet, "Email")
	}
	cols.name, cols.hasName = findIdx(header, "Nombre", nil, false)
	cols.phone, cols.hasPhone = findIdx(header, "Teléfono", []string{"Telefono"}, false)

	var missing []string
	requireIdx := func(name string, aliases []string, prefix bool) int {
		idx, found := findIdx(header, name, aliases, prefix)
		if !found {
			missing = append(missing, name)
		}
		return idx
	}
	cols.freq = requireIdx("Frecuency", nil, false)
	cols.recency = requireIdx("Recency", nil, false)
	cols.money = requireIdx("Money", nil, false)
	cols.sensitivity = requireIdx(SensitivityColumn, []string{"Sensibilidad a descuento"}, true)
	cols.last = requireIdx("__last_purchase_ymd", nil, false)
	cols.discounted = requireIdx("__discounted_orders", nil, false)
	cols.total = requireIdx("__total_orders", nil, false)
	cols.moneyUnits = requireIdx("__money_units", nil, false)
	if len(missing) > 0 {
		return cols, fmt.Errorf("sheet %q missing required columns: %s", sheet, strings.Join(missing, ", "))
	}
	return cols, nil
}

// Sync reconciles the customer sheet up to and including end.
func (s *Syncer) Sync(ctx context.Context, end dates.Date, dryRun bool) error {
	sheet := s.cfg.Sheets.CustomersSheet

	header, internalAdded, err := s.ensureHeader(ctx, sheet)
	if err != nil {
		return err
	}
	cols, err := s.resolveColumns(sheet, header)
	if err != nil {
		return err
	}

	lastLetter := sheets.ColLetter(len(header) - 1)
	values, err := s.store.GetValues(ctx, sheet, "A1:"+lastLetter, sheets.Unformatted())
	if err != nil {
		return err
	}
	var snapshot [][]cell.Cell
	if len(values) > 1 {
		snapshot = values[1:]
	}

	aggregates := make(map[string]*Aggregate)
	rowEmails := make([]string, len(snapshot))
	emailsInSheet := make(map[string]bool)
	var maxLast dates.Date
	haveMaxLast := false

	for i, row := range snapshot {
		email := NormalizeEmail(cell.At(row, cols.email))
		rowEmails[i] = email
		if email == "" {
			continue
		}
		emailsInSheet[email] = true

		if internalAdded {
			continue
		}

		// Reload pass over cumulative snapshot rows. The internal total
		// falls back to the display frequency when absent or zero; money
		// falls back to the display column only when the internal cell is
		// absent entirely.
		total, ok := cell.CoerceInt(cell.At(row, cols.total))
		if !ok || total == 0 {
			if disp, dok := cell.CoerceInt(cell.At(row, cols.freq)); dok {
				total = disp
			}
		}
		discounted, _ := cell.CoerceInt(cell.At(row, cols.discounted))
		units, ok := cell.CoerceNumber(cell.At(row, cols.moneyUnits))
		if !ok {
			units, _ = cell.CoerceNumber(cell.At(row, cols.money))
		}
		last, hasLast := cell.CoerceDate(cell.At(row, cols.last))
		if hasLast && (!haveMaxLast || last.After(maxLast)) {
			maxLast = last
			haveMaxLast = true
		}

		agg := aggregates[email]
		if agg == nil {
			agg = &Aggregate{Email: email}
			aggregates[email] = agg
		}
		agg.MergeSnapshot(total, discounted, units, last, hasLast)
	}

	needsBackfill := internalAdded || !haveMaxLast
	if needsBackfill {
		aggregates = make(map[string]*Aggregate)
	}

	var query string
	fetch := true
	if !needsBackfill {
		start := maxLast.AddDays(1)
		if start.After(end) {
			logging.Info().
				Str("start", start.String()).
				Str("end", end.String()).
				Msg("Customers: nothing to fetch")
			fetch = false
		} else {
			query = feeds.BuildSearchQuery(table.Window{Start: start, End: end})
		}
	} else {
		query = feeds.BuildBootstrapQuery(end)
		logging.Info().Str("end", end.String()).Msg("Customers: full-history backfill")
	}

	var orders []feeds.Order
	if fetch {
		if orders, err = s.orders.FetchOrders(ctx, query); err != nil {
			return err
		}
	}

	for i := range orders {
		o := &orders[i]
		email := NormalizeEmail(cell.Text(o.CustomerEmail()))
		if email == "" || o.CreatedAt == "" {
			continue
		}
		ts, terr := dates.ParseISODateTime(o.CreatedAt)
		if terr != nil {
			continue
		}
		day := dates.DayIn(ts, s.loc)

		agg := aggregates[email]
		if agg == nil {
			agg = &Aggregate{Email: email}
			aggregates[email] = agg
		}
		agg.MergeOrder(o, day,
			NetUnits(o, s.cfg.Shopify.FixedDeductionPerOrder, s.cfg.Shopify.VATFactor),
			feeds.PickDiscount(o))
	}

	// Cell-level updates per customer. Recency may be negative when a
	// purchase postdates the window end.
	updatesByEmail := make(map[string]map[int]cell.Cell)
	for email, agg := range aggregates {
		if agg.LastPurchase.IsZero() {
			continue
		}
		recency := end.Sub(agg.LastPurchase)
		updatesByEmail[email] = map[int]cell.Cell{
			cols.freq:        cell.Number(float64(agg.TotalOrders)),
			cols.recency:     cell.Number(float64(recency)),
			cols.money:       cell.Number(float64(feeds.RoundHalfAwayFromZero(agg.MoneyUnits))),
			cols.sensitivity: cell.Text(SensitivityLabel(agg.DiscountedOrders, agg.TotalOrders)),
			cols.last:        cell.Text(agg.LastPurchase.String()),
			cols.discounted:  cell.Number(float64(agg.DiscountedOrders)),
			cols.total:       cell.Number(float64(agg.TotalOrders)),
			cols.moneyUnits:  cell.Number(RoundUnits(agg.MoneyUnits)),
		}
	}

	updated := 0
	for email := range emailsInSheet {
		if _, ok := updatesByEmail[email]; ok {
			updated++
		}
	}
	appended := 0
	for email := range updatesByEmail {
		if !emailsInSheet[email] {
			appended++
		}
	}

	if dryRun {
		logging.Info().
			Int("update", updated).
			Int("append", appended).
			Str("sheet", sheet).
			Msg("Customers: dry-run")
		return nil
	}

	if len(snapshot) > 0 && len(updatesByEmail) > 0 {
		edits := make(map[int]map[int]cell.Cell)
		for i, email := range rowEmails {
			if email == "" {
				continue
			}
			if rowUpdates, ok := updatesByEmail[email]; ok {
				edits[i] = rowUpdates
			}
		}
		plans := table.PlanUpdates(snapshot, edits)
		if err := s.store.ApplyPlan(ctx, sheet, plans); err != nil {
			return err
		}
	}

	newEmails := make([]string, 0, appended)
	for email := range updatesByEmail {
		if !emailsInSheet[email] {
			newEmails = append(newEmails, email)
		}
	}
	sort.Strings(newEmails)

	newRows := make([]map[string]cell.Cell, 0, len(newEmails))
	for _, email := range newEmails {
		agg := aggregates[email]
		updates := updatesByEmail[email]
		row := map[string]cell.Cell{header[cols.email]: cell.Text(email)}
		if cols.hasName {
			row[header[cols.name]] = cell.Text(agg.Name)
		}
		if cols.hasPhone {
			row[header[cols.phone]] = cell.Text(agg.Phone)
		}
		for _, idx := range []int{
			cols.freq, cols.recency, cols.money, cols.sensitivity,
			cols.last, cols.discounted, cols.total, cols.moneyUnits,
		} {
			row[header[idx]] = updates[idx]
		}
		newRows = append(newRows, row)
	}
	if len(newRows) > 0 {
		if err := s.store.AppendRows(ctx, sheet, header, newRows); err != nil {
			return err
		}
	}

	logging.Info().
		Int("updated", updated).
		Int("appended", len(newRows)).
		Str("sheet", sheet).
		Msg("Customers: reconciled")
	return nil
}
