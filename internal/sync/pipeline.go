// Metrics Report - Incremental Feed Reconciliation for Commerce Metrics
// Copyright 2026 Notorios Big
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/notorios-big/metrics-report

package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/notorios-big/metrics-report/internal/cell"
	"github.com/notorios-big/metrics-report/internal/config"
	"github.com/notorios-big/metrics-report/internal/dates"
	"github.com/notorios-big/metrics-report/internal/feeds"
	"github.com/notorios-big/metrics-report/internal/logging"
	"github.com/notorios-big/metrics-report/internal/metrics"
	"github.com/notorios-big/metrics-report/internal/sheets"
	"github.com/notorios-big/metrics-report/internal/table"
)

// TabularStore is the slice of the spreadsheet client the pipeline uses.
type TabularStore interface {
	GetHeader(ctx context.Context, sheet string) ([]string, error)
	Watermark(ctx context.Context, sheet string, dateHeaders []string) (sheets.WatermarkInfo, error)
	AppendRows(ctx context.Context, sheet string, header []string, rows []map[string]cell.Cell) error
	ConsolidateSumByDate(ctx context.Context, sheet string, dateHeaders, sumHeaders []string) (int, error)
}

// ShopifyFeed fetches orders and funnel analytics.
type ShopifyFeed interface {
	FetchOrders(ctx context.Context, query string) ([]feeds.Order, error)
	FetchFunnelByDay(ctx context.Context, w table.Window) ([]feeds.FunnelDay, error)
}

// MetaFeed fetches daily ad insights.
type MetaFeed interface {
	FetchAccountInsightsByDay(ctx context.Context, w table.Window) ([]feeds.Insight, error)
	FetchAdInsightsByDay(ctx context.Context, w table.Window) ([]feeds.Insight, error)
}

// GoogleAdsFeed exchanges a refresh token and runs GAQL searches.
type GoogleAdsFeed interface {
	AccessToken(ctx context.Context) (string, error)
	Search(ctx context.Context, accessToken, gaql string) ([]feeds.GAQLResult, error)
}

// KlaviyoFeed fetches per-day metric aggregates.
type KlaviyoFeed interface {
	FetchMetricAggregates(ctx context.Context, start, endExclusive dates.Date) (*feeds.MetricAggregates, error)
}

// CustomerSyncer runs the consolidated customer sheet merge.
type CustomerSyncer interface {
	Sync(ctx context.Context, end dates.Date, dryRun bool) error
}

// Deps supplies the pipeline's collaborators. The feed fields are
// constructors so that a missing credential fails the one task that needs
// it instead of the whole run.
type Deps struct {
	Store     TabularStore
	Shopify   func() (ShopifyFeed, error)
	Meta      func() (MetaFeed, error)
	GoogleAds func() (GoogleAdsFeed, error)
	Klaviyo   func() (KlaviyoFeed, error)
	Customers func() (CustomerSyncer, error)
}

// Options control a single run.
type Options struct {
	// Only restricts the run to the named tasks. Empty runs everything.
	Only []string
	// DryRun computes and logs would-write counts without store writes.
	DryRun bool
}

// Pipeline executes the feed tasks of one reconciliation run.
type Pipeline struct {
	cfg  *config.Config
	loc  *time.Location
	deps Deps
}

// New builds a Pipeline.
func New(cfg *config.Config, loc *time.Location, deps Deps) *Pipeline {
	return &Pipeline{cfg: cfg, loc: loc, deps: deps}
}

// KnownTasks lists every task name accepted by Options.Only, in run order.
func KnownTasks() []string {
	return []string{"shopify", "customers", "meta", "meta_ads", "google_ads", "klaviyo", "funnel"}
}

type task struct {
	name string
	run  func(ctx context.Context, end dates.Date, dryRun bool) (int, error)
}

// probeSheet picks the sheet for the fail-fast header read: the first
// enabled task's sheet, in run order.
func (p *Pipeline) probeSheet(enabled func(string) bool) string {
	order := []struct{ task, sheet string }{
		{"shopify", p.cfg.Sheets.PurchaseSheet},
		{"meta", p.cfg.Sheets.MetaSheet},
		{"meta_ads", p.cfg.Sheets.AdsSheet},
		{"google_ads", p.cfg.Sheets.GadsSheet},
		{"klaviyo", p.cfg.Sheets.KlaviyoSheet},
	}
	for _, o := range order {
		if enabled(o.task) {
			return o.sheet
		}
	}
	return ""
}

// Run executes the enabled tasks sequentially against yesterday as the
// window end. Task failures are collected; a RunError is returned only
// after every enabled task was attempted.
func (p *Pipeline) Run(ctx context.Context, opts Options) error {
	only := make(map[string]bool, len(opts.Only))
	for _, name := range opts.Only {
		only[name] = true
	}
	enabled := func(name string) bool { return len(only) == 0 || only[name] }

	runID := uuid.NewString()
	end := dates.YesterdayIn(p.loc)
	logging.Info().
		Str("run_id", runID).
		Str("end", end.String()).
		Bool("dry_run", opts.DryRun).
		Msg("Starting reconciliation run")

	if sheet := p.probeSheet(enabled); sheet != "" {
		if _, err := p.deps.Store.GetHeader(ctx, sheet); err != nil {
			return fmt.Errorf("header probe of sheet %q: %w", sheet, err)
		}
	}

	tasks := []task{
		{"shopify", p.runShopify},
		{"customers", p.runCustomers},
		{"meta", p.runMeta},
		{"meta_ads", p.runMetaAds},
		{"google_ads", p.runGoogleAds},
		{"klaviyo", p.runKlaviyo},
	}
	if p.cfg.Sheets.FunnelSheet != "" {
		tasks = append(tasks, task{"funnel", p.runFunnel})
	}

	var attempted int
	var errs []error
	for _, t := range tasks {
		if !enabled(t.name) {
			continue
		}
		attempted++
		started := time.Now()
		rows, err := t.run(ctx, end, opts.DryRun)
		metrics.FeedSyncDuration.WithLabelValues(t.name).Observe(time.Since(started).Seconds())
		if err != nil {
			metrics.FeedErrors.WithLabelValues(t.name, errorClass(err)).Inc()
			logging.Err(err).Str("feed", t.name).Msg("Feed task failed")
			errs = append(errs, err)
			continue
		}
		metrics.FeedRowsWritten.WithLabelValues(t.name).Add(float64(rows))
		metrics.FeedLastSuccess.WithLabelValues(t.name).SetToCurrentTime()
	}

	if len(errs) > 0 {
		return &RunError{Failed: len(errs), Total: attempted, First: errs[0]}
	}
	logging.Info().Str("run_id", runID).Int("tasks", attempted).Msg("Reconciliation run completed")
	return nil
}

// anchoredWindow reads the sheet's watermark and derives the next fetch
// window. A sheet without any coercible date is a configuration error
// unless a backfill floor is given.
func (p *Pipeline) anchoredWindow(ctx context.Context, taskName, sheet string, dateHeaders []string, floor, end dates.Date) (sheets.WatermarkInfo, table.Window, bool, error) {
	wm, err := p.deps.Store.Watermark(ctx, sheet, dateHeaders)
	if err != nil {
		return wm, table.Window{}, false, &ConfigError{Task: taskName, Err: err}
	}
	if !wm.Have && floor.IsZero() {
		return wm, table.Window{}, false,
			configErrorf(taskName, "could not determine last saved date for sheet %q", sheet)
	}
	if !wm.Have {
		logging.Info().
			Str("feed", taskName).
			Str("sheet", sheet).
			Str("floor", floor.String()).
			Msg("Empty sheet, backfilling from floor")
	}
	w, ok := table.NextWindow(wm.Max, wm.Have, floor, end)
	if !ok {
		logging.Info().Str("feed", taskName).Str("end", end.String()).Msg("Nothing to do")
	}
	return wm, w, ok, nil
}

func (p *Pipeline) appendOrLog(ctx context.Context, taskName, sheet string, header []string, rows []map[string]cell.Cell, dryRun bool) (int, error) {
	if dryRun {
		logging.Info().Str("feed", taskName).Int("rows", len(rows)).Msg("Dry-run, would append rows")
		return len(rows), nil
	}
	if len(rows) > 0 {
		if err := p.deps.Store.AppendRows(ctx, sheet, header, rows); err != nil {
			return 0, fmt.Errorf("%s: %w", taskName, err)
		}
	}
	logging.Info().Str("feed", taskName).Int("rows", len(rows)).Msg("Appended rows")
	return len(rows), nil
}

func (p *Pipeline) runShopify(ctx context.Context, end dates.Date, dryRun bool) (int, error) {
	sheet := p.cfg.Sheets.PurchaseSheet
	wm, w, ok, err := p.anchoredWindow(ctx, "shopify", sheet, p.cfg.Sheets.PurchaseDateHeaders, dates.Date{}, end)
	if err != nil || !ok {
		return 0, err
	}

	sp, err := p.deps.Shopify()
	if err != nil {
		return 0, &ConfigError{Task: "shopify", Err: err}
	}
	orders, err := sp.FetchOrders(ctx, feeds.BuildSearchQuery(w))
	if err != nil {
		return 0, fmt.Errorf("shopify: %w", err)
	}
	rows := feeds.OrdersToDayRows(orders, w, p.loc, p.cfg.Shopify.FixedDeductionPerOrder, p.cfg.Shopify.VATFactor)
	return p.appendOrLog(ctx, "shopify", sheet, wm.Header, rows, dryRun)
}

func (p *Pipeline) runCustomers(ctx context.Context, end dates.Date, dryRun bool) (int, error) {
	syncer, err := p.deps.Customers()
	if err != nil {
		return 0, &ConfigError{Task: "customers", Err: err}
	}
	if err := syncer.Sync(ctx, end, dryRun); err != nil {
		return 0, fmt.Errorf("customers: %w", err)
	}
	return 0, nil
}

func (p *Pipeline) runMeta(ctx context.Context, end dates.Date, dryRun bool) (int, error) {
	sheet := p.cfg.Sheets.MetaSheet
	wm, w, ok, err := p.anchoredWindow(ctx, "meta", sheet, p.cfg.Sheets.DateHeaders, dates.Date{}, end)
	if err != nil || !ok {
		return 0, err
	}

	m, err := p.deps.Meta()
	if err != nil {
		return 0, &ConfigError{Task: "meta", Err: err}
	}
	insights, err := m.FetchAccountInsightsByDay(ctx, w)
	if err != nil {
		return 0, fmt.Errorf("meta: %w", err)
	}
	return p.appendOrLog(ctx, "meta", sheet, wm.Header, feeds.InsightsToRows(insights), dryRun)
}

func (p *Pipeline) runMetaAds(ctx context.Context, end dates.Date, dryRun bool) (int, error) {
	sheet := p.cfg.Sheets.AdsSheet
	floor, ok := dates.ParseYMD(p.cfg.Sync.BackfillFloor)
	if !ok {
		return 0, configErrorf("meta_ads", "invalid backfill floor %q", p.cfg.Sync.BackfillFloor)
	}
	wm, w, ok, err := p.anchoredWindow(ctx, "meta_ads", sheet, p.cfg.Sheets.DateHeaders, floor, end)
	if err != nil || !ok {
		return 0, err
	}

	m, err := p.deps.Meta()
	if err != nil {
		return 0, &ConfigError{Task: "meta_ads", Err: err}
	}
	insights, err := m.FetchAdInsightsByDay(ctx, w)
	if err != nil {
		return 0, fmt.Errorf("meta_ads: %w", err)
	}
	return p.appendOrLog(ctx, "meta_ads", sheet, wm.Header, feeds.AdInsightsToRows(insights), dryRun)
}

func (p *Pipeline) runGoogleAds(ctx context.Context, end dates.Date, dryRun bool) (int, error) {
	sheet := p.cfg.Sheets.GadsSheet
	wm, w, ok, err := p.anchoredWindow(ctx, "google_ads", sheet, p.cfg.Sheets.DateHeaders, dates.Date{}, end)
	if err != nil || !ok {
		return 0, err
	}

	g, err := p.deps.GoogleAds()
	if err != nil {
		return 0, &ConfigError{Task: "google_ads", Err: err}
	}
	token, err := g.AccessToken(ctx)
	if err != nil {
		return 0, fmt.Errorf("google_ads: %w", err)
	}
	results, err := g.Search(ctx, token, feeds.BuildGAQL(w))
	if err != nil {
		return 0, fmt.Errorf("google_ads: %w", err)
	}
	return p.appendOrLog(ctx, "google_ads", sheet, wm.Header, feeds.GAQLResultsToRows(results), dryRun)
}

func (p *Pipeline) runKlaviyo(ctx context.Context, end dates.Date, dryRun bool) (int, error) {
	sheet := p.cfg.Sheets.KlaviyoSheet

	// The vendor re-reports whole days, so duplicate-dated rows pile up
	// between runs. Collapse them before the watermark read.
	if !dryRun {
		merged, err := p.deps.Store.ConsolidateSumByDate(ctx, sheet, p.cfg.Sheets.DateHeaders, []string{"Suscriptores"})
		if err != nil {
			return 0, fmt.Errorf("klaviyo: %w", err)
		}
		if merged > 0 {
			logging.Info().Int("rows", merged).Str("sheet", sheet).Msg("Consolidated duplicate rows")
		}
	}

	wm, w, ok, err := p.anchoredWindow(ctx, "klaviyo", sheet, p.cfg.Sheets.DateHeaders, dates.Date{}, end)
	if err != nil || !ok {
		return 0, err
	}

	k, err := p.deps.Klaviyo()
	if err != nil {
		return 0, &ConfigError{Task: "klaviyo", Err: err}
	}
	resp, err := k.FetchMetricAggregates(ctx, w.Start, w.End.AddDays(1))
	if err != nil {
		return 0, fmt.Errorf("klaviyo: %w", err)
	}

	// The aggregates response covers whole buckets and can include the
	// watermark day again; keep only rows strictly after it.
	rows := feeds.AggregatesToRows(resp)
	kept := rows[:0]
	for _, row := range rows {
		d, ok := dates.ParseYMD(row["Fecha"].Str)
		if ok && d.After(wm.Max) {
			kept = append(kept, row)
		}
	}
	return p.appendOrLog(ctx, "klaviyo", sheet, wm.Header, kept, dryRun)
}

func (p *Pipeline) runFunnel(ctx context.Context, end dates.Date, dryRun bool) (int, error) {
	sheet := p.cfg.Sheets.FunnelSheet
	wm, w, ok, err := p.anchoredWindow(ctx, "funnel", sheet, p.cfg.Sheets.PurchaseDateHeaders, dates.Date{}, end)
	if err != nil || !ok {
		return 0, err
	}

	sp, err := p.deps.Shopify()
	if err != nil {
		return 0, &ConfigError{Task: "funnel", Err: err}
	}
	days, err := sp.FetchFunnelByDay(ctx, w)
	if err != nil {
		return 0, fmt.Errorf("funnel: %w", err)
	}
	return p.appendOrLog(ctx, "funnel", sheet, wm.Header, feeds.FunnelToRows(days), dryRun)
}
