// Metrics Report - Incremental Feed Reconciliation for Commerce Metrics
// Copyright 2026 Notorios Big
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/notorios-big/metrics-report

package feeds

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/notorios-big/metrics-report/internal/cell"
	"github.com/notorios-big/metrics-report/internal/config"
	"github.com/notorios-big/metrics-report/internal/logging"
	"github.com/notorios-big/metrics-report/internal/table"
	"github.com/notorios-big/metrics-report/internal/transport"
)

// Insight is one row of a Meta insights response. Numeric fields come as
// strings on the Graph wire.
type Insight struct {
	DateStart        string `json:"date_start"`
	AdName           string `json:"ad_name"`
	Spend            string `json:"spend"`
	Impressions      string `json:"impressions"`
	Reach            string `json:"reach"`
	InlineLinkClicks string `json:"inline_link_clicks"`
}

// Meta is the Graph insights feed client.
type Meta struct {
	cfg config.MetaConfig
	tr  *transport.Client

	baseURL string
}

// NewMeta builds the feed client. The access token is required.
func NewMeta(cfg config.MetaConfig, tr *transport.Client) (*Meta, error) {
	if cfg.AdAccountID == "" {
		return nil, fmt.Errorf("meta: missing ad_account_id")
	}
	if cfg.AccessToken == "" {
		return nil, fmt.Errorf("meta: missing access token (set META_ACCESS_TOKEN)")
	}
	return &Meta{cfg: cfg, tr: tr}, nil
}

func (m *Meta) insightsURL() string {
	base := m.baseURL
	if base == "" {
		base = "https://graph.facebook.com"
	}
	return fmt.Sprintf("%s/%s/%s/insights", base, m.cfg.APIVersion, m.cfg.AdAccountID)
}

// fetchInsights pages through the insights edge at the given level.
func (m *Meta) fetchInsights(ctx context.Context, w table.Window, level, fields string) ([]Insight, error) {
	timeRange, err := json.Marshal(map[string]string{
		"since": w.Start.String(),
		"until": w.End.String(),
	})
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("fields", fields)
	params.Set("level", level)
	params.Set("time_range", string(timeRange))
	params.Set("time_increment", "1")
	params.Set("limit", "5000")
	params.Set("access_token", m.cfg.AccessToken)

	next := m.insightsURL() + "?" + params.Encode()
	var out []Insight
	for next != "" {
		var resp struct {
			Data   []Insight `json:"data"`
			Paging struct {
				Next string `json:"next"`
			} `json:"paging"`
			Error *struct {
				Message string `json:"message"`
				Type    string `json:"type"`
				Code    int    `json:"code"`
			} `json:"error"`
		}
		if err := m.tr.DoJSON(ctx, transport.Request{Method: http.MethodGet, URL: next}, &resp); err != nil {
			return nil, err
		}
		if resp.Error != nil {
			return nil, fmt.Errorf("meta API error (code %d, %s): %s", resp.Error.Code, resp.Error.Type, resp.Error.Message)
		}
		out = append(out, resp.Data...)
		next = resp.Paging.Next
	}
	logging.Info().Int("rows", len(out)).Str("level", level).Msg("Meta insights fetched")
	return out, nil
}

// FetchAccountInsightsByDay reads account-level daily insights.
func (m *Meta) FetchAccountInsightsByDay(ctx context.Context, w table.Window) ([]Insight, error) {
	return m.fetchInsights(ctx, w, "account", "spend,impressions,reach,inline_link_clicks")
}

// FetchAdInsightsByDay reads ad-level daily insights for the ad
// performance sheet.
func (m *Meta) FetchAdInsightsByDay(ctx context.Context, w table.Window) ([]Insight, error) {
	return m.fetchInsights(ctx, w, "ad", "ad_name,spend,impressions,reach,inline_link_clicks")
}

func insightFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}

func insightInt(s string) int {
	return int(insightFloat(s))
}

type metaDay struct {
	spend       float64
	impressions int
	reach       int
	clicks      int
}

func (d *metaDay) add(it Insight) {
	d.spend += insightFloat(it.Spend)
	d.impressions += insightInt(it.Impressions)
	d.reach += insightInt(it.Reach)
	d.clicks += insightInt(it.InlineLinkClicks)
}

func metaRow(date string, acc *metaDay) map[string]cell.Cell {
	return map[string]cell.Cell{
		"Fecha":           cell.Text(date),
		"Inversión - CLP": cell.Number(acc.spend),
		"Impresiones":     cell.Number(float64(acc.impressions)),
		"Alcance":         cell.Number(float64(acc.reach)),
		"Visitas":         cell.Number(float64(acc.clicks)),
	}
}

// InsightsToRows collapses account-level insights into one sheet row per
// date, sorted ascending.
func InsightsToRows(items []Insight) []map[string]cell.Cell {
	byDate := make(map[string]*metaDay)
	for _, it := range items {
		if it.DateStart == "" {
			continue
		}
		acc := byDate[it.DateStart]
		if acc == nil {
			acc = &metaDay{}
			byDate[it.DateStart] = acc
		}
		acc.add(it)
	}

	rows := make([]map[string]cell.Cell, 0, len(byDate))
	for _, date := range sortedKeys(byDate) {
		rows = append(rows, metaRow(date, byDate[date]))
	}
	return rows
}

// AdInsightsToRows collapses ad-level insights into one sheet row per
// (date, ad) pair, date ascending then ad name.
func AdInsightsToRows(items []Insight) []map[string]cell.Cell {
	type key struct {
		date string
		ad   string
	}
	byKey := make(map[string]*metaDay)
	ads := make(map[string]key)
	for _, it := range items {
		if it.DateStart == "" {
			continue
		}
		k := key{date: it.DateStart, ad: it.AdName}
		id := k.date + "\x00" + k.ad
		acc := byKey[id]
		if acc == nil {
			acc = &metaDay{}
			byKey[id] = acc
			ads[id] = k
		}
		acc.add(it)
	}

	rows := make([]map[string]cell.Cell, 0, len(byKey))
	for _, id := range sortedKeys(byKey) {
		row := metaRow(ads[id].date, byKey[id])
		row["Anuncio"] = cell.Text(ads[id].ad)
		rows = append(rows, row)
	}
	return rows
}
