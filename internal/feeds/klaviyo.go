// Metrics Report - Incremental Feed Reconciliation for Commerce Metrics
// Copyright 2026 Notorios Big
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/notorios-big/metrics-report

package feeds

import (
	"context"
	"fmt"
	"net/http"

	"github.com/notorios-big/metrics-report/internal/cell"
	"github.com/notorios-big/metrics-report/internal/config"
	"github.com/notorios-big/metrics-report/internal/dates"
	"github.com/notorios-big/metrics-report/internal/transport"
)

// Klaviyo is the metric-aggregates feed client.
type Klaviyo struct {
	cfg      config.KlaviyoConfig
	timezone string
	tr       *transport.Client

	baseURL string
}

// NewKlaviyo builds the feed client. The private key and metric ID are
// required.
func NewKlaviyo(cfg config.KlaviyoConfig, timezone string, tr *transport.Client) (*Klaviyo, error) {
	if cfg.MetricID == "" {
		return nil, fmt.Errorf("klaviyo: missing metric_id")
	}
	if cfg.PrivateKey == "" {
		return nil, fmt.Errorf("klaviyo: missing private key (set KLAVIYO_PRIVATE_KEY)")
	}
	return &Klaviyo{cfg: cfg, timezone: timezone, tr: tr}, nil
}

// MetricAggregates is the decoded response body.
type MetricAggregates struct {
	Data struct {
		Attributes struct {
			Dates []string `json:"dates"`
			Data  []struct {
				Measurements struct {
					Count []float64 `json:"count"`
				} `json:"measurements"`
			} `json:"data"`
		} `json:"attributes"`
	} `json:"data"`
}

// FetchMetricAggregates queries daily counts for the configured metric.
// The window end is exclusive, matching the API's less-than filter.
func (k *Klaviyo) FetchMetricAggregates(ctx context.Context, start, endExclusive dates.Date) (*MetricAggregates, error) {
	endpoint := k.baseURL
	if endpoint == "" {
		endpoint = "https://a.klaviyo.com/api/metric-aggregates"
	}

	body, err := transport.JSONBody(map[string]any{
		"data": map[string]any{
			"type": "metric-aggregate",
			"attributes": map[string]any{
				"measurements": []string{"count"},
				"by":           k.cfg.By,
				"filter": []string{
					fmt.Sprintf("greater-or-equal(datetime,%sT00:00:00)", start),
					fmt.Sprintf("less-than(datetime,%sT00:00:00)", endExclusive),
				},
				"metric_id": k.cfg.MetricID,
				"interval":  "day",
				"timezone":  k.timezone,
			},
		},
	})
	if err != nil {
		return nil, err
	}

	hdr := http.Header{}
	hdr.Set("Authorization", "Klaviyo-API-Key "+k.cfg.PrivateKey)
	hdr.Set("revision", k.cfg.Revision)
	hdr.Set("Content-Type", "application/json")

	var resp MetricAggregates
	err = k.tr.DoJSON(ctx, transport.Request{
		Method: http.MethodPost,
		URL:    endpoint,
		Header: hdr,
		Body:   body,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// AggregatesToRows sums counts across series per day and emits one sheet
// row per date, sorted ascending. Days with no series still appear with a
// zero count.
func AggregatesToRows(resp *MetricAggregates) []map[string]cell.Cell {
	attrs := resp.Data.Attributes
	totals := make(map[string]int)
	for _, d := range attrs.Dates {
		if len(d) >= 10 {
			totals[d[:10]] += 0
		}
	}
	for _, series := range attrs.Data {
		for i, d := range attrs.Dates {
			if len(d) < 10 {
				continue
			}
			if i < len(series.Measurements.Count) {
				totals[d[:10]] += int(series.Measurements.Count[i])
			}
		}
	}

	rows := make([]map[string]cell.Cell, 0, len(totals))
	for _, date := range sortedKeys(totals) {
		rows = append(rows, map[string]cell.Cell{
			"Fecha":        cell.Text(date),
			"Suscriptores": cell.Number(float64(totals[date])),
		})
	}
	return rows
}
