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
	"strings"

	"github.com/notorios-big/metrics-report/internal/cell"
	"github.com/notorios-big/metrics-report/internal/config"
	"github.com/notorios-big/metrics-report/internal/logging"
	"github.com/notorios-big/metrics-report/internal/table"
	"github.com/notorios-big/metrics-report/internal/transport"
)

const adwordsScope = "https://www.googleapis.com/auth/adwords"

// GoogleAds is the GAQL search feed client.
type GoogleAds struct {
	cfg config.GoogleAdsConfig
	tr  *transport.Client

	baseURL  string
	tokenURL string
}

// NewGoogleAds builds the feed client, requiring the full OAuth triple
// plus the developer token.
func NewGoogleAds(cfg config.GoogleAdsConfig, tr *transport.Client) (*GoogleAds, error) {
	var missing []string
	if cfg.CustomerID == "" {
		missing = append(missing, "GOOGLE_ADS_CUSTOMER_ID")
	}
	if cfg.DeveloperToken == "" {
		missing = append(missing, "GOOGLE_ADS_DEVELOPER_TOKEN")
	}
	if cfg.OAuthClientID == "" {
		missing = append(missing, "GOOGLE_ADS_OAUTH_CLIENT_ID")
	}
	if cfg.OAuthClientSecret == "" {
		missing = append(missing, "GOOGLE_ADS_OAUTH_CLIENT_SECRET")
	}
	if cfg.OAuthRefreshToken == "" {
		missing = append(missing, "GOOGLE_ADS_OAUTH_REFRESH_TOKEN")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("google_ads: missing configuration: %s", strings.Join(missing, ", "))
	}
	return &GoogleAds{cfg: cfg, tr: tr}, nil
}

// AccessToken refreshes an OAuth access token for the adwords scope.
func (g *GoogleAds) AccessToken(ctx context.Context) (string, error) {
	endpoint := g.tokenURL
	if endpoint == "" {
		endpoint = "https://oauth2.googleapis.com/token"
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("client_id", g.cfg.OAuthClientID)
	form.Set("client_secret", g.cfg.OAuthClientSecret)
	form.Set("refresh_token", g.cfg.OAuthRefreshToken)
	form.Set("scope", adwordsScope)

	hdr := http.Header{}
	hdr.Set("Content-Type", "application/x-www-form-urlencoded")

	var resp struct {
		AccessToken string `json:"access_token"`
	}
	err := g.tr.DoJSON(ctx, transport.Request{
		Method: http.MethodPost,
		URL:    endpoint,
		Header: hdr,
		Body:   []byte(form.Encode()),
	}, &resp)
	if err != nil {
		return "", fmt.Errorf("refreshing Google Ads token: %w", err)
	}
	if resp.AccessToken == "" {
		return "", fmt.Errorf("google_ads: token endpoint returned no access_token")
	}
	return resp.AccessToken, nil
}

// BuildGAQL builds the per-day account metrics query for an inclusive
// window.
func BuildGAQL(w table.Window) string {
	return fmt.Sprintf(
		"SELECT\n"+
			"  segments.date,\n"+
			"  metrics.impressions,\n"+
			"  metrics.clicks,\n"+
			"  metrics.cost_micros\n"+
			"FROM customer\n"+
			"WHERE segments.date >= '%s'\n"+
			"  AND segments.date <= '%s'\n"+
			"ORDER BY segments.date",
		w.Start, w.End)
}

// GAQLResult is one row of a googleAds:search response.
type GAQLResult struct {
	Segments struct {
		Date string `json:"date"`
	} `json:"segments"`
	Metrics struct {
		Impressions string `json:"impressions"`
		Clicks      string `json:"clicks"`
		CostMicros  string `json:"costMicros"`
	} `json:"metrics"`
}

// Search pages through the GAQL search endpoint.
func (g *GoogleAds) Search(ctx context.Context, accessToken, gaql string) ([]GAQLResult, error) {
	base := g.baseURL
	if base == "" {
		base = "https://googleads.googleapis.com"
	}
	endpoint := fmt.Sprintf("%s/v%s/customers/%s/googleAds:search", base, g.cfg.APIVersion, g.cfg.CustomerID)

	hdr := http.Header{}
	hdr.Set("Authorization", "Bearer "+accessToken)
	hdr.Set("developer-token", g.cfg.DeveloperToken)
	hdr.Set("Content-Type", "application/json")
	if g.cfg.LoginCustomerID != "" {
		hdr.Set("login-customer-id", g.cfg.LoginCustomerID)
	}

	var results []GAQLResult
	pageToken := ""
	for {
		reqBody := map[string]any{"query": gaql}
		if pageToken != "" {
			reqBody["pageToken"] = pageToken
		}
		body, err := transport.JSONBody(reqBody)
		if err != nil {
			return nil, err
		}

		var resp struct {
			Results       []GAQLResult `json:"results"`
			NextPageToken string       `json:"nextPageToken"`
		}
		err = g.tr.DoJSON(ctx, transport.Request{
			Method: http.MethodPost,
			URL:    endpoint,
			Header: hdr,
			Body:   body,
		}, &resp)
		if err != nil {
			return nil, err
		}

		results = append(results, resp.Results...)
		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}
	logging.Info().Int("rows", len(results)).Msg("Google Ads results fetched")
	return results, nil
}

// GAQLResultsToRows collapses results into one sheet row per date, cost
// converted from micros to currency units.
func GAQLResultsToRows(items []GAQLResult) []map[string]cell.Cell {
	type gadsDay struct {
		impressions int
		clicks      int
		costUnits   float64
	}
	byDate := make(map[string]*gadsDay)
	for _, it := range items {
		date := it.Segments.Date
		if date == "" {
			continue
		}
		acc := byDate[date]
		if acc == nil {
			acc = &gadsDay{}
			byDate[date] = acc
		}
		acc.impressions += insightInt(it.Metrics.Impressions)
		acc.clicks += insightInt(it.Metrics.Clicks)
		acc.costUnits += insightFloat(it.Metrics.CostMicros) / 1e6
	}

	rows := make([]map[string]cell.Cell, 0, len(byDate))
	for _, date := range sortedKeys(byDate) {
		acc := byDate[date]
		rows = append(rows, map[string]cell.Cell{
			"Fecha":           cell.Text(date),
			"Impresiones":     cell.Number(float64(acc.impressions)),
			"Visitas":         cell.Number(float64(acc.clicks)),
			"Inversión - CLP": cell.Number(acc.costUnits),
		})
	}
	return rows
}
