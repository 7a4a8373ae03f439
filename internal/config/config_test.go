// Metrics Report - Incremental Feed Reconciliation for Commerce Metrics
// Copyright 2026 Notorios Big
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/notorios-big/metrics-report

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	assert.Equal(t, "America/Santiago", cfg.Timezone)
	assert.Equal(t, "CONSOLIDADO", cfg.Sheets.CustomersSheet)
	assert.Equal(t, 1.19, cfg.Shopify.VATFactor)
	assert.Equal(t, 0.0, cfg.Shopify.FixedDeductionPerOrder)
	assert.Equal(t, "2025-11-01", cfg.Sync.BackfillFloor)
	assert.Equal(t, "sqlite", cfg.Webhook.Engine)
	assert.Equal(t, 7, cfg.Webhook.RetentionDays)
	assert.Empty(t, cfg.Sheets.SpreadsheetID, "destination IDs must not ship as defaults")
	assert.Empty(t, cfg.Shopify.ShopDomain)
}

func TestValidateRequiresSpreadsheetID(t *testing.T) {
	cfg := Defaults()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SpreadsheetID")
}

func TestValidateEngineCrossFields(t *testing.T) {
	cfg := Defaults()
	cfg.Sheets.SpreadsheetID = "sheet-1"

	cfg.Webhook.Engine = "postgres"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "webhook.dsn")

	cfg.Webhook.DSN = "postgres://localhost/webhooks"
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadTimezone(t *testing.T) {
	cfg := Defaults()
	cfg.Sheets.SpreadsheetID = "sheet-1"
	cfg.Timezone = "Mars/Olympus"
	assert.Error(t, cfg.Validate())
}

func TestCustomersSpreadsheetFallback(t *testing.T) {
	cfg := Defaults()
	cfg.Sheets.SpreadsheetID = "main"
	assert.Equal(t, "main", cfg.CustomersSpreadsheet())

	cfg.Sheets.CustomersSpreadsheetID = "other"
	assert.Equal(t, "other", cfg.CustomersSpreadsheet())
}

func TestLoadLayersFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "metrics.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
sheets:
  spreadsheet_id: from-file
shopify:
  shop_domain: example.myshopify.com
`), 0o600))

	t.Setenv("METRICS_SHOPIFY_ACCESS_TOKEN", "shpat_test")
	t.Setenv("SHOPIFY_WEBHOOK_SECRET", "legacy-secret")
	t.Setenv("METRICS_KLAVIYO_BY", "$attributed_message,$flow")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-file", cfg.Sheets.SpreadsheetID)
	assert.Equal(t, "example.myshopify.com", cfg.Shopify.ShopDomain)
	assert.Equal(t, "shpat_test", cfg.Shopify.AccessToken)
	assert.Equal(t, "legacy-secret", cfg.Webhook.Secret)
	assert.Equal(t, []string{"$attributed_message", "$flow"}, cfg.Klaviyo.By)
}

func TestLoadReadsOAuthRefreshTokenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "metrics.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
sheets:
  spreadsheet_id: from-file
`), 0o600))

	// The name the oauth google-ads command persists.
	t.Setenv("GOOGLE_ADS_OAUTH_REFRESH_TOKEN", "1//refresh")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "1//refresh", cfg.GoogleAds.OAuthRefreshToken)
}

func TestLoadOAuthRefreshTokenCanonicalNameWins(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "metrics.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
sheets:
  spreadsheet_id: from-file
`), 0o600))

	t.Setenv("GOOGLE_ADS_OAUTH_REFRESH_TOKEN", "1//canonical")
	t.Setenv("GOOGLE_ADS_REFRESH_TOKEN", "1//alias")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "1//canonical", cfg.GoogleAds.OAuthRefreshToken)
}

func TestEnvTransform(t *testing.T) {
	assert.Equal(t, "shopify.access_token", envTransform("METRICS_SHOPIFY_ACCESS_TOKEN"))
	assert.Equal(t, "google_ads.developer_token", envTransform("METRICS_GOOGLE_ADS_DEVELOPER_TOKEN"))
	assert.Equal(t, "timezone", envTransform("METRICS_TIMEZONE"))
}
