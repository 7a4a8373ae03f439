// Metrics Report - Incremental Feed Reconciliation for Commerce Metrics
// Copyright 2026 Notorios Big
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/notorios-big/metrics-report

package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "METRICS_"

// legacyEnvMap maps flat legacy variable names (as used by the hosted
// deployment's .env files) onto config keys. These take effect only when
// set; METRICS_-prefixed names override them.
var legacyEnvMap = map[string]string{
	"SHOPIFY_ACCESS_TOKEN":           "shopify.access_token",
	"SHOPIFY_SHOP_DOMAIN":            "shopify.shop_domain",
	"SHOPIFY_WEBHOOK_SECRET":         "webhook.secret",
	"META_ACCESS_TOKEN":              "meta.access_token",
	"META_AD_ACCOUNT_ID":             "meta.ad_account_id",
	"KLAVIYO_PRIVATE_KEY":            "klaviyo.private_key",
	"KLAVIYO_METRIC_ID":              "klaviyo.metric_id",
	"GOOGLE_ADS_CUSTOMER_ID":         "google_ads.customer_id",
	"GOOGLE_ADS_LOGIN_CUSTOMER_ID":   "google_ads.login_customer_id",
	"GOOGLE_ADS_DEVELOPER_TOKEN":     "google_ads.developer_token",
	"GOOGLE_ADS_OAUTH_CLIENT_ID":     "google_ads.oauth_client_id",
	"GOOGLE_ADS_OAUTH_CLIENT_SECRET": "google_ads.oauth_client_secret",
	"GOOGLE_ADS_OAUTH_REFRESH_TOKEN": "google_ads.oauth_refresh_token",
	"GOOGLE_ADS_REFRESH_TOKEN":       "google_ads.oauth_refresh_token",
	"GOOGLE_APPLICATION_CREDENTIALS": "sheets.credentials_file",
	"REPORT_SPREADSHEET_ID":          "sheets.spreadsheet_id",
	"REPORT_TIMEZONE":                "timezone",
	"WEBHOOK_DB_PATH":                "webhook.path",
	"WEBHOOK_DB_DSN":                 "webhook.dsn",
}

// sliceFields are config keys whose env values are comma-separated lists.
var sliceFields = map[string]bool{
	"sheets.date_headers":          true,
	"sheets.purchase_date_headers": true,
	"klaviyo.by":                   true,
	"webhook.cors_origins":         true,
}

// Defaults returns the built-in configuration. Destination and credential
// identifiers ship empty and must come from the file or environment.
func Defaults() *Config {
	return &Config{
		Timezone: "America/Santiago",
		Sheets: SheetsConfig{
			PurchaseSheet:       "Compras",
			MetaSheet:           "Meta",
			AdsSheet:            "Ads",
			GadsSheet:           "Gads",
			KlaviyoSheet:        "Klaviyo",
			CustomersSheet:      "CONSOLIDADO",
			DateHeaders:         []string{"Fecha", "Día", "Dia"},
			PurchaseDateHeaders: []string{"Día", "Dia", "dia", "Fecha", "date"},
		},
		Shopify: ShopifyConfig{
			APIVersion: "2024-10",
			VATFactor:  1.19,
		},
		Meta: MetaConfig{
			APIVersion: "v23.0",
		},
		GoogleAds: GoogleAdsConfig{
			APIVersion: "21",
		},
		Klaviyo: KlaviyoConfig{
			Revision: "2025-07-15",
			By:       []string{"$attributed_message"},
		},
		Sync: SyncConfig{
			BackfillFloor: "2025-11-01",
			RetryAttempts: 3,
			RetryDelay:    time.Second,
		},
		Webhook: WebhookConfig{
			ListenAddr:      ":8787",
			Engine:          "sqlite",
			Path:            "webhooks.db",
			RetentionDays:   7,
			RateLimitReqs:   60,
			RateLimitWindow: time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration from defaults, an optional config file,
// and the environment, then validates it. path may be empty; the
// METRICS_CONFIG_PATH variable and a set of conventional locations are
// tried in that case.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Defaults(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	// Sorted so aliases resolve the same way every run: the first set
	// variable targeting a key wins (GOOGLE_ADS_OAUTH_REFRESH_TOKEN over
	// its short alias).
	names := make([]string, 0, len(legacyEnvMap))
	for name := range legacyEnvMap {
		names = append(names, name)
	}
	sort.Strings(names)
	applied := make(map[string]bool, len(names))
	for _, name := range names {
		key := legacyEnvMap[name]
		if applied[key] {
			continue
		}
		if val, ok := os.LookupEnv(name); ok && val != "" {
			if err := k.Set(key, val); err != nil {
				return nil, fmt.Errorf("applying %s: %w", name, err)
			}
			applied[key] = true
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	processSliceFields(k, &cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envTransform maps METRICS_SHOPIFY_ACCESS_TOKEN to shopify.access_token.
// Section names containing underscores (google_ads) are special-cased.
func envTransform(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
	for _, section := range []string{"google_ads", "sheets", "shopify", "meta", "klaviyo", "sync", "webhook", "logging"} {
		if strings.HasPrefix(s, section+"_") {
			return section + "." + strings.TrimPrefix(s, section+"_")
		}
	}
	return s
}

// processSliceFields re-splits comma-separated env values that koanf
// unmarshaled as single-element slices.
func processSliceFields(k *koanf.Koanf, cfg *Config) {
	for key := range sliceFields {
		raw := k.String(key)
		if raw == "" || !strings.Contains(raw, ",") {
			continue
		}
		parts := strings.Split(raw, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		switch key {
		case "sheets.date_headers":
			cfg.Sheets.DateHeaders = out
		case "sheets.purchase_date_headers":
			cfg.Sheets.PurchaseDateHeaders = out
		case "klaviyo.by":
			cfg.Klaviyo.By = out
		case "webhook.cors_origins":
			cfg.Webhook.CORSOrigins = out
		}
	}
}

// findConfigFile checks METRICS_CONFIG_PATH and conventional locations.
func findConfigFile() string {
	if p := os.Getenv("METRICS_CONFIG_PATH"); p != "" {
		return p
	}
	for _, p := range []string{"metrics.yaml", "config/metrics.yaml", "/etc/metrics-report/metrics.yaml"} {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
