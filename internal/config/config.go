// Metrics Report - Incremental Feed Reconciliation for Commerce Metrics
// Copyright 2026 Notorios Big
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/notorios-big/metrics-report

// Package config loads and validates configuration for the reconciliation
// pipeline and the webhook daemon. Sources are layered via Koanf v2:
// struct defaults, then an optional YAML file, then environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the root configuration for both binaries.
type Config struct {
	// Timezone is the reporting timezone; feed windows end at yesterday
	// in this zone and vendor timestamps are bucketed into its days.
	Timezone string `koanf:"timezone" validate:"required"`

	Sheets    SheetsConfig    `koanf:"sheets"`
	Shopify   ShopifyConfig   `koanf:"shopify"`
	Meta      MetaConfig      `koanf:"meta"`
	GoogleAds GoogleAdsConfig `koanf:"google_ads"`
	Klaviyo   KlaviyoConfig   `koanf:"klaviyo"`
	Sync      SyncConfig      `koanf:"sync"`
	Webhook   WebhookConfig   `koanf:"webhook"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// SheetsConfig identifies the destination spreadsheet and its sheets.
type SheetsConfig struct {
	// SpreadsheetID is the destination spreadsheet. No default is shipped;
	// the deployment must configure it.
	SpreadsheetID string `koanf:"spreadsheet_id" validate:"required"`

	PurchaseSheet string `koanf:"purchase_sheet"`
	MetaSheet     string `koanf:"meta_sheet"`
	AdsSheet      string `koanf:"ads_sheet"`
	GadsSheet     string `koanf:"gads_sheet"`
	KlaviyoSheet  string `koanf:"klaviyo_sheet"`

	// FunnelSheet enables the ShopifyQL funnel task when non-empty.
	FunnelSheet string `koanf:"funnel_sheet"`

	// CustomersSpreadsheetID holds the consolidated customer sheet.
	// Falls back to SpreadsheetID when empty.
	CustomersSpreadsheetID string `koanf:"customers_spreadsheet_id"`
	CustomersSheet         string `koanf:"customers_sheet"`

	// CredentialsFile is the service-account JSON path. When empty the
	// client falls back to GOOGLE_APPLICATION_CREDENTIALS and then to a
	// gs_cred.json in the working directory.
	CredentialsFile string `koanf:"credentials_file"`

	// DateHeaders lists the header aliases recognized as the date column,
	// in match priority order. Covers both deployment locales.
	DateHeaders         []string `koanf:"date_headers"`
	PurchaseDateHeaders []string `koanf:"purchase_date_headers"`
}

// ShopifyConfig configures the Shopify Admin GraphQL feed.
type ShopifyConfig struct {
	ShopDomain  string `koanf:"shop_domain"`
	APIVersion  string `koanf:"api_version"`
	AccessToken string `koanf:"access_token"`

	// VATFactor divides net revenue out of recorded gross amounts.
	VATFactor float64 `koanf:"vat_factor" validate:"gt=0"`

	// FixedDeductionPerOrder is subtracted from each order's gross amount
	// before the VAT division (per-order processing cost).
	FixedDeductionPerOrder float64 `koanf:"fixed_deduction_per_order" validate:"gte=0"`

	// WebhookCallbackBase is the public base URL webhook subscriptions
	// point at (register-webhooks command).
	WebhookCallbackBase string `koanf:"webhook_callback_base"`
}

// MetaConfig configures the Meta Graph insights feeds.
type MetaConfig struct {
	APIVersion  string `koanf:"api_version"`
	AdAccountID string `koanf:"ad_account_id"`
	AccessToken string `koanf:"access_token"`
}

// GoogleAdsConfig configures the Google Ads GAQL feed.
type GoogleAdsConfig struct {
	APIVersion        string `koanf:"api_version"`
	CustomerID        string `koanf:"customer_id"`
	LoginCustomerID   string `koanf:"login_customer_id"`
	DeveloperToken    string `koanf:"developer_token"`
	OAuthClientID     string `koanf:"oauth_client_id"`
	OAuthClientSecret string `koanf:"oauth_client_secret"`
	OAuthRefreshToken string `koanf:"oauth_refresh_token"`
}

// KlaviyoConfig configures the Klaviyo metric-aggregates feed.
type KlaviyoConfig struct {
	Revision   string   `koanf:"revision"`
	MetricID   string   `koanf:"metric_id"`
	By         []string `koanf:"by"`
	PrivateKey string   `koanf:"private_key"`
}

// SyncConfig holds pipeline-wide knobs.
type SyncConfig struct {
	// BackfillFloor is where floor-configured feeds (Meta Ads) start when
	// their sheet has no watermark yet. ISO YYYY-MM-DD.
	BackfillFloor string `koanf:"backfill_floor" validate:"required"`

	RetryAttempts int           `koanf:"retry_attempts" validate:"gte=1"`
	RetryDelay    time.Duration `koanf:"retry_delay" validate:"gt=0"`
}

// WebhookConfig configures the webhook ingestion daemon.
type WebhookConfig struct {
	ListenAddr string `koanf:"listen_addr" validate:"required"`

	// Engine selects the idempotency store backend.
	Engine string `koanf:"engine" validate:"oneof=sqlite postgres"`

	// Path is the sqlite database file (engine=sqlite).
	Path string `koanf:"path"`

	// DSN is the postgres connection string (engine=postgres).
	DSN string `koanf:"dsn"`

	// Secret verifies X-Shopify-Hmac-Sha256 signatures. Empty skips
	// verification with a warning.
	Secret string `koanf:"secret"`

	RetentionDays int `koanf:"retention_days" validate:"gte=1"`

	RateLimitReqs   int           `koanf:"rate_limit_reqs" validate:"gte=1"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window" validate:"gt=0"`
	CORSOrigins     []string      `koanf:"cors_origins"`
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// CustomersSpreadsheet returns the spreadsheet holding the consolidated
// customer sheet, defaulting to the main spreadsheet.
func (c *Config) CustomersSpreadsheet() string {
	if c.Sheets.CustomersSpreadsheetID != "" {
		return c.Sheets.CustomersSpreadsheetID
	}
	return c.Sheets.SpreadsheetID
}

// Location resolves the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Validate checks struct tags plus cross-field constraints.
// Failures name the offending keys so they read as configuration errors.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		var errs validator.ValidationErrors
		if ok := isValidationErrors(err, &errs); ok {
			names := make([]string, 0, len(errs))
			for _, fe := range errs {
				names = append(names, fe.Namespace())
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(names, ", "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if _, err := c.Location(); err != nil {
		return err
	}
	if c.Webhook.Engine == "sqlite" && c.Webhook.Path == "" {
		return fmt.Errorf("invalid configuration: webhook.path is required for engine=sqlite")
	}
	if c.Webhook.Engine == "postgres" && c.Webhook.DSN == "" {
		return fmt.Errorf("invalid configuration: webhook.dsn is required for engine=postgres")
	}
	return nil
}

func isValidationErrors(err error, target *validator.ValidationErrors) bool {
	errs, ok := err.(validator.ValidationErrors)
	if ok {
		*target = errs
	}
	return ok
}
