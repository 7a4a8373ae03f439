// Metrics Report - Incremental Feed Reconciliation for Commerce Metrics
// Copyright 2026 Notorios Big
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/notorios-big/metrics-report

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/notorios-big/metrics-report/internal/dates"
	"github.com/notorios-big/metrics-report/internal/dedup"
	"github.com/notorios-big/metrics-report/internal/feeds"
	"github.com/notorios-big/metrics-report/internal/logging"
	"github.com/notorios-big/metrics-report/internal/transport"
)

// newRegisterWebhooksCmd subscribes the shop's cart and checkout topics
// to the configured public callback base.
func newRegisterWebhooksCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "register-webhooks",
		Short: "Create Shopify webhook subscriptions for cart and checkout events",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := setup(*configPath)
			if err != nil {
				return err
			}
			if cfg.Shopify.WebhookCallbackBase == "" {
				return fmt.Errorf("shopify.webhook_callback_base is not configured")
			}
			tr := transport.New(transport.Config{Name: "shopify"})
			sp, err := feeds.NewShopify(cfg.Shopify, tr)
			if err != nil {
				return err
			}
			return sp.RegisterWebhooks(cmd.Context(), cfg.Shopify.WebhookCallbackBase)
		},
	}
}

// newCountsCmd prints webhook counters straight from the idempotency
// store, bypassing the daemon's read API.
func newCountsCmd(configPath *string) *cobra.Command {
	var startFlag, endFlag string

	cmd := &cobra.Command{
		Use:   "counts",
		Short: "Print per-day webhook counters from the idempotency store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, loc, err := setup(*configPath)
			if err != nil {
				return err
			}

			end := dates.TodayIn(loc)
			start := end.AddDays(-6)
			if startFlag != "" {
				d, ok := dates.ParseYMD(startFlag)
				if !ok {
					return fmt.Errorf("invalid --start date %q", startFlag)
				}
				start = d
			}
			if endFlag != "" {
				d, ok := dates.ParseYMD(endFlag)
				if !ok {
					return fmt.Errorf("invalid --end date %q", endFlag)
				}
				end = d
			}
			if start.After(end) {
				return fmt.Errorf("start %s is after end %s", start, end)
			}

			store, err := dedup.Open(cmd.Context(), dedup.Config{
				Engine: cfg.Webhook.Engine,
				Path:   cfg.Webhook.Path,
				DSN:    cfg.Webhook.DSN,
			})
			if err != nil {
				return err
			}
			defer store.Close()

			counts, err := store.Counts(cmd.Context(), start, end)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(counts)
		},
	}

	cmd.Flags().StringVar(&startFlag, "start", "", "Range start, YYYY-MM-DD (default: 6 days ago)")
	cmd.Flags().StringVar(&endFlag, "end", "", "Range end, YYYY-MM-DD (default: today)")
	return cmd
}

// newOAuthCmd groups interactive OAuth helpers for local development.
func newOAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "oauth",
		Short: "OAuth helpers (local dev)",
	}
	cmd.AddCommand(newGoogleAdsOAuthCmd())
	return cmd
}

func newGoogleAdsOAuthCmd() *cobra.Command {
	var (
		clientSecret string
		port         int
		envFile      string
		toStdout     bool
		force        bool
	)

	cmd := &cobra.Command{
		Use:   "google-ads",
		Short: "Create a Google Ads OAuth refresh token from a client_secret JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			secret, err := feeds.LoadOAuthClientSecret(clientSecret)
			if err != nil {
				return err
			}
			tr := transport.New(transport.Config{Name: "oauth", Timeout: 2 * time.Minute})
			token, err := feeds.GoogleAdsRefreshToken(cmd.Context(), secret, port, tr)
			if err != nil {
				return err
			}
			if toStdout {
				fmt.Fprintln(os.Stdout, token)
				return nil
			}
			if err := feeds.UpsertEnvVar(envFile, "GOOGLE_ADS_OAUTH_REFRESH_TOKEN", token, force); err != nil {
				return err
			}
			logging.Info().Str("env_file", envFile).Msg("Refresh token written")
			return nil
		},
	}

	cmd.Flags().StringVar(&clientSecret, "client-secret", "", "Path to the OAuth client_secret JSON (required)")
	cmd.Flags().IntVar(&port, "port", 8080, "Local callback port for the OAuth redirect")
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "Env file that receives GOOGLE_ADS_OAUTH_REFRESH_TOKEN")
	cmd.Flags().BoolVar(&toStdout, "stdout", false, "Print the refresh token instead of writing the env file")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing refresh token in the env file")
	_ = cmd.MarkFlagRequired("client-secret")
	return cmd
}
