// Metrics Report - Incremental Feed Reconciliation for Commerce Metrics
// Copyright 2026 Notorios Big
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/notorios-big/metrics-report

// Command sync runs one reconciliation pass of every commerce feed into
// the report spreadsheet. Subcommands cover webhook subscription setup,
// counter inspection and the Google Ads OAuth bootstrap.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/notorios-big/metrics-report/internal/config"
	"github.com/notorios-big/metrics-report/internal/customer"
	"github.com/notorios-big/metrics-report/internal/feeds"
	"github.com/notorios-big/metrics-report/internal/logging"
	"github.com/notorios-big/metrics-report/internal/sheets"
	syncpkg "github.com/notorios-big/metrics-report/internal/sync"
	"github.com/notorios-big/metrics-report/internal/transport"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		logging.Err(err).Msg("Command failed")
		os.Exit(1)
	}
}

// setup loads the environment file, the configuration and the logger.
// Every subcommand starts here.
func setup(configPath string) (*config.Config, *time.Location, error) {
	// Existing environment always wins over .env contents.
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Logging.Level
	logCfg.Format = cfg.Logging.Format
	logCfg.Caller = cfg.Logging.Caller
	logging.Init(logCfg)

	loc, err := cfg.Location()
	if err != nil {
		return nil, nil, err
	}
	return cfg, loc, nil
}

// storeClients builds the spreadsheet clients sharing one token source.
// The customer sheet may live in a separate spreadsheet.
func storeClients(cfg *config.Config) (report, customers *sheets.Client, err error) {
	tr := transport.New(transport.Config{
		Name:         "sheets",
		Attempts:     cfg.Sync.RetryAttempts,
		InitialDelay: cfg.Sync.RetryDelay,
	})
	credPath, err := sheets.ResolveCredentialsFile(cfg.Sheets.CredentialsFile)
	if err != nil {
		return nil, nil, err
	}
	tokens, err := sheets.NewServiceAccountTokenSource(credPath, tr)
	if err != nil {
		return nil, nil, err
	}

	report = sheets.NewClient(cfg.Sheets.SpreadsheetID, tokens, tr)
	customers = report
	if cfg.CustomersSpreadsheet() != cfg.Sheets.SpreadsheetID {
		customers = sheets.NewClient(cfg.CustomersSpreadsheet(), tokens, tr)
	}
	return report, customers, nil
}

func buildDeps(cfg *config.Config, loc *time.Location) (syncpkg.Deps, error) {
	store, customerStore, err := storeClients(cfg)
	if err != nil {
		return syncpkg.Deps{}, err
	}
	feedTr := transport.New(transport.Config{
		Name:         "feeds",
		Attempts:     cfg.Sync.RetryAttempts,
		InitialDelay: cfg.Sync.RetryDelay,
	})

	return syncpkg.Deps{
		Store: store,
		Shopify: func() (syncpkg.ShopifyFeed, error) {
			s, err := feeds.NewShopify(cfg.Shopify, feedTr)
			if err != nil {
				return nil, err
			}
			return s, nil
		},
		Meta: func() (syncpkg.MetaFeed, error) {
			m, err := feeds.NewMeta(cfg.Meta, feedTr)
			if err != nil {
				return nil, err
			}
			return m, nil
		},
		GoogleAds: func() (syncpkg.GoogleAdsFeed, error) {
			g, err := feeds.NewGoogleAds(cfg.GoogleAds, feedTr)
			if err != nil {
				return nil, err
			}
			return g, nil
		},
		Klaviyo: func() (syncpkg.KlaviyoFeed, error) {
			k, err := feeds.NewKlaviyo(cfg.Klaviyo, cfg.Timezone, feedTr)
			if err != nil {
				return nil, err
			}
			return k, nil
		},
		Customers: func() (syncpkg.CustomerSyncer, error) {
			orders, err := feeds.NewShopify(cfg.Shopify, feedTr)
			if err != nil {
				return nil, err
			}
			return customer.NewSyncer(customerStore, orders, cfg, loc), nil
		},
	}, nil
}

func newRootCmd() *cobra.Command {
	var (
		configPath  string
		only        []string
		dryRun      bool
		checkSheets bool
	)

	cmd := &cobra.Command{
		Use:           "sync",
		Short:         "Reconcile commerce feeds into the report spreadsheet",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, loc, err := setup(configPath)
			if err != nil {
				return err
			}
			if err := validateOnly(only); err != nil {
				return err
			}

			if checkSheets {
				store, _, err := storeClients(cfg)
				if err != nil {
					return err
				}
				return checkSheetAccess(cmd.Context(), cfg, store)
			}

			deps, err := buildDeps(cfg, loc)
			if err != nil {
				return err
			}
			p := syncpkg.New(cfg, loc, deps)
			return p.Run(cmd.Context(), syncpkg.Options{Only: only, DryRun: dryRun})
		},
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file path (default: metrics.yaml lookup)")
	cmd.Flags().StringSliceVar(&only, "only", nil,
		fmt.Sprintf("Run only the named tasks (%v)", syncpkg.KnownTasks()))
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Compute and log writes without mutating the spreadsheet")
	cmd.Flags().BoolVar(&checkSheets, "check-sheets", false, "Only verify spreadsheet access and exit")

	cmd.AddCommand(newRegisterWebhooksCmd(&configPath))
	cmd.AddCommand(newCountsCmd(&configPath))
	cmd.AddCommand(newOAuthCmd())
	return cmd
}

func validateOnly(only []string) error {
	known := make(map[string]bool)
	for _, name := range syncpkg.KnownTasks() {
		known[name] = true
	}
	for _, name := range only {
		if !known[name] {
			return fmt.Errorf("unknown task %q (known: %v)", name, syncpkg.KnownTasks())
		}
	}
	return nil
}

func checkSheetAccess(ctx context.Context, cfg *config.Config, store *sheets.Client) error {
	names := []string{
		cfg.Sheets.PurchaseSheet,
		cfg.Sheets.MetaSheet,
		cfg.Sheets.AdsSheet,
		cfg.Sheets.GadsSheet,
		cfg.Sheets.KlaviyoSheet,
	}
	if cfg.Sheets.FunnelSheet != "" {
		names = append(names, cfg.Sheets.FunnelSheet)
	}
	for _, name := range names {
		header, err := store.GetHeader(ctx, name)
		if err != nil {
			return fmt.Errorf("sheet %q: %w", name, err)
		}
		logging.Info().Str("sheet", name).Int("columns", len(header)).Msg("Sheets OK")
	}
	return nil
}
