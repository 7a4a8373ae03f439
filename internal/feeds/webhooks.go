// Metrics Report - Incremental Feed Reconciliation for Commerce Metrics
// Copyright 2026 Notorios Big
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/notorios-big/metrics-report

package feeds

import (
	"context"
	"fmt"
	"strings"

	"github.com/notorios-big/metrics-report/internal/logging"
)

const webhookCreateMutation = `
mutation webhookSubscriptionCreate($topic: WebhookSubscriptionTopic!, $webhookSubscription: WebhookSubscriptionInput!) {
  webhookSubscriptionCreate(topic: $topic, webhookSubscription: $webhookSubscription) {
    webhookSubscription { id }
    userErrors { field message }
  }
}`

// webhookTopics maps subscription topics to daemon endpoint paths. Cart
// creates and updates both land on the cart endpoint; the idempotency
// store collapses them per token.
var webhookTopics = []struct {
	Topic string
	Path  string
}{
	{"CARTS_CREATE", "/carts_created"},
	{"CARTS_UPDATE", "/carts_created"},
	{"CHECKOUTS_CREATE", "/checkout_created"},
}

// RegisterWebhooks subscribes the shop's cart and checkout topics to the
// webhook daemon at callbackBase. Per-topic failures are logged and
// counted, not fatal, so a rerun can fill in what a partial run missed.
func (s *Shopify) RegisterWebhooks(ctx context.Context, callbackBase string) error {
	if callbackBase == "" {
		return fmt.Errorf("shopify: missing webhook callback base URL")
	}
	callbackBase = strings.TrimRight(callbackBase, "/")

	failed := 0
	for _, t := range webhookTopics {
		callbackURL := callbackBase + t.Path

		var resp struct {
			Errors []graphqlError `json:"errors"`
			Data   struct {
				WebhookSubscriptionCreate struct {
					WebhookSubscription struct {
						ID string `json:"id"`
					} `json:"webhookSubscription"`
					UserErrors []struct {
						Field   []string `json:"field"`
						Message string   `json:"message"`
					} `json:"userErrors"`
				} `json:"webhookSubscriptionCreate"`
			} `json:"data"`
		}
		variables := map[string]any{
			"topic": t.Topic,
			"webhookSubscription": map[string]any{
				"callbackUrl": callbackURL,
				"format":      "JSON",
			},
		}
		if err := s.graphql(ctx, webhookCreateMutation, variables, &resp); err != nil {
			logging.Error().Str("topic", t.Topic).Err(err).Msg("Webhook subscription request failed")
			failed++
			continue
		}
		if len(resp.Errors) > 0 {
			logging.Error().Str("topic", t.Topic).Err(graphqlErrorf("shopify", resp.Errors)).
				Msg("Webhook subscription rejected")
			failed++
			continue
		}
		result := resp.Data.WebhookSubscriptionCreate
		if len(result.UserErrors) > 0 {
			logging.Error().
				Str("topic", t.Topic).
				Str("message", result.UserErrors[0].Message).
				Msg("Webhook subscription user error")
			failed++
			continue
		}
		logging.Info().
			Str("topic", t.Topic).
			Str("callback", callbackURL).
			Str("id", result.WebhookSubscription.ID).
			Msg("Registered webhook subscription")
	}

	if failed > 0 {
		return fmt.Errorf("shopify: %d of %d webhook subscription(s) failed", failed, len(webhookTopics))
	}
	return nil
}
