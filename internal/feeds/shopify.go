// Metrics Report - Incremental Feed Reconciliation for Commerce Metrics
// Copyright 2026 Notorios Big
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/notorios-big/metrics-report

// Package feeds holds the vendor API collaborators: Shopify Admin
// GraphQL, Meta Graph insights, Google Ads GAQL and Klaviyo metric
// aggregates. Each feed fetches raw records for a date window and shapes
// them into sheet row maps; watermarks and writes stay with the caller.
package feeds

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/notorios-big/metrics-report/internal/cell"
	"github.com/notorios-big/metrics-report/internal/config"
	"github.com/notorios-big/metrics-report/internal/dates"
	"github.com/notorios-big/metrics-report/internal/logging"
	"github.com/notorios-big/metrics-report/internal/table"
	"github.com/notorios-big/metrics-report/internal/transport"
)

const shopifyOrdersQuery = `
query OrdersByDay($query: String!, $cursor: String) {
  orders(first: 250, after: $cursor, query: $query, sortKey: CREATED_AT) {
    pageInfo { hasNextPage endCursor }
    edges {
      cursor
      node {
        id
        createdAt
        email
        phone
        currentTotalDiscountsSet { shopMoney { amount currencyCode } }
        totalDiscountsSet        { shopMoney { amount currencyCode } }
        currentTotalPriceSet { shopMoney { amount currencyCode } }
        totalPriceSet        { shopMoney { amount currencyCode } }
        currentSubtotalPriceSet { shopMoney { amount currencyCode } }
        subtotalPriceSet        { shopMoney { amount currencyCode } }
        customer { id email numberOfOrders displayName firstName lastName phone }
        billingAddress { phone }
        shippingAddress { phone }
      }
    }
  }
}`

// Money is a single shop-currency amount. Amounts arrive as decimal
// strings on the GraphQL wire.
type Money struct {
	Amount       string `json:"amount"`
	CurrencyCode string `json:"currencyCode"`
}

// MoneyBag wraps the shopMoney leg of a Shopify price set.
type MoneyBag struct {
	ShopMoney *Money `json:"shopMoney"`
}

// FlexInt decodes GraphQL fields that arrive as either a JSON number or
// a numeric string (Shopify serializes UnsignedInt64 as a string).
type FlexInt struct {
	Value int
	Valid bool
}

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexInt) UnmarshalJSON(data []byte) error {
	*f = FlexInt{}
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch t := raw.(type) {
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return nil
		}
		f.Value, f.Valid = int(t), true
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return nil
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil
		}
		f.Value, f.Valid = n, true
	}
	return nil
}

// OrderCustomer is the customer leg of an order.
type OrderCustomer struct {
	ID             string  `json:"id"`
	Email          string  `json:"email"`
	NumberOfOrders FlexInt `json:"numberOfOrders"`
	DisplayName    string  `json:"displayName"`
	FirstName      string  `json:"firstName"`
	LastName       string  `json:"lastName"`
	Phone          string  `json:"phone"`
}

// Address carries the only address field we read.
type Address struct {
	Phone string `json:"phone"`
}

// Order is one Shopify order node.
type Order struct {
	ID                       string         `json:"id"`
	CreatedAt                string         `json:"createdAt"`
	Email                    string         `json:"email"`
	Phone                    string         `json:"phone"`
	CurrentTotalDiscountsSet *MoneyBag      `json:"currentTotalDiscountsSet"`
	TotalDiscountsSet        *MoneyBag      `json:"totalDiscountsSet"`
	CurrentTotalPriceSet     *MoneyBag      `json:"currentTotalPriceSet"`
	TotalPriceSet            *MoneyBag      `json:"totalPriceSet"`
	CurrentSubtotalPriceSet  *MoneyBag      `json:"currentSubtotalPriceSet"`
	SubtotalPriceSet         *MoneyBag      `json:"subtotalPriceSet"`
	Customer                 *OrderCustomer `json:"customer"`
	BillingAddress           *Address       `json:"billingAddress"`
	ShippingAddress          *Address       `json:"shippingAddress"`
}

func bagAmount(bag *MoneyBag) (float64, string, bool) {
	if bag == nil || bag.ShopMoney == nil {
		return 0, "", false
	}
	amount, err := strconv.ParseFloat(strings.TrimSpace(bag.ShopMoney.Amount), 64)
	if err != nil {
		amount = 0
	}
	return amount, bag.ShopMoney.CurrencyCode, true
}

// PickMoney returns the order's recorded gross amount and currency. A
// current total reflects refunds and edits, so it wins over the original
// total, and totals win over subtotals. Defaults to 0 CLP when no price
// set is present.
func PickMoney(o *Order) (float64, string) {
	for _, bag := range []*MoneyBag{
		o.CurrentTotalPriceSet,
		o.TotalPriceSet,
		o.CurrentSubtotalPriceSet,
		o.SubtotalPriceSet,
	} {
		if amount, currency, ok := bagAmount(bag); ok {
			if currency == "" {
				currency = "CLP"
			}
			return amount, currency
		}
	}
	return 0, "CLP"
}

// PickDiscount returns the order's discount amount, preferring the
// current set over the original.
func PickDiscount(o *Order) float64 {
	for _, bag := range []*MoneyBag{o.CurrentTotalDiscountsSet, o.TotalDiscountsSet} {
		if amount, _, ok := bagAmount(bag); ok {
			return amount
		}
	}
	return 0
}

// CustomerEmail returns the order's customer email, falling back to the
// order-level email.
func (o *Order) CustomerEmail() string {
	if o.Customer != nil && o.Customer.Email != "" {
		return o.Customer.Email
	}
	return o.Email
}

// CustomerName builds a display name from the customer's displayName or
// first/last name parts.
func (o *Order) CustomerName() string {
	if o.Customer == nil {
		return ""
	}
	if name := strings.TrimSpace(o.Customer.DisplayName); name != "" {
		return name
	}
	var parts []string
	for _, p := range []string{o.Customer.FirstName, o.Customer.LastName} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

// CustomerPhone returns the first non-empty phone among customer, order
// and shipping/billing addresses.
func (o *Order) CustomerPhone() string {
	candidates := []string{o.Phone}
	if o.Customer != nil {
		candidates = []string{o.Customer.Phone, o.Phone}
	}
	if o.ShippingAddress != nil {
		candidates = append(candidates, o.ShippingAddress.Phone)
	}
	if o.BillingAddress != nil {
		candidates = append(candidates, o.BillingAddress.Phone)
	}
	for _, c := range candidates {
		if c = strings.TrimSpace(c); c != "" {
			return c
		}
	}
	return ""
}

// IsReturning reports whether the order belongs to a repeat customer
// (lifetime order count of two or more).
func (o *Order) IsReturning() bool {
	return o.Customer != nil && o.Customer.NumberOfOrders.Valid && o.Customer.NumberOfOrders.Value >= 2
}

// RoundHalfAwayFromZero rounds to the nearest integer, ties away from
// zero, matching how the display money columns have always been rounded.
func RoundHalfAwayFromZero(v float64) int {
	if v >= 0 {
		return int(math.Floor(v + 0.5))
	}
	return int(math.Ceil(v - 0.5))
}

// BuildSearchQuery builds the orders search string for an inclusive
// window: paid, non-cancelled orders created within it.
func BuildSearchQuery(w table.Window) string {
	return strings.Join([]string{
		"created_at:>=" + w.Start.String(),
		"created_at:<=" + w.End.String(),
		"financial_status:paid",
		"-status:cancelled",
	}, " ")
}

// BuildBootstrapQuery builds the search string for a full-history
// backfill up to and including end.
func BuildBootstrapQuery(end dates.Date) string {
	return strings.Join([]string{
		"created_at:<=" + end.String(),
		"financial_status:paid",
		"-status:cancelled",
	}, " ")
}

type graphqlError struct {
	Message string `json:"message"`
}

func graphqlErrorf(api string, errs []graphqlError) error {
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Message
	}
	return fmt.Errorf("%s GraphQL errors: %s", api, strings.Join(msgs, "; "))
}

// Shopify is the Admin GraphQL feed client.
type Shopify struct {
	cfg config.ShopifyConfig
	tr  *transport.Client

	// baseURL overrides the shop endpoint in tests.
	baseURL string
}

// NewShopify builds the feed client. The access token is required.
func NewShopify(cfg config.ShopifyConfig, tr *transport.Client) (*Shopify, error) {
	if cfg.ShopDomain == "" {
		return nil, fmt.Errorf("shopify: missing shop_domain")
	}
	if cfg.AccessToken == "" {
		return nil, fmt.Errorf("shopify: missing access token (set SHOPIFY_ACCESS_TOKEN)")
	}
	return &Shopify{cfg: cfg, tr: tr}, nil
}

func (s *Shopify) endpoint() string {
	if s.baseURL != "" {
		return s.baseURL
	}
	return fmt.Sprintf("https://%s/admin/api/%s/graphql.json", s.cfg.ShopDomain, s.cfg.APIVersion)
}

func (s *Shopify) graphql(ctx context.Context, query string, variables map[string]any, out any) error {
	body, err := transport.JSONBody(map[string]any{"query": query, "variables": variables})
	if err != nil {
		return err
	}
	hdr := http.Header{}
	hdr.Set("Content-Type", "application/json")
	hdr.Set("X-Shopify-Access-Token", s.cfg.AccessToken)
	return s.tr.DoJSON(ctx, transport.Request{
		Method: http.MethodPost,
		URL:    s.endpoint(),
		Header: hdr,
		Body:   body,
	}, out)
}

// FetchOrders pages through every order matching the search query.
func (s *Shopify) FetchOrders(ctx context.Context, query string) ([]Order, error) {
	var out []Order
	var cursor *string

	for {
		var resp struct {
			Errors []graphqlError `json:"errors"`
			Data   struct {
				Orders struct {
					PageInfo struct {
						HasNextPage bool   `json:"hasNextPage"`
						EndCursor   string `json:"endCursor"`
					} `json:"pageInfo"`
					Edges []struct {
						Node Order `json:"node"`
					} `json:"edges"`
				} `json:"orders"`
			} `json:"data"`
		}
		variables := map[string]any{"query": query, "cursor": cursor}
		if err := s.graphql(ctx, shopifyOrdersQuery, variables, &resp); err != nil {
			return nil, err
		}
		if len(resp.Errors) > 0 {
			return nil, graphqlErrorf("shopify", resp.Errors)
		}

		for _, edge := range resp.Data.Orders.Edges {
			out = append(out, edge.Node)
		}

		page := resp.Data.Orders.PageInfo
		if !page.HasNextPage || page.EndCursor == "" {
			break
		}
		cursor = &page.EndCursor
	}
	return out, nil
}

// dayTotals accumulates one day of the purchase sheet.
type dayTotals struct {
	ordersNew           int
	ordersReturning     int
	revenueNewRaw       float64
	revenueReturningRaw float64
}

// OrdersToDayRows buckets orders into reporting-timezone days and emits
// one row per day of the window, zero-filled for days without orders.
// Revenue is net of the per-order deduction and the VAT factor, rounded
// half away from zero.
func OrdersToDayRows(orders []Order, w table.Window, loc *time.Location, fixedDeduction, vatFactor float64) []map[string]cell.Cell {
	byDay := make(map[dates.Date]*dayTotals)
	for i := range orders {
		o := &orders[i]
		if o.CreatedAt == "" {
			continue
		}
		ts, err := dates.ParseISODateTime(o.CreatedAt)
		if err != nil {
			continue
		}
		day := dates.DayIn(ts, loc)
		amount, _ := PickMoney(o)

		acc := byDay[day]
		if acc == nil {
			acc = &dayTotals{}
			byDay[day] = acc
		}
		if o.IsReturning() {
			acc.ordersReturning++
			acc.revenueReturningRaw += amount
		} else {
			acc.ordersNew++
			acc.revenueNewRaw += amount
		}
	}

	rows := make([]map[string]cell.Cell, 0, w.Days())
	for _, day := range dates.RangeInclusive(w.Start, w.End) {
		acc := byDay[day]
		if acc == nil {
			acc = &dayTotals{}
		}
		revenueNew := RoundHalfAwayFromZero((acc.revenueNewRaw - fixedDeduction*float64(acc.ordersNew)) / vatFactor)
		revenueReturning := RoundHalfAwayFromZero((acc.revenueReturningRaw - fixedDeduction*float64(acc.ordersReturning)) / vatFactor)
		rows = append(rows, map[string]cell.Cell{
			"Día":               cell.Text(day.String()),
			"orders_new":        cell.Number(float64(acc.ordersNew)),
			"orders_returning":  cell.Number(float64(acc.ordersReturning)),
			"revenue_new":       cell.Number(float64(revenueNew)),
			"revenue_returning": cell.Number(float64(revenueReturning)),
		})
	}
	logging.Info().Int("rows", len(rows)).Msg("Shopify orders aggregated into day rows")
	return rows
}

// sortedKeys is shared by the row shapers that emit date-ordered output.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
