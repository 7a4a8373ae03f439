// Metrics Report - Incremental Feed Reconciliation for Commerce Metrics
// Copyright 2026 Notorios Big
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/notorios-big/metrics-report

package feeds

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notorios-big/metrics-report/internal/config"
	"github.com/notorios-big/metrics-report/internal/dates"
	"github.com/notorios-big/metrics-report/internal/table"
	"github.com/notorios-big/metrics-report/internal/transport"
)

func testTransport() *transport.Client {
	return transport.New(transport.Config{
		Name:           "feeds-test",
		Attempts:       1,
		RequestsPerSec: 1000,
	})
}

func bag(amount string) *MoneyBag {
	return &MoneyBag{ShopMoney: &Money{Amount: amount, CurrencyCode: "CLP"}}
}

func TestPickMoneyPrefersCurrentTotal(t *testing.T) {
	o := &Order{
		CurrentTotalPriceSet:    bag("900"),
		TotalPriceSet:           bag("1000"),
		CurrentSubtotalPriceSet: bag("800"),
		SubtotalPriceSet:        bag("850"),
	}
	amount, currency := PickMoney(o)
	assert.Equal(t, 900.0, amount)
	assert.Equal(t, "CLP", currency)

	// A refunded-down current total wins over the original recording.
	o = &Order{TotalPriceSet: bag("1000"), SubtotalPriceSet: bag("850")}
	amount, _ = PickMoney(o)
	assert.Equal(t, 1000.0, amount)

	// Totals win over subtotals.
	o = &Order{CurrentSubtotalPriceSet: bag("800")}
	amount, _ = PickMoney(o)
	assert.Equal(t, 800.0, amount)

	amount, currency = PickMoney(&Order{})
	assert.Equal(t, 0.0, amount)
	assert.Equal(t, "CLP", currency)
}

func TestPickDiscount(t *testing.T) {
	o := &Order{
		CurrentTotalDiscountsSet: bag("150"),
		TotalDiscountsSet:        bag("200"),
	}
	assert.Equal(t, 150.0, PickDiscount(o))
	assert.Equal(t, 200.0, PickDiscount(&Order{TotalDiscountsSet: bag("200")}))
	assert.Equal(t, 0.0, PickDiscount(&Order{}))
}

func TestFlexInt(t *testing.T) {
	var got struct {
		N FlexInt `json:"n"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"n": 3}`), &got))
	assert.True(t, got.N.Valid)
	assert.Equal(t, 3, got.N.Value)

	require.NoError(t, json.Unmarshal([]byte(`{"n": "12"}`), &got))
	assert.True(t, got.N.Valid)
	assert.Equal(t, 12, got.N.Value)

	require.NoError(t, json.Unmarshal([]byte(`{"n": null}`), &got))
	assert.False(t, got.N.Valid)

	require.NoError(t, json.Unmarshal([]byte(`{"n": "junk"}`), &got))
	assert.False(t, got.N.Valid)
}

func TestRoundHalfAwayFromZero(t *testing.T) {
	assert.Equal(t, 3, RoundHalfAwayFromZero(2.5))
	assert.Equal(t, 2, RoundHalfAwayFromZero(2.4))
	assert.Equal(t, -3, RoundHalfAwayFromZero(-2.5))
	assert.Equal(t, -2, RoundHalfAwayFromZero(-2.4))
	assert.Equal(t, 0, RoundHalfAwayFromZero(0))
}

func TestBuildSearchQuery(t *testing.T) {
	w := table.Window{Start: dates.MustParseYMD("2025-02-01"), End: dates.MustParseYMD("2025-02-10")}
	assert.Equal(t,
		"created_at:>=2025-02-01 created_at:<=2025-02-10 financial_status:paid -status:cancelled",
		BuildSearchQuery(w))
	assert.Equal(t,
		"created_at:<=2025-02-10 financial_status:paid -status:cancelled",
		BuildBootstrapQuery(w.End))
}

func TestCustomerPickers(t *testing.T) {
	o := &Order{
		Email: "Fallback@Example.com",
		Customer: &OrderCustomer{
			FirstName: " Ana ",
			LastName:  "Rojas",
		},
		ShippingAddress: &Address{Phone: "+56 9 1234 5678"},
	}
	assert.Equal(t, "Fallback@Example.com", o.CustomerEmail())
	assert.Equal(t, "Ana Rojas", o.CustomerName())
	assert.Equal(t, "+56 9 1234 5678", o.CustomerPhone())

	o.Customer.DisplayName = "Ana R."
	assert.Equal(t, "Ana R.", o.CustomerName())
	o.Customer.Email = "ana@example.com"
	assert.Equal(t, "ana@example.com", o.CustomerEmail())
	o.Customer.Phone = "+56 9 0000 0000"
	assert.Equal(t, "+56 9 0000 0000", o.CustomerPhone())
}

func TestIsReturning(t *testing.T) {
	assert.False(t, (&Order{}).IsReturning())
	assert.False(t, (&Order{Customer: &OrderCustomer{NumberOfOrders: FlexInt{Value: 1, Valid: true}}}).IsReturning())
	assert.True(t, (&Order{Customer: &OrderCustomer{NumberOfOrders: FlexInt{Value: 2, Valid: true}}}).IsReturning())
}

func TestOrdersToDayRows(t *testing.T) {
	loc := time.UTC
	w := table.Window{Start: dates.MustParseYMD("2025-02-01"), End: dates.MustParseYMD("2025-02-03")}
	orders := []Order{
		{CreatedAt: "2025-02-01T10:00:00Z", CurrentTotalPriceSet: bag("1190")},
		{CreatedAt: "2025-02-01T12:00:00Z", CurrentTotalPriceSet: bag("2380"),
			Customer: &OrderCustomer{NumberOfOrders: FlexInt{Value: 3, Valid: true}}},
		{CreatedAt: "invalid", CurrentTotalPriceSet: bag("9999")},
	}

	rows := OrdersToDayRows(orders, w, loc, 0, 1.19)
	require.Len(t, rows, 3, "one row per window day, zero-filled")

	day1 := rows[0]
	assert.Equal(t, "2025-02-01", day1["Día"].Str)
	assert.Equal(t, 1.0, day1["orders_new"].Num)
	assert.Equal(t, 1.0, day1["orders_returning"].Num)
	assert.Equal(t, 1000.0, day1["revenue_new"].Num)
	assert.Equal(t, 2000.0, day1["revenue_returning"].Num)

	day2 := rows[1]
	assert.Equal(t, "2025-02-02", day2["Día"].Str)
	assert.Equal(t, 0.0, day2["orders_new"].Num)
	assert.Equal(t, 0.0, day2["revenue_returning"].Num)
}

func TestFetchOrdersPaginates(t *testing.T) {
	var bodies []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "token-1", r.Header.Get("X-Shopify-Access-Token"))
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		require.NoError(t, json.Unmarshal(raw, &body))
		bodies = append(bodies, body)

		page := len(bodies)
		id := "gid-2"
		if page == 1 {
			id = "gid-1"
		}
		resp := map[string]any{
			"data": map[string]any{
				"orders": map[string]any{
					"pageInfo": map[string]any{"hasNextPage": page == 1, "endCursor": "cur-1"},
					"edges": []map[string]any{
						{"node": map[string]any{"id": id, "createdAt": "2025-02-01T00:00:00Z"}},
					},
				},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	s, err := NewShopify(config.ShopifyConfig{
		ShopDomain:  "example.myshopify.com",
		APIVersion:  "2024-10",
		AccessToken: "token-1",
	}, testTransport())
	require.NoError(t, err)
	s.baseURL = srv.URL

	orders, err := s.FetchOrders(context.Background(), "financial_status:paid")
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, "gid-1", orders[0].ID)
	assert.Equal(t, "gid-2", orders[1].ID)

	// Second page carries the cursor from the first.
	vars := bodies[1]["variables"].(map[string]any)
	assert.Equal(t, "cur-1", vars["cursor"])
}

func TestFetchOrdersSurfacesGraphQLErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"errors":[{"message":"query too deep"}]}`))
	}))
	defer srv.Close()

	s, err := NewShopify(config.ShopifyConfig{
		ShopDomain:  "example.myshopify.com",
		APIVersion:  "2024-10",
		AccessToken: "token-1",
	}, testTransport())
	require.NoError(t, err)
	s.baseURL = srv.URL

	_, err = s.FetchOrders(context.Background(), "q")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "query too deep")
}

func TestNewShopifyRequiresCredentials(t *testing.T) {
	_, err := NewShopify(config.ShopifyConfig{ShopDomain: "x"}, testTransport())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access token")

	_, err = NewShopify(config.ShopifyConfig{AccessToken: "t"}, testTransport())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "shop_domain")
}
