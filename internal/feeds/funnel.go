// Metrics Report - Incremental Feed Reconciliation for Commerce Metrics
// Copyright 2026 Notorios Big
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/notorios-big/metrics-report

package feeds

import (
	"context"
	"fmt"

	"github.com/notorios-big/metrics-report/internal/cell"
	"github.com/notorios-big/metrics-report/internal/table"
)

const shopifyFunnelQuery = `
query ShopifyFunnel($query: String!) {
  shopifyqlQuery(query: $query) {
    __typename
    ... on TableResponse {
      tableData {
        columns { name dataType displayName }
        rowData
        unformattedData
      }
    }
    parseErrors {
      code
      message
    }
  }
}`

// FunnelDay is one day of cart-to-purchase session counts.
type FunnelDay struct {
	Day           string
	AddToCart     int
	BeginCheckout int
	Purchase      int
}

// FetchFunnelByDay runs the session-funnel ShopifyQL query over an
// inclusive window.
func (s *Shopify) FetchFunnelByDay(ctx context.Context, w table.Window) ([]FunnelDay, error) {
	shopifyql := fmt.Sprintf(
		"FROM products "+
			"SHOW sum(view_cart_sessions) AS add_to_cart, "+
			"sum(view_cart_checkout_sessions) AS begin_checkout, "+
			"sum(view_cart_checkout_purchase_sessions) AS purchase "+
			"GROUP BY day SINCE %s UNTIL %s ORDER BY day ASC",
		w.Start, w.End)

	var resp struct {
		Errors []graphqlError `json:"errors"`
		Data   struct {
			ShopifyQLQuery struct {
				TableData struct {
					Columns []struct {
						Name string `json:"name"`
					} `json:"columns"`
					RowData         [][]any `json:"rowData"`
					UnformattedData [][]any `json:"unformattedData"`
				} `json:"tableData"`
				ParseErrors []struct {
					Code    string `json:"code"`
					Message string `json:"message"`
				} `json:"parseErrors"`
			} `json:"shopifyqlQuery"`
		} `json:"data"`
	}
	variables := map[string]any{"query": shopifyql}
	if err := s.graphql(ctx, shopifyFunnelQuery, variables, &resp); err != nil {
		return nil, err
	}
	if len(resp.Errors) > 0 {
		return nil, graphqlErrorf("shopify", resp.Errors)
	}
	ql := resp.Data.ShopifyQLQuery
	if len(ql.ParseErrors) > 0 {
		return nil, fmt.Errorf("shopifyql parse error: %s (%s)", ql.ParseErrors[0].Message, ql.ParseErrors[0].Code)
	}

	colIdx := make(map[string]int, len(ql.TableData.Columns))
	for i, col := range ql.TableData.Columns {
		colIdx[col.Name] = i
	}
	raw := ql.TableData.UnformattedData
	if len(raw) == 0 {
		raw = ql.TableData.RowData
	}

	at := func(row []any, name string) any {
		idx, ok := colIdx[name]
		if !ok || idx >= len(row) {
			return nil
		}
		return row[idx]
	}

	out := make([]FunnelDay, 0, len(raw))
	for _, row := range raw {
		day, _ := at(row, "day").(string)
		if len(day) >= 10 {
			day = day[:10] // strip any time component
		}
		if day == "" {
			continue
		}
		entry := FunnelDay{Day: day}
		if n, ok := cell.CoerceInt(cell.FromAny(at(row, "add_to_cart"))); ok {
			entry.AddToCart = n
		}
		if n, ok := cell.CoerceInt(cell.FromAny(at(row, "begin_checkout"))); ok {
			entry.BeginCheckout = n
		}
		if n, ok := cell.CoerceInt(cell.FromAny(at(row, "purchase"))); ok {
			entry.Purchase = n
		}
		out = append(out, entry)
	}
	return out, nil
}

// FunnelToRows shapes funnel days into sheet rows.
func FunnelToRows(days []FunnelDay) []map[string]cell.Cell {
	rows := make([]map[string]cell.Cell, 0, len(days))
	for _, d := range days {
		rows = append(rows, map[string]cell.Cell{
			"Día":            cell.Text(d.Day),
			"Add to cart":    cell.Number(float64(d.AddToCart)),
			"Begin Checkout": cell.Number(float64(d.BeginCheckout)),
			"Purchase":       cell.Number(float64(d.Purchase)),
		})
	}
	return rows
}
