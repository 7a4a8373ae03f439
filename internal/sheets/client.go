// Metrics Report - Incremental Feed Reconciliation for Commerce Metrics
// Copyright 2026 Notorios Big
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/notorios-big/metrics-report

package sheets

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/notorios-big/metrics-report/internal/cell"
	"github.com/notorios-big/metrics-report/internal/logging"
	"github.com/notorios-big/metrics-report/internal/metrics"
	"github.com/notorios-big/metrics-report/internal/transport"
)

const defaultBaseURL = "https://sheets.googleapis.com/v4/spreadsheets"

// Client talks to one spreadsheet through the values API.
type Client struct {
	baseURL       string
	spreadsheetID string
	tokens        TokenSource
	tr            *transport.Client
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API endpoint. Test hook.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// NewClient builds a Client for one spreadsheet.
func NewClient(spreadsheetID string, tokens TokenSource, tr *transport.Client, opts ...Option) *Client {
	c := &Client{
		baseURL:       defaultBaseURL,
		spreadsheetID: spreadsheetID,
		tokens:        tokens,
		tr:            tr,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetOption adds query parameters to a values read.
type GetOption func(url.Values)

// Unformatted requests raw cell values with date cells as serial numbers,
// so coercion sees what the store holds rather than the rendered locale
// strings.
func Unformatted() GetOption {
	return func(q url.Values) {
		q.Set("valueRenderOption", "UNFORMATTED_VALUE")
		q.Set("dateTimeRenderOption", "SERIAL_NUMBER")
	}
}

func (c *Client) call(ctx context.Context, method, path string, query url.Values, body []byte, out any) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("acquiring store token: %w", err)
	}

	u := fmt.Sprintf("%s/%s%s", c.baseURL, c.spreadsheetID, path)
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	hdr := http.Header{}
	hdr.Set("Authorization", "Bearer "+token)
	if len(body) > 0 {
		hdr.Set("Content-Type", "application/json")
	}

	return c.tr.DoJSON(ctx, transport.Request{Method: method, URL: u, Header: hdr, Body: body}, out)
}

func observe(op string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.StoreRequests.WithLabelValues(op, status).Inc()
}

// GetValues reads a range and returns it as cell rows.
func (c *Client) GetValues(ctx context.Context, sheet, a1Range string, opts ...GetOption) ([][]cell.Cell, error) {
	query := url.Values{}
	for _, opt := range opts {
		opt(query)
	}

	var resp struct {
		Values [][]any `json:"values"`
	}
	path := "/values/" + url.PathEscape(rangeRef(sheet, a1Range))
	err := c.call(ctx, http.MethodGet, path, query, nil, &resp)
	observe("get", err)
	if err != nil {
		return nil, err
	}

	rows := make([][]cell.Cell, len(resp.Values))
	for i, raw := range resp.Values {
		rows[i] = cell.Row(raw)
	}
	return rows, nil
}

// GetHeader reads row 1 as strings. An empty slice means an empty sheet.
func (c *Client) GetHeader(ctx context.Context, sheet string) ([]string, error) {
	rows, err := c.GetValues(ctx, sheet, "1:1")
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	header := make([]string, len(rows[0]))
	for i, c := range rows[0] {
		header[i] = c.String()
	}
	return header, nil
}

// UpdateValues writes one rectangular range with USER_ENTERED semantics,
// so date and number strings parse into native cells store-side.
func (c *Client) UpdateValues(ctx context.Context, sheet, a1Range string, values [][]cell.Cell) error {
	body, err := transport.JSONBody(map[string]any{"values": values})
	if err != nil {
		return err
	}
	query := url.Values{}
	query.Set("valueInputOption", "USER_ENTERED")
	path := "/values/" + url.PathEscape(rangeRef(sheet, a1Range))
	err = c.call(ctx, http.MethodPut, path, query, body, nil)
	observe("update", err)
	return err
}

// RangeUpdate is one range of a batch write.
type RangeUpdate struct {
	A1Range string
	Values  [][]cell.Cell
}

// BatchUpdateValues writes several ranges of one sheet in a single call.
// No-op on an empty update list.
func (c *Client) BatchUpdateValues(ctx context.Context, sheet string, updates []RangeUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	data := make([]map[string]any, len(updates))
	for i, u := range updates {
		data[i] = map[string]any{
			"range":  rangeRef(sheet, u.A1Range),
			"values": u.Values,
		}
	}
	body, err := transport.JSONBody(map[string]any{
		"valueInputOption": "USER_ENTERED",
		"data":             data,
	})
	if err != nil {
		return err
	}
	err = c.call(ctx, http.MethodPost, "/values:batchUpdate", nil, body, nil)
	observe("batch_update", err)
	return err
}

// AppendRows appends name→value row maps under the given header. A row key
// with no matching header column is a configuration error.
func (c *Client) AppendRows(ctx context.Context, sheet string, header []string, rows []map[string]cell.Cell) error {
	if len(rows) == 0 {
		logging.Debug().Str("sheet", sheet).Msg("No rows to append")
		return nil
	}

	colIndex := make(map[string]int, len(header))
	for i, name := range header {
		colIndex[name] = i
	}

	values := make([][]cell.Cell, len(rows))
	for i, row := range rows {
		out := make([]cell.Cell, len(header))
		for key, val := range row {
			idx, ok := colIndex[key]
			if !ok {
				return fmt.Errorf("sheet %q missing column %q", sheet, key)
			}
			out[idx] = val
		}
		values[i] = out
	}

	body, err := transport.JSONBody(map[string]any{"values": values})
	if err != nil {
		return err
	}
	query := url.Values{}
	query.Set("valueInputOption", "USER_ENTERED")
	query.Set("insertDataOption", "INSERT_ROWS")
	path := "/values/" + url.PathEscape(rangeRef(sheet, "A1")) + ":append"
	err = c.call(ctx, http.MethodPost, path, query, body, nil)
	observe("append", err)
	return err
}
