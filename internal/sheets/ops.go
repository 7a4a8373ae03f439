// Metrics Report - Incremental Feed Reconciliation for Commerce Metrics
// Copyright 2026 Notorios Big
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/notorios-big/metrics-report

package sheets

import (
	"context"
	"fmt"
	"strings"

	"github.com/notorios-big/metrics-report/internal/cell"
	"github.com/notorios-big/metrics-report/internal/dates"
	"github.com/notorios-big/metrics-report/internal/logging"
	"github.com/notorios-big/metrics-report/internal/metrics"
	"github.com/notorios-big/metrics-report/internal/table"
)

// WatermarkInfo is the result of a watermark read: the header row, the
// resolved date column and the maximum synced date if any row coerced.
type WatermarkInfo struct {
	Header     []string
	DateColumn string
	DateColIdx int
	Max        dates.Date
	Have       bool
}

// Watermark locates the date column by the given header candidates and
// returns the maximum coercible date below it. A missing header row or
// date column is a configuration error.
func (c *Client) Watermark(ctx context.Context, sheet string, dateHeaders []string) (WatermarkInfo, error) {
	header, err := c.GetHeader(ctx, sheet)
	if err != nil {
		return WatermarkInfo{}, err
	}
	if len(header) == 0 {
		return WatermarkInfo{}, fmt.Errorf("sheet %q has no header row", sheet)
	}

	idx, ok := table.FindColumn(header, dateHeaders)
	if !ok {
		return WatermarkInfo{}, fmt.Errorf("sheet %q missing date header (expected one of: %s)",
			sheet, strings.Join(dateHeaders, ", "))
	}

	letter := ColLetter(idx)
	rows, err := c.GetValues(ctx, sheet, fmt.Sprintf("%s2:%s", letter, letter), Unformatted())
	if err != nil {
		return WatermarkInfo{}, err
	}
	column := make([]cell.Cell, 0, len(rows))
	for _, row := range rows {
		column = append(column, cell.At(row, 0))
	}

	max, have := table.MaxDate(column)
	return WatermarkInfo{
		Header:     header,
		DateColumn: header[idx],
		DateColIdx: idx,
		Max:        max,
		Have:       have,
	}, nil
}

// ConsolidateSumByDate collapses duplicate-dated rows in place, summing
// the given columns, and returns the number of rows eliminated. The sheet
// is not rewritten when no duplicates exist. Row slots freed by the
// collapse are blanked.
func (c *Client) ConsolidateSumByDate(ctx context.Context, sheet string, dateHeaders, sumHeaders []string) (int, error) {
	header, err := c.GetHeader(ctx, sheet)
	if err != nil {
		return 0, err
	}
	if len(header) == 0 {
		return 0, fmt.Errorf("sheet %q has no header row", sheet)
	}

	dateCol, ok := table.FindColumn(header, dateHeaders)
	if !ok {
		return 0, fmt.Errorf("sheet %q missing date header (expected one of: %s)",
			sheet, strings.Join(dateHeaders, ", "))
	}
	sumCols := make([]int, 0, len(sumHeaders))
	for _, name := range sumHeaders {
		idx, ok := table.FindColumn(header, []string{name})
		if !ok {
			return 0, fmt.Errorf("sheet %q missing sum column %q", sheet, name)
		}
		sumCols = append(sumCols, idx)
	}

	lastLetter := ColLetter(len(header) - 1)
	rows, err := c.GetValues(ctx, sheet, fmt.Sprintf("A2:%s", lastLetter), Unformatted())
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}

	out, eliminated := table.ConsolidateByDate(rows, len(header), dateCol, sumCols)
	if eliminated == 0 {
		return 0, nil
	}

	// Rewrite the full original extent so freed slots clear.
	matrix := make([][]cell.Cell, len(rows))
	copy(matrix, out)
	for i := len(out); i < len(rows); i++ {
		matrix[i] = make([]cell.Cell, len(header))
	}

	a1 := fmt.Sprintf("A2:%s%d", lastLetter, 1+len(rows))
	if err := c.UpdateValues(ctx, sheet, a1, matrix); err != nil {
		return 0, err
	}

	metrics.ConsolidationEliminated.WithLabelValues(sheet).Add(float64(eliminated))
	logging.Info().
		Str("sheet", sheet).
		Int("eliminated", eliminated).
		Msg("Consolidated duplicate rows")
	return eliminated, nil
}

// ApplyPlan writes a set of planned column-run updates as one batch call.
// Each plan covers data rows starting at row 2.
func (c *Client) ApplyPlan(ctx context.Context, sheet string, plans []table.RangePlan) error {
	if len(plans) == 0 {
		return nil
	}
	updates := make([]RangeUpdate, len(plans))
	for i, p := range plans {
		a1 := fmt.Sprintf("%s2:%s%d", ColLetter(p.StartCol), ColLetter(p.EndCol), 1+len(p.Values))
		updates[i] = RangeUpdate{A1Range: a1, Values: p.Values}
	}
	return c.BatchUpdateValues(ctx, sheet, updates)
}
