// Metrics Report - Incremental Feed Reconciliation for Commerce Metrics
// Copyright 2026 Notorios Big
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/notorios-big/metrics-report

package table

import (
	"sort"

	"github.com/notorios-big/metrics-report/internal/cell"
	"github.com/notorios-big/metrics-report/internal/dates"
)

// ConsolidateByDate collapses rows sharing the same coerced date into one
// row per distinct date, sorted ascending. Cells in sumCols are summed
// across the group (non-coercible cells contribute 0); every other column
// keeps the group's first non-empty value. The date column is rewritten
// as the canonical ISO form. Rows whose date cell does not coerce are
// dropped.
//
// eliminated is the input row count minus the distinct date count; a zero
// return means the table needs no rewrite. The operation is idempotent.
func ConsolidateByDate(rows [][]cell.Cell, numCols, dateCol int, sumCols []int) (out [][]cell.Cell, eliminated int) {
	isSum := make(map[int]bool, len(sumCols))
	for _, c := range sumCols {
		isSum[c] = true
	}

	type group struct {
		date dates.Date
		row  []cell.Cell
	}
	byDate := make(map[dates.Date]*group)
	order := make([]*group, 0, len(rows))

	for _, r := range rows {
		d, ok := cell.CoerceDate(cell.At(r, dateCol))
		if !ok {
			continue
		}
		g, seen := byDate[d]
		if !seen {
			g = &group{date: d, row: make([]cell.Cell, numCols)}
			g.row[dateCol] = cell.Text(d.String())
			byDate[d] = g
			order = append(order, g)
		}
		for col := 0; col < numCols; col++ {
			if col == dateCol {
				continue
			}
			v := cell.At(r, col)
			if isSum[col] {
				n, nok := cell.CoerceNumber(v)
				if !nok {
					continue
				}
				prev, _ := cell.CoerceNumber(g.row[col])
				g.row[col] = cell.Number(prev + n)
			} else if g.row[col].IsEmpty() && !v.IsEmpty() {
				g.row[col] = v
			}
		}
	}

	sort.Slice(order, func(i, j int) bool { return order[i].date.Before(order[j].date) })

	out = make([][]cell.Cell, len(order))
	for i, g := range order {
		out[i] = g.row
	}
	return out, len(rows) - len(out)
}
