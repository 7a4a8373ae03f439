// Metrics Report - Incremental Feed Reconciliation for Commerce Metrics
// Copyright 2026 Notorios Big
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/notorios-big/metrics-report

package table

import (
	"sort"

	"github.com/notorios-big/metrics-report/internal/cell"
)

// RangePlan is one rectangular write covering a run of consecutive
// columns across all data rows. StartCol and EndCol are zero-based and
// inclusive; Values has one slice per data row, each len(EndCol-StartCol+1).
type RangePlan struct {
	StartCol int
	EndCol   int
	Values   [][]cell.Cell
}

// Width returns the number of columns the plan spans.
func (p RangePlan) Width() int { return p.EndCol - p.StartCol + 1 }

// PlanUpdates turns sparse per-cell edits into a minimal set of
// rectangular writes. edits maps data-row index (0 = first data row) to
// column index to new value. Touched columns are partitioned into maximal
// consecutive runs; each run becomes one plan spanning every data row,
// filled from the edit map where present and from the snapshot otherwise.
// Columns outside every run are never included.
func PlanUpdates(snapshot [][]cell.Cell, edits map[int]map[int]cell.Cell) []RangePlan {
	touched := make(map[int]bool)
	for _, cols := range edits {
		for col := range cols {
			touched[col] = true
		}
	}
	if len(touched) == 0 {
		return nil
	}

	cols := make([]int, 0, len(touched))
	for col := range touched {
		cols = append(cols, col)
	}
	sort.Ints(cols)

	var plans []RangePlan
	runStart := cols[0]
	prev := cols[0]
	flush := func(end int) {
		plans = append(plans, buildPlan(snapshot, edits, runStart, end))
	}
	for _, col := range cols[1:] {
		if col != prev+1 {
			flush(prev)
			runStart = col
		}
		prev = col
	}
	flush(prev)
	return plans
}

func buildPlan(snapshot [][]cell.Cell, edits map[int]map[int]cell.Cell, startCol, endCol int) RangePlan {
	p := RangePlan{StartCol: startCol, EndCol: endCol}
	p.Values = make([][]cell.Cell, len(snapshot))
	for row := range snapshot {
		vals := make([]cell.Cell, p.Width())
		for col := startCol; col <= endCol; col++ {
			v := cell.At(snapshot[row], col)
			if rowEdits, ok := edits[row]; ok {
				if edited, ok := rowEdits[col]; ok {
					v = edited
				}
			}
			vals[col-startCol] = v
		}
		p.Values[row] = vals
	}
	return p
}
