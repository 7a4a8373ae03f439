// Metrics Report - Incremental Feed Reconciliation for Commerce Metrics
// Copyright 2026 Notorios Big
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/notorios-big/metrics-report

package table

import (
	"github.com/notorios-big/metrics-report/internal/cell"
	"github.com/notorios-big/metrics-report/internal/dates"
)

// MaxDate scans a column of cells and returns the maximum coercible date.
// Cells that do not coerce are skipped; ok is false when none coerce.
func MaxDate(column []cell.Cell) (max dates.Date, ok bool) {
	for _, c := range column {
		d, dok := cell.CoerceDate(c)
		if !dok {
			continue
		}
		if !ok || d.After(max) {
			max = d
			ok = true
		}
	}
	return max, ok
}

// Window is an inclusive fetch range.
type Window struct {
	Start dates.Date
	End   dates.Date
}

// Days returns the number of days the window covers.
func (w Window) Days() int {
	return w.End.Sub(w.Start) + 1
}

// NextWindow computes the next fetch window for a feed: the day after the
// watermark through end, or floor through end when no watermark exists.
// ok is false when there is nothing to do (start past end).
func NextWindow(watermark dates.Date, haveWatermark bool, floor, end dates.Date) (Window, bool) {
	var start dates.Date
	if haveWatermark {
		start = watermark.AddDays(1)
	} else {
		start = floor
	}
	if start.IsZero() || start.After(end) {
		return Window{}, false
	}
	return Window{Start: start, End: end}, true
}
