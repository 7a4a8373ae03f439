// Metrics Report - Incremental Feed Reconciliation for Commerce Metrics
// Copyright 2026 Notorios Big
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/notorios-big/metrics-report

// Package table holds the pure tabular-reconciliation core: header
// resolution, watermark extraction, duplicate-row consolidation and the
// sparse batch-update planner. Nothing in this package performs I/O.
package table

import "strings"

// FindColumn returns the index of the first header cell exactly matching
// any candidate. Candidates are tried in priority order, so an earlier
// candidate beats a later one even if the later one appears first in the
// header row.
func FindColumn(header []string, candidates []string) (int, bool) {
	for _, want := range candidates {
		for i, h := range header {
			if h == want {
				return i, true
			}
		}
	}
	return 0, false
}

// FindColumnFunc returns the index of the first header cell for which
// match returns true.
func FindColumnFunc(header []string, match func(string) bool) (int, bool) {
	for i, h := range header {
		if match(h) {
			return i, true
		}
	}
	return 0, false
}

var accentFold = strings.NewReplacer(
	"á", "a", "é", "e", "í", "i", "ó", "o", "ú", "u",
	"Á", "a", "É", "e", "Í", "i", "Ó", "o", "Ú", "u",
	"ñ", "n", "Ñ", "n",
)

// Normalize lowercases, trims and accent-folds a header name so that
// "Teléfono" and "telefono" compare equal. Used for the tolerant header
// matching on human-maintained sheets.
func Normalize(s string) string {
	return accentFold.Replace(strings.ToLower(strings.TrimSpace(s)))
}
