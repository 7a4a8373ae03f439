// Metrics Report - Incremental Feed Reconciliation for Commerce Metrics
// Copyright 2026 Notorios Big
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/notorios-big/metrics-report

// Package sheets is a minimal Google Sheets values-API client plus the
// store-level reconciliation operations built on it (watermark reads,
// duplicate consolidation, batch plan application).
package sheets

import (
	"fmt"
	"strings"
)

// ColLetter converts a zero-based column index to its A1 letter form
// (0 -> A, 25 -> Z, 26 -> AA). Bijective base-26.
func ColLetter(idx int) string {
	if idx < 0 {
		return ""
	}
	var out []byte
	n := idx + 1
	for n > 0 {
		n--
		out = append([]byte{byte('A' + n%26)}, out...)
		n /= 26
	}
	return string(out)
}

// QuoteSheet quotes a sheet name for use in an A1 range when it contains
// characters the grammar requires quoting for. Embedded quotes double.
func QuoteSheet(name string) string {
	if strings.ContainsAny(name, " '!") {
		return "'" + strings.ReplaceAll(name, "'", "''") + "'"
	}
	return name
}

// rangeRef builds "Sheet!A1Range" with proper quoting.
func rangeRef(sheet, a1 string) string {
	return fmt.Sprintf("%s!%s", QuoteSheet(sheet), a1)
}
