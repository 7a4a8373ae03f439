// Metrics Report - Incremental Feed Reconciliation for Commerce Metrics
// Copyright 2026 Notorios Big
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/notorios-big/metrics-report

package cell

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notorios-big/metrics-report/internal/dates"
)

func TestCoerceDate(t *testing.T) {
	tests := []struct {
		name string
		in   Cell
		want string
		ok   bool
	}{
		{"iso", Text("2025-01-03"), "2025-01-03", true},
		{"iso trimmed", Text("  2025-01-03 "), "2025-01-03", true},
		{"locale slash", Text("5/1/2025"), "2025-01-05", true},
		{"locale dash", Text("05-01-2025"), "2025-01-05", true},
		{"locale mixed separators", Text("5/1-2025"), "2025-01-05", true},
		{"locale single digit month", Text("31/3/2025"), "2025-03-31", true},
		{"timestamp truncation", Text("2025-01-03T14:22:05Z"), "2025-01-03", true},
		{"timestamp with space", Text("2025-01-03 14:22:05"), "2025-01-03", true},
		{"serial", Number(45000), "2023-03-15", true},
		{"serial day one", Number(1), "1899-12-31", true},
		{"serial fraction truncated", Number(45000.99), "2023-03-15", true},
		{"serial zero", Number(0), "", false},
		{"serial negative", Number(-3), "", false},
		{"serial nan", Number(math.NaN()), "", false},
		{"serial inf", Number(math.Inf(1)), "", false},
		{"serial beyond calendar", Number(3e6), "", false},
		{"impossible calendar day", Text("31/2/2025"), "", false},
		{"two digit year", Text("5/1/25"), "", false},
		{"iso shape with bad month", Text("2025-13-01"), "", false},
		{"plain text", Text("hace dos semanas"), "", false},
		{"empty string", Text(""), "", false},
		{"empty cell", Empty(), "", false},
		{"bool", Bool(true), "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := CoerceDate(tt.in)
			if !tt.ok {
				assert.False(t, ok)
				return
			}
			require.True(t, ok)
			assert.Equal(t, dates.MustParseYMD(tt.want), got)
		})
	}
}

func TestCoerceNumber(t *testing.T) {
	tests := []struct {
		name string
		in   Cell
		want float64
		ok   bool
	}{
		{"numeric passthrough", Number(12.5), 12.5, true},
		{"numeric negative", Number(-3), -3, true},
		{"numeric nan", Number(math.NaN()), 0, false},
		{"numeric inf", Number(math.Inf(-1)), 0, false},
		{"plain string", Text("1234.5"), 1234.5, true},
		{"currency prefix", Text("$1,234.56"), 1234.56, true},
		{"currency with spaces", Text(" CLP 990 "), 990, true},
		// With both separators present the commas are thousands
		// separators, whatever their position.
		{"both separators", Text("1.234,56"), 1.23456, true},
		{"comma decimal", Text("12,5"), 12.5, true},
		{"comma thousands only", Text("1,234,567.8"), 1234567.8, true},
		{"negative string", Text("-45.5"), -45.5, true},
		{"residue dash", Text("$-"), 0, false},
		{"residue dot", Text("."), 0, false},
		{"residue comma", Text(","), 0, false},
		{"no digits", Text("gratis"), 0, false},
		{"empty string", Text(""), 0, false},
		{"empty cell", Empty(), 0, false},
		{"bool", Bool(true), 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := CoerceNumber(tt.in)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.InDelta(t, tt.want, got, 1e-9)
			}
		})
	}
}

func TestCoerceInt(t *testing.T) {
	tests := []struct {
		name string
		in   Cell
		want int
		ok   bool
	}{
		{"numeric int", Number(7), 7, true},
		{"float truncates toward zero", Number(3.9), 3, true},
		{"negative float truncates toward zero", Number(-3.9), -3, true},
		{"numeric nan", Number(math.NaN()), 0, false},
		{"numeric inf", Number(math.Inf(1)), 0, false},
		{"digit string", Text("42"), 42, true},
		{"string with noise", Text("12 unidades"), 12, true},
		{"negative string", Text("-5"), -5, true},
		{"residue dash", Text("-"), 0, false},
		{"no digits", Text("muchos"), 0, false},
		{"empty string", Text(""), 0, false},
		{"empty cell", Empty(), 0, false},
		{"bool never coerces", Bool(true), 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := CoerceInt(tt.in)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}
