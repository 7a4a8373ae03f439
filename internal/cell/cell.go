// Metrics Report - Incremental Feed Reconciliation for Commerce Metrics
// Copyright 2026 Notorios Big
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/notorios-big/metrics-report

// Package cell models the heterogeneous values found in spreadsheet cells
// as a small tagged union, plus the total coercion functions that turn
// them into canonical dates and numbers.
//
// A column synced for months by humans and three different APIs will hold
// ISO dates, locale dates, date serials, currency-formatted strings and
// garbage side by side. Coercion never fails: a cell either yields a value
// or it is absent, and callers decide what absence means.
package cell

import (
	"strconv"

	"github.com/goccy/go-json"
)

// Kind discriminates the cell union.
type Kind uint8

const (
	// KindEmpty is an absent cell (null on the wire, or a padded blank).
	KindEmpty Kind = iota
	// KindText is a string cell.
	KindText
	// KindNumber is a numeric cell (the store returns float64).
	KindNumber
	// KindBool is a boolean cell.
	KindBool
)

// Cell is one spreadsheet cell value.
type Cell struct {
	Kind   Kind
	Str    string
	Num    float64
	Truthy bool
}

// Empty returns the absent cell.
func Empty() Cell { return Cell{} }

// Text returns a string cell.
func Text(s string) Cell { return Cell{Kind: KindText, Str: s} }

// Number returns a numeric cell.
func Number(f float64) Cell { return Cell{Kind: KindNumber, Num: f} }

// Bool returns a boolean cell.
func Bool(b bool) Cell { return Cell{Kind: KindBool, Truthy: b} }

// IsEmpty reports whether the cell is absent or an empty string.
func (c Cell) IsEmpty() bool {
	return c.Kind == KindEmpty || (c.Kind == KindText && c.Str == "")
}

// String renders the cell the way the store would display it.
func (c Cell) String() string {
	switch c.Kind {
	case KindText:
		return c.Str
	case KindNumber:
		return strconv.FormatFloat(c.Num, 'f', -1, 64)
	case KindBool:
		if c.Truthy {
			return "TRUE"
		}
		return "FALSE"
	default:
		return ""
	}
}

// FromAny converts a decoded JSON value into a Cell.
// Anything outside the store's value vocabulary collapses to its string form.
func FromAny(v any) Cell {
	switch t := v.(type) {
	case nil:
		return Empty()
	case string:
		return Text(t)
	case float64:
		return Number(t)
	case int:
		return Number(float64(t))
	case int64:
		return Number(float64(t))
	case bool:
		return Bool(t)
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Text(t.String())
		}
		return Number(f)
	default:
		return Empty()
	}
}

// MarshalJSON writes the cell as its wire value. Empty cells are written
// as "" so blanked row slots actually clear stale content in the store.
func (c Cell) MarshalJSON() ([]byte, error) {
	switch c.Kind {
	case KindText:
		return json.Marshal(c.Str)
	case KindNumber:
		return json.Marshal(c.Num)
	case KindBool:
		return json.Marshal(c.Truthy)
	default:
		return json.Marshal("")
	}
}

// UnmarshalJSON reads a wire value into the union.
func (c *Cell) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*c = FromAny(v)
	return nil
}

// Row converts a decoded wire row into cells.
func Row(raw []any) []Cell {
	out := make([]Cell, len(raw))
	for i, v := range raw {
		out[i] = FromAny(v)
	}
	return out
}

// At returns row[idx], or the empty cell when the row is shorter than idx.
func At(row []Cell, idx int) Cell {
	if idx < 0 || idx >= len(row) {
		return Empty()
	}
	return row[idx]
}
