// Metrics Report - Incremental Feed Reconciliation for Commerce Metrics
// Copyright 2026 Notorios Big
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/notorios-big/metrics-report

package cell

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/notorios-big/metrics-report/internal/dates"
)

var (
	ymdRE = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	dmyRE = regexp.MustCompile(`^(\d{1,2})[/-](\d{1,2})[/-](\d{4})$`)

	// serialEpoch is the spreadsheet date-serial origin (1899-12-30).
	serialEpoch = time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC)
)

// maxSerialDays caps serials at 9999-12-31; larger values are not dates.
const maxSerialDays = 2958465

// CoerceDate extracts a calendar date from a cell, if it holds one.
//
// Accepted forms: ISO YYYY-MM-DD; locale D/M/YYYY or D-M-YYYY; a string of
// at least ten characters whose first ten are ISO-shaped (datetime
// truncation); a positive numeric date serial counted from 1899-12-30.
// Everything else is absent.
func CoerceDate(c Cell) (dates.Date, bool) {
	switch c.Kind {
	case KindText:
		return coerceTextDate(c.Str)
	case KindNumber:
		return serialToDate(c.Num)
	default:
		return dates.Date{}, false
	}
}

func coerceTextDate(s string) (dates.Date, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return dates.Date{}, false
	}
	if ymdRE.MatchString(s) {
		return dates.ParseYMD(s)
	}
	if m := dmyRE.FindStringSubmatch(s); m != nil {
		day, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		year, _ := strconv.Atoi(m[3])
		return calendarDate(year, month, day)
	}
	if len(s) >= 10 && ymdRE.MatchString(s[:10]) {
		return dates.ParseYMD(s[:10])
	}
	return dates.Date{}, false
}

// calendarDate validates the components; 31/2/2025 is absent, not March 3rd.
func calendarDate(year, month, day int) (dates.Date, bool) {
	if month < 1 || month > 12 || day < 1 {
		return dates.Date{}, false
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	y, m, d := t.Date()
	if y != year || int(m) != month || d != day {
		return dates.Date{}, false
	}
	return dates.New(y, m, d), true
}

// serialToDate converts a spreadsheet date serial. Fractional time-of-day
// is truncated; non-positive and non-finite serials are absent.
func serialToDate(v float64) (dates.Date, bool) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return dates.Date{}, false
	}
	days := int(math.Trunc(v))
	if days <= 0 || days > maxSerialDays {
		return dates.Date{}, false
	}
	return dates.FromTime(serialEpoch.AddDate(0, 0, days)), true
}

// CoerceNumber extracts a numeric value from a cell, if it holds one.
//
// Numeric cells pass through unless non-finite. Strings are stripped of
// currency symbols and whitespace, keeping digits and separators; when both
// '.' and ',' appear the commas are thousands separators, when only ','
// appears it is the decimal separator.
func CoerceNumber(c Cell) (float64, bool) {
	switch c.Kind {
	case KindNumber:
		if math.IsNaN(c.Num) || math.IsInf(c.Num, 0) {
			return 0, false
		}
		return c.Num, true
	case KindText:
		return coerceTextNumber(c.Str)
	default:
		return 0, false
	}
}

func coerceTextNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	cleaned := keepRunes(s, "0123456789,.-")
	if cleaned == "" || cleaned == "-" || cleaned == "." || cleaned == "," {
		return 0, false
	}
	hasDot := strings.Contains(cleaned, ".")
	hasComma := strings.Contains(cleaned, ",")
	switch {
	case hasDot && hasComma:
		cleaned = strings.ReplaceAll(cleaned, ",", "")
	case hasComma:
		cleaned = strings.ReplaceAll(cleaned, ",", ".")
	}
	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// CoerceInt extracts an integer from a cell, if it holds one.
// Finite floats truncate toward zero; strings are reduced to their digits
// and sign; booleans never coerce.
func CoerceInt(c Cell) (int, bool) {
	switch c.Kind {
	case KindNumber:
		if math.IsNaN(c.Num) || math.IsInf(c.Num, 0) {
			return 0, false
		}
		return int(math.Trunc(c.Num)), true
	case KindText:
		s := strings.TrimSpace(c.Str)
		if s == "" {
			return 0, false
		}
		digits := keepRunes(s, "0123456789-")
		if digits == "" || digits == "-" {
			return 0, false
		}
		n, err := strconv.Atoi(digits)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

func keepRunes(s, allowed string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if strings.ContainsRune(allowed, r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
