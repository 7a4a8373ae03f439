// Metrics Report - Incremental Feed Reconciliation for Commerce Metrics
// Copyright 2026 Notorios Big
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/notorios-big/metrics-report

// Package dates provides the civil calendar date type used throughout the
// reconciliation pipeline. Watermarks, fetch windows and row keys are plain
// dates; wall-clock instants only appear at the edges, where vendor
// timestamps are bucketed into report-timezone days.
package dates

import (
	"fmt"
	"regexp"
	"time"
)

var ymdRE = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// Date is a civil calendar date with no time and no zone.
// The zero value is not a valid date; IsZero reports it.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// New returns the date for the given calendar components.
func New(year int, month time.Month, day int) Date {
	return Date{Year: year, Month: month, Day: day}
}

// FromTime returns the calendar date of t in t's location.
func FromTime(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// ParseYMD parses a strict ISO YYYY-MM-DD string into a Date.
// The second return is false for malformed or non-calendar input.
func ParseYMD(s string) (Date, bool) {
	if !ymdRE.MatchString(s) {
		return Date{}, false
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return Date{}, false
	}
	return FromTime(t), true
}

// MustParseYMD parses s or panics. For constants and tests.
func MustParseYMD(s string) Date {
	d, ok := ParseYMD(s)
	if !ok {
		panic(fmt.Sprintf("dates: invalid YMD %q", s))
	}
	return d
}

// String renders the date as ISO YYYY-MM-DD.
func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// IsZero reports whether d is the zero value.
func (d Date) IsZero() bool {
	return d.Year == 0 && d.Month == 0 && d.Day == 0
}

// time returns the date as midnight UTC, the anchor for arithmetic.
func (d Date) time() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

// AddDays returns the date n days after d (n may be negative).
func (d Date) AddDays(n int) Date {
	return FromTime(d.time().AddDate(0, 0, n))
}

// Sub returns the number of whole days from other to d.
// Negative when d precedes other.
func (d Date) Sub(other Date) int {
	return int(d.time().Sub(other.time()) / (24 * time.Hour))
}

// Compare orders two dates: -1 if d < other, 0 if equal, +1 if d > other.
func (d Date) Compare(other Date) int {
	switch {
	case d.Year != other.Year:
		return sign(d.Year - other.Year)
	case d.Month != other.Month:
		return sign(int(d.Month) - int(other.Month))
	default:
		return sign(d.Day - other.Day)
	}
}

// Before reports whether d is earlier than other.
func (d Date) Before(other Date) bool { return d.Compare(other) < 0 }

// After reports whether d is later than other.
func (d Date) After(other Date) bool { return d.Compare(other) > 0 }

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	default:
		return 0
	}
}

// TodayIn returns today's date in the given location.
func TodayIn(loc *time.Location) Date {
	return FromTime(time.Now().In(loc))
}

// YesterdayIn returns yesterday's date in the given location.
// Sync runs report up to and including yesterday, never a partial today.
func YesterdayIn(loc *time.Location) Date {
	return TodayIn(loc).AddDays(-1)
}

// DayIn buckets an instant into its calendar day in the given location.
// Zoneless instants are treated as UTC.
func DayIn(t time.Time, loc *time.Location) Date {
	return FromTime(t.In(loc))
}

// ParseISODateTime parses an ISO-8601 timestamp as vendors emit them:
// RFC 3339 with offset or Z, or a bare datetime treated as UTC.
func ParseISODateTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02T15:04:05", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse ISO datetime %q: %w", s, err)
	}
	return t.UTC(), nil
}

// RangeInclusive returns every date from start through end.
// Returns nil when end precedes start.
func RangeInclusive(start, end Date) []Date {
	if end.Before(start) {
		return nil
	}
	n := end.Sub(start) + 1
	out := make([]Date, 0, n)
	for d := start; !d.After(end); d = d.AddDays(1) {
		out = append(out, d)
	}
	return out
}

// Max returns the later of two dates.
func Max(a, b Date) Date {
	if a.After(b) {
		return a
	}
	return b
}
