// Package timeutil provides calendar helpers for the analytics engine.
// All statistics are keyed by UTC calendar day, so every helper here
// normalizes to UTC before truncating.
package timeutil

import (
	"fmt"
	"time"
)

// DayLayout is the canonical layout for stat dates ("2024-01-31").
const DayLayout = "2006-01-02"

// Day returns midnight UTC of the calendar day containing t.
func Day(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// DayBounds returns the half-open interval [start, end) covering the day of t.
func DayBounds(t time.Time) (time.Time, time.Time) {
	start := Day(t)
	return start, start.AddDate(0, 0, 1)
}

// ParseDay parses a "YYYY-MM-DD" string into midnight UTC.
func ParseDay(value string) (time.Time, error) {
	t, err := time.ParseInLocation(DayLayout, value, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("timeutil: parse day %q: %w", value, err)
	}
	return t, nil
}

// FormatDay formats t as "YYYY-MM-DD" in UTC.
func FormatDay(t time.Time) string {
	return t.UTC().Format(DayLayout)
}

// EachDay returns every calendar day in [from, to], inclusive.
// Returns nil when to is before from.
func EachDay(from, to time.Time) []time.Time {
	start, end := Day(from), Day(to)
	if end.Before(start) {
		return nil
	}
	days := make([]time.Time, 0, DaysBetween(start, end)+1)
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

// DaysBetween returns the number of whole calendar days from a to b.
// Negative when b is before a.
func DaysBetween(a, b time.Time) int {
	return int(Day(b).Sub(Day(a)).Hours() / 24)
}

// StartOfISOWeek returns Monday 00:00 UTC of the ISO week containing t.
func StartOfISOWeek(t time.Time) time.Time {
	d := Day(t)
	weekday := int(d.Weekday())
	if weekday == 0 {
		weekday = 7
	}
	return d.AddDate(0, 0, -(weekday - 1))
}

// ISOWeekKey returns the ISO week label, e.g. "2025-W01".
func ISOWeekKey(t time.Time) string {
	year, week := t.UTC().ISOWeek()
	return fmt.Sprintf("%04d-W%02d", year, week)
}

// StartOfMonth returns the first day of t's month at midnight UTC.
func StartOfMonth(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// MonthKey returns the month label, e.g. "2024-03".
func MonthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// ToMillis converts t to Unix milliseconds in UTC.
func ToMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

// FromMillis converts Unix milliseconds to a UTC time.
func FromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
