package tabular

import (
	"fmt"
	"strings"
	"time"
)

// DisplayDateLayout is the canonical calendar-date form used for group keys
// and rendered cells.
const DisplayDateLayout = "02/01/2006"

// Unix-seconds plausibility window. A bare number is only treated as a
// timestamp when it falls inside this range; anything smaller is an
// ordinary integer, anything larger is likely milliseconds or an ID.
// TODO: revisit if source record IDs ever grow into this range.
const (
	minUnixSeconds = 1_000_000_000
	maxUnixSeconds = 10_000_000_000
)

// filterDateLayouts are tried in order when parsing a filter value.
var filterDateLayouts = []string{
	"02/01/2006",
	"02-01-2006",
	"2006-01-02",
	"02/01/06",
	"02.01.2006",
}

// dayFirstLayouts back the general fallback parser: day-first forms with
// single-digit fields, then common machine formats.
var dayFirstLayouts = []string{
	"2/1/2006",
	"2-1-2006",
	"2.1.2006",
	"2/1/06",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// PlausibleUnixSeconds reports whether n sits in the window where a bare
// number is interpreted as a Unix timestamp in seconds.
func PlausibleUnixSeconds(n float64) bool {
	return n > minUnixSeconds && n < maxUnixSeconds
}

// ParseFilterDate parses a user-supplied filter value into a calendar date.
// It tries the fixed layouts first, then falls back to a day-first general
// parse. The time of day is always discarded.
func ParseFilterDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date value")
	}
	for _, layout := range filterDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return truncateToDay(t), nil
		}
	}
	for _, layout := range dayFirstLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return truncateToDay(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date format: %q", s)
}

// Instant converts a cell value to a point in time. Numbers inside the
// Unix-seconds window become instants; text is parsed with the general
// date layouts. ok is false when no conversion applies.
func Instant(v Value) (time.Time, bool) {
	switch v.Kind() {
	case KindNumber:
		n, _ := v.Number()
		if !PlausibleUnixSeconds(n) {
			return time.Time{}, false
		}
		return time.Unix(int64(n), 0).UTC(), true
	case KindText:
		t, err := ParseFilterDate(v.String())
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	default:
		return time.Time{}, false
	}
}

// FormatDate renders an instant as DD/MM/YYYY.
func FormatDate(t time.Time) string {
	return t.Format(DisplayDateLayout)
}

// FormatDateValue renders a cell of a date-typed column for display.
// On any conversion failure it falls back to the raw stringified value;
// it never fails.
func FormatDateValue(v Value) string {
	if v.IsNull() {
		return ""
	}
	if t, ok := Instant(v); ok {
		return FormatDate(t)
	}
	return v.String()
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// SameCalendarDay reports whether two instants fall on the same calendar date.
func SameCalendarDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
