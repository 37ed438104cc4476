package catalog

import (
	"fmt"
	"strings"
	"time"
)

// Catalog timestamps observed in STAC responses.
var itemTimeFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999Z",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// ParseItemTime parses a STAC datetime property. Returns time in UTC.
func ParseItemTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time string")
	}

	var lastErr error
	for _, format := range itemTimeFormats {
		t, err := time.Parse(format, s)
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}

	return time.Time{}, fmt.Errorf("failed to parse item time %q: %w", s, lastErr)
}

// ParseDate parses an ISO-8601 calendar date (YYYY-MM-DD) as UTC midnight.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD: %w", s, err)
	}
	return t, nil
}

// FormatInterval renders an inclusive day range as a STAC datetime interval,
// from the first second of start to the last second of end.
func FormatInterval(start, end time.Time) string {
	from := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	to := time.Date(end.Year(), end.Month(), end.Day(), 23, 59, 59, 0, time.UTC)
	return from.Format(time.RFC3339) + "/" + to.Format(time.RFC3339)
}

// DayRange returns the first and last second of the UTC day of t.
func DayRange(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	from := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return from, from.Add(24*time.Hour - time.Second)
}
