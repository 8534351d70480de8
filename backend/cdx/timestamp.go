package cdx

import (
	"fmt"
	"strconv"
	"time"

	dedup "github.com/wolfeidau/capture-dedup"
)

// DateLayout is the layout of Record.Date.
const DateLayout = "2006-01-02T15:04:05Z"

// ParseTimestamp parses a CDX timestamp: a year of any length followed by
// two digit month, day, hour, minute and second.
func ParseTimestamp(ts string) (time.Time, error) {
	const tail = 10
	if len(ts) <= tail {
		return time.Time{}, fmt.Errorf("cdx timestamp %q too short: %w", ts, dedup.ErrEncoding)
	}

	year, err := strconv.Atoi(ts[:len(ts)-tail])
	if err != nil || year < 0 {
		return time.Time{}, fmt.Errorf("cdx timestamp %q year: %w", ts, dedup.ErrEncoding)
	}

	var fields [5]int
	rest := ts[len(ts)-tail:]
	for i := range fields {
		n, err := strconv.Atoi(rest[i*2 : i*2+2])
		if err != nil || n < 0 {
			return time.Time{}, fmt.Errorf("cdx timestamp %q: %w", ts, dedup.ErrEncoding)
		}
		fields[i] = n
	}
	month, day, hour, minute, second := fields[0], fields[1], fields[2], fields[3], fields[4]
	if month < 1 || month > 12 || day < 1 || day > 31 || hour > 23 || minute > 59 || second > 59 {
		return time.Time{}, fmt.Errorf("cdx timestamp %q out of range: %w", ts, dedup.ErrEncoding)
	}

	t := time.Date(year, time.Month(month), day, hour, minute, second, 0, time.UTC)
	if t.Day() != day {
		return time.Time{}, fmt.Errorf("cdx timestamp %q out of range: %w", ts, dedup.ErrEncoding)
	}
	return t, nil
}

// FormatDate formats t as a record date.
func FormatDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}
