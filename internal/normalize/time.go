package normalize

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// DateTimeLayout is the layout Pipedrive uses for timestamps without a zone.
const DateTimeLayout = "2006-01-02 15:04:05"

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	DateTimeLayout,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseTimestamp converts a date-like value to a time. Empty or unparsable
// values report false.
func ParseTimestamp(v any) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		return x, !x.IsZero()
	case string:
		return parseTimestampString(x)
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return time.Time{}, false
		}
		return unixTime(f)
	case float64:
		return unixTime(x)
	case int64:
		return unixTime(float64(x))
	case int:
		return unixTime(float64(x))
	}
	return time.Time{}, false
}

func parseTimestampString(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return unixTime(f)
	}
	return time.Time{}, false
}

func unixTime(sec float64) (time.Time, bool) {
	if math.IsNaN(sec) || math.IsInf(sec, 0) || sec <= 0 {
		return time.Time{}, false
	}
	whole, frac := math.Modf(sec)
	return time.Unix(int64(whole), int64(frac*1e9)).UTC(), true
}

// Month is a calendar month without a time zone.
type Month struct {
	Year  int
	Month time.Month
}

// MonthKey returns the month of t's wall clock. The zone is ignored so that a
// timestamp keeps the month it was written with.
func MonthKey(t time.Time) Month {
	return Month{Year: t.Year(), Month: t.Month()}
}

// ParseMonth parses a YYYY-MM key.
func ParseMonth(s string) (Month, error) {
	t, err := time.Parse("2006-01", strings.TrimSpace(s))
	if err != nil {
		return Month{}, fmt.Errorf("invalid month %q: %w", s, err)
	}
	return MonthKey(t), nil
}

func (m Month) String() string {
	return fmt.Sprintf("%04d-%02d", m.Year, int(m.Month))
}

func (m Month) IsZero() bool {
	return m.Year == 0 && m.Month == 0
}

// Before reports whether m is strictly earlier than o.
func (m Month) Before(o Month) bool {
	if m.Year != o.Year {
		return m.Year < o.Year
	}
	return m.Month < o.Month
}

func (m Month) Compare(o Month) int {
	switch {
	case m.Before(o):
		return -1
	case o.Before(m):
		return 1
	}
	return 0
}

// Next returns the following month.
func (m Month) Next() Month {
	if m.Month == time.December {
		return Month{Year: m.Year + 1, Month: time.January}
	}
	return Month{Year: m.Year, Month: m.Month + 1}
}
