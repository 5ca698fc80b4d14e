package render

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-console/internal/detection"
)

// NotAvailable is shown for any value that is missing or unusable.
const NotAvailable = "NA"

// DisplayLayout mirrors the en-US browser toLocaleString shape.
const DisplayLayout = "1/2/2006, 3:04:05 PM"

// FormatFixed formats v with two decimals, or NA when v is nil or not finite.
func FormatFixed(v *float64) string {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return NotAvailable
	}
	return strconv.FormatFloat(*v, 'f', 2, 64)
}

// zone-less layouts are read in the display location, the way a browser reads
// "2024-03-01T10:11:12.345". Date-only strings are UTC.
var (
	zonedLayouts = []string{
		time.RFC3339Nano,
		"2006-01-02T15:04Z07:00",
		"2006-01-02 15:04:05.999999999Z07:00",
		time.RFC1123Z,
		time.RFC1123,
		time.RFC850,
		time.ANSIC,
	}
	localLayouts = []string{
		"2006-01-02T15:04:05.999999999",
		"2006-01-02T15:04",
		"2006-01-02 15:04:05.999999999",
		"2006/01/02 15:04:05",
	}
	utcLayouts = []string{
		"2006-01-02",
		"2006-01",
		"2006",
	}
)

// ParseTimestampText parses the date formats a browser Date accepts in practice.
func ParseTimestampText(text string, loc *time.Location) (time.Time, bool) {
	s := strings.TrimSpace(text)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, true
		}
	}
	for _, layout := range utcLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// FormatTimestamp resolves a canonical timestamp to display text in loc.
func FormatTimestamp(ts detection.Timestamp, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	switch ts.Kind {
	case detection.TimestampEpoch:
		if math.IsNaN(ts.Seconds) || math.IsInf(ts.Seconds, 0) {
			return NotAvailable
		}
		sec, frac := math.Modf(ts.Seconds)
		return time.Unix(int64(sec), int64(frac*1e9)).In(loc).Format(DisplayLayout)
	case detection.TimestampText:
		if t, ok := ParseTimestampText(ts.Text, loc); ok {
			return t.In(loc).Format(DisplayLayout)
		}
		return ts.Text
	default:
		return NotAvailable
	}
}

// IsHighlighted flags rows that look like a child.
func IsHighlighted(item detection.Canonical) bool {
	return strings.ToLower(item.Label) == "child" ||
		strings.HasPrefix(strings.ToLower(item.HumanID), "child")
}

func orNA(s string) string {
	if s == "" {
		return NotAvailable
	}
	return s
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}
