package parsers

import (
	"strings"
	"time"
)

// Date layouts seen in QuickBooks exports, US formats first.
var dateLayouts = []string{
	"1/2/2006",
	"1/2/06",
	"2006-01-02",
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006/01/02",
	"1-2-2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"02-Jan-06",
	"2-Jan-2006",
}

// ParseDate parses a report date defensively. Unparseable or blank text
// yields ok == false rather than an error.
func ParseDate(raw string) (time.Time, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, false
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ParseDatePtr is ParseDate returning nil for unparseable input.
func ParseDatePtr(raw string) *time.Time {
	t, ok := ParseDate(raw)
	if !ok {
		return nil
	}
	return &t
}
