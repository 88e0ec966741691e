package stix

import (
	"strings"
	"time"
)

// Epoch is the default effective timestamp.
var Epoch = time.Unix(0, 0).UTC()

// Accepted textual forms. Both are UTC and Z-suffixed.
const (
	LayoutFractional = "2006-01-02T15:04:05.000000Z"
	LayoutSeconds    = "2006-01-02T15:04:05Z"
)

// ParseTimestamp parses a feed timestamp in either the fractional-seconds or
// the whole-seconds form. Anything else reports false.
func ParseTimestamp(s string) (time.Time, bool) {
	if !strings.HasSuffix(s, "Z") || !validFraction(s) {
		return time.Time{}, false
	}
	// time.Parse accepts an optional fractional second after the seconds
	// field, so the whole-seconds layout covers both forms once the
	// fraction has been checked.
	t, err := time.Parse(LayoutSeconds, s)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

// secondsLen is the length of "2006-01-02T15:04:05".
const secondsLen = 19

// validFraction reports whether whatever sits between the seconds field and
// the trailing Z is empty or a dot followed by one to six digits.
func validFraction(s string) bool {
	if len(s) <= secondsLen+1 {
		return true
	}
	frac := s[secondsLen : len(s)-1]
	if frac[0] != '.' || len(frac) < 2 || len(frac) > 7 {
		return false
	}
	for i := 1; i < len(frac); i++ {
		if frac[i] < '0' || frac[i] > '9' {
			return false
		}
	}
	return true
}

// FormatTimestamp renders t in the fractional form used by generated shards.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(LayoutFractional)
}
