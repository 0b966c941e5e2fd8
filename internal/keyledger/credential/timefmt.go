package credential

import (
	"fmt"
	"strings"
	"time"
)

// Text layouts. All are interpreted in UTC.
const (
	// IdentityLayout carries millisecond precision and is used wherever a
	// timestamp takes part in chain identity.
	IdentityLayout = "2006-01-02 15:04:05.000"
	DisplayLayout  = "2006-01-02 15:04:05"
	ShortLayout    = "2006-01-02 15:04"
	// WireLayout is RFC 3339 with a fixed millisecond fraction.
	WireLayout = "2006-01-02T15:04:05.000Z07:00"
)

// TruncMillis returns t in UTC at millisecond precision.
func TruncMillis(t time.Time) time.Time {
	if t.IsZero() {
		return time.Time{}
	}
	return t.UTC().Truncate(time.Millisecond)
}

// TruncSeconds returns t in UTC at second precision.
func TruncSeconds(t time.Time) time.Time {
	if t.IsZero() {
		return time.Time{}
	}
	return t.UTC().Truncate(time.Second)
}

func ToMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

func FromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func FormatIdentity(t time.Time) string { return t.UTC().Format(IdentityLayout) }
func FormatDisplay(t time.Time) string  { return t.UTC().Format(DisplayLayout) }
func FormatShort(t time.Time) string    { return t.UTC().Format(ShortLayout) }

// FormatWire renders t for JSON payloads; the zero time renders empty.
func FormatWire(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(WireLayout)
}

func ParseIdentity(s string) (time.Time, error) { return parseUTC(IdentityLayout, s) }
func ParseDisplay(s string) (time.Time, error)  { return parseUTC(DisplayLayout, s) }
func ParseShort(s string) (time.Time, error)    { return parseUTC(ShortLayout, s) }

func parseUTC(layout, s string) (time.Time, error) {
	t, err := time.ParseInLocation(layout, strings.TrimSpace(s), time.UTC)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// ParseTimestamp accepts RFC 3339 (with or without fraction) or any of the
// three text layouts. The empty string parses to the zero time.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	for _, layout := range []string{IdentityLayout, DisplayLayout, ShortLayout} {
		if t, err := parseUTC(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}
