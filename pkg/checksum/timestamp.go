package checksum

import (
	"fmt"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
)

// timestampLayout is the wire format: UTC ISO-8601 with millisecond
// precision and a literal Z suffix.
const timestampLayout = "2006-01-02T15:04:05.000Z"

// parseLayout accepts any fractional precision, including none, after
// the Z suffix has been trimmed.
const parseLayout = "2006-01-02T15:04:05.999999999"

// Timestamp returns the clock's current time in the wire format.
func Timestamp(clk clock.Clock) string {
	return clk.Now().UTC().Format(timestampLayout)
}

// ParseTimestamp parses a wire timestamp, tolerating a missing Z suffix
// and any fractional-second precision.
func ParseTimestamp(s string) (time.Time, error) {
	trimmed := strings.TrimSuffix(s, "Z")
	t, err := time.Parse(parseLayout, trimmed)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

// Fresh reports whether ts is within maxAge of the clock's current time.
// The window is symmetric: a timestamp too far in the future is as stale
// as one too far in the past, so a replayed or pre-dated envelope fails
// either way. The boundary is inclusive. Malformed timestamps are never
// fresh.
func Fresh(ts string, maxAge time.Duration, clk clock.Clock) bool {
	parsed, err := ParseTimestamp(ts)
	if err != nil {
		return false
	}
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	skew := clk.Now().UTC().Sub(parsed)
	if skew < 0 {
		skew = -skew
	}
	return skew <= maxAge
}
