package checksum

import (
	"errors"
	"fmt"
)

var (
	ErrStaleTimestamp   = errors.New("timestamp outside freshness window")
	ErrChecksumMismatch = errors.New("checksum mismatch")
	ErrMissingHeaders   = errors.New("missing checksum headers")
	ErrSessionExpired   = errors.New("session expired")
)

// IntegrityError reports a failed integrity check on a response. Stale
// distinguishes a timestamp outside the freshness window from a digest
// mismatch, so callers can surface different user-facing messages. The
// remaining fields carry the diagnostic detail logged in permissive
// mode.
type IntegrityError struct {
	Stale     bool
	Method    string
	URL       string
	Timestamp string
	Expected  string
	Received  string
	Payload   string
}

func (e *IntegrityError) Error() string {
	if e.Stale {
		return fmt.Sprintf("%s %s: stale timestamp %q", e.Method, e.URL, e.Timestamp)
	}
	return fmt.Sprintf("%s %s: checksum mismatch (expected %s, received %s)", e.Method, e.URL, e.Expected, e.Received)
}

// Is matches ErrStaleTimestamp or ErrChecksumMismatch depending on the
// failure kind, so callers can branch with errors.Is without inspecting
// the struct.
func (e *IntegrityError) Is(target error) bool {
	if e.Stale {
		return target == ErrStaleTimestamp
	}
	return target == ErrChecksumMismatch
}
