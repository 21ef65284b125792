// Package checksum implements the keyed integrity digest shared between
// Unpod clients and the backend.
//
// A digest covers the checksum envelope: HTTP method, relative URL,
// canonical payload string and timestamp, in that fixed order. The MAC is
// HMAC-SHA256 keyed with the shared secret and hex-encoded; the envelope
// message additionally appends the secret, which is redundant given the
// keyed MAC but is part of the wire contract and therefore kept
// bit-for-bit.
package checksum

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

const (
	// HeaderChecksum carries the digest on requests and responses.
	HeaderChecksum = "UP-Checksum"
	// HeaderTimestamp carries the envelope timestamp.
	HeaderTimestamp = "UP-Timestamp"

	// DefaultMaxAge is the replay-protection window applied to envelope
	// timestamps when no other window is configured.
	DefaultMaxAge = 5 * time.Minute
)

// DefaultAPIPrefixes are the path prefixes stripped when deriving a
// relative URL. Order matters: the first match wins, so the slashed
// variants come before their bare forms.
var DefaultAPIPrefixes = []string{
	"/api/v2/platform/",
	"/api/v2/platform",
	"/api/v1/",
	"/api/v1",
}

// Compute returns the lowercase hex digest for the envelope
// (method, relativeURL, payload, timestamp) under secret. The method is
// upper-cased; every other field is used verbatim.
func Compute(method, relativeURL, payload, timestamp, secret string) string {
	message := strings.ToUpper(method) + relativeURL + payload + timestamp + secret
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify recomputes the digest for the envelope and compares it against
// provided in constant time. It reports false, never an error: the
// decision of what a failure means belongs to the caller.
func Verify(method, relativeURL, payload, timestamp, provided, secret string) bool {
	if provided == "" || timestamp == "" || secret == "" {
		return false
	}
	expected := Compute(method, relativeURL, payload, timestamp, secret)
	return hmac.Equal([]byte(expected), []byte(provided))
}
