package client

import (
	"net/http"
	"regexp"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"go.unpod.dev/platform-sdk/pkg/checksum"
)

// Strictness selects how the client reacts to a failed response
// integrity check.
type Strictness int

const (
	// Strict rejects the response so callers can never act on
	// unverified data. This is the production behavior.
	Strict Strictness = iota

	// Permissive logs the failure with full diagnostic detail and
	// delivers the response anyway, so local development against a
	// backend without matching secrets is not blocked.
	Permissive
)

// Config is the configuration for the client.
type Config struct {
	Host       string       // base URL every request path is resolved against
	HTTPClient *http.Client // underlying transport; http.DefaultClient if nil
	Clock      clock.Clock  // clock used for signing and freshness checks

	ChecksumEnabled bool   // master switch for signing and validation
	Secret          string // shared signing key; the feature is active only if both are set

	APIPrefixes     []string         // prefixes stripped when deriving relative URLs; defaults if nil
	SkipPatterns    []*regexp.Regexp // paths exempt from signing and validation
	MaxTimestampAge time.Duration    // freshness window; checksum.DefaultMaxAge if zero
	Strictness      Strictness       // failure policy for response validation

	Logger zerolog.Logger // diagnostic logger; typically zerolog.Nop()

	// OnUnauthorized is invoked when a response comes back 401, before
	// the request fails with ErrSessionExpired. The application hangs
	// its redirect-to-sign-in side effect here.
	OnUnauthorized func()
}

// ChecksumActive reports whether signing and validation are in effect:
// the feature flag must be on and a secret must be present.
func (c *Config) ChecksumActive() bool {
	return c.ChecksumEnabled && c.Secret != ""
}

func (c *Config) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Config) maxAge() time.Duration {
	if c.MaxTimestampAge > 0 {
		return c.MaxTimestampAge
	}
	return checksum.DefaultMaxAge
}
