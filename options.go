package platform

import (
	"fmt"
	"net/http"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"go.unpod.dev/platform-sdk/internal/client"
)

// Option is a function that can be passed to NewSDK to configure the SDK.
type Option func(config *client.Config)

// WithHost configures the SDK to use the specified base URL.
func WithHost(host string) Option {
	return func(config *client.Config) {
		config.Host = host
	}
}

// WithChecksum enables the integrity checksum with the given shared
// secret. The feature stays inactive if the secret is empty.
func WithChecksum(secret string) Option {
	return func(config *client.Config) {
		config.Secret = secret
		config.ChecksumEnabled = true
	}
}

// WithChecksumEnabled toggles the checksum master switch without
// touching the secret.
func WithChecksumEnabled(enabled bool) Option {
	return func(config *client.Config) {
		config.ChecksumEnabled = enabled
	}
}

// WithAPIPrefixes overrides the path prefixes stripped when deriving the
// relative URL of the checksum envelope. The first matching prefix wins.
func WithAPIPrefixes(prefixes ...string) Option {
	return func(config *client.Config) {
		config.APIPrefixes = prefixes
	}
}

// WithSkipPatterns configures the endpoints exempt from signing and
// validation.
func WithSkipPatterns(patterns ...*regexp.Regexp) Option {
	return func(config *client.Config) {
		config.SkipPatterns = patterns
	}
}

// WithFreshnessWindow overrides the replay-protection window applied to
// response timestamps.
func WithFreshnessWindow(window time.Duration) Option {
	return func(config *client.Config) {
		config.MaxTimestampAge = window
	}
}

// WithStrictness selects the failure policy for response validation:
// client.Strict rejects on integrity failure, client.Permissive logs
// and delivers.
func WithStrictness(strictness client.Strictness) Option {
	return func(config *client.Config) {
		config.Strictness = strictness
	}
}

// WithClock configures the SDK to use the specified clock.
//
// This is useful for testing with a mocked clock; if not specified a
// real clock will be used.
func WithClock(clk clock.Clock) Option {
	return func(config *client.Config) {
		config.Clock = clk
	}
}

// WithLogger configures the logger used for permissive-mode integrity
// diagnostics.
func WithLogger(logger zerolog.Logger) Option {
	return func(config *client.Config) {
		config.Logger = logger
	}
}

// WithHTTPClient overrides the underlying HTTP transport.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(config *client.Config) {
		config.HTTPClient = httpClient
	}
}

// WithUnauthorizedHandler registers the callback invoked when a response
// comes back 401, before the call fails with checksum.ErrSessionExpired.
func WithUnauthorizedHandler(handler func()) Option {
	return func(config *client.Config) {
		config.OnUnauthorized = handler
	}
}

// FromEnv reads configuration from the environment, using the same
// variable names as the backend settings: ENABLE_CHECKSUM,
// CHECKSUM_SECRET, CHECKSUM_MAX_TIMESTAMP_AGE (seconds), API_PREFIXES
// (comma-separated), CHECKSUM_SKIP_PATTERNS (comma-separated regular
// expressions; invalid patterns are ignored) and CHECKSUM_STRICT.
// Unset variables leave the configuration untouched.
func FromEnv() Option {
	return func(config *client.Config) {
		if v, ok := os.LookupEnv("ENABLE_CHECKSUM"); ok {
			config.ChecksumEnabled = parseBool(v)
		}
		if v, ok := os.LookupEnv("CHECKSUM_SECRET"); ok {
			config.Secret = v
		}
		if v, ok := os.LookupEnv("CHECKSUM_MAX_TIMESTAMP_AGE"); ok {
			if seconds, err := strconv.Atoi(v); err == nil && seconds > 0 {
				config.MaxTimestampAge = time.Duration(seconds) * time.Second
			}
		}
		if v, ok := os.LookupEnv("API_PREFIXES"); ok {
			config.APIPrefixes = splitList(v)
		}
		if v, ok := os.LookupEnv("CHECKSUM_SKIP_PATTERNS"); ok {
			config.SkipPatterns = compilePatterns(splitList(v))
		}
		if v, ok := os.LookupEnv("CHECKSUM_STRICT"); ok {
			if parseBool(v) {
				config.Strictness = client.Strict
			} else {
				config.Strictness = client.Permissive
			}
		}
	}
}

// fileConfig is the YAML shape accepted by FromFile. Field names match
// the environment variables, lowercased.
type fileConfig struct {
	Host            string   `yaml:"host"`
	EnableChecksum  *bool    `yaml:"enable_checksum"`
	ChecksumSecret  string   `yaml:"checksum_secret"`
	MaxTimestampAge int      `yaml:"checksum_max_timestamp_age"` // seconds
	APIPrefixes     []string `yaml:"api_prefixes"`
	SkipPatterns    []string `yaml:"checksum_skip_patterns"`
	Strict          *bool    `yaml:"checksum_strict"`
}

// FromFile reads configuration from a YAML file. Absent fields leave the
// configuration untouched.
func FromFile(path string) (Option, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return func(config *client.Config) {
		if fc.Host != "" {
			config.Host = fc.Host
		}
		if fc.EnableChecksum != nil {
			config.ChecksumEnabled = *fc.EnableChecksum
		}
		if fc.ChecksumSecret != "" {
			config.Secret = fc.ChecksumSecret
		}
		if fc.MaxTimestampAge > 0 {
			config.MaxTimestampAge = time.Duration(fc.MaxTimestampAge) * time.Second
		}
		if fc.APIPrefixes != nil {
			config.APIPrefixes = fc.APIPrefixes
		}
		if fc.SkipPatterns != nil {
			config.SkipPatterns = compilePatterns(fc.SkipPatterns)
		}
		if fc.Strict != nil {
			if *fc.Strict {
				config.Strictness = client.Strict
			} else {
				config.Strictness = client.Permissive
			}
		}
	}, nil
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func compilePatterns(patterns []string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			continue
		}
		compiled = append(compiled, re)
	}
	return compiled
}
