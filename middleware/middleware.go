// Package middleware is the server-side half of the integrity contract:
// an http.Handler wrapper that validates the checksum on incoming
// requests and signs outgoing JSON responses, using the same canonical
// serialization and envelope rules as the client.
package middleware

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"go.unpod.dev/platform-sdk/internal/jsonerr"
	"go.unpod.dev/platform-sdk/pkg/canonical"
	"go.unpod.dev/platform-sdk/pkg/checksum"
)

// maxMultipartMemory bounds the in-memory portion of multipart parsing;
// larger file parts spill to disk.
const maxMultipartMemory = 32 << 20

// Config is the configuration for the validator.
type Config struct {
	Enabled bool   // master switch
	Secret  string // shared signing key; validation is active only if both are set

	// Required rejects requests that carry no checksum headers at all.
	// When false, such requests pass through unvalidated, which lets
	// clients be rolled out gradually.
	Required bool

	APIPrefixes     []string         // prefixes stripped when deriving relative URLs; defaults if nil
	SkipPatterns    []*regexp.Regexp // request paths exempt from validation and signing
	MaxTimestampAge time.Duration    // freshness window; checksum.DefaultMaxAge if zero

	Clock  clock.Clock    // clock for freshness checks and response timestamps
	Logger zerolog.Logger // diagnostic logger
}

// Validator validates request checksums and signs responses.
type Validator struct {
	cfg Config
}

func New(cfg Config) *Validator {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.MaxTimestampAge <= 0 {
		cfg.MaxTimestampAge = checksum.DefaultMaxAge
	}
	if cfg.Enabled && cfg.Secret == "" {
		cfg.Logger.Warn().Msg("checksum validation enabled without a secret, disabling")
		cfg.Enabled = false
	}
	return &Validator{cfg: cfg}
}

// Wrap returns a handler that validates the request before calling next
// and signs next's response on the way out.
func (v *Validator) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !v.cfg.Enabled || v.skip(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		if err := v.validateRequest(r); err != nil {
			v.reject(w, err)
			return
		}

		sw := &signingWriter{inner: w, validator: v, request: r}
		next.ServeHTTP(sw, r)
		sw.flush()
	})
}

func (v *Validator) skip(path string) bool {
	for _, pattern := range v.cfg.SkipPatterns {
		if pattern.MatchString(path) {
			return true
		}
	}
	return false
}

// validateRequest checks the incoming request's headers, freshness and
// digest, returning one of the checksum sentinel errors on failure. A nil
// return means the request may proceed to the wrapped handler.
func (v *Validator) validateRequest(r *http.Request) error {
	digest := r.Header.Get(checksum.HeaderChecksum)
	timestamp := r.Header.Get(checksum.HeaderTimestamp)

	if digest == "" || timestamp == "" {
		if v.cfg.Required {
			v.cfg.Logger.Warn().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Msg("missing checksum headers")
			return checksum.ErrMissingHeaders
		}
		return nil
	}

	if !checksum.Fresh(timestamp, v.cfg.MaxTimestampAge, v.cfg.Clock) {
		v.cfg.Logger.Warn().
			Str("path", r.URL.Path).
			Str("timestamp", timestamp).
			Msg("invalid or expired request timestamp")
		return checksum.ErrStaleTimestamp
	}

	data, err := extractRequestData(r)
	if err != nil {
		// Graceful degradation: an extraction failure is a server-side
		// problem, not evidence of tampering.
		v.cfg.Logger.Error().Err(err).
			Str("path", r.URL.Path).
			Msg("failed to extract request data for checksum validation")
		return nil
	}

	method := strings.ToUpper(r.Method)
	relativeURL := checksum.RelativeURL(r.URL.Path, v.cfg.APIPrefixes)

	if !checksum.Verify(method, relativeURL, data, timestamp, digest, v.cfg.Secret) {
		v.cfg.Logger.Warn().
			Str("method", method).
			Str("url", relativeURL).
			Str("data", data).
			Str("timestamp", timestamp).
			Str("received", digest).
			Str("expected", checksum.Compute(method, relativeURL, data, timestamp, v.cfg.Secret)).
			Msg("request checksum validation failed")
		return checksum.ErrChecksumMismatch
	}

	return nil
}

// reject writes the JSON error response for a failed validation, using
// the same message and code pairs the backend emits.
func (v *Validator) reject(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, checksum.ErrMissingHeaders):
		jsonerr.Error(w,
			"Checksum headers required (UP-Checksum and UP-Timestamp)",
			"CHECKSUM_REQUIRED", http.StatusBadRequest)
	case errors.Is(err, checksum.ErrStaleTimestamp):
		jsonerr.Error(w,
			"Request timestamp is invalid or expired",
			"TIMESTAMP_VALIDATION_FAILED", http.StatusBadRequest)
	default:
		jsonerr.Error(w,
			"Request checksum validation failed",
			"CHECKSUM_VALIDATION_FAILED", http.StatusBadRequest)
	}
}

// extractRequestData rebuilds the canonical payload string the client
// signed: coerced query parameters for GET, the reconstructed form for
// multipart bodies, and the canonicalized JSON body otherwise.
func extractRequestData(r *http.Request) (string, error) {
	if strings.ToUpper(r.Method) == http.MethodGet {
		payload := canonical.Query{Params: canonical.ParseQuery(r.URL.RawQuery)}
		return payload.CanonicalString()
	}

	contentType := r.Header.Get("Content-Type")
	if strings.Contains(contentType, "multipart/form-data") {
		return extractMultipart(r)
	}

	if r.Body == nil {
		return "", nil
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return "", err
	}
	// Hand the body back so the wrapped handler can read it too.
	r.Body = io.NopCloser(bytes.NewReader(body))
	if len(body) == 0 {
		return "", nil
	}
	return canonical.CanonicalizeText(string(body)), nil
}

func extractMultipart(r *http.Request) (string, error) {
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		return "", err
	}
	form := &canonical.Form{}
	for name, values := range r.MultipartForm.Value {
		if len(values) == 0 {
			continue
		}
		// Repeated names collapse to the last value, matching the
		// backend's form dictionary semantics.
		form.AddField(name, values[len(values)-1])
	}
	for field, headers := range r.MultipartForm.File {
		if len(headers) == 0 {
			continue
		}
		fh := headers[len(headers)-1]
		form.AddFile(field, fh.Filename, fh.Size, fh.Header.Get("Content-Type"), nil)
	}
	return form.CanonicalString()
}

// signingWriter buffers the response so the digest can be computed over
// the exact bytes written, and emits the checksum headers ahead of them.
type signingWriter struct {
	inner     http.ResponseWriter
	validator *Validator
	request   *http.Request

	status int
	body   bytes.Buffer
}

func (w *signingWriter) Header() http.Header {
	return w.inner.Header()
}

func (w *signingWriter) WriteHeader(status int) {
	if w.status == 0 {
		w.status = status
	}
}

func (w *signingWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.body.Write(p)
}

// flush signs and releases the buffered response. Only successful JSON
// responses are signed; everything else passes through untouched.
func (w *signingWriter) flush() {
	if w.status == 0 {
		w.status = http.StatusOK
	}

	v := w.validator
	contentType := w.inner.Header().Get("Content-Type")
	signable := w.status < http.StatusBadRequest &&
		strings.Contains(contentType, "application/json") &&
		w.body.Len() > 0

	if signable {
		method := strings.ToUpper(w.request.Method)
		relativeURL := checksum.RelativeURL(w.request.URL.Path, v.cfg.APIPrefixes)
		timestamp := checksum.Timestamp(v.cfg.Clock)
		digest := checksum.Compute(method, relativeURL, w.body.String(), timestamp, v.cfg.Secret)
		w.inner.Header().Set(checksum.HeaderChecksum, digest)
		w.inner.Header().Set(checksum.HeaderTimestamp, timestamp)
	}

	w.inner.WriteHeader(w.status)
	_, _ = w.inner.Write(w.body.Bytes())
}
