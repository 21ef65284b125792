package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"sync"

	"github.com/benbjohnson/clock"
	jsoniter "github.com/json-iterator/go"

	"go.unpod.dev/platform-sdk/pkg/canonical"
	"go.unpod.dev/platform-sdk/pkg/checksum"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Client is the underlying raw client for communicating with the Unpod
// platform API. It signs outgoing requests with the integrity checksum,
// validates the checksum on responses, and holds the process-wide
// default headers (auth token, organization handle).
//
// It is wrapped by the public [api] package and injected by the main
// [platform] package.
type Client struct {
	cfg *Config

	mu            sync.Mutex
	defaultHeader http.Header
}

func New(cfg *Config) *Client {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	return &Client{cfg: cfg, defaultHeader: make(http.Header)}
}

// SetAuthToken sets the bearer token sent with every subsequent request.
// An empty token clears it.
func (c *Client) SetAuthToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if token == "" {
		c.defaultHeader.Del("Authorization")
		return
	}
	c.defaultHeader.Set("Authorization", "Bearer "+token)
}

// SetOrgHeader sets the organization handle sent with every subsequent
// request. An empty handle clears it.
func (c *Client) SetOrgHeader(handle string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if handle == "" {
		c.defaultHeader.Del("Org-Handle")
		return
	}
	c.defaultHeader.Set("Org-Handle", handle)
}

// Request describes one call through the transport. Exactly one of Body
// and Form should be set for methods that carry a payload.
type Request struct {
	Method string
	Path   string // relative to Config.Host; may carry a query string

	// Params are explicit query parameters. They are merged with any
	// query string embedded in Path (Params win on conflicts) and the
	// merged result is both appended to the wire URL and folded into
	// the canonical payload for GET requests.
	Params map[string]any

	Body   any             // JSON request body
	Form   *canonical.Form // multipart payload
	Header http.Header     // extra per-request headers
}

// Response is the transport's result. RawText is captured before any
// JSON decoding so response validation always sees the exact bytes that
// were signed.
type Response struct {
	StatusCode int
	Header     http.Header
	RawText    string
}

// Decode unmarshals the raw body text into out.
func (r *Response) Decode(out any) error {
	return json.UnmarshalFromString(r.RawText, out)
}

func (r *Response) checksumHeaders() (digest, timestamp string) {
	return r.Header.Get(checksum.HeaderChecksum), r.Header.Get(checksum.HeaderTimestamp)
}

// StatusError is returned for non-2xx responses. The response itself is
// still delivered alongside it so callers can inspect the body.
type StatusError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected response status %s", e.Status)
}

// Do runs the request through the prepare, exempt-check, sign, dispatch
// and validate pipeline.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	method := strings.ToUpper(req.Method)
	pathOnly, rawQuery, _ := strings.Cut(req.Path, "?")

	// Prepare: fold the embedded query string and the explicit params
	// into one coerced map, explicit params winning, empty-object
	// values dropped before anything else happens.
	params := canonical.MergeParams(
		canonical.ParseQuery(rawQuery),
		canonical.CoerceParams(req.Params),
	)
	params = canonical.PruneEmptyObjects(params)

	exempt := c.exempt(pathOnly)
	signing := c.cfg.ChecksumActive() && !exempt

	payload, body, contentType, err := preparePayload(method, req, params)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare request payload: %w", err)
	}

	wireURL, err := c.wireURL(pathOnly, params)
	if err != nil {
		return nil, fmt.Errorf("failed to build request url: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, wireURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	c.applyHeaders(httpReq, req.Header, contentType)

	relativeURL := checksum.RelativeURL(pathOnly, c.cfg.APIPrefixes)
	if signing {
		data, err := payload.CanonicalString()
		if err != nil {
			return nil, fmt.Errorf("failed to canonicalize request payload: %w", err)
		}
		timestamp := checksum.Timestamp(c.cfg.Clock)
		digest := checksum.Compute(method, relativeURL, data, timestamp, c.cfg.Secret)
		httpReq.Header.Set(checksum.HeaderChecksum, digest)
		httpReq.Header.Set(checksum.HeaderTimestamp, timestamp)
	}

	httpResp, err := c.cfg.httpClient().Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	rawText, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	resp := &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		RawText:    string(rawText),
	}

	// Session-expiry side channel, independent of checksum validation.
	if resp.StatusCode == http.StatusUnauthorized {
		if c.cfg.OnUnauthorized != nil {
			c.cfg.OnUnauthorized()
		}
		return resp, fmt.Errorf("%s %s: %w", method, pathOnly, checksum.ErrSessionExpired)
	}

	if signing {
		if err := c.validate(method, relativeURL, resp); err != nil {
			if c.cfg.Strictness == Strict {
				return resp, err
			}
			c.logIntegrityFailure(err)
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp, &StatusError{
			StatusCode: resp.StatusCode,
			Status:     httpResp.Status,
			Body:       resp.RawText,
		}
	}
	return resp, nil
}

// Get performs a GET request, decoding the response into out if out is
// non-nil. Params are folded into the signed payload.
func (c *Client) Get(ctx context.Context, path string, params map[string]any, out any) (*Response, error) {
	return c.roundTrip(ctx, &Request{Method: http.MethodGet, Path: path, Params: params}, out)
}

// Post performs a POST request with a JSON body.
func (c *Client) Post(ctx context.Context, path string, bodyValue, out any) (*Response, error) {
	return c.roundTrip(ctx, &Request{Method: http.MethodPost, Path: path, Body: bodyValue}, out)
}

// Put performs a PUT request with a JSON body.
func (c *Client) Put(ctx context.Context, path string, bodyValue, out any) (*Response, error) {
	return c.roundTrip(ctx, &Request{Method: http.MethodPut, Path: path, Body: bodyValue}, out)
}

// Patch performs a PATCH request with a JSON body.
func (c *Client) Patch(ctx context.Context, path string, bodyValue, out any) (*Response, error) {
	return c.roundTrip(ctx, &Request{Method: http.MethodPatch, Path: path, Body: bodyValue}, out)
}

// Delete performs a DELETE request. bodyValue may be nil.
func (c *Client) Delete(ctx context.Context, path string, bodyValue, out any) (*Response, error) {
	return c.roundTrip(ctx, &Request{Method: http.MethodDelete, Path: path, Body: bodyValue}, out)
}

// PostForm performs a multipart POST request described by form.
func (c *Client) PostForm(ctx context.Context, path string, form *canonical.Form, out any) (*Response, error) {
	return c.roundTrip(ctx, &Request{Method: http.MethodPost, Path: path, Form: form}, out)
}

func (c *Client) roundTrip(ctx context.Context, req *Request, out any) (*Response, error) {
	resp, err := c.Do(ctx, req)
	if err != nil {
		return resp, err
	}
	if out != nil && resp.RawText != "" {
		if err := resp.Decode(out); err != nil {
			return resp, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return resp, nil
}

func (c *Client) exempt(path string) bool {
	for _, pattern := range c.cfg.SkipPatterns {
		if pattern.MatchString(path) {
			return true
		}
	}
	return false
}

// preparePayload selects the canonical payload for signing and builds
// the wire body: multipart form, JSON body, query parameters for GET,
// or nothing.
func preparePayload(method string, req *Request, params map[string]any) (payload canonical.Payload, body io.Reader, contentType string, err error) {
	switch {
	case req.Form != nil:
		encoded, ct, err := encodeMultipart(req.Form)
		if err != nil {
			return nil, nil, "", err
		}
		return req.Form, encoded, ct, nil

	case req.Body != nil:
		raw, err := json.Marshal(req.Body)
		if err != nil {
			return nil, nil, "", err
		}
		return canonical.JSON{Value: req.Body}, bytes.NewReader(raw), "application/json", nil

	case method == http.MethodGet:
		return canonical.Query{Params: params}, nil, "", nil

	default:
		return canonical.Raw{}, nil, "", nil
	}
}

// encodeMultipart renders the form's fields and file contents into a
// multipart body. Field values go to the wire verbatim; line-ending
// normalization is a canonicalization concern, not a transport one.
func encodeMultipart(form *canonical.Form) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for _, field := range form.Fields {
		if err := writer.WriteField(field.Name, field.Value); err != nil {
			return nil, "", err
		}
	}
	for _, file := range form.Files {
		// The part's Content-Type must be the declared one: the server
		// rebuilds the signed descriptor from the wire headers.
		header := textproto.MIMEHeader{}
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, file.Field, file.Name))
		contentType := file.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		header.Set("Content-Type", contentType)
		part, err := writer.CreatePart(header)
		if err != nil {
			return nil, "", err
		}
		if file.Content != nil {
			if _, err := io.Copy(part, file.Content); err != nil {
				return nil, "", err
			}
		}
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return &buf, writer.FormDataContentType(), nil
}

// wireURL joins the host and path and appends the merged query
// parameters. url.Values.Encode keeps the wire query in sorted order,
// which is convenient but irrelevant to the digest: the signed form is
// the canonical payload, never the raw query string.
func (c *Client) wireURL(path string, params map[string]any) (string, error) {
	base := c.cfg.Host
	if base != "" && !strings.HasSuffix(base, "/") && !strings.HasPrefix(path, "/") {
		base += "/"
	}
	full := base + path
	if len(params) == 0 {
		return full, nil
	}
	values := url.Values{}
	for key, value := range params {
		switch v := value.(type) {
		case []any:
			for _, item := range v {
				values.Add(key, wireValue(item))
			}
		default:
			values.Set(key, wireValue(value))
		}
	}
	return full + "?" + values.Encode(), nil
}

// wireValue renders a parameter for the query string such that the
// backend's coercion recovers the same canonical value.
func wireValue(value any) string {
	switch v := value.(type) {
	case nil:
		return "null"
	case string:
		return v
	case bool:
		if v {
			return "true"
		}
		return "false"
	case fmt.Stringer:
		return v.String()
	default:
		out, err := json.MarshalToString(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return strings.Trim(out, `"`)
	}
}

func (c *Client) applyHeaders(httpReq *http.Request, extra http.Header, contentType string) {
	httpReq.Header.Set("User-Agent", "Unpod-Platform-SDK")
	httpReq.Header.Set("Accept", "application/json")
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}

	c.mu.Lock()
	for key, vals := range c.defaultHeader {
		httpReq.Header[key] = append([]string(nil), vals...)
	}
	c.mu.Unlock()

	for key, vals := range extra {
		for i, v := range vals {
			if i == 0 {
				httpReq.Header.Set(key, v)
			} else {
				httpReq.Header.Add(key, v)
			}
		}
	}
}

// validate checks freshness and digest of a response that participates
// in the integrity contract. Responses without both checksum headers
// pass through: the backend only signs JSON success responses.
func (c *Client) validate(method, relativeURL string, resp *Response) error {
	digest, timestamp := resp.checksumHeaders()
	if digest == "" || timestamp == "" {
		return nil
	}
	if !checksum.Fresh(timestamp, c.cfg.maxAge(), c.cfg.Clock) {
		return &checksum.IntegrityError{
			Stale:     true,
			Method:    method,
			URL:       relativeURL,
			Timestamp: timestamp,
			Received:  digest,
		}
	}
	// The raw response text captured before decoding is the signed
	// payload; re-serializing parsed JSON could disagree byte-for-byte.
	if !checksum.Verify(method, relativeURL, resp.RawText, timestamp, digest, c.cfg.Secret) {
		return &checksum.IntegrityError{
			Method:    method,
			URL:       relativeURL,
			Timestamp: timestamp,
			Expected:  checksum.Compute(method, relativeURL, resp.RawText, timestamp, c.cfg.Secret),
			Received:  digest,
			Payload:   resp.RawText,
		}
	}
	return nil
}

func (c *Client) logIntegrityFailure(err error) {
	var integrity *checksum.IntegrityError
	if !errors.As(err, &integrity) {
		c.cfg.Logger.Warn().Err(err).Msg("response integrity check failed")
		return
	}
	c.cfg.Logger.Warn().
		Bool("stale", integrity.Stale).
		Str("method", integrity.Method).
		Str("url", integrity.URL).
		Str("timestamp", integrity.Timestamp).
		Str("expected", integrity.Expected).
		Str("received", integrity.Received).
		Str("payload", integrity.Payload).
		Msg("response integrity check failed, delivering response anyway")
}
