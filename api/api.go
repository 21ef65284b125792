// Package api exposes the REST surface the rest of the application talks
// to: the five HTTP verbs plus the process-wide default-header mutators.
// Every call is routed through the integrity-checksum transport.
package api

import (
	"context"
	"net/http"

	"go.unpod.dev/platform-sdk/internal/client"
	"go.unpod.dev/platform-sdk/pkg/canonical"
)

// Client is the public client for the Unpod platform API.
type Client struct {
	raw *client.Client
}

func NewClient(raw *client.Client) *Client {
	return &Client{raw}
}

// Option customizes a single request.
type Option func(*client.Request)

// WithHeader adds a header to the request.
func WithHeader(key, value string) Option {
	return func(req *client.Request) {
		if req.Header == nil {
			req.Header = make(http.Header)
		}
		req.Header.Add(key, value)
	}
}

// Get requests path with the given query parameters, decoding the JSON
// response into out when out is non-nil.
func (c *Client) Get(ctx context.Context, path string, params map[string]any, out any, opts ...Option) (*client.Response, error) {
	return c.do(ctx, &client.Request{Method: http.MethodGet, Path: path, Params: params}, out, opts)
}

// Post sends body as JSON to path.
func (c *Client) Post(ctx context.Context, path string, body, out any, opts ...Option) (*client.Response, error) {
	return c.do(ctx, &client.Request{Method: http.MethodPost, Path: path, Body: body}, out, opts)
}

// Put sends body as JSON to path.
func (c *Client) Put(ctx context.Context, path string, body, out any, opts ...Option) (*client.Response, error) {
	return c.do(ctx, &client.Request{Method: http.MethodPut, Path: path, Body: body}, out, opts)
}

// Patch sends body as JSON to path.
func (c *Client) Patch(ctx context.Context, path string, body, out any, opts ...Option) (*client.Response, error) {
	return c.do(ctx, &client.Request{Method: http.MethodPatch, Path: path, Body: body}, out, opts)
}

// Delete requests deletion of path; body may be nil.
func (c *Client) Delete(ctx context.Context, path string, body, out any, opts ...Option) (*client.Response, error) {
	return c.do(ctx, &client.Request{Method: http.MethodDelete, Path: path, Body: body}, out, opts)
}

// PostForm sends a multipart form to path. The form's file descriptors
// are signed by metadata only; the file contents are streamed to the
// wire untouched.
func (c *Client) PostForm(ctx context.Context, path string, form *canonical.Form, out any, opts ...Option) (*client.Response, error) {
	return c.do(ctx, &client.Request{Method: http.MethodPost, Path: path, Form: form}, out, opts)
}

func (c *Client) do(ctx context.Context, req *client.Request, out any, opts []Option) (*client.Response, error) {
	for _, opt := range opts {
		opt(req)
	}
	resp, err := c.raw.Do(ctx, req)
	if err != nil {
		return resp, err
	}
	if out != nil && resp.RawText != "" {
		if err := resp.Decode(out); err != nil {
			return resp, err
		}
	}
	return resp, nil
}

// SetAuthToken sets the bearer token used by every subsequent call; an
// empty token clears it.
func (c *Client) SetAuthToken(token string) {
	c.raw.SetAuthToken(token)
}

// SetOrgHeader sets the organization handle sent with every subsequent
// call; an empty handle clears it.
func (c *Client) SetOrgHeader(handle string) {
	c.raw.SetOrgHeader(handle)
}
