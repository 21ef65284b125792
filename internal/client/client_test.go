package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	qt "github.com/frankban/quicktest"
	"github.com/rs/zerolog"

	"go.unpod.dev/platform-sdk/pkg/canonical"
	"go.unpod.dev/platform-sdk/pkg/checksum"
)

const testSecret = "unpod-shared-secret"

var testNow = time.Date(2026, 1, 21, 10, 0, 0, 0, time.UTC)

func newTestClient(host string, mutate func(*Config)) *Client {
	mock := clock.NewMock()
	mock.Set(testNow)
	cfg := &Config{
		Host:            host,
		Clock:           mock,
		Logger:          zerolog.Nop(),
		ChecksumEnabled: true,
		Secret:          testSecret,
		Strictness:      Strict,
	}
	if mutate != nil {
		mutate(cfg)
	}
	return New(cfg)
}

// signResponse writes body as signed JSON the way the backend does:
// digest over the raw body text, timestamp from the shared mock clock.
func signResponse(w http.ResponseWriter, r *http.Request, body string) {
	relativeURL := checksum.RelativeURL(r.URL.Path, nil)
	timestamp := testNow.UTC().Format("2006-01-02T15:04:05.000Z")
	digest := checksum.Compute(r.Method, relativeURL, body, timestamp, testSecret)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(checksum.HeaderChecksum, digest)
	w.Header().Set(checksum.HeaderTimestamp, timestamp)
	_, _ = w.Write([]byte(body))
}

func TestGetSignsMergedQueryParams(t *testing.T) {
	t.Parallel()
	c := qt.New(t)

	var gotChecksum, gotTimestamp, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotChecksum = r.Header.Get(checksum.HeaderChecksum)
		gotTimestamp = r.Header.Get(checksum.HeaderTimestamp)
		gotQuery = r.URL.RawQuery
		signResponse(w, r, `{"results":[]}`)
	}))
	defer srv.Close()

	cl := newTestClient(srv.URL, nil)
	resp, err := cl.Get(context.Background(), "agents?page=1", map[string]any{"limit": 10}, nil)
	c.Assert(err, qt.IsNil)
	c.Assert(resp.StatusCode, qt.Equals, http.StatusOK)

	// Envelope pinned against the backend's reference digest for
	// GET agents {"limit":10,"page":1} at this timestamp.
	c.Assert(gotTimestamp, qt.Equals, "2026-01-21T10:00:00.000Z")
	c.Assert(gotChecksum, qt.Equals, "17ae409268362fb73163812444b2eecf702049d1f7db79008702ee8ec6da2059")

	// The wire query carries the merged parameters.
	c.Assert(gotQuery, qt.Contains, "page=1")
	c.Assert(gotQuery, qt.Contains, "limit=10")
}

func TestPostSignsBody(t *testing.T) {
	t.Parallel()
	c := qt.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.Check(r.Header.Get(checksum.HeaderChecksum), qt.Equals,
			"6a59ae9d837b47054d6d29b96c507e15f36e55385e6e89987e733902fc9e55d3")
		c.Check(r.Header.Get("Content-Type"), qt.Equals, "application/json")
		signResponse(w, r, `{"id":"sp_1"}`)
	}))
	defer srv.Close()

	cl := newTestClient(srv.URL, nil)
	var out struct {
		ID string `json:"id"`
	}
	_, err := cl.Post(context.Background(), "spaces/", map[string]any{"name": "Test"}, &out)
	c.Assert(err, qt.IsNil)
	c.Assert(out.ID, qt.Equals, "sp_1")
}

func TestEmptyObjectParamsPruned(t *testing.T) {
	t.Parallel()
	c := qt.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// With the empty sort pruned the canonical payload is empty.
		want := checksum.Compute("GET", "spaces/", "", "2026-01-21T10:00:00.000Z", testSecret)
		c.Check(r.Header.Get(checksum.HeaderChecksum), qt.Equals, want)
		c.Check(r.URL.Query().Has("sort"), qt.IsFalse)
		signResponse(w, r, `{}`)
	}))
	defer srv.Close()

	cl := newTestClient(srv.URL, nil)
	_, err := cl.Get(context.Background(), "spaces/", map[string]any{"sort": map[string]any{}}, nil)
	c.Assert(err, qt.IsNil)
}

func TestExemptPathBypassesSigning(t *testing.T) {
	t.Parallel()
	c := qt.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.Check(r.Header.Get(checksum.HeaderChecksum), qt.Equals, "")
		c.Check(r.Header.Get(checksum.HeaderTimestamp), qt.Equals, "")
		// Unsigned response: an exempt path skips validation too.
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"token":"tok"}`))
	}))
	defer srv.Close()

	cl := newTestClient(srv.URL, func(cfg *Config) {
		cfg.SkipPatterns = []*regexp.Regexp{regexp.MustCompile(`^auth/`)}
	})
	_, err := cl.Post(context.Background(), "auth/token", map[string]any{"code": "x"}, nil)
	c.Assert(err, qt.IsNil)
}

func TestMultipartSignsMetadataServerReconstructs(t *testing.T) {
	t.Parallel()
	c := qt.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Reconstruct the canonical form the way the backend does and
		// verify the client's digest against it.
		c.Check(r.ParseMultipartForm(1<<20), qt.IsNil)
		form := &canonical.Form{}
		for name, values := range r.MultipartForm.Value {
			form.AddField(name, values[len(values)-1])
		}
		for field, headers := range r.MultipartForm.File {
			fh := headers[len(headers)-1]
			form.AddFile(field, fh.Filename, fh.Size, fh.Header.Get("Content-Type"), nil)
		}
		data, err := form.CanonicalString()
		c.Check(err, qt.IsNil)
		ok := checksum.Verify("POST", "uploads/",
			data,
			r.Header.Get(checksum.HeaderTimestamp),
			r.Header.Get(checksum.HeaderChecksum),
			testSecret)
		c.Check(ok, qt.IsTrue, qt.Commentf("canonical form: %s", data))
		signResponse(w, r, `{"status":"stored"}`)
	}))
	defer srv.Close()

	content := strings.NewReader("not part of the digest")
	form := (&canonical.Form{}).
		AddField("title", "Kickoff").
		AddField("tags[0]", "sales").
		AddField("tags[1]", "q1").
		AddFile("audio", "kickoff.mp3", int64(content.Len()), "audio/mpeg", content)

	cl := newTestClient(srv.URL, nil)
	_, err := cl.PostForm(context.Background(), "uploads/", form, nil)
	c.Assert(err, qt.IsNil)
}

func TestStrictChecksumMismatchRejects(t *testing.T) {
	t.Parallel()
	c := qt.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set(checksum.HeaderChecksum, "deadbeef")
		w.Header().Set(checksum.HeaderTimestamp, testNow.UTC().Format("2006-01-02T15:04:05.000Z"))
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	cl := newTestClient(srv.URL, nil)
	resp, err := cl.Get(context.Background(), "spaces/", nil, nil)
	c.Assert(err, qt.ErrorIs, checksum.ErrChecksumMismatch)

	var integrity *checksum.IntegrityError
	c.Assert(errors.As(err, &integrity), qt.IsTrue)
	c.Assert(integrity.Stale, qt.IsFalse)
	c.Assert(integrity.Received, qt.Equals, "deadbeef")

	// The response is still attached for diagnostics.
	c.Assert(resp, qt.IsNotNil)
	c.Assert(resp.RawText, qt.Equals, `{"ok":true}`)
}

func TestStrictStaleTimestampRejects(t *testing.T) {
	t.Parallel()
	c := qt.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := `{"ok":true}`
		stale := testNow.Add(-10 * time.Minute).UTC().Format("2006-01-02T15:04:05.000Z")
		// The digest itself is correct; only the timestamp is old.
		digest := checksum.Compute(r.Method, "spaces/", body, stale, testSecret)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set(checksum.HeaderChecksum, digest)
		w.Header().Set(checksum.HeaderTimestamp, stale)
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	cl := newTestClient(srv.URL, nil)
	_, err := cl.Get(context.Background(), "spaces/", nil, nil)
	c.Assert(err, qt.ErrorIs, checksum.ErrStaleTimestamp)

	var integrity *checksum.IntegrityError
	c.Assert(errors.As(err, &integrity), qt.IsTrue)
	c.Assert(integrity.Stale, qt.IsTrue)
}

func TestPermissiveDeliversDespiteFailure(t *testing.T) {
	t.Parallel()
	c := qt.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set(checksum.HeaderChecksum, "deadbeef")
		w.Header().Set(checksum.HeaderTimestamp, testNow.UTC().Format("2006-01-02T15:04:05.000Z"))
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	cl := newTestClient(srv.URL, func(cfg *Config) { cfg.Strictness = Permissive })
	resp, err := cl.Get(context.Background(), "spaces/", nil, nil)
	c.Assert(err, qt.IsNil)
	c.Assert(resp.RawText, qt.Equals, `{"ok":true}`)
}

func TestUnsignedResponsePassesValidation(t *testing.T) {
	t.Parallel()
	c := qt.New(t)

	// The backend only signs JSON success responses; a response with no
	// checksum headers is not an integrity failure.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("pong"))
	}))
	defer srv.Close()

	cl := newTestClient(srv.URL, nil)
	resp, err := cl.Get(context.Background(), "spaces/", nil, nil)
	c.Assert(err, qt.IsNil)
	c.Assert(resp.RawText, qt.Equals, "pong")
}

func TestUnauthorizedTriggersSessionExpiry(t *testing.T) {
	t.Parallel()
	c := qt.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	expired := false
	cl := newTestClient(srv.URL, func(cfg *Config) {
		cfg.OnUnauthorized = func() { expired = true }
	})
	_, err := cl.Get(context.Background(), "spaces/", nil, nil)
	c.Assert(err, qt.ErrorIs, checksum.ErrSessionExpired)
	c.Assert(expired, qt.IsTrue)
}

func TestNonSuccessStatusError(t *testing.T) {
	t.Parallel()
	c := qt.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"no such space"}`))
	}))
	defer srv.Close()

	cl := newTestClient(srv.URL, nil)
	_, err := cl.Get(context.Background(), "spaces/sp_404/", nil, nil)

	var statusErr *StatusError
	c.Assert(errors.As(err, &statusErr), qt.IsTrue)
	c.Assert(statusErr.StatusCode, qt.Equals, http.StatusNotFound)
	c.Assert(statusErr.Body, qt.Equals, `{"message":"no such space"}`)
}

func TestChecksumDisabledWithoutSecret(t *testing.T) {
	t.Parallel()
	c := qt.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.Check(r.Header.Get(checksum.HeaderChecksum), qt.Equals, "")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	// Enabled flag on, but no secret: the feature stays inactive.
	cl := newTestClient(srv.URL, func(cfg *Config) { cfg.Secret = "" })
	_, err := cl.Get(context.Background(), "spaces/", nil, nil)
	c.Assert(err, qt.IsNil)
}

func TestDefaultHeaders(t *testing.T) {
	t.Parallel()
	c := qt.New(t)

	var gotAuth, gotOrg []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = append(gotAuth, r.Header.Get("Authorization"))
		gotOrg = append(gotOrg, r.Header.Get("Org-Handle"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	cl := newTestClient(srv.URL, func(cfg *Config) { cfg.ChecksumEnabled = false })
	ctx := context.Background()

	cl.SetAuthToken("tok-123")
	cl.SetOrgHeader("acme")
	_, err := cl.Get(ctx, "spaces/", nil, nil)
	c.Assert(err, qt.IsNil)

	cl.SetAuthToken("")
	cl.SetOrgHeader("")
	_, err = cl.Get(ctx, "spaces/", nil, nil)
	c.Assert(err, qt.IsNil)

	c.Assert(gotAuth, qt.DeepEquals, []string{"Bearer tok-123", ""})
	c.Assert(gotOrg, qt.DeepEquals, []string{"acme", ""})
}

func TestContextCancellation(t *testing.T) {
	t.Parallel()
	c := qt.New(t)

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	cl := newTestClient(srv.URL, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := cl.Get(ctx, "spaces/", nil, nil)
	c.Assert(err, qt.IsNotNil)
	c.Assert(errors.Is(err, context.DeadlineExceeded), qt.IsTrue, qt.Commentf("got %v", err))
}

func TestRequestHeaderOption(t *testing.T) {
	t.Parallel()
	c := qt.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
		c.Check(r.Header.Get("Product-Id"), qt.Equals, "voice-1")
	}))
	defer srv.Close()

	cl := newTestClient(srv.URL, func(cfg *Config) { cfg.ChecksumEnabled = false })
	header := http.Header{}
	header.Set("Product-Id", "voice-1")
	_, err := cl.Do(context.Background(), &Request{
		Method: http.MethodGet,
		Path:   "spaces/",
		Header: header,
	})
	c.Assert(err, qt.IsNil)
}
