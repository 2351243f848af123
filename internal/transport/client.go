// Package transport is the authorized HTTP client: it attaches the bearer token,
// retries once after a refresh on 401, and ends the session on 403 or a second 401.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"zero-trust-session-guard/internal/logging"
	"zero-trust-session-guard/internal/telemetry"
)

const (
	defaultTimeout        = 15 * time.Second
	defaultCleanupTimeout = 5 * time.Second
	maxErrorBody          = 64 << 10
)

// TokenSource is the token manager as seen by the transport.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
	Refresh(ctx context.Context) (string, error)
	Clear(ctx context.Context) error
}

// Navigator is told to send the user back to sign-in after an unrecoverable auth failure.
type Navigator interface {
	RedirectToLogin()
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func()

func (f NavigatorFunc) RedirectToLogin() { f() }

// Config configures a Client.
type Config struct {
	// BaseURL must be https. Relative request paths resolve against it.
	BaseURL string
	// AllowedHosts are hostnames requests may target besides the BaseURL host.
	AllowedHosts []string
	Timeout      time.Duration
	Platform     string
	AppVersion   string
}

// Client sends authorized requests.
type Client struct {
	base       *url.URL
	allowed    map[string]struct{}
	httpClient *http.Client
	tokens     TokenSource
	nav        Navigator
	logger     *zap.Logger
	recorder   *telemetry.Recorder
	platform   string
	version    string

	cleanupTimeout time.Duration
	cleanups       sync.WaitGroup
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying client; its Timeout is left as given.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithRecorder records session teardowns on r.
func WithRecorder(r *telemetry.Recorder) Option {
	return func(c *Client) { c.recorder = r }
}

// New validates cfg and returns a Client. nav may be nil.
func New(cfg Config, tokens TokenSource, nav Navigator, logger *zap.Logger, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimSpace(cfg.BaseURL))
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("transport: invalid base URL %q", cfg.BaseURL)
	}
	if base.Scheme != "https" {
		return nil, ErrInsecureBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	allowed := map[string]struct{}{strings.ToLower(base.Hostname()): {}}
	for _, h := range cfg.AllowedHosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			allowed[h] = struct{}{}
		}
	}
	c := &Client{
		base:           base,
		allowed:        allowed,
		httpClient:     &http.Client{Timeout: timeout},
		tokens:         tokens,
		nav:            nav,
		logger:         logging.OrNop(logger),
		platform:       cfg.Platform,
		version:        cfg.AppVersion,
		cleanupTimeout: defaultCleanupTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// NewRequest builds a request for path, which may be relative to the base URL or absolute.
func (c *Client) NewRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("transport: invalid path %q: %w", path, err)
	}
	u := ref
	if !ref.IsAbs() {
		u = c.base.JoinPath(ref.Path)
		u.RawQuery = ref.RawQuery
	}
	return http.NewRequestWithContext(ctx, method, u.String(), body)
}

// Do sends req with the bearer token. Responses with status >= 400 are returned as
// *StatusError with the body consumed. A 401 is retried once after a token refresh;
// a 403, a 401 on the retry, or a failed refresh clears the tokens and redirects to
// sign-in in the background before the error is returned. A body without GetBody
// is sent once and a 401 for it is not retried. A caller whose ctx ends during the
// refresh gets its context error and the session is left alone.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx, span := telemetry.Tracer().Start(req.Context(), "Transport.Do")
	defer span.End()
	span.SetAttributes(attribute.String("http.method", req.Method), attribute.String("server.address", req.URL.Host))

	if err := c.checkURL(req.URL); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	resp, err := c.send(req.WithContext(ctx), 0)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	return resp, nil
}

// send performs one attempt. attempt is 0 for the original request and 1 for the retry.
func (c *Client) send(req *http.Request, attempt int) (*http.Response, error) {
	ctx := req.Context()
	out, err := c.prepare(req, attempt)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(out)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 400 {
		return resp, nil
	}

	body := readAndClose(resp)
	status := resp.StatusCode
	switch {
	case status == http.StatusUnauthorized && attempt == 0 && replayable(req):
		c.logger.Debug("transport: 401, refreshing", zap.String("url", req.URL.Redacted()))
		if _, rerr := c.tokens.Refresh(ctx); rerr != nil {
			// A caller that gave up mid-refresh leaves the session alone; the
			// shared exchange still completes and saves the new pair.
			if ctx.Err() != nil && (errors.Is(rerr, context.Canceled) || errors.Is(rerr, context.DeadlineExceeded)) {
				return nil, &StatusError{StatusCode: status, Body: body, Cause: rerr}
			}
			c.endSession(ctx, status, rerr)
			return nil, &StatusError{StatusCode: status, Body: body, Cause: rerr}
		}
		return c.send(req, attempt+1)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		c.endSession(ctx, status, nil)
	}
	return nil, &StatusError{StatusCode: status, Body: body}
}

// replayable reports whether req can be sent a second time.
func replayable(req *http.Request) bool {
	return req.Body == nil || req.Body == http.NoBody || req.GetBody != nil
}

// prepare clones req for one attempt with current headers. The first attempt
// sends the caller's body as given; the retry asks GetBody for a fresh one.
func (c *Client) prepare(req *http.Request, attempt int) (*http.Request, error) {
	out := req.Clone(req.Context())
	if attempt > 0 && req.Body != nil && req.Body != http.NoBody {
		if req.GetBody == nil {
			return nil, fmt.Errorf("transport: request body cannot be replayed")
		}
		b, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		out.Body = b
	}
	if c.platform != "" {
		out.Header.Set("X-Platform", c.platform)
	}
	if c.version != "" {
		out.Header.Set("X-App-Version", c.version)
	}
	token, err := c.tokens.AccessToken(req.Context())
	if err != nil {
		return nil, err
	}
	if token != "" {
		out.Header.Set("Authorization", "Bearer "+token)
	} else {
		out.Header.Del("Authorization")
	}
	return out, nil
}

func (c *Client) checkURL(u *url.URL) error {
	if u.Scheme != "https" {
		return fmt.Errorf("%w: %s", ErrInsecureURL, u.Redacted())
	}
	host := strings.ToLower(u.Hostname())
	if _, ok := c.allowed[host]; !ok {
		return fmt.Errorf("%w: %s", ErrHostNotAllowed, host)
	}
	return nil
}

// endSession clears tokens and redirects in the background; the caller gets its
// error without waiting.
func (c *Client) endSession(ctx context.Context, status int, cause error) {
	c.recorder.AuthFailure(ctx, status)
	c.logger.Warn("transport: ending session", zap.Int("status", status), zap.NamedError("cause", cause))
	c.cleanups.Add(1)
	go func() {
		defer c.cleanups.Done()
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cleanupTimeout)
		defer cancel()
		if err := c.tokens.Clear(cctx); err != nil {
			c.logger.Warn("transport: clear tokens failed", zap.Error(err))
		}
		if c.nav != nil {
			c.nav.RedirectToLogin()
		}
	}()
}

// Wait blocks until background session cleanups have finished.
func (c *Client) Wait() {
	c.cleanups.Wait()
}

// DoJSON sends in as JSON (when non-nil) and decodes a JSON response into out (when non-nil).
func (c *Client) DoJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("transport: encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := c.NewRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		mt, _, err := mime.ParseMediaType(ct)
		if err != nil || mt != "application/json" {
			return fmt.Errorf("%w: %q", ErrUnexpectedContentType, ct)
		}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return fmt.Errorf("transport: decode response: %w", err)
	}
	return nil
}

func readAndClose(resp *http.Response) []byte {
	defer resp.Body.Close()
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return b
}
