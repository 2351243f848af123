package token

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPExchanger performs POST {base}{path} with {"refreshToken"} using its own plain
// http.Client, so no bearer header or 401 handling is applied.
type HTTPExchanger struct {
	endpoint   string
	httpClient *http.Client
	headers    http.Header
}

// ExchangerOption configures an HTTPExchanger.
type ExchangerOption func(*HTTPExchanger)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) ExchangerOption {
	return func(e *HTTPExchanger) {
		if c != nil {
			e.httpClient = c
		}
	}
}

// WithHeader adds a static header to every exchange request.
func WithHeader(key, value string) ExchangerOption {
	return func(e *HTTPExchanger) { e.headers.Set(key, value) }
}

// NewHTTPExchanger returns an exchanger posting to baseURL joined with path.
func NewHTTPExchanger(baseURL, path string, timeout time.Duration, opts ...ExchangerOption) (*HTTPExchanger, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("token: invalid refresh base URL %q", baseURL)
	}
	if timeout <= 0 {
		timeout = defaultRefreshTimeout
	}
	e := &HTTPExchanger{
		endpoint:   strings.TrimSuffix(u.String(), "/") + "/" + strings.TrimPrefix(path, "/"),
		httpClient: &http.Client{Timeout: timeout},
		headers:    make(http.Header),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Endpoint returns the full refresh URL.
func (e *HTTPExchanger) Endpoint() string { return e.endpoint }

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// Exchange posts refreshToken and decodes the new pair. Any non-2xx status or malformed body
// is reported as ErrRefreshRejected.
func (e *HTTPExchanger) Exchange(ctx context.Context, refreshToken string) (Pair, error) {
	body, err := json.Marshal(refreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return Pair{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return Pair{}, fmt.Errorf("%w: build request: %w", ErrRefreshRejected, err)
	}
	for k, vs := range e.headers {
		req.Header[k] = vs
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return Pair{}, fmt.Errorf("%w: %w", ErrRefreshRejected, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Pair{}, fmt.Errorf("%w: read response: %w", ErrRefreshRejected, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Pair{}, fmt.Errorf("%w: status %d", ErrRefreshRejected, resp.StatusCode)
	}
	var pair Pair
	if err := json.Unmarshal(raw, &pair); err != nil {
		return Pair{}, fmt.Errorf("%w: decode response: %w", ErrRefreshRejected, err)
	}
	return pair, nil
}
