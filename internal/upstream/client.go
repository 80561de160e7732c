// Package upstream dispatches transformed requests to provider endpoints and
// hands back raw response bytes for normalization.
package upstream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/syaikhipin/ipinproxy/internal/domain"
	"github.com/syaikhipin/ipinproxy/internal/transform"
)

const (
	defaultTimeout = 120 * time.Second
	userAgent      = "ipinproxy/1.0"
)

// Target is a resolved provider endpoint.
type Target struct {
	BaseURL string
	APIKey  string
}

// URL joins the transform path onto the provider base URL. An empty path
// means the base URL is the endpoint itself.
func (t Target) URL(path string) string {
	base := strings.TrimSuffix(t.BaseURL, "/")
	if path == "" {
		return base
	}
	return base + path
}

// ClientOption configures the client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTimeout sets the request timeout. Ignored when a custom HTTP client is
// also supplied.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = d
	}
}

// Client sends provider-bound requests.
type Client struct {
	httpClient   *http.Client
	timeout      time.Duration
	guardPrivate bool
}

// NewClient creates an upstream client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{timeout: defaultTimeout}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: c.timeout}
		if c.guardPrivate {
			c.httpClient.Transport = guardedTransport()
		}
	}
	return c
}

// Do posts the transformed request and returns the raw response body.
// Non-2xx responses become an upstream error carrying the status and the
// body verbatim.
func (c *Client) Do(ctx context.Context, target Target, treq transform.Request) ([]byte, error) {
	resp, err := c.send(ctx, target, treq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, domain.ErrUpstream(resp.StatusCode, body)
	}
	return body, nil
}

// Stream posts the transformed request and returns the response body for
// raw streaming. The caller owns the ReadCloser.
func (c *Client) Stream(ctx context.Context, target Target, treq transform.Request) (io.ReadCloser, error) {
	resp, err := c.send(ctx, target, treq)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return nil, domain.ErrUpstream(resp.StatusCode, body)
	}
	return resp.Body, nil
}

func (c *Client) send(ctx context.Context, target Target, treq transform.Request) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target.URL(treq.Path), bytes.NewReader(treq.Body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", treq.ContentType)
	httpReq.Header.Set("User-Agent", userAgent)
	if target.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+target.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}
