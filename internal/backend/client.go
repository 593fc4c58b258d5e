// Package backend is the REST client for the storefront API.
package backend

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fjod/go_cart/storefront/pkg/circuitbreaker"
	"github.com/fjod/go_cart/storefront/pkg/logger"
)

const (
	// DefaultBaseURL is the API root every path below is joined to.
	DefaultBaseURL = "http://127.0.0.1:8000/api/"
	// DefaultTimeout is the default HTTP client timeout.
	DefaultTimeout = 10 * time.Second
)

// Client talks to the storefront API.
//
// Calls that need a user go through httpClient, whose transport is expected to
// attach credentials. Token refresh and logout go through anonClient so they can
// never trigger a refresh themselves.
type Client struct {
	baseURL    string
	httpClient *http.Client
	anonClient *http.Client
	breaker    *circuitbreaker.Breaker
	log        *slog.Logger
}

// Option configures the client.
type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = u
	}
}

// WithHTTPClient sets the client used for user-scoped calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithAnonHTTPClient sets the client used for token refresh and logout.
// Defaults to the WithHTTPClient client.
func WithAnonHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.anonClient = hc
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if c.httpClient == nil {
			c.httpClient = &http.Client{}
		}
		c.httpClient.Timeout = timeout
	}
}

// WithBreaker guards every call with b.
func WithBreaker(b *circuitbreaker.Breaker) Option {
	return func(c *Client) {
		c.breaker = b
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.log = l
	}
}

func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	if c.anonClient == nil {
		c.anonClient = c.httpClient
	}
	if !strings.HasSuffix(c.baseURL, "/") {
		c.baseURL += "/"
	}
	c.log = logger.Or(c.log).With("component", "backend")
	return c
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// MediaURL turns a relative media path from the API into an absolute URL on the
// API origin. Absolute URLs pass through; stray quotes and backticks are trimmed.
func (c *Client) MediaURL(raw string) string {
	s := strings.Trim(strings.TrimSpace(raw), "`'\"")
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	lower := strings.ToLower(s)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return s
	}

	base, err := url.Parse(c.baseURL)
	if err != nil || base.Host == "" {
		return s
	}
	origin := base.Scheme + "://" + base.Host
	if !strings.HasPrefix(s, "/") {
		s = "/" + s
	}
	return origin + s
}

// CountsAsSuccess reports whether err should leave the circuit breaker closed.
// Client errors and caller cancellation say nothing about backend health.
func CountsAsSuccess(err error) bool {
	if err == nil {
		return true
	}
	if apiErr, ok := AsError(err); ok {
		return apiErr.StatusCode < http.StatusInternalServerError
	}
	return isCanceled(err)
}
