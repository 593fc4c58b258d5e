// Package transport attaches bearer credentials to outbound requests and
// recovers once from an expired access token.
package transport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/fjod/go_cart/storefront/internal/metrics"
	"github.com/fjod/go_cart/storefront/internal/refresh"
	"github.com/fjod/go_cart/storefront/pkg/logger"
)

// Tokens reads the current credentials.
type Tokens interface {
	AccessToken() (string, bool)
	RefreshToken() (string, bool)
}

// Refresher mints a replacement for a rejected access token.
type Refresher interface {
	Refresh(ctx context.Context, staleToken string) (string, error)
}

// Transport is an http.RoundTripper that sends "Authorization: Bearer <token>"
// when a token is present. A 401 answer is retried exactly once with a refreshed
// token, and only when a refresh token exists.
type Transport struct {
	base      http.RoundTripper
	tokens    Tokens
	refresher Refresher
	log       *slog.Logger
}

func New(base http.RoundTripper, tokens Tokens, refresher Refresher, log *slog.Logger) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{
		base:      base,
		tokens:    tokens,
		refresher: refresher,
		log:       logger.Or(log).With("component", "transport"),
	}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, _ := t.tokens.AccessToken()

	resp, err := t.base.RoundTrip(authorize(req, token))
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}

	// Never logged in: the caller decides what a 401 means.
	if _, ok := t.tokens.RefreshToken(); !ok {
		return resp, nil
	}
	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		t.log.WarnContext(req.Context(), "cannot replay request body, returning 401", "method", req.Method, "path", req.URL.Path)
		return resp, nil
	}

	fresh, err := t.refresher.Refresh(req.Context(), token)
	if errors.Is(err, refresh.ErrNoRefreshToken) {
		return resp, nil
	}
	// The request belongs to a session that is gone; it is not replayed as someone else.
	if errors.Is(err, refresh.ErrSessionChanged) {
		metrics.TransportRetries.WithLabelValues("session_changed").Inc()
		return resp, nil
	}
	drain(resp)
	if err != nil {
		metrics.TransportRetries.WithLabelValues("refresh_failed").Inc()
		return nil, err
	}

	retry, err := rewind(req)
	if err != nil {
		return nil, err
	}

	t.log.DebugContext(req.Context(), "retrying request with refreshed token", "method", req.Method, "path", req.URL.Path)
	resp, err = t.base.RoundTrip(authorize(retry, fresh))
	switch {
	case err != nil:
		metrics.TransportRetries.WithLabelValues("error").Inc()
	case resp.StatusCode == http.StatusUnauthorized:
		metrics.TransportRetries.WithLabelValues("rejected").Inc()
	default:
		metrics.TransportRetries.WithLabelValues("success").Inc()
	}
	return resp, err
}

func authorize(req *http.Request, token string) *http.Request {
	if token == "" {
		return req
	}
	r := req.Clone(req.Context())
	r.Header.Set("Authorization", "Bearer "+token)
	return r
}

func rewind(req *http.Request) (*http.Request, error) {
	r := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		r.Body = body
	}
	return r, nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}
