package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/fjod/go_cart/storefront/internal/metrics"
	"github.com/fjod/go_cart/storefront/pkg/circuitbreaker"
	"github.com/google/uuid"
)

const (
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	headerRequestID   = "X-Request-ID"
	headerAuth        = "Authorization"
	contentTypeJSON   = "application/json"
)

type requestOption func(*http.Request)

func withBearer(token string) requestOption {
	return func(r *http.Request) {
		if token != "" {
			r.Header.Set(headerAuth, "Bearer "+token)
		}
	}
}

// doRequest runs one API call, through cb when it is set, and decodes the JSON answer into result.
func (c *Client) doRequest(ctx context.Context, hc *http.Client, cb *circuitbreaker.Breaker, op, method, path string, body, result interface{}, opts ...requestOption) error {
	start := time.Now()
	call := func() error {
		return c.send(ctx, hc, method, path, body, result, opts...)
	}

	var err error
	if cb != nil {
		err = cb.Execute(call)
	} else {
		err = call()
	}

	metrics.ObserveBackend(op, start, err)
	if err != nil && !isCanceled(err) {
		c.log.WarnContext(ctx, "backend call failed", "operation", op, "method", method, "path", path, "error", err)
	}
	return err
}

func (c *Client) send(ctx context.Context, hc *http.Client, method, path string, body, result interface{}, opts ...requestOption) error {
	reqURL, err := url.JoinPath(c.baseURL, path)
	if err != nil {
		return fmt.Errorf("failed to build URL: %w", err)
	}

	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set(headerAccept, contentTypeJSON)
	req.Header.Set(headerRequestID, requestID(ctx))
	if body != nil {
		req.Header.Set(headerContentType, contentTypeJSON)
	}
	for _, opt := range opts {
		opt(req)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return parseError(resp.StatusCode, respBody)
	}

	if result != nil && len(bytes.TrimSpace(respBody)) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}

func (c *Client) get(ctx context.Context, op, path string, result interface{}) error {
	return c.doRequest(ctx, c.httpClient, c.breaker, op, http.MethodGet, path, nil, result)
}

func (c *Client) post(ctx context.Context, op, path string, body, result interface{}) error {
	return c.doRequest(ctx, c.httpClient, c.breaker, op, http.MethodPost, path, body, result)
}

func (c *Client) put(ctx context.Context, op, path string, body, result interface{}) error {
	return c.doRequest(ctx, c.httpClient, c.breaker, op, http.MethodPut, path, body, result)
}

func (c *Client) delete(ctx context.Context, op, path string) error {
	return c.doRequest(ctx, c.httpClient, c.breaker, op, http.MethodDelete, path, nil, nil)
}

type requestIDKey struct{}

// ContextWithRequestID makes outbound calls made with ctx carry id as X-Request-ID.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func requestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok && id != "" {
		return id
	}
	return uuid.New().String()
}

func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}
