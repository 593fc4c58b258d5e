package credentials

import (
	"context"
	"errors"
)

// Substrate is the durable key-value store the session tokens are written through to.
type Substrate interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, keys ...string) error
}

var ErrNotFound = errors.New("key not found")

// Fixed substrate keys.
const (
	KeyAccessToken  = "authToken"
	KeyRefreshToken = "refreshToken"
)
