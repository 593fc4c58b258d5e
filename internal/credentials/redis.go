package credentials

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisSubstrate stores tokens under "session:<namespace>:<key>" with no expiry;
// token lifetime is decided by the backend, not by the substrate.
type RedisSubstrate struct {
	client    *redis.Client
	namespace string
}

func NewRedisSubstrate(client *redis.Client, namespace string) *RedisSubstrate {
	if namespace == "" {
		namespace = "default"
	}
	return &RedisSubstrate{client: client, namespace: namespace}
}

func (r *RedisSubstrate) Get(ctx context.Context, key string) (string, error) {
	v, err := r.client.Get(ctx, r.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redis get failed: %w", err)
	}
	return v, nil
}

func (r *RedisSubstrate) Set(ctx context.Context, key, value string) error {
	if err := r.client.Set(ctx, r.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (r *RedisSubstrate) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = r.key(k)
	}
	if err := r.client.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func (r *RedisSubstrate) key(k string) string {
	return fmt.Sprintf("session:%s:%s", r.namespace, k)
}
