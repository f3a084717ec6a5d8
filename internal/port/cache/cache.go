// Package cache defines the port interface for caching tenant records and
// idempotent responses.
package cache

import (
	"context"
	"time"
)

// Cache is the port interface for key-value caching.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// TenantKey is the cache key for a registry record.
func TenantKey(username string) string {
	return "tenant:" + username
}

// IdempotencyKey is the cache key for a stored response.
func IdempotencyKey(method, path, key string) string {
	return "idem:" + method + ":" + path + ":" + key
}
