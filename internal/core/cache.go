// Package core defines the ports between the recordflow services and their backing stores.
package core

import (
	"context"
	"time"
)

// CacheRepository defines the interface for caching operations.
type CacheRepository interface {
	// Set stores a value with the given TTL. A zero TTL never expires.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// SetIfNewer stores value unless the key already holds a strictly higher version. It
	// reports whether the value was written.
	SetIfNewer(ctx context.Context, key string, version int64, value []byte, ttl time.Duration) (bool, error)

	// Get returns nil, nil when the key is absent or expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete reports whether the key existed.
	Delete(ctx context.Context, key string) (bool, error)

	// DeleteByPrefix removes every key starting with prefix and returns how many went away.
	DeleteByPrefix(ctx context.Context, prefix string) (int, error)

	// Health checks the health of the cache connection.
	Health(ctx context.Context) error
}
