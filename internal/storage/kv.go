package storage

import (
	"context"
	"time"
)

// KV is the key-value service consumed by the aggregation engine, the pool
// metadata cache and the notification cooldown markers. Its persistence and
// replication are the backing store's own concern.
type KV interface {
	// Get returns the value for key. Returns ErrNotFound if the key
	// does not exist.
	Get(ctx context.Context, key string) (string, error)

	// Set stores value under key with no expiry.
	Set(ctx context.Context, key, value string) error

	// SetEx stores value under key with the given time-to-live.
	SetEx(ctx context.Context, key, value string, ttl time.Duration) error

	// Del removes the given keys. Missing keys are not an error.
	Del(ctx context.Context, keys ...string) error

	// Keys returns all keys matching a glob-style pattern, e.g. "kline:*".
	Keys(ctx context.Context, pattern string) ([]string, error)

	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)

	// Close releases the underlying connection.
	Close() error
}
