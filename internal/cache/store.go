// Package cache provides the key-value store backing forecast and geocoding
// caches: a Store interface with in-memory, memcached, and Redis backends,
// and a version-stamped layer on top that supports bulk invalidation without
// enumerating keys.
package cache

import (
	"context"
	"time"
)

// Store is a byte-oriented key-value store with per-key TTL and an atomic
// counter primitive. A ttl of zero means the entry does not expire.
// Get returns (nil, false, nil) on miss; errors are transport problems, not
// misses. Implementations must be safe for concurrent use.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Increment(ctx context.Context, key string, delta uint64) (uint64, error)
	Ping() error
	Close() error
}
