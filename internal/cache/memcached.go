package cache

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

// MemcachedStore implements Store using memcached.
type MemcachedStore struct {
	client *memcache.Client
}

// NewMemcachedStore creates a MemcachedStore. addrs is a comma-separated list
// (e.g. "localhost:11211" or "host1:11211,host2:11211"). timeout and
// maxIdleConns configure the client; both use package defaults if zero.
func NewMemcachedStore(addrs string, timeout time.Duration, maxIdleConns int) (*MemcachedStore, error) {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		servers = []string{"localhost:11211"}
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	return &MemcachedStore{client: client}, nil
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

// Get implements Store.Get. Returns false, nil on cache miss; false, err on error.
func (s *MemcachedStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if ctx.Err() != nil {
		return nil, false, ctx.Err()
	}
	item, err := s.client.Get(key)
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return item.Value, true, nil
}

// Set implements Store.Set. Memcached caps relative expirations at 30 days;
// longer TTLs are clamped. A zero ttl stores the entry without expiry.
func (s *MemcachedStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	const maxRelativeExp = 30 * 24 * 60 * 60
	expSec := int32(ttl.Seconds())
	if expSec < 0 || expSec > maxRelativeExp {
		expSec = maxRelativeExp
	}
	return s.client.Set(&memcache.Item{
		Key:        key,
		Value:      value,
		Expiration: expSec,
	})
}

// Increment implements Store.Increment. Memcached's incr requires an existing
// numeric value, so a missing counter is created with Add first; a concurrent
// creator winning the Add race is handled by retrying the increment.
func (s *MemcachedStore) Increment(ctx context.Context, key string, delta uint64) (uint64, error) {
	if ctx.Err() != nil {
		return 0, ctx.Err()
	}
	v, err := s.client.Increment(key, delta)
	if err == nil {
		return v, nil
	}
	if !errors.Is(err, memcache.ErrCacheMiss) {
		return 0, err
	}
	addErr := s.client.Add(&memcache.Item{
		Key:   key,
		Value: []byte(strconv.FormatUint(delta, 10)),
	})
	if addErr == nil {
		return delta, nil
	}
	if !errors.Is(addErr, memcache.ErrNotStored) {
		return 0, addErr
	}
	return s.client.Increment(key, delta)
}

// Ping checks if memcached is reachable. Used for health checks.
func (s *MemcachedStore) Ping() error {
	return s.client.Ping()
}

// Close closes the memcached client connections. Call during shutdown.
func (s *MemcachedStore) Close() error {
	return s.client.Close()
}
