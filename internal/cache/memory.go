package cache

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// InMemoryStore implements Store with a mutex-guarded map. Expired entries
// are removed lazily on access; there is no background sweep.
type InMemoryStore struct {
	mu   sync.Mutex
	data map[string]memoryEntry
	now  func() time.Time
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		data: make(map[string]memoryEntry),
		now:  time.Now,
	}
}

// Get returns the value for key if present and not expired.
func (s *InMemoryStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if ctx.Err() != nil {
		return nil, false, ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.data[key]
	if !ok {
		return nil, false, nil
	}
	if !entry.expiresAt.IsZero() && !s.now().Before(entry.expiresAt) {
		delete(s.data, key)
		return nil, false, nil
	}
	return entry.value, true, nil
}

// Set stores value under key, overwriting any existing entry.
func (s *InMemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = s.now().Add(ttl)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = memoryEntry{value: value, expiresAt: expiresAt}
	return nil
}

// Increment atomically adds delta to the decimal counter stored under key,
// creating it at delta when absent. The counter never expires.
func (s *InMemoryStore) Increment(ctx context.Context, key string, delta uint64) (uint64, error) {
	if ctx.Err() != nil {
		return 0, ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var current uint64
	if entry, ok := s.data[key]; ok {
		parsed, err := strconv.ParseUint(string(entry.value), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("increment %s: existing value is not a counter: %w", key, err)
		}
		current = parsed
	}
	current += delta
	s.data[key] = memoryEntry{value: []byte(strconv.FormatUint(current, 10))}
	return current, nil
}

// Ping always succeeds for the in-memory backend.
func (s *InMemoryStore) Ping() error { return nil }

// Close is a no-op for the in-memory backend.
func (s *InMemoryStore) Close() error { return nil }

// SetClock overrides the time source. For tests only.
func (s *InMemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}
