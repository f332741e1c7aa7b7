package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Versioned layers a version stamp over a Store. Every entry is written with
// the global version current at write time; a read whose stamp differs from
// the current version is a miss. InvalidateAll bumps the counter, making all
// existing entries unreachable without enumerating or deleting them —
// physical removal is left to backend TTL expiry.
type Versioned struct {
	store Store
}

// envelope wraps a cached payload with the version captured at write time.
type envelope struct {
	Version uint64          `json:"v"`
	Payload json.RawMessage `json:"p"`
}

// NewVersioned wraps store with version-stamped reads and writes.
func NewVersioned(store Store) *Versioned {
	return &Versioned{store: store}
}

// Version returns the current global version, initializing the counter to 1
// on first use.
func (v *Versioned) Version(ctx context.Context) (uint64, error) {
	raw, ok, err := v.store.Get(ctx, VersionKey)
	if err != nil {
		return 0, fmt.Errorf("read cache version: %w", err)
	}
	if !ok {
		if err := v.store.Set(ctx, VersionKey, []byte("1"), 0); err != nil {
			return 0, fmt.Errorf("init cache version: %w", err)
		}
		return 1, nil
	}
	n, err := strconv.ParseUint(string(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse cache version %q: %w", raw, err)
	}
	return n, nil
}

// InvalidateAll increments the global version. Entries written under earlier
// versions become logical misses on their next read.
func (v *Versioned) InvalidateAll(ctx context.Context) (uint64, error) {
	if _, err := v.Version(ctx); err != nil { // ensure the counter exists
		return 0, err
	}
	n, err := v.store.Increment(ctx, VersionKey, 1)
	if err != nil {
		return 0, fmt.Errorf("bump cache version: %w", err)
	}
	return n, nil
}

// Get returns the payload stored under key when the entry exists, its backend
// TTL has not elapsed, and its version stamp matches the current version.
func (v *Versioned) Get(ctx context.Context, key string) ([]byte, bool, error) {
	raw, ok, err := v.store.Get(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		// Unreadable entries are treated as misses, not failures.
		return nil, false, nil
	}
	current, err := v.Version(ctx)
	if err != nil {
		return nil, false, err
	}
	if env.Version != current {
		return nil, false, nil
	}
	return env.Payload, true, nil
}

// GetJSON reads key and unmarshals the payload into target.
func (v *Versioned) GetJSON(ctx context.Context, key string, target interface{}) (bool, error) {
	payload, ok, err := v.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(payload, target); err != nil {
		return false, nil
	}
	return true, nil
}

// Set stores payload under key with the current version stamp and ttl.
func (v *Versioned) Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	current, err := v.Version(ctx)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(envelope{Version: current, Payload: payload})
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	return v.store.Set(ctx, key, raw, ttl)
}

// SetJSON marshals value and stores it under key.
func (v *Versioned) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cache payload: %w", err)
	}
	return v.Set(ctx, key, payload, ttl)
}
