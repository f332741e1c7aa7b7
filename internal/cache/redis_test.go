package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStoreFromClient(client)
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

// TestRedisStore_GetSet verifies basic round-trip through the Redis backend.
func TestRedisStore_GetSet(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestRedisStore(t)

	require.NoError(t, store.Set(ctx, "k", []byte("v"), time.Minute))

	got, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), got)
}

// TestRedisStore_Get_Miss verifies that a missing key reports ok=false with
// no error.
func TestRedisStore_Get_Miss(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestRedisStore(t)

	_, ok, err := store.Get(ctx, "nonexistent")
	require.NoError(t, err)
	assert.False(t, ok)
}

// TestRedisStore_Get_Expired verifies that entries disappear after their TTL
// elapses.
func TestRedisStore_Get_Expired(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestRedisStore(t)

	require.NoError(t, store.Set(ctx, "k", []byte("v"), time.Minute))
	mr.FastForward(2 * time.Minute)

	_, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

// TestRedisStore_Increment verifies INCRBY semantics: missing keys start at
// zero before the delta is added.
func TestRedisStore_Increment(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestRedisStore(t)

	n, err := store.Increment(ctx, VersionKey, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)

	n, err = store.Increment(ctx, VersionKey, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)
}

// TestRedisStore_Versioned verifies the versioned layer works end to end on
// the Redis backend, including invalidation.
func TestRedisStore_Versioned(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestRedisStore(t)
	v := NewVersioned(store)

	require.NoError(t, v.Set(ctx, "k", []byte(`"payload"`), time.Hour))

	_, ok, err := v.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = v.InvalidateAll(ctx)
	require.NoError(t, err)

	_, ok, err = v.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok, "entry should be a logical miss after invalidation")
}
