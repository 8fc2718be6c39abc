package cache

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_GetSet(t *testing.T) {
	ctx := context.Background()
	store, err := NewMemoryStore(2)
	require.NoError(t, err)

	_, ok, err := store.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Set(ctx, "a", []byte("1")))
	v, ok, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("1"), v)
}

func TestMemoryStore_EvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	store, err := NewMemoryStore(2)
	require.NoError(t, err)

	require.NoError(t, store.Set(ctx, "a", []byte("1")))
	require.NoError(t, store.Set(ctx, "b", []byte("2")))
	_, _, _ = store.Get(ctx, "a")
	require.NoError(t, store.Set(ctx, "c", []byte("3")))

	_, ok, _ := store.Get(ctx, "b")
	assert.False(t, ok, "b should have been evicted")
	_, ok, _ = store.Get(ctx, "a")
	assert.True(t, ok)
	assert.Equal(t, 2, store.Len())
}

func TestNewMemoryStore_DefaultSize(t *testing.T) {
	store, err := NewMemoryStore(0)
	require.NoError(t, err)
	assert.NotNil(t, store)
}

func TestRedisStore_UnreachableServerIsAnError(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	store := NewRedisStore(client, "test:", time.Minute)
	_, ok, err := store.Get(context.Background(), "k")
	assert.Error(t, err)
	assert.False(t, ok)
	assert.Error(t, store.Set(context.Background(), "k", []byte("v")))
}
