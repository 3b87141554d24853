package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestInMemoryCache_SetGet(t *testing.T) {
	cache := NewInMemoryCache(10, zap.NewNop())
	defer cache.Close()
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "key", "value", time.Minute))

	got, err := cache.Get(ctx, "key")
	require.NoError(t, err)
	assert.Equal(t, "value", got)
}

func TestInMemoryCache_MissingKey(t *testing.T) {
	cache := NewInMemoryCache(10, zap.NewNop())
	defer cache.Close()

	_, err := cache.Get(context.Background(), "absent")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInMemoryCache_Expiry(t *testing.T) {
	cache := NewInMemoryCache(10, zap.NewNop())
	defer cache.Close()
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "key", "value", 10*time.Millisecond))
	time.Sleep(20 * time.Millisecond)

	_, err := cache.Get(ctx, "key")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInMemoryCache_Delete(t *testing.T) {
	cache := NewInMemoryCache(10, zap.NewNop())
	defer cache.Close()
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "key", "value", time.Minute))
	require.NoError(t, cache.Delete(ctx, "key"))

	_, err := cache.Get(ctx, "key")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInMemoryCache_EvictsAtCapacity(t *testing.T) {
	cache := NewInMemoryCache(5, zap.NewNop())
	defer cache.Close()
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, cache.Set(ctx, fmt.Sprintf("key-%d", i), i, time.Minute))
	}

	assert.LessOrEqual(t, cache.Size(), 5)
}
