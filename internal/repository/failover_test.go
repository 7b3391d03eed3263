package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryPresence_TTLExpiry(t *testing.T) {
	cache := NewMemoryPresenceCache()
	ctx := context.Background()

	require.NoError(t, cache.SetOnline(ctx, "u1", "customer", 10*time.Millisecond))

	online, err := cache.IsOnline(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, online)

	time.Sleep(20 * time.Millisecond)

	online, err = cache.IsOnline(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, online)
}

func TestMemoryPresence_RateLimit(t *testing.T) {
	cache := NewMemoryPresenceCache()
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		allowed, err := cache.CheckRateLimit(ctx, "u1", 2, time.Minute)
		require.NoError(t, err)
		assert.True(t, allowed)
	}

	allowed, err := cache.CheckRateLimit(ctx, "u1", 2, time.Minute)
	require.NoError(t, err)
	assert.False(t, allowed)

	// Independent counter per user.
	allowed, err = cache.CheckRateLimit(ctx, "u2", 2, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestMemoryPresence_RateLimitWindowReset(t *testing.T) {
	cache := NewMemoryPresenceCache()
	ctx := context.Background()

	allowed, err := cache.CheckRateLimit(ctx, "u1", 1, 10*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = cache.CheckRateLimit(ctx, "u1", 1, 10*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, allowed)

	time.Sleep(20 * time.Millisecond)

	allowed, err = cache.CheckRateLimit(ctx, "u1", 1, 10*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestFailover_FallsBackWhenPrimaryDown(t *testing.T) {
	logger := zerolog.Nop()
	primary := NewRedisPresenceCache(nil) // nil client always errors
	fallback := NewMemoryPresenceCache()
	cache := NewFailoverPresenceCache(primary, fallback, &logger)
	ctx := context.Background()

	require.NoError(t, cache.SetOnline(ctx, "u1", "customer", time.Minute))

	online, err := cache.IsOnline(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, online)

	// State landed in the fallback, not the dead primary.
	online, err = fallback.IsOnline(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, online)
}

func TestFailover_SkipsPrimaryWithinRecoveryWindow(t *testing.T) {
	logger := zerolog.Nop()
	primary := &countingCache{inner: NewRedisPresenceCache(nil)}
	cache := NewFailoverPresenceCache(primary, NewMemoryPresenceCache(), &logger)
	ctx := context.Background()

	_ = cache.SetOnline(ctx, "u1", "customer", time.Minute)
	_ = cache.SetOnline(ctx, "u2", "worker", time.Minute)
	_ = cache.SetOffline(ctx, "u1")

	// Only the first call probed the primary; the rest went straight to the
	// fallback until the recovery window passes.
	assert.Equal(t, 1, primary.calls)
}

func TestFailover_RecoversAfterWindow(t *testing.T) {
	logger := zerolog.Nop()

	// Start a real redis to learn an address, then stop it so the first call
	// fails.
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	addr := mr.Addr()
	mr.Close()

	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	cacheRedis := NewRedisPresenceCache(client)

	fallback := NewMemoryPresenceCache()
	cache := NewFailoverPresenceCache(cacheRedis, fallback, &logger)
	ctx := context.Background()

	// First call fails, marking the primary down.
	_ = cache.SetOnline(ctx, "u1", "customer", time.Minute)
	assert.True(t, cache.isDown.Load())

	require.NoError(t, mr.StartAddr(addr))
	t.Cleanup(mr.Close)

	// Age the failed probe past the recovery window so the next call retries
	// the primary.
	cache.lastCheck.Store(time.Now().Add(-2 * recoveryWindow).UnixNano())

	require.NoError(t, cache.SetOnline(ctx, "u1", "customer", time.Minute))
	assert.False(t, cache.isDown.Load())

	online, err := cacheRedis.IsOnline(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, online)
}

type countingCache struct {
	inner *RedisPresenceCache
	calls int
}

func (c *countingCache) SetOnline(ctx context.Context, userID, role string, ttl time.Duration) error {
	c.calls++
	return c.inner.SetOnline(ctx, userID, role, ttl)
}

func (c *countingCache) SetOffline(ctx context.Context, userID string) error {
	c.calls++
	return c.inner.SetOffline(ctx, userID)
}

func (c *countingCache) IsOnline(ctx context.Context, userID string) (bool, error) {
	c.calls++
	return c.inner.IsOnline(ctx, userID)
}

func (c *countingCache) CheckRateLimit(ctx context.Context, userID string, limit int, window time.Duration) (bool, error) {
	c.calls++
	return c.inner.CheckRateLimit(ctx, userID, limit, window)
}
