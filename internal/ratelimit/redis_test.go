package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/campaigncredit/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func TestTokenBucketDeniesAfterBurst(t *testing.T) {
	client, _ := newTestRedis(t)
	bucket := NewTokenBucket(client)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := bucket.Allow(ctx, "credits:test", Limit{Rate: 0.01, Burst: 2})
		require.NoError(t, err)
		assert.True(t, res.Allowed, "request %d", i)
	}

	res, err := bucket.Allow(ctx, "credits:test", Limit{Rate: 0.01, Burst: 2})
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 2, res.Limit)
	assert.Positive(t, res.RetryAfter)
	assert.Greater(t, res.ResetAfter, res.RetryAfter)

	res, err = bucket.Allow(ctx, "credits:other", Limit{Rate: 0.01, Burst: 2})
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestTokenBucketRejectsBadInput(t *testing.T) {
	client, _ := newTestRedis(t)
	bucket := NewTokenBucket(client)
	ctx := context.Background()

	_, err := bucket.Allow(ctx, "", Limit{Rate: 1, Burst: 1})
	assert.Error(t, err)
	_, err = bucket.Allow(ctx, "k", Limit{Burst: 1})
	assert.Error(t, err)
	res, err := bucket.Allow(ctx, "k", Limit{Rate: 1})
	assert.Error(t, err)
	assert.False(t, res.Allowed)
}

func TestLimiterSeparatesTenantsAndSources(t *testing.T) {
	client, _ := newTestRedis(t)
	limiter, err := NewLimiter(config.Config{RateLimit: config.RateLimitConfig{
		Enabled:      true,
		WebhookRate:  0.01,
		WebhookBurst: 1,
		TenantRate:   0.01,
		TenantBurst:  1,
	}}, client)
	require.NoError(t, err)
	require.True(t, limiter.Enabled())
	ctx := context.Background()

	res, err := limiter.AllowTenant(ctx, "1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	res, err = limiter.AllowTenant(ctx, "1")
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	res, err = limiter.AllowTenant(ctx, "2")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = limiter.AllowWebhook(ctx, "1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestNewLimiterValidatesRates(t *testing.T) {
	client, _ := newTestRedis(t)
	_, err := NewLimiter(config.Config{RateLimit: config.RateLimitConfig{Enabled: true, TenantRate: 1, TenantBurst: 1}}, client)
	assert.Error(t, err)
}

func TestLockerIsExclusiveUntilReleased(t *testing.T) {
	client, mr := newTestRedis(t)
	locker := NewLocker(client)
	ctx := context.Background()

	token, ok, err := locker.TryLock(ctx, "campaigncredit:scheduler:expire_orders", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEmpty(t, token)

	_, ok, err = locker.TryLock(ctx, "campaigncredit:scheduler:expire_orders", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	// a stale token must not release someone else's lock
	assert.ErrorIs(t, locker.Release(ctx, "campaigncredit:scheduler:expire_orders", "other"), ErrLeaseLost)
	assert.True(t, mr.Exists("campaigncredit:scheduler:expire_orders"))

	require.NoError(t, locker.Release(ctx, "campaigncredit:scheduler:expire_orders", token))
	assert.False(t, mr.Exists("campaigncredit:scheduler:expire_orders"))

	_, ok, err = locker.TryLock(ctx, "campaigncredit:scheduler:expire_orders", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLockerExpires(t *testing.T) {
	client, mr := newTestRedis(t)
	locker := NewLocker(client)
	ctx := context.Background()

	token, ok, err := locker.TryLock(ctx, "lock", 5*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(6 * time.Second)
	assert.ErrorIs(t, locker.Release(ctx, "lock", token), ErrLeaseLost)

	_, ok, err = locker.TryLock(ctx, "lock", 5*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}
