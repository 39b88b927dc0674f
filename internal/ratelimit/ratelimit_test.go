package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/campaigncredit/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledLimiterAllows(t *testing.T) {
	l, err := NewLimiter(config.Config{RateLimit: config.RateLimitConfig{Enabled: true}}, nil)
	require.NoError(t, err)
	assert.False(t, l.Enabled())

	res, err := l.AllowWebhook(context.Background(), "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	var nilLimiter *Limiter
	res, err = nilLimiter.AllowTenant(context.Background(), "1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestNilLockerIsSafe(t *testing.T) {
	var l *Locker
	_, _, err := l.TryLock(context.Background(), "k", time.Second)
	assert.Error(t, err)
	assert.NoError(t, l.Release(context.Background(), "k", "t"))
	assert.Nil(t, NewLocker(nil))
}

func TestBuildResult(t *testing.T) {
	res := buildResult(false, 0.5, Limit{Rate: 2, Burst: 10})
	assert.False(t, res.Allowed)
	assert.Equal(t, 250*time.Millisecond, res.RetryAfter)
	assert.Equal(t, 4750*time.Millisecond, res.ResetAfter)
	assert.Equal(t, 10, res.Limit)

	res = buildResult(true, 10, Limit{Rate: 2, Burst: 10})
	assert.True(t, res.Allowed)
	assert.Equal(t, 10, res.Remaining)
	assert.Zero(t, res.RetryAfter)
	assert.Zero(t, res.ResetAfter)
}

func TestDefaultBucketTTL(t *testing.T) {
	assert.Equal(t, time.Second, defaultBucketTTL(0, 1))
	assert.Equal(t, 4*time.Second, defaultBucketTTL(20, 40))
	assert.Equal(t, time.Second, defaultBucketTTL(1000, 1))
}

func TestCastHelpers(t *testing.T) {
	assert.Equal(t, int64(1), castToInt(int64(1)))
	assert.Equal(t, int64(0), castToInt("x"))
	assert.Equal(t, 2.5, castToFloat("2.5"))
	assert.Equal(t, float64(3), castToFloat(int64(3)))
	assert.Equal(t, float64(0), castToFloat("nope"))
}
