package ratelimit

import (
	"context"
	"errors"
	"math"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// KEYS[1] bucket hash. ARGV: rate per second, burst, ttl in ms.
// Refill is computed from the redis server clock so replicas agree. Returns
// {allowed, tokens left as a string}.
const tokenBucketScript = `
local rate, burst, ttl = tonumber(ARGV[1]), tonumber(ARGV[2]), tonumber(ARGV[3])
local t = redis.call("TIME")
local now = t[1] * 1000 + math.floor(t[2] / 1000)

local state = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens, last = tonumber(state[1]), tonumber(state[2])
if tokens == nil or last == nil then
  tokens = burst
else
  local elapsed = math.max(0, now - last)
  tokens = math.min(burst, tokens + elapsed * rate / 1000)
end

local allowed = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
end

redis.call("HSET", KEYS[1], "tokens", tokens, "ts", now)
redis.call("PEXPIRE", KEYS[1], ttl)
return {allowed, tostring(tokens)}
`

// Limit is a refill rate in tokens per second and a bucket capacity.
type Limit struct {
	Rate  float64
	Burst int
}

func (l Limit) valid() bool {
	return l.Rate > 0 && l.Burst > 0
}

type TokenBucket struct {
	client *redis.Client
	script *redis.Script
}

type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	// RetryAfter is the wait until one token is available again.
	RetryAfter time.Duration
	// ResetAfter is the wait until the bucket is full.
	ResetAfter time.Duration
}

func NewTokenBucket(client *redis.Client) *TokenBucket {
	if client == nil {
		return nil
	}
	return &TokenBucket{
		client: client,
		script: redis.NewScript(tokenBucketScript),
	}
}

// Allow takes one token from key. Errors always come with a denied result so
// callers pick their own failure mode.
func (t *TokenBucket) Allow(ctx context.Context, key string, limit Limit) (*Result, error) {
	denied := &Result{Allowed: false}
	switch {
	case t == nil || t.client == nil:
		return denied, errors.New("rate limiter not configured")
	case key == "":
		return denied, errors.New("rate limiter key is empty")
	case !limit.valid():
		return denied, errors.New("rate limiter rate and burst must be positive")
	}

	ttl := defaultBucketTTL(limit.Rate, limit.Burst)
	res, err := t.script.Run(ctx, t.client, []string{key},
		limit.Rate,
		limit.Burst,
		ttl.Milliseconds(),
	).Slice()
	if err != nil {
		return denied, err
	}
	if len(res) < 2 {
		return denied, errors.New("invalid rate limit script response")
	}

	return buildResult(castToInt(res[0]) == 1, castToFloat(res[1]), limit), nil
}

func buildResult(allowed bool, remaining float64, limit Limit) *Result {
	res := &Result{
		Allowed:   allowed,
		Limit:     limit.Burst,
		Remaining: int(remaining),
	}
	if limit.Rate <= 0 {
		return res
	}
	if !allowed && remaining < 1 {
		res.RetryAfter = time.Duration((1 - remaining) / limit.Rate * float64(time.Second))
	}
	if missing := float64(limit.Burst) - remaining; missing > 0 {
		res.ResetAfter = time.Duration(missing / limit.Rate * float64(time.Second))
	}
	return res
}

func defaultBucketTTL(rate float64, burst int) time.Duration {
	if rate <= 0 || burst <= 0 {
		return time.Second
	}
	seconds := math.Ceil((float64(burst) / rate) * 2)
	if seconds < 1 {
		seconds = 1
	}
	return time.Duration(seconds) * time.Second
}

func castToInt(v interface{}) int64 {
	switch val := v.(type) {
	case int64:
		return val
	case int:
		return int64(val)
	case float64:
		return int64(val)
	default:
		return 0
	}
}

// Lua numbers are truncated to integers on the way out, so the script
// returns the token count as a string.
func castToFloat(v interface{}) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case int64:
		return float64(val)
	case string:
		parsed, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0
		}
		return parsed
	default:
		return 0
	}
}
