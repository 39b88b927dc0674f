package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// Deletes the lease only while it still carries the caller's token.
// Returns -1 when the key is gone, 0 when another holder owns it.
const leaseReleaseScript = `
local current = redis.call("GET", KEYS[1])
if current == false then
  return -1
end
if current ~= ARGV[1] then
  return 0
end
return redis.call("DEL", KEYS[1])
`

// ErrLeaseLost means the lease expired or was taken over before release.
var ErrLeaseLost = errors.New("lease_lost")

// Locker hands out short exclusive leases on redis keys so only one replica
// runs a scheduler job at a time.
type Locker struct {
	client  *redis.Client
	release *redis.Script
}

func NewLocker(client *redis.Client) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{
		client:  client,
		release: redis.NewScript(leaseReleaseScript),
	}
}

// TryLock reports ok=false without an error when someone else holds key.
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	switch {
	case l == nil || l.client == nil:
		return "", false, errors.New("lock client not configured")
	case strings.TrimSpace(key) == "":
		return "", false, errors.New("lock key is empty")
	case ttl < time.Millisecond:
		return "", false, errors.New("lock ttl must be at least 1ms")
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("acquire %s: %w", key, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

func (l *Locker) Release(ctx context.Context, key, token string) error {
	if l == nil || l.client == nil || key == "" || token == "" {
		return nil
	}
	n, err := l.release.Run(ctx, l.client, []string{key}, token).Int()
	if err != nil {
		return fmt.Errorf("release %s: %w", key, err)
	}
	if n != 1 {
		return ErrLeaseLost
	}
	return nil
}
