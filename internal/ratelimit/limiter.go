package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/campaigncredit/internal/config"
)

const (
	keyWebhookSource = "credits:webhook:source:%s"
	keyTenantAPI     = "credits:tenant:%s"
)

// Limiter guards the webhook endpoint per source address and the tenant
// API per tenant. A nil or disabled limiter allows everything.
type Limiter struct {
	enabled bool
	bucket  *TokenBucket
	webhook Limit
	tenant  Limit
}

func NewLimiter(cfg config.Config, client *redis.Client) (*Limiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled || client == nil {
		return &Limiter{}, nil
	}
	webhook := Limit{Rate: limitCfg.WebhookRate, Burst: limitCfg.WebhookBurst}
	if !webhook.valid() {
		return nil, errors.New("webhook rate limit must be positive")
	}
	tenant := Limit{Rate: limitCfg.TenantRate, Burst: limitCfg.TenantBurst}
	if !tenant.valid() {
		return nil, errors.New("tenant rate limit must be positive")
	}

	return &Limiter{
		enabled: true,
		bucket:  NewTokenBucket(client),
		webhook: webhook,
		tenant:  tenant,
	}, nil
}

func (l *Limiter) Enabled() bool {
	return l != nil && l.enabled
}

func (l *Limiter) AllowWebhook(ctx context.Context, source string) (*Result, error) {
	if !l.Enabled() {
		return &Result{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyWebhookSource, strings.TrimSpace(source)), l.webhook)
}

func (l *Limiter) AllowTenant(ctx context.Context, tenantID string) (*Result, error) {
	if !l.Enabled() {
		return &Result{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyTenantAPI, strings.TrimSpace(tenantID)), l.tenant)
}
