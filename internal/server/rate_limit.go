package server

import (
	"context"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/campaigncredit/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/campaigncredit/internal/observability/metrics"
	"github.com/smallbiznis/campaigncredit/internal/ratelimit"
	"github.com/smallbiznis/campaigncredit/internal/tenantcontext"
	"go.uber.org/zap"
)

const (
	rateLimitReasonTenantRate    = "tenant-rate"
	rateLimitReasonWebhookSource = "webhook-source"
)

// TenantRateLimit throttles tenant API calls per tenant.
func (s *Server) TenantRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Enabled() {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		tenantID, ok := tenantcontext.TenantIDFromContext(ctx)
		if !ok {
			c.Next()
			return
		}

		result, err := s.limiter.AllowTenant(ctx, tenantID.String())
		if err != nil {
			logger.FromContext(ctx).Warn("tenant rate limit check failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		if !result.Allowed {
			denyRateLimit(c, result, rateLimitReasonTenantRate, s.obsMetrics)
			return
		}
		setRateLimitHeaders(c, result)
		c.Next()
	}
}

// WebhookRateLimit throttles provider notifications per source IP. A redis
// failure lets the notification through so the provider does not back off.
func (s *Server) WebhookRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Enabled() {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		result, err := s.limiter.AllowWebhook(ctx, c.ClientIP())
		if err != nil {
			logger.FromContext(ctx).Warn("webhook rate limit check failed", zap.Error(err))
			c.Next()
			return
		}
		if !result.Allowed {
			denyRateLimit(c, result, rateLimitReasonWebhookSource, s.obsMetrics)
			return
		}
		c.Next()
	}
}

func denyRateLimit(c *gin.Context, result *ratelimit.Result, reason string, metrics *obsmetrics.Metrics) {
	ctx := c.Request.Context()
	endpoint := normalizeRateLimitEndpoint(c)
	logger.FromContext(ctx).Warn("rate limit exceeded",
		zap.String("reason", reason),
		zap.String("endpoint", endpoint),
	)
	recordRateLimitDenied(ctx, endpoint, reason, metrics)

	setRateLimitHeaders(c, result)
	c.Header("Retry-After", retryAfterSeconds(result.RetryAfter))
	c.Header("X-Rate-Limited-Reason", reason)
	AbortWithError(c, ErrRateLimited)
}

func setRateLimitHeaders(c *gin.Context, result *ratelimit.Result) {
	if result == nil || result.Limit <= 0 {
		return
	}
	c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	if result.ResetAfter > 0 {
		c.Header("X-RateLimit-Reset", retryAfterSeconds(result.ResetAfter))
	}
}

func retryAfterSeconds(d time.Duration) string {
	seconds := int(math.Ceil(d.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	return strconv.Itoa(seconds)
}

func recordRateLimitDenied(ctx context.Context, endpoint, reason string, metrics *obsmetrics.Metrics) {
	if metrics == nil {
		return
	}
	metrics.RecordRateLimitDenied(ctx, endpoint, reason)
}

func normalizeRateLimitEndpoint(c *gin.Context) string {
	if c == nil {
		return "unknown"
	}
	endpoint := strings.TrimSpace(c.FullPath())
	if endpoint == "" {
		endpoint = strings.TrimSpace(c.Request.URL.Path)
	}
	if endpoint == "" {
		endpoint = "unknown"
	}
	return endpoint
}
