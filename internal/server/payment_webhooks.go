package server

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/campaigncredit/internal/audit/domain"
	"github.com/smallbiznis/campaigncredit/internal/authorization"
	"github.com/smallbiznis/campaigncredit/internal/observability/logger"
	paymentdomain "github.com/smallbiznis/campaigncredit/internal/payment/domain"
	"github.com/smallbiznis/campaigncredit/internal/payment/webhook"
	"go.uber.org/zap"
)

const (
	maxWebhookBody        = 64 << 10
	defaultListLimit      = 50
	maxNotificationsLimit = 500
)

func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	provider := strings.ToLower(strings.TrimSpace(c.Param("provider")))
	if provider != s.cfg.Gateway.Provider {
		AbortWithError(c, ErrNotFound)
		return
	}

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	event, err := webhook.Parse(provider, c.Request.Header, c.Request.URL.Query(), payload)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	ctx := c.Request.Context()
	log := logger.FromContext(ctx).With(
		zap.String("provider", provider),
		zap.String("topic", event.Topic),
		zap.String("action", event.Action),
		zap.String("payment_id", event.DataID),
	)

	if event.IsPayment() {
		if err := s.verifier.VerifyNotification(c.Request.Header, event.DataID); err != nil {
			log.Warn("payment webhook rejected", zap.Error(err))
			AbortWithError(c, err)
			return
		}
	}

	result, err := s.reconciliationSvc.HandleNotification(ctx, event)
	if err != nil {
		log.Warn("payment webhook not applied", zap.Error(err))
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok", "data": result})
}

func (s *Server) ListPaymentNotifications(c *gin.Context) {
	status := paymentdomain.NotificationStatus(strings.ToLower(strings.TrimSpace(c.Query("status"))))
	switch status {
	case "", paymentdomain.NotificationPending, paymentdomain.NotificationProcessed, paymentdomain.NotificationDead:
	default:
		AbortWithError(c, newValidationError("status", "invalid_status", "invalid status"))
		return
	}

	limit, err := parseLimit(c.Query("limit"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.reconciliationSvc.ListNotifications(c.Request.Context(), status, limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// ReplayPaymentNotifications runs one replay pass without waiting for the scheduler.
func (s *Server) ReplayPaymentNotifications(c *gin.Context) {
	limit, err := parseLimit(c.Query("limit"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.reconciliationSvc.ReplayDue(c.Request.Context(), limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.recordAudit(c, nil, auditdomain.ActionNotificationReplay, authorization.ObjectNotification, "", map[string]any{
		"processed": resp.Processed,
		"retried":   resp.Retried,
		"dead":      resp.Dead,
	})
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func parseLimit(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return defaultListLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, newValidationError("limit", "invalid_limit", "invalid limit")
	}
	if limit > maxNotificationsLimit {
		limit = maxNotificationsLimit
	}
	return limit, nil
}
