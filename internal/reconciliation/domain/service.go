package domain

import (
	"context"

	orderdomain "github.com/smallbiznis/campaigncredit/internal/order/domain"
	paymentdomain "github.com/smallbiznis/campaigncredit/internal/payment/domain"
)

// Service turns provider notifications into at-most-once credit grants.
type Service interface {
	orderdomain.PaymentApplier

	HandleNotification(ctx context.Context, event *paymentdomain.Event) (*orderdomain.ApplyResult, error)
	ReplayDue(ctx context.Context, limit int) (*ReplaySummary, error)
	ListNotifications(ctx context.Context, status paymentdomain.NotificationStatus, limit int) ([]*paymentdomain.Notification, error)
}

type ReplaySummary struct {
	Processed int `json:"processed"`
	Retried   int `json:"retried"`
	Dead      int `json:"dead"`
}
