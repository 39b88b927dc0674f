package pdf

import (
	"context"
	"time"
)

// Provider renders customer-facing documents.
type Provider interface {
	GenerateReceipt(ctx context.Context, data ReceiptData) ([]byte, error)
}

// ReceiptData describes a paid credit order. Amounts are in minor units.
type ReceiptData struct {
	OrderID       string
	TenantID      string
	Channel       string
	Quantity      int64
	UnitPrice     int64
	TotalAmount   int64
	Currency      string
	PaymentID     string
	PaymentMethod string
	PaidAt        time.Time
}

type NoOpProvider struct{}

func (p *NoOpProvider) GenerateReceipt(ctx context.Context, data ReceiptData) ([]byte, error) {
	return nil, nil
}
