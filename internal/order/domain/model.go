package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	paymentdomain "github.com/smallbiznis/campaigncredit/internal/payment/domain"
	pricingdomain "github.com/smallbiznis/campaigncredit/internal/pricing/domain"
	"github.com/smallbiznis/campaigncredit/pkg/db/pagination"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Order is a self-service credit purchase paid through hosted checkout.
// Its id is the external reference echoed back by the provider.
type Order struct {
	ID                  snowflake.ID          `json:"id" gorm:"primaryKey;autoIncrement:false"`
	TenantID            snowflake.ID          `json:"tenant_id" gorm:"not null;index"`
	RequestedBy         string                `json:"requested_by" gorm:"type:text;not null;default:''"`
	Channel             pricingdomain.Channel `json:"channel" gorm:"type:text;not null"`
	Quantity            int64                 `json:"quantity" gorm:"not null"`
	UnitPrice           int64                 `json:"unit_price" gorm:"not null"`
	TotalAmount         int64                 `json:"total_amount" gorm:"not null"`
	Currency            string                `json:"currency" gorm:"type:text;not null"`
	Provider            string                `json:"provider" gorm:"type:text;not null"`
	PreferenceID        string                `json:"preference_id" gorm:"type:text;not null;index"`
	CheckoutURL         string                `json:"checkout_url" gorm:"type:text;not null;default:''"`
	SandboxCheckoutURL  string                `json:"sandbox_checkout_url,omitempty" gorm:"type:text;not null;default:''"`
	Status              Status                `json:"status" gorm:"type:text;not null;index"`
	PaymentID           *string               `json:"payment_id,omitempty" gorm:"type:text"`
	PaymentStatus       string                `json:"payment_status,omitempty" gorm:"type:text;not null;default:''"`
	PaymentStatusDetail string                `json:"payment_status_detail,omitempty" gorm:"type:text;not null;default:''"`
	PaymentMethod       string                `json:"payment_method,omitempty" gorm:"type:text;not null;default:''"`
	PaymentMetadata     datatypes.JSON        `json:"payment_metadata,omitempty" gorm:"type:jsonb"`
	TransactionID       *snowflake.ID         `json:"transaction_id,omitempty"`
	ExpiresAt           time.Time             `json:"expires_at" gorm:"not null;index"`
	ProcessedAt         *time.Time            `json:"processed_at,omitempty"`
	CreatedAt           time.Time             `json:"created_at" gorm:"not null"`
	UpdatedAt           time.Time             `json:"updated_at" gorm:"not null"`
}

func (Order) TableName() string { return "credit_orders" }

// Creditable reports whether an approved payment may still complete the order.
// A failed order stays creditable because the checkout accepts another attempt.
func (s Status) Creditable() bool {
	return s == StatusPending || s == StatusFailed
}

// IsExpired reports whether the checkout window has closed on a pending order.
func (o *Order) IsExpired(now time.Time) bool {
	return o.Status == StatusPending && !now.Before(o.ExpiresAt)
}

type PaymentUpdate struct {
	OrderID       snowflake.ID
	PaymentID     string
	Status        string
	StatusDetail  string
	PaymentMethod string
	Metadata      datatypes.JSON
	At            time.Time
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, order *Order) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Order, error)
	List(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, beforeID snowflake.ID, limit int) ([]*Order, error)
	// RecordPayment stores the latest provider view regardless of order status.
	RecordPayment(ctx context.Context, db *gorm.DB, update PaymentUpdate) error
	// Transition moves an order out of any of the from statuses and reports
	// whether this call won.
	Transition(ctx context.Context, db *gorm.DB, id snowflake.ID, to Status, at time.Time, from ...Status) (bool, error)
	SetTransaction(ctx context.Context, db *gorm.DB, id, transactionID snowflake.ID, at time.Time) error
	ListExpired(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) ([]*Order, error)
}

type Service interface {
	CreateOrder(ctx context.Context, req CreateOrderRequest) (*OrderView, error)
	GetOrderStatus(ctx context.Context, tenantID, orderID snowflake.ID) (*OrderView, error)
	ListOrders(ctx context.Context, req ListOrdersRequest) (*ListOrdersResponse, error)
	ManualReconcile(ctx context.Context, req ManualReconcileRequest) (*ReconcileResponse, error)
	ExpireStale(ctx context.Context, limit int) (int, error)
}

// PaymentApplier applies an authoritative payment to the order it references.
type PaymentApplier interface {
	ApplyPayment(ctx context.Context, payment *paymentdomain.Payment) (*ApplyResult, error)
}

type Outcome string

const (
	OutcomeIgnored  Outcome = "ignored"
	OutcomeCredited Outcome = "credited"
	OutcomeRecorded Outcome = "recorded"
	OutcomeFailed   Outcome = "failed"
	OutcomeDeferred Outcome = "deferred"
	OutcomeNotFound Outcome = "not_found"
)

type ApplyResult struct {
	Outcome       Outcome       `json:"outcome"`
	OrderID       snowflake.ID  `json:"order_id,omitempty"`
	OrderStatus   Status        `json:"order_status,omitempty"`
	PaymentID     string        `json:"payment_id,omitempty"`
	PaymentStatus string        `json:"payment_status,omitempty"`
	TransactionID *snowflake.ID `json:"transaction_id,omitempty"`
}

type CreateOrderRequest struct {
	TenantID    snowflake.ID          `json:"-"`
	RequestedBy string                `json:"-"`
	PayerEmail  string                `json:"payer_email"`
	Channel     pricingdomain.Channel `json:"channel"`
	Quantity    int64                 `json:"quantity"`
}

type OrderView struct {
	*Order
	IsExpired bool `json:"is_expired"`
}

type ListOrdersRequest struct {
	TenantID snowflake.ID
	pagination.Pagination
}

type ListOrdersResponse struct {
	Orders   []*OrderView         `json:"orders"`
	PageInfo *pagination.PageInfo `json:"page_info"`
}

type ReconcileResponse struct {
	Order  *OrderView   `json:"order"`
	Result *ApplyResult `json:"result"`
}

type ManualReconcileRequest struct {
	TenantID  snowflake.ID `json:"-"`
	OrderID   snowflake.ID `json:"-"`
	PaymentID string       `json:"payment_id"`
}

var (
	ErrOrderNotFound     = errors.New("order_not_found")
	ErrOrderNotCompleted = errors.New("order_not_completed")
	ErrInvalidQuantity   = errors.New("invalid_quantity")
	ErrQuantityTooLarge  = errors.New("invalid_quantity_too_large")
	ErrInvalidPaymentID  = errors.New("invalid_payment_id")
	ErrInvalidPageToken  = errors.New("invalid_page_token")
	ErrReferenceMismatch = errors.New("payment_reference_mismatch")
)
