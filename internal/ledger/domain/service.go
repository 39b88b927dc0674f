package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	pricingdomain "github.com/smallbiznis/campaigncredit/internal/pricing/domain"
	"gorm.io/gorm"
)

type Repository interface {
	EnsureBalance(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, now time.Time) error
	GetBalance(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) (*CreditBalance, error)
	// Decrement applies a guarded decrement and reports whether a row was updated.
	Decrement(ctx context.Context, db *gorm.DB, d Delta) (bool, error)
	Increment(ctx context.Context, db *gorm.DB, d Delta) error
	InsertTransaction(ctx context.Context, db *gorm.DB, txn *Transaction) error
	FindTransaction(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Transaction, error)
	ListTransactions(ctx context.Context, db *gorm.DB, filter TransactionFilter) ([]*Transaction, error)
}

// Delta describes a balance movement on one channel. Cost and Used only
// move on consumption.
type Delta struct {
	TenantID snowflake.ID
	Channel  pricingdomain.Channel
	Quantity int64
	Cost     int64
	Consume  bool
	At       time.Time
}

type TransactionFilter struct {
	TenantID snowflake.ID
	Channel  pricingdomain.Channel
	Kind     TransactionKind
	Status   TransactionStatus
	// BeforeID pages backwards through snowflake ids, newest first.
	BeforeID snowflake.ID
	Limit    int
}

// Service owns every mutation of credit_balances.
type Service interface {
	EnsureExists(ctx context.Context, tenantID snowflake.ID) error
	GetBalance(ctx context.Context, tenantID snowflake.ID) (*Balance, error)
	Consume(ctx context.Context, req ConsumeRequest) (*Transaction, error)
	AddCredits(ctx context.Context, req AddCreditsRequest) (*Transaction, error)
	AddCreditsTx(ctx context.Context, tx *gorm.DB, req AddCreditsRequest) (*Transaction, error)
	CreditApprovedTx(ctx context.Context, tx *gorm.DB, txn *Transaction) error
	Refund(ctx context.Context, req RefundRequest) (*Transaction, error)
	Adjust(ctx context.Context, req AdjustRequest) (*Transaction, error)
}

type ConsumeRequest struct {
	TenantID  snowflake.ID
	Channel   pricingdomain.Channel
	Quantity  int64
	Reference string
}

type AddCreditsRequest struct {
	TenantID   snowflake.ID
	Channel    pricingdomain.Channel
	Quantity   int64
	UnitPrice  int64
	Currency   string
	ApprovedBy string
	Reference  string
	Notes      string
	OrderID    *snowflake.ID
}

type RefundRequest struct {
	TenantID      snowflake.ID
	ConsumptionID snowflake.ID
	// Quantity returns part of the consumption; zero returns all of it.
	Quantity int64
	Notes    string
}

type AdjustRequest struct {
	TenantID   snowflake.ID
	Channel    pricingdomain.Channel
	Delta      int64
	ApprovedBy string
	Notes      string
}
