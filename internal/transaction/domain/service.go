package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/smallbiznis/campaigncredit/internal/ledger/domain"
	pricingdomain "github.com/smallbiznis/campaigncredit/internal/pricing/domain"
	"github.com/smallbiznis/campaigncredit/pkg/db/pagination"
	"gorm.io/gorm"
)

type Repository interface {
	// Decide moves a pending purchase request to a terminal status and
	// reports whether this call won the transition.
	Decide(ctx context.Context, db *gorm.DB, d Decision) (bool, error)
}

type Decision struct {
	ID        snowflake.ID
	To        ledgerdomain.TransactionStatus
	DecidedBy string
	Notes     string
	At        time.Time
}

// Service is the manual purchase workflow: tenants request credits and an
// operator approves or rejects each request.
type Service interface {
	RequestPurchase(ctx context.Context, req PurchaseRequest) (*PurchaseResponse, error)
	Approve(ctx context.Context, req DecisionRequest) (*ledgerdomain.Transaction, error)
	Reject(ctx context.Context, req DecisionRequest) (*ledgerdomain.Transaction, error)
	Get(ctx context.Context, tenantID, id snowflake.ID) (*ledgerdomain.Transaction, error)
	List(ctx context.Context, req ListRequest) (*ListResponse, error)
	ListPending(ctx context.Context, req ListRequest) (*ListResponse, error)
	AddCreditsManually(ctx context.Context, req ManualCreditRequest) (*ledgerdomain.Transaction, error)
}

type PurchaseRequest struct {
	TenantID    snowflake.ID          `json:"-"`
	Channel     pricingdomain.Channel `json:"channel"`
	Quantity    int64                 `json:"quantity"`
	RequestedBy string                `json:"-"`
	Notes       string                `json:"notes"`
}

type PurchaseResponse struct {
	Transaction *ledgerdomain.Transaction `json:"transaction"`
	TotalCost   int64                     `json:"total_cost"`
	Currency    string                    `json:"currency"`
	Status      string                    `json:"status"`
	ExpectedBy  time.Time                 `json:"expected_by"`
	ExpectedSLA string                    `json:"expected_sla"`
}

type DecisionRequest struct {
	TransactionID snowflake.ID `json:"-"`
	DecidedBy     string       `json:"-"`
	Notes         string       `json:"notes"`
}

type ListRequest struct {
	TenantID snowflake.ID
	Channel  pricingdomain.Channel
	Kind     ledgerdomain.TransactionKind
	Status   ledgerdomain.TransactionStatus
	pagination.Pagination
}

type ListResponse struct {
	Transactions []*ledgerdomain.Transaction `json:"transactions"`
	PageInfo     *pagination.PageInfo        `json:"page_info"`
}

type ManualCreditRequest struct {
	TenantID   snowflake.ID          `json:"-"`
	Channel    pricingdomain.Channel `json:"channel"`
	Quantity   int64                 `json:"quantity"`
	ApprovedBy string                `json:"-"`
	Notes      string                `json:"notes"`
}

var (
	ErrInvalidRequester = errors.New("invalid_requester")
	ErrInvalidDecider   = errors.New("invalid_decider")
	ErrInvalidPageToken = errors.New("invalid_page_token")
	ErrPurchaseNotFound = errors.New("purchase_request_not_found")
	ErrNotPending       = errors.New("purchase_request_not_pending")
)
