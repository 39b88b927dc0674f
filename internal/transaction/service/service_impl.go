package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/campaigncredit/internal/clock"
	"github.com/smallbiznis/campaigncredit/internal/config"
	ledgerdomain "github.com/smallbiznis/campaigncredit/internal/ledger/domain"
	pricingdomain "github.com/smallbiznis/campaigncredit/internal/pricing/domain"
	"github.com/smallbiznis/campaigncredit/internal/providers/slack"
	transactiondomain "github.com/smallbiznis/campaigncredit/internal/transaction/domain"
	"github.com/smallbiznis/campaigncredit/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Repo       transactiondomain.Repository
	LedgerRepo ledgerdomain.Repository
	Ledger     ledgerdomain.Service
	Pricing    pricingdomain.Service
	Policy     *config.CreditsPolicyHolder
	Clock      clock.Clock    `optional:"true"`
	Alerter    *slack.Alerter `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	repo       transactiondomain.Repository
	ledgerRepo ledgerdomain.Repository
	ledger     ledgerdomain.Service
	pricing    pricingdomain.Service
	policy     *config.CreditsPolicyHolder
	clock      clock.Clock
	alerter    *slack.Alerter
}

func NewService(p Params) transactiondomain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.System()
	}
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("transaction.service"),
		genID:      p.GenID,
		repo:       p.Repo,
		ledgerRepo: p.LedgerRepo,
		ledger:     p.Ledger,
		pricing:    p.Pricing,
		policy:     p.Policy,
		clock:      clk,
		alerter:    p.Alerter,
	}
}

// RequestPurchase records a pending purchase priced at the current unit
// price. The balance is untouched until an operator approves it.
func (s *Service) RequestPurchase(ctx context.Context, req transactiondomain.PurchaseRequest) (*transactiondomain.PurchaseResponse, error) {
	if req.TenantID == 0 {
		return nil, ledgerdomain.ErrInvalidTenant
	}
	if !req.Channel.Valid() {
		return nil, pricingdomain.ErrInvalidChannel
	}
	if err := s.checkQuantity(req.Quantity); err != nil {
		return nil, err
	}
	requestedBy := strings.TrimSpace(req.RequestedBy)
	if requestedBy == "" {
		return nil, transactiondomain.ErrInvalidRequester
	}

	price, err := s.pricing.GetPrice(ctx, req.Channel)
	if err != nil {
		return nil, err
	}
	total, err := price.Total(req.Quantity)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	txn := &ledgerdomain.Transaction{
		ID:          s.genID.Generate(),
		TenantID:    req.TenantID,
		Kind:        ledgerdomain.KindPurchase,
		Channel:     req.Channel,
		Quantity:    req.Quantity,
		UnitPrice:   price.UnitPrice,
		TotalCost:   total,
		Currency:    price.Currency,
		Status:      ledgerdomain.StatusPending,
		RequestedBy: requestedBy,
		Notes:       strings.TrimSpace(req.Notes),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.ledgerRepo.InsertTransaction(ctx, s.db, txn); err != nil {
		return nil, err
	}

	sla := s.policy.Get().PurchaseSLA
	s.log.Info("purchase requested",
		zap.String("tenant_id", txn.TenantID.String()),
		zap.String("transaction_id", txn.ID.String()),
		zap.String("channel", string(txn.Channel)),
		zap.Int64("quantity", txn.Quantity),
		zap.Int64("total_cost", txn.TotalCost),
	)
	s.alerter.Alert(ctx, fmt.Sprintf(
		"New purchase request %s: tenant %s wants %d %s credits (%d %s)",
		txn.ID, txn.TenantID, txn.Quantity, txn.Channel, txn.TotalCost, txn.Currency,
	))

	return &transactiondomain.PurchaseResponse{
		Transaction: txn,
		TotalCost:   txn.TotalCost,
		Currency:    txn.Currency,
		Status:      string(txn.Status),
		ExpectedBy:  now.Add(sla),
		ExpectedSLA: formatSLA(sla),
	}, nil
}

// Approve flips a pending request to approved and credits the balance in the
// same database transaction, using the quantity stored on the request.
func (s *Service) Approve(ctx context.Context, req transactiondomain.DecisionRequest) (*ledgerdomain.Transaction, error) {
	return s.decide(ctx, req, ledgerdomain.StatusApproved)
}

func (s *Service) Reject(ctx context.Context, req transactiondomain.DecisionRequest) (*ledgerdomain.Transaction, error) {
	return s.decide(ctx, req, ledgerdomain.StatusRejected)
}

func (s *Service) decide(ctx context.Context, req transactiondomain.DecisionRequest, to ledgerdomain.TransactionStatus) (*ledgerdomain.Transaction, error) {
	if req.TransactionID == 0 {
		return nil, transactiondomain.ErrPurchaseNotFound
	}
	decidedBy := strings.TrimSpace(req.DecidedBy)
	if decidedBy == "" {
		return nil, transactiondomain.ErrInvalidDecider
	}

	var txn *ledgerdomain.Transaction
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		won, err := s.repo.Decide(ctx, tx, transactiondomain.Decision{
			ID:        req.TransactionID,
			To:        to,
			DecidedBy: decidedBy,
			Notes:     strings.TrimSpace(req.Notes),
			At:        s.clock.Now().UTC(),
		})
		if err != nil {
			return err
		}

		txn, err = s.ledgerRepo.FindTransaction(ctx, tx, req.TransactionID)
		if err != nil {
			return err
		}
		if txn == nil || txn.Kind != ledgerdomain.KindPurchase {
			return transactiondomain.ErrPurchaseNotFound
		}
		if !won {
			return transactiondomain.ErrNotPending
		}
		if to != ledgerdomain.StatusApproved {
			return nil
		}
		return s.ledger.CreditApprovedTx(ctx, tx, txn)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("purchase request decided",
		zap.String("transaction_id", txn.ID.String()),
		zap.String("tenant_id", txn.TenantID.String()),
		zap.String("status", string(txn.Status)),
		zap.String("decided_by", decidedBy),
	)
	return txn, nil
}

func (s *Service) Get(ctx context.Context, tenantID, id snowflake.ID) (*ledgerdomain.Transaction, error) {
	txn, err := s.ledgerRepo.FindTransaction(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if txn == nil || (tenantID != 0 && txn.TenantID != tenantID) {
		return nil, ledgerdomain.ErrTransactionNotFound
	}
	return txn, nil
}

func (s *Service) List(ctx context.Context, req transactiondomain.ListRequest) (*transactiondomain.ListResponse, error) {
	if req.TenantID == 0 {
		return nil, ledgerdomain.ErrInvalidTenant
	}
	return s.list(ctx, req)
}

func (s *Service) ListPending(ctx context.Context, req transactiondomain.ListRequest) (*transactiondomain.ListResponse, error) {
	req.Kind = ledgerdomain.KindPurchase
	req.Status = ledgerdomain.StatusPending
	return s.list(ctx, req)
}

func (s *Service) list(ctx context.Context, req transactiondomain.ListRequest) (*transactiondomain.ListResponse, error) {
	if req.Channel != "" && !req.Channel.Valid() {
		return nil, pricingdomain.ErrInvalidChannel
	}

	filter := ledgerdomain.TransactionFilter{
		TenantID: req.TenantID,
		Channel:  req.Channel,
		Kind:     req.Kind,
		Status:   req.Status,
		Limit:    req.Limit() + 1,
	}
	if req.PageToken != "" {
		cursor, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return nil, transactiondomain.ErrInvalidPageToken
		}
		id, err := snowflake.ParseString(cursor.ID)
		if err != nil {
			return nil, transactiondomain.ErrInvalidPageToken
		}
		filter.BeforeID = id
	}

	rows, err := s.ledgerRepo.ListTransactions(ctx, s.db, filter)
	if err != nil {
		return nil, err
	}

	page, info := pagination.BuildCursorPage(rows, req.Limit(), func(t *ledgerdomain.Transaction) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{ID: t.ID.String()})
		if err != nil {
			return ""
		}
		return token
	})
	return &transactiondomain.ListResponse{Transactions: page, PageInfo: info}, nil
}

// AddCreditsManually credits a tenant directly, priced at the current unit price.
func (s *Service) AddCreditsManually(ctx context.Context, req transactiondomain.ManualCreditRequest) (*ledgerdomain.Transaction, error) {
	if !req.Channel.Valid() {
		return nil, pricingdomain.ErrInvalidChannel
	}
	if err := s.checkQuantity(req.Quantity); err != nil {
		return nil, err
	}
	price, err := s.pricing.GetPrice(ctx, req.Channel)
	if err != nil {
		return nil, err
	}
	if _, err := price.Total(req.Quantity); err != nil {
		return nil, err
	}

	return s.ledger.AddCredits(ctx, ledgerdomain.AddCreditsRequest{
		TenantID:   req.TenantID,
		Channel:    req.Channel,
		Quantity:   req.Quantity,
		UnitPrice:  price.UnitPrice,
		Currency:   price.Currency,
		ApprovedBy: req.ApprovedBy,
		Reference:  "manual",
		Notes:      req.Notes,
	})
}

// checkQuantity applies the same per-request cap as checkout orders.
func (s *Service) checkQuantity(quantity int64) error {
	if quantity <= 0 {
		return ledgerdomain.ErrInvalidQuantity
	}
	if quantity > s.policy.Get().MaxOrderQuantity {
		return ledgerdomain.ErrQuantityTooLarge
	}
	return nil
}

func formatSLA(d time.Duration) string {
	if d <= 0 {
		return "immediately"
	}
	if d%time.Hour == 0 {
		return strconv.FormatInt(int64(d/time.Hour), 10) + "h"
	}
	return d.String()
}
