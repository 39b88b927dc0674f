package service

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/campaigncredit/internal/clock"
	ledgerdomain "github.com/smallbiznis/campaigncredit/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/campaigncredit/internal/observability/metrics"
	pricingdomain "github.com/smallbiznis/campaigncredit/internal/pricing/domain"
	"github.com/smallbiznis/campaigncredit/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Repo       ledgerdomain.Repository
	Pricing    pricingdomain.Service
	Clock      clock.Clock         `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	repo       ledgerdomain.Repository
	pricing    pricingdomain.Service
	clock      clock.Clock
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) ledgerdomain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.System()
	}
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("ledger.service"),
		genID:      p.GenID,
		repo:       p.Repo,
		pricing:    p.Pricing,
		clock:      clk,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) EnsureExists(ctx context.Context, tenantID snowflake.ID) error {
	if tenantID == 0 {
		return ledgerdomain.ErrInvalidTenant
	}
	return s.repo.EnsureBalance(ctx, s.db, tenantID, s.now())
}

func (s *Service) GetBalance(ctx context.Context, tenantID snowflake.ID) (*ledgerdomain.Balance, error) {
	if err := s.EnsureExists(ctx, tenantID); err != nil {
		return nil, err
	}
	row, err := s.repo.GetBalance(ctx, s.db, tenantID)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, ledgerdomain.ErrInvalidTenant
	}
	return ledgerdomain.BalanceFromRow(row), nil
}

// Consume debits credits with a single guarded UPDATE so concurrent callers
// can never drive available below zero.
func (s *Service) Consume(ctx context.Context, req ledgerdomain.ConsumeRequest) (*ledgerdomain.Transaction, error) {
	if req.TenantID == 0 {
		return nil, ledgerdomain.ErrInvalidTenant
	}
	if !req.Channel.Valid() {
		return nil, pricingdomain.ErrInvalidChannel
	}
	if req.Quantity <= 0 {
		return nil, ledgerdomain.ErrInvalidQuantity
	}

	price, err := s.pricing.GetPrice(ctx, req.Channel)
	if err != nil {
		return nil, err
	}
	cost, err := price.Total(req.Quantity)
	if err != nil {
		return nil, err
	}

	var txn *ledgerdomain.Transaction
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.now()
		if err := s.repo.EnsureBalance(ctx, tx, req.TenantID, now); err != nil {
			return err
		}

		ok, err := s.repo.Decrement(ctx, tx, ledgerdomain.Delta{
			TenantID: req.TenantID,
			Channel:  req.Channel,
			Quantity: req.Quantity,
			Cost:     cost,
			Consume:  true,
			At:       now,
		})
		if err != nil {
			return err
		}
		if !ok {
			return s.insufficient(ctx, tx, req.TenantID, req.Channel, req.Quantity)
		}

		txn = &ledgerdomain.Transaction{
			ID:        s.genID.Generate(),
			TenantID:  req.TenantID,
			Kind:      ledgerdomain.KindConsumption,
			Channel:   req.Channel,
			Quantity:  -req.Quantity,
			UnitPrice: price.UnitPrice,
			TotalCost: cost,
			Currency:  price.Currency,
			Status:    ledgerdomain.StatusCompleted,
			Reference: strings.TrimSpace(req.Reference),
			CreatedAt: now,
			UpdatedAt: now,
		}
		return s.repo.InsertTransaction(ctx, tx, txn)
	})
	if err != nil {
		if errors.Is(err, ledgerdomain.ErrInsufficientCredits) && s.obsMetrics != nil {
			s.obsMetrics.RecordInsufficientCredits(ctx, string(req.Channel))
		}
		return nil, err
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordConsumption(ctx, string(req.Channel), req.Quantity)
	}
	return txn, nil
}

func (s *Service) AddCredits(ctx context.Context, req ledgerdomain.AddCreditsRequest) (*ledgerdomain.Transaction, error) {
	var txn *ledgerdomain.Transaction
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		txn, err = s.AddCreditsTx(ctx, tx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return txn, nil
}

// AddCreditsTx credits a tenant inside the caller's transaction and records a
// completed purchase row. A non-nil OrderID may only be credited once.
func (s *Service) AddCreditsTx(ctx context.Context, tx *gorm.DB, req ledgerdomain.AddCreditsRequest) (*ledgerdomain.Transaction, error) {
	if err := validateAddCredits(req); err != nil {
		return nil, err
	}

	now := s.now()
	txn := &ledgerdomain.Transaction{
		ID:         s.genID.Generate(),
		TenantID:   req.TenantID,
		Kind:       ledgerdomain.KindPurchase,
		Channel:    req.Channel,
		Quantity:   req.Quantity,
		UnitPrice:  req.UnitPrice,
		TotalCost:  req.Quantity * req.UnitPrice,
		Currency:   strings.ToUpper(strings.TrimSpace(req.Currency)),
		Status:     ledgerdomain.StatusCompleted,
		ApprovedBy: strings.TrimSpace(req.ApprovedBy),
		ApprovedAt: &now,
		Reference:  strings.TrimSpace(req.Reference),
		Notes:      strings.TrimSpace(req.Notes),
		OrderID:    req.OrderID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.repo.EnsureBalance(ctx, tx, req.TenantID, now); err != nil {
		return nil, err
	}
	if err := s.repo.InsertTransaction(ctx, tx, txn); err != nil {
		if req.OrderID != nil && db.IsDuplicateKeyErr(err) {
			return nil, ledgerdomain.ErrDuplicateOrder
		}
		return nil, err
	}
	if err := s.repo.Increment(ctx, tx, ledgerdomain.Delta{
		TenantID: req.TenantID,
		Channel:  req.Channel,
		Quantity: req.Quantity,
		At:       now,
	}); err != nil {
		return nil, err
	}

	source := "manual"
	if req.OrderID != nil {
		source = "payment"
	}
	if s.obsMetrics != nil {
		s.obsMetrics.RecordCreditsAdded(ctx, string(req.Channel), source, req.Quantity)
	}
	s.log.Info("credits added",
		zap.String("tenant_id", req.TenantID.String()),
		zap.String("channel", string(req.Channel)),
		zap.Int64("quantity", req.Quantity),
		zap.String("source", source),
		zap.String("transaction_id", txn.ID.String()),
	)
	return txn, nil
}

// CreditApprovedTx credits the balance for a purchase request that the caller
// has just moved to approved. The request row itself is the journal entry.
func (s *Service) CreditApprovedTx(ctx context.Context, tx *gorm.DB, txn *ledgerdomain.Transaction) error {
	if txn == nil || txn.Kind != ledgerdomain.KindPurchase || txn.Status != ledgerdomain.StatusApproved {
		return ledgerdomain.ErrTransactionNotFound
	}
	if txn.Quantity <= 0 {
		return ledgerdomain.ErrInvalidQuantity
	}

	now := s.now()
	if err := s.repo.EnsureBalance(ctx, tx, txn.TenantID, now); err != nil {
		return err
	}
	if err := s.repo.Increment(ctx, tx, ledgerdomain.Delta{
		TenantID: txn.TenantID,
		Channel:  txn.Channel,
		Quantity: txn.Quantity,
		At:       now,
	}); err != nil {
		return err
	}
	if s.obsMetrics != nil {
		s.obsMetrics.RecordCreditsAdded(ctx, string(txn.Channel), "approval", txn.Quantity)
	}
	return nil
}

// Refund returns the credits of a consumption that was never delivered.
// Used is left untouched; each consumption can be refunded once.
func (s *Service) Refund(ctx context.Context, req ledgerdomain.RefundRequest) (*ledgerdomain.Transaction, error) {
	if req.TenantID == 0 {
		return nil, ledgerdomain.ErrInvalidTenant
	}
	if req.ConsumptionID == 0 {
		return nil, ledgerdomain.ErrInvalidConsumption
	}

	var txn *ledgerdomain.Transaction
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		original, err := s.repo.FindTransaction(ctx, tx, req.ConsumptionID)
		if err != nil {
			return err
		}
		if original == nil || original.TenantID != req.TenantID {
			return ledgerdomain.ErrTransactionNotFound
		}
		if original.Kind != ledgerdomain.KindConsumption {
			return ledgerdomain.ErrInvalidConsumption
		}
		quantity := -original.Quantity
		if req.Quantity != 0 {
			if req.Quantity < 0 || req.Quantity > quantity {
				return ledgerdomain.ErrInvalidQuantity
			}
			quantity = req.Quantity
		}

		now := s.now()
		refundOf := original.ID
		txn = &ledgerdomain.Transaction{
			ID:        s.genID.Generate(),
			TenantID:  original.TenantID,
			Kind:      ledgerdomain.KindRefund,
			Channel:   original.Channel,
			Quantity:  quantity,
			UnitPrice: original.UnitPrice,
			TotalCost: 0,
			Currency:  original.Currency,
			Status:    ledgerdomain.StatusCompleted,
			Reference: strconv.FormatInt(original.ID.Int64(), 10),
			Notes:     strings.TrimSpace(req.Notes),
			RefundOf:  &refundOf,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.repo.InsertTransaction(ctx, tx, txn); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return ledgerdomain.ErrAlreadyRefunded
			}
			return err
		}
		return s.repo.Increment(ctx, tx, ledgerdomain.Delta{
			TenantID: original.TenantID,
			Channel:  original.Channel,
			Quantity: txn.Quantity,
			At:       now,
		})
	})
	if err != nil {
		return nil, err
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordRefund(ctx, string(txn.Channel), txn.Quantity)
	}
	return txn, nil
}

// Adjust applies an operator correction. Negative deltas are guarded like
// consumption but leave used and cost untouched.
func (s *Service) Adjust(ctx context.Context, req ledgerdomain.AdjustRequest) (*ledgerdomain.Transaction, error) {
	if req.TenantID == 0 {
		return nil, ledgerdomain.ErrInvalidTenant
	}
	if !req.Channel.Valid() {
		return nil, pricingdomain.ErrInvalidChannel
	}
	if req.Delta == 0 {
		return nil, ledgerdomain.ErrInvalidQuantity
	}
	approver := strings.TrimSpace(req.ApprovedBy)
	if approver == "" {
		return nil, ledgerdomain.ErrInvalidApprover
	}

	price, err := s.pricing.GetPrice(ctx, req.Channel)
	if err != nil {
		return nil, err
	}

	var txn *ledgerdomain.Transaction
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.now()
		if err := s.repo.EnsureBalance(ctx, tx, req.TenantID, now); err != nil {
			return err
		}

		delta := ledgerdomain.Delta{
			TenantID: req.TenantID,
			Channel:  req.Channel,
			Quantity: req.Delta,
			At:       now,
		}
		if req.Delta > 0 {
			if err := s.repo.Increment(ctx, tx, delta); err != nil {
				return err
			}
		} else {
			delta.Quantity = -req.Delta
			ok, err := s.repo.Decrement(ctx, tx, delta)
			if err != nil {
				return err
			}
			if !ok {
				return s.insufficient(ctx, tx, req.TenantID, req.Channel, -req.Delta)
			}
		}

		txn = &ledgerdomain.Transaction{
			ID:         s.genID.Generate(),
			TenantID:   req.TenantID,
			Kind:       ledgerdomain.KindAdjustment,
			Channel:    req.Channel,
			Quantity:   req.Delta,
			UnitPrice:  price.UnitPrice,
			Currency:   price.Currency,
			Status:     ledgerdomain.StatusCompleted,
			ApprovedBy: approver,
			ApprovedAt: &now,
			Notes:      strings.TrimSpace(req.Notes),
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		return s.repo.InsertTransaction(ctx, tx, txn)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("credits adjusted",
		zap.String("tenant_id", req.TenantID.String()),
		zap.String("channel", string(req.Channel)),
		zap.Int64("delta", req.Delta),
		zap.String("approved_by", approver),
	)
	return txn, nil
}

func (s *Service) insufficient(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID, channel pricingdomain.Channel, requested int64) error {
	row, err := s.repo.GetBalance(ctx, tx, tenantID)
	if err != nil {
		return err
	}
	available := int64(0)
	if row != nil {
		available = ledgerdomain.BalanceFromRow(row).For(channel).Available
	}
	return &ledgerdomain.InsufficientCreditsError{
		Channel:   channel,
		Requested: requested,
		Available: available,
	}
}

func (s *Service) now() time.Time {
	return s.clock.Now().UTC()
}

func validateAddCredits(req ledgerdomain.AddCreditsRequest) error {
	if req.TenantID == 0 {
		return ledgerdomain.ErrInvalidTenant
	}
	if !req.Channel.Valid() {
		return pricingdomain.ErrInvalidChannel
	}
	if req.Quantity <= 0 {
		return ledgerdomain.ErrInvalidQuantity
	}
	if req.UnitPrice < 0 {
		return ledgerdomain.ErrInvalidUnitPrice
	}
	if strings.TrimSpace(req.ApprovedBy) == "" {
		return ledgerdomain.ErrInvalidApprover
	}
	return nil
}
