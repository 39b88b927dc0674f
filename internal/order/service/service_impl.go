package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/campaigncredit/internal/clock"
	"github.com/smallbiznis/campaigncredit/internal/config"
	ledgerdomain "github.com/smallbiznis/campaigncredit/internal/ledger/domain"
	orderdomain "github.com/smallbiznis/campaigncredit/internal/order/domain"
	paymentdomain "github.com/smallbiznis/campaigncredit/internal/payment/domain"
	pricingdomain "github.com/smallbiznis/campaigncredit/internal/pricing/domain"
	"github.com/smallbiznis/campaigncredit/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Cfg     config.Config
	Policy  *config.CreditsPolicyHolder
	Repo    orderdomain.Repository
	Pricing pricingdomain.Service
	Gateway paymentdomain.Gateway
	Applier orderdomain.PaymentApplier
	Clock   clock.Clock `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	gateway config.GatewayConfig
	policy  *config.CreditsPolicyHolder
	repo    orderdomain.Repository
	pricing pricingdomain.Service
	payment paymentdomain.Gateway
	applier orderdomain.PaymentApplier
	clock   clock.Clock
}

func NewService(p Params) orderdomain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.System()
	}
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("order.service"),
		genID:   p.GenID,
		gateway: p.Cfg.Gateway,
		policy:  p.Policy,
		repo:    p.Repo,
		pricing: p.Pricing,
		payment: p.Gateway,
		applier: p.Applier,
		clock:   clk,
	}
}

// CreateOrder opens a hosted checkout and persists the order only once the
// provider has accepted the preference.
func (s *Service) CreateOrder(ctx context.Context, req orderdomain.CreateOrderRequest) (*orderdomain.OrderView, error) {
	if req.TenantID == 0 {
		return nil, ledgerdomain.ErrInvalidTenant
	}
	if !req.Channel.Valid() {
		return nil, pricingdomain.ErrInvalidChannel
	}
	policy := s.policy.Get()
	if req.Quantity <= 0 {
		return nil, orderdomain.ErrInvalidQuantity
	}
	if req.Quantity > policy.MaxOrderQuantity {
		return nil, orderdomain.ErrQuantityTooLarge
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
	order := &orderdomain.Order{
		ID:          s.genID.Generate(),
		TenantID:    req.TenantID,
		RequestedBy: strings.TrimSpace(req.RequestedBy),
		Channel:     req.Channel,
		Quantity:    req.Quantity,
		UnitPrice:   price.UnitPrice,
		TotalAmount: total,
		Currency:    price.Currency,
		Provider:    s.gateway.Provider,
		Status:      orderdomain.StatusPending,
		ExpiresAt:   now.Add(policy.OrderTTL),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	pref, err := s.payment.CreatePreference(ctx, paymentdomain.PreferenceRequest{
		ExternalReference: order.ID.String(),
		IdempotencyKey:    ulid.Make().String(),
		Items: []paymentdomain.PreferenceItem{{
			ID:        string(order.Channel),
			Title:     itemTitle(order.Channel, order.Quantity),
			Quantity:  order.Quantity,
			UnitPrice: order.UnitPrice,
			Currency:  order.Currency,
		}},
		PayerEmail:      strings.TrimSpace(req.PayerEmail),
		NotificationURL: s.gateway.NotificationURL,
		SuccessURL:      s.gateway.SuccessURL,
		FailureURL:      s.gateway.FailureURL,
		PendingURL:      s.gateway.PendingURL,
		ExpiresAt:       order.ExpiresAt,
	})
	if err != nil {
		s.log.Error("create checkout preference failed",
			zap.String("tenant_id", order.TenantID.String()),
			zap.String("order_id", order.ID.String()),
			zap.Error(err),
		)
		return nil, err
	}

	order.PreferenceID = pref.ID
	order.CheckoutURL = pref.CheckoutURL
	order.SandboxCheckoutURL = pref.SandboxCheckoutURL
	if err := s.repo.Insert(ctx, s.db, order); err != nil {
		return nil, err
	}

	s.log.Info("credit order created",
		zap.String("tenant_id", order.TenantID.String()),
		zap.String("order_id", order.ID.String()),
		zap.String("channel", string(order.Channel)),
		zap.Int64("quantity", order.Quantity),
		zap.Int64("total_amount", order.TotalAmount),
		zap.String("preference_id", order.PreferenceID),
	)
	return s.view(order), nil
}

func (s *Service) GetOrderStatus(ctx context.Context, tenantID, orderID snowflake.ID) (*orderdomain.OrderView, error) {
	order, err := s.load(ctx, tenantID, orderID)
	if err != nil {
		return nil, err
	}
	return s.view(order), nil
}

func (s *Service) ListOrders(ctx context.Context, req orderdomain.ListOrdersRequest) (*orderdomain.ListOrdersResponse, error) {
	if req.TenantID == 0 {
		return nil, ledgerdomain.ErrInvalidTenant
	}

	var before snowflake.ID
	if req.PageToken != "" {
		cursor, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return nil, orderdomain.ErrInvalidPageToken
		}
		before, err = snowflake.ParseString(cursor.ID)
		if err != nil {
			return nil, orderdomain.ErrInvalidPageToken
		}
	}

	rows, err := s.repo.List(ctx, s.db, req.TenantID, before, req.Limit()+1)
	if err != nil {
		return nil, err
	}

	page, info := pagination.BuildCursorPage(rows, req.Limit(), func(o *orderdomain.Order) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{ID: o.ID.String()})
		if err != nil {
			return ""
		}
		return token
	})

	views := make([]*orderdomain.OrderView, 0, len(page))
	for _, o := range page {
		views = append(views, s.view(o))
	}
	return &orderdomain.ListOrdersResponse{Orders: views, PageInfo: info}, nil
}

// ManualReconcile re-fetches a payment the tenant reports as paid and applies
// it, but only when the provider ties that payment to this very order.
func (s *Service) ManualReconcile(ctx context.Context, req orderdomain.ManualReconcileRequest) (*orderdomain.ReconcileResponse, error) {
	paymentID := strings.TrimSpace(req.PaymentID)
	if paymentID == "" {
		return nil, orderdomain.ErrInvalidPaymentID
	}

	order, err := s.load(ctx, req.TenantID, req.OrderID)
	if err != nil {
		return nil, err
	}

	payment, err := s.payment.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(payment.ExternalReference) != order.ID.String() {
		s.log.Warn("manual reconcile reference mismatch",
			zap.String("tenant_id", order.TenantID.String()),
			zap.String("order_id", order.ID.String()),
			zap.String("payment_id", payment.ID),
			zap.String("external_reference", payment.ExternalReference),
		)
		return nil, orderdomain.ErrReferenceMismatch
	}

	result, err := s.applier.ApplyPayment(ctx, payment)
	if err != nil {
		return nil, err
	}

	order, err = s.load(ctx, req.TenantID, req.OrderID)
	if err != nil {
		return nil, err
	}
	return &orderdomain.ReconcileResponse{Order: s.view(order), Result: result}, nil
}

// ExpireStale closes pending orders whose checkout closed more than the grace
// period ago. Orders without a payment are cancelled, orders whose last payment
// was refused are failed, and orders with a payment still in flight are left
// for reconciliation.
func (s *Service) ExpireStale(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	now := s.clock.Now().UTC()
	cutoff := now.Add(-s.policy.Get().OrderExpiryGrace)

	rows, err := s.repo.ListExpired(ctx, s.db, cutoff, limit)
	if err != nil {
		return 0, err
	}

	closed := 0
	for _, order := range rows {
		to := orderdomain.StatusCancelled
		if order.PaymentID != nil {
			if !paymentdomain.NormalizeStatus(order.PaymentStatus).Terminal() {
				continue
			}
			to = orderdomain.StatusFailed
		}

		ok, err := s.repo.Transition(ctx, s.db, order.ID, to, now, orderdomain.StatusPending)
		if err != nil {
			return closed, err
		}
		if !ok {
			continue
		}
		closed++
		s.log.Info("credit order expired",
			zap.String("tenant_id", order.TenantID.String()),
			zap.String("order_id", order.ID.String()),
			zap.String("status", string(to)),
		)
	}
	return closed, nil
}

func (s *Service) load(ctx context.Context, tenantID, orderID snowflake.ID) (*orderdomain.Order, error) {
	if orderID == 0 {
		return nil, orderdomain.ErrOrderNotFound
	}
	order, err := s.repo.FindByID(ctx, s.db, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil || order.TenantID != tenantID {
		return nil, orderdomain.ErrOrderNotFound
	}
	return order, nil
}

func (s *Service) view(order *orderdomain.Order) *orderdomain.OrderView {
	return &orderdomain.OrderView{Order: order, IsExpired: order.IsExpired(s.clock.Now())}
}

func itemTitle(channel pricingdomain.Channel, quantity int64) string {
	switch channel {
	case pricingdomain.ChannelWhatsApp:
		return fmt.Sprintf("%d WhatsApp message credits", quantity)
	default:
		return fmt.Sprintf("%d email credits", quantity)
	}
}
