package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/campaigncredit/internal/clock"
	"github.com/smallbiznis/campaigncredit/internal/config"
	ledgerdomain "github.com/smallbiznis/campaigncredit/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/campaigncredit/internal/observability/metrics"
	orderdomain "github.com/smallbiznis/campaigncredit/internal/order/domain"
	paymentdomain "github.com/smallbiznis/campaigncredit/internal/payment/domain"
	"github.com/smallbiznis/campaigncredit/internal/providers/slack"
	reconciliationdomain "github.com/smallbiznis/campaigncredit/internal/reconciliation/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	GenID         *snowflake.Node
	Cfg           config.Config
	Policy        *config.CreditsPolicyHolder
	Orders        orderdomain.Repository
	Ledger        ledgerdomain.Service
	Gateway       paymentdomain.Gateway
	Notifications paymentdomain.NotificationRepository
	Clock         clock.Clock         `optional:"true"`
	Alerter       *slack.Alerter      `optional:"true"`
	ObsMetrics    *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db            *gorm.DB
	log           *zap.Logger
	genID         *snowflake.Node
	provider      string
	policy        *config.CreditsPolicyHolder
	orders        orderdomain.Repository
	ledger        ledgerdomain.Service
	gateway       paymentdomain.Gateway
	notifications paymentdomain.NotificationRepository
	clock         clock.Clock
	alerter       *slack.Alerter
	obsMetrics    *obsmetrics.Metrics
}

func NewService(p Params) reconciliationdomain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.System()
	}
	return &Service{
		db:            p.DB,
		log:           p.Log.Named("reconciliation.service"),
		genID:         p.GenID,
		provider:      p.Cfg.Gateway.Provider,
		policy:        p.Policy,
		orders:        p.Orders,
		ledger:        p.Ledger,
		gateway:       p.Gateway,
		notifications: p.Notifications,
		clock:         clk,
		alerter:       p.Alerter,
		obsMetrics:    p.ObsMetrics,
	}
}

func AsPaymentApplier(svc reconciliationdomain.Service) orderdomain.PaymentApplier {
	return svc
}

// HandleNotification never trusts the notification body beyond the payment
// id: the payment is always re-read from the provider.
func (s *Service) HandleNotification(ctx context.Context, event *paymentdomain.Event) (*orderdomain.ApplyResult, error) {
	if event == nil || !event.IsPayment() {
		s.recordOutcome(ctx, orderdomain.OutcomeIgnored)
		return &orderdomain.ApplyResult{Outcome: orderdomain.OutcomeIgnored}, nil
	}
	if event.DataID == "" {
		return nil, paymentdomain.ErrMissingPaymentID
	}

	payment, err := s.gateway.GetPayment(ctx, event.DataID)
	if err != nil {
		return s.deferNotification(ctx, event, err)
	}

	result, err := s.ApplyPayment(ctx, payment)
	if err != nil {
		return result, err
	}

	if err := s.notifications.MarkProcessed(ctx, s.providerOf(event), event.DataID, topicOf(event), s.now()); err != nil {
		s.log.Warn("mark notification processed failed", zap.String("payment_id", event.DataID), zap.Error(err))
	}
	return result, nil
}

// ApplyPayment records the provider's view on the referenced order and, for
// an approved payment, completes the order and credits the tenant exactly once.
func (s *Service) ApplyPayment(ctx context.Context, payment *paymentdomain.Payment) (*orderdomain.ApplyResult, error) {
	if payment == nil || strings.TrimSpace(payment.ID) == "" {
		return nil, paymentdomain.ErrMissingPaymentID
	}

	result := &orderdomain.ApplyResult{
		PaymentID:     payment.ID,
		PaymentStatus: string(payment.Status),
	}

	orderID, err := snowflake.ParseString(strings.TrimSpace(payment.ExternalReference))
	if err != nil || orderID == 0 {
		return s.notFound(ctx, result, payment)
	}

	var mismatch string
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.now()

		// The unconditional metadata write also takes the row lock that
		// serialises concurrent notifications for the same order.
		if err := s.orders.RecordPayment(ctx, tx, orderdomain.PaymentUpdate{
			OrderID:       orderID,
			PaymentID:     payment.ID,
			Status:        string(payment.Status),
			StatusDetail:  payment.StatusDetail,
			PaymentMethod: payment.PaymentMethod,
			Metadata:      metadataOf(payment),
			At:            now,
		}); err != nil {
			return err
		}

		order, err := s.orders.FindByID(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if order == nil {
			return orderdomain.ErrOrderNotFound
		}
		result.OrderID = order.ID
		result.OrderStatus = order.Status
		result.TransactionID = order.TransactionID
		result.Outcome = orderdomain.OutcomeRecorded

		switch {
		case payment.Status == paymentdomain.PaymentApproved && order.Status.Creditable():
			// A settlement that disagrees with the order is kept on record
			// only; crediting it is left to an operator.
			if mismatch = mismatchOf(order, payment); mismatch != "" {
				s.log.Warn("approved payment does not match order",
					zap.String("order_id", order.ID.String()),
					zap.String("payment_id", payment.ID),
					zap.Int64("order_total", order.TotalAmount),
					zap.String("order_currency", order.Currency),
					zap.Int64("payment_amount", payment.Amount),
					zap.String("payment_currency", payment.Currency),
				)
				return nil
			}
			return s.complete(ctx, tx, order, payment, result, now)
		case payment.Status.Terminal() && order.Status == orderdomain.StatusPending:
			won, err := s.orders.Transition(ctx, tx, order.ID, orderdomain.StatusFailed, now, orderdomain.StatusPending)
			if err != nil {
				return err
			}
			if won {
				result.Outcome = orderdomain.OutcomeFailed
				result.OrderStatus = orderdomain.StatusFailed
			}
		}
		return nil
	})
	if errors.Is(err, orderdomain.ErrOrderNotFound) {
		return s.notFound(ctx, result, payment)
	}
	if err != nil {
		return nil, err
	}

	s.recordOutcome(ctx, result.Outcome)
	s.log.Info("payment applied",
		zap.String("order_id", result.OrderID.String()),
		zap.String("payment_id", payment.ID),
		zap.String("payment_status", string(payment.Status)),
		zap.String("order_status", string(result.OrderStatus)),
		zap.String("outcome", string(result.Outcome)),
	)
	if result.Outcome == orderdomain.OutcomeRecorded && payment.Status == paymentdomain.PaymentApproved && result.OrderStatus == orderdomain.StatusCancelled {
		s.alerter.Alert(ctx, fmt.Sprintf("Approved payment %s arrived for cancelled order %s; review and credit manually.", payment.ID, result.OrderID))
	}
	if mismatch != "" {
		s.alerter.Alert(ctx, fmt.Sprintf("Approved payment %s for order %s was not credited: %s.", payment.ID, result.OrderID, mismatch))
	}
	return result, nil
}

func (s *Service) complete(ctx context.Context, tx *gorm.DB, order *orderdomain.Order, payment *paymentdomain.Payment, result *orderdomain.ApplyResult, now time.Time) error {
	won, err := s.orders.Transition(ctx, tx, order.ID, orderdomain.StatusCompleted, now, orderdomain.StatusPending, orderdomain.StatusFailed)
	if err != nil {
		return err
	}
	if !won {
		return nil
	}

	orderID := order.ID
	txn, err := s.ledger.AddCreditsTx(ctx, tx, ledgerdomain.AddCreditsRequest{
		TenantID:   order.TenantID,
		Channel:    order.Channel,
		Quantity:   order.Quantity,
		UnitPrice:  order.UnitPrice,
		Currency:   order.Currency,
		ApprovedBy: "gateway:" + order.Provider,
		Reference:  "payment:" + payment.ID,
		Notes:      fmt.Sprintf("order %s", order.ID),
		OrderID:    &orderID,
	})
	if err != nil {
		return err
	}
	if err := s.orders.SetTransaction(ctx, tx, order.ID, txn.ID, now); err != nil {
		return err
	}

	result.Outcome = orderdomain.OutcomeCredited
	result.OrderStatus = orderdomain.StatusCompleted
	result.TransactionID = &txn.ID
	return nil
}

// mismatchOf describes how the settled payment differs from the order. A zero
// amount or empty currency means the provider did not report it.
func mismatchOf(order *orderdomain.Order, payment *paymentdomain.Payment) string {
	switch {
	case payment.Amount != 0 && payment.Amount != order.TotalAmount:
		return fmt.Sprintf("amount %d differs from order total %d", payment.Amount, order.TotalAmount)
	case payment.Currency != "" && !strings.EqualFold(payment.Currency, order.Currency):
		return fmt.Sprintf("currency %s differs from order currency %s", payment.Currency, order.Currency)
	}
	return ""
}

func (s *Service) notFound(ctx context.Context, result *orderdomain.ApplyResult, payment *paymentdomain.Payment) (*orderdomain.ApplyResult, error) {
	s.log.Error("payment references no known order",
		zap.String("payment_id", payment.ID),
		zap.String("payment_status", string(payment.Status)),
		zap.String("external_reference", payment.ExternalReference),
		zap.Int64("amount", payment.Amount),
		zap.String("payer_email", payment.PayerEmail),
	)
	result.Outcome = orderdomain.OutcomeNotFound
	s.recordOutcome(ctx, result.Outcome)
	if payment.Status == paymentdomain.PaymentApproved {
		s.alerter.Alert(ctx, fmt.Sprintf("Approved payment %s references unknown order %q.", payment.ID, payment.ExternalReference))
	}
	return result, orderdomain.ErrOrderNotFound
}

func (s *Service) deferNotification(ctx context.Context, event *paymentdomain.Event, cause error) (*orderdomain.ApplyResult, error) {
	now := s.now()
	policy := s.policy.Get()

	record, err := s.notifications.Defer(ctx, &paymentdomain.Notification{
		ID:            s.genID.Generate(),
		Provider:      s.providerOf(event),
		PaymentID:     event.DataID,
		Topic:         topicOf(event),
		RequestID:     event.RequestID,
		Payload:       jsonPayload(event.Payload),
		Status:        paymentdomain.NotificationPending,
		LastError:     truncate(cause.Error(), 512),
		NextAttemptAt: now.Add(policy.ReplayBaseDelay),
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	if err != nil {
		return nil, fmt.Errorf("journal deferred notification: %w", err)
	}

	s.log.Error("payment fetch failed; notification deferred",
		zap.String("payment_id", event.DataID),
		zap.String("topic", event.Topic),
		zap.String("action", event.Action),
		zap.String("request_id", event.RequestID),
		zap.String("notification_id", record.ID.String()),
		zap.Int("attempts", record.Attempts),
		zap.Time("next_attempt_at", record.NextAttemptAt),
		zap.ByteString("payload", event.Payload),
		zap.Error(cause),
	)
	s.recordOutcome(ctx, orderdomain.OutcomeDeferred)
	return &orderdomain.ApplyResult{Outcome: orderdomain.OutcomeDeferred, PaymentID: event.DataID}, nil
}

// ReplayDue retries journaled notifications whose backoff has elapsed.
func (s *Service) ReplayDue(ctx context.Context, limit int) (*reconciliationdomain.ReplaySummary, error) {
	if limit <= 0 {
		limit = 50
	}
	policy := s.policy.Get()
	summary := &reconciliationdomain.ReplaySummary{}

	due, err := s.notifications.ListDue(ctx, s.now(), limit)
	if err != nil {
		return nil, err
	}

	for _, n := range due {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		payment, err := s.gateway.GetPayment(ctx, n.PaymentID)
		if err == nil {
			_, err = s.ApplyPayment(ctx, payment)
		}
		now := s.now()

		if err == nil || errors.Is(err, orderdomain.ErrOrderNotFound) {
			if markErr := s.notifications.MarkProcessed(ctx, n.Provider, n.PaymentID, n.Topic, now); markErr != nil {
				return summary, markErr
			}
			summary.Processed++
			continue
		}

		attempts := n.Attempts + 1
		status := paymentdomain.NotificationPending
		next := now.Add(backoff(policy.ReplayBaseDelay, policy.ReplayMaxDelay, attempts))
		if attempts >= policy.ReplayMaxAttempts {
			status = paymentdomain.NotificationDead
			summary.Dead++
			s.log.Error("payment notification dead after retries",
				zap.String("notification_id", n.ID.String()),
				zap.String("payment_id", n.PaymentID),
				zap.Int("attempts", attempts),
				zap.Error(err),
			)
			s.alerter.Alert(ctx, fmt.Sprintf("Payment %s could not be reconciled after %d attempts: %v", n.PaymentID, attempts, err))
		} else {
			summary.Retried++
			s.log.Warn("payment notification replay failed",
				zap.String("notification_id", n.ID.String()),
				zap.String("payment_id", n.PaymentID),
				zap.Int("attempts", attempts),
				zap.Time("next_attempt_at", next),
				zap.Error(err),
			)
		}
		if markErr := s.notifications.MarkRetry(ctx, n.ID, attempts, truncate(err.Error(), 512), next, status, now); markErr != nil {
			return summary, markErr
		}
	}
	return summary, nil
}

func (s *Service) ListNotifications(ctx context.Context, status paymentdomain.NotificationStatus, limit int) ([]*paymentdomain.Notification, error) {
	if limit <= 0 || limit > 250 {
		limit = 50
	}
	return s.notifications.List(ctx, status, limit)
}

func (s *Service) recordOutcome(ctx context.Context, outcome orderdomain.Outcome) {
	if s.obsMetrics != nil {
		s.obsMetrics.RecordWebhookOutcome(ctx, s.provider, string(outcome))
	}
}

func (s *Service) providerOf(event *paymentdomain.Event) string {
	if event.Provider != "" {
		return event.Provider
	}
	return s.provider
}

func (s *Service) now() time.Time {
	return s.clock.Now().UTC()
}

func topicOf(event *paymentdomain.Event) string {
	if event.Topic != "" {
		return event.Topic
	}
	return "payment"
}

func backoff(base, ceiling time.Duration, attempts int) time.Duration {
	if base <= 0 {
		base = time.Minute
	}
	d := time.Duration(float64(base) * math.Pow(2, float64(attempts-1)))
	if ceiling > 0 && (d > ceiling || d <= 0) {
		return ceiling
	}
	return d
}

func metadataOf(payment *paymentdomain.Payment) datatypes.JSON {
	if len(payment.Raw) > 0 {
		return datatypes.JSON(payment.Raw)
	}
	return nil
}

func jsonPayload(payload []byte) datatypes.JSON {
	if len(payload) == 0 || !json.Valid(payload) {
		return nil
	}
	return datatypes.JSON(payload)
}

func truncate(v string, n int) string {
	if len(v) <= n {
		return v
	}
	return v[:n]
}
