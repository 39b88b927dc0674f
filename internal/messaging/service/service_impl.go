package service

import (
	"context"
	"fmt"
	"strings"

	ledgerdomain "github.com/smallbiznis/campaigncredit/internal/ledger/domain"
	messagingdomain "github.com/smallbiznis/campaigncredit/internal/messaging/domain"
	pricingdomain "github.com/smallbiznis/campaigncredit/internal/pricing/domain"
	"github.com/smallbiznis/campaigncredit/internal/providers/slack"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log        *zap.Logger
	Ledger     ledgerdomain.Service
	Transports []messagingdomain.Transport `group:"transports"`
	Alerter    *slack.Alerter              `optional:"true"`
}

type Service struct {
	log        *zap.Logger
	ledger     ledgerdomain.Service
	transports map[pricingdomain.Channel]messagingdomain.Transport
	alerter    *slack.Alerter
}

func NewService(p Params) messagingdomain.Dispatcher {
	transports := make(map[pricingdomain.Channel]messagingdomain.Transport, len(p.Transports))
	for _, t := range p.Transports {
		if t != nil {
			transports[t.Channel()] = t
		}
	}
	return &Service{
		log:        p.Log.Named("messaging.dispatcher"),
		ledger:     p.Ledger,
		transports: transports,
		alerter:    p.Alerter,
	}
}

// Send charges the tenant before anything leaves the building. Credits for
// recipients the transport could not reach are refunded against the same
// consumption.
func (s *Service) Send(ctx context.Context, msg messagingdomain.Message) (*messagingdomain.SendResult, error) {
	if msg.TenantID == 0 {
		return nil, ledgerdomain.ErrInvalidTenant
	}
	if !msg.Channel.Valid() {
		return nil, pricingdomain.ErrInvalidChannel
	}
	msg.Recipients = normalizeRecipients(msg.Recipients)
	switch {
	case len(msg.Recipients) == 0:
		return nil, messagingdomain.ErrNoRecipients
	case len(msg.Recipients) > messagingdomain.MaxRecipients:
		return nil, messagingdomain.ErrTooManyRecipients
	}
	if strings.TrimSpace(msg.Body) == "" {
		return nil, messagingdomain.ErrEmptyBody
	}
	if msg.Channel == pricingdomain.ChannelEmail && strings.TrimSpace(msg.Subject) == "" {
		return nil, messagingdomain.ErrEmptySubject
	}

	transport, ok := s.transports[msg.Channel]
	if !ok {
		return nil, messagingdomain.ErrTransportMissing
	}

	consumption, err := s.ledger.Consume(ctx, ledgerdomain.ConsumeRequest{
		TenantID:  msg.TenantID,
		Channel:   msg.Channel,
		Quantity:  int64(len(msg.Recipients)),
		Reference: strings.TrimSpace(msg.Reference),
	})
	if err != nil {
		return nil, err
	}

	result := &messagingdomain.SendResult{
		ConsumptionID: consumption.ID,
		Channel:       msg.Channel,
		Requested:     len(msg.Recipients),
	}

	delivery, sendErr := transport.Deliver(ctx, &msg)
	if delivery != nil {
		result.Delivered = delivery.Delivered
		result.MessageIDs = delivery.MessageIDs
	}
	if sendErr == nil {
		s.log.Info("message dispatched",
			zap.String("tenant_id", msg.TenantID.String()),
			zap.String("channel", string(msg.Channel)),
			zap.Int("recipients", result.Requested),
			zap.String("consumption_id", consumption.ID.String()),
		)
		return result, nil
	}

	undelivered := result.Requested - result.Delivered
	s.log.Warn("message delivery failed; refunding credits",
		zap.String("tenant_id", msg.TenantID.String()),
		zap.String("channel", string(msg.Channel)),
		zap.Int("requested", result.Requested),
		zap.Int("delivered", result.Delivered),
		zap.String("consumption_id", consumption.ID.String()),
		zap.Error(sendErr),
	)
	if undelivered > 0 {
		// The refund must land even when the caller has gone away.
		refund, err := s.ledger.Refund(context.WithoutCancel(ctx), ledgerdomain.RefundRequest{
			TenantID:      msg.TenantID,
			ConsumptionID: consumption.ID,
			Quantity:      int64(undelivered),
			Notes:         truncate("delivery failed: "+sendErr.Error(), 256),
		})
		if err != nil {
			s.log.Error("credit refund after failed delivery failed",
				zap.String("tenant_id", msg.TenantID.String()),
				zap.String("consumption_id", consumption.ID.String()),
				zap.Int("quantity", undelivered),
				zap.Error(err),
			)
			s.alerter.Alert(ctx, fmt.Sprintf("Refund of %d %s credits for consumption %s failed: %v", undelivered, msg.Channel, consumption.ID, err))
		} else {
			result.Refunded = undelivered
			result.RefundID = &refund.ID
		}
	}
	return result, fmt.Errorf("%w: %v", messagingdomain.ErrDeliveryFailed, sendErr)
}

func normalizeRecipients(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, r := range in {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		key := strings.ToLower(r)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, r)
	}
	return out
}

func truncate(v string, n int) string {
	if len(v) <= n {
		return v
	}
	return v[:n]
}
