package transport

import (
	"context"

	messagingdomain "github.com/smallbiznis/campaigncredit/internal/messaging/domain"
	pricingdomain "github.com/smallbiznis/campaigncredit/internal/pricing/domain"
	"github.com/smallbiznis/campaigncredit/internal/providers/email"
)

// Email hands the whole recipient list to SMTP in one transaction, so it
// either delivers everyone or no one.
type Email struct {
	provider email.Provider
}

func NewEmail(provider email.Provider) *Email {
	return &Email{provider: provider}
}

func (t *Email) Channel() pricingdomain.Channel { return pricingdomain.ChannelEmail }

func (t *Email) Deliver(ctx context.Context, msg *messagingdomain.Message) (*messagingdomain.Delivery, error) {
	err := t.provider.Send(ctx, email.Message{
		To:        msg.Recipients,
		Subject:   msg.Subject,
		HTMLBody:  msg.Body,
		Reference: msg.Reference,
	})
	if err != nil {
		return &messagingdomain.Delivery{}, err
	}
	return &messagingdomain.Delivery{Delivered: len(msg.Recipients)}, nil
}
