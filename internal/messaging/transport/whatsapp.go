package transport

import (
	"context"
	"fmt"

	messagingdomain "github.com/smallbiznis/campaigncredit/internal/messaging/domain"
	pricingdomain "github.com/smallbiznis/campaigncredit/internal/pricing/domain"
	"github.com/smallbiznis/campaigncredit/internal/providers/whatsapp"
)

// WhatsApp sends one API call per recipient and stops at the first failure.
type WhatsApp struct {
	provider whatsapp.Provider
}

func NewWhatsApp(provider whatsapp.Provider) *WhatsApp {
	return &WhatsApp{provider: provider}
}

func (t *WhatsApp) Channel() pricingdomain.Channel { return pricingdomain.ChannelWhatsApp }

func (t *WhatsApp) Deliver(ctx context.Context, msg *messagingdomain.Message) (*messagingdomain.Delivery, error) {
	out := &messagingdomain.Delivery{MessageIDs: make([]string, 0, len(msg.Recipients))}
	for _, to := range msg.Recipients {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		id, err := t.provider.SendText(ctx, to, msg.Body)
		if err != nil {
			return out, fmt.Errorf("recipient %d of %d: %w", out.Delivered+1, len(msg.Recipients), err)
		}
		out.Delivered++
		out.MessageIDs = append(out.MessageIDs, id)
	}
	return out, nil
}
