package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	pricingdomain "github.com/smallbiznis/campaigncredit/internal/pricing/domain"
)

// MaxRecipients caps a single dispatch.
const MaxRecipients = 1000

// Message is one campaign send. Each recipient costs one credit on the
// message channel.
type Message struct {
	TenantID   snowflake.ID          `json:"-"`
	Channel    pricingdomain.Channel `json:"channel"`
	Recipients []string              `json:"recipients"`
	Subject    string                `json:"subject"`
	Body       string                `json:"body"`
	Reference  string                `json:"reference"`
}

// Transport delivers a message over one channel. It reports how many
// recipients were delivered before any error.
type Transport interface {
	Channel() pricingdomain.Channel
	Deliver(ctx context.Context, msg *Message) (*Delivery, error)
}

type Delivery struct {
	Delivered  int      `json:"delivered"`
	MessageIDs []string `json:"message_ids,omitempty"`
}

type SendResult struct {
	ConsumptionID snowflake.ID          `json:"consumption_id"`
	Channel       pricingdomain.Channel `json:"channel"`
	Requested     int                   `json:"requested"`
	Delivered     int                   `json:"delivered"`
	Refunded      int                   `json:"refunded"`
	RefundID      *snowflake.ID         `json:"refund_id,omitempty"`
	MessageIDs    []string              `json:"message_ids,omitempty"`
}

type Dispatcher interface {
	Send(ctx context.Context, msg Message) (*SendResult, error)
}

var (
	ErrNoRecipients      = errors.New("invalid_recipients")
	ErrTooManyRecipients = errors.New("invalid_recipients_too_many")
	ErrEmptyBody         = errors.New("invalid_body")
	ErrEmptySubject      = errors.New("invalid_subject")
	ErrTransportMissing  = errors.New("transport_not_configured")
	ErrDeliveryFailed    = errors.New("delivery_failed")
)
