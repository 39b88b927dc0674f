package domain

import (
	"math"
	"strings"
	"time"
)

// Channel is a messaging channel that consumes prepaid credits.
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelWhatsApp Channel = "whatsapp"
)

// Channels lists every supported channel in display order.
var Channels = []Channel{ChannelEmail, ChannelWhatsApp}

func (c Channel) Valid() bool {
	switch c {
	case ChannelEmail, ChannelWhatsApp:
		return true
	default:
		return false
	}
}

func ParseChannel(raw string) (Channel, error) {
	ch := Channel(strings.ToLower(strings.TrimSpace(raw)))
	if !ch.Valid() {
		return "", ErrInvalidChannel
	}
	return ch, nil
}

// PricingConfig stores the current unit price of one credit, in minor currency units.
type PricingConfig struct {
	Channel   Channel   `gorm:"primaryKey;type:text"`
	UnitPrice int64     `gorm:"not null"`
	Currency  string    `gorm:"type:text;not null"`
	UpdatedBy string    `gorm:"type:text;not null;default:''"`
	UpdatedAt time.Time `gorm:"not null"`
}

// TableName sets the database table name.
func (PricingConfig) TableName() string { return "credit_pricing" }

type Price struct {
	Channel   Channel    `json:"channel"`
	UnitPrice int64      `json:"unit_price"`
	Currency  string     `json:"currency"`
	UpdatedBy string     `json:"updated_by,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
	IsDefault bool       `json:"is_default"`
}

// Total returns quantity multiplied by the unit price, in minor units. Negative
// inputs and products that do not fit in an int64 are rejected.
func (p Price) Total(quantity int64) (int64, error) {
	if quantity < 0 || p.UnitPrice < 0 {
		return 0, ErrAmountOverflow
	}
	if p.UnitPrice != 0 && quantity > math.MaxInt64/p.UnitPrice {
		return 0, ErrAmountOverflow
	}
	return quantity * p.UnitPrice, nil
}
