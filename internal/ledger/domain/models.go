package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	pricingdomain "github.com/smallbiznis/campaigncredit/internal/pricing/domain"
)

// CreditBalance is the per-tenant balance row. One row per tenant.
type CreditBalance struct {
	TenantID          snowflake.ID `gorm:"primaryKey;autoIncrement:false"`
	EmailsAvailable   int64        `gorm:"not null;default:0"`
	EmailsUsed        int64        `gorm:"not null;default:0"`
	EmailsCost        int64        `gorm:"not null;default:0"`
	WhatsappAvailable int64        `gorm:"not null;default:0"`
	WhatsappUsed      int64        `gorm:"not null;default:0"`
	WhatsappCost      int64        `gorm:"not null;default:0"`
	CreatedAt         time.Time    `gorm:"not null"`
	UpdatedAt         time.Time    `gorm:"not null"`
}

// TableName sets the database table name.
func (CreditBalance) TableName() string { return "credit_balances" }

type TransactionKind string

const (
	KindPurchase    TransactionKind = "purchase"
	KindConsumption TransactionKind = "consumption"
	KindRefund      TransactionKind = "refund"
	KindAdjustment  TransactionKind = "adjustment"
)

type TransactionStatus string

const (
	StatusPending   TransactionStatus = "pending"
	StatusApproved  TransactionStatus = "approved"
	StatusRejected  TransactionStatus = "rejected"
	StatusCompleted TransactionStatus = "completed"
)

// Effective reports whether a transaction in this status has moved the balance.
func (s TransactionStatus) Effective() bool {
	return s == StatusApproved || s == StatusCompleted
}

// Transaction is an append-only journal row. Only pending purchase requests
// change status; every other row is written in its terminal state.
type Transaction struct {
	ID            snowflake.ID          `gorm:"primaryKey;autoIncrement:false" json:"id"`
	TenantID      snowflake.ID          `gorm:"not null;index" json:"tenant_id"`
	Kind          TransactionKind       `gorm:"type:text;not null" json:"kind"`
	Channel       pricingdomain.Channel `gorm:"type:text;not null" json:"channel"`
	Quantity      int64                 `gorm:"not null" json:"quantity"`
	UnitPrice     int64                 `gorm:"not null;default:0" json:"unit_price"`
	TotalCost     int64                 `gorm:"not null;default:0" json:"total_cost"`
	Currency      string                `gorm:"type:text;not null" json:"currency"`
	Status        TransactionStatus     `gorm:"type:text;not null;index" json:"status"`
	RequestedBy   string                `gorm:"type:text;not null;default:''" json:"requested_by,omitempty"`
	ApprovedBy    string                `gorm:"type:text;not null;default:''" json:"approved_by,omitempty"`
	ApprovedAt    *time.Time            `json:"approved_at,omitempty"`
	Reference     string                `gorm:"type:text;not null;default:''" json:"reference,omitempty"`
	Notes         string                `gorm:"type:text;not null;default:''" json:"notes,omitempty"`
	DecisionNotes string                `gorm:"type:text;not null;default:''" json:"decision_notes,omitempty"`
	OrderID       *snowflake.ID         `gorm:"uniqueIndex" json:"order_id,omitempty"`
	RefundOf      *snowflake.ID         `gorm:"uniqueIndex" json:"refund_of,omitempty"`
	CreatedAt     time.Time             `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time             `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (Transaction) TableName() string { return "credit_transactions" }

type ChannelBalance struct {
	Available int64 `json:"available"`
	Used      int64 `json:"used"`
	Cost      int64 `json:"cost"`
}

type Balance struct {
	TenantID  snowflake.ID   `json:"tenant_id"`
	Email     ChannelBalance `json:"email"`
	WhatsApp  ChannelBalance `json:"whatsapp"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// For returns the balance of a single channel.
func (b Balance) For(channel pricingdomain.Channel) ChannelBalance {
	if channel == pricingdomain.ChannelWhatsApp {
		return b.WhatsApp
	}
	return b.Email
}

func BalanceFromRow(row *CreditBalance) *Balance {
	return &Balance{
		TenantID: row.TenantID,
		Email: ChannelBalance{
			Available: row.EmailsAvailable,
			Used:      row.EmailsUsed,
			Cost:      row.EmailsCost,
		},
		WhatsApp: ChannelBalance{
			Available: row.WhatsappAvailable,
			Used:      row.WhatsappUsed,
			Cost:      row.WhatsappCost,
		},
		UpdatedAt: row.UpdatedAt,
	}
}

// ColumnPrefix maps a channel to its column family in credit_balances.
func ColumnPrefix(channel pricingdomain.Channel) (string, error) {
	switch channel {
	case pricingdomain.ChannelEmail:
		return "emails", nil
	case pricingdomain.ChannelWhatsApp:
		return "whatsapp", nil
	default:
		return "", pricingdomain.ErrInvalidChannel
	}
}
