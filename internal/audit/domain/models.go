package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type ActorType string

const (
	ActorTypeAPIKey ActorType = "api_key"
	ActorTypeSystem ActorType = "system"
)

// Actions recorded for operator-facing changes to credits and access.
const (
	ActionPurchaseApprove    = "purchase_request.approve"
	ActionPurchaseReject     = "purchase_request.reject"
	ActionCreditsAdd         = "credits.add"
	ActionCreditsAdjust      = "credits.adjust"
	ActionPricingUpdate      = "pricing.update"
	ActionOrderReconcile     = "order.reconcile"
	ActionNotificationReplay = "payment_notification.replay"
	ActionAPIKeyCreate       = "api_key.create"
	ActionAPIKeyRevoke       = "api_key.revoke"
)

// AuditLog is an append-only record of who changed what.
type AuditLog struct {
	ID         snowflake.ID      `gorm:"primaryKey;autoIncrement:false" json:"id"`
	TenantID   *snowflake.ID     `gorm:"index" json:"tenant_id,omitempty"`
	ActorType  string            `gorm:"type:text;not null" json:"actor_type"`
	ActorID    *string           `gorm:"type:text" json:"actor_id,omitempty"`
	Action     string            `gorm:"type:text;not null;index" json:"action"`
	TargetType string            `gorm:"type:text;not null" json:"target_type"`
	TargetID   *string           `gorm:"type:text" json:"target_id,omitempty"`
	Metadata   datatypes.JSONMap `json:"metadata,omitempty"`
	IPAddress  *string           `gorm:"type:text" json:"ip_address,omitempty"`
	UserAgent  *string           `gorm:"type:text" json:"user_agent,omitempty"`
	CreatedAt  time.Time         `gorm:"not null;index" json:"created_at"`
}

func (AuditLog) TableName() string { return "audit_logs" }

type AuditCursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

type ListFilter struct {
	TenantID   *snowflake.ID
	Action     string
	TargetType string
	TargetID   string
	ActorType  string
	StartAt    *time.Time
	EndAt      *time.Time
	Cursor     *AuditCursor
	Limit      int
}
