package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Role string

const (
	RoleTenant   Role = "tenant"
	RoleOperator Role = "operator"
)

func (r Role) Valid() bool {
	return r == RoleTenant || r == RoleOperator
}

// APIKey stores hashed API credentials. Tenant keys carry their tenant;
// operator keys have TenantID 0.
type APIKey struct {
	ID         snowflake.ID `gorm:"primaryKey;autoIncrement:false"`
	TenantID   snowflake.ID `gorm:"column:tenant_id;not null;default:0;index"`
	KeyID      string       `gorm:"column:key_id;type:text;not null;uniqueIndex"`
	Name       string       `gorm:"type:text;not null"`
	Role       Role         `gorm:"type:text;not null"`
	KeyHash    string       `gorm:"column:key_hash;type:text;not null;uniqueIndex"`
	IsActive   bool         `gorm:"column:is_active;not null;default:true"`
	LastUsedAt *time.Time   `gorm:"column:last_used_at"`
	ExpiresAt  *time.Time   `gorm:"column:expires_at"`
	CreatedAt  time.Time    `gorm:"not null"`
	UpdatedAt  time.Time    `gorm:"not null"`
}

// TableName sets the database table name.
func (APIKey) TableName() string { return "api_keys" }
