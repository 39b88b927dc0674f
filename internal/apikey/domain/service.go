package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, key *APIKey) error
	FindByHash(ctx context.Context, db *gorm.DB, hash string) (*APIKey, error)
	FindByKeyID(ctx context.Context, db *gorm.DB, keyID string) (*APIKey, error)
	List(ctx context.Context, db *gorm.DB, tenantID *snowflake.ID) ([]APIKey, error)
	Deactivate(ctx context.Context, db *gorm.DB, keyID string, at time.Time) (bool, error)
	Touch(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error
}

type Service interface {
	Authenticate(ctx context.Context, raw string) (*Principal, error)
	Create(ctx context.Context, req CreateRequest) (*SecretResponse, error)
	List(ctx context.Context, tenantID *snowflake.ID) ([]Response, error)
	Revoke(ctx context.Context, keyID string) error
	EnsureBootstrapOperator(ctx context.Context, raw string) error
}

// Principal is the authenticated caller resolved from an API key.
type Principal struct {
	KeyID    string       `json:"key_id"`
	TenantID snowflake.ID `json:"tenant_id,omitempty"`
	Role     Role         `json:"role"`
}

// Subject is the casbin subject for the key.
func (p Principal) Subject() string {
	return "api_key:" + p.KeyID
}

type CreateRequest struct {
	TenantID  snowflake.ID `json:"tenant_id"`
	Role      Role         `json:"role"`
	Name      string       `json:"name"`
	ExpiresAt *time.Time   `json:"expires_at"`
}

type Response struct {
	KeyID      string       `json:"key_id"`
	TenantID   snowflake.ID `json:"tenant_id"`
	Name       string       `json:"name"`
	Role       Role         `json:"role"`
	IsActive   bool         `json:"is_active"`
	CreatedAt  time.Time    `json:"created_at"`
	LastUsedAt *time.Time   `json:"last_used_at"`
	ExpiresAt  *time.Time   `json:"expires_at"`
}

type SecretResponse struct {
	KeyID  string `json:"key_id"`
	APIKey string `json:"api_key"`
}

var (
	ErrInvalidTenant = errors.New("invalid_tenant")
	ErrInvalidName   = errors.New("invalid_name")
	ErrInvalidRole   = errors.New("invalid_role")
	ErrInvalidKeyID  = errors.New("invalid_key_id")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrNotFound      = errors.New("api_key_not_found")
)
