package domain

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

type Repository interface {
	Get(ctx context.Context, db *gorm.DB, channel Channel) (*PricingConfig, error)
	List(ctx context.Context, db *gorm.DB) ([]PricingConfig, error)
	Upsert(ctx context.Context, db *gorm.DB, cfg *PricingConfig) error
}

// Service resolves unit prices at the moment a cost is computed.
type Service interface {
	GetPrice(ctx context.Context, channel Channel) (*Price, error)
	List(ctx context.Context) ([]Price, error)
	Set(ctx context.Context, req SetPriceRequest) (*Price, error)
}

type SetPriceRequest struct {
	Channel   Channel `json:"-"`
	UnitPrice int64   `json:"unit_price"`
	UpdatedBy string  `json:"-"`
}

var (
	ErrInvalidChannel   = errors.New("invalid_channel")
	ErrInvalidUnitPrice = errors.New("invalid_unit_price")
	ErrAmountOverflow   = errors.New("invalid_amount_overflow")
)
