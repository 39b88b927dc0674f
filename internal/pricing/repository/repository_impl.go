package repository

import (
	"context"

	pricingdomain "github.com/smallbiznis/campaigncredit/internal/pricing/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() pricingdomain.Repository {
	return &repo{}
}

func (r *repo) Get(ctx context.Context, db *gorm.DB, channel pricingdomain.Channel) (*pricingdomain.PricingConfig, error) {
	var rows []pricingdomain.PricingConfig
	err := db.WithContext(ctx).Raw(
		`SELECT channel, unit_price, currency, updated_by, updated_at
		 FROM credit_pricing
		 WHERE channel = ?
		 LIMIT 1`,
		channel,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB) ([]pricingdomain.PricingConfig, error) {
	var rows []pricingdomain.PricingConfig
	err := db.WithContext(ctx).Raw(
		`SELECT channel, unit_price, currency, updated_by, updated_at
		 FROM credit_pricing
		 ORDER BY channel ASC`,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) Upsert(ctx context.Context, db *gorm.DB, cfg *pricingdomain.PricingConfig) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "channel"}},
			DoUpdates: clause.AssignmentColumns([]string{"unit_price", "currency", "updated_by", "updated_at"}),
		}).
		Create(cfg).Error
}
