package repository

import (
	"context"

	ledgerdomain "github.com/smallbiznis/campaigncredit/internal/ledger/domain"
	transactiondomain "github.com/smallbiznis/campaigncredit/internal/transaction/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() transactiondomain.Repository {
	return &repo{}
}

func (r *repo) Decide(ctx context.Context, db *gorm.DB, d transactiondomain.Decision) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE credit_transactions
		 SET status = ?, approved_by = ?, approved_at = ?, decision_notes = ?, updated_at = ?
		 WHERE id = ? AND kind = ? AND status = ?`,
		d.To,
		d.DecidedBy,
		d.At,
		d.Notes,
		d.At,
		d.ID,
		ledgerdomain.KindPurchase,
		ledgerdomain.StatusPending,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}
