package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/smallbiznis/campaigncredit/internal/ledger/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() ledgerdomain.Repository {
	return &repo{}
}

const transactionColumns = `id, tenant_id, kind, channel, quantity, unit_price, total_cost, currency,
	status, requested_by, approved_by, approved_at, reference, notes, decision_notes,
	order_id, refund_of, created_at, updated_at`

func (r *repo) EnsureBalance(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, now time.Time) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "tenant_id"}}, DoNothing: true}).
		Create(&ledgerdomain.CreditBalance{TenantID: tenantID, CreatedAt: now, UpdatedAt: now}).Error
}

func (r *repo) GetBalance(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) (*ledgerdomain.CreditBalance, error) {
	var rows []ledgerdomain.CreditBalance
	err := db.WithContext(ctx).Raw(
		`SELECT tenant_id, emails_available, emails_used, emails_cost,
			whatsapp_available, whatsapp_used, whatsapp_cost, created_at, updated_at
		 FROM credit_balances
		 WHERE tenant_id = ?
		 LIMIT 1`,
		tenantID,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (r *repo) Decrement(ctx context.Context, db *gorm.DB, d ledgerdomain.Delta) (bool, error) {
	prefix, err := ledgerdomain.ColumnPrefix(d.Channel)
	if err != nil {
		return false, err
	}

	var query string
	args := []any{d.Quantity}
	if d.Consume {
		query = fmt.Sprintf(
			`UPDATE credit_balances
			 SET %[1]s_available = %[1]s_available - ?,
			     %[1]s_used = %[1]s_used + ?,
			     %[1]s_cost = %[1]s_cost + ?,
			     updated_at = ?
			 WHERE tenant_id = ? AND %[1]s_available >= ?`,
			prefix,
		)
		args = append(args, d.Quantity, d.Cost)
	} else {
		query = fmt.Sprintf(
			`UPDATE credit_balances
			 SET %[1]s_available = %[1]s_available - ?,
			     updated_at = ?
			 WHERE tenant_id = ? AND %[1]s_available >= ?`,
			prefix,
		)
	}
	args = append(args, d.At, d.TenantID, d.Quantity)

	result := db.WithContext(ctx).Exec(query, args...)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) Increment(ctx context.Context, db *gorm.DB, d ledgerdomain.Delta) error {
	prefix, err := ledgerdomain.ColumnPrefix(d.Channel)
	if err != nil {
		return err
	}

	result := db.WithContext(ctx).Exec(
		fmt.Sprintf(
			`UPDATE credit_balances
			 SET %[1]s_available = %[1]s_available + ?,
			     updated_at = ?
			 WHERE tenant_id = ?`,
			prefix,
		),
		d.Quantity, d.At, d.TenantID,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("credit balance missing for tenant %s", d.TenantID)
	}
	return nil
}

func (r *repo) InsertTransaction(ctx context.Context, db *gorm.DB, txn *ledgerdomain.Transaction) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO credit_transactions (`+transactionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		txn.ID,
		txn.TenantID,
		txn.Kind,
		txn.Channel,
		txn.Quantity,
		txn.UnitPrice,
		txn.TotalCost,
		txn.Currency,
		txn.Status,
		txn.RequestedBy,
		txn.ApprovedBy,
		txn.ApprovedAt,
		txn.Reference,
		txn.Notes,
		txn.DecisionNotes,
		txn.OrderID,
		txn.RefundOf,
		txn.CreatedAt,
		txn.UpdatedAt,
	).Error
}

func (r *repo) FindTransaction(ctx context.Context, db *gorm.DB, id snowflake.ID) (*ledgerdomain.Transaction, error) {
	var rows []ledgerdomain.Transaction
	err := db.WithContext(ctx).Raw(
		`SELECT `+transactionColumns+`
		 FROM credit_transactions
		 WHERE id = ?
		 LIMIT 1`,
		id,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (r *repo) ListTransactions(ctx context.Context, db *gorm.DB, filter ledgerdomain.TransactionFilter) ([]*ledgerdomain.Transaction, error) {
	clauses := make([]string, 0, 5)
	args := make([]any, 0, 6)
	if filter.TenantID != 0 {
		clauses = append(clauses, "tenant_id = ?")
		args = append(args, filter.TenantID)
	}
	if filter.Channel != "" {
		clauses = append(clauses, "channel = ?")
		args = append(args, filter.Channel)
	}
	if filter.Kind != "" {
		clauses = append(clauses, "kind = ?")
		args = append(args, filter.Kind)
	}
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.BeforeID != 0 {
		clauses = append(clauses, "id < ?")
		args = append(args, filter.BeforeID)
	}

	query := `SELECT ` + transactionColumns + ` FROM credit_transactions`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY id DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	var rows []*ledgerdomain.Transaction
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
