package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	orderdomain "github.com/smallbiznis/campaigncredit/internal/order/domain"
	paymentdomain "github.com/smallbiznis/campaigncredit/internal/payment/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() orderdomain.Repository {
	return &repo{}
}

const orderColumns = `id, tenant_id, requested_by, channel, quantity, unit_price, total_amount, currency,
	provider, preference_id, checkout_url, sandbox_checkout_url, status, payment_id, payment_status,
	payment_status_detail, payment_method, payment_metadata, transaction_id, expires_at, processed_at,
	created_at, updated_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, o *orderdomain.Order) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO credit_orders (`+orderColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID,
		o.TenantID,
		o.RequestedBy,
		o.Channel,
		o.Quantity,
		o.UnitPrice,
		o.TotalAmount,
		o.Currency,
		o.Provider,
		o.PreferenceID,
		o.CheckoutURL,
		o.SandboxCheckoutURL,
		o.Status,
		o.PaymentID,
		o.PaymentStatus,
		o.PaymentStatusDetail,
		o.PaymentMethod,
		o.PaymentMetadata,
		o.TransactionID,
		o.ExpiresAt,
		o.ProcessedAt,
		o.CreatedAt,
		o.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*orderdomain.Order, error) {
	var rows []*orderdomain.Order
	err := db.WithContext(ctx).Raw(
		`SELECT `+orderColumns+`
		 FROM credit_orders
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
	return rows[0], nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, beforeID snowflake.ID, limit int) ([]*orderdomain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM credit_orders WHERE tenant_id = ?`
	args := []any{tenantID}
	if beforeID != 0 {
		query += ` AND id < ?`
		args = append(args, beforeID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	var rows []*orderdomain.Order
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) RecordPayment(ctx context.Context, db *gorm.DB, u orderdomain.PaymentUpdate) error {
	return db.WithContext(ctx).Exec(
		`UPDATE credit_orders
		 SET payment_id = ?, payment_status = ?, payment_status_detail = ?, payment_method = ?,
		     payment_metadata = ?, updated_at = ?
		 WHERE id = ?`,
		u.PaymentID,
		u.Status,
		u.StatusDetail,
		u.PaymentMethod,
		u.Metadata,
		u.At,
		u.OrderID,
	).Error
}

func (r *repo) Transition(ctx context.Context, db *gorm.DB, id snowflake.ID, to orderdomain.Status, at time.Time, from ...orderdomain.Status) (bool, error) {
	if len(from) == 0 {
		return false, nil
	}
	result := db.WithContext(ctx).Exec(
		`UPDATE credit_orders
		 SET status = ?, processed_at = ?, updated_at = ?
		 WHERE id = ? AND status IN ?`,
		to, at, at, id, from,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) SetTransaction(ctx context.Context, db *gorm.DB, id, transactionID snowflake.ID, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE credit_orders SET transaction_id = ?, updated_at = ? WHERE id = ?`,
		transactionID, at, id,
	).Error
}

// in-flight payments are left to reconciliation and must not occupy a batch
var terminalPaymentStatuses = []string{
	string(paymentdomain.PaymentRejected),
	string(paymentdomain.PaymentCancelled),
	string(paymentdomain.PaymentRefunded),
	string(paymentdomain.PaymentChargedBack),
}

func (r *repo) ListExpired(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) ([]*orderdomain.Order, error) {
	var rows []*orderdomain.Order
	err := db.WithContext(ctx).Raw(
		`SELECT `+orderColumns+`
		 FROM credit_orders
		 WHERE status = ? AND expires_at < ?
		   AND (payment_id IS NULL OR payment_status IN ?)
		 ORDER BY expires_at ASC
		 LIMIT ?`,
		orderdomain.StatusPending, cutoff, terminalPaymentStatuses, limit,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
