package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	paymentdomain "github.com/smallbiznis/campaigncredit/internal/payment/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct {
	db *gorm.DB
}

func Provide(db *gorm.DB) paymentdomain.NotificationRepository {
	return &repo{db: db}
}

const notificationColumns = `id, provider, payment_id, topic, request_id, payload, status,
	attempts, last_error, next_attempt_at, processed_at, created_at, updated_at`

// deferUpserts revives a processed or dead journal row with a fresh retry
// budget. attempts is assigned before status because MySQL evaluates
// ON DUPLICATE KEY UPDATE assignments in order.
var deferUpserts = append(clause.Set{
	{Column: clause.Column{Name: "attempts"}, Value: gorm.Expr(
		"CASE WHEN payment_notifications.status = ? THEN payment_notifications.attempts ELSE 0 END",
		paymentdomain.NotificationPending,
	)},
	{Column: clause.Column{Name: "status"}, Value: paymentdomain.NotificationPending},
}, clause.AssignmentColumns([]string{"request_id", "payload", "last_error", "next_attempt_at", "updated_at"})...)

func (r *repo) Defer(ctx context.Context, n *paymentdomain.Notification) (*paymentdomain.Notification, error) {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider"}, {Name: "payment_id"}, {Name: "topic"}},
			DoUpdates: deferUpserts,
		}).
		Create(n).Error
	if err != nil {
		return nil, err
	}

	var rows []*paymentdomain.Notification
	err = r.db.WithContext(ctx).Raw(
		`SELECT `+notificationColumns+`
		 FROM payment_notifications
		 WHERE provider = ? AND payment_id = ? AND topic = ?
		 LIMIT 1`,
		n.Provider, n.PaymentID, n.Topic,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	return rows[0], nil
}

func (r *repo) MarkProcessed(ctx context.Context, provider, paymentID, topic string, at time.Time) error {
	return r.db.WithContext(ctx).Exec(
		`UPDATE payment_notifications
		 SET status = ?, processed_at = ?, last_error = '', updated_at = ?
		 WHERE provider = ? AND payment_id = ? AND topic = ? AND status <> ?`,
		paymentdomain.NotificationProcessed, at, at,
		provider, paymentID, topic, paymentdomain.NotificationProcessed,
	).Error
}

func (r *repo) MarkRetry(ctx context.Context, id snowflake.ID, attempts int, lastError string, next time.Time, status paymentdomain.NotificationStatus, at time.Time) error {
	return r.db.WithContext(ctx).Exec(
		`UPDATE payment_notifications
		 SET attempts = ?, last_error = ?, next_attempt_at = ?, status = ?, updated_at = ?
		 WHERE id = ?`,
		attempts, lastError, next, status, at, id,
	).Error
}

func (r *repo) ListDue(ctx context.Context, now time.Time, limit int) ([]*paymentdomain.Notification, error) {
	var rows []*paymentdomain.Notification
	err := r.db.WithContext(ctx).Raw(
		`SELECT `+notificationColumns+`
		 FROM payment_notifications
		 WHERE status = ? AND next_attempt_at <= ?
		 ORDER BY next_attempt_at ASC, id ASC
		 LIMIT ?`,
		paymentdomain.NotificationPending, now, limit,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) List(ctx context.Context, status paymentdomain.NotificationStatus, limit int) ([]*paymentdomain.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM payment_notifications`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	var rows []*paymentdomain.Notification
	if err := r.db.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
