package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	paymentdomain "github.com/smallbiznis/campaigncredit/internal/payment/domain"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupRepo(t *testing.T) (paymentdomain.NotificationRepository, *snowflake.Node) {
	t.Helper()
	dsn := fmt.Sprintf("file:payment_repo_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&paymentdomain.Notification{}))
	node, err := snowflake.NewNode(5)
	require.NoError(t, err)
	return Provide(db), node
}

func notification(node *snowflake.Node, paymentID string, at time.Time) *paymentdomain.Notification {
	return &paymentdomain.Notification{
		ID:            node.Generate(),
		Provider:      "mercadopago",
		PaymentID:     paymentID,
		Topic:         "payment",
		RequestID:     "req-" + paymentID,
		Status:        paymentdomain.NotificationPending,
		LastError:     "gateway timeout",
		NextAttemptAt: at.Add(time.Minute),
		CreatedAt:     at,
		UpdatedAt:     at,
	}
}

func TestDeferKeepsOneRowPerPayment(t *testing.T) {
	repo, node := setupRepo(t)
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)

	first, err := repo.Defer(ctx, notification(node, "pay-1", now))
	require.NoError(t, err)
	require.NoError(t, repo.MarkRetry(ctx, first.ID, 2, "still down", now.Add(time.Hour), paymentdomain.NotificationPending, now))

	again := notification(node, "pay-1", now.Add(time.Minute))
	again.LastError = "bad gateway"
	second, err := repo.Defer(ctx, again)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, 2, second.Attempts)
	require.Equal(t, "bad gateway", second.LastError)
	require.Equal(t, "req-pay-1", second.RequestID)

	all, err := repo.List(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestDeferRevivesDeadNotification(t *testing.T) {
	repo, node := setupRepo(t)
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)

	first, err := repo.Defer(ctx, notification(node, "pay-dead", now))
	require.NoError(t, err)
	require.NoError(t, repo.MarkRetry(ctx, first.ID, 5, "gave up", now, paymentdomain.NotificationDead, now))

	later := now.Add(2 * time.Hour)
	revived, err := repo.Defer(ctx, notification(node, "pay-dead", later))
	require.NoError(t, err)
	require.Equal(t, paymentdomain.NotificationPending, revived.Status)
	require.Zero(t, revived.Attempts)
	require.True(t, revived.NextAttemptAt.Equal(later.Add(time.Minute)))

	due, err := repo.ListDue(ctx, later.Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.Equal(t, "pay-dead", due[0].PaymentID)
}

func TestDeferReopensProcessedNotification(t *testing.T) {
	repo, node := setupRepo(t)
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)

	_, err := repo.Defer(ctx, notification(node, "pay-2", now))
	require.NoError(t, err)
	require.NoError(t, repo.MarkProcessed(ctx, "mercadopago", "pay-2", "payment", now))

	reopened, err := repo.Defer(ctx, notification(node, "pay-2", now.Add(time.Hour)))
	require.NoError(t, err)
	require.Equal(t, paymentdomain.NotificationPending, reopened.Status)
}
