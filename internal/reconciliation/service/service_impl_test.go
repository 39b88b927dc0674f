package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/campaigncredit/internal/clock"
	"github.com/smallbiznis/campaigncredit/internal/config"
	ledgerdomain "github.com/smallbiznis/campaigncredit/internal/ledger/domain"
	ledgerrepo "github.com/smallbiznis/campaigncredit/internal/ledger/repository"
	ledgerservice "github.com/smallbiznis/campaigncredit/internal/ledger/service"
	orderdomain "github.com/smallbiznis/campaigncredit/internal/order/domain"
	orderrepo "github.com/smallbiznis/campaigncredit/internal/order/repository"
	paymentdomain "github.com/smallbiznis/campaigncredit/internal/payment/domain"
	paymentrepo "github.com/smallbiznis/campaigncredit/internal/payment/repository"
	pricingdomain "github.com/smallbiznis/campaigncredit/internal/pricing/domain"
	pricingrepo "github.com/smallbiznis/campaigncredit/internal/pricing/repository"
	pricingservice "github.com/smallbiznis/campaigncredit/internal/pricing/service"
	"github.com/smallbiznis/campaigncredit/internal/providers/slack"
	reconciliationdomain "github.com/smallbiznis/campaigncredit/internal/reconciliation/domain"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) CreatePreference(ctx context.Context, req paymentdomain.PreferenceRequest) (*paymentdomain.Preference, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*paymentdomain.Preference), args.Error(1)
}

func (m *mockGateway) GetPayment(ctx context.Context, paymentID string) (*paymentdomain.Payment, error) {
	args := m.Called(ctx, paymentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*paymentdomain.Payment), args.Error(1)
}

type alertSink struct {
	mu       sync.Mutex
	messages []string
}

func (a *alertSink) PostMessage(_ context.Context, _ string, message string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.messages = append(a.messages, message)
	return nil
}

func (a *alertSink) sent() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.messages...)
}

type fixture struct {
	db      *gorm.DB
	svc     reconciliationdomain.Service
	gateway *mockGateway
	ledger  ledgerdomain.Service
	orders  orderdomain.Repository
	clock   *clock.FakeClock
	node    *snowflake.Node
	alerts  *alertSink
}

func setup(t *testing.T) *fixture {
	t.Helper()

	dsn := fmt.Sprintf("file:reconciliation_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(
		&pricingdomain.PricingConfig{},
		&ledgerdomain.CreditBalance{},
		&ledgerdomain.Transaction{},
		&orderdomain.Order{},
		&paymentdomain.Notification{},
	))

	node, err := snowflake.NewNode(3)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC))
	log := zap.NewNop()
	cfg := config.Config{
		Gateway: config.GatewayConfig{Provider: "mercadopago"},
		Credits: config.CreditsDefaults{EmailUnitPrice: 10, WhatsAppUnitPrice: 50, Currency: "MXN"},
	}

	policy := config.DefaultCreditsPolicy()
	policy.ReplayBaseDelay = time.Minute
	policy.ReplayMaxDelay = 10 * time.Minute
	policy.ReplayMaxAttempts = 3

	pricing := pricingservice.NewService(pricingservice.Params{DB: db, Log: log, Repo: pricingrepo.Provide(), Clock: clk, Cfg: cfg})
	ledger := ledgerservice.NewService(ledgerservice.Params{
		DB: db, Log: log, GenID: node, Repo: ledgerrepo.Provide(), Pricing: pricing, Clock: clk,
	})
	orders := orderrepo.Provide()
	gateway := &mockGateway{}
	alerts := &alertSink{}

	svc := NewService(Params{
		DB:            db,
		Log:           log,
		GenID:         node,
		Cfg:           cfg,
		Policy:        config.NewStaticCreditsPolicyHolder(policy),
		Orders:        orders,
		Ledger:        ledger,
		Gateway:       gateway,
		Notifications: paymentrepo.Provide(db),
		Clock:         clk,
		Alerter:       slack.NewAlerter(cfg, alerts, log),
	})
	return &fixture{db: db, svc: svc, gateway: gateway, ledger: ledger, orders: orders, clock: clk, node: node, alerts: alerts}
}

func (f *fixture) seedOrder(t *testing.T, tenantID snowflake.ID, qty int64) *orderdomain.Order {
	t.Helper()
	now := f.clock.Now()
	order := &orderdomain.Order{
		ID:           f.node.Generate(),
		TenantID:     tenantID,
		RequestedBy:  "owner",
		Channel:      pricingdomain.ChannelEmail,
		Quantity:     qty,
		UnitPrice:    10,
		TotalAmount:  qty * 10,
		Currency:     "MXN",
		Provider:     "mercadopago",
		PreferenceID: "pref-" + fmt.Sprint(qty),
		Status:       orderdomain.StatusPending,
		ExpiresAt:    now.Add(24 * time.Hour),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, f.orders.Insert(context.Background(), f.db, order))
	return order
}

func (f *fixture) reload(t *testing.T, id snowflake.ID) *orderdomain.Order {
	t.Helper()
	order, err := f.orders.FindByID(context.Background(), f.db, id)
	require.NoError(t, err)
	require.NotNil(t, order)
	return order
}

func paymentFor(order *orderdomain.Order, id string, status paymentdomain.PaymentStatus) *paymentdomain.Payment {
	return &paymentdomain.Payment{
		ID:                id,
		Status:            status,
		StatusDetail:      "accredited",
		ExternalReference: order.ID.String(),
		Amount:            order.TotalAmount,
		Currency:          "MXN",
		PaymentMethod:     "visa",
		Raw:               []byte(fmt.Sprintf(`{"id":%q,"status":%q}`, id, status)),
	}
}

func paymentEvent(id string) *paymentdomain.Event {
	return &paymentdomain.Event{Provider: "mercadopago", Topic: "payment", Action: "payment.updated", DataID: id, RequestID: "req-" + id}
}

func TestReplayedNotificationCreditsOnce(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	order := f.seedOrder(t, 100, 500)
	f.gateway.On("GetPayment", mock.Anything, "pay-1").Return(paymentFor(order, "pay-1", paymentdomain.PaymentApproved), nil)

	first, err := f.svc.HandleNotification(ctx, paymentEvent("pay-1"))
	require.NoError(t, err)
	require.Equal(t, orderdomain.OutcomeCredited, first.Outcome)
	require.NotNil(t, first.TransactionID)

	for i := 0; i < 4; i++ {
		res, err := f.svc.HandleNotification(ctx, paymentEvent("pay-1"))
		require.NoError(t, err)
		require.Equal(t, orderdomain.OutcomeRecorded, res.Outcome)
		require.Equal(t, orderdomain.StatusCompleted, res.OrderStatus)
	}

	balance, err := f.ledger.GetBalance(ctx, 100)
	require.NoError(t, err)
	require.Equal(t, int64(500), balance.Email.Available)

	var count int64
	require.NoError(t, f.db.Model(&ledgerdomain.Transaction{}).Where("order_id = ?", order.ID).Count(&count).Error)
	require.Equal(t, int64(1), count)

	stored := f.reload(t, order.ID)
	require.Equal(t, orderdomain.StatusCompleted, stored.Status)
	require.NotNil(t, stored.TransactionID)
	require.Equal(t, *first.TransactionID, *stored.TransactionID)
	require.NotNil(t, stored.PaymentID)
	require.Equal(t, "pay-1", *stored.PaymentID)
	require.NotNil(t, stored.ProcessedAt)
}

func TestConcurrentNotificationsCreditOnce(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	order := f.seedOrder(t, 101, 50)
	f.gateway.On("GetPayment", mock.Anything, "pay-c").Return(paymentFor(order, "pay-c", paymentdomain.PaymentApproved), nil)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		credited int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.svc.HandleNotification(ctx, paymentEvent("pay-c"))
			if err != nil {
				t.Errorf("handle notification: %v", err)
				return
			}
			if res.Outcome == orderdomain.OutcomeCredited {
				mu.Lock()
				credited++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, credited)
	balance, err := f.ledger.GetBalance(ctx, 101)
	require.NoError(t, err)
	require.Equal(t, int64(50), balance.Email.Available)
}

func TestCompletedOrderIgnoresLaterStatuses(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	order := f.seedOrder(t, 102, 10)

	_, err := f.svc.ApplyPayment(ctx, paymentFor(order, "pay-2", paymentdomain.PaymentApproved))
	require.NoError(t, err)

	res, err := f.svc.ApplyPayment(ctx, paymentFor(order, "pay-2", paymentdomain.PaymentRefunded))
	require.NoError(t, err)
	require.Equal(t, orderdomain.OutcomeRecorded, res.Outcome)

	stored := f.reload(t, order.ID)
	require.Equal(t, orderdomain.StatusCompleted, stored.Status)
	require.Equal(t, "refunded", stored.PaymentStatus)

	balance, err := f.ledger.GetBalance(ctx, 102)
	require.NoError(t, err)
	require.Equal(t, int64(10), balance.Email.Available)
}

func TestRejectedPaymentFailsOrderButRetryCanComplete(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	order := f.seedOrder(t, 103, 20)

	res, err := f.svc.ApplyPayment(ctx, paymentFor(order, "pay-r", paymentdomain.PaymentRejected))
	require.NoError(t, err)
	require.Equal(t, orderdomain.OutcomeFailed, res.Outcome)
	require.Equal(t, orderdomain.StatusFailed, f.reload(t, order.ID).Status)

	res, err = f.svc.ApplyPayment(ctx, paymentFor(order, "pay-r2", paymentdomain.PaymentApproved))
	require.NoError(t, err)
	require.Equal(t, orderdomain.OutcomeCredited, res.Outcome)

	balance, err := f.ledger.GetBalance(ctx, 103)
	require.NoError(t, err)
	require.Equal(t, int64(20), balance.Email.Available)
}

func TestPendingPaymentOnlyRecordsMetadata(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	order := f.seedOrder(t, 104, 20)

	res, err := f.svc.ApplyPayment(ctx, paymentFor(order, "pay-p", paymentdomain.PaymentInProcess))
	require.NoError(t, err)
	require.Equal(t, orderdomain.OutcomeRecorded, res.Outcome)

	stored := f.reload(t, order.ID)
	require.Equal(t, orderdomain.StatusPending, stored.Status)
	require.Equal(t, "in_process", stored.PaymentStatus)
	require.JSONEq(t, `{"id":"pay-p","status":"in_process"}`, string(stored.PaymentMetadata))
}

func TestUnknownReferenceIsNotFound(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.gateway.On("GetPayment", mock.Anything, "pay-x").Return(&paymentdomain.Payment{
		ID: "pay-x", Status: paymentdomain.PaymentApproved, ExternalReference: "999999",
	}, nil)
	f.gateway.On("GetPayment", mock.Anything, "pay-y").Return(&paymentdomain.Payment{
		ID: "pay-y", Status: paymentdomain.PaymentApproved, ExternalReference: "",
	}, nil)

	res, err := f.svc.HandleNotification(ctx, paymentEvent("pay-x"))
	require.ErrorIs(t, err, orderdomain.ErrOrderNotFound)
	require.Equal(t, orderdomain.OutcomeNotFound, res.Outcome)

	res, err = f.svc.HandleNotification(ctx, paymentEvent("pay-y"))
	require.ErrorIs(t, err, orderdomain.ErrOrderNotFound)
	require.Equal(t, orderdomain.OutcomeNotFound, res.Outcome)

	var count int64
	require.NoError(t, f.db.Model(&ledgerdomain.Transaction{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestNonPaymentTopicIsIgnored(t *testing.T) {
	f := setup(t)

	res, err := f.svc.HandleNotification(context.Background(), &paymentdomain.Event{Topic: "merchant_order", DataID: "1"})
	require.NoError(t, err)
	require.Equal(t, orderdomain.OutcomeIgnored, res.Outcome)
	f.gateway.AssertNotCalled(t, "GetPayment", mock.Anything, mock.Anything)

	_, err = f.svc.HandleNotification(context.Background(), &paymentdomain.Event{Topic: "payment"})
	require.ErrorIs(t, err, paymentdomain.ErrMissingPaymentID)
}

func TestGatewayFailureIsDeferredAndReplayed(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	order := f.seedOrder(t, 105, 30)

	outage := &paymentdomain.GatewayError{Op: "get_payment", Kind: paymentdomain.GatewayServer, StatusCode: 503}
	f.gateway.On("GetPayment", mock.Anything, "pay-d").Return(nil, outage).Once()
	f.gateway.On("GetPayment", mock.Anything, "pay-d").Return(paymentFor(order, "pay-d", paymentdomain.PaymentApproved), nil)

	event := paymentEvent("pay-d")
	event.Payload = []byte(`{"type":"payment","data":{"id":"pay-d"}}`)
	res, err := f.svc.HandleNotification(ctx, event)
	require.NoError(t, err)
	require.Equal(t, orderdomain.OutcomeDeferred, res.Outcome)

	pending, err := f.svc.ListNotifications(ctx, paymentdomain.NotificationPending, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "pay-d", pending[0].PaymentID)
	require.Contains(t, pending[0].LastError, "503")

	// Not due yet.
	summary, err := f.svc.ReplayDue(ctx, 10)
	require.NoError(t, err)
	require.Zero(t, summary.Processed)

	f.clock.Advance(2 * time.Minute)
	summary, err = f.svc.ReplayDue(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Processed)

	processed, err := f.svc.ListNotifications(ctx, paymentdomain.NotificationProcessed, 10)
	require.NoError(t, err)
	require.Len(t, processed, 1)

	balance, err := f.ledger.GetBalance(ctx, 105)
	require.NoError(t, err)
	require.Equal(t, int64(30), balance.Email.Available)
	require.Equal(t, orderdomain.StatusCompleted, f.reload(t, order.ID).Status)
}

func TestReplayGivesUpAfterMaxAttempts(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.gateway.On("GetPayment", mock.Anything, "pay-z").Return(nil, &paymentdomain.GatewayError{Op: "get_payment", Kind: paymentdomain.GatewayTimeout})

	res, err := f.svc.HandleNotification(ctx, paymentEvent("pay-z"))
	require.NoError(t, err)
	require.Equal(t, orderdomain.OutcomeDeferred, res.Outcome)

	var summary *reconciliationdomain.ReplaySummary
	for i := 0; i < 3; i++ {
		f.clock.Advance(time.Hour)
		summary, err = f.svc.ReplayDue(ctx, 10)
		require.NoError(t, err)
	}
	require.Equal(t, 1, summary.Dead)

	dead, err := f.svc.ListNotifications(ctx, paymentdomain.NotificationDead, 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	require.Equal(t, 3, dead[0].Attempts)

	f.clock.Advance(time.Hour)
	summary, err = f.svc.ReplayDue(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, reconciliationdomain.ReplaySummary{}, *summary)
}

func TestMismatchedPaymentIsRecordedNotCredited(t *testing.T) {
	cases := []struct {
		name   string
		tenant snowflake.ID
		alter  func(*paymentdomain.Payment)
		want   string
	}{
		{"short amount", 110, func(p *paymentdomain.Payment) { p.Amount = 10 }, "amount 10 differs"},
		{"other currency", 111, func(p *paymentdomain.Payment) { p.Currency = "USD" }, "currency USD differs"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := setup(t)
			ctx := context.Background()
			order := f.seedOrder(t, tc.tenant, 40)
			payment := paymentFor(order, "pay-m", paymentdomain.PaymentApproved)
			tc.alter(payment)

			res, err := f.svc.ApplyPayment(ctx, payment)
			require.NoError(t, err)
			require.Equal(t, orderdomain.OutcomeRecorded, res.Outcome)
			require.Nil(t, res.TransactionID)

			stored := f.reload(t, order.ID)
			require.Equal(t, orderdomain.StatusPending, stored.Status)
			require.NotNil(t, stored.PaymentID)
			require.Equal(t, "pay-m", *stored.PaymentID)

			var count int64
			require.NoError(t, f.db.Model(&ledgerdomain.Transaction{}).Where("order_id = ?", order.ID).Count(&count).Error)
			require.Zero(t, count)

			alerts := f.alerts.sent()
			require.Len(t, alerts, 1)
			require.Contains(t, alerts[0], tc.want)
			require.Contains(t, alerts[0], order.ID.String())
		})
	}
}

func TestCurrencyCaseAndMissingAmountStillCredit(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	order := f.seedOrder(t, 112, 20)
	payment := paymentFor(order, "pay-c", paymentdomain.PaymentApproved)
	payment.Currency = "mxn"
	payment.Amount = 0

	res, err := f.svc.ApplyPayment(ctx, payment)
	require.NoError(t, err)
	require.Equal(t, orderdomain.OutcomeCredited, res.Outcome)
	require.Empty(t, f.alerts.sent())
}

func TestBackoffIsCapped(t *testing.T) {
	require.Equal(t, time.Minute, backoff(time.Minute, time.Hour, 1))
	require.Equal(t, 4*time.Minute, backoff(time.Minute, time.Hour, 3))
	require.Equal(t, time.Hour, backoff(time.Minute, time.Hour, 20))
}
