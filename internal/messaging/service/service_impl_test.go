package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/campaigncredit/internal/clock"
	"github.com/smallbiznis/campaigncredit/internal/config"
	ledgerdomain "github.com/smallbiznis/campaigncredit/internal/ledger/domain"
	ledgerrepo "github.com/smallbiznis/campaigncredit/internal/ledger/repository"
	ledgerservice "github.com/smallbiznis/campaigncredit/internal/ledger/service"
	messagingdomain "github.com/smallbiznis/campaigncredit/internal/messaging/domain"
	pricingdomain "github.com/smallbiznis/campaigncredit/internal/pricing/domain"
	pricingrepo "github.com/smallbiznis/campaigncredit/internal/pricing/repository"
	pricingservice "github.com/smallbiznis/campaigncredit/internal/pricing/service"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type mockTransport struct {
	mock.Mock
	channel pricingdomain.Channel
}

func (m *mockTransport) Channel() pricingdomain.Channel { return m.channel }

func (m *mockTransport) Deliver(ctx context.Context, msg *messagingdomain.Message) (*messagingdomain.Delivery, error) {
	args := m.Called(ctx, msg)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*messagingdomain.Delivery), args.Error(1)
}

type fixture struct {
	svc      messagingdomain.Dispatcher
	ledger   ledgerdomain.Service
	email    *mockTransport
	whatsapp *mockTransport
}

func setup(t *testing.T, withWhatsApp bool) *fixture {
	t.Helper()

	dsn := fmt.Sprintf("file:messaging_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&pricingdomain.PricingConfig{}, &ledgerdomain.CreditBalance{}, &ledgerdomain.Transaction{}))

	node, err := snowflake.NewNode(6)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	log := zap.NewNop()
	cfg := config.Config{Credits: config.CreditsDefaults{EmailUnitPrice: 10, WhatsAppUnitPrice: 50, Currency: "MXN"}}

	pricing := pricingservice.NewService(pricingservice.Params{DB: db, Log: log, Repo: pricingrepo.Provide(), Clock: clk, Cfg: cfg})
	ledger := ledgerservice.NewService(ledgerservice.Params{
		DB: db, Log: log, GenID: node, Repo: ledgerrepo.Provide(), Pricing: pricing, Clock: clk,
	})

	f := &fixture{
		ledger:   ledger,
		email:    &mockTransport{channel: pricingdomain.ChannelEmail},
		whatsapp: &mockTransport{channel: pricingdomain.ChannelWhatsApp},
	}
	transports := []messagingdomain.Transport{f.email}
	if withWhatsApp {
		transports = append(transports, f.whatsapp)
	}
	f.svc = NewService(Params{Log: log, Ledger: ledger, Transports: transports})
	return f
}

func (f *fixture) credit(t *testing.T, tenantID snowflake.ID, channel pricingdomain.Channel, qty int64) {
	t.Helper()
	_, err := f.ledger.AddCredits(context.Background(), ledgerdomain.AddCreditsRequest{
		TenantID: tenantID, Channel: channel, Quantity: qty, UnitPrice: 10, Currency: "MXN", ApprovedBy: "ops",
	})
	require.NoError(t, err)
}

func (f *fixture) balance(t *testing.T, tenantID snowflake.ID) *ledgerdomain.Balance {
	t.Helper()
	b, err := f.ledger.GetBalance(context.Background(), tenantID)
	require.NoError(t, err)
	return b
}

func emailMessage(tenantID snowflake.ID, recipients ...string) messagingdomain.Message {
	return messagingdomain.Message{
		TenantID:   tenantID,
		Channel:    pricingdomain.ChannelEmail,
		Recipients: recipients,
		Subject:    "Asamblea vecinal",
		Body:       "<p>Te esperamos el sabado.</p>",
		Reference:  "campaign:42",
	}
}

func TestSendConsumesBeforeDelivery(t *testing.T) {
	f := setup(t, false)
	f.credit(t, 1, pricingdomain.ChannelEmail, 10)

	f.email.On("Deliver", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		// Credits are already taken when the transport runs.
		require.Equal(t, int64(7), f.balance(t, 1).Email.Available)
	}).Return(&messagingdomain.Delivery{Delivered: 3}, nil)

	res, err := f.svc.Send(context.Background(), emailMessage(1, "a@x.mx", "b@x.mx", "c@x.mx", "A@x.mx", " "))
	require.NoError(t, err)
	require.Equal(t, 3, res.Requested)
	require.Equal(t, 3, res.Delivered)
	require.Zero(t, res.Refunded)
	require.NotZero(t, res.ConsumptionID)

	b := f.balance(t, 1)
	require.Equal(t, int64(7), b.Email.Available)
	require.Equal(t, int64(3), b.Email.Used)
}

func TestSendWithoutCreditsNeverCallsTransport(t *testing.T) {
	f := setup(t, false)
	f.credit(t, 2, pricingdomain.ChannelEmail, 1)

	_, err := f.svc.Send(context.Background(), emailMessage(2, "a@x.mx", "b@x.mx"))
	require.ErrorIs(t, err, ledgerdomain.ErrInsufficientCredits)
	f.email.AssertNotCalled(t, "Deliver", mock.Anything, mock.Anything)
	require.Equal(t, int64(1), f.balance(t, 2).Email.Available)
}

func TestFailedDeliveryRefundsCredits(t *testing.T) {
	f := setup(t, false)
	f.credit(t, 3, pricingdomain.ChannelEmail, 5)
	f.email.On("Deliver", mock.Anything, mock.Anything).Return(&messagingdomain.Delivery{}, errors.New("smtp: 421 service not available"))

	res, err := f.svc.Send(context.Background(), emailMessage(3, "a@x.mx", "b@x.mx"))
	require.ErrorIs(t, err, messagingdomain.ErrDeliveryFailed)
	require.Contains(t, err.Error(), "421")
	require.Equal(t, 2, res.Refunded)
	require.NotNil(t, res.RefundID)

	b := f.balance(t, 3)
	require.Equal(t, int64(5), b.Email.Available)
	require.Equal(t, int64(2), b.Email.Used)
}

func TestPartialWhatsAppDeliveryRefundsRemainder(t *testing.T) {
	f := setup(t, true)
	f.credit(t, 4, pricingdomain.ChannelWhatsApp, 10)
	f.whatsapp.On("Deliver", mock.Anything, mock.Anything).Return(
		&messagingdomain.Delivery{Delivered: 2, MessageIDs: []string{"wamid.1", "wamid.2"}},
		errors.New("recipient 3 of 4: status 400"),
	)

	res, err := f.svc.Send(context.Background(), messagingdomain.Message{
		TenantID:   4,
		Channel:    pricingdomain.ChannelWhatsApp,
		Recipients: []string{"5215500000001", "5215500000002", "5215500000003", "5215500000004"},
		Body:       "Recuerda votar",
	})
	require.ErrorIs(t, err, messagingdomain.ErrDeliveryFailed)
	require.Equal(t, 2, res.Delivered)
	require.Equal(t, 2, res.Refunded)
	require.Equal(t, []string{"wamid.1", "wamid.2"}, res.MessageIDs)

	require.Equal(t, int64(8), f.balance(t, 4).WhatsApp.Available)
}

func TestSendValidation(t *testing.T) {
	f := setup(t, false)
	ctx := context.Background()

	cases := []struct {
		name string
		msg  messagingdomain.Message
		want error
	}{
		{"tenant", messagingdomain.Message{Channel: pricingdomain.ChannelEmail, Recipients: []string{"a"}, Body: "b", Subject: "s"}, ledgerdomain.ErrInvalidTenant},
		{"channel", messagingdomain.Message{TenantID: 1, Channel: "sms", Recipients: []string{"a"}, Body: "b"}, pricingdomain.ErrInvalidChannel},
		{"recipients", messagingdomain.Message{TenantID: 1, Channel: pricingdomain.ChannelEmail, Recipients: []string{" "}, Body: "b", Subject: "s"}, messagingdomain.ErrNoRecipients},
		{"body", messagingdomain.Message{TenantID: 1, Channel: pricingdomain.ChannelEmail, Recipients: []string{"a"}, Subject: "s"}, messagingdomain.ErrEmptyBody},
		{"subject", messagingdomain.Message{TenantID: 1, Channel: pricingdomain.ChannelEmail, Recipients: []string{"a"}, Body: "b"}, messagingdomain.ErrEmptySubject},
		{"transport", messagingdomain.Message{TenantID: 1, Channel: pricingdomain.ChannelWhatsApp, Recipients: []string{"a"}, Body: "b"}, messagingdomain.ErrTransportMissing},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Send(ctx, tc.msg)
			require.ErrorIs(t, err, tc.want)
		})
	}

	many := make([]string, messagingdomain.MaxRecipients+1)
	for i := range many {
		many[i] = fmt.Sprintf("r%d@x.mx", i)
	}
	_, err := f.svc.Send(ctx, emailMessage(1, many...))
	require.ErrorIs(t, err, messagingdomain.ErrTooManyRecipients)
}
