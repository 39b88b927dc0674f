package mercadopago

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	paymentdomain "github.com/smallbiznis/campaigncredit/internal/payment/domain"
	"github.com/stretchr/testify/require"
)

func newTestAdapter(t *testing.T, handler http.HandlerFunc) *Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	adapter, err := NewFactory().NewAdapter(paymentdomain.AdapterConfig{
		BaseURL:       srv.URL,
		AccessToken:   "TEST-token",
		WebhookSecret: "whsec",
		HTTPClient:    srv.Client(),
	})
	require.NoError(t, err)
	return adapter.(*Adapter)
}

func TestCreatePreference(t *testing.T) {
	var (
		body    map[string]any
		headers http.Header
	)
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/checkout/preferences", r.URL.Path)
		headers = r.Header.Clone()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"pref-1","init_point":"https://mp/checkout/1","sandbox_init_point":"https://sandbox/1"}`))
	})

	expires := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	pref, err := adapter.CreatePreference(context.Background(), paymentdomain.PreferenceRequest{
		ExternalReference: "1234",
		IdempotencyKey:    "01HKEY",
		Items: []paymentdomain.PreferenceItem{{
			ID: "email", Title: "Email credits", Quantity: 100, UnitPrice: 1050, Currency: "mxn",
		}},
		NotificationURL: "https://api.example.com/api/payments/webhooks/mercadopago",
		SuccessURL:      "https://app.example.com/ok",
		ExpiresAt:       expires,
	})
	require.NoError(t, err)
	require.Equal(t, "pref-1", pref.ID)
	require.Equal(t, "https://mp/checkout/1", pref.CheckoutURL)

	require.Equal(t, "Bearer TEST-token", headers.Get("Authorization"))
	require.Equal(t, "01HKEY", headers.Get("X-Idempotency-Key"))
	require.Equal(t, "1234", body["external_reference"])
	require.Equal(t, true, body["expires"])
	require.Equal(t, "2026-05-01T10:00:00.000+00:00", body["expiration_date_to"])
	require.Equal(t, "approved", body["auto_return"])

	items := body["items"].([]any)
	item := items[0].(map[string]any)
	require.Equal(t, 10.5, item["unit_price"])
	require.Equal(t, "MXN", item["currency_id"])
}

func TestCreatePreferenceGeneratesIdempotencyKey(t *testing.T) {
	var key string
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		key = r.Header.Get("X-Idempotency-Key")
		_, _ = w.Write([]byte(`{"id":"pref-2"}`))
	})

	_, err := adapter.CreatePreference(context.Background(), paymentdomain.PreferenceRequest{
		ExternalReference: "1",
		Items:             []paymentdomain.PreferenceItem{{Title: "x", Quantity: 1, UnitPrice: 1}},
	})
	require.NoError(t, err)
	require.Len(t, key, 26)
}

func TestGetPayment(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/payments/987", r.URL.Path)
		_, _ = w.Write([]byte(`{
			"id": 987,
			"status": "approved",
			"status_detail": "accredited",
			"external_reference": " 55 ",
			"transaction_amount": 1000.5,
			"currency_id": "MXN",
			"payment_method_id": "visa",
			"payment_type_id": "credit_card",
			"date_approved": "2026-05-01T10:00:00.000-04:00",
			"payer": {"email": "buyer@example.com"}
		}`))
	})

	payment, err := adapter.GetPayment(context.Background(), "987")
	require.NoError(t, err)
	require.Equal(t, "987", payment.ID)
	require.Equal(t, paymentdomain.PaymentApproved, payment.Status)
	require.Equal(t, "55", payment.ExternalReference)
	require.Equal(t, int64(100050), payment.Amount)
	require.Equal(t, "visa", payment.PaymentMethod)
	require.NotNil(t, payment.DateApproved)
	require.NotEmpty(t, payment.Raw)
}

func TestGetPaymentClassifiesErrors(t *testing.T) {
	status := http.StatusNotFound
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"message":"payment not found","error":"not_found"}`))
	})

	_, err := adapter.GetPayment(context.Background(), "1")
	var gwErr *paymentdomain.GatewayError
	require.True(t, errors.As(err, &gwErr))
	require.Equal(t, paymentdomain.GatewayClient, gwErr.Kind)
	require.Equal(t, "payment not found", gwErr.Message)
	require.False(t, gwErr.Retryable())

	status = http.StatusBadGateway
	_, err = adapter.GetPayment(context.Background(), "1")
	require.True(t, errors.As(err, &gwErr))
	require.Equal(t, paymentdomain.GatewayServer, gwErr.Kind)
	require.True(t, gwErr.Retryable())

	status = http.StatusTooManyRequests
	_, err = adapter.GetPayment(context.Background(), "1")
	require.True(t, paymentdomain.IsRetryable(err))

	_, err = adapter.GetPayment(context.Background(), " ")
	require.ErrorIs(t, err, paymentdomain.ErrMissingPaymentID)
}

func TestGetPaymentTimeout(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := adapter.GetPayment(ctx, "1")
	var gwErr *paymentdomain.GatewayError
	require.True(t, errors.As(err, &gwErr))
	require.Equal(t, paymentdomain.GatewayTimeout, gwErr.Kind)
}

func TestVerifySignature(t *testing.T) {
	secret := "whsec"
	sig := Sign(secret, "1704908010", "req-1", "ABC123")
	require.Equal(t, "id:abc123;request-id:req-1;ts:1704908010;", manifest("1704908010", "req-1", "ABC123"))

	require.NoError(t, VerifySignature(secret, "ts=1704908010,v1="+sig, "req-1", "ABC123"))
	require.ErrorIs(t, VerifySignature(secret, "ts=1704908010,v1="+sig, "req-2", "ABC123"), paymentdomain.ErrInvalidSignature)
	require.ErrorIs(t, VerifySignature("other", "ts=1704908010,v1="+sig, "req-1", "ABC123"), paymentdomain.ErrInvalidSignature)
	require.ErrorIs(t, VerifySignature(secret, "garbage", "req-1", "ABC123"), paymentdomain.ErrInvalidSignature)

	adapter := &Adapter{webhookSecret: secret}
	headers := http.Header{}
	headers.Set("x-signature", "ts=1704908010, v1="+sig)
	headers.Set("x-request-id", "req-1")
	require.NoError(t, adapter.VerifyNotification(headers, "ABC123"))

	require.NoError(t, (&Adapter{}).VerifyNotification(http.Header{}, "1"))
}

func TestFactoryRequiresToken(t *testing.T) {
	_, err := NewFactory().NewAdapter(paymentdomain.AdapterConfig{})
	require.ErrorIs(t, err, paymentdomain.ErrInvalidConfig)
}
