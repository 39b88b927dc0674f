package webhook

import (
	"net/http"
	"net/url"
	"testing"

	paymentdomain "github.com/smallbiznis/campaigncredit/internal/payment/domain"
	"github.com/stretchr/testify/require"
)

func TestParseWebhookBody(t *testing.T) {
	headers := http.Header{}
	headers.Set("x-request-id", "req-9")
	payload := []byte(`{"action":"payment.updated","type":"payment","live_mode":true,"data":{"id":"123456"}}`)

	event, err := Parse("mercadopago", headers, url.Values{}, payload)
	require.NoError(t, err)
	require.Equal(t, "payment", event.Topic)
	require.Equal(t, "123456", event.DataID)
	require.Equal(t, "req-9", event.RequestID)
	require.True(t, event.LiveMode)
	require.True(t, event.IsPayment())
}

func TestParseNumericDataID(t *testing.T) {
	event, err := Parse("mercadopago", http.Header{}, url.Values{}, []byte(`{"type":"payment","data":{"id":98765432101}}`))
	require.NoError(t, err)
	require.Equal(t, "98765432101", event.DataID)
}

func TestParseLegacyQuery(t *testing.T) {
	query := url.Values{"topic": {"payment"}, "id": {"555"}}
	event, err := Parse("mercadopago", http.Header{}, query, nil)
	require.NoError(t, err)
	require.Equal(t, "555", event.DataID)
	require.True(t, event.IsPayment())

	query = url.Values{"topic": {"merchant_order"}, "id": {"1"}}
	event, err = Parse("mercadopago", http.Header{}, query, nil)
	require.NoError(t, err)
	require.False(t, event.IsPayment())
}

func TestParseResourceURL(t *testing.T) {
	event, err := Parse("mercadopago", http.Header{}, url.Values{}, []byte(`{"topic":"payment","resource":"https://api.mercadopago.com/v1/payments/777"}`))
	require.NoError(t, err)
	require.Equal(t, "777", event.DataID)
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := Parse("mercadopago", http.Header{}, url.Values{}, []byte(`{not json`))
	require.ErrorIs(t, err, paymentdomain.ErrInvalidPayload)

	_, err = Parse("mercadopago", http.Header{}, url.Values{}, nil)
	require.ErrorIs(t, err, paymentdomain.ErrInvalidPayload)
}

func TestParseAlphanumericDataID(t *testing.T) {
	event, err := Parse("mercadopago", http.Header{}, url.Values{}, []byte(`{"type":"order","data":{"id":"ORD01ABC"}}`))
	require.NoError(t, err)
	require.Equal(t, "ORD01ABC", event.DataID)
	require.False(t, event.IsPayment())
}
