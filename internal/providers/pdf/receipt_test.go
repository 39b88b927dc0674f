package pdf

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateReceipt(t *testing.T) {
	p := NewPDFProvider("campaigncredit")
	doc, err := p.GenerateReceipt(context.Background(), ReceiptData{
		OrderID:       "1001",
		TenantID:      "42",
		Channel:       "whatsapp",
		Quantity:      100,
		UnitPrice:     50,
		TotalAmount:   5000,
		Currency:      "MXN",
		PaymentID:     "998877",
		PaymentMethod: "visa",
		PaidAt:        time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(doc, []byte("%PDF")))
}

func TestGenerateReceiptRejectsIncompleteData(t *testing.T) {
	p := NewPDFProvider("campaigncredit")
	_, err := p.GenerateReceipt(context.Background(), ReceiptData{Quantity: 1})
	assert.Error(t, err)
	_, err = p.GenerateReceipt(context.Background(), ReceiptData{OrderID: "1"})
	assert.Error(t, err)
}

func TestFormatMinor(t *testing.T) {
	assert.Equal(t, "50.00 MXN", formatMinor(5000, "mxn"))
	assert.Equal(t, "0.05 MXN", formatMinor(5, "MXN"))
	assert.Equal(t, "-1.20 USD", formatMinor(-120, "usd"))
}
