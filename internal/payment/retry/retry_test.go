package retry

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smallbiznis/campaigncredit/internal/config"
	paymentdomain "github.com/smallbiznis/campaigncredit/internal/payment/domain"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type flakyGateway struct {
	calls    atomic.Int32
	failures int32
	err      error
}

func (f *flakyGateway) CreatePreference(ctx context.Context, req paymentdomain.PreferenceRequest) (*paymentdomain.Preference, error) {
	if f.calls.Add(1) <= f.failures {
		return nil, f.err
	}
	return &paymentdomain.Preference{ID: "pref"}, nil
}

func (f *flakyGateway) GetPayment(ctx context.Context, paymentID string) (*paymentdomain.Payment, error) {
	if f.calls.Add(1) <= f.failures {
		return nil, f.err
	}
	return &paymentdomain.Payment{ID: paymentID, Status: paymentdomain.PaymentApproved}, nil
}

func testPolicy() *config.CreditsPolicyHolder {
	policy := config.DefaultCreditsPolicy()
	policy.FetchMaxRetries = 3
	policy.FetchBaseDelay = time.Millisecond
	policy.FetchMaxDelay = 5 * time.Millisecond
	return config.NewStaticCreditsPolicyHolder(policy)
}

func TestRetriesTransientFailures(t *testing.T) {
	inner := &flakyGateway{failures: 2, err: &paymentdomain.GatewayError{Op: "get_payment", Kind: paymentdomain.GatewayServer, StatusCode: 503}}
	gw := NewGateway(inner, testPolicy(), zap.NewNop(), nil)

	payment, err := gw.GetPayment(context.Background(), "42")
	require.NoError(t, err)
	require.Equal(t, "42", payment.ID)
	require.Equal(t, int32(3), inner.calls.Load())
}

func TestDoesNotRetryClientErrors(t *testing.T) {
	inner := &flakyGateway{failures: 10, err: &paymentdomain.GatewayError{Op: "get_payment", Kind: paymentdomain.GatewayClient, StatusCode: 404}}
	gw := NewGateway(inner, testPolicy(), zap.NewNop(), nil)

	_, err := gw.GetPayment(context.Background(), "42")
	var gwErr *paymentdomain.GatewayError
	require.True(t, errors.As(err, &gwErr))
	require.Equal(t, 404, gwErr.StatusCode)
	require.Equal(t, int32(1), inner.calls.Load())
}

func TestGivesUpAfterMaxRetries(t *testing.T) {
	inner := &flakyGateway{failures: 10, err: &paymentdomain.GatewayError{Op: "create_preference", Kind: paymentdomain.GatewayTimeout}}
	gw := NewGateway(inner, testPolicy(), zap.NewNop(), nil)

	_, err := gw.CreatePreference(context.Background(), paymentdomain.PreferenceRequest{})
	var gwErr *paymentdomain.GatewayError
	require.True(t, errors.As(err, &gwErr))
	require.Equal(t, paymentdomain.GatewayTimeout, gwErr.Kind)
	require.Equal(t, int32(4), inner.calls.Load())
}
