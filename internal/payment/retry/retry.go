package retry

import (
	"context"
	"errors"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/smallbiznis/campaigncredit/internal/config"
	obsmetrics "github.com/smallbiznis/campaigncredit/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/campaigncredit/internal/payment/domain"
	"go.uber.org/zap"
)

// Gateway retries transient provider failures with exponential backoff.
// Client errors are returned on the first attempt.
type Gateway struct {
	inner   paymentdomain.Gateway
	policy  *config.CreditsPolicyHolder
	log     *zap.Logger
	metrics *obsmetrics.Metrics
}

func NewGateway(inner paymentdomain.Gateway, policy *config.CreditsPolicyHolder, log *zap.Logger, metrics *obsmetrics.Metrics) *Gateway {
	return &Gateway{
		inner:   inner,
		policy:  policy,
		log:     log.Named("payment.retry"),
		metrics: metrics,
	}
}

func (g *Gateway) CreatePreference(ctx context.Context, req paymentdomain.PreferenceRequest) (*paymentdomain.Preference, error) {
	return execute(ctx, g, "create_preference", func() (*paymentdomain.Preference, error) {
		return g.inner.CreatePreference(ctx, req)
	})
}

func (g *Gateway) GetPayment(ctx context.Context, paymentID string) (*paymentdomain.Payment, error) {
	return execute(ctx, g, "get_payment", func() (*paymentdomain.Payment, error) {
		return g.inner.GetPayment(ctx, paymentID)
	})
}

func execute[T any](ctx context.Context, g *Gateway, op string, fn func() (T, error)) (T, error) {
	policy := g.policy.Get()
	attempt := 0

	rp := retrypolicy.NewBuilder[T]().
		WithBackoff(baseDelay(policy.FetchBaseDelay), maxDelay(policy.FetchBaseDelay, policy.FetchMaxDelay)).
		WithMaxRetries(policy.FetchMaxRetries).
		WithJitterFactor(0.1).
		HandleIf(func(_ T, err error) bool {
			return paymentdomain.IsRetryable(err)
		}).
		ReturnLastFailure().
		Build()

	result, err := failsafe.With[T](rp).WithContext(ctx).Get(func() (T, error) {
		attempt++
		out, err := fn()
		if err != nil && paymentdomain.IsRetryable(err) {
			g.log.Warn("gateway call failed, will retry",
				zap.String("operation", op),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		}
		return out, err
	})

	if g.metrics != nil {
		g.metrics.RecordGatewayCall(ctx, op, resultLabel(err))
	}
	return result, err
}

func resultLabel(err error) string {
	if err == nil {
		return "success"
	}
	var gwErr *paymentdomain.GatewayError
	if errors.As(err, &gwErr) {
		return string(gwErr.Kind)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return "error"
}

func baseDelay(d time.Duration) time.Duration {
	if d <= 0 {
		return 200 * time.Millisecond
	}
	return d
}

func maxDelay(base, ceiling time.Duration) time.Duration {
	base = baseDelay(base)
	if ceiling < base {
		return base
	}
	return ceiling
}
