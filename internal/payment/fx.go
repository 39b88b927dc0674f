package payment

import (
	"context"
	"net/http"

	"github.com/smallbiznis/campaigncredit/internal/config"
	obsmetrics "github.com/smallbiznis/campaigncredit/internal/observability/metrics"
	"github.com/smallbiznis/campaigncredit/internal/payment/adapters"
	"github.com/smallbiznis/campaigncredit/internal/payment/adapters/mercadopago"
	paymentdomain "github.com/smallbiznis/campaigncredit/internal/payment/domain"
	"github.com/smallbiznis/campaigncredit/internal/payment/repository"
	"github.com/smallbiznis/campaigncredit/internal/payment/retry"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(func() *adapters.Registry {
		return adapters.NewRegistry(
			mercadopago.NewFactory(),
		)
	}),
	fx.Provide(NewAdapter),
	fx.Provide(NewGateway),
	fx.Provide(func(a paymentdomain.Adapter) paymentdomain.SignatureVerifier { return a }),
)

type AdapterParams struct {
	fx.In

	Cfg      config.Config
	Registry *adapters.Registry
	Log      *zap.Logger
}

// NewAdapter builds the configured provider adapter. Without credentials the
// service still starts and every gateway call fails with ErrGatewayNotConfigured.
func NewAdapter(p AdapterParams) (paymentdomain.Adapter, error) {
	gw := p.Cfg.Gateway
	if gw.AccessToken == "" {
		p.Log.Warn("payment gateway access token missing; checkout disabled", zap.String("provider", gw.Provider))
		return &unconfigured{provider: gw.Provider}, nil
	}
	if gw.WebhookSecret == "" {
		p.Log.Warn("payment webhook secret missing; notification signatures are not verified", zap.String("provider", gw.Provider))
	}

	adapter, err := p.Registry.NewAdapter(gw.Provider, paymentdomain.AdapterConfig{
		BaseURL:       gw.BaseURL,
		AccessToken:   gw.AccessToken,
		WebhookSecret: gw.WebhookSecret,
		Timeout:       gw.Timeout,
		HTTPClient:    &http.Client{Timeout: gw.Timeout},
	})
	if err != nil {
		p.Log.Error("payment gateway unavailable",
			zap.String("provider", gw.Provider),
			zap.Strings("supported", p.Registry.Providers()),
			zap.Error(err),
		)
		return nil, err
	}
	return adapter, nil
}

type GatewayParams struct {
	fx.In

	Adapter paymentdomain.Adapter
	Policy  *config.CreditsPolicyHolder
	Log     *zap.Logger
	Metrics *obsmetrics.Metrics `optional:"true"`
}

func NewGateway(p GatewayParams) paymentdomain.Gateway {
	return retry.NewGateway(p.Adapter, p.Policy, p.Log, p.Metrics)
}

type unconfigured struct {
	provider string
}

func (u *unconfigured) Provider() string { return u.provider }

func (u *unconfigured) CreatePreference(ctx context.Context, req paymentdomain.PreferenceRequest) (*paymentdomain.Preference, error) {
	return nil, paymentdomain.ErrGatewayNotConfigured
}

func (u *unconfigured) GetPayment(ctx context.Context, paymentID string) (*paymentdomain.Payment, error) {
	return nil, paymentdomain.ErrGatewayNotConfigured
}

func (u *unconfigured) VerifyNotification(headers http.Header, dataID string) error {
	return paymentdomain.ErrGatewayNotConfigured
}
