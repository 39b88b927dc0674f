package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

type counterName string

const (
	counterCreditsConsumed     counterName = "campaigncredit_credits_consumed_total"
	counterInsufficientCredits counterName = "campaigncredit_insufficient_credits_total"
	counterCreditsAdded        counterName = "campaigncredit_credits_added_total"
	counterCreditsRefunded     counterName = "campaigncredit_credits_refunded_total"
	counterWebhookOutcomes     counterName = "campaigncredit_webhook_outcomes_total"
	counterGatewayCalls        counterName = "campaigncredit_gateway_calls_total"
	counterRateLimitDenied     counterName = "campaigncredit_rate_limit_denied_total"
)

var counterDescriptions = map[counterName]string{
	counterCreditsConsumed:     "Message credits debited from tenant balances.",
	counterInsufficientCredits: "Consumption attempts refused for lack of balance.",
	counterCreditsAdded:        "Message credits granted, by acquisition source.",
	counterCreditsRefunded:     "Credits returned after a failed delivery.",
	counterWebhookOutcomes:     "Payment notifications by reconciliation outcome.",
	counterGatewayCalls:        "Outbound payment gateway calls by operation and result.",
	counterRateLimitDenied:     "Requests refused by the rate limiter.",
}

// Metrics exposes the credit ledger and reconciliation instruments. A nil
// *Metrics records nothing.
type Metrics struct {
	counters map[counterName]metric.Int64Counter
}

// NewProvider installs the global meter provider. With metrics disabled the
// domain counters still exist but record into a noop provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(context.Background(), cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, fmt.Errorf("metrics exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(exportInterval))),
	)
	otel.SetMeterProvider(provider)

	if log == nil {
		log = zap.NewNop()
	}
	log.Info("metrics initialized",
		zap.String("endpoint", cfg.ExporterEndpoint),
		zap.String("protocol", cfg.ExporterProtocol),
	)
	if lc != nil {
		lc.Append(fx.StopHook(func(ctx context.Context) error {
			log.Info("shutting down meter provider")
			return provider.Shutdown(ctx)
		}))
	}
	return provider, nil
}

// New creates the domain counters on the service meter.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "campaigncredit"
	}
	meter := provider.Meter(name)

	m := &Metrics{counters: make(map[counterName]metric.Int64Counter, len(counterDescriptions))}
	for counter, desc := range counterDescriptions {
		inst, err := meter.Int64Counter(string(counter), metric.WithDescription(desc))
		if err != nil {
			return nil, fmt.Errorf("counter %s: %w", counter, err)
		}
		m.counters[counter] = inst
	}
	return m, nil
}

func (m *Metrics) add(ctx context.Context, counter counterName, n int64, attrs ...attribute.KeyValue) {
	if m == nil {
		return
	}
	inst, ok := m.counters[counter]
	if !ok {
		return
	}
	inst.Add(ctx, n, metric.WithAttributes(FilterAttributes(attrs...)...))
}

func label(key, value string) attribute.KeyValue {
	return attribute.String(key, strings.TrimSpace(value))
}

func (m *Metrics) RecordConsumption(ctx context.Context, channel string, quantity int64) {
	m.add(ctx, counterCreditsConsumed, quantity, label("channel", channel))
}

func (m *Metrics) RecordInsufficientCredits(ctx context.Context, channel string) {
	m.add(ctx, counterInsufficientCredits, 1, label("channel", channel))
}

// RecordCreditsAdded counts granted credits; source is order, operator or
// approval.
func (m *Metrics) RecordCreditsAdded(ctx context.Context, channel, source string, quantity int64) {
	m.add(ctx, counterCreditsAdded, quantity, label("channel", channel), label("source", source))
}

func (m *Metrics) RecordRefund(ctx context.Context, channel string, quantity int64) {
	m.add(ctx, counterCreditsRefunded, quantity, label("channel", channel))
}

func (m *Metrics) RecordWebhookOutcome(ctx context.Context, provider, outcome string) {
	m.add(ctx, counterWebhookOutcomes, 1, label("provider", provider), label("outcome", outcome))
}

func (m *Metrics) RecordGatewayCall(ctx context.Context, operation, result string) {
	m.add(ctx, counterGatewayCalls, 1, label("operation", operation), label("result", result))
}

func (m *Metrics) RecordRateLimitDenied(ctx context.Context, endpoint, reason string) {
	m.add(ctx, counterRateLimitDenied, 1, label("endpoint", endpoint), label("reason", reason))
}

const exportInterval = 10 * time.Second

func newExporter(ctx context.Context, protocol, endpoint string) (sdkmetric.Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(protocol)) {
	case "http", "http/protobuf":
		var opts []otlpmetrichttp.Option
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(ctx, opts...)
	case "", "grpc", "grpc/protobuf":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(ctx, opts...)
	}
	return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
}

// Tenant, order and payment ids never become metric labels.
var allowedLabels = attribute.NewAllowKeysFilter(
	"channel", "source", "endpoint", "status_code", "provider",
	"outcome", "operation", "result", "reason",
)

// FilterAttributes drops every attribute whose key is not an allowed label.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	kept := make([]attribute.KeyValue, 0, len(attrs))
	for _, kv := range attrs {
		if allowedLabels(kv) {
			kept = append(kept, kv)
		}
	}
	return kept
}
