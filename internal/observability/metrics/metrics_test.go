package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("channel", "email"),
		attribute.String("tenant_id", "456"),
		attribute.String("outcome", "credited"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	if attrs[0].Key != "channel" && attrs[1].Key != "channel" {
		t.Fatalf("expected channel to be retained")
	}
	if attrs[0].Key != "outcome" && attrs[1].Key != "outcome" {
		t.Fatalf("expected outcome to be retained")
	}
}

func TestRecordersToleratesNilAndNoop(t *testing.T) {
	var nilMetrics *Metrics
	nilMetrics.RecordConsumption(context.Background(), "email", 1)
	nilMetrics.RecordWebhookOutcome(context.Background(), "mercadopago", "ignored")

	m, err := New(Config{ServiceName: "test"}, noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}
	m.RecordConsumption(context.Background(), "email", 3)
	m.RecordCreditsAdded(context.Background(), "whatsapp", "order", 500)
	m.RecordGatewayCall(context.Background(), "get_payment", "ok")
}

func TestCountersReportToReader(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := New(Config{}, provider)
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordConsumption(ctx, "email", 3)
	m.RecordConsumption(ctx, " email ", 2)
	m.RecordConsumption(ctx, "whatsapp", 1)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	got := map[string]int64{}
	for _, scope := range rm.ScopeMetrics {
		for _, md := range scope.Metrics {
			if md.Name != string(counterCreditsConsumed) {
				continue
			}
			sum, ok := md.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				channel, _ := dp.Attributes.Value("channel")
				got[channel.AsString()] = dp.Value
			}
		}
	}
	assert.Equal(t, map[string]int64{"email": 5, "whatsapp": 1}, got)
}
