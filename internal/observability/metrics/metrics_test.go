package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("provider", "stripe"),
		attribute.String("account_id", "456"),
		attribute.String("event_type", "charge.refunded"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	for _, attr := range attrs {
		if attr.Key == "account_id" {
			t.Fatalf("expected account_id to be dropped")
		}
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordWebhookEvent(context.Background(), "stripe", "charge.refunded", "processed")
	m.RecordPayoutOutcome(context.Background(), "MANUAL", "pending")
}

func TestNewWithNoopProvider(t *testing.T) {
	m, err := New(Config{ServiceName: "closeframe"}, noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}
	m.RecordPlanChange(context.Background(), "upgrade")
	m.RecordCommissionEvent(context.Background(), "accrued")
}

func TestRecordPayoutOutcomeCounts(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := New(Config{ServiceName: "closeframe"}, provider)
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordPayoutOutcome(ctx, "STRIPE_CONNECT", "initiated")
	m.RecordPayoutOutcome(ctx, "STRIPE_CONNECT", "initiated")
	m.RecordPayoutOutcome(ctx, "MANUAL", "requested")

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	counts := map[string]int64{}
	for _, scope := range rm.ScopeMetrics {
		for _, mt := range scope.Metrics {
			if mt.Name != "closeframe_payout_outcomes_total" {
				continue
			}
			sum, ok := mt.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				method, _ := dp.Attributes.Value("method")
				outcome, _ := dp.Attributes.Value("outcome")
				counts[method.AsString()+"/"+outcome.AsString()] = dp.Value
			}
		}
	}
	require.Equal(t, map[string]int64{
		"STRIPE_CONNECT/initiated": 2,
		"MANUAL/requested":         1,
	}, counts)
}
