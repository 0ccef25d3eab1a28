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

const exportInterval = 10 * time.Second

// Config configures the OTLP meter provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics holds the billing counters. A nil *Metrics records nothing.
type Metrics struct {
	webhookEvents    metric.Int64Counter
	planChanges      metric.Int64Counter
	payoutOutcomes   metric.Int64Counter
	commissionEvents metric.Int64Counter
	rateLimitDenied  metric.Int64Counter
}

// NewProvider installs the global meter provider. With OTLP disabled it is
// a noop so instruments stay valid.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, fmt.Errorf("metric exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(exportInterval))),
	)
	otel.SetMeterProvider(provider)
	if lc != nil {
		lc.Append(fx.StopHook(provider.Shutdown))
	}

	log.Named("metrics").Info("otlp metrics enabled",
		zap.String("endpoint", cfg.ExporterEndpoint),
		zap.String("protocol", cfg.ExporterProtocol),
	)
	return provider, nil
}

// New creates the billing counters on provider.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	meter := provider.Meter(defaultLabel(cfg.ServiceName, "closeframe"))

	m := &Metrics{}
	for _, c := range []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.webhookEvents, "closeframe_webhook_events_total", "Processor webhook events by type and outcome."},
		{&m.planChanges, "closeframe_plan_changes_total", "Subscription plan changes by kind."},
		{&m.payoutOutcomes, "closeframe_payout_outcomes_total", "Payout requests and settlements by method and outcome."},
		{&m.commissionEvents, "closeframe_commission_events_total", "Referral commission ledger transitions."},
		{&m.rateLimitDenied, "closeframe_rate_limit_denied_total", "Requests refused by a rate limit."},
	} {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, fmt.Errorf("counter %s: %w", c.name, err)
		}
		*c.dst = counter
	}
	return m, nil
}

func (m *Metrics) add(ctx context.Context, counter metric.Int64Counter, attrs ...attribute.KeyValue) {
	counter.Add(ctx, 1, metric.WithAttributes(FilterAttributes(attrs...)...))
}

func label(key, value string) attribute.KeyValue {
	return attribute.String(key, strings.TrimSpace(value))
}

// RecordWebhookEvent counts one processor event by its final outcome
// (processed, duplicate, ignored or failed).
func (m *Metrics) RecordWebhookEvent(ctx context.Context, provider, eventType, outcome string) {
	if m != nil {
		m.add(ctx, m.webhookEvents, label("provider", provider), label("event_type", eventType), label("outcome", outcome))
	}
}

func (m *Metrics) RecordPlanChange(ctx context.Context, changeType string) {
	if m != nil {
		m.add(ctx, m.planChanges, label("change_type", changeType))
	}
}

func (m *Metrics) RecordPayoutOutcome(ctx context.Context, method, outcome string) {
	if m != nil {
		m.add(ctx, m.payoutOutcomes, label("method", method), label("outcome", outcome))
	}
}

func (m *Metrics) RecordCommissionEvent(ctx context.Context, outcome string) {
	if m != nil {
		m.add(ctx, m.commissionEvents, label("outcome", outcome))
	}
}

func (m *Metrics) RecordRateLimitDenied(ctx context.Context, endpoint string) {
	if m != nil {
		m.add(ctx, m.rateLimitDenied, label("endpoint", endpoint))
	}
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	ctx := context.Background()
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
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

// allowedLabelKeys keeps account, payout and event ids off metric labels.
var allowedLabelKeys = map[attribute.Key]bool{
	"provider":    true,
	"event_type":  true,
	"outcome":     true,
	"change_type": true,
	"method":      true,
	"endpoint":    true,
	"status_code": true,
}

// FilterAttributes drops labels outside allowedLabelKeys.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	kept := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if allowedLabelKeys[attr.Key] {
			kept = append(kept, attr)
		}
	}
	return kept
}
