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

// Metrics exposes application-level instruments.
type Metrics struct {
	syncAttempts        metric.Int64Counter
	syncFailures        metric.Int64Counter
	manualReviewFlags   metric.Int64Counter
	manualReviewClears  metric.Int64Counter
	violationsStarted   metric.Int64Counter
	violationsFinalized metric.Int64Counter
	notificationsSent   metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "storman"
	}
	meter := provider.Meter(name)

	syncAttempts, err := meter.Int64Counter("storman_billing_sync_attempts_total")
	if err != nil {
		return nil, err
	}
	syncFailures, err := meter.Int64Counter("storman_billing_sync_failures_total")
	if err != nil {
		return nil, err
	}
	manualReviewFlags, err := meter.Int64Counter("storman_manual_review_flagged_total")
	if err != nil {
		return nil, err
	}
	manualReviewClears, err := meter.Int64Counter("storman_manual_review_cleared_total")
	if err != nil {
		return nil, err
	}
	violationsStarted, err := meter.Int64Counter("storman_violations_started_total")
	if err != nil {
		return nil, err
	}
	violationsFinalized, err := meter.Int64Counter("storman_violations_finalized_total")
	if err != nil {
		return nil, err
	}
	notificationsSent, err := meter.Int64Counter("storman_notifications_sent_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		syncAttempts:        syncAttempts,
		syncFailures:        syncFailures,
		manualReviewFlags:   manualReviewFlags,
		manualReviewClears:  manualReviewClears,
		violationsStarted:   violationsStarted,
		violationsFinalized: violationsFinalized,
		notificationsSent:   notificationsSent,
	}, nil
}

// RecordSyncAttempt increments billing sync attempt counts.
func (m *Metrics) RecordSyncAttempt(ctx context.Context, operation string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("operation", strings.TrimSpace(operation)))
	m.syncAttempts.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordSyncFailure increments billing sync failure counts.
func (m *Metrics) RecordSyncFailure(ctx context.Context, operation, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("operation", strings.TrimSpace(operation)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.syncFailures.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordManualReviewFlagged increments manual review flag counts.
func (m *Metrics) RecordManualReviewFlagged(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("reason", strings.TrimSpace(reason)))
	m.manualReviewFlags.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordManualReviewCleared increments manual review clear counts.
func (m *Metrics) RecordManualReviewCleared(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("reason", strings.TrimSpace(reason)))
	m.manualReviewClears.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordViolationStarted increments violation start counts.
func (m *Metrics) RecordViolationStarted(ctx context.Context) {
	if m == nil {
		return
	}
	m.violationsStarted.Add(ctx, 1)
}

// RecordViolationFinalized increments violation finalize counts.
func (m *Metrics) RecordViolationFinalized(ctx context.Context) {
	if m == nil {
		return
	}
	m.violationsFinalized.Add(ctx, 1)
}

// RecordNotificationSent increments notification counts.
func (m *Metrics) RecordNotificationSent(ctx context.Context, eventType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("event_type", strings.TrimSpace(eventType)))
	m.notificationsSent.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"operation":   {},
	"reason":      {},
	"event_type":  {},
	"endpoint":    {},
	"status_code": {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
