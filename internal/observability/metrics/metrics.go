package metrics

import (
	"context"
	"errors"
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
	"go.opentelemetry.io/otel/sdk/resource"
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

const exportInterval = 10 * time.Second

// Metrics exposes application-level instruments.
type Metrics struct {
	renewals            metric.Int64Counter
	renewalConflicts    metric.Int64Counter
	statusCorrections   metric.Int64Counter
	complianceRuns      metric.Int64Counter
	complianceRate      metric.Float64Histogram
	analyticsRecordScan metric.Int64Counter
}

// NewProvider installs the global meter provider. A disabled config gets a
// noop provider so instruments stay cheap to call.
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
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(exportInterval))),
		sdkmetric.WithResource(resource.NewSchemaless(
			attribute.String("service.name", cfg.serviceName()),
			attribute.String("deployment.environment", strings.TrimSpace(cfg.Environment)),
		)),
	)
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.StopHook(provider.Shutdown))
	}
	if log != nil {
		log.Info("metrics exporter started",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
			zap.Duration("interval", exportInterval),
		)
	}
	return provider, nil
}

func (c Config) serviceName() string {
	if name := strings.TrimSpace(c.ServiceName); name != "" {
		return name
	}
	return "aerocert"
}

// New creates the domain instruments on provider.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	meter := provider.Meter(cfg.serviceName())

	var errs []error
	counter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		errs = append(errs, err)
		return c
	}

	m := &Metrics{
		renewals:            counter("aerocert_renewals_total", "Certificate renewals by outcome."),
		renewalConflicts:    counter("aerocert_renewal_conflicts_total", "Renewal lock contention and lost compare-and-swap races."),
		statusCorrections:   counter("aerocert_status_corrections_total", "Stored statuses rewritten by the recompute pass."),
		complianceRuns:      counter("aerocert_compliance_computations_total", "Compliance snapshots computed."),
		analyticsRecordScan: counter("aerocert_analytics_records_scanned_total", "Records consumed by analytics reports."),
	}
	var err error
	m.complianceRate, err = meter.Float64Histogram("aerocert_compliance_rate",
		metric.WithUnit("%"),
		metric.WithDescription("Compliance rate of computed snapshots."),
		metric.WithExplicitBucketBoundaries(0, 40, 60, 80, 90, 95, 100),
	)
	errs = append(errs, err)

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordRenewal counts renewal attempts by outcome.
func (m *Metrics) RecordRenewal(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("outcome", strings.TrimSpace(outcome)))
	m.renewals.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRenewalConflict counts lost compare-and-swap races and lock contention.
func (m *Metrics) RecordRenewalConflict(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("reason", strings.TrimSpace(reason)))
	m.renewalConflicts.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordStatusCorrection counts stored statuses rewritten by the recompute pass.
func (m *Metrics) RecordStatusCorrection(ctx context.Context, from, to string, count int) {
	if m == nil || count <= 0 {
		return
	}
	attrs := FilterAttributes(
		attribute.String("from_status", strings.TrimSpace(from)),
		attribute.String("to_status", strings.TrimSpace(to)),
	)
	m.statusCorrections.Add(ctx, int64(count), metric.WithAttributes(attrs...))
}

// RecordComplianceComputation records one computed snapshot.
func (m *Metrics) RecordComplianceComputation(ctx context.Context, population, classification string, rate float64) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("population", strings.TrimSpace(population)),
		attribute.String("classification", strings.TrimSpace(classification)),
	)
	m.complianceRuns.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.complianceRate.Record(ctx, rate, metric.WithAttributes(attrs...))
}

// RecordAnalyticsScan counts records consumed by an analytics aggregation.
func (m *Metrics) RecordAnalyticsScan(ctx context.Context, report string, count int) {
	if m == nil || count <= 0 {
		return
	}
	attrs := FilterAttributes(attribute.String("report", strings.TrimSpace(report)))
	m.analyticsRecordScan.Add(ctx, int64(count), metric.WithAttributes(attrs...))
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
	"outcome":        {},
	"reason":         {},
	"from_status":    {},
	"to_status":      {},
	"population":     {},
	"classification": {},
	"report":         {},
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
