// Package telemetry holds the OpenTelemetry metric instruments for the CLI.
// Export is optional: without an OTLP endpoint configured the instruments
// still record against a no-op reader, so callers never branch on whether
// metrics are enabled.
package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

const meterName = "repoctl"

// MetricsConfig configures the metrics system.
type MetricsConfig struct {
	// ServiceName is the name of the service for resource attributes.
	ServiceName string

	// ServiceVersion is the version of the service.
	ServiceVersion string

	// OTLPEndpoint is the OTLP gRPC endpoint (e.g., "localhost:4317").
	// If empty, OTLP export is disabled.
	OTLPEndpoint string

	// FlushInterval is how often to export metrics (default: 10s).
	FlushInterval time.Duration
}

// Metrics holds the OpenTelemetry metric instruments.
type Metrics struct {
	cacheLookupsTotal  metric.Int64Counter
	apiFetchTotal      metric.Int64Counter
	apiFetchDuration   metric.Float64Histogram
	apiFallbacksTotal  metric.Int64Counter
	mutationsTotal     metric.Int64Counter
	rateLimitRemaining metric.Int64Gauge

	meterProvider *sdkmetric.MeterProvider
}

var (
	globalMetrics *Metrics
	initOnce      sync.Once
	initErr       error
)

// InitMetrics initializes the OpenTelemetry metrics system.
// Returns a shutdown function that should be called on application exit.
// Uses sync.Once to ensure single initialisation.
func InitMetrics(ctx context.Context, cfg MetricsConfig) (shutdown func(context.Context) error, err error) {
	initOnce.Do(func() {
		initErr = doInitMetrics(ctx, cfg)
	})

	if initErr != nil {
		return nil, initErr
	}

	return shutdownMetrics, nil
}

func doInitMetrics(ctx context.Context, cfg MetricsConfig) error {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "repoctl"
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = 10 * time.Second
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return err
	}

	var reader sdkmetric.Reader
	if cfg.OTLPEndpoint != "" {
		otlpExporter, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlpmetricgrpc.WithInsecure(),
		)
		if err != nil {
			return err
		}
		reader = sdkmetric.NewPeriodicReader(otlpExporter,
			sdkmetric.WithInterval(cfg.FlushInterval),
		)
	} else {
		reader = sdkmetric.NewPeriodicReader(noopExporter{},
			sdkmetric.WithInterval(cfg.FlushInterval),
		)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(mp)

	meter := mp.Meter(meterName)

	cacheLookupsTotal, err := meter.Int64Counter(
		"repoctl_cache_lookups_total",
		metric.WithDescription("Total page cache lookups by result"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return err
	}

	apiFetchTotal, err := meter.Int64Counter(
		"repoctl_api_fetch_total",
		metric.WithDescription("Total GitHub API fetch requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return err
	}

	apiFetchDuration, err := meter.Float64Histogram(
		"repoctl_api_fetch_duration_seconds",
		metric.WithDescription("Duration of GitHub API fetch requests"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20),
	)
	if err != nil {
		return err
	}

	apiFallbacksTotal, err := meter.Int64Counter(
		"repoctl_api_fallbacks_total",
		metric.WithDescription("Total fetches retried on the secondary endpoint"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return err
	}

	mutationsTotal, err := meter.Int64Counter(
		"repoctl_mutations_total",
		metric.WithDescription("Total repository mutations by operation and outcome"),
		metric.WithUnit("{mutation}"),
	)
	if err != nil {
		return err
	}

	rateLimitRemaining, err := meter.Int64Gauge(
		"repoctl_rate_limit_remaining",
		metric.WithDescription("Remaining GitHub API rate limit points"),
		metric.WithUnit("{point}"),
	)
	if err != nil {
		return err
	}

	globalMetrics = &Metrics{
		cacheLookupsTotal:  cacheLookupsTotal,
		apiFetchTotal:      apiFetchTotal,
		apiFetchDuration:   apiFetchDuration,
		apiFallbacksTotal:  apiFallbacksTotal,
		mutationsTotal:     mutationsTotal,
		rateLimitRemaining: rateLimitRemaining,
		meterProvider:      mp,
	}

	return nil
}

// shutdownMetrics shuts down the metrics provider and clears the global state.
func shutdownMetrics(ctx context.Context) error {
	if globalMetrics == nil {
		return nil
	}
	err := globalMetrics.meterProvider.Shutdown(ctx)
	globalMetrics = nil
	return err
}

// RecordCacheLookup records a page cache lookup.
// op is "list" or "search", result is "hit", "miss" or "stale".
func RecordCacheLookup(ctx context.Context, op, result string) {
	if globalMetrics == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("op", op),
		attribute.String("result", result),
	}
	globalMetrics.cacheLookupsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordAPIFetch records one network fetch.
// endpoint is "primary" or "secondary".
func RecordAPIFetch(ctx context.Context, endpoint, op string, duration time.Duration, outcome string) {
	if globalMetrics == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("endpoint", endpoint),
		attribute.String("op", op),
		attribute.String("outcome", outcome),
	}
	globalMetrics.apiFetchTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	globalMetrics.apiFetchDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordFallback records a retry against the secondary endpoint.
func RecordFallback(ctx context.Context, op string) {
	if globalMetrics == nil {
		return
	}
	globalMetrics.apiFallbacksTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}

// RecordMutation records a repository mutation attempt.
func RecordMutation(ctx context.Context, op, outcome string) {
	if globalMetrics == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("op", op),
		attribute.String("outcome", outcome),
	}
	globalMetrics.mutationsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRateLimit records the remaining rate limit reported by a response.
func RecordRateLimit(ctx context.Context, remaining int) {
	if globalMetrics == nil {
		return
	}
	globalMetrics.rateLimitRemaining.Record(ctx, int64(remaining))
}

// noopExporter is a no-op metrics exporter for when no exporters are configured.
type noopExporter struct{}

func (noopExporter) Temporality(_ sdkmetric.InstrumentKind) metricdata.Temporality {
	return metricdata.CumulativeTemporality
}

func (noopExporter) Aggregation(_ sdkmetric.InstrumentKind) sdkmetric.Aggregation {
	return nil
}

func (noopExporter) Export(_ context.Context, _ *metricdata.ResourceMetrics) error {
	return nil
}

func (noopExporter) ForceFlush(_ context.Context) error {
	return nil
}

func (noopExporter) Shutdown(_ context.Context) error {
	return nil
}
