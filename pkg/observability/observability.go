// Package observability instruments the risk-calculation pipeline with
// OpenTelemetry metrics, trimmed down from
// teacher_reference/observability/observability.go's RED (Rate,
// Errors, Duration) provider to the subset our dependency surface
// carries: this module's go.mod pulls in go.opentelemetry.io/otel's
// core API and SDK but no OTLP exporter, so readings are collected
// in-process via sdkmetric.NewManualReader rather than shipped to a
// collector — the same shape the teacher's Provider exposes (counters,
// a duration histogram, an active-operations gauge), wired to the
// upload handler's ingest_report operation in cmd/adsentryd instead of
// HELM's generic request path.
package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// Provider holds the meter and the RED instruments derived from it.
type Provider struct {
	reader *sdkmetric.ManualReader
	meter  metric.Meter

	requestCounter   metric.Int64Counter
	errorCounter     metric.Int64Counter
	durationHist     metric.Float64Histogram
	activeOperations metric.Int64UpDownCounter
}

// New builds a Provider backed by an in-process manual reader; call
// Collect to pull the current metric snapshot (e.g. for a /health or
// /metrics endpoint).
func New(serviceName string) (*Provider, error) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := mp.Meter(serviceName)

	p := &Provider{reader: reader, meter: meter}

	var err error
	p.requestCounter, err = meter.Int64Counter("adsentry.requests.total",
		metric.WithDescription("Total number of risk operations processed"),
		metric.WithUnit("{operation}"))
	if err != nil {
		return nil, fmt.Errorf("create request counter: %w", err)
	}

	p.errorCounter, err = meter.Int64Counter("adsentry.errors.total",
		metric.WithDescription("Total number of risk operations that failed"),
		metric.WithUnit("{error}"))
	if err != nil {
		return nil, fmt.Errorf("create error counter: %w", err)
	}

	p.durationHist, err = meter.Float64Histogram("adsentry.operation.duration",
		metric.WithDescription("Risk operation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10))
	if err != nil {
		return nil, fmt.Errorf("create duration histogram: %w", err)
	}

	p.activeOperations, err = meter.Int64UpDownCounter("adsentry.operations.active",
		metric.WithDescription("Number of in-flight risk operations"),
		metric.WithUnit("{operation}"))
	if err != nil {
		return nil, fmt.Errorf("create active-operations counter: %w", err)
	}

	return p, nil
}

// Track wraps a risk operation (recompute_domain, recompute_global,
// ingest_report) with request/error/duration instrumentation. Call the
// returned func with the operation's error (nil on success) when done.
func (p *Provider) Track(ctx context.Context, operation string) func(error) {
	start := time.Now()
	attrs := metric.WithAttributes(attribute.String("operation", operation))

	p.activeOperations.Add(ctx, 1, attrs)
	p.requestCounter.Add(ctx, 1, attrs)

	return func(err error) {
		p.activeOperations.Add(ctx, -1, attrs)
		p.durationHist.Record(ctx, time.Since(start).Seconds(), attrs)
		if err != nil {
			p.errorCounter.Add(ctx, 1, attrs)
		}
	}
}

// Collect pulls the current metric snapshot from the manual reader, for
// a /health or /metrics endpoint to render.
func (p *Provider) Collect(ctx context.Context) (*metricdata.ResourceMetrics, error) {
	var rm metricdata.ResourceMetrics
	if err := p.reader.Collect(ctx, &rm); err != nil {
		return nil, fmt.Errorf("collect metrics: %w", err)
	}
	return &rm, nil
}
