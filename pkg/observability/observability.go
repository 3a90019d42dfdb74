// Package observability exports a span and RED metrics for every ledger
// call over OTLP/gRPC, and builds the node's structured logger.
package observability

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/Mindburn-Labs/proofpay/pkg/errs"
)

const scope = "proofpay/ledger"

// Config says where telemetry goes. An empty Endpoint exports nothing.
type Config struct {
	Endpoint string // host:port of an OTLP/gRPC collector
	Insecure bool
	Version  string
	ChainID  string
}

// Provider implements chain.Tracker.
type Provider struct {
	traces  *sdktrace.TracerProvider
	metrics *sdkmetric.MeterProvider
	tracer  trace.Tracer

	calls    metric.Int64Counter
	reverted metric.Int64Counter
	latency  metric.Float64Histogram
}

// New starts the exporters named by cfg. Without an endpoint the returned
// provider records against the global no-op implementations.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.Endpoint == "" {
		return newProvider(otel.GetTracerProvider(), otel.GetMeterProvider())
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName("proofpay"),
		semconv.ServiceVersion(cfg.Version),
		attribute.String("proofpay.chain_id", cfg.ChainID),
	))
	if err != nil {
		return nil, fmt.Errorf("otel resource: %w", err)
	}

	traceOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	metricOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		traceOpts = append(traceOpts, otlptracegrpc.WithInsecure())
		metricOpts = append(metricOpts, otlpmetricgrpc.WithInsecure())
	}
	spans, err := otlptracegrpc.New(ctx, traceOpts...)
	if err != nil {
		return nil, fmt.Errorf("trace exporter: %w", err)
	}
	points, err := otlpmetricgrpc.New(ctx, metricOpts...)
	if err != nil {
		_ = spans.Shutdown(ctx)
		return nil, fmt.Errorf("metric exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithResource(res), sdktrace.WithBatcher(spans))
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(points, sdkmetric.WithInterval(15*time.Second))),
	)
	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	p, err := newProvider(tp, mp)
	if err != nil {
		return nil, err
	}
	p.traces, p.metrics = tp, mp
	return p, nil
}

func newProvider(tp trace.TracerProvider, mp metric.MeterProvider) (*Provider, error) {
	meter := mp.Meter(scope)
	p := &Provider{tracer: tp.Tracer(scope)}
	var err error
	if p.calls, err = meter.Int64Counter("proofpay.calls",
		metric.WithDescription("Ledger calls executed"), metric.WithUnit("{call}")); err != nil {
		return nil, err
	}
	if p.reverted, err = meter.Int64Counter("proofpay.calls.reverted",
		metric.WithDescription("Ledger calls reverted, by error code"), metric.WithUnit("{call}")); err != nil {
		return nil, err
	}
	if p.latency, err = meter.Float64Histogram("proofpay.call.duration",
		metric.WithDescription("Ledger call latency"), metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1)); err != nil {
		return nil, err
	}
	return p, nil
}

// TrackCall opens a span for one ledger call. The returned func closes it
// with the call's outcome.
func (p *Provider) TrackCall(ctx context.Context, method string) (context.Context, func(error)) {
	start := time.Now()
	attrs := metric.WithAttributes(attribute.String("proofpay.method", method))
	ctx, span := p.tracer.Start(ctx, "ledger "+method, trace.WithSpanKind(trace.SpanKindInternal))
	p.calls.Add(ctx, 1, attrs)

	return ctx, func(err error) {
		p.latency.Record(ctx, time.Since(start).Seconds(), attrs)
		if err != nil {
			code := string(errs.CodeOf(err))
			span.RecordError(err)
			span.SetStatus(codes.Error, code)
			p.reverted.Add(ctx, 1, metric.WithAttributes(
				attribute.String("proofpay.method", method),
				attribute.String("proofpay.error_code", code),
			))
		}
		span.End()
	}
}

// Shutdown flushes pending spans and metric points.
func (p *Provider) Shutdown(ctx context.Context) error {
	var first error
	if p.traces != nil {
		first = p.traces.Shutdown(ctx)
	}
	if p.metrics != nil {
		if err := p.metrics.Shutdown(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// NewLogger builds the node's JSON logger at level (DEBUG, INFO, WARN, ERROR).
func NewLogger(level string, w io.Writer) *slog.Logger {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
}
