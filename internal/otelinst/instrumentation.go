package otelinst

import (
	"context"

	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/trace"
)

// Instrumentation bundles the meter and tracer used by the engine for one
// process lifetime.
type Instrumentation struct {
	cfg            Config
	meterProvider  *sdkmetric.MeterProvider
	tracerProvider trace.TracerProvider
	tracerShutdown func(context.Context) error
	tracer         trace.Tracer

	requestLatency metric.Float64Histogram
	requestErrors  metric.Int64Counter
	activeWorkers  metric.Int64UpDownCounter
}

// New builds an Instrumentation from cfg. With cfg.Enabled false or
// cfg.ExporterType "none", every instrument is a no-op.
func New(ctx context.Context, cfg Config) (*Instrumentation, error) {
	mp, err := newMeterProvider(ctx, cfg)
	if err != nil {
		return nil, err
	}
	tp, tpShutdown, err := newTracerProvider(ctx, cfg)
	if err != nil {
		return nil, err
	}

	meter := mp.Meter(cfg.ServiceName)
	latency, errs, workers, err := registerInstruments(meter)
	if err != nil {
		return nil, err
	}

	return &Instrumentation{
		cfg:            cfg,
		meterProvider:  mp,
		tracerProvider: tp,
		tracerShutdown: tpShutdown,
		tracer:         tp.Tracer(cfg.ServiceName),
		requestLatency: latency,
		requestErrors:  errs,
		activeWorkers:  workers,
	}, nil
}

// Noop returns an Instrumentation with every exporter disabled, for tests
// and for runs where observability was never configured.
func Noop() *Instrumentation {
	inst, err := New(context.Background(), DefaultConfig())
	if err != nil {
		panic(err)
	}
	return inst
}

// StartRequestSpan wraps a single target HTTP request in a span.
func (i *Instrumentation) StartRequestSpan(ctx context.Context, opts RequestSpanOptions) (context.Context, trace.Span) {
	return i.tracer.Start(ctx, "httpdrill.request", trace.WithAttributes(requestSpanAttributes(opts)...))
}

// RecordRequest records one request's latency and, if it failed, increments
// the error counter.
func (i *Instrumentation) RecordRequest(ctx context.Context, runToken string, statusCode int, elapsedMs float64, success bool) {
	i.requestLatency.Record(ctx, elapsedMs, metric.WithAttributes(requestSpanAttributes(RequestSpanOptions{RunToken: runToken, StatusCode: statusCode})...))
	if !success {
		i.requestErrors.Add(ctx, 1, metric.WithAttributes(requestSpanAttributes(RequestSpanOptions{RunToken: runToken, StatusCode: statusCode})...))
	}
}

// WorkerStarted and WorkerStopped track the active-worker gauge.
func (i *Instrumentation) WorkerStarted(ctx context.Context) { i.activeWorkers.Add(ctx, 1) }
func (i *Instrumentation) WorkerStopped(ctx context.Context) { i.activeWorkers.Add(ctx, -1) }

// Shutdown flushes and releases both providers.
func (i *Instrumentation) Shutdown(ctx context.Context) error {
	if err := i.tracerShutdown(ctx); err != nil {
		return err
	}
	return i.meterProvider.Shutdown(ctx)
}
