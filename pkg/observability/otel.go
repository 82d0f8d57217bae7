package observability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// OTelConfig holds OpenTelemetry configuration
type OTelConfig struct {
	Enabled        bool
	Endpoint       string
	ServiceName    string
	ServiceVersion string
	Environment    string
	Insecure       bool

	// SampleRatio is the fraction of root traces kept. Values outside (0,1)
	// keep everything.
	SampleRatio float64
}

// OTelProviders holds OpenTelemetry providers for shutdown
type OTelProviders struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
}

// InitOTel initializes OpenTelemetry providers and installs them globally.
// A disabled config returns nil providers and leaves the no-op globals in place.
func InitOTel(ctx context.Context, cfg OTelConfig, logger *Logger) (*OTelProviders, error) {
	if !cfg.Enabled {
		logger.Info("OpenTelemetry is disabled")
		return nil, nil
	}

	logger.Infof("Initializing OpenTelemetry with endpoint: %s", cfg.Endpoint)

	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var dialOpts []grpc.DialOption
	if cfg.Insecure {
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	exportCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	tracerProvider, err := newTracerProvider(exportCtx, cfg, res, dialOpts)
	if err != nil {
		return nil, err
	}

	meterProvider, err := newMeterProvider(exportCtx, cfg, res, dialOpts)
	if err != nil {
		if shutdownErr := tracerProvider.Shutdown(ctx); shutdownErr != nil {
			logger.WithError(shutdownErr).Error("Failed to shutdown tracer provider after meter provider error")
		}
		return nil, err
	}

	otel.SetTracerProvider(tracerProvider)
	otel.SetMeterProvider(meterProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.WithFields(map[string]any{
		"service":      cfg.ServiceName,
		"environment":  cfg.Environment,
		"sample_ratio": cfg.SampleRatio,
	}).Info("OpenTelemetry initialized successfully")

	return &OTelProviders{
		TracerProvider: tracerProvider,
		MeterProvider:  meterProvider,
	}, nil
}

func newResource(ctx context.Context, cfg OTelConfig) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceNameKey.String(cfg.ServiceName),
		semconv.ServiceVersionKey.String(cfg.ServiceVersion),
	}
	if cfg.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironmentKey.String(cfg.Environment))
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(attrs...),
		resource.WithFromEnv(),
		resource.WithProcess(),
		resource.WithHost(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return res, nil
}

// Sampler returns the root sampler for ratio, always respecting the
// parent's decision for propagated traces
func Sampler(ratio float64) sdktrace.Sampler {
	if ratio <= 0 || ratio >= 1 {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

func newTracerProvider(ctx context.Context, cfg OTelConfig, res *resource.Resource, dialOpts []grpc.DialOption) (*sdktrace.TracerProvider, error) {
	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithDialOption(dialOpts...),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(Sampler(cfg.SampleRatio)),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)),
	), nil
}

func newMeterProvider(ctx context.Context, cfg OTelConfig, res *resource.Resource, dialOpts []grpc.DialOption) (*sdkmetric.MeterProvider, error) {
	exporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
		otlpmetricgrpc.WithDialOption(dialOpts...),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(15*time.Second),
		)),
	), nil
}

// Shutdown flushes and stops both providers. Safe on a nil receiver.
func (p *OTelProviders) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}

	var errs []error
	if p.TracerProvider != nil {
		if err := p.TracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider shutdown: %w", err))
		}
	}
	if p.MeterProvider != nil {
		if err := p.MeterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider shutdown: %w", err))
		}
	}
	return errors.Join(errs...)
}

// TraceFields returns trace and span IDs for log correlation, or nil when
// the span is not recording
func TraceFields(ctx context.Context) map[string]any {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return nil
	}
	spanCtx := span.SpanContext()
	return map[string]any{
		"trace_id": spanCtx.TraceID().String(),
		"span_id":  spanCtx.SpanID().String(),
	}
}
