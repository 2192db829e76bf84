package middleware

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nugetd/nugetd/internal/config"
	"github.com/nugetd/nugetd/internal/logging"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
)

var tracer trace.Tracer

// InitTracing initializes OpenTelemetry tracing with an OTLP HTTP exporter.
// Returns a shutdown function; with tracing disabled both are no-ops.
func InitTracing(cfg *config.Config, logger *logrus.Logger) (func(context.Context) error, error) {
	obs := &cfg.Observability
	if !obs.TracingEnabled {
		logger.Info("Tracing is disabled")
		return func(context.Context) error { return nil }, nil
	}

	ctx := context.Background()

	// The exporter wants a bare host:port endpoint.
	endpoint := strings.TrimPrefix(obs.OTLPEndpoint, "http://")
	endpoint = strings.TrimPrefix(endpoint, "https://")

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.Server.Name),
			semconv.ServiceVersionKey.String(logging.Version()),
			attribute.String("environment", cfg.Server.Environment),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter,
			sdktrace.WithBatchTimeout(5*time.Second),
			sdktrace.WithMaxExportBatchSize(512),
		),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(obs.SampleRate)),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	tracer = tp.Tracer(cfg.Server.Name)

	logger.WithFields(logrus.Fields{
		"otlp_endpoint": endpoint,
		"sample_rate":   obs.SampleRate,
	}).Info("OpenTelemetry tracing initialized")

	return tp.Shutdown, nil
}

// GetTracer returns the global tracer.
func GetTracer() trace.Tracer {
	if tracer == nil {
		return otel.Tracer("nugetd")
	}
	return tracer
}

// StartSpan starts a new span with the given name.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return GetTracer().Start(ctx, name, opts...)
}

// RecordError records an error in the span.
func RecordError(span trace.Span, err error) {
	if span != nil && err != nil {
		span.RecordError(err)
	}
}
