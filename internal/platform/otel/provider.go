// Package otel configures OpenTelemetry tracing for service processes.
package otel

import (
	"context"
	"strings"

	"github.com/louisbranch/bliss/internal/platform/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

type otelEnv struct {
	Endpoint string `env:"BLISS_OTEL_ENDPOINT"`
	Enabled  string `env:"BLISS_OTEL_ENABLED"`
}

// Setup initialises tracing for the given service.
//
// Tracing is opt-in: with an empty BLISS_OTEL_ENDPOINT, or BLISS_OTEL_ENABLED set
// to "false", Setup registers nothing and returns a no-op shutdown.
//
// The returned shutdown flushes pending spans and should be deferred by the caller.
func Setup(ctx context.Context, serviceName string) (shutdown func(context.Context) error, err error) {
	noop := func(context.Context) error { return nil }

	var cfg otelEnv
	if err := config.ParseEnv(&cfg); err != nil {
		return noop, err
	}
	if strings.EqualFold(strings.TrimSpace(cfg.Enabled), "false") {
		return noop, nil
	}
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return noop, nil
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpointURL(endpoint),
	)
	if err != nil {
		return noop, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return noop, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp.Shutdown, nil
}
