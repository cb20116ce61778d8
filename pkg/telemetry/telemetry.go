// Package telemetry wires OpenTelemetry tracing and the mission metric instruments.
package telemetry

import (
	"context"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/holon-run/mission"

// ShutdownFunc flushes and stops exporters.
type ShutdownFunc func(context.Context) error

// Common attribute keys.
var (
	AttrMission   = attribute.Key("mission.id")
	AttrEventType = attribute.Key("event.type")
	AttrOutcome   = attribute.Key("outcome")
	AttrAckStatus = attribute.Key("ack.status")
	AttrSource    = attribute.Key("abort.source")
	AttrBehavior  = attribute.Key("message.behavior")
)

// InitTracing installs a global tracer provider exporting over OTLP/HTTP when
// an OTLP endpoint is configured in the environment. Without one it is a no-op
// and the global no-op provider stays in place.
func InitTracing(ctx context.Context, serviceName string) (ShutdownFunc, error) {
	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") == "" && os.Getenv("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT") == "" {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, err
	}
	res, err := newResource(serviceName)
	if err != nil {
		return nil, err
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)
	return provider.Shutdown, nil
}

// InitMeterProvider installs a global meter provider that pushes to the OTLP
// metrics endpoint every interval (zero means the SDK default). Like
// InitTracing it is a no-op without an OTLP endpoint in the environment.
// Call it before InitMetrics; shutdown flushes the last readings.
func InitMeterProvider(ctx context.Context, serviceName string, interval time.Duration) (ShutdownFunc, error) {
	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") == "" && os.Getenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT") == "" {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlpmetrichttp.New(ctx)
	if err != nil {
		return nil, err
	}
	res, err := newResource(serviceName)
	if err != nil {
		return nil, err
	}

	var opts []sdkmetric.PeriodicReaderOption
	if interval > 0 {
		opts = append(opts, sdkmetric.WithInterval(interval))
	}
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, opts...)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(provider)
	return provider.Shutdown, nil
}

func newResource(serviceName string) (*resource.Resource, error) {
	return resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", serviceName),
	))
}

// Tracer returns the mission tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// Meter returns the mission meter from the global provider.
func Meter() metric.Meter {
	return otel.Meter(instrumentationName)
}
