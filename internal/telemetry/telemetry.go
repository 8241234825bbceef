// Package telemetry wires OpenTelemetry into waggle.
//
// Telemetry is off by default: Init with a disabled Config installs no-op
// providers and every instrument call disappears into them. Exporters are
// selected once, from a Config resolved out of the environment:
//
//	WAGGLE_OTEL_ENABLED=true         turn telemetry on
//	WAGGLE_OTEL_STDOUT=true          pretty-print spans/metrics locally
//	OTEL_EXPORTER_OTLP_ENDPOINT=...  OTLP gRPC collector (e.g. localhost:4317)
package telemetry

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/sdk/resource"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const instrumentationScope = "github.com/waggle-sh/waggle"

// Config selects the exporters Init wires up. The zero value is fully
// disabled.
type Config struct {
	Enabled         bool
	Stdout          bool   // pretty-print to the terminal
	Endpoint        string // OTLP gRPC endpoint for traces and metrics
	MetricsEndpoint string // metrics-only override of Endpoint
	ServiceName     string
	ServiceVersion  string
}

// FromEnv resolves a Config from WAGGLE_OTEL_* and the standard OTEL_*
// endpoint variables.
func FromEnv(service, version string) Config {
	return Config{
		Enabled:         Enabled(),
		Stdout:          os.Getenv("WAGGLE_OTEL_STDOUT") == "true",
		Endpoint:        os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		MetricsEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT"),
		ServiceName:     service,
		ServiceVersion:  version,
	}
}

// Enabled reports whether telemetry is active (WAGGLE_OTEL_ENABLED=true).
func Enabled() bool {
	return os.Getenv("WAGGLE_OTEL_ENABLED") == "true"
}

var shutdownFns []func(context.Context) error

// Init installs the global providers for the given Config. Disabled configs
// get no-op providers; enabled ones export to stdout, OTLP, or both, falling
// back to stdout when no endpoint is set so enabling telemetry always
// produces output somewhere.
func Init(ctx context.Context, cfg Config) error {
	if !cfg.Enabled {
		otel.SetTracerProvider(tracenoop.NewTracerProvider())
		otel.SetMeterProvider(metricnoop.NewMeterProvider())
		return nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.ServiceVersion),
		),
		resource.WithHost(),
		resource.WithProcess(),
	)
	if err != nil {
		return fmt.Errorf("telemetry: resource: %w", err)
	}

	spans, err := cfg.spanExporters(ctx)
	if err != nil {
		return fmt.Errorf("telemetry: traces: %w", err)
	}
	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	}
	for _, exp := range spans {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(exp))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)
	otel.SetTracerProvider(tp)
	shutdownFns = append(shutdownFns, tp.Shutdown)

	readers, err := cfg.metricReaders(ctx)
	if err != nil {
		return fmt.Errorf("telemetry: metrics: %w", err)
	}
	mpOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	for _, r := range readers {
		mpOpts = append(mpOpts, sdkmetric.WithReader(r))
	}
	mp := sdkmetric.NewMeterProvider(mpOpts...)
	otel.SetMeterProvider(mp)
	shutdownFns = append(shutdownFns, mp.Shutdown)

	return nil
}

func (cfg Config) spanExporters(ctx context.Context) ([]sdktrace.SpanExporter, error) {
	var out []sdktrace.SpanExporter
	if cfg.Endpoint != "" {
		exp, err := otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(cfg.Endpoint),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			return nil, err
		}
		out = append(out, exp)
	}
	if cfg.Stdout || len(out) == 0 {
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, err
		}
		out = append(out, exp)
	}
	return out, nil
}

func (cfg Config) metricReaders(ctx context.Context) ([]sdkmetric.Reader, error) {
	var out []sdkmetric.Reader
	endpoint := cfg.MetricsEndpoint
	if endpoint == "" {
		endpoint = cfg.Endpoint
	}
	if endpoint != "" {
		exp, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(endpoint),
			otlpmetricgrpc.WithInsecure(),
		)
		if err != nil {
			return nil, err
		}
		out = append(out, sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(30*time.Second)))
	}
	if cfg.Stdout {
		exp, err := stdoutmetric.New()
		if err != nil {
			return nil, err
		}
		out = append(out, sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(15*time.Second)))
	}
	return out, nil
}

// Tracer returns a tracer with the given instrumentation name (or the global scope).
func Tracer(name string) trace.Tracer {
	if name == "" {
		name = instrumentationScope
	}
	return otel.Tracer(name)
}

// Meter returns a meter with the given instrumentation name (or the global scope).
func Meter(name string) metric.Meter {
	if name == "" {
		name = instrumentationScope
	}
	return otel.Meter(name)
}

// Shutdown flushes and tears down the providers Init installed.
func Shutdown(ctx context.Context) {
	for _, fn := range shutdownFns {
		_ = fn(ctx)
	}
	shutdownFns = nil
}
