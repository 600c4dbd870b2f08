package otel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// settings are the OTEL_* variables the tracer provider honours.
type settings struct {
	disabled    bool
	serviceName string
	protocol    string
	endpoint    string
	sampler     string
	samplerArg  string
}

func loadSettings() settings {
	s := settings{
		disabled:    os.Getenv("OTEL_SDK_DISABLED") == "true",
		serviceName: getEnv("OTEL_SERVICE_NAME", "cgiserver"),
		protocol:    getEnv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc"),
		endpoint:    os.Getenv("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT"),
		sampler:     getEnv("OTEL_TRACES_SAMPLER", "parentbased_traceidratio"),
		samplerArg:  getEnv("OTEL_TRACES_SAMPLER_ARG", "1.0"),
	}
	if s.endpoint == "" {
		s.endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	}
	return s
}

// Init installs the W3C propagators and, unless OTEL_SDK_DISABLED is set, an OTLP tracer
// provider. An exporter that cannot be built leaves tracing off instead of failing startup.
// The returned func flushes and stops the provider.
func Init(ctx context.Context, logger *slog.Logger) (func(context.Context) error, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	s := loadSettings()
	if s.disabled {
		logger.Info("tracing_configured", "tracing_enabled", false)
		return noopShutdown, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(s.serviceName)),
		resource.WithFromEnv(),
		resource.WithProcess(),
		resource.WithTelemetrySDK(),
		resource.WithHost(),
	)
	if err != nil && !errors.Is(err, resource.ErrPartialResource) {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := newExporter(ctx, s.protocol)
	if err != nil {
		logger.Error("tracing_init_failed", "error", err.Error())
		return noopShutdown, nil
	}

	tp := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
		trace.WithSampler(s.newSampler()),
	)
	otel.SetTracerProvider(tp)

	logger.Info("tracing_configured",
		"tracing_enabled", true,
		"service_name", s.serviceName,
		"otlp_protocol", s.protocol,
		"otlp_endpoint", s.endpoint,
		"sampler", s.sampler,
		"sampler_arg", s.samplerArg,
	)
	return tp.Shutdown, nil
}

func newExporter(ctx context.Context, protocol string) (*otlptrace.Exporter, error) {
	switch protocol {
	case "grpc":
		return otlptracegrpc.New(ctx)
	case "http/protobuf":
		return otlptracehttp.New(ctx)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol: %s", protocol)
	}
}

// newSampler maps OTEL_TRACES_SAMPLER to a sampler; unknown names sample everything.
func (s settings) newSampler() trace.Sampler {
	ratio := parseRatio(s.samplerArg)

	switch s.sampler {
	case "always_on":
		return trace.AlwaysSample()
	case "always_off":
		return trace.NeverSample()
	case "traceidratio":
		return trace.TraceIDRatioBased(ratio)
	case "parentbased_always_on":
		return trace.ParentBased(trace.AlwaysSample())
	case "parentbased_always_off":
		return trace.ParentBased(trace.NeverSample())
	case "parentbased_traceidratio":
		return trace.ParentBased(trace.TraceIDRatioBased(ratio))
	default:
		return trace.ParentBased(trace.AlwaysSample())
	}
}

// parseRatio reads a sampling ratio in [0, 1], defaulting to 1.
func parseRatio(arg string) float64 {
	ratio, err := strconv.ParseFloat(arg, 64)
	if err != nil || ratio < 0 || ratio > 1 {
		return 1.0
	}
	return ratio
}

func noopShutdown(context.Context) error { return nil }

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}
