package tracing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const (
	// EnabledEnv must be "true" to export spans.
	EnabledEnv = "BEATSHIM_OTEL_ENABLED"
	// SampleRatioEnv sets the fraction of root events traced, in [0, 1].
	SampleRatioEnv = "BEATSHIM_OTEL_SAMPLE_RATIO"

	defaultEndpoint = "localhost:4317"
)

// Config holds tracing configuration for one beatshim process.
type Config struct {
	Enabled     bool
	Endpoint    string
	ServiceName string
	// Flow is the flow this process runs. It becomes a resource attribute so
	// spans from several tailer hosts can be grouped per flow.
	Flow string
	// SampleRatio applies to events that arrive without a sampled traceparent.
	// Events whose agent already sampled them are always traced.
	SampleRatio float64
}

// GetConfig reads tracing configuration from BEATSHIM_OTEL_ENABLED,
// BEATSHIM_OTEL_SAMPLE_RATIO and OTEL_EXPORTER_OTLP_ENDPOINT. An unparseable
// or out of range ratio falls back to tracing every event.
func GetConfig(serviceName, flow string) Config {
	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint == "" {
		endpoint = defaultEndpoint
	}

	ratio := 1.0
	if raw := strings.TrimSpace(os.Getenv(SampleRatioEnv)); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil && v >= 0 && v <= 1 {
			ratio = v
		}
	}

	return Config{
		Enabled:     strings.EqualFold(strings.TrimSpace(os.Getenv(EnabledEnv)), "true"),
		Endpoint:    endpoint,
		ServiceName: serviceName,
		Flow:        flow,
		SampleRatio: ratio,
	}
}

// Sampler returns the sampler used for event spans.
func (c Config) Sampler() sdktrace.Sampler {
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(c.SampleRatio))
}

// Resource describes the process exporting spans: service, flow, host and
// any OTEL_RESOURCE_ATTRIBUTES. A detector that only partly succeeds still
// yields a usable resource.
func (c Config) Resource(ctx context.Context) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{semconv.ServiceName(c.ServiceName)}
	if c.Flow != "" {
		attrs = append(attrs, FlowAttr(c.Flow))
	}
	res, err := resource.New(ctx,
		resource.WithTelemetrySDK(),
		resource.WithHost(),
		resource.WithFromEnv(),
		resource.WithAttributes(attrs...),
	)
	if err != nil && !errors.Is(err, resource.ErrPartialResource) {
		return nil, err
	}
	return res, nil
}

// Initialize installs the trace context propagator and returns the tracer
// for event spans along with its shutdown function. The propagator is
// installed even when export is disabled so a traceparent forwarded by the
// agent still reaches log entries.
func Initialize(cfg Config, logger *slog.Logger) (trace.Tracer, func(context.Context) error, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if !cfg.Enabled {
		logger.Info("span export disabled", "flow", cfg.Flow)
		return noop.NewTracerProvider().Tracer(cfg.ServiceName), func(context.Context) error { return nil }, nil
	}

	res, err := cfg.Resource(context.Background())
	if err != nil {
		return nil, nil, fmt.Errorf("create resource: %w", err)
	}

	exporter, err := otlptracegrpc.New(context.Background(),
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(cfg.Sampler()),
	)
	otel.SetTracerProvider(tp)

	logger.Info("exporting event spans",
		"endpoint", cfg.Endpoint,
		"flow", cfg.Flow,
		"sample_ratio", cfg.SampleRatio,
	)

	return tp.Tracer(cfg.ServiceName), tp.Shutdown, nil
}

// Extract returns ctx carrying any remote span context found in headers,
// such as a traceparent forwarded by the host agent.
func Extract(ctx context.Context, headers map[string]string) context.Context {
	if len(headers) == 0 {
		return ctx
	}
	return otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(headers))
}
