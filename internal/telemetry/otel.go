// Package telemetry exports folofix traces over OTLP/HTTP.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"

	"github.com/commonjava/folofix/pkg/build"
	"github.com/commonjava/folofix/pkg/config"
)

// DefaultTracesEndpoint is a collector on the local machine.
const DefaultTracesEndpoint = "localhost:4318"

// Setup installs a global tracer provider exporting the spans of a folofix
// command to the configured collector. The endpoint is either host:port, in
// which case cfg.Insecure picks plain HTTP, or a full URL whose scheme and
// path are used as given.
//
// The returned shutdown func flushes pending spans and must be called before
// the process exits.
func Setup(ctx context.Context, cfg config.TelemetryConfig) (func(context.Context) error, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	opts, err := exporterOptions(cfg)
	if err != nil {
		return nil, err
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithAttributes(
			semconv.ServiceName("folofix"),
			semconv.ServiceVersion(build.Version),
			attribute.String("folofix.commit", build.Commit),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("describing telemetry resource: %w", err)
	}

	tp := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return func(ctx context.Context) error {
		return errors.Join(tp.ForceFlush(ctx), tp.Shutdown(ctx))
	}, nil
}

func exporterOptions(cfg config.TelemetryConfig) ([]otlptracehttp.Option, error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultTracesEndpoint
	}

	if strings.Contains(endpoint, "://") {
		u, err := url.Parse(endpoint)
		if err != nil {
			return nil, fmt.Errorf("parsing telemetry endpoint %q: %w", endpoint, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return nil, fmt.Errorf("telemetry endpoint %q: unsupported scheme %q", endpoint, u.Scheme)
		}
		return []otlptracehttp.Option{otlptracehttp.WithEndpointURL(endpoint)}, nil
	}

	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	return opts, nil
}
