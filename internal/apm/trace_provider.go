// Package apm configures OpenTelemetry tracing for the sidecar.
package apm

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/exporters/zipkin"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.10.0"

	"github.com/fd1az/substrate-sidecar/internal/logger"
)

// Exporter names a span exporter.
type Exporter string

const (
	ExporterOTLPGRPC Exporter = "otlp-grpc"
	ExporterOTLPHTTP Exporter = "otlp-http"
	ExporterZipkin   Exporter = "zipkin"
	ExporterConsole  Exporter = "console"
	ExporterNone     Exporter = "none"
)

const shutdownTimeout = 5 * time.Second

// TraceProvider flushes and stops span export.
type TraceProvider interface {
	Stop() error
}

// Options select and configure the exporter.
type Options struct {
	Exporter    Exporter
	ServiceName string
	Version     string
	Endpoint    string
	Headers     map[string]string
	// Writer receives console exporter output. Defaults to stdout.
	Writer io.Writer
}

type traceProvider struct {
	tp *sdktrace.TracerProvider
}

type noopProvider struct{}

func (noopProvider) Stop() error { return nil }

// NewTraceProvider installs a global tracer provider and W3C propagation.
// ExporterNone leaves the global no-op provider in place.
func NewTraceProvider(ctx context.Context, opts Options, log logger.LoggerInterface) (TraceProvider, error) {
	if opts.Exporter == ExporterNone {
		return noopProvider{}, nil
	}

	exp, err := newExporter(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("%s exporter: %w", opts.Exporter, err)
	}

	rsrc, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(
			semconv.ServiceNameKey.String(opts.ServiceName),
			semconv.ServiceVersionKey.String(opts.Version),
			attribute.String("otel.exporter", string(opts.Exporter)),
		))
	if err != nil {
		log.Warn(ctx, "merging trace resource", "error", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(rsrc),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		))

	log.Info(ctx, "tracing initialized", "exporter", opts.Exporter, "endpoint", opts.Endpoint)
	return &traceProvider{tp: tp}, nil
}

func newExporter(ctx context.Context, opts Options) (sdktrace.SpanExporter, error) {
	switch opts.Exporter {
	case ExporterOTLPGRPC, "":
		var o []otlptracegrpc.Option
		if opts.Endpoint != "" {
			o = append(o, otlptracegrpc.WithEndpointURL(opts.Endpoint))
		}
		if len(opts.Headers) > 0 {
			o = append(o, otlptracegrpc.WithHeaders(opts.Headers))
		}
		return otlptracegrpc.New(ctx, o...)

	case ExporterOTLPHTTP:
		var o []otlptracehttp.Option
		if opts.Endpoint != "" {
			o = append(o, otlptracehttp.WithEndpointURL(opts.Endpoint))
		}
		if len(opts.Headers) > 0 {
			o = append(o, otlptracehttp.WithHeaders(opts.Headers))
		}
		return otlptracehttp.New(ctx, o...)

	case ExporterZipkin:
		if opts.Endpoint == "" {
			return nil, fmt.Errorf("endpoint is required")
		}
		return zipkin.New(opts.Endpoint)

	case ExporterConsole:
		o := []stdouttrace.Option{stdouttrace.WithPrettyPrint()}
		if opts.Writer != nil {
			o = append(o, stdouttrace.WithWriter(opts.Writer))
		}
		return stdouttrace.New(o...)
	}
	return nil, fmt.Errorf("unknown exporter %q", opts.Exporter)
}

func (p *traceProvider) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return p.tp.Shutdown(ctx)
}

// ParseHeaders parses "key=value,key2=value2" exporter headers.
func ParseHeaders(s string) (map[string]string, error) {
	headers := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		k, v, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid header %q, expected key=value", pair)
		}
		headers[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return headers, nil
}
