// Package metrics configures the OpenTelemetry meter provider and serves
// its Prometheus view.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.10.0"
)

const (
	exportInterval  = 30 * time.Second
	shutdownTimeout = 5 * time.Second
)

// Options select the metric readers. At least one of Prometheus or
// OTLPEndpoint should be set; with neither, instruments record into a
// provider nobody reads.
type Options struct {
	ServiceName  string
	Prometheus   bool
	OTLPEndpoint string
	Headers      map[string]string
}

// Provider owns the SDK meter provider and its Prometheus registry.
type Provider struct {
	mp       *sdkmetric.MeterProvider
	registry *prometheus.Registry
}

// NewProvider builds the meter provider and installs it globally.
func NewProvider(ctx context.Context, opts Options) (*Provider, error) {
	p := &Provider{}
	var readers []sdkmetric.Option

	if opts.Prometheus {
		p.registry = prometheus.NewRegistry()
		p.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		exp, err := otelprom.New(otelprom.WithRegisterer(p.registry))
		if err != nil {
			return nil, fmt.Errorf("prometheus exporter: %w", err)
		}
		readers = append(readers, sdkmetric.WithReader(exp))
	}

	if opts.OTLPEndpoint != "" {
		o := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpointURL(opts.OTLPEndpoint)}
		if len(opts.Headers) > 0 {
			o = append(o, otlpmetricgrpc.WithHeaders(opts.Headers))
		}
		exp, err := otlpmetricgrpc.New(ctx, o...)
		if err != nil {
			return nil, fmt.Errorf("otlp metric exporter: %w", err)
		}
		readers = append(readers, sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(exportInterval))))
	}

	p.mp = sdkmetric.NewMeterProvider(append(readers, sdkmetric.WithResource(
		resource.NewSchemaless(semconv.ServiceNameKey.String(opts.ServiceName)),
	))...)
	otel.SetMeterProvider(p.mp)
	return p, nil
}

// Handler serves the Prometheus registry. It returns 404 when Prometheus
// is disabled.
func (p *Provider) Handler() http.Handler {
	if p.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Stop flushes pending exports and shuts the provider down.
func (p *Provider) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return p.mp.Shutdown(ctx)
}
