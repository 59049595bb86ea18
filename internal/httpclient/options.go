// Package httpclient is an instrumented HTTP client for JSON endpoints.
package httpclient

import (
	"net/http"
	"time"

	"go.opentelemetry.io/otel/metric"
)

type options struct {
	name          string
	timeout       time.Duration
	headers       map[string]string
	maxBody       int64
	roundTripper  http.RoundTripper
	meterProvider metric.MeterProvider
}

// Option configures a Client.
type Option func(*options)

// WithName labels spans and metrics, usually with the chain role.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithTimeout bounds each request including reading the body.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithHeaders adds headers to every request.
func WithHeaders(h map[string]string) Option {
	return func(o *options) { o.headers = h }
}

// WithMaxBodySize caps response bodies. Runtime metadata of large chains
// runs to several megabytes.
func WithMaxBodySize(n int64) Option {
	return func(o *options) { o.maxBody = n }
}

// WithRoundTripper replaces the pooled transport.
func WithRoundTripper(rt http.RoundTripper) Option {
	return func(o *options) { o.roundTripper = rt }
}

// WithMeterProvider overrides the global meter provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) { o.meterProvider = mp }
}
