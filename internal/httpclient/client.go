package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptrace"
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/httptrace/otelhttptrace"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	defaultTimeout         = 10 * time.Second
	defaultMaxBody         = 64 << 20
	defaultDialKeepAlive   = 30 * time.Second
	defaultMaxConnsPerHost = 16
	defaultIdleConnTimeout = 2 * time.Minute

	meterName = "github.com/fd1az/substrate-sidecar/internal/httpclient"
)

// ErrBodyTooLarge is returned when a response exceeds the configured cap.
var ErrBodyTooLarge = errors.New("httpclient: response body too large")

// Response is a fully read response.
type Response struct {
	StatusCode int
	Status     string
	Header     http.Header
	Body       []byte
}

// IsError reports a status of 400 or above.
func (r *Response) IsError() bool {
	return r.StatusCode >= 400
}

// Decode unmarshals the body into v.
func (r *Response) Decode(v any) error {
	if len(r.Body) == 0 {
		return fmt.Errorf("httpclient: empty body (status %d)", r.StatusCode)
	}
	return json.Unmarshal(r.Body, v)
}

// Client posts JSON documents and reads bounded responses.
type Client struct {
	client   *http.Client
	name     string
	headers  map[string]string
	maxBody  int64
	requests metric.Int64Counter
}

// New creates a client with an otelhttp-instrumented transport.
func New(opts ...Option) (*Client, error) {
	o := options{timeout: defaultTimeout, maxBody: defaultMaxBody, name: "default"}
	for _, fn := range opts {
		fn(&o)
	}

	rt := o.roundTripper
	if rt == nil {
		rt = &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			DialContext:         (&net.Dialer{KeepAlive: defaultDialKeepAlive}).DialContext,
			MaxConnsPerHost:     defaultMaxConnsPerHost,
			MaxIdleConnsPerHost: defaultMaxConnsPerHost,
			IdleConnTimeout:     defaultIdleConnTimeout,
			ForceAttemptHTTP2:   true,
		}
	}

	mp := o.meterProvider
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	requests, err := mp.Meter(meterName).Int64Counter(
		"http_client_requests_total",
		metric.WithDescription("HTTP requests by client and status class"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	return &Client{
		client: &http.Client{
			Timeout: o.timeout,
			Transport: otelhttp.NewTransport(rt,
				otelhttp.WithClientTrace(func(ctx context.Context) *httptrace.ClientTrace {
					return otelhttptrace.NewClientTrace(ctx)
				}),
				otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
					return "http " + r.Method
				}),
			),
		},
		name:     o.name,
		headers:  o.headers,
		maxBody:  o.maxBody,
		requests: requests,
	}, nil
}

// PostJSON encodes body as JSON and posts it to url. A non-2xx status is
// not an error; callers inspect the Response.
func (c *Client) PostJSON(ctx context.Context, url string, body any) (*Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("httpclient: encode body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("httpclient: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.record(ctx, "error")
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		c.record(ctx, "error")
		return nil, fmt.Errorf("httpclient: read body: %w", err)
	}
	if int64(len(data)) > c.maxBody {
		c.record(ctx, "error")
		return nil, fmt.Errorf("%w: over %d bytes", ErrBodyTooLarge, c.maxBody)
	}

	c.record(ctx, strconv.Itoa(resp.StatusCode/100)+"xx")
	return &Response{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Header:     resp.Header,
		Body:       data,
	}, nil
}

func (c *Client) record(ctx context.Context, status string) {
	c.requests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client", c.name),
		attribute.String("status", status),
	))
}
