// Package rpc owns the JSON-RPC connection to a single Substrate node: dialing,
// request multiplexing, timeouts and reconnection with backoff.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/fd1az/substrate-sidecar/business/chain/app"
	"github.com/fd1az/substrate-sidecar/business/chain/domain"
	"github.com/fd1az/substrate-sidecar/internal/apperror"
	"github.com/fd1az/substrate-sidecar/internal/logger"
	"github.com/fd1az/substrate-sidecar/internal/ratelimit"
)

const (
	tracerName = "github.com/fd1az/substrate-sidecar/business/chain/infra/rpc"
	meterName  = "github.com/fd1az/substrate-sidecar/business/chain/infra/rpc"
)

var (
	_ app.Caller    = (*Manager)(nil)
	_ app.Connector = (*Manager)(nil)
)

// Config holds connection policy for one endpoint.
type Config struct {
	RequestTimeout    time.Duration
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	MaxReconnects     int     // consecutive failed dials before Failed, 0 = infinite
	RequestsPerSecond float64 // 0 = unlimited
	PingInterval      time.Duration
	DialTimeout       time.Duration
	BreakerFailures   uint32 // http only
	BreakerTimeout    time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		RequestTimeout:  30 * time.Second,
		InitialDelay:    100 * time.Millisecond,
		MaxDelay:        10 * time.Second,
		PingInterval:    30 * time.Second,
		DialTimeout:     10 * time.Second,
		BreakerFailures: 5,
		BreakerTimeout:  10 * time.Second,
	}
}

// managerMetrics holds OTEL metric instruments.
type managerMetrics struct {
	calls           metric.Int64Counter
	callErrors      metric.Int64Counter
	callLatency     metric.Float64Histogram
	reconnects      metric.Int64Counter
	connectionState metric.Int64Gauge
}

// Manager is the live connection to one chain endpoint. It is safe for concurrent use.
type Manager struct {
	endpoint  domain.Endpoint
	config    Config
	logger    logger.LoggerInterface
	transport transport
	policy    *reconnectPolicy
	limiter   *ratelimit.Limiter

	mu          sync.RWMutex
	state       domain.ConnectionState
	changed     chan struct{} // closed on every transition
	attempt     int
	nextDelay   time.Duration
	lastErr     string
	connectedAt time.Time

	reconnecting atomic.Bool
	resetPending atomic.Bool
	reconnects   atomic.Int32
	done         chan struct{}
	closeOnce    sync.Once
	wg           sync.WaitGroup

	// onRetry observes each scheduled reconnect delay.
	onRetry func(attempt int, delay time.Duration)

	tracer  trace.Tracer
	metrics *managerMetrics
}

// NewManager creates a disconnected manager for endpoint.
func NewManager(endpoint domain.Endpoint, cfg Config, log logger.LoggerInterface) (*Manager, error) {
	if cfg.InitialDelay <= 0 || cfg.MaxDelay < cfg.InitialDelay {
		return nil, apperror.New(apperror.CodeConfigurationError,
			apperror.WithContextf("invalid reconnect delays %s..%s", cfg.InitialDelay, cfg.MaxDelay))
	}

	m := &Manager{
		endpoint: endpoint,
		config:   cfg,
		logger:   log,
		policy:   newReconnectPolicy(cfg.InitialDelay, cfg.MaxDelay),
		limiter:  ratelimit.New(cfg.RequestsPerSecond),
		state:    domain.StateDisconnected,
		changed:  make(chan struct{}),
		done:     make(chan struct{}),
		tracer:   otel.Tracer(tracerName),
	}

	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	name := "substrate-" + string(endpoint.Role)
	var err error
	if endpoint.Protocol.IsWebSocket() {
		m.transport, err = newWSTransport(endpoint.URL, name, cfg, m.handleDrop)
	} else {
		m.transport, err = newHTTPTransport(endpoint.URL, name, cfg, log)
	}
	if err != nil {
		return nil, apperror.New(apperror.CodeConfigurationError,
			apperror.WithCause(err),
			apperror.WithContext(endpoint.String()))
	}

	return m, nil
}

// initMetrics initializes OTEL metric instruments.
func (m *Manager) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error

	m.metrics = &managerMetrics{}

	m.metrics.calls, err = meter.Int64Counter(
		"substrate_rpc_calls_total",
		metric.WithDescription("Total JSON-RPC calls issued"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return err
	}

	m.metrics.callErrors, err = meter.Int64Counter(
		"substrate_rpc_call_errors_total",
		metric.WithDescription("JSON-RPC calls that failed, by error code"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return err
	}

	m.metrics.callLatency, err = meter.Float64Histogram(
		"substrate_rpc_call_duration_ms",
		metric.WithDescription("JSON-RPC call latency"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	m.metrics.reconnects, err = meter.Int64Counter(
		"substrate_rpc_reconnects_total",
		metric.WithDescription("Successful reconnects"),
		metric.WithUnit("{reconnect}"),
	)
	if err != nil {
		return err
	}

	m.metrics.connectionState, err = meter.Int64Gauge(
		"substrate_rpc_connection_state",
		metric.WithDescription("Connection state (0=disconnected, 1=connecting, 2=connected, 3=reconnecting, 4=failed)"),
		metric.WithUnit("{state}"),
	)
	return err
}

// Connect dials the endpoint. On failure the reconnect loop keeps trying in
// the background and the error is returned so startup can log it.
func (m *Manager) Connect(ctx context.Context) error {
	ctx, span := m.tracer.Start(ctx, "rpc.connect",
		trace.WithAttributes(
			attribute.String("chain", string(m.endpoint.Role)),
			attribute.String("url", m.endpoint.URL),
		),
	)
	defer span.End()

	m.mu.Lock()
	switch m.state {
	case domain.StateDisconnected, domain.StateFailed:
		m.transitionLocked(domain.StateConnecting)
	default:
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	select {
	case <-m.done:
		return apperror.New(apperror.CodeServiceUnavailable, apperror.WithContext("connection closed"))
	default:
	}

	if err := m.transport.dial(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "dial failed")

		m.mu.Lock()
		m.lastErr = err.Error()
		m.transitionLocked(domain.StateReconnecting)
		m.mu.Unlock()

		m.logger.Warn(ctx, "initial connection failed, retrying in background",
			"chain", m.endpoint.Role, "url", m.endpoint.URL, "error", err)
		m.startReconnect()

		return apperror.New(apperror.CodeConnectionFailed,
			apperror.WithCause(err),
			apperror.WithContext(m.endpoint.String()))
	}

	m.markConnected()
	m.logger.Info(ctx, "chain connected", "chain", m.endpoint.Role, "url", m.endpoint.URL)
	span.SetStatus(codes.Ok, "connected")
	return nil
}

// Call invokes method on the node. The call is bounded by the configured
// request timeout; a shorter deadline on ctx wins.
func (m *Manager) Call(ctx context.Context, result any, method string, params ...any) error {
	ctx, span := m.tracer.Start(ctx, "rpc.call",
		trace.WithAttributes(
			attribute.String("chain", string(m.endpoint.Role)),
			attribute.String("rpc.method", method),
		),
	)
	defer span.End()

	if m.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.config.RequestTimeout)
		defer cancel()
	}

	start := time.Now()
	err := m.call(ctx, result, method, params)
	m.record(ctx, method, err, time.Since(start))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(apperror.GetCode(err)))
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

func (m *Manager) call(ctx context.Context, result any, method string, params []any) error {
	if err := m.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return m.contextError(ctx, method)
		}
		return err
	}

	if st := m.State(); st != domain.StateConnected {
		return m.unavailable(st, method)
	}

	for {
		raw, err := m.transport.call(ctx, method, params)
		if err == nil {
			if m.resetPending.CompareAndSwap(true, false) {
				m.policy.Reset()
			}
			return decodeResult(raw, result, method)
		}

		var rpcErr *rpcError
		switch {
		case errors.As(err, &rpcErr):
			return apperror.New(apperror.CodeRPCError,
				apperror.WithMessage(rpcErr.Message),
				apperror.WithCause(rpcErr),
				apperror.WithContextf("%s on %s", method, m.endpoint.Role))
		case ctx.Err() != nil:
			return m.contextError(ctx, method)
		case errors.Is(err, errConnectionDropped):
			m.handleDrop(err)
			if werr := m.waitConnected(ctx, method); werr != nil {
				return werr
			}
			// Connection restored within the deadline, retry.
		default:
			return apperror.Wrap(err, apperror.CodeTransportError, method)
		}
	}
}

// waitConnected blocks until the reconnect loop settles or ctx ends.
func (m *Manager) waitConnected(ctx context.Context, method string) error {
	for {
		m.mu.RLock()
		st, ch := m.state, m.changed
		m.mu.RUnlock()

		switch st {
		case domain.StateConnected:
			return nil
		case domain.StateFailed, domain.StateDisconnected:
			return m.unavailable(st, method)
		}

		select {
		case <-ch:
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return m.unavailable(domain.StateReconnecting, method)
			}
			return ctx.Err()
		}
	}
}

func (m *Manager) contextError(ctx context.Context, method string) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apperror.New(apperror.CodeRPCTimeout,
			apperror.WithCause(ctx.Err()),
			apperror.WithContextf("%s on %s", method, m.endpoint.Role))
	}
	return ctx.Err()
}

func (m *Manager) unavailable(st domain.ConnectionState, method string) error {
	return apperror.New(apperror.CodeServiceUnavailable,
		apperror.WithContextf("%s on %s: connection %s", method, m.endpoint.Role, st))
}

func decodeResult(raw json.RawMessage, result any, method string) error {
	if result == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, result); err != nil {
		return apperror.New(apperror.CodeRPCError,
			apperror.WithCause(err),
			apperror.WithContextf("%s: unexpected result shape", method))
	}
	return nil
}

// handleDrop moves a connected manager into Reconnecting and starts the loop.
func (m *Manager) handleDrop(err error) {
	m.mu.Lock()
	if m.state != domain.StateConnected {
		m.mu.Unlock()
		return
	}
	m.lastErr = err.Error()
	m.transitionLocked(domain.StateReconnecting)
	m.mu.Unlock()

	m.logger.Warn(context.Background(), "chain connection dropped",
		"chain", m.endpoint.Role, "url", m.endpoint.URL, "error", err)
	m.startReconnect()
}

// startReconnect runs at most one reconnect loop at a time.
func (m *Manager) startReconnect() {
	if !m.reconnecting.CompareAndSwap(false, true) {
		return
	}
	m.wg.Add(1)
	go m.reconnectLoop()
}

func (m *Manager) reconnectLoop() {
	defer m.wg.Done()

	attempt := 0
	for {
		delay := m.policy.Next()

		m.mu.Lock()
		m.attempt = attempt
		m.nextDelay = delay
		m.mu.Unlock()
		if m.onRetry != nil {
			m.onRetry(attempt, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-m.done:
			timer.Stop()
			m.reconnecting.Store(false)
			return
		case <-timer.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), m.config.DialTimeout)
		err := m.transport.dial(ctx)
		cancel()
		attempt++

		if err == nil {
			m.resetPending.Store(true)
			m.reconnects.Add(1)
			m.metrics.reconnects.Add(context.Background(), 1,
				metric.WithAttributes(attribute.String("chain", string(m.endpoint.Role))))
			m.reconnecting.Store(false)
			m.markConnected()
			m.logger.Info(context.Background(), "chain reconnected",
				"chain", m.endpoint.Role, "attempts", attempt)
			return
		}

		m.mu.Lock()
		m.lastErr = err.Error()
		m.mu.Unlock()
		m.logger.Debug(context.Background(), "reconnect attempt failed",
			"chain", m.endpoint.Role, "attempt", attempt, "delay", delay, "error", err)

		if m.config.MaxReconnects > 0 && attempt >= m.config.MaxReconnects {
			m.reconnecting.Store(false)
			m.mu.Lock()
			m.attempt = attempt
			m.transitionLocked(domain.StateFailed)
			m.mu.Unlock()
			m.logger.Error(context.Background(), "giving up on chain connection",
				"chain", m.endpoint.Role, "attempts", attempt, "error", err)
			return
		}
	}
}

func (m *Manager) markConnected() {
	m.mu.Lock()
	m.attempt = 0
	m.nextDelay = 0
	m.connectedAt = time.Now()
	m.transitionLocked(domain.StateConnected)
	m.mu.Unlock()
}

// transitionLocked must be called with m.mu held.
func (m *Manager) transitionLocked(state domain.ConnectionState) {
	if m.state == state {
		return
	}
	m.state = state
	close(m.changed)
	m.changed = make(chan struct{})

	m.metrics.connectionState.Record(context.Background(), state.Gauge(),
		metric.WithAttributes(attribute.String("chain", string(m.endpoint.Role))))
}

func (m *Manager) record(ctx context.Context, method string, err error, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("chain", string(m.endpoint.Role)),
		attribute.String("method", method),
	)
	m.metrics.calls.Add(ctx, 1, attrs)
	m.metrics.callLatency.Record(ctx, float64(elapsed.Microseconds())/1000, attrs)
	if err != nil {
		m.metrics.callErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("chain", string(m.endpoint.Role)),
			attribute.String("method", method),
			attribute.String("code", string(apperror.GetCode(err))),
		))
	}
}

// Endpoint returns the configured endpoint.
func (m *Manager) Endpoint() domain.Endpoint {
	return m.endpoint
}

// State returns the current connection state.
func (m *Manager) State() domain.ConnectionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Status returns detailed connection status.
func (m *Manager) Status() domain.ConnectionStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return domain.ConnectionStatus{
		Endpoint:       m.endpoint,
		State:          m.state,
		Attempt:        m.attempt,
		NextRetryDelay: m.nextDelay,
		Reconnects:     int(m.reconnects.Load()),
		LastError:      m.lastErr,
		ConnectedAt:    m.connectedAt,
	}
}

// Close stops the reconnect loop and closes the transport. It is idempotent.
func (m *Manager) Close() error {
	var err error
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.transitionLocked(domain.StateDisconnected)
		m.mu.Unlock()

		close(m.done)
		err = m.transport.close()
		m.wg.Wait()
		m.logger.Info(context.Background(), "chain connection closed", "chain", m.endpoint.Role)
	})
	return err
}
