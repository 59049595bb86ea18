package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/sony/gobreaker/v2"

	"github.com/fd1az/substrate-sidecar/internal/apperror"
	"github.com/fd1az/substrate-sidecar/internal/circuitbreaker"
	"github.com/fd1az/substrate-sidecar/internal/httpclient"
	"github.com/fd1az/substrate-sidecar/internal/logger"
)

// httpTransport sends one POST per call. Streaks of 5xx or network failures
// open a circuit breaker so a dead node is not hammered.
type httpTransport struct {
	url    string
	client *httpclient.Client
	nextID atomic.Uint64
	cb     *circuitbreaker.CircuitBreaker[json.RawMessage]
}

func newHTTPTransport(url, name string, cfg Config, log logger.LoggerInterface) (*httpTransport, error) {
	client, err := httpclient.New(
		httpclient.WithName(name),
		httpclient.WithTimeout(cfg.RequestTimeout),
	)
	if err != nil {
		return nil, err
	}

	cbCfg := circuitbreaker.DefaultConfig(name)
	cbCfg.ConsecutiveFailures = cfg.BreakerFailures
	cbCfg.Timeout = cfg.BreakerTimeout
	cbCfg.IsSuccessful = func(err error) bool {
		var rpcErr *rpcError
		return err == nil ||
			errors.As(err, &rpcErr) ||
			errors.Is(err, context.Canceled) ||
			errors.Is(err, context.DeadlineExceeded)
	}
	cbCfg.OnStateChange = func(name string, from, to gobreaker.State) {
		log.Warn(context.Background(), "circuit breaker state change",
			"breaker", name, "from", from.String(), "to", to.String())
	}

	return &httpTransport{
		url:    url,
		client: client,
		cb:     circuitbreaker.New[json.RawMessage](cbCfg),
	}, nil
}

func (t *httpTransport) dial(context.Context) error {
	return nil
}

func (t *httpTransport) call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	return t.cb.Execute(func() (json.RawMessage, error) {
		resp, err := t.client.PostJSON(ctx, t.url, newRequest(t.nextID.Add(1), method, params))
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, apperror.New(apperror.CodeTransportError,
				apperror.WithCause(err),
				apperror.WithContext(method))
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return nil, apperror.New(apperror.CodeRateLimitExceeded,
				apperror.WithContextf("%s: node returned %s", method, resp.Status))
		case resp.StatusCode >= 500:
			return nil, apperror.New(apperror.CodeTransportError,
				apperror.WithContextf("%s: node returned %s", method, resp.Status))
		}

		var out response
		if err := resp.Decode(&out); err != nil {
			return nil, apperror.New(apperror.CodeTransportError,
				apperror.WithCause(err),
				apperror.WithContextf("%s: malformed response (status %d)", method, resp.StatusCode))
		}
		if out.Error != nil {
			return nil, out.Error
		}
		if out.Result == nil {
			return nil, apperror.New(apperror.CodeTransportError,
				apperror.WithContextf("%s: malformed response (status %d)", method, resp.StatusCode))
		}
		return out.Result, nil
	})
}

func (t *httpTransport) close() error {
	return nil
}
