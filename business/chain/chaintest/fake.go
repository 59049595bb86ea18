// Package chaintest provides an in-memory Caller for tests of code that talks to nodes.
package chaintest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/fd1az/substrate-sidecar/business/chain/domain"
	"github.com/fd1az/substrate-sidecar/internal/apperror"
)

// Handler answers one JSON-RPC method. The returned value is JSON encoded and
// decoded into the caller's result, as a real node response would be.
type Handler func(params []any) (any, error)

// Caller is a scripted app.Caller.
type Caller struct {
	endpoint domain.Endpoint

	mu       sync.Mutex
	state    domain.ConnectionState
	handlers map[string]Handler
	calls    map[string]int
}

// NewCaller returns a connected fake for role.
func NewCaller(role domain.Role) *Caller {
	return &Caller{
		endpoint: domain.Endpoint{Role: role, URL: "ws://" + string(role) + ".test", Protocol: domain.ProtocolWS},
		state:    domain.StateConnected,
		handlers: make(map[string]Handler),
		calls:    make(map[string]int),
	}
}

// Handle registers h for method, replacing any previous handler.
func (c *Caller) Handle(method string, h Handler) *Caller {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[method] = h
	return c
}

// Returns answers method with a fixed value.
func (c *Caller) Returns(method string, v any) *Caller {
	return c.Handle(method, func([]any) (any, error) { return v, nil })
}

// SetState changes the reported connection state.
func (c *Caller) SetState(s domain.ConnectionState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Calls returns how many times method was invoked.
func (c *Caller) Calls(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[method]
}

// Call dispatches to the registered handler.
func (c *Caller) Call(ctx context.Context, result any, method string, params ...any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	c.calls[method]++
	h, ok := c.handlers[method]
	state := c.state
	c.mu.Unlock()

	if state != domain.StateConnected {
		return apperror.New(apperror.CodeServiceUnavailable,
			apperror.WithContextf("%s on %s: connection %s", method, c.endpoint.Role, state))
	}
	if !ok {
		return apperror.New(apperror.CodeRPCError,
			apperror.WithMessage("Method not found"),
			apperror.WithContext(method))
	}

	v, err := h(params)
	if err != nil {
		return err
	}
	if result == nil {
		return nil
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("chaintest: encode %s result: %w", method, err)
	}
	if err := json.Unmarshal(raw, result); err != nil {
		return fmt.Errorf("chaintest: decode %s result: %w", method, err)
	}
	return nil
}

// Endpoint returns the fake endpoint.
func (c *Caller) Endpoint() domain.Endpoint {
	return c.endpoint
}

// State returns the scripted connection state.
func (c *Caller) State() domain.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}
