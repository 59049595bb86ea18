package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/fd1az/substrate-sidecar/internal/wsconn"
)

// errConnectionDropped marks failures the manager recovers from by reconnecting.
var errConnectionDropped = errors.New("rpc: connection dropped")

// transport moves JSON-RPC requests to a node.
type transport interface {
	dial(ctx context.Context) error
	call(ctx context.Context, method string, params []any) (json.RawMessage, error)
	close() error
}

// wsTransport multiplexes concurrent requests over one socket by request id.
type wsTransport struct {
	conn   *wsconn.Client
	nextID atomic.Uint64
	live   atomic.Bool
	onDrop func(error)

	mu      sync.Mutex
	pending map[uint64]chan response
}

func newWSTransport(url, name string, cfg Config, onDrop func(error)) (*wsTransport, error) {
	wsCfg := wsconn.DefaultConfig(url, name)
	wsCfg.PingInterval = cfg.PingInterval
	if cfg.DialTimeout > 0 {
		wsCfg.ReadTimeout = cfg.DialTimeout
	}

	conn, err := wsconn.New(wsCfg)
	if err != nil {
		return nil, err
	}

	t := &wsTransport{
		conn:    conn,
		onDrop:  onDrop,
		pending: make(map[uint64]chan response),
	}
	conn.OnMessage(t.handleMessage)
	conn.OnStateChange(t.handleState)
	return t, nil
}

func (t *wsTransport) dial(ctx context.Context) error {
	return t.conn.Connect(ctx)
}

func (t *wsTransport) call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	id := t.nextID.Add(1)
	ch := make(chan response, 1)

	t.mu.Lock()
	t.pending[id] = ch
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
	}()

	// A cancelled write makes coder/websocket tear the socket down, so the
	// caller's deadline only bounds the wait for the reply.
	if err := t.conn.SendJSON(context.WithoutCancel(ctx), newRequest(id, method, params)); err != nil {
		if errors.Is(err, wsconn.ErrClosed) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: send %s: %v", errConnectionDropped, method, err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("%w: awaiting %s", errConnectionDropped, method)
		}
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *wsTransport) close() error {
	return t.conn.Close()
}

func (t *wsTransport) handleMessage(_ context.Context, msg []byte) {
	var resp response
	if err := json.Unmarshal(msg, &resp); err != nil || resp.ID == nil {
		// Notifications and unparsable frames have no waiting caller.
		return
	}

	t.mu.Lock()
	ch, ok := t.pending[*resp.ID]
	if ok {
		delete(t.pending, *resp.ID)
	}
	t.mu.Unlock()

	if ok {
		ch <- resp
	}
}

func (t *wsTransport) handleState(state wsconn.State, err error) {
	switch state {
	case wsconn.StateConnected:
		t.live.Store(true)
	case wsconn.StateDisconnected:
		if !t.live.Swap(false) {
			return // failed dial, not a drop
		}
		t.failPending()
		if t.onDrop != nil {
			if err == nil {
				err = errConnectionDropped
			}
			t.onDrop(err)
		}
	case wsconn.StateClosed:
		t.live.Store(false)
		t.failPending()
	}
}

// failPending wakes every waiting caller with errConnectionDropped.
func (t *wsTransport) failPending() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, ch := range t.pending {
		close(ch)
		delete(t.pending, id)
	}
}
