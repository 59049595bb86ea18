package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/fd1az/substrate-sidecar/business/chain/domain"
	"github.com/fd1az/substrate-sidecar/internal/apperror"
	"github.com/fd1az/substrate-sidecar/internal/logger"
)

// mockNode is a minimal JSON-RPC websocket node.
//
//	system_chain -> "Polkadot"
//	slow         -> "late" after 200ms
//	flaky        -> drops the socket on the first call, "recovered" afterwards
//	anything else -> -32601 Method not found
type mockNode struct {
	srv   *httptest.Server
	down  atomic.Bool
	dials atomic.Int32
	flaky atomic.Int32

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

func newMockNode(t *testing.T) *mockNode {
	t.Helper()
	n := &mockNode{conns: make(map[*websocket.Conn]struct{})}
	n.srv = httptest.NewServer(http.HandlerFunc(n.serve))
	t.Cleanup(func() {
		n.kill()
		n.srv.Close()
	})
	return n
}

func (n *mockNode) url() string {
	return "ws" + strings.TrimPrefix(n.srv.URL, "http")
}

func (n *mockNode) serve(w http.ResponseWriter, r *http.Request) {
	if n.down.Load() {
		http.Error(w, "node down", http.StatusServiceUnavailable)
		return
	}
	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	n.dials.Add(1)

	n.mu.Lock()
	n.conns[c] = struct{}{}
	n.mu.Unlock()
	defer func() {
		n.mu.Lock()
		delete(n.conns, c)
		n.mu.Unlock()
		c.CloseNow()
	}()

	ctx := r.Context()
	for {
		_, data, err := c.Read(ctx)
		if err != nil {
			return
		}
		var req struct {
			ID     uint64 `json:"id"`
			Method string `json:"method"`
		}
		if err := json.Unmarshal(data, &req); err != nil {
			return
		}
		go n.respond(ctx, c, req.ID, req.Method)
	}
}

func (n *mockNode) respond(ctx context.Context, c *websocket.Conn, id uint64, method string) {
	var body string
	switch method {
	case "system_chain":
		body = fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":"Polkadot"}`, id)
	case "slow":
		time.Sleep(200 * time.Millisecond)
		body = fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":"late"}`, id)
	case "flaky":
		if n.flaky.Add(1) == 1 {
			c.Close(websocket.StatusGoingAway, "restarting")
			return
		}
		body = fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":"recovered"}`, id)
	default:
		body = fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"error":{"code":-32601,"message":"Method not found"}}`, id)
	}
	_ = c.Write(ctx, websocket.MessageText, []byte(body))
}

// kill drops every socket and refuses new handshakes.
func (n *mockNode) kill() {
	n.down.Store(true)
	n.mu.Lock()
	defer n.mu.Unlock()
	for c := range n.conns {
		c.CloseNow()
	}
}

func (n *mockNode) revive() {
	n.down.Store(false)
}

func testConfig() Config {
	return Config{
		RequestTimeout:  2 * time.Second,
		InitialDelay:    10 * time.Millisecond,
		MaxDelay:        80 * time.Millisecond,
		DialTimeout:     time.Second,
		BreakerFailures: 3,
		BreakerTimeout:  time.Second,
	}
}

func newTestManager(t *testing.T, rawURL string, cfg Config) *Manager {
	t.Helper()
	ep, err := domain.NewEndpoint(domain.RolePrimary, rawURL)
	if err != nil {
		t.Fatalf("NewEndpoint: %v", err)
	}
	m, err := NewManager(ep, cfg, logger.NewNop())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func waitForState(t *testing.T, m *Manager, want domain.ConnectionState) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if m.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state = %s, want %s", m.State(), want)
}

func TestManager_CallSuccess(t *testing.T) {
	node := newMockNode(t)
	m := newTestManager(t, node.url(), testConfig())

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	var chain string
	if err := m.Call(context.Background(), &chain, "system_chain"); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if chain != "Polkadot" {
		t.Errorf("chain = %q, want Polkadot", chain)
	}

	st := m.Status()
	if st.State != domain.StateConnected {
		t.Errorf("state = %s, want connected", st.State)
	}
	if st.ConnectedAt.IsZero() {
		t.Error("ConnectedAt not set")
	}
}

func TestManager_RPCError(t *testing.T) {
	node := newMockNode(t)
	m := newTestManager(t, node.url(), testConfig())
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	err := m.Call(context.Background(), nil, "state_doesNotExist")
	if !apperror.HasCode(err, apperror.CodeRPCError) {
		t.Fatalf("err = %v, want RPC_ERROR", err)
	}
	if !strings.Contains(err.Error(), "Method not found") {
		t.Errorf("err = %v, want node message", err)
	}
	if m.State() != domain.StateConnected {
		t.Errorf("state = %s after rpc error, want connected", m.State())
	}
}

func TestManager_TimeoutKeepsConnection(t *testing.T) {
	node := newMockNode(t)
	m := newTestManager(t, node.url(), testConfig())
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := m.Call(ctx, nil, "slow")
	if !apperror.HasCode(err, apperror.CodeRPCTimeout) {
		t.Fatalf("err = %v, want RPC_TIMEOUT", err)
	}

	var chain string
	if err := m.Call(context.Background(), &chain, "system_chain"); err != nil {
		t.Fatalf("Call after timeout: %v", err)
	}
	if got := node.dials.Load(); got != 1 {
		t.Errorf("dials = %d, want 1", got)
	}
}

func TestManager_UnavailableBeforeConnect(t *testing.T) {
	node := newMockNode(t)
	m := newTestManager(t, node.url(), testConfig())

	err := m.Call(context.Background(), nil, "system_chain")
	if !apperror.HasCode(err, apperror.CodeServiceUnavailable) {
		t.Fatalf("err = %v, want SERVICE_UNAVAILABLE", err)
	}
}

func TestManager_InFlightCallSurvivesReconnect(t *testing.T) {
	node := newMockNode(t)
	m := newTestManager(t, node.url(), testConfig())
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	var got string
	if err := m.Call(context.Background(), &got, "flaky"); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if got != "recovered" {
		t.Errorf("result = %q, want recovered", got)
	}
	if n := m.Status().Reconnects; n != 1 {
		t.Errorf("reconnects = %d, want 1", n)
	}
	if n := node.dials.Load(); n != 2 {
		t.Errorf("dials = %d, want 2", n)
	}
}

func TestManager_FailedAfterMaxReconnects(t *testing.T) {
	node := newMockNode(t)
	cfg := testConfig()
	cfg.MaxReconnects = 3
	m := newTestManager(t, node.url(), cfg)
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	node.kill()
	waitForState(t, m, domain.StateFailed)

	if got := m.Status().Attempt; got != 3 {
		t.Errorf("attempt = %d, want 3", got)
	}
	if m.Status().LastError == "" {
		t.Error("LastError not recorded")
	}

	err := m.Call(context.Background(), nil, "system_chain")
	if !apperror.HasCode(err, apperror.CodeServiceUnavailable) {
		t.Fatalf("err = %v, want SERVICE_UNAVAILABLE", err)
	}
}

func TestManager_ConnectFailureRetriesInBackground(t *testing.T) {
	node := newMockNode(t)
	node.down.Store(true)
	m := newTestManager(t, node.url(), testConfig())

	err := m.Connect(context.Background())
	if !apperror.HasCode(err, apperror.CodeConnectionFailed) {
		t.Fatalf("err = %v, want CONNECTION_FAILED", err)
	}
	if st := m.State(); st != domain.StateReconnecting {
		t.Fatalf("state = %s, want reconnecting", st)
	}

	node.revive()
	waitForState(t, m, domain.StateConnected)

	var chain string
	if err := m.Call(context.Background(), &chain, "system_chain"); err != nil {
		t.Fatalf("Call: %v", err)
	}
}

func TestManager_DelayResetsAfterSuccessfulCall(t *testing.T) {
	node := newMockNode(t)
	m := newTestManager(t, node.url(), testConfig())

	var mu sync.Mutex
	var delays []time.Duration
	m.onRetry = func(_ int, d time.Duration) {
		mu.Lock()
		delays = append(delays, d)
		mu.Unlock()
	}
	recorded := func() []time.Duration {
		mu.Lock()
		defer mu.Unlock()
		return append([]time.Duration(nil), delays...)
	}
	waitForDelays := func(n int) {
		t.Helper()
		deadline := time.Now().Add(3 * time.Second)
		for len(recorded()) < n {
			if time.Now().After(deadline) {
				t.Fatalf("only %d retries recorded, want %d", len(recorded()), n)
			}
			time.Sleep(5 * time.Millisecond)
		}
	}

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	node.kill()
	waitForDelays(3)
	node.revive()
	waitForState(t, m, domain.StateConnected)

	first := recorded()
	for i := 1; i < len(first); i++ {
		if first[i] < first[i-1] {
			t.Fatalf("delays not monotonic: %v", first)
		}
	}

	if err := m.Call(context.Background(), nil, "system_chain"); err != nil {
		t.Fatalf("Call: %v", err)
	}

	n := len(first)
	node.kill()
	waitForDelays(n + 1)

	if got := recorded()[n]; got != 10*time.Millisecond {
		t.Errorf("delay after successful call = %s, want 10ms", got)
	}
}

func TestManager_CloseIsIdempotent(t *testing.T) {
	node := newMockNode(t)
	m := newTestManager(t, node.url(), testConfig())
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	err := m.Call(context.Background(), nil, "system_chain")
	if !apperror.HasCode(err, apperror.CodeServiceUnavailable) {
		t.Fatalf("err = %v, want SERVICE_UNAVAILABLE", err)
	}
}

func TestNewManager_RejectsBadDelays(t *testing.T) {
	ep, _ := domain.NewEndpoint(domain.RolePrimary, "ws://127.0.0.1:9944")
	cfg := testConfig()
	cfg.MaxDelay = time.Millisecond

	_, err := NewManager(ep, cfg, logger.NewNop())
	if !apperror.HasCode(err, apperror.CodeConfigurationError) {
		t.Fatalf("err = %v, want CONFIGURATION_ERROR", err)
	}
}
