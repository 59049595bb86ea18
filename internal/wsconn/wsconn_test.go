package wsconn

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
)

// mockWSServer creates a test WebSocket server running handler per connection.
func mockWSServer(t *testing.T, handler func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Logf("websocket accept error: %v", err)
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")

		if handler != nil {
			handler(conn)
		}
	}))
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

// echoHandler echoes messages back to the client.
func echoHandler(conn *websocket.Conn) {
	ctx := context.Background()
	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		if err := conn.Write(ctx, msgType, data); err != nil {
			return
		}
	}
}

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	cfg := DefaultConfig(url, "test")
	cfg.PingInterval = 0
	client, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	return client
}

func TestNew_RejectsHTTPScheme(t *testing.T) {
	if _, err := New(DefaultConfig("http://localhost:9944", "test")); err == nil {
		t.Fatal("expected error for http scheme")
	}
}

func TestClient_Connect_Success(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		time.Sleep(100 * time.Millisecond)
	})
	defer server.Close()

	client := newTestClient(t, wsURL(server))
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if !client.IsConnected() {
		t.Errorf("expected connected, got %v", client.State())
	}
}

func TestClient_Connect_Failure(t *testing.T) {
	client := newTestClient(t, "ws://127.0.0.1:1")
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Connect(ctx); err == nil {
		t.Fatal("expected Connect to fail")
	}
	if client.State() != StateDisconnected {
		t.Errorf("expected state %v, got %v", StateDisconnected, client.State())
	}
	if err := client.Send(ctx, []byte("{}")); err != ErrNotConnected {
		t.Errorf("Send on disconnected client = %v, want ErrNotConnected", err)
	}
}

func TestClient_SendJSONAndReceive(t *testing.T) {
	server := mockWSServer(t, echoHandler)
	defer server.Close()

	client := newTestClient(t, wsURL(server))
	defer client.Close()

	got := make(chan []byte, 1)
	client.OnMessage(func(ctx context.Context, msg []byte) {
		got <- msg
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	req := map[string]any{"jsonrpc": "2.0", "id": 1, "method": "chain_getFinalizedHead", "params": []any{}}
	if err := client.SendJSON(ctx, req); err != nil {
		t.Fatalf("SendJSON failed: %v", err)
	}

	select {
	case msg := <-got:
		var parsed map[string]any
		if err := json.Unmarshal(msg, &parsed); err != nil {
			t.Fatalf("echo is not JSON: %v", err)
		}
		if parsed["method"] != "chain_getFinalizedHead" {
			t.Errorf("method = %v", parsed["method"])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for echo")
	}
}

func TestClient_StateChangeHandler(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		time.Sleep(100 * time.Millisecond)
	})
	defer server.Close()

	client := newTestClient(t, wsURL(server))
	defer client.Close()

	var states []State
	var statesMu sync.Mutex
	dropped := make(chan error, 1)

	client.OnStateChange(func(state State, err error) {
		statesMu.Lock()
		states = append(states, state)
		statesMu.Unlock()
		if state == StateDisconnected {
			dropped <- err
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	// The server hangs up after 100ms.
	select {
	case err := <-dropped:
		if err == nil {
			t.Error("expected a cause for the disconnect")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for disconnect")
	}

	statesMu.Lock()
	defer statesMu.Unlock()
	want := []State{StateConnecting, StateConnected, StateDisconnected}
	if len(states) != len(want) {
		t.Fatalf("states = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Errorf("states[%d] = %v, want %v", i, states[i], want[i])
		}
	}
}

func TestClient_ReconnectAfterDrop(t *testing.T) {
	var conns atomic.Int32
	server := mockWSServer(t, func(conn *websocket.Conn) {
		if conns.Add(1) == 1 {
			return // first connection is dropped immediately
		}
		echoHandler(conn)
	})
	defer server.Close()

	client := newTestClient(t, wsURL(server))
	defer client.Close()

	dropped := make(chan struct{}, 1)
	client.OnStateChange(func(state State, err error) {
		if state == StateDisconnected && err != nil {
			select {
			case dropped <- struct{}{}:
			default:
			}
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	select {
	case <-dropped:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for drop")
	}

	if client.IsConnected() {
		t.Fatal("still connected after drop")
	}
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("redial failed: %v", err)
	}
	if !client.IsConnected() {
		t.Fatalf("state = %v after reconnect", client.State())
	}
	if err := client.Send(ctx, []byte(`{"id":2}`)); err != nil {
		t.Errorf("Send after reconnect: %v", err)
	}
}

func TestClient_GracefulClose(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		ctx := context.Background()
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	})
	defer server.Close()

	client := newTestClient(t, wsURL(server))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if client.State() != StateClosed {
		t.Errorf("expected state %v, got %v", StateClosed, client.State())
	}
	if err := client.Close(); err != nil {
		t.Errorf("second Close should not error: %v", err)
	}
	if err := client.Connect(ctx); err != ErrClosed {
		t.Errorf("Connect after Close = %v, want ErrClosed", err)
	}
}

func TestClient_ConcurrentSend(t *testing.T) {
	var msgCount atomic.Int32

	server := mockWSServer(t, func(conn *websocket.Conn) {
		ctx := context.Background()
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
			msgCount.Add(1)
		}
	})
	defer server.Close()

	client := newTestClient(t, wsURL(server))
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	const workers = 10
	const perWorker = 5
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				if err := client.SendJSON(ctx, map[string]int{"id": id*perWorker + j}); err != nil {
					t.Errorf("SendJSON failed: %v", err)
					return
				}
			}
		}(i)
	}
	wg.Wait()

	deadline := time.Now().Add(2 * time.Second)
	for msgCount.Load() < workers*perWorker && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := msgCount.Load(); got != workers*perWorker {
		t.Errorf("server received %d messages, want %d", got, workers*perWorker)
	}
}

func TestClient_MaxMessageSize(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		ctx := context.Background()
		conn.Write(ctx, websocket.MessageText, make([]byte, 1024))
		time.Sleep(200 * time.Millisecond)
	})
	defer server.Close()

	cfg := DefaultConfig(wsURL(server), "test")
	cfg.PingInterval = 0
	cfg.MaxMessageSize = 100

	client, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	if client.State() == StateConnected {
		t.Error("expected client to disconnect after an oversized message")
	}
}
