package signaling

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/webrtc-peer-signaling/internal/metrics"
)

func TestRelayWebSocket_IdleTimeoutClosesWithoutPong(t *testing.T) {
	idleTimeout := 500 * time.Millisecond
	pingInterval := 50 * time.Millisecond

	_, base := startRelay(t, RelayConfig{IdleTimeout: idleTimeout, PingInterval: pingInterval})
	c := dialRoom(t, base, "idle")

	pingSeen := make(chan struct{}, 1)
	c.SetPingHandler(func(string) error {
		select {
		case pingSeen <- struct{}{}:
		default:
		}
		// Intentionally do not respond with pong.
		return nil
	})

	errCh := make(chan error, 1)
	go func() {
		_, _, err := c.ReadMessage()
		errCh <- err
	}()

	select {
	case <-pingSeen:
	case err := <-errCh:
		t.Fatalf("connection closed before receiving ping: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for server ping")
	}

	select {
	case err := <-errCh:
		if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
			t.Fatalf("expected close normal closure, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for server to close idle websocket")
	}
}

func TestRelayWebSocket_PongKeepsConnectionOpenBeyondIdleTimeout(t *testing.T) {
	idleTimeout := 500 * time.Millisecond
	pingInterval := 50 * time.Millisecond

	_, base := startRelay(t, RelayConfig{IdleTimeout: idleTimeout, PingInterval: pingInterval})
	c := dialRoom(t, base, "alive")

	pingSeen := make(chan struct{}, 1)
	c.SetPingHandler(func(appData string) error {
		select {
		case pingSeen <- struct{}{}:
		default:
		}
		return c.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(1*time.Second))
	})

	errCh := make(chan error, 1)
	go func() {
		_, _, err := c.ReadMessage()
		errCh <- err
	}()

	select {
	case <-pingSeen:
	case err := <-errCh:
		t.Fatalf("connection closed before receiving ping: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for server ping")
	}

	time.Sleep(idleTimeout + 2*pingInterval)

	select {
	case err := <-errCh:
		t.Fatalf("unexpected close before idle timeout elapsed: %v", err)
	default:
	}

	_ = c.Close()
	select {
	case <-errCh:
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for read goroutine to exit")
	}
}

func TestWSChannel_SendAfterCloseFails(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	m := metrics.New()
	ch := NewWSChannel(conn, WSConfig{Logger: discardLogger(), Metrics: m})

	if err := ch.Send(Message{Type: MessageTypeClose}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := ch.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := ch.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	select {
	case <-ch.Done():
	default:
		t.Fatalf("writer still running after Close")
	}
	if err := ch.SendRaw([]byte(`{"type":"close"}`)); !errors.Is(err, ErrChannelClosed) {
		t.Fatalf("err=%v, want ErrChannelClosed", err)
	}
	if got := m.Get(metrics.SignalingSendErrors); got != 1 {
		t.Fatalf("%s=%d, want 1", metrics.SignalingSendErrors, got)
	}
}

func TestOutboundQueue_DrainsAfterClose(t *testing.T) {
	q := newOutboundQueue(2)
	if !q.Enqueue([]byte("a")) || !q.Enqueue([]byte("b")) {
		t.Fatalf("enqueue failed below capacity")
	}
	if q.Enqueue([]byte("c")) {
		t.Fatalf("enqueue succeeded above capacity")
	}
	q.Close()
	if q.Enqueue([]byte("d")) {
		t.Fatalf("enqueue succeeded after close")
	}
	for _, want := range []string{"a", "b"} {
		got, ok := q.Dequeue()
		if !ok || string(got) != want {
			t.Fatalf("Dequeue=%q,%v, want %q", got, ok, want)
		}
	}
	if _, ok := q.Dequeue(); ok {
		t.Fatalf("Dequeue after drain reported a frame")
	}
	if got := q.DropCount(); got != 2 {
		t.Fatalf("DropCount=%d, want 2", got)
	}
}

func TestRedactURL(t *testing.T) {
	if got := redactURL("ws://relay/signal?room=a&token=secret"); got != "ws://relay/signal" {
		t.Fatalf("redactURL=%q", got)
	}
}
