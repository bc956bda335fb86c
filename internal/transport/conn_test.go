package transport

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/studiowebux/wsprobe/internal/socket"
	"github.com/studiowebux/wsprobe/internal/types"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// recorder collects transport events
type recorder struct {
	mu     sync.Mutex
	events []socket.Event
	ch     chan socket.Event
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan socket.Event, 64)}
}

func (r *recorder) Handle(ev socket.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	r.ch <- ev
}

func (r *recorder) next(t *testing.T) socket.Event {
	t.Helper()
	select {
	case ev := <-r.ch:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for transport event")
		return socket.Event{}
	}
}

func samplerConfig(t *testing.T, serverURL string) *types.SamplerConfig {
	t.Helper()
	u, err := url.Parse(serverURL)
	if err != nil {
		t.Fatalf("Failed to parse server URL: %v", err)
	}
	return &types.SamplerConfig{
		Server: u.Hostname(),
		Port:   u.Port(),
		Path:   "/ws",
	}
}

func echoServer(t *testing.T) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, msg); err != nil {
				return
			}
		}
	}))
}

func waitDone(t *testing.T, c *Conn) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("Connection did not finish")
	}
}

func TestConnect_EchoAndNormalClose(t *testing.T) {
	server := echoServer(t)
	defer server.Close()

	rec := newRecorder()
	conn := Connect(context.Background(), samplerConfig(t, server.URL), rec)

	ev := rec.next(t)
	if ev.Kind != socket.EventOpen {
		t.Fatalf("Expected open event, got %s (%v)", ev.Kind, ev.Err)
	}
	if ev.Session != conn {
		t.Error("Expected open event to carry the connection as session")
	}
	if conn.RemoteAddr() == "" {
		t.Error("Expected remote address once open")
	}

	if err := conn.SendText("5|hello"); err != nil {
		t.Fatalf("SendText failed: %v", err)
	}

	ev = rec.next(t)
	if ev.Kind != socket.EventMessage || ev.Text != "5|hello" {
		t.Errorf("Expected echoed message, got %s %q", ev.Kind, ev.Text)
	}

	if err := conn.Ping(); err != nil {
		t.Errorf("Ping failed: %v", err)
	}

	if err := conn.Close(socket.CloseNormal, socket.DefaultCloseReason); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := conn.Close(socket.CloseNormal, "again"); err != nil {
		t.Errorf("Second close should be a no-op, got %v", err)
	}

	ev = rec.next(t)
	if ev.Kind != socket.EventClose {
		t.Fatalf("Expected close event, got %s", ev.Kind)
	}
	if ev.Code != socket.CloseNormal {
		t.Errorf("Expected close code %d, got %d", socket.CloseNormal, ev.Code)
	}

	waitDone(t, conn)

	st := conn.Stats()
	if st.SentBytes != 7 || st.SentMessages != 1 {
		t.Errorf("Unexpected sent stats: %+v", st)
	}
	if st.ReceivedBytes != 7 || st.ReceivedMessages != 1 {
		t.Errorf("Unexpected received stats: %+v", st)
	}
}

func TestConnect_ServerCloseCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		msg := websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "boom")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_, _, _ = conn.ReadMessage()
	}))
	defer server.Close()

	rec := newRecorder()
	conn := Connect(context.Background(), samplerConfig(t, server.URL), rec)

	if ev := rec.next(t); ev.Kind != socket.EventOpen {
		t.Fatalf("Expected open event, got %s", ev.Kind)
	}

	ev := rec.next(t)
	if ev.Kind != socket.EventClose {
		t.Fatalf("Expected close event, got %s", ev.Kind)
	}
	if ev.Code != websocket.CloseInternalServerErr || ev.Reason != "boom" {
		t.Errorf("Expected [1011] boom, got [%d] %s", ev.Code, ev.Reason)
	}

	waitDone(t, conn)
}

func TestConnect_DroppedConnectionIsAbnormal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.UnderlyingConn().Close()
	}))
	defer server.Close()

	rec := newRecorder()
	conn := Connect(context.Background(), samplerConfig(t, server.URL), rec)

	if ev := rec.next(t); ev.Kind != socket.EventOpen {
		t.Fatalf("Expected open event, got %s", ev.Kind)
	}

	ev := rec.next(t)
	if ev.Kind != socket.EventClose || ev.Code != socket.CloseAbnormal {
		t.Errorf("Expected abnormal close, got %s [%d]", ev.Kind, ev.Code)
	}

	waitDone(t, conn)
}

func TestConnect_HandshakeRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer server.Close()

	rec := newRecorder()
	conn := Connect(context.Background(), samplerConfig(t, server.URL), rec)

	ev := rec.next(t)
	if ev.Kind != socket.EventDialFailed {
		t.Fatalf("Expected dial failure, got %s", ev.Kind)
	}
	if !strings.Contains(ev.Err.Error(), "HTTP 403") {
		t.Errorf("Expected HTTP status in error, got %v", ev.Err)
	}

	waitDone(t, conn)

	if err := conn.SendText("x"); err != ErrNotOpen {
		t.Errorf("Expected ErrNotOpen, got %v", err)
	}
}

func TestConnect_RetriesThenFails(t *testing.T) {
	var mu sync.Mutex
	attempts := 0

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		mu.Unlock()
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	cfg := samplerConfig(t, server.URL)
	cfg.ConnectRetries = 2

	rec := newRecorder()
	conn := Connect(context.Background(), cfg, rec, WithRetryInterval(time.Millisecond, 5*time.Millisecond))

	if ev := rec.next(t); ev.Kind != socket.EventDialFailed {
		t.Fatalf("Expected dial failure, got %s", ev.Kind)
	}
	waitDone(t, conn)

	mu.Lock()
	defer mu.Unlock()
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestConnect_RetrySucceeds(t *testing.T) {
	var mu sync.Mutex
	attempts := 0

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()

		if n == 1 {
			http.Error(w, "warming up", http.StatusServiceUnavailable)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_, _, _ = conn.ReadMessage()
	}))
	defer server.Close()

	cfg := samplerConfig(t, server.URL)
	cfg.ConnectRetries = 3

	rec := newRecorder()
	conn := Connect(context.Background(), cfg, rec, WithRetryInterval(time.Millisecond, 5*time.Millisecond))

	if ev := rec.next(t); ev.Kind != socket.EventOpen {
		t.Fatalf("Expected open after retry, got %s (%v)", ev.Kind, ev.Err)
	}

	conn.Abort()
	if ev := rec.next(t); ev.Kind != socket.EventClose {
		t.Errorf("Expected close after abort, got %s", ev.Kind)
	}
	waitDone(t, conn)
}

func TestConnect_AbortPendingDial(t *testing.T) {
	// A listener that accepts but never answers the handshake
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	defer ln.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		buf := make([]byte, 1024)
		for {
			if _, err := c.Read(buf); err != nil {
				return
			}
		}
	}()

	cfg := samplerConfig(t, "http://"+ln.Addr().String())
	cfg.ConnectTimeoutMs = "300"
	rec := newRecorder()
	conn := Connect(context.Background(), cfg, rec)

	time.Sleep(50 * time.Millisecond)
	conn.Abort()

	if ev := rec.next(t); ev.Kind != socket.EventDialFailed {
		t.Fatalf("Expected dial failure after abort, got %s", ev.Kind)
	}
	waitDone(t, conn)

	ln.Close()
	wg.Wait()
}

func TestConnect_DrivesController(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte("ack:"+string(msg)))
		_ = conn.WriteMessage(websocket.TextMessage, []byte("3|bye"))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	cfg := samplerConfig(t, server.URL)
	cfg.ResponsePattern = "never"
	cfg.CloseConnectionPattern = "bye"
	cfg.MessageBacklog = "5"

	ctrl := socket.NewController(cfg)
	conn := Connect(context.Background(), cfg, ctrl)

	if !ctrl.AwaitOpen(5 * time.Second) {
		t.Fatalf("Connection did not open:%s", ctrl.LogMessage())
	}
	if err := ctrl.SendMessage("ping"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if !ctrl.AwaitClose(5 * time.Second) {
		t.Fatalf("Close gate did not release:%s", ctrl.LogMessage())
	}

	if got := ctrl.ResponseMessage(); got != "ack:4|pingbye" {
		t.Errorf("Unexpected response %q", got)
	}
	if !ctrl.IsExpressionMatched() {
		t.Error("Expected disconnect pattern to count as matched")
	}
	if ctrl.ErrorCode() != 0 {
		t.Errorf("Expected no error code, got %d", ctrl.ErrorCode())
	}

	waitDone(t, conn)
}

func TestConnect_CloseAfterServerNormalClose(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte("2|ok"))
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	cfg := samplerConfig(t, server.URL)
	cfg.ResponsePattern = "never"

	ctrl := socket.NewController(cfg)
	conn := Connect(context.Background(), cfg, ctrl)

	if !ctrl.AwaitOpen(5 * time.Second) {
		t.Fatalf("Connection did not open:%s", ctrl.LogMessage())
	}
	if err := ctrl.SendMessage("hi"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if !ctrl.AwaitClose(5 * time.Second) {
		t.Fatalf("Close gate did not release:%s", ctrl.LogMessage())
	}

	for _, e := range ctrl.Trace() {
		if e.Category == socket.CategoryWarning {
			t.Errorf("Unexpected warning after a normal server close: %s", e.Detail)
		}
	}
	if ctrl.ErrorCode() != 0 {
		t.Errorf("Expected no error code, got %d", ctrl.ErrorCode())
	}

	waitDone(t, conn)
	if err := conn.Close(websocket.CloseNormalClosure, "again"); err != nil {
		t.Errorf("Close on a finished connection returned %v", err)
	}
}
