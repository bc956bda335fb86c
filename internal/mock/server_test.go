package mock

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func startMock(t *testing.T, config *Config, workdir string) (*Server, string) {
	t.Helper()
	s, err := NewServer(config, workdir)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.Stop()
		ts.Close()
	})
	return s, "ws" + strings.TrimPrefix(ts.URL, "http") + config.Path
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	return string(msg)
}

func TestServer_RulesAndFraming(t *testing.T) {
	config := &Config{
		Greeting: "welcome",
		Logging:  true,
		Rules: []Rule{
			{Name: "login", Match: "login", Replies: []string{"ok", "ready"}},
			{Match: "sub:", MatchType: "prefix", Replies: []string{"subscribed"}},
			{Match: `^ping\d+$`, MatchType: "regex", Replies: []string{"pong"}},
		},
	}
	s, url := startMock(t, config, "")
	conn := dial(t, url)

	if got := read(t, conn); got != "7|welcome" {
		t.Errorf("Expected framed greeting, got %q", got)
	}

	// Framed and unframed requests are matched on the payload
	conn.WriteMessage(websocket.TextMessage, []byte("5|login"))
	if got := read(t, conn); got != "2|ok" {
		t.Errorf("Expected first reply, got %q", got)
	}
	if got := read(t, conn); got != "5|ready" {
		t.Errorf("Expected second reply, got %q", got)
	}

	conn.WriteMessage(websocket.TextMessage, []byte("sub:prices"))
	if got := read(t, conn); got != "10|subscribed" {
		t.Errorf("Expected prefix rule reply, got %q", got)
	}

	conn.WriteMessage(websocket.TextMessage, []byte("ping42"))
	if got := read(t, conn); got != "4|pong" {
		t.Errorf("Expected regex rule reply, got %q", got)
	}

	conn.WriteMessage(websocket.TextMessage, []byte("unknown"))
	conn.WriteMessage(websocket.TextMessage, []byte("ping1"))
	if got := read(t, conn); got != "4|pong" {
		t.Errorf("Expected unmatched message to get no reply, got %q", got)
	}

	logs := s.GetLogs()
	if len(logs) != 5 {
		t.Fatalf("Expected 5 logged messages, got %d", len(logs))
	}
	if logs[0].MatchedRule != "login" || logs[0].Replies != 2 || logs[0].Message != "login" {
		t.Errorf("Unexpected first log %+v", logs[0])
	}
	if logs[1].MatchedRule != "sub:" {
		t.Errorf("Expected match text as rule name, got %q", logs[1].MatchedRule)
	}
	if logs[3].MatchedRule != "none" {
		t.Errorf("Expected unmatched log, got %+v", logs[3])
	}

	s.ClearLogs()
	if len(s.GetLogs()) != 0 {
		t.Error("Expected ClearLogs to empty the log")
	}
}

func TestServer_CloseCode(t *testing.T) {
	config := &Config{
		Rules: []Rule{
			{Match: "quit", Replies: []string{"bye"}, CloseCode: 4001, CloseReason: "done"},
		},
	}
	_, url := startMock(t, config, "")
	conn := dial(t, url)

	conn.WriteMessage(websocket.TextMessage, []byte("quit"))
	if got := read(t, conn); got != "3|bye" {
		t.Errorf("Expected reply before close, got %q", got)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, 4001) {
		t.Fatalf("Expected close 4001, got %v", err)
	}
	if ce := err.(*websocket.CloseError); ce.Text != "done" {
		t.Errorf("Expected close reason 'done', got %q", ce.Text)
	}
}

func TestServer_EchoUnframedAndDelay(t *testing.T) {
	config := &Config{
		Echo:     true,
		Unframed: true,
		Rules: []Rule{
			{Match: "slow", Replies: []string{"finally"}, Delay: 100},
		},
	}
	_, url := startMock(t, config, "")
	conn := dial(t, url)

	conn.WriteMessage(websocket.TextMessage, []byte("3|abc"))
	if got := read(t, conn); got != "abc" {
		t.Errorf("Expected unframed echo, got %q", got)
	}

	start := time.Now()
	conn.WriteMessage(websocket.TextMessage, []byte("slow"))
	if got := read(t, conn); got != "finally" {
		t.Errorf("Expected delayed reply, got %q", got)
	}
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Errorf("Expected reply after the delay, took %v", elapsed)
	}
}

func TestServer_ReplyFileAndPath(t *testing.T) {
	workdir := t.TempDir()
	if err := os.WriteFile(filepath.Join(workdir, "quote.json"), []byte(`{"price":42}`), 0644); err != nil {
		t.Fatalf("Failed to write reply file: %v", err)
	}

	config := &Config{
		Path:  "/feed",
		Rules: []Rule{{Match: "quote", ReplyFile: "quote.json"}},
	}
	_, url := startMock(t, config, workdir)

	conn := dial(t, url)
	conn.WriteMessage(websocket.TextMessage, []byte("quote"))
	if got := read(t, conn); got != `12|{"price":42}` {
		t.Errorf("Expected reply file content, got %q", got)
	}

	wrong := strings.TrimSuffix(url, "/feed") + "/other"
	_, resp, err := websocket.DefaultDialer.Dial(wrong, nil)
	if err == nil {
		t.Fatal("Expected dial to an unknown path to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404, got %v", resp)
	}
}

func TestServer_StopClosesClients(t *testing.T) {
	config := &Config{Echo: true}
	s, url := startMock(t, config, "")
	conn := dial(t, url)

	// Make sure the connection is tracked before stopping
	conn.WriteMessage(websocket.TextMessage, []byte("hi"))
	read(t, conn)

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("Expected going away close, got %v", err)
	}
}

func TestServer_StartAndAddress(t *testing.T) {
	config := &Config{Host: "127.0.0.1", Port: 0, Echo: true, Path: "/ws"}
	s, err := NewServer(config, "")
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	if config.Port != 8080 {
		t.Errorf("Expected default port 8080, got %d", config.Port)
	}
	if got := s.GetAddress(); got != "ws://127.0.0.1:8080/ws" {
		t.Errorf("Unexpected address %s", got)
	}
}

func TestNewServer_InvalidRules(t *testing.T) {
	tests := []struct {
		name   string
		config *Config
	}{
		{"empty", &Config{}},
		{"bad match type", &Config{Rules: []Rule{{Match: "x", MatchType: "glob"}}}},
		{"bad regex", &Config{Rules: []Rule{{Match: "(", MatchType: "regex"}}}},
		{"bad close code", &Config{Rules: []Rule{{Match: "x", CloseCode: 42}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewServer(tt.config, ""); err == nil {
				t.Error("Expected config to be rejected")
			}
		})
	}
}

func TestServer_DrainLogs(t *testing.T) {
	config := &Config{Echo: true, Logging: true}
	s, url := startMock(t, config, "")
	conn := dial(t, url)

	conn.WriteMessage(websocket.TextMessage, []byte("a"))
	read(t, conn)

	select {
	case <-s.NotifyChannel():
	case <-time.After(2 * time.Second):
		t.Fatal("Expected a log notification")
	}

	logs := s.DrainLogs()
	if len(logs) != 1 || logs[0].MatchedRule != "echo" {
		t.Fatalf("Unexpected drained logs %+v", logs)
	}
	if len(s.GetLogs()) != 0 {
		t.Error("Expected DrainLogs to empty the log")
	}
}
