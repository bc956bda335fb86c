package mock

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/studiowebux/wsprobe/internal/socket"
)

const (
	// maxLogs bounds the message log
	maxLogs   = 1000
	writeWait = 5 * time.Second
)

// Server is a scripted WebSocket server
type Server struct {
	config     *Config
	httpServer *http.Server
	listener   net.Listener
	upgrader   websocket.Upgrader
	logger     zerolog.Logger
	logs       []MessageLog
	logsMutex  sync.RWMutex
	workdir    string
	notifyCh   chan struct{} // notified when a new log arrives
	connsMu    sync.Mutex
	conns      map[*websocket.Conn]struct{}
	done       chan struct{}
	stopOnce   sync.Once
}

// Option configures a Server
type Option func(*Server)

// WithLogger sets the server logger
func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// NewServer creates a new mock server
func NewServer(config *Config, workdir string, opts ...Option) (*Server, error) {
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if config.Port == 0 {
		config.Port = 8080
	}
	if config.Host == "" {
		config.Host = "localhost"
	}

	s := &Server{
		config: config,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger:   zerolog.Nop(),
		logs:     make([]MessageLog, 0),
		workdir:  workdir,
		notifyCh: make(chan struct{}, 100),
		conns:    make(map[*websocket.Conn]struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Handler returns the HTTP handler that upgrades connections
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.handleUpgrade)
}

// Start listens on the configured address and serves in the background
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("mock server error")
		}
	}()

	s.logger.Info().Str("address", s.GetAddress()).Int("rules", len(s.config.Rules)).Msg("mock server listening")
	return nil
}

// Stop closes every client connection with 1001 and shuts the server down
func (s *Server) Stop() error {
	s.stopOnce.Do(func() { close(s.done) })

	s.connsMu.Lock()
	for conn := range s.conns {
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "mock server stopping")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		conn.Close()
	}
	s.connsMu.Unlock()

	if s.httpServer == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if s.config.Path != "" && r.URL.Path != s.config.Path {
		http.Error(w, fmt.Sprintf("Mock server: no endpoint at %s", r.URL.Path), http.StatusNotFound)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug().Err(err).Msg("upgrade failed")
		return
	}

	if !s.track(conn) {
		conn.Close()
		return
	}
	defer s.untrack(conn)

	s.logger.Debug().Str("remote", r.RemoteAddr).Msg("client connected")

	if s.config.Greeting != "" {
		if err := s.send(conn, s.config.Greeting); err != nil {
			return
		}
	}

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			s.logger.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("client disconnected")
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		if closed := s.handleMessage(conn, r.RemoteAddr, string(data)); closed {
			return
		}
	}
}

// handleMessage answers one inbound message and reports whether the
// connection was closed
func (s *Server) handleMessage(conn *websocket.Conn, remote, raw string) bool {
	start := time.Now()
	message := socket.Unframe(raw)

	rule := s.findMatchingRule(message)

	var replies []string
	matchedRule := "none"
	closeCode := 0

	switch {
	case rule != nil:
		if rule.Delay > 0 {
			select {
			case <-time.After(time.Duration(rule.Delay) * time.Millisecond):
			case <-s.done:
				return true
			}
		}

		replies = s.repliesFor(rule)
		closeCode = rule.CloseCode

		matchedRule = rule.Name
		if matchedRule == "" {
			matchedRule = rule.Match
		}
	case s.config.Echo:
		replies = []string{message}
		matchedRule = "echo"
	}

	sent := 0
	for _, reply := range replies {
		if err := s.send(conn, reply); err != nil {
			break
		}
		sent++
	}

	if closeCode != 0 {
		msg := websocket.FormatCloseMessage(closeCode, rule.CloseReason)
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	}

	if s.config.Logging {
		s.logMessage(MessageLog{
			Timestamp:   start,
			RemoteAddr:  remote,
			Message:     message,
			MatchedRule: matchedRule,
			Replies:     sent,
			CloseCode:   closeCode,
			Duration:    time.Since(start),
		})
	}

	return closeCode != 0
}

func (s *Server) repliesFor(rule *Rule) []string {
	if rule.ReplyFile == "" {
		return rule.Replies
	}

	path := rule.ReplyFile
	if !filepath.IsAbs(path) {
		path = filepath.Join(s.workdir, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		s.logger.Error().Err(err).Str("file", rule.ReplyFile).Msg("failed to read reply file")
		return []string{fmt.Sprintf("Mock server: Failed to read reply file %s: %v", rule.ReplyFile, err)}
	}
	return append(append([]string(nil), rule.Replies...), string(data))
}

func (s *Server) send(conn *websocket.Conn, text string) error {
	if !s.config.Unframed {
		text = socket.Frame(text)
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, []byte(text))
}

// findMatchingRule finds the first rule that matches the message
func (s *Server) findMatchingRule(message string) *Rule {
	for i := range s.config.Rules {
		rule := &s.config.Rules[i]

		matched := false
		switch rule.MatchType {
		case "", "exact":
			matched = rule.Match == message
		case "prefix":
			matched = strings.HasPrefix(message, rule.Match)
		case "regex":
			if rule.re != nil {
				matched, _ = rule.re.MatchString(message)
			}
		}

		if matched {
			return rule
		}
	}

	return nil
}

func (s *Server) track(conn *websocket.Conn) bool {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	select {
	case <-s.done:
		return false
	default:
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn *websocket.Conn) {
	s.connsMu.Lock()
	delete(s.conns, conn)
	s.connsMu.Unlock()
	conn.Close()
}

// logMessage adds a message to the log
func (s *Server) logMessage(entry MessageLog) {
	s.logsMutex.Lock()
	defer s.logsMutex.Unlock()

	s.logs = append(s.logs, entry)
	if len(s.logs) > maxLogs {
		s.logs = s.logs[len(s.logs)-maxLogs:]
	}

	select {
	case s.notifyCh <- struct{}{}:
	default:
	}
}

// NotifyChannel returns the notification channel
func (s *Server) NotifyChannel() <-chan struct{} {
	return s.notifyCh
}

// GetLogs returns a copy of the logged messages
func (s *Server) GetLogs() []MessageLog {
	s.logsMutex.RLock()
	defer s.logsMutex.RUnlock()

	logs := make([]MessageLog, len(s.logs))
	copy(logs, s.logs)
	return logs
}

// DrainLogs returns the logged messages and clears the log
func (s *Server) DrainLogs() []MessageLog {
	s.logsMutex.Lock()
	defer s.logsMutex.Unlock()

	logs := s.logs
	s.logs = make([]MessageLog, 0)
	return logs
}

// ClearLogs clears all logged messages
func (s *Server) ClearLogs() {
	s.logsMutex.Lock()
	defer s.logsMutex.Unlock()

	s.logs = make([]MessageLog, 0)
}

// GetAddress returns the WebSocket URL clients connect to
func (s *Server) GetAddress() string {
	host := net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
	if s.listener != nil {
		host = s.listener.Addr().String()
	}
	path := s.config.Path
	if path == "" {
		path = "/"
	}
	return "ws://" + host + path
}
