package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
	"github.com/jpillora/sizestr"
	"github.com/rs/zerolog"
	"github.com/studiowebux/wsprobe/internal/socket"
	"github.com/studiowebux/wsprobe/internal/types"
)

const (
	// MaxMessageSize caps a single inbound message
	MaxMessageSize = 256 * 1024 * 1024

	writeWait  = 10 * time.Second
	closeGrace = 5 * time.Second
)

// ErrNotOpen is returned by session calls made before the handshake completed
var ErrNotOpen = errors.New("websocket connection not open")

// Stats counts traffic on one connection
type Stats struct {
	SentBytes        int64 `json:"sentBytes"`
	ReceivedBytes    int64 `json:"receivedBytes"`
	SentMessages     int64 `json:"sentMessages"`
	ReceivedMessages int64 `json:"receivedMessages"`
}

// Option configures a Conn
type Option func(*Conn)

// WithLogger sets the connection logger
func WithLogger(l zerolog.Logger) Option {
	return func(c *Conn) { c.logger = l }
}

// WithRetryInterval bounds the delay between dial attempts
func WithRetryInterval(minDelay, maxDelay time.Duration) Option {
	return func(c *Conn) {
		c.retryMin = minDelay
		c.retryMax = maxDelay
	}
}

// Conn is a gorilla/websocket client connection that reports its lifecycle
// as socket events. It implements socket.Session once open.
type Conn struct {
	cfg     *types.SamplerConfig
	handler socket.EventHandler
	logger  zerolog.Logger

	retryMin time.Duration
	retryMax time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu sync.Mutex
	ws *websocket.Conn

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}

	// Set once the read loop has seen the end of the connection
	finished atomic.Bool

	sentBytes     atomic.Int64
	receivedBytes atomic.Int64
	sentMsgs      atomic.Int64
	receivedMsgs  atomic.Int64
}

// Connect starts dialing cfg's URL in the background and returns at once.
// h receives EventOpen or EventDialFailed, then messages and exactly one
// EventClose. ctx bounds the dial and its retries.
func Connect(ctx context.Context, cfg *types.SamplerConfig, h socket.EventHandler, opts ...Option) *Conn {
	c := &Conn{
		cfg:      cfg,
		handler:  h,
		logger:   zerolog.Nop(),
		retryMin: 100 * time.Millisecond,
		retryMax: 5 * time.Second,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With().Str("url", cfg.URL()).Logger()
	c.ctx, c.cancel = context.WithCancel(ctx)

	go c.run()
	return c
}

func (c *Conn) run() {
	defer close(c.done)
	defer c.cancel()

	ws, err := c.dial()
	if err != nil {
		c.handler.Handle(socket.DialFailedEvent(err))
		return
	}

	c.mu.Lock()
	if c.ctx.Err() != nil {
		c.mu.Unlock()
		ws.Close()
		c.handler.Handle(socket.DialFailedEvent(fmt.Errorf("connection aborted: %w", c.ctx.Err())))
		return
	}
	c.ws = ws
	c.mu.Unlock()

	ws.SetReadLimit(MaxMessageSize)
	c.handler.Handle(socket.OpenEvent(c))

	c.readLoop(ws)
	ws.Close()

	st := c.Stats()
	c.logger.Debug().
		Str("sent", sizestr.ToString(st.SentBytes)).
		Str("received", sizestr.ToString(st.ReceivedBytes)).
		Msg("connection finished")
}

func (c *Conn) dial() (*websocket.Conn, error) {
	dialer, err := newDialer(c.cfg)
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	for key, value := range c.cfg.Headers {
		headers.Set(key, value)
	}

	b := &backoff.Backoff{Min: c.retryMin, Max: c.retryMax, Factor: 2, Jitter: true}
	for {
		ws, resp, err := dialer.DialContext(c.ctx, c.cfg.URL(), headers)
		if err == nil {
			return ws, nil
		}
		if resp != nil {
			err = fmt.Errorf("handshake failed (HTTP %d): %w", resp.StatusCode, err)
		}

		attempt := int(b.Attempt())
		if attempt >= c.cfg.ConnectRetries || c.ctx.Err() != nil {
			return nil, err
		}

		d := b.Duration()
		c.logger.Debug().Err(err).
			Int("attempt", attempt+1).
			Int("max", c.cfg.ConnectRetries).
			Dur("retry_in", d).
			Msg("dial failed; retrying")

		timer := time.NewTimer(d)
		select {
		case <-c.ctx.Done():
			timer.Stop()
			return nil, err
		case <-timer.C:
		}
	}
}

func newDialer(cfg *types.SamplerConfig) (*websocket.Dialer, error) {
	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: cfg.ConnectTimeout(),
		Subprotocols:     cfg.Subprotocols,
	}

	if cfg.TLS != nil && cfg.Scheme() == "wss" {
		tlsConfig, err := buildTLSConfig(cfg.TLS)
		if err != nil {
			return nil, fmt.Errorf("TLS configuration error: %w", err)
		}
		dialer.TLSClientConfig = tlsConfig
	}

	return dialer, nil
}

func (c *Conn) readLoop(ws *websocket.Conn) {
	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			code, reason := closeStatus(err)
			c.finished.Store(true)
			c.logger.Debug().Int("code", code).Str("reason", reason).Msg("read loop ended")
			c.handler.Handle(socket.CloseEvent(code, reason))
			return
		}

		c.receivedBytes.Add(int64(len(data)))
		c.receivedMsgs.Add(1)

		switch messageType {
		case websocket.TextMessage, websocket.BinaryMessage:
			c.handler.Handle(socket.MessageEvent(string(data)))
		}
	}
}

func closeStatus(err error) (int, string) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Text
	}
	return socket.CloseAbnormal, err.Error()
}

func (c *Conn) conn() *websocket.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws
}

// SendText writes one text message
func (c *Conn) SendText(text string) error {
	ws := c.conn()
	if ws == nil {
		return ErrNotOpen
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := ws.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		return err
	}

	c.sentBytes.Add(int64(len(text)))
	c.sentMsgs.Add(1)
	return nil
}

// Ping writes a ping control frame
func (c *Conn) Ping() error {
	ws := c.conn()
	if ws == nil {
		return ErrNotOpen
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	return ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// Close sends a close frame once and gives the server a grace period to
// echo it before the read loop gives up. A connection the server already
// closed needs nothing more.
func (c *Conn) Close(code int, reason string) error {
	ws := c.conn()
	if ws == nil {
		return ErrNotOpen
	}
	if c.finished.Load() {
		return nil
	}

	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		err = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
		c.writeMu.Unlock()

		ws.SetReadDeadline(time.Now().Add(closeGrace))
		if err != nil {
			// Nothing will echo the close; drop the connection now
			ws.Close()
		}
	})
	return err
}

// Abort cancels a pending dial and drops an open connection without a
// close handshake
func (c *Conn) Abort() {
	c.cancel()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ws != nil {
		c.ws.Close()
	}
}

// RemoteAddr returns the server address, or "" before open
func (c *Conn) RemoteAddr() string {
	ws := c.conn()
	if ws == nil {
		return ""
	}
	return ws.RemoteAddr().String()
}

// Subprotocol returns the negotiated subprotocol
func (c *Conn) Subprotocol() string {
	ws := c.conn()
	if ws == nil {
		return ""
	}
	return ws.Subprotocol()
}

// Done is closed once the connection has finished, after its final event
func (c *Conn) Done() <-chan struct{} { return c.done }

// Stats returns the traffic counters
func (c *Conn) Stats() Stats {
	return Stats{
		SentBytes:        c.sentBytes.Load(),
		ReceivedBytes:    c.receivedBytes.Load(),
		SentMessages:     c.sentMsgs.Load(),
		ReceivedMessages: c.receivedMsgs.Load(),
	}
}

var _ socket.Session = (*Conn)(nil)
