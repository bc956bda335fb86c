package socket

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/studiowebux/wsprobe/internal/types"
)

// ErrNotConnected is returned by SendMessage when no session is bound
var ErrNotConnected = errors.New("websocket session not connected")

// Controller drives one WebSocket connection binding. Transport events
// arrive through Handle on the transport goroutine while the caller sends
// and waits on the open and close gates.
type Controller struct {
	id       string
	logger   zerolog.Logger
	resolver Resolver

	// stateMu guards the fields replaced on open and on rearm
	stateMu   sync.RWMutex
	cfg       *types.SamplerConfig
	session   Session
	matcher   *Matcher
	closeGate *Gate

	// closeMu serializes Close against the close event
	closeMu sync.Mutex

	connected atomic.Bool
	matched   atomic.Bool
	errorCode atomic.Int32

	openGate *Gate
	trace    *Trace
	backlog  *Backlog
}

// Option configures a Controller
type Option func(*Controller)

// WithLogger sets the logger; the default discards everything
func WithLogger(l zerolog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithResolver sets the resolver used to expand template expressions in patterns
func WithResolver(r Resolver) Option {
	return func(c *Controller) { c.resolver = r }
}

// NewController creates a controller bound to cfg, with patterns compiled
// and both gates armed
func NewController(cfg *types.SamplerConfig, opts ...Option) *Controller {
	c := &Controller{
		id:        uuid.NewString(),
		logger:    zerolog.Nop(),
		cfg:       cfg,
		openGate:  NewGate(),
		closeGate: NewGate(),
		trace:     NewTrace(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With().Str("conn", c.id).Logger()

	c.trace.Record(CategoryFlow, "Opening new connection")
	c.compilePatterns(cfg)

	size := c.backlogSize(cfg)
	c.backlog = NewBacklog(size)

	return c
}

// Rearm rebinds the controller to a new iteration's config while keeping the
// open session. It resets the trace, the error code and the compiled patterns
// and arms a fresh close gate. The open gate, the session, the connected flag
// and the backlog contents carry over.
func (c *Controller) Rearm(cfg *types.SamplerConfig) {
	c.stateMu.Lock()
	c.cfg = cfg
	c.closeGate = NewGate()
	c.stateMu.Unlock()

	c.trace.Reset()
	c.trace.Record(CategoryFlow, "Reusing existing connection: %s", cfg.ConnectionKey())
	c.errorCode.Store(0)

	c.compilePatterns(cfg)
	c.backlog.Resize(c.backlogSize(cfg))

	c.logger.Debug().Str("key", cfg.ConnectionKey()).Msg("controller rearmed")
}

func (c *Controller) compilePatterns(cfg *types.SamplerConfig) {
	m := CompileMatcher(cfg.ResponsePattern, cfg.CloseConnectionPattern, c.resolver, c.trace)
	if err := m.Err(); err != nil {
		c.logger.Error().Err(err).Msg("invalid completion pattern")
	}

	c.stateMu.Lock()
	c.matcher = m
	c.stateMu.Unlock()
}

func (c *Controller) backlogSize(cfg *types.SamplerConfig) int {
	size, ok := cfg.BacklogSize()
	if !ok {
		c.trace.Record(CategoryFlow, "Message backlog value not set; using default %d", size)
	}
	return size
}

// Handle feeds one transport event into the state machine
func (c *Controller) Handle(ev Event) {
	switch ev.Kind {
	case EventOpen:
		c.handleOpen(ev.Session)
	case EventMessage:
		c.handleMessage(ev.Text)
	case EventClose:
		c.handleClose(ev.Code, ev.Reason)
	case EventDialFailed:
		c.handleDialFailed(ev.Err)
	default:
		c.logger.Warn().Stringer("kind", ev.Kind).Msg("unknown transport event")
	}
}

// OnOpen is the transport's open callback
func (c *Controller) OnOpen(s Session) { c.Handle(OpenEvent(s)) }

// OnMessage is the transport's text message callback
func (c *Controller) OnMessage(text string) { c.Handle(MessageEvent(text)) }

// OnClose is the transport's close callback
func (c *Controller) OnClose(code int, reason string) { c.Handle(CloseEvent(code, reason)) }

func (c *Controller) handleOpen(s Session) {
	c.trace.Record(CategoryConnect, "WebSocket connection has been opened")

	c.stateMu.Lock()
	c.session = s
	c.stateMu.Unlock()

	c.connected.Store(true)
	c.openGate.Release()

	if s != nil {
		c.logger.Debug().Str("remote", s.RemoteAddr()).Msg("connected")
	}
}

func (c *Controller) handleMessage(text string) {
	if !c.connected.Load() {
		c.logger.Debug().Int("bytes", len(text)).Msg("message received while not connected; dropped")
		return
	}

	c.logger.Debug().Str("message", text).Msg("received message")
	c.backlog.Add(Unframe(text))

	switch c.Matcher().Evaluate(text) {
	case VerdictComplete:
		c.trace.Record(CategoryMessage, "Received message (%d bytes); matched response pattern", len(text))
		c.matched.Store(true)
		c.currentCloseGate().Release()
	case VerdictDisconnect:
		c.trace.Record(CategoryMessage, "Received message (%d bytes); matched connection close pattern", len(text))
		c.matched.Store(true)
		c.Close(CloseNormal, DefaultCloseReason)
	default:
		c.trace.Record(CategoryMessage, "Received message (%d bytes); didn't match any pattern", len(text))
	}
}

func (c *Controller) handleClose(code int, reason string) {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	if !c.connected.Load() {
		return
	}

	if code != CloseNormal {
		c.logger.Error().Int("code", code).Str("reason", reason).Msg("disconnected")
		c.trace.Record(CategoryError, "WebSocket connection closed unexpectedly by the server: [%d] %s", code, reason)
		c.errorCode.Store(int32(code))
	} else {
		c.logger.Debug().Int("code", code).Str("reason", reason).Msg("disconnected")
		c.trace.Record(CategoryClose, "WebSocket connection has been successfully closed by the server")
	}

	// Wake a caller still waiting to connect as well as one waiting for the response
	c.connected.Store(false)
	c.openGate.Release()
	c.currentCloseGate().Release()
}

func (c *Controller) handleDialFailed(err error) {
	c.logger.Error().Err(err).Msg("cannot connect")
	c.trace.Record(CategoryError, "Cannot connect to the remote server: %v", err)
	c.openGate.Release()
}

// AwaitOpen waits up to d for the connection to open and reports whether the
// open gate released in time
func (c *Controller) AwaitOpen(d time.Duration) bool {
	c.trace.Record(CategoryFlow, "Waiting for the server connection for %s", d)
	res := c.openGate.Wait(d)

	if c.connected.Load() {
		c.trace.Record(CategoryConnect, "Connection established")
	} else {
		c.trace.Record(CategoryConnect, "Cannot connect to the remote server")
	}

	return res
}

// AwaitClose waits up to d for the exchange to finish and reports whether the
// close gate released in time. Outside streaming mode the connection is
// always closed afterwards.
func (c *Controller) AwaitClose(d time.Duration) bool {
	c.trace.Record(CategoryFlow, "Waiting for messages for %s", d)
	res := c.currentCloseGate().Wait(d)

	if !c.Config().StreamingConnection {
		c.CloseNormal()
	} else if c.connected.Load() {
		c.trace.Record(CategoryFlow, "Leaving streaming connection open")
	}

	return res
}

// SendMessage frames and sends text, clearing the matched flag first
func (c *Controller) SendMessage(text string) error {
	c.matched.Store(false)

	s := c.Session()
	if s == nil {
		return ErrNotConnected
	}

	framed := Frame(text)
	if err := s.SendText(framed); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}

	c.trace.Record(CategoryMessage, "Sent message (%d bytes)", len(framed))
	return nil
}

// CloseNormal closes the session with a normal status
func (c *Controller) CloseNormal() {
	c.Close(CloseNormal, DefaultCloseReason)
}

// Close closes the session from the client side. It is safe to call more
// than once and concurrently with the close event.
func (c *Controller) Close(code int, reason string) {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	if s := c.Session(); s != nil {
		if err := s.Close(code, reason); err != nil {
			c.trace.Record(CategoryWarning, "WebSocket session close failed: %v", err)
			c.logger.Warn().Err(err).Msg("close failed")
		} else {
			c.trace.Record(CategoryClose, "WebSocket session closed by the client")
		}
	} else {
		c.trace.Record(CategoryWarning, "WebSocket session wasn't started (...that's odd)")
	}

	c.connected.Store(false)
	c.currentCloseGate().Release()
}

// Ping sends a ping; failures are recorded and swallowed
func (c *Controller) Ping() {
	s := c.Session()
	if s == nil {
		c.trace.Record(CategoryWarning, "Ping skipped: no session")
		return
	}
	if err := s.Ping(); err != nil {
		c.trace.Record(CategoryWarning, "Ping failed: %v", err)
		c.logger.Warn().Err(err).Msg("ping failed")
	}
}

// ResponseMessage concatenates the backlogged messages in arrival order
func (c *Controller) ResponseMessage() string {
	return c.backlog.String()
}

// ClearBacklog drops every backlogged message
func (c *Controller) ClearBacklog() {
	c.backlog.Clear()
}

// Backlog exposes the message backlog
func (c *Controller) Backlog() *Backlog { return c.backlog }

// IsConnected reports whether the session is open
func (c *Controller) IsConnected() bool { return c.connected.Load() }

// IsExpressionMatched reports whether a pattern fired since the last send
func (c *Controller) IsExpressionMatched() bool { return c.matched.Load() }

// ErrorCode returns the abnormal close status code, or 0
func (c *Controller) ErrorCode() int { return int(c.errorCode.Load()) }

// LogMessage renders the execution trace
func (c *Controller) LogMessage() string { return c.trace.String() }

// Trace returns the structured execution trace
func (c *Controller) Trace() []TraceEntry { return c.trace.Entries() }

// ID returns the controller's unique id
func (c *Controller) ID() string { return c.id }

// Session returns the bound session, or nil before the open event
func (c *Controller) Session() Session {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.session
}

// Config returns the current binding's config
func (c *Controller) Config() *types.SamplerConfig {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.cfg
}

// Matcher returns the current binding's compiled patterns
func (c *Controller) Matcher() *Matcher {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.matcher
}

// OpenDone is closed once the open gate releases
func (c *Controller) OpenDone() <-chan struct{} { return c.openGate.Done() }

// CloseDone is closed once the current close gate releases
func (c *Controller) CloseDone() <-chan struct{} { return c.currentCloseGate().Done() }

func (c *Controller) currentCloseGate() *Gate {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.closeGate
}
