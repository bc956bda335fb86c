package sampler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/studiowebux/wsprobe/internal/parser"
	"github.com/studiowebux/wsprobe/internal/socket"
	"github.com/studiowebux/wsprobe/internal/transport"
	"github.com/studiowebux/wsprobe/internal/types"
)

var (
	// ErrConnectTimeout is reported when the open gate does not release in time
	ErrConnectTimeout = errors.New("timeout while connecting")
	// ErrConnectFailed is reported when the connection could not be opened
	ErrConnectFailed = errors.New("cannot connect to the remote server")
	// ErrResponseTimeout is reported when no completion pattern fired in time
	ErrResponseTimeout = errors.New("timeout while waiting for response")
)

// Sampler runs one WebSocket exchange per call. A sampler belongs to a
// single worker and is not safe for concurrent use.
type Sampler struct {
	conns         *Connections
	resolver      *parser.VariableResolver
	logger        zerolog.Logger
	transportOpts []transport.Option
}

// Option configures a Sampler
type Option func(*Sampler)

// WithLogger sets the logger passed down to controllers and transports
func WithLogger(l zerolog.Logger) Option {
	return func(s *Sampler) { s.logger = l }
}

// WithResolver resolves templates in the sampler config before each sample
func WithResolver(r *parser.VariableResolver) Option {
	return func(s *Sampler) { s.resolver = r }
}

// WithTransportOptions adds options to every transport connection
func WithTransportOptions(opts ...transport.Option) Option {
	return func(s *Sampler) { s.transportOpts = append(s.transportOpts, opts...) }
}

// New creates a sampler that keeps its streaming connections in conns
func New(conns *Connections, opts ...Option) *Sampler {
	if conns == nil {
		conns = NewConnections()
	}
	s := &Sampler{
		conns:  conns,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connections returns the sampler's registry
func (s *Sampler) Connections() *Connections { return s.conns }

// Sample runs one iteration: connect or reuse, send the payload, wait for a
// completion pattern and collect the result
func (s *Sampler) Sample(ctx context.Context, cfg *types.SamplerConfig) *types.SampleResult {
	start := time.Now()
	res := &types.SampleResult{
		Label:     cfg.Name,
		StartedAt: start,
	}
	defer func() {
		res.DurationMs = time.Since(start).Milliseconds()
	}()

	resolved := cfg
	if s.resolver != nil {
		r, err := s.resolver.ResolveSampler(cfg)
		if err != nil {
			res.FailureMessage = err.Error()
			return res
		}
		resolved = r
	}
	res.URL = resolved.URL()

	c, reused := s.acquire(ctx, resolved)
	ctrl := c.Controller
	res.Reused = reused

	opened := ctrl.AwaitOpen(resolved.ConnectTimeout())
	res.ConnectMs = time.Since(start).Milliseconds()

	if !ctrl.IsConnected() {
		err := ErrConnectFailed
		if !opened {
			err = ErrConnectTimeout
		}
		s.discard(resolved, c)
		s.finish(res, ctrl)
		res.FailureMessage = err.Error()
		return res
	}

	sendStart := time.Now()
	if resolved.RequestData != "" {
		if err := ctrl.SendMessage(resolved.RequestData); err != nil {
			s.discard(resolved, c)
			s.finish(res, ctrl)
			res.FailureMessage = err.Error()
			return res
		}
		res.SentSize = len(socket.Frame(resolved.RequestData))
	}

	completed := ctrl.AwaitClose(resolved.ResponseTimeout())
	res.ResponseMs = time.Since(sendStart).Milliseconds()

	s.finish(res, ctrl)

	switch {
	case res.CloseCode != 0:
		res.FailureMessage = fmt.Sprintf("connection closed unexpectedly: [%d]", res.CloseCode)
	case !completed && !receiveOnly(resolved):
		res.FailureMessage = ErrResponseTimeout.Error()
	default:
		res.Success = true
	}

	if resolved.StreamingConnection && ctrl.IsConnected() {
		return res
	}
	s.conns.Remove(resolved.ConnectionKey())
	return res
}

// receiveOnly reports whether a streaming sampler only collects what the
// server pushes, in which case an elapsed response timeout is expected
func receiveOnly(cfg *types.SamplerConfig) bool {
	return cfg.StreamingConnection && cfg.RequestData == ""
}

func (s *Sampler) acquire(ctx context.Context, cfg *types.SamplerConfig) (*Connection, bool) {
	key := cfg.ConnectionKey()

	if cfg.StreamingConnection {
		if c, ok := s.conns.Get(key); ok {
			if c.Controller.IsConnected() {
				c.Controller.Rearm(cfg)
				if cfg.ClearBacklog {
					c.Controller.ClearBacklog()
				}
				s.logger.Debug().Str("key", key).Msg("reusing streaming connection")
				return c, true
			}
			s.conns.Remove(key)
		}
	}

	ctrlOpts := []socket.Option{socket.WithLogger(s.logger)}
	if s.resolver != nil {
		ctrlOpts = append(ctrlOpts, socket.WithResolver(s.resolver))
	}
	ctrl := socket.NewController(cfg, ctrlOpts...)

	transportOpts := append([]transport.Option{transport.WithLogger(s.logger)}, s.transportOpts...)
	c := &Connection{
		Controller: ctrl,
		Conn:       transport.Connect(ctx, cfg, ctrl, transportOpts...),
	}

	if cfg.StreamingConnection {
		s.conns.Put(key, c)
	}
	return c, false
}

// discard drops a connection that failed before the exchange started
func (s *Sampler) discard(cfg *types.SamplerConfig, c *Connection) {
	s.conns.Remove(cfg.ConnectionKey())
	c.Conn.Abort()
}

func (s *Sampler) finish(res *types.SampleResult, ctrl *socket.Controller) {
	res.Connected = ctrl.IsConnected()
	res.Matched = ctrl.IsExpressionMatched()
	res.CloseCode = ctrl.ErrorCode()
	res.ResponseMessage = ctrl.ResponseMessage()
	res.ReceivedSize = len(res.ResponseMessage)
	res.Log = ctrl.LogMessage()
}
