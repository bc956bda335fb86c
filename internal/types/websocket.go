package types

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultMessageBacklog is used when the backlog size is unset or not a number
	DefaultMessageBacklog = 3
	// DefaultConnectTimeout is used when the connect timeout is unset or not a number
	DefaultConnectTimeout = 20 * time.Second
	// DefaultResponseTimeout is used when the response timeout is unset or not a number
	DefaultResponseTimeout = 20 * time.Second
)

// SamplerConfig describes one WebSocket sampler: where to connect, what to
// send and how to decide that the exchange is complete.
// Numeric settings are kept as text because they may hold template expressions.
type SamplerConfig struct {
	Name                   string            `json:"name,omitempty" yaml:"name,omitempty"`
	Protocol               string            `json:"protocol,omitempty" yaml:"protocol,omitempty"` // "ws" | "wss"
	Server                 string            `json:"server" yaml:"server"`
	Port                   string            `json:"port,omitempty" yaml:"port,omitempty"`
	Path                   string            `json:"path,omitempty" yaml:"path,omitempty"`
	Headers                map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Subprotocols           []string          `json:"subprotocols,omitempty" yaml:"subprotocols,omitempty"`
	ConnectionID           string            `json:"connectionId,omitempty" yaml:"connectionId,omitempty"`
	ConnectTimeoutMs       string            `json:"connectTimeout,omitempty" yaml:"connectTimeout,omitempty"`
	ResponseTimeoutMs      string            `json:"responseTimeout,omitempty" yaml:"responseTimeout,omitempty"`
	MessageBacklog         string            `json:"messageBacklog,omitempty" yaml:"messageBacklog,omitempty"`
	ResponsePattern        string            `json:"responsePattern,omitempty" yaml:"responsePattern,omitempty"`
	CloseConnectionPattern string            `json:"closeConnectionPattern,omitempty" yaml:"closeConnectionPattern,omitempty"`
	RequestData            string            `json:"requestData,omitempty" yaml:"requestData,omitempty"`
	StreamingConnection    bool              `json:"streamingConnection,omitempty" yaml:"streamingConnection,omitempty"`
	ClearBacklog           bool              `json:"clearBacklog,omitempty" yaml:"clearBacklog,omitempty"` // clear backlog when reusing a streaming connection
	ConnectRetries         int               `json:"connectRetries,omitempty" yaml:"connectRetries,omitempty"`
	TLS                    *TLSConfig        `json:"tls,omitempty" yaml:"tls,omitempty"`
}

// BacklogSize resolves the configured backlog size.
// The second value is false when the default was used.
func (c *SamplerConfig) BacklogSize() (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(c.MessageBacklog))
	if err != nil || n < 1 {
		return DefaultMessageBacklog, false
	}
	return n, true
}

// ConnectTimeout resolves the connect timeout
func (c *SamplerConfig) ConnectTimeout() time.Duration {
	return parseMillis(c.ConnectTimeoutMs, DefaultConnectTimeout)
}

// ResponseTimeout resolves the response timeout
func (c *SamplerConfig) ResponseTimeout() time.Duration {
	return parseMillis(c.ResponseTimeoutMs, DefaultResponseTimeout)
}

func parseMillis(value string, fallback time.Duration) time.Duration {
	ms, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || ms < 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}

// Scheme returns the WebSocket scheme, defaulting to ws
func (c *SamplerConfig) Scheme() string {
	switch strings.ToLower(strings.TrimSpace(c.Protocol)) {
	case "wss", "https":
		return "wss"
	default:
		return "ws"
	}
}

// URL builds the target URL from protocol, server, port and path
func (c *SamplerConfig) URL() string {
	scheme := c.Scheme()

	host := strings.TrimSpace(c.Server)
	port := strings.TrimSpace(c.Port)
	if port != "" {
		host = net.JoinHostPort(host, port)
	}

	path := c.Path
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	return fmt.Sprintf("%s://%s%s", scheme, host, path)
}

// ConnectionKey identifies the connection this config binds to.
// Streaming samplers sharing a key reuse the same connection.
func (c *SamplerConfig) ConnectionKey() string {
	key := c.URL()
	if c.ConnectionID != "" {
		key += "#" + c.ConnectionID
	}
	return key
}

// Validate checks the fields that cannot be defaulted
func (c *SamplerConfig) Validate() error {
	if strings.TrimSpace(c.Server) == "" {
		return fmt.Errorf("server is required")
	}
	switch strings.ToLower(strings.TrimSpace(c.Protocol)) {
	case "", "ws", "wss", "http", "https":
	default:
		return fmt.Errorf("unsupported protocol: %s", c.Protocol)
	}
	if c.ConnectRetries < 0 {
		return fmt.Errorf("connect retries cannot be negative")
	}
	return nil
}

// Clone returns a deep copy so per-iteration resolution never mutates the plan
func (c *SamplerConfig) Clone() *SamplerConfig {
	clone := *c
	if c.Headers != nil {
		clone.Headers = make(map[string]string, len(c.Headers))
		for k, v := range c.Headers {
			clone.Headers[k] = v
		}
	}
	if c.Subprotocols != nil {
		clone.Subprotocols = append([]string(nil), c.Subprotocols...)
	}
	if c.TLS != nil {
		tls := *c.TLS
		clone.TLS = &tls
	}
	return &clone
}

// SampleResult is the outcome of one sampler iteration
type SampleResult struct {
	Label           string    `json:"label"`
	URL             string    `json:"url"`
	StartedAt       time.Time `json:"startedAt"`
	Success         bool      `json:"success"`
	Connected       bool      `json:"connected"`
	Reused          bool      `json:"reused"`
	Matched         bool      `json:"matched"`
	CloseCode       int       `json:"closeCode,omitempty"`
	ResponseMessage string    `json:"responseMessage"`
	FailureMessage  string    `json:"failureMessage,omitempty"`
	Log             string    `json:"log,omitempty"`
	ConnectMs       int64     `json:"connectMs"`
	ResponseMs      int64     `json:"responseMs"`
	DurationMs      int64     `json:"durationMs"`
	SentSize        int       `json:"sentSize"`
	ReceivedSize    int       `json:"receivedSize"`
}
