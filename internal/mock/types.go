package mock

import (
	"time"

	"github.com/dlclark/regexp2"
)

// Config represents the mock server configuration
type Config struct {
	Port     int    `json:"port" yaml:"port"`                             // Server port (default: 8080)
	Host     string `json:"host" yaml:"host"`                             // Server host (default: localhost)
	Path     string `json:"path,omitempty" yaml:"path,omitempty"`         // Upgrade path (default: any)
	Greeting string `json:"greeting,omitempty" yaml:"greeting,omitempty"` // Message sent when a client connects
	Echo     bool   `json:"echo,omitempty" yaml:"echo,omitempty"`         // Echo messages no rule matched
	Unframed bool   `json:"unframed,omitempty" yaml:"unframed,omitempty"` // Send replies without the len| prefix
	Rules    []Rule `json:"rules" yaml:"rules"`                           // Message rules, first match wins
	Logging  bool   `json:"logging" yaml:"logging"`                       // Enable message logging
}

// Rule answers inbound messages that match it
type Rule struct {
	Name        string   `json:"name,omitempty" yaml:"name,omitempty"`
	Match       string   `json:"match" yaml:"match"`                             // Pattern matched against the unframed message
	MatchType   string   `json:"matchType,omitempty" yaml:"matchType,omitempty"` // exact, prefix, regex (default: exact)
	Replies     []string `json:"replies,omitempty" yaml:"replies,omitempty"`
	ReplyFile   string   `json:"replyFile,omitempty" yaml:"replyFile,omitempty"` // Path to a reply body, relative to the workdir
	Delay       int      `json:"delay,omitempty" yaml:"delay,omitempty"`         // Delay before replying in milliseconds
	CloseCode   int      `json:"closeCode,omitempty" yaml:"closeCode,omitempty"` // Close the connection after replying
	CloseReason string   `json:"closeReason,omitempty" yaml:"closeReason,omitempty"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`

	re *regexp2.Regexp
}

// MessageLog represents a logged inbound message
type MessageLog struct {
	Timestamp   time.Time     `json:"timestamp"`
	RemoteAddr  string        `json:"remoteAddr"`
	Message     string        `json:"message"`
	MatchedRule string        `json:"matchedRule"`
	Replies     int           `json:"replies"`
	CloseCode   int           `json:"closeCode,omitempty"`
	Duration    time.Duration `json:"duration"`
}
