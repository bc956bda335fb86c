package socket

import "fmt"

// Close status codes used by the controller
const (
	CloseNormal   = 1000
	CloseAbnormal = 1006

	// DefaultCloseReason is sent with client-initiated closes
	DefaultCloseReason = "wsprobe closed session."
)

// Session is the live transport session a controller drives
type Session interface {
	SendText(text string) error
	Ping() error
	Close(code int, reason string) error
	RemoteAddr() string
}

// EventKind identifies a transport lifecycle event
type EventKind int

const (
	EventOpen EventKind = iota
	EventMessage
	EventClose
	EventDialFailed
)

func (k EventKind) String() string {
	switch k {
	case EventOpen:
		return "open"
	case EventMessage:
		return "message"
	case EventClose:
		return "close"
	case EventDialFailed:
		return "dial-failed"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is delivered by the transport, one at a time per session
type Event struct {
	Kind    EventKind
	Session Session // EventOpen
	Text    string  // EventMessage
	Code    int     // EventClose
	Reason  string  // EventClose
	Err     error   // EventDialFailed
}

// EventHandler consumes transport events
type EventHandler interface {
	Handle(ev Event)
}

// OpenEvent builds an EventOpen
func OpenEvent(s Session) Event { return Event{Kind: EventOpen, Session: s} }

// MessageEvent builds an EventMessage
func MessageEvent(text string) Event { return Event{Kind: EventMessage, Text: text} }

// CloseEvent builds an EventClose
func CloseEvent(code int, reason string) Event {
	return Event{Kind: EventClose, Code: code, Reason: reason}
}

// DialFailedEvent builds an EventDialFailed
func DialFailedEvent(err error) Event { return Event{Kind: EventDialFailed, Err: err} }
