package socket

import (
	"errors"
	"fmt"
	"time"

	"github.com/dlclark/regexp2"
)

// PatternMatchTimeout bounds a single pattern evaluation
const PatternMatchTimeout = 2 * time.Second

// Verdict is the outcome of evaluating one inbound message
type Verdict int

const (
	// VerdictNone means neither pattern fired
	VerdictNone Verdict = iota
	// VerdictComplete means the response for this iteration is complete
	VerdictComplete
	// VerdictDisconnect means the server asked the client to hang up
	VerdictDisconnect
)

func (v Verdict) String() string {
	switch v {
	case VerdictComplete:
		return "complete"
	case VerdictDisconnect:
		return "disconnect"
	default:
		return "none"
	}
}

// Resolver expands template expressions such as {{var}} in pattern sources
type Resolver interface {
	Resolve(input string) (string, error)
}

// Matcher holds the compiled response and disconnect patterns of a binding
type Matcher struct {
	responseSrc   string
	disconnectSrc string
	response      *regexp2.Regexp
	disconnect    *regexp2.Regexp
	err           error
}

// CompileMatcher resolves and compiles both pattern sources.
// Invalid patterns are recorded in tr and treated as absent; the returned
// matcher is always usable and Err reports what went wrong.
func CompileMatcher(response, disconnect string, r Resolver, tr *Trace) *Matcher {
	m := &Matcher{}
	var errs []error

	var err error
	m.responseSrc, m.response, err = compilePattern("response message", response, r, tr)
	if err != nil {
		errs = append(errs, err)
	}
	m.disconnectSrc, m.disconnect, err = compilePattern("disconnect", disconnect, r, tr)
	if err != nil {
		errs = append(errs, err)
	}

	m.err = errors.Join(errs...)
	return m
}

func compilePattern(kind, src string, r Resolver, tr *Trace) (string, *regexp2.Regexp, error) {
	resolved := src
	if r != nil && src != "" {
		value, err := r.Resolve(src)
		if err != nil {
			tr.Record(CategoryWarning, "Cannot resolve %s pattern %q: %v", kind, src, err)
		} else {
			resolved = value
		}
	}

	tr.Record(CategoryPattern, "Using %s pattern %q", kind, resolved)
	if resolved == "" {
		return resolved, nil, nil
	}

	re, err := regexp2.Compile(resolved, regexp2.None)
	if err != nil {
		tr.Record(CategoryError, "Invalid %s regular expression pattern: %v", kind, err)
		return resolved, nil, fmt.Errorf("invalid %s pattern %q: %w", kind, resolved, err)
	}
	re.MatchTimeout = PatternMatchTimeout

	return resolved, re, nil
}

// Evaluate classifies an inbound message. An explicit response pattern is
// checked first, then the disconnect pattern. When no response pattern is
// configured any message that does not trigger a disconnect completes the
// response. At most one verdict fires per message.
func (m *Matcher) Evaluate(msg string) Verdict {
	if m.response != nil && find(m.response, msg) {
		return VerdictComplete
	}
	if m.disconnect != nil && find(m.disconnect, msg) {
		return VerdictDisconnect
	}
	if m.response == nil {
		return VerdictComplete
	}
	return VerdictNone
}

// find reports a match anywhere in s; a match timeout counts as no match
func find(re *regexp2.Regexp, s string) bool {
	ok, err := re.MatchString(s)
	return err == nil && ok
}

// HasResponsePattern reports whether a response pattern compiled
func (m *Matcher) HasResponsePattern() bool { return m.response != nil }

// HasDisconnectPattern reports whether a disconnect pattern compiled
func (m *Matcher) HasDisconnectPattern() bool { return m.disconnect != nil }

// ResponsePattern returns the resolved response pattern source
func (m *Matcher) ResponsePattern() string { return m.responseSrc }

// DisconnectPattern returns the resolved disconnect pattern source
func (m *Matcher) DisconnectPattern() string { return m.disconnectSrc }

// Err returns the joined compile errors, or nil
func (m *Matcher) Err() error { return m.err }
