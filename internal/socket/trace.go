package socket

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Category classifies a trace entry
type Category string

const (
	CategoryFlow    Category = "flow"
	CategoryConnect Category = "connect"
	CategoryMessage Category = "message"
	CategoryPattern Category = "pattern"
	CategoryClose   Category = "close"
	CategoryWarning Category = "warning"
	CategoryError   Category = "error"
)

// TraceEntry is one recorded step of an iteration
type TraceEntry struct {
	Time     time.Time `json:"time"`
	Category Category  `json:"category"`
	Detail   string    `json:"detail"`
}

// Trace is the append-only execution log of one binding.
// It is rendered to text only when read.
type Trace struct {
	mu      sync.Mutex
	entries []TraceEntry
	now     func() time.Time
}

// NewTrace creates an empty trace
func NewTrace() *Trace {
	return &Trace{now: time.Now}
}

// Record appends an entry
func (t *Trace) Record(cat Category, format string, args ...any) {
	entry := TraceEntry{
		Time:     t.now(),
		Category: cat,
		Detail:   fmt.Sprintf(format, args...),
	}

	t.mu.Lock()
	t.entries = append(t.entries, entry)
	t.mu.Unlock()
}

// Reset drops every entry; used when the controller is rebound
func (t *Trace) Reset() {
	t.mu.Lock()
	t.entries = nil
	t.mu.Unlock()
}

// Entries returns a copy of the recorded entries in order
func (t *Trace) Entries() []TraceEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]TraceEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Has reports whether an entry of the given category contains substr
func (t *Trace) Has(cat Category, substr string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, e := range t.entries {
		if e.Category == cat && strings.Contains(e.Detail, substr) {
			return true
		}
	}
	return false
}

// String renders the trace in the sampler's "Execution Flow" layout
func (t *Trace) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var sb strings.Builder
	sb.WriteString("\n\n[Execution Flow]\n")
	for _, e := range t.entries {
		sb.WriteString(" - ")
		sb.WriteString(e.Detail)
		sb.WriteByte('\n')
	}
	return sb.String()
}
