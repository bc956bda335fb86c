package socket

import (
	"strings"
	"sync"
)

// Backlog is a bounded FIFO of received message bodies.
// Inserting into a full backlog evicts the oldest entry first.
type Backlog struct {
	mu       sync.RWMutex
	messages []string
	capacity int
}

// NewBacklog creates a backlog holding at most capacity messages (minimum 1)
func NewBacklog(capacity int) *Backlog {
	if capacity < 1 {
		capacity = 1
	}
	return &Backlog{
		messages: make([]string, 0, capacity),
		capacity: capacity,
	}
}

// Add appends a message, evicting from the front while the backlog is full
func (b *Backlog) Add(msg string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for len(b.messages) >= b.capacity {
		b.messages = b.messages[1:]
	}
	b.messages = append(b.messages, msg)
}

// Resize changes the capacity and evicts the oldest entries that no longer fit
func (b *Backlog) Resize(capacity int) {
	if capacity < 1 {
		capacity = 1
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.capacity = capacity
	if over := len(b.messages) - capacity; over > 0 {
		b.messages = append([]string(nil), b.messages[over:]...)
	}
}

// Messages returns a copy of the backlog in arrival order
func (b *Backlog) Messages() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]string, len(b.messages))
	copy(out, b.messages)
	return out
}

// String concatenates the backlogged messages in arrival order
func (b *Backlog) String() string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return strings.Join(b.messages, "")
}

// Len returns the number of backlogged messages
func (b *Backlog) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.messages)
}

// Capacity returns the maximum number of messages kept
func (b *Backlog) Capacity() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.capacity
}

// Clear drops every backlogged message
func (b *Backlog) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = b.messages[:0]
}
