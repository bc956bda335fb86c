package sampler

import (
	"sort"
	"sync"

	"github.com/studiowebux/wsprobe/internal/socket"
	"github.com/studiowebux/wsprobe/internal/transport"
)

// Connection pairs a controller with the transport feeding it
type Connection struct {
	Controller *socket.Controller
	Conn       *transport.Conn
}

// Close closes the connection from the client side and waits for the
// transport to finish. A dial still in flight is aborted.
func (c *Connection) Close() {
	if c.Controller.Session() == nil {
		c.Conn.Abort()
	} else {
		c.Controller.CloseNormal()
	}
	<-c.Conn.Done()
}

// Connections holds the streaming connections of one worker, keyed by
// connection key
type Connections struct {
	mu    sync.Mutex
	conns map[string]*Connection
}

// NewConnections creates an empty registry
func NewConnections() *Connections {
	return &Connections{conns: make(map[string]*Connection)}
}

// Get returns the connection registered under key
func (r *Connections) Get(key string) (*Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[key]
	return c, ok
}

// Put registers c under key, replacing any previous entry
func (r *Connections) Put(key string, c *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[key] = c
}

// Remove unregisters key and returns what was registered, if anything
func (r *Connections) Remove(key string) *Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.conns[key]
	delete(r.conns, key)
	return c
}

// Keys returns the registered keys in order
func (r *Connections) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.conns))
	for k := range r.conns {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of registered connections
func (r *Connections) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// CloseAll closes every registered connection and empties the registry
func (r *Connections) CloseAll() {
	r.mu.Lock()
	conns := r.conns
	r.conns = make(map[string]*Connection)
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range conns {
		wg.Add(1)
		go func(c *Connection) {
			defer wg.Done()
			c.Close()
		}(c)
	}
	wg.Wait()
}
