package ws

import (
	"errors"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/sirupsen/logrus"

	"github.com/Vedant1607/QuickChat/internal/metrics"
)

// OutboundQueueSize is how many frames may wait for a connection's writer
// before Enqueue starts refusing them.
const OutboundQueueSize = 64

var (
	// ErrQueueFull is returned by Enqueue when the client is not keeping up.
	ErrQueueFull = errors.New("ws: outbound queue full")
	// ErrConnectionClosed is returned by Enqueue after Close.
	ErrConnectionClosed = errors.New("ws: connection closed")
)

// Connection is one live WebSocket handle owned by an authenticated identity.
// Outbound frames are serialized by a per-connection write mutex. Pushed
// frames go through a bounded queue drained by a single writer goroutine, in
// the order they were enqueued.
type Connection struct {
	ID        string    // connection ID (UUID), unique per upgrade
	Identity  string    // authenticated user ID
	Conn      net.Conn  // underlying TCP connection
	CreatedAt time.Time // when the connection was admitted

	writeTimeout time.Duration
	writeMu      sync.Mutex
	outbound     chan []byte
	done         chan struct{} // closed by Close; stops the writer
	lastActive   atomic.Int64  // unix nanos of the last frame read from the client
	processing   int32         // atomic flag: 0 = idle, 1 = being read by handleConn
	closeOnce    sync.Once
	closeErr     error
}

// NewConnection wraps conn for identity and starts its writer. A zero
// writeTimeout disables write deadlines.
func NewConnection(id, identity string, conn net.Conn, writeTimeout time.Duration) *Connection {
	c := &Connection{
		ID:           id,
		Identity:     identity,
		Conn:         conn,
		CreatedAt:    time.Now(),
		writeTimeout: writeTimeout,
		outbound:     make(chan []byte, OutboundQueueSize),
		done:         make(chan struct{}),
	}
	c.Touch()
	go c.writeLoop()
	return c
}

// Enqueue hands data to the connection's writer and returns without waiting
// for the write.
func (c *Connection) Enqueue(data []byte) error {
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}
	select {
	case c.outbound <- data:
		return nil
	case <-c.done:
		return ErrConnectionClosed
	default:
		metrics.OutboundFailures.WithLabelValues("queue_full").Inc()
		return ErrQueueFull
	}
}

// writeLoop drains the outbound queue. A failed write closes the connection;
// the read loop or the heartbeat then removes it from the registry.
func (c *Connection) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.outbound:
			if err := c.WriteMessage(data); err != nil {
				select {
				case <-c.done:
					return
				default:
				}
				metrics.OutboundFailures.WithLabelValues("write_error").Inc()
				logrus.WithFields(logrus.Fields{
					"component":     "ws",
					"identity":      c.Identity,
					"connection_id": c.ID,
				}).WithError(err).Warn("outbound write failed, closing connection")
				_ = c.Close()
				return
			}
		}
	}
}

// WriteMessage sends a WebSocket text frame. Concurrent callers never
// interleave frame bytes, and a write never outlives the write timeout.
func (c *Connection) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
		defer c.Conn.SetWriteDeadline(time.Time{})
	}
	return wsutil.WriteServerMessage(c.Conn, ws.OpText, data)
}

// Touch records client activity.
func (c *Connection) Touch() {
	c.lastActive.Store(time.Now().UnixNano())
}

// LastActive reports when the client last proved it was alive.
func (c *Connection) LastActive() time.Time {
	return time.Unix(0, c.lastActive.Load())
}

// Close closes the underlying network connection. Only the first call has
// any effect.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.closeErr = c.Conn.Close()
	})
	return c.closeErr
}

// Registry is the process-wide table of live connections. It holds exactly
// one current handle per identity (last connect wins) and indexes every
// tracked handle by its net.Conn for the read loop.
type Registry struct {
	mu         sync.RWMutex
	byIdentity map[string]*Connection   // identity -> current handle
	byConn     map[net.Conn]*Connection // net.Conn -> handle, including displaced ones not yet removed
}

// NewRegistry creates an empty Registry ready for use.
func NewRegistry() *Registry {
	return &Registry{
		byIdentity: make(map[string]*Connection),
		byConn:     make(map[net.Conn]*Connection),
	}
}

// Register installs c as the current handle for c.Identity. If another handle
// was registered for the same identity it is returned so the caller can close
// it; the registry no longer routes to it.
func (r *Registry) Register(c *Connection) (displaced *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.byIdentity[c.Identity]; ok && prev != c {
		displaced = prev
	}
	r.byIdentity[c.Identity] = c
	r.byConn[c.Conn] = c
	return displaced
}

// Unregister forgets c. The identity entry is removed only when c is still
// the current handle for identity, so a late disconnect from a replaced
// connection cannot evict its successor. It reports whether the identity
// entry was removed.
func (r *Registry) Unregister(identity string, c *Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.byConn[c.Conn] == c {
		delete(r.byConn, c.Conn)
	}
	if r.byIdentity[identity] != c {
		return false
	}
	delete(r.byIdentity, identity)
	return true
}

// Lookup returns the current handle for identity.
func (r *Registry) Lookup(identity string) (*Connection, bool) {
	r.mu.RLock()
	c, ok := r.byIdentity[identity]
	r.mu.RUnlock()
	return c, ok
}

// GetByConn returns the handle wrapping netConn, or nil if it is not tracked.
func (r *Registry) GetByConn(netConn net.Conn) *Connection {
	r.mu.RLock()
	c := r.byConn[netConn]
	r.mu.RUnlock()
	return c
}

// Online returns the identities that currently hold a connection, sorted.
func (r *Registry) Online() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.byIdentity))
	for id := range r.byIdentity {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// Count returns the number of identities online.
func (r *Registry) Count() int {
	r.mu.RLock()
	n := len(r.byIdentity)
	r.mu.RUnlock()
	return n
}

// Broadcast queues msg on every current handle and returns how many could
// not take it (closed, or queue full). It never waits on a client.
func (r *Registry) Broadcast(msg []byte) (failed int) {
	r.mu.RLock()
	conns := make([]*Connection, 0, len(r.byIdentity))
	for _, c := range r.byIdentity {
		conns = append(conns, c)
	}
	r.mu.RUnlock()

	for _, c := range conns {
		if err := c.Enqueue(msg); err != nil {
			failed++
		}
	}
	return failed
}

// All returns a snapshot of every tracked handle. The returned slice is safe
// to iterate without holding the lock.
func (r *Registry) All() []*Connection {
	r.mu.RLock()
	conns := make([]*Connection, 0, len(r.byConn))
	for _, c := range r.byConn {
		conns = append(conns, c)
	}
	r.mu.RUnlock()
	return conns
}
