//go:build !linux

package ws

import (
	"bytes"
	"io"
	"net"
	"sync"
)

// Epoll is a goroutine-per-connection stand-in for platforms without epoll.
// Each watched connection has a monitor goroutine that blocks on a one-byte
// read; the byte is handed back through Reader so no frame data is lost, and
// the monitor waits for Rearm before reading again.
type Epoll struct {
	mu      sync.Mutex
	watched map[net.Conn]*watch
	readyCh chan net.Conn
	done    chan struct{}
}

type watch struct {
	pending []byte
	armed   chan struct{}
}

// NewEpoll creates a new fallback poller.
func NewEpoll() (*Epoll, error) {
	return &Epoll{
		watched: make(map[net.Conn]*watch),
		readyCh: make(chan net.Conn, 128),
		done:    make(chan struct{}),
	}, nil
}

// Add starts monitoring conn.
func (e *Epoll) Add(conn net.Conn) error {
	w := &watch{armed: make(chan struct{}, 1)}
	w.armed <- struct{}{}

	e.mu.Lock()
	e.watched[conn] = w
	e.mu.Unlock()

	go e.monitor(conn, w)
	return nil
}

func (e *Epoll) monitor(conn net.Conn, w *watch) {
	buf := make([]byte, 1)
	for {
		select {
		case <-w.armed:
		case <-e.done:
			return
		}

		n, err := conn.Read(buf)
		if n > 0 {
			e.mu.Lock()
			w.pending = append(w.pending, buf[:n]...)
			e.mu.Unlock()
		}

		select {
		case e.readyCh <- conn:
		case <-e.done:
			return
		}
		if err != nil {
			return
		}
	}
}

// Reader returns a reader that first yields any byte the monitor consumed.
func (e *Epoll) Reader(conn net.Conn) io.Reader {
	e.mu.Lock()
	defer e.mu.Unlock()

	w, ok := e.watched[conn]
	if !ok || len(w.pending) == 0 {
		return conn
	}
	pending := w.pending
	w.pending = nil
	return io.MultiReader(bytes.NewReader(pending), conn)
}

// Rearm lets the monitor of conn wait for the next frame.
func (e *Epoll) Rearm(conn net.Conn) {
	e.mu.Lock()
	w, ok := e.watched[conn]
	e.mu.Unlock()
	if !ok {
		return
	}
	select {
	case w.armed <- struct{}{}:
	default:
	}
}

// Remove stops tracking conn. Its monitor exits once the connection is closed.
func (e *Epoll) Remove(conn net.Conn) error {
	e.mu.Lock()
	delete(e.watched, conn)
	e.mu.Unlock()
	return nil
}

// Wait blocks until at least one connection is ready and returns every
// connection that is ready at that moment.
func (e *Epoll) Wait() ([]net.Conn, error) {
	var first net.Conn
	select {
	case first = <-e.readyCh:
	case <-e.done:
		return nil, net.ErrClosed
	}

	conns := []net.Conn{first}
	for {
		select {
		case conn := <-e.readyCh:
			conns = append(conns, conn)
		default:
			return conns, nil
		}
	}
}

// Close shuts the poller down.
func (e *Epoll) Close() error {
	close(e.done)
	e.mu.Lock()
	e.watched = make(map[net.Conn]*watch)
	e.mu.Unlock()
	return nil
}

func isEINTR(err error) bool {
	return false
}
