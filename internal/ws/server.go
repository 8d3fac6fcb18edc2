// Package ws handles the live-connection side of QuickChat: authenticating
// and upgrading HTTP requests to WebSocket, tracking one live handle per
// identity in the Registry, reading client frames through an epoll event loop
// and pushing server events to connected identities.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Vedant1607/QuickChat/internal/metrics"
)

// Authenticator turns a bearer token into the identity it was issued for.
type Authenticator interface {
	Verify(token string) (string, error)
}

// ServerConfig holds tunable parameters for the WebSocket server.
type ServerConfig struct {
	ListenAddr     string        // address to listen on, e.g. ":5000"
	WorkerPoolSize int           // max concurrent read-worker goroutines
	MaxConnections int           // hard cap on concurrently connected identities
	ReadTimeout    time.Duration // timeout for reading a frame once data is ready
	WriteTimeout   time.Duration // timeout for writing a frame to a client
}

// DefaultServerConfig returns a ServerConfig with production defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:     ":5000",
		WorkerPoolSize: 256,
		MaxConnections: 10000,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
	}
}

// Server upgrades authenticated HTTP requests to WebSocket connections,
// registers them in the Registry, and dispatches frames that epoll reports
// as readable to a bounded worker pool.
type Server struct {
	config       ServerConfig
	auth         Authenticator
	epoll        *Epoll
	registry     *Registry
	mux          *http.ServeMux
	workerPool   chan struct{}                       // semaphore limiting concurrent read workers
	onMessage    func(conn *Connection, data []byte) // client frame handler
	onConnect    func(c *Connection)                 // called after a handle becomes current for its identity
	onDisconnect func(c *Connection)                 // called after an identity's current handle is removed
	httpServer   *http.Server
	done         chan struct{}
	startedAt    time.Time
}

// NewServer creates a Server. onMessage is called from a worker goroutine for
// every complete text frame received from a client.
func NewServer(config ServerConfig, auth Authenticator, onMessage func(conn *Connection, data []byte)) *Server {
	s := &Server{
		config:     config,
		auth:       auth,
		registry:   NewRegistry(),
		mux:        http.NewServeMux(),
		workerPool: make(chan struct{}, config.WorkerPoolSize),
		onMessage:  onMessage,
		done:       make(chan struct{}),
	}
	s.mux.HandleFunc("GET /ws", s.handleUpgrade)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	return s
}

// Handle mounts an additional HTTP handler next to the WebSocket endpoint.
// It must be called before Start.
func (s *Server) Handle(pattern string, handler http.Handler) {
	s.mux.Handle(pattern, handler)
}

// SetOnConnect registers a callback invoked after a connection becomes the
// current handle for its identity.
func (s *Server) SetOnConnect(fn func(c *Connection)) {
	s.onConnect = fn
}

// SetOnDisconnect registers a callback invoked when the current handle of an
// identity is removed (read error, close frame, heartbeat timeout). Removing
// a handle that was already replaced does not trigger it.
func (s *Server) SetOnDisconnect(fn func(c *Connection)) {
	s.onDisconnect = fn
}

// Registry returns the connection registry.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Start creates the poller, starts the event loop and heartbeat, and blocks
// serving HTTP until Shutdown is called.
func (s *Server) Start() error {
	var err error
	s.epoll, err = NewEpoll()
	if err != nil {
		return fmt.Errorf("ws: failed to create epoll: %w", err)
	}

	s.startedAt = time.Now()
	s.httpServer = &http.Server{
		Addr:    s.config.ListenAddr,
		Handler: s.mux,
	}

	go s.startEventLoop()
	StartHeartbeat(s, DefaultHeartbeatConfig())

	logrus.WithFields(logrus.Fields{
		"component": "ws",
		"addr":      s.config.ListenAddr,
		"workers":   s.config.WorkerPoolSize,
		"max_conns": s.config.MaxConnections,
	}).Info("server listening")

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("ws: http server error: %w", err)
	}
	return nil
}

// tokenFromRequest reads the bearer token from the "token" query parameter
// (browsers cannot set headers on WebSocket requests) or the Authorization
// header.
func tokenFromRequest(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	return strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
}

// handleUpgrade admits a connection: the token is verified before the
// upgrade, so unauthenticated requests are refused with 401 and never become
// sockets.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	token := tokenFromRequest(r)
	if token == "" {
		http.Error(w, "authorization token missing", http.StatusUnauthorized)
		return
	}
	identity, err := s.auth.Verify(token)
	if err != nil {
		http.Error(w, "invalid or expired token", http.StatusUnauthorized)
		return
	}

	if _, reconnect := s.registry.Lookup(identity); !reconnect && s.registry.Count() >= s.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"component": "ws",
			"identity":  identity,
		}).WithError(err).Warn("upgrade failed")
		return
	}

	c := NewConnection(uuid.New().String(), identity, conn, s.config.WriteTimeout)
	s.admit(c)
}

// admit registers c, closes any handle it displaced and starts watching it
// for reads.
func (s *Server) admit(c *Connection) {
	log := logrus.WithFields(logrus.Fields{
		"component":     "ws",
		"identity":      c.Identity,
		"connection_id": c.ID,
	})

	if displaced := s.registry.Register(c); displaced != nil {
		log.WithField("displaced_id", displaced.ID).Info("connection replaced by newer connect")
		s.RemoveConnection(displaced)
	}

	if err := s.epoll.Add(c.Conn); err != nil {
		log.WithError(err).Error("epoll add failed")
		s.RemoveConnection(c)
		return
	}

	metrics.ConnectionsTotal.Set(float64(s.registry.Count()))
	log.WithField("total", s.registry.Count()).Info("connection admitted")

	if s.onConnect != nil {
		s.onConnect(c)
	}
}

// handleHealth responds with the server's health status: connection count
// and uptime.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	resp := struct {
		Status      string `json:"status"`
		Connections int    `json:"connections"`
		Uptime      string `json:"uptime"`
	}{
		Status:      "ok",
		Connections: s.registry.Count(),
		Uptime:      time.Since(s.startedAt).Round(time.Second).String(),
	}

	_ = json.NewEncoder(w).Encode(resp)
}

// startEventLoop waits on the poller and hands every ready connection to a
// worker goroutine, bounded by the worker pool semaphore.
func (s *Server) startEventLoop() {
	for {
		select {
		case <-s.done:
			return
		default:
		}

		conns, err := s.epoll.Wait()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				if isEINTR(err) {
					continue
				}
				logrus.WithField("component", "ws").WithError(err).Error("epoll wait error")
				continue
			}
		}

		for _, conn := range conns {
			conn := conn

			s.workerPool <- struct{}{}
			go func() {
				defer func() { <-s.workerPool }()
				s.handleConn(conn)
			}()
		}
	}
}

// handleConn reads one frame from a ready connection. Control frames are
// answered without blocking on a data frame; read failures remove the
// connection.
func (s *Server) handleConn(netConn net.Conn) {
	c := s.registry.GetByConn(netConn)
	if c == nil {
		return
	}

	// Guard against duplicate dispatch from level-triggered epoll.
	if !atomic.CompareAndSwapInt32(&c.processing, 0, 1) {
		return
	}
	defer atomic.StoreInt32(&c.processing, 0)
	defer s.epoll.Rearm(netConn)

	if s.config.ReadTimeout > 0 {
		_ = netConn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	}

	header, reader, err := wsutil.NextReader(s.epoll.Reader(netConn), ws.StateServerSide)
	if err != nil {
		// A timeout means a stale readiness report; the heartbeat handles
		// connections that are really dead.
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return
		}
		s.RemoveConnection(c)
		return
	}

	_ = netConn.SetReadDeadline(time.Time{})
	c.Touch()

	if header.OpCode.IsControl() {
		s.handleControl(c, header, reader)
		return
	}

	data := make([]byte, header.Length)
	if header.Length > 0 {
		if _, err := io.ReadFull(reader, data); err != nil {
			s.RemoveConnection(c)
			return
		}
	}

	if len(data) == 0 {
		return
	}

	if s.onMessage != nil {
		s.onMessage(c, data)
	}
}

// handleControl consumes a control frame's payload so the next read starts on
// a frame boundary. Pings are answered with a pong echoing the payload.
func (s *Server) handleControl(c *Connection, header ws.Header, reader io.Reader) {
	if header.OpCode == ws.OpClose {
		s.RemoveConnection(c)
		return
	}

	payload := make([]byte, header.Length)
	if _, err := io.ReadFull(reader, payload); err != nil {
		s.RemoveConnection(c)
		return
	}
	if header.OpCode != ws.OpPing {
		return
	}
	if err := c.WritePong(payload); err != nil {
		logrus.WithFields(logrus.Fields{
			"component": "ws",
			"identity":  c.Identity,
		}).WithError(err).Info("pong failed")
		s.RemoveConnection(c)
	}
}

// RemoveConnection stops watching c, removes it from the registry and closes
// it. It is safe to call more than once and from several goroutines; the
// disconnect callback fires only when c was its identity's current handle.
func (s *Server) RemoveConnection(c *Connection) {
	if s.epoll != nil {
		_ = s.epoll.Remove(c.Conn)
	}
	current := s.registry.Unregister(c.Identity, c)
	_ = c.Close()

	if !current {
		return
	}

	metrics.ConnectionsTotal.Set(float64(s.registry.Count()))
	logrus.WithFields(logrus.Fields{
		"component":     "ws",
		"identity":      c.Identity,
		"connection_id": c.ID,
		"total":         s.registry.Count(),
	}).Info("connection closed")

	if s.onDisconnect != nil {
		s.onDisconnect(c)
	}
}

// Push queues data for the live connection of identity and returns without
// waiting for the write. It reports false without error when identity is not
// connected to this server. Write failures are handled by the connection's
// writer.
func (s *Server) Push(identity string, data []byte) (bool, error) {
	c, ok := s.registry.Lookup(identity)
	if !ok {
		return false, nil
	}
	if err := c.Enqueue(data); err != nil {
		return true, fmt.Errorf("ws: push to %s: %w", identity, err)
	}
	return true, nil
}

// Shutdown stops the HTTP listener, signals the event loop to exit, closes
// all connections and releases the poller.
func (s *Server) Shutdown() error {
	logrus.WithField("component", "ws").Info("shutting down server")

	close(s.done)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			logrus.WithField("component", "ws").WithError(err).Warn("http shutdown error")
		}
	}

	for _, c := range s.registry.All() {
		if s.epoll != nil {
			_ = s.epoll.Remove(c.Conn)
		}
		s.registry.Unregister(c.Identity, c)
		_ = c.Close()
	}
	metrics.ConnectionsTotal.Set(0)

	if s.epoll != nil {
		_ = s.epoll.Close()
	}

	logrus.WithField("component", "ws").Info("server stopped, all connections closed")
	return nil
}
