// Package client is a Go client for QuickChat. A Session logs in over HTTP,
// holds exactly one WebSocket connection while connected, and folds the
// server's pushed events into a State the caller can render.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/sirupsen/logrus"

	"github.com/Vedant1607/QuickChat/internal/auth"
	"github.com/Vedant1607/QuickChat/internal/chat"
	"github.com/Vedant1607/QuickChat/internal/protocol"
	"github.com/Vedant1607/QuickChat/internal/store"
)

var (
	// ErrNotLoggedIn is returned by calls that need a token.
	ErrNotLoggedIn = errors.New("client: not logged in")
	// ErrAlreadyConnected is returned by Connect while a connection is live.
	ErrAlreadyConnected = errors.New("client: already connected")
)

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("client: server returned %d: %s", e.Status, e.Message)
}

// Event kinds passed to the notify callback.
const (
	EventOnline       = "online"
	EventNewMessage   = "new_message"
	EventDisconnected = "disconnected"
)

// Session is one logged-in user. Its exported methods are safe for concurrent
// use.
type Session struct {
	baseURL string
	http    *http.Client
	state   *State

	mu     sync.Mutex
	token  string
	self   *store.User
	conn   net.Conn
	done   chan struct{}
	notify func(kind string)

	writeMu sync.Mutex
}

// NewSession creates a Session talking to the server at baseURL, e.g.
// "http://localhost:5000".
func NewSession(baseURL string) *Session {
	return &Session{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
		state:   newState(),
	}
}

// State returns the session's client-side state.
func (s *Session) State() *State {
	return s.state
}

// Self returns the logged-in user.
func (s *Session) Self() *store.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.self
}

// OnEvent registers a callback invoked from the consumer goroutine after each
// state change caused by a pushed event.
func (s *Session) OnEvent(fn func(kind string)) {
	s.mu.Lock()
	s.notify = fn
	s.mu.Unlock()
}

// ---------------------------------------------------------------------------
// HTTP
// ---------------------------------------------------------------------------

// call sends a JSON request and decodes the JSON response into out.
func (s *Session) call(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("client: marshal: %w", err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("client: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	s.mu.Lock()
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	s.mu.Unlock()

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("client: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var fail struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&fail)
		return &APIError{Status: resp.StatusCode, Message: fail.Message}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("client: decode %s: %w", path, err)
	}
	return nil
}

func (s *Session) requireLogin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == "" {
		return ErrNotLoggedIn
	}
	return nil
}

type authResponse struct {
	UserData store.User `json:"userData"`
	Token    string     `json:"token"`
}

func (s *Session) setAuth(resp authResponse) {
	s.mu.Lock()
	u := resp.UserData
	s.self = &u
	s.token = resp.Token
	s.mu.Unlock()
}

// Signup creates an account and logs in as it.
func (s *Session) Signup(ctx context.Context, req auth.SignupRequest) error {
	var resp authResponse
	if err := s.call(ctx, http.MethodPost, "/api/auth/signup", req, &resp); err != nil {
		return err
	}
	s.setAuth(resp)
	return nil
}

// Login obtains a token for email and password.
func (s *Session) Login(ctx context.Context, email, password string) error {
	var resp authResponse
	err := s.call(ctx, http.MethodPost, "/api/auth/login", auth.LoginRequest{Email: email, Password: password}, &resp)
	if err != nil {
		return err
	}
	s.setAuth(resp)
	return nil
}

// LoadSidebar replaces the contact list and unseen map from the server.
func (s *Session) LoadSidebar(ctx context.Context) error {
	if err := s.requireLogin(); err != nil {
		return err
	}
	var resp struct {
		Users  []store.User   `json:"users"`
		Unseen map[string]int `json:"unseenMessages"`
	}
	if err := s.call(ctx, http.MethodGet, "/api/messages/users", nil, &resp); err != nil {
		return err
	}
	s.state.SetSidebar(resp.Users, resp.Unseen)
	return nil
}

// OpenConversation fetches the history with peer, which the server marks as
// seen, and makes peer the open conversation.
func (s *Session) OpenConversation(ctx context.Context, peer string) error {
	if err := s.requireLogin(); err != nil {
		return err
	}
	var resp struct {
		Messages []store.Message `json:"messages"`
	}
	if err := s.call(ctx, http.MethodGet, "/api/messages/"+url.PathEscape(peer), nil, &resp); err != nil {
		return err
	}
	s.state.OpenConversation(peer, resp.Messages)
	return nil
}

// CloseConversation leaves the open conversation.
func (s *Session) CloseConversation() {
	s.state.CloseConversation()
}

// Send sends content to peer and returns the persisted message.
func (s *Session) Send(ctx context.Context, peer string, content chat.Content) (*store.Message, error) {
	if err := s.requireLogin(); err != nil {
		return nil, err
	}
	var resp struct {
		NewMessage store.Message `json:"newMessage"`
	}
	if err := s.call(ctx, http.MethodPost, "/api/messages/send/"+url.PathEscape(peer), content, &resp); err != nil {
		return nil, err
	}
	s.state.AppendOwn(resp.NewMessage)
	return &resp.NewMessage, nil
}

// MarkSeen acknowledges one message as seen.
func (s *Session) MarkSeen(ctx context.Context, messageID string) error {
	if err := s.requireLogin(); err != nil {
		return err
	}
	return s.call(ctx, http.MethodPut, "/api/messages/mark/"+url.PathEscape(messageID), nil, nil)
}

// ---------------------------------------------------------------------------
// WebSocket
// ---------------------------------------------------------------------------

func (s *Session) wsURL() (string, error) {
	u, err := url.Parse(s.baseURL)
	if err != nil {
		return "", fmt.Errorf("client: parse base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	s.mu.Lock()
	u.RawQuery = url.Values{"token": {s.token}}.Encode()
	s.mu.Unlock()
	return u.String(), nil
}

// Connect opens the session's single WebSocket connection and starts the
// consumer goroutine. After the connection drops, calling Connect again
// performs a fresh connect.
func (s *Session) Connect(ctx context.Context) error {
	if err := s.requireLogin(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.conn != nil {
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	s.mu.Unlock()

	addr, err := s.wsURL()
	if err != nil {
		return err
	}
	conn, _, _, err := ws.Dial(ctx, addr)
	if err != nil {
		return fmt.Errorf("client: dial: %w", err)
	}

	s.mu.Lock()
	if s.conn != nil {
		s.mu.Unlock()
		conn.Close()
		return ErrAlreadyConnected
	}
	done := make(chan struct{})
	s.conn = conn
	s.done = done
	s.mu.Unlock()

	go s.consume(conn, done)
	return nil
}

// Connected reports whether a connection is live.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Done is closed when the current connection ends. It is nil when not
// connected.
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Ping sends a keepalive over the connection.
func (s *Session) Ping() error {
	return s.writeEvent(protocol.PingMsg{Type: protocol.TypePing})
}

func (s *Session) writeEvent(v any) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return net.ErrClosed
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("client: marshal: %w", err)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return wsutil.WriteClientMessage(conn, ws.OpText, data)
}

// consume is the single reader of conn. It folds every pushed event into the
// state and returns when the connection ends.
func (s *Session) consume(conn net.Conn, done chan struct{}) {
	log := logrus.WithField("component", "client")
	defer func() {
		s.mu.Lock()
		if s.conn == conn {
			s.conn = nil
			s.done = nil
		}
		s.mu.Unlock()
		conn.Close()
		close(done)
		s.emit(EventDisconnected)
	}()

	for {
		data, err := wsutil.ReadServerText(conn)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				log.WithError(err).Debug("connection ended")
			}
			return
		}
		s.handleEvent(data, log)
	}
}

func (s *Session) handleEvent(data []byte, log *logrus.Entry) {
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.WithError(err).Warn("bad event from server")
		return
	}

	switch env.Type {
	case protocol.TypeGetOnlineUsers:
		var ev protocol.OnlineUsersMsg
		if err := json.Unmarshal(env.Raw, &ev); err != nil {
			log.WithError(err).Warn("bad getOnlineUsers event")
			return
		}
		s.state.SetOnline(ev.Users)
		s.emit(EventOnline)

	case protocol.TypeNewMessage:
		var ev struct {
			Message store.Message `json:"message"`
		}
		if err := json.Unmarshal(env.Raw, &ev); err != nil {
			log.WithError(err).Warn("bad newMessage event")
			return
		}
		if s.state.ApplyNewMessage(ev.Message) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := s.MarkSeen(ctx, ev.Message.ID); err != nil {
				log.WithError(err).WithField("message_id", ev.Message.ID).Warn("failed to mark message as seen")
			}
			cancel()
		}
		s.emit(EventNewMessage)

	case protocol.TypeError:
		var ev protocol.ErrorMsg
		_ = json.Unmarshal(env.Raw, &ev)
		log.WithFields(logrus.Fields{"code": ev.Code}).Warn(ev.Message)

	case protocol.TypePong:
	default:
		log.WithField("type", env.Type).Debug("ignoring unknown event")
	}
}

func (s *Session) emit(kind string) {
	s.mu.Lock()
	fn := s.notify
	s.mu.Unlock()
	if fn != nil {
		fn(kind)
	}
}

// Logout closes the connection and discards the token and all state.
func (s *Session) Logout() {
	s.mu.Lock()
	conn := s.conn
	done := s.done
	s.conn = nil
	s.done = nil
	s.token = ""
	s.self = nil
	s.mu.Unlock()

	if conn != nil {
		s.writeMu.Lock()
		_ = ws.WriteFrame(conn, ws.MaskFrame(ws.NewCloseFrame(ws.NewCloseFrameBody(ws.StatusNormalClosure, ""))))
		s.writeMu.Unlock()
		conn.Close()
		<-done
	}
	s.state.Reset()
}
