package ws

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tokenAuth accepts any token except "bad" and uses it as the identity.
type tokenAuth struct{}

func (tokenAuth) Verify(token string) (string, error) {
	if token == "bad" {
		return "", errors.New("invalid")
	}
	return token, nil
}

type recorder struct {
	mu          sync.Mutex
	messages    []string
	connects    []string
	disconnects []string
}

func (r *recorder) snapshot() (msgs, conns, discs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.messages...),
		append([]string(nil), r.connects...),
		append([]string(nil), r.disconnects...)
}

// startTestServer runs a Server's handlers and event loop on an httptest
// listener.
func startTestServer(t *testing.T, cfg ServerConfig) (*Server, *recorder, string) {
	t.Helper()
	rec := &recorder{}
	s := NewServer(cfg, tokenAuth{}, func(c *Connection, data []byte) {
		rec.mu.Lock()
		rec.messages = append(rec.messages, c.Identity+":"+string(data))
		rec.mu.Unlock()
	})
	s.SetOnConnect(func(c *Connection) {
		rec.mu.Lock()
		rec.connects = append(rec.connects, c.Identity)
		rec.mu.Unlock()
	})
	s.SetOnDisconnect(func(c *Connection) {
		rec.mu.Lock()
		rec.disconnects = append(rec.disconnects, c.Identity)
		rec.mu.Unlock()
	})

	ep, err := NewEpoll()
	require.NoError(t, err)
	s.epoll = ep
	s.startedAt = time.Now()
	go s.startEventLoop()

	hs := httptest.NewServer(s.mux)
	t.Cleanup(func() {
		_ = s.Shutdown()
		hs.Close()
	})
	return s, rec, "ws" + strings.TrimPrefix(hs.URL, "http")
}

func testConfig() ServerConfig {
	cfg := DefaultServerConfig()
	cfg.WorkerPoolSize = 8
	cfg.ReadTimeout = time.Second
	cfg.WriteTimeout = time.Second
	return cfg
}

func dial(t *testing.T, base, token string) net.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, _, err := ws.Dial(ctx, base+"/ws?token="+token)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}

// ---------------------------------------------------------------------------
// Admission
// ---------------------------------------------------------------------------

func TestUpgrade_RejectsMissingOrInvalidToken(t *testing.T) {
	_, _, base := startTestServer(t, testConfig())
	httpBase := "http" + strings.TrimPrefix(base, "ws")

	for _, path := range []string{"/ws", "/ws?token=bad"} {
		resp, err := http.Get(httpBase + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, path)
	}

	_, _, _, err := ws.Dial(context.Background(), base+"/ws?token=bad")
	require.Error(t, err)
}

func TestUpgrade_RegistersAndPushes(t *testing.T) {
	s, rec, base := startTestServer(t, testConfig())
	conn := dial(t, base, "alice")

	waitFor(t, func() bool {
		_, connects, _ := rec.snapshot()
		return len(connects) == 1
	})
	_, connects, _ := rec.snapshot()
	assert.Equal(t, []string{"alice"}, connects)

	pushed, err := s.Push("alice", []byte(`{"type":"newMessage"}`))
	require.NoError(t, err)
	assert.True(t, pushed)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	data, err := wsutil.ReadServerText(conn)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"newMessage"}`, string(data))

	pushed, err = s.Push("nobody", []byte(`{}`))
	require.NoError(t, err)
	assert.False(t, pushed)
}

func TestUpgrade_MaxConnections(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConnections = 1
	s, _, base := startTestServer(t, cfg)

	dial(t, base, "alice")
	waitFor(t, func() bool { return s.Registry().Count() == 1 })

	_, _, _, err := ws.Dial(context.Background(), base+"/ws?token=bob")
	require.Error(t, err)

	dial(t, base, "alice")
}

// ---------------------------------------------------------------------------
// Last connect wins
// ---------------------------------------------------------------------------

func TestReconnect_DisplacesAndClosesOldHandle(t *testing.T) {
	s, rec, base := startTestServer(t, testConfig())

	old := dial(t, base, "alice")
	waitFor(t, func() bool { return s.Registry().Count() == 1 })
	first, _ := s.Registry().Lookup("alice")

	fresh := dial(t, base, "alice")
	waitFor(t, func() bool {
		c, ok := s.Registry().Lookup("alice")
		return ok && c != first
	})

	// The displaced socket is closed by the server.
	_ = old.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err := wsutil.ReadServerText(old)
	require.Error(t, err)

	assert.Equal(t, 1, s.Registry().Count())
	waitFor(t, func() bool {
		_, connects, _ := rec.snapshot()
		return len(connects) == 2
	})
	_, connects, discs := rec.snapshot()
	assert.Equal(t, []string{"alice", "alice"}, connects)
	assert.Empty(t, discs, "replacing a handle is not a disconnect")

	// Pushes reach the newer handle.
	pushed, err := s.Push("alice", []byte(`{"n":2}`))
	require.NoError(t, err)
	require.True(t, pushed)
	_ = fresh.SetReadDeadline(time.Now().Add(2 * time.Second))
	data, err := wsutil.ReadServerText(fresh)
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":2}`, string(data))

	// Closing the current handle is a real disconnect.
	require.NoError(t, fresh.Close())
	waitFor(t, func() bool {
		_, _, discs := rec.snapshot()
		return len(discs) == 1
	})
	assert.Zero(t, s.Registry().Count())
	_, _, discs = rec.snapshot()
	assert.Equal(t, []string{"alice"}, discs)
}

// ---------------------------------------------------------------------------
// Reading frames
// ---------------------------------------------------------------------------

func TestClientFramesReachHandler(t *testing.T) {
	s, rec, base := startTestServer(t, testConfig())
	conn := dial(t, base, "bob")
	waitFor(t, func() bool { return s.Registry().Count() == 1 })

	require.NoError(t, wsutil.WriteClientMessage(conn, ws.OpText, []byte("first")))
	require.NoError(t, wsutil.WriteClientMessage(conn, ws.OpText, []byte("second")))

	waitFor(t, func() bool {
		msgs, _, _ := rec.snapshot()
		return len(msgs) == 2
	})
	msgs, _, _ := rec.snapshot()
	assert.Equal(t, []string{"bob:first", "bob:second"}, msgs)
}

func TestPingWithPayloadKeepsFramesAligned(t *testing.T) {
	s, rec, base := startTestServer(t, testConfig())
	conn := dial(t, base, "alice")
	waitFor(t, func() bool { return s.Registry().Count() == 1 })

	require.NoError(t, ws.WriteFrame(conn, ws.MaskFrame(ws.NewPingFrame([]byte("abc")))))
	require.NoError(t, wsutil.WriteClientText(conn, []byte("hello")))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var pong ws.Frame
	for {
		f, err := ws.ReadFrame(conn)
		require.NoError(t, err)
		if f.Header.OpCode == ws.OpPong {
			pong = f
			break
		}
	}
	assert.Equal(t, "abc", string(pong.Payload))

	waitFor(t, func() bool {
		msgs, _, _ := rec.snapshot()
		return len(msgs) == 1
	})
	msgs, _, _ := rec.snapshot()
	assert.Equal(t, []string{"alice:hello"}, msgs)
	assert.Equal(t, 1, s.Registry().Count(), "connection survives the ping")
}

func TestCloseFrameRemovesConnection(t *testing.T) {
	s, rec, base := startTestServer(t, testConfig())
	conn := dial(t, base, "carol")
	waitFor(t, func() bool { return s.Registry().Count() == 1 })

	closeFrame := ws.MaskFrame(ws.NewCloseFrame(ws.NewCloseFrameBody(ws.StatusNormalClosure, "")))
	require.NoError(t, ws.WriteFrame(conn, closeFrame))

	waitFor(t, func() bool {
		_, _, discs := rec.snapshot()
		return len(discs) == 1
	})
	assert.Zero(t, s.Registry().Count())
	_, _, discs := rec.snapshot()
	assert.Equal(t, []string{"carol"}, discs)
}

func TestHealth(t *testing.T) {
	_, _, base := startTestServer(t, testConfig())
	resp, err := http.Get("http" + strings.TrimPrefix(base, "ws") + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

// ---------------------------------------------------------------------------
// Heartbeat
// ---------------------------------------------------------------------------

func TestHeartbeat_EvictsSilentConnections(t *testing.T) {
	s, rec, base := startTestServer(t, testConfig())
	dial(t, base, "dave")
	waitFor(t, func() bool { return s.Registry().Count() == 1 })

	cfg := DefaultHeartbeatConfig()
	checkConnections(s, cfg, time.Now().Add(cfg.Interval+cfg.Timeout+time.Second))

	assert.Zero(t, s.Registry().Count())
	_, _, discs := rec.snapshot()
	assert.Equal(t, []string{"dave"}, discs)
}

func TestHeartbeat_PingsActiveConnections(t *testing.T) {
	s, _, base := startTestServer(t, testConfig())
	conn := dial(t, base, "erin")
	waitFor(t, func() bool { return s.Registry().Count() == 1 })

	checkConnections(s, DefaultHeartbeatConfig(), time.Now())
	assert.Equal(t, 1, s.Registry().Count())

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	header, err := ws.ReadHeader(conn)
	require.NoError(t, err)
	assert.Equal(t, ws.OpPing, header.OpCode)
}
