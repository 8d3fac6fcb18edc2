package ws

import (
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/gobwas/ws/wsutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Vedant1607/QuickChat/internal/protocol"
)

// readReply reads one server frame from client in the background while
// fn writes it, since net.Pipe writes block until read.
func readReply(t *testing.T, client net.Conn, fn func()) map[string]any {
	t.Helper()
	got := make(chan []byte, 1)
	go func() {
		data, err := wsutil.ReadServerText(client)
		if err == nil {
			got <- data
		}
	}()
	fn()

	select {
	case data := <-got:
		var out map[string]any
		require.NoError(t, json.Unmarshal(data, &out))
		return out
	case <-time.After(2 * time.Second):
		t.Fatal("no reply")
		return nil
	}
}

func TestDispatch_PingGetsPong(t *testing.T) {
	c, client := pipeConn(t, "c1", "alice")
	d := NewMessageDispatcher()

	reply := readReply(t, client, func() { d.Dispatch(c, []byte(`{"type":"ping"}`)) })
	assert.Equal(t, protocol.TypePong, reply["type"])
}

func TestDispatch_RoutesToHandler(t *testing.T) {
	c, _ := pipeConn(t, "c1", "alice")
	d := NewMessageDispatcher()

	var got protocol.MarkSeenMsg
	d.Register(protocol.TypeMarkSeen, func(conn *Connection, msg interface{}) {
		assert.Same(t, c, conn)
		got = msg.(protocol.MarkSeenMsg)
	})

	d.Dispatch(c, []byte(`{"type":"markSeen","messageId":"m1"}`))
	assert.Equal(t, "m1", got.MessageID)
}

func TestDispatch_ErrorsAreReported(t *testing.T) {
	c, client := pipeConn(t, "c1", "alice")
	d := NewMessageDispatcher()

	reply := readReply(t, client, func() { d.Dispatch(c, []byte(`not json`)) })
	assert.Equal(t, protocol.TypeError, reply["type"])
	assert.Equal(t, "parse_error", reply["code"])

	reply = readReply(t, client, func() { d.Dispatch(c, []byte(`{"type":"markSeen","messageId":"m1"}`)) })
	assert.Equal(t, "unsupported_type", reply["code"])
}
