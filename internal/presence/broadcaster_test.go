package presence

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Vedant1607/QuickChat/internal/protocol"
)

type fakeSource struct {
	mu     sync.Mutex
	online []string
	sent   [][]byte
	fail   int
}

func (f *fakeSource) Online() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.online...)
}

func (f *fakeSource) Broadcast(msg []byte) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return f.fail
}

func (f *fakeSource) set(ids ...string) {
	f.mu.Lock()
	f.online = ids
	f.mu.Unlock()
}

func decode(t *testing.T, data []byte) protocol.OnlineUsersMsg {
	t.Helper()
	var msg protocol.OnlineUsersMsg
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestBroadcastOnlineSet_SendsFullSet(t *testing.T) {
	src := &fakeSource{online: []string{"alice", "bob"}}
	b := NewBroadcaster(src)

	b.BroadcastOnlineSet()

	require.Len(t, src.sent, 1)
	msg := decode(t, src.sent[0])
	assert.Equal(t, protocol.TypeGetOnlineUsers, msg.Type)
	assert.Equal(t, []string{"alice", "bob"}, msg.Users)
}

func TestBroadcastOnlineSet_EmptySetIsArray(t *testing.T) {
	src := &fakeSource{online: []string{}}
	NewBroadcaster(src).BroadcastOnlineSet()

	require.Len(t, src.sent, 1)
	assert.Contains(t, string(src.sent[0]), `"users":[]`)
}

func TestBroadcastOnlineSet_FailedWritesAreNotFatal(t *testing.T) {
	src := &fakeSource{online: []string{"alice"}, fail: 1}
	b := NewBroadcaster(src)

	b.BroadcastOnlineSet()
	b.BroadcastOnlineSet()

	assert.Len(t, src.sent, 2)
}

func TestBroadcastOnlineSet_ReflectsMembershipChanges(t *testing.T) {
	src := &fakeSource{}
	b := NewBroadcaster(src)

	src.set("alice")
	b.BroadcastOnlineSet()
	src.set("alice", "bob")
	b.BroadcastOnlineSet()
	src.set("bob")
	b.BroadcastOnlineSet()

	require.Len(t, src.sent, 3)
	assert.Equal(t, []string{"alice"}, decode(t, src.sent[0]).Users)
	assert.Equal(t, []string{"alice", "bob"}, decode(t, src.sent[1]).Users)
	assert.Equal(t, []string{"bob"}, decode(t, src.sent[2]).Users)
}
