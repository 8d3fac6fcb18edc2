package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// Test: Parsing a valid markSeen event
// ---------------------------------------------------------------------------

func TestParseClientMessage_MarkSeen(t *testing.T) {
	input := []byte(`{"type":"markSeen","messageId":"m-123"}`)

	msgType, msg, err := ParseClientMessage(input)
	require.NoError(t, err)
	assert.Equal(t, TypeMarkSeen, msgType)

	ms, ok := msg.(MarkSeenMsg)
	require.True(t, ok, "expected MarkSeenMsg, got %T", msg)
	assert.Equal(t, "m-123", ms.MessageID)
}

func TestParseClientMessage_MarkSeenWithoutID(t *testing.T) {
	_, msg, err := ParseClientMessage([]byte(`{"type":"markSeen"}`))
	require.Error(t, err)
	assert.Nil(t, msg)
}

func TestParseClientMessage_Ping(t *testing.T) {
	msgType, msg, err := ParseClientMessage([]byte(`{"type":"ping"}`))
	require.NoError(t, err)
	assert.Equal(t, TypePing, msgType)
	assert.IsType(t, PingMsg{}, msg)
}

// ---------------------------------------------------------------------------
// Test: Unknown and server-only types are rejected
// ---------------------------------------------------------------------------

func TestParseClientMessage_UnknownType(t *testing.T) {
	msgType, msg, err := ParseClientMessage([]byte(`{"type":"unknown_type","data":"something"}`))
	require.Error(t, err)
	assert.Nil(t, msg)
	assert.Equal(t, "unknown_type", msgType)
}

func TestParseClientMessage_ServerOnlyType(t *testing.T) {
	_, _, err := ParseClientMessage([]byte(`{"type":"getOnlineUsers","users":[]}`))
	require.Error(t, err)
}

// ---------------------------------------------------------------------------
// Test: Building server events
// ---------------------------------------------------------------------------

func TestNewServerMessage_OnlineUsers(t *testing.T) {
	data, err := NewServerMessage(TypeGetOnlineUsers, OnlineUsersMsg{Users: []string{"a", "b"}})
	require.NoError(t, err)

	var decoded OnlineUsersMsg
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, TypeGetOnlineUsers, decoded.Type)
	assert.Equal(t, []string{"a", "b"}, decoded.Users)
}

func TestNewServerMessage_TypeOverridesPayload(t *testing.T) {
	data, err := NewServerMessage(TypeNewMessage, NewMessageMsg{
		Type:    "bogus",
		Message: map[string]any{"_id": "m1", "text": "hi"},
	})
	require.NoError(t, err)

	var result map[string]any
	require.NoError(t, json.Unmarshal(data, &result))
	assert.Equal(t, TypeNewMessage, result["type"])

	inner, ok := result["message"].(map[string]any)
	require.True(t, ok, "expected message object, got %T", result["message"])
	assert.Equal(t, "m1", inner["_id"])
	assert.Equal(t, "hi", inner["text"])
}

func TestNewServerMessage_UnmarshalablePayload(t *testing.T) {
	_, err := NewServerMessage(TypeError, make(chan int))
	require.Error(t, err)
}

// ---------------------------------------------------------------------------
// Test: Envelope UnmarshalJSON edge cases
// ---------------------------------------------------------------------------

func TestEnvelope_MissingType(t *testing.T) {
	var env Envelope
	require.Error(t, json.Unmarshal([]byte(`{"data":"no type field"}`), &env))
}

func TestEnvelope_InvalidJSON(t *testing.T) {
	var env Envelope
	require.Error(t, json.Unmarshal([]byte(`{invalid json}`), &env))
}

func TestEnvelope_KeepsRawPayload(t *testing.T) {
	input := []byte(`{"type":"markSeen","messageId":"x"}`)
	var env Envelope
	require.NoError(t, json.Unmarshal(input, &env))
	assert.JSONEq(t, string(input), string(env.Raw))
}
