package chat

import (
	"github.com/Vedant1607/QuickChat/internal/protocol"
	"github.com/Vedant1607/QuickChat/internal/store"
)

// NewMessageEvent builds the newMessage frame pushed to a receiver's live
// connection.
func NewMessageEvent(m *store.Message) ([]byte, error) {
	return protocol.NewServerMessage(protocol.TypeNewMessage, protocol.NewMessageMsg{Message: m})
}
