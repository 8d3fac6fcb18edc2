package ws

import (
	"github.com/sirupsen/logrus"

	"github.com/Vedant1607/QuickChat/internal/protocol"
)

// MessageHandler handles one parsed client event. msg is the concrete struct
// returned by protocol.ParseClientMessage (e.g. protocol.MarkSeenMsg).
type MessageHandler func(conn *Connection, msg interface{})

// MessageDispatcher routes client events to registered handlers by type.
// Pings are answered internally; malformed or unsupported events get a
// structured error reply.
type MessageDispatcher struct {
	handlers map[string]MessageHandler
}

// NewMessageDispatcher creates an empty MessageDispatcher.
func NewMessageDispatcher() *MessageDispatcher {
	return &MessageDispatcher{
		handlers: make(map[string]MessageHandler),
	}
}

// Register associates a handler with an event type, replacing any previous
// handler. Handlers must be registered before the server starts.
func (d *MessageDispatcher) Register(msgType string, handler MessageHandler) {
	d.handlers[msgType] = handler
}

// Dispatch is the Server's onMessage callback.
func (d *MessageDispatcher) Dispatch(conn *Connection, data []byte) {
	msgType, msg, err := protocol.ParseClientMessage(data)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"component": "ws",
			"identity":  conn.Identity,
		}).WithError(err).Debug("dispatch parse error")
		SendError(conn, "parse_error", "invalid message format")
		return
	}

	if msgType == protocol.TypePing {
		d.sendPong(conn)
		return
	}

	handler, ok := d.handlers[msgType]
	if !ok {
		SendError(conn, "unsupported_type", "unsupported message type")
		return
	}

	handler(conn, msg)
}

// SendError sends a structured error event to conn. Failures are logged, not
// returned.
func SendError(conn *Connection, code string, message string) {
	data, err := protocol.NewServerMessage(protocol.TypeError, protocol.ErrorMsg{
		Code:    code,
		Message: message,
	})
	if err != nil {
		logrus.WithField("component", "ws").WithError(err).Error("failed to build error message")
		return
	}

	if err := conn.WriteMessage(data); err != nil {
		logrus.WithFields(logrus.Fields{
			"component": "ws",
			"identity":  conn.Identity,
		}).WithError(err).Warn("failed to send error message")
	}
}

func (d *MessageDispatcher) sendPong(conn *Connection) {
	conn.Touch()

	data, err := protocol.NewServerMessage(protocol.TypePong, protocol.PongMsg{})
	if err != nil {
		return
	}
	if err := conn.WriteMessage(data); err != nil {
		logrus.WithFields(logrus.Fields{
			"component": "ws",
			"identity":  conn.Identity,
		}).WithError(err).Warn("failed to send pong")
	}
}
