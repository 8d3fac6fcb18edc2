package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/Vedant1607/QuickChat/internal/session"
)

// DeliveryEvent is published to the delivery subject of the instance that
// holds the receiver's connection. Data is the complete server frame.
type DeliveryEvent struct {
	ReceiverID string          `json:"receiverId"`
	Data       json.RawMessage `json:"data"`
}

// Publisher publishes raw bytes to a subject. NATSClient implements it.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Subscriber subscribes a handler to a subject. NATSClient implements it.
type Subscriber interface {
	Subscribe(subject string, handler func(data []byte)) error
}

// RouteLookup resolves where an identity is connected. session.Store
// implements it.
type RouteLookup interface {
	Get(ctx context.Context, identity string) (*session.Route, error)
}

// Stopper detaches a subscription and flushes outstanding publishes.
// NATSClient implements it.
type Stopper interface {
	Unsubscribe(subject string) error
	Flush() error
}

// Pusher writes a frame to a locally connected identity.
type Pusher interface {
	Push(identity string, data []byte) (bool, error)
}

// Relay forwards frames for receivers connected to other instances and
// delivers frames forwarded to this one.
type Relay struct {
	pub    Publisher
	routes RouteLookup
	server string // this instance's name
}

// NewRelay creates a Relay for the instance named server.
func NewRelay(pub Publisher, routes RouteLookup, server string) *Relay {
	return &Relay{pub: pub, routes: routes, server: server}
}

// DeliverSubject returns the subject the named instance listens on.
func DeliverSubject(server string) string {
	return SubjectDeliver + "." + server
}

// Forward publishes data to the instance holding identity's connection. It
// reports false when identity has no route, or when the route names this
// instance (the caller has already found no local connection).
func (r *Relay) Forward(ctx context.Context, identity string, data []byte) (bool, error) {
	route, err := r.routes.Get(ctx, identity)
	if err != nil {
		return false, err
	}
	if route == nil || route.Server == r.server {
		return false, nil
	}

	payload, err := json.Marshal(DeliveryEvent{ReceiverID: identity, Data: data})
	if err != nil {
		return false, fmt.Errorf("messaging: marshal delivery: %w", err)
	}
	if err := r.pub.Publish(DeliverSubject(route.Server), payload); err != nil {
		return false, fmt.Errorf("messaging: publish delivery to %s: %w", route.Server, err)
	}
	return true, nil
}

// Listen subscribes to this instance's delivery subject and pushes every
// forwarded frame to its local receiver. A receiver who disconnected in the
// meantime is skipped; the message is already persisted.
func (r *Relay) Listen(sub Subscriber, pusher Pusher) error {
	return sub.Subscribe(DeliverSubject(r.server), func(data []byte) {
		r.handleDelivery(data, pusher)
	})
}

// Stop unsubscribes this instance's delivery subject and flushes what has
// already been forwarded, so in-flight frames reach their instance before
// the connection closes.
func (r *Relay) Stop(s Stopper) error {
	if err := s.Unsubscribe(DeliverSubject(r.server)); err != nil {
		return err
	}
	if err := s.Flush(); err != nil {
		return fmt.Errorf("messaging: flush on stop: %w", err)
	}
	return nil
}

func (r *Relay) handleDelivery(data []byte, pusher Pusher) {
	log := logrus.WithField("component", "relay")

	var ev DeliveryEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		log.WithError(err).Warn("bad delivery event")
		return
	}
	if ev.ReceiverID == "" || len(ev.Data) == 0 {
		log.Warn("delivery event missing receiver or data")
		return
	}

	pushed, err := pusher.Push(ev.ReceiverID, ev.Data)
	log = log.WithField("identity", ev.ReceiverID)
	switch {
	case err != nil:
		log.WithError(err).Warn("relayed push failed")
	case !pushed:
		log.Debug("relayed receiver no longer connected")
	default:
		log.Debug("relayed message pushed")
	}
}
