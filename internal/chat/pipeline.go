// Package chat implements direct-message delivery: validating and persisting
// outgoing messages, pushing them to the receiver's live connection, and
// reconciling seen state and unseen counts.
package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Vedant1607/QuickChat/internal/metrics"
	"github.com/Vedant1607/QuickChat/internal/store"
)

// Uploader stores an inline image and returns its public URL.
type Uploader interface {
	Upload(ctx context.Context, dataURL string) (string, error)
}

// Pusher writes a frame to the live connection of identity on this server.
// It reports false when identity has no local connection.
type Pusher interface {
	Push(identity string, data []byte) (bool, error)
}

// Relay forwards a frame to the server instance holding identity's live
// connection. It reports false when identity is not connected anywhere.
type Relay interface {
	Forward(ctx context.Context, identity string, data []byte) (bool, error)
}

// Pipeline sends direct messages. Persistence always happens before any push,
// so a message a receiver sees live is already in their history.
type Pipeline struct {
	store    store.Store
	uploader Uploader
	pusher   Pusher
	relay    Relay
}

// NewPipeline creates a Pipeline. uploader may be nil, in which case image
// data URLs are rejected with ErrMediaUpload.
func NewPipeline(st store.Store, uploader Uploader, pusher Pusher) *Pipeline {
	return &Pipeline{store: st, uploader: uploader, pusher: pusher}
}

// SetRelay enables forwarding to receivers connected to other instances.
func (p *Pipeline) SetRelay(r Relay) {
	p.relay = r
}

// Send validates, persists and delivers a message from senderID to
// receiverID. Delivery is best effort: a failed or skipped push is logged and
// the persisted message is still returned.
func (p *Pipeline) Send(ctx context.Context, senderID, receiverID string, content Content) (*store.Message, error) {
	start := time.Now()
	log := logrus.WithFields(logrus.Fields{
		"component": "chat",
		"sender":    senderID,
		"receiver":  receiverID,
	})

	content, err := ValidateContent(content)
	if err != nil {
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	if _, err := p.store.FindUserByID(ctx, receiverID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			metrics.MessagesTotal.WithLabelValues("rejected").Inc()
			return nil, fmt.Errorf("chat: send: receiver %s: %w", receiverID, ErrNotFound)
		}
		return nil, fmt.Errorf("chat: send: %w: %w", ErrPersistence, err)
	}

	image := content.Image
	if IsDataURL(image) {
		if p.uploader == nil {
			return nil, fmt.Errorf("%w: no media store configured", ErrMediaUpload)
		}
		image, err = p.uploader.Upload(ctx, content.Image)
		if err != nil {
			log.WithError(err).Error("image upload failed")
			return nil, fmt.Errorf("%w: %w", ErrMediaUpload, err)
		}
	}

	msg := &store.Message{
		SenderID:   senderID,
		ReceiverID: receiverID,
		Text:       content.Text,
		Image:      image,
	}
	if err := p.store.CreateMessage(ctx, msg); err != nil {
		log.WithError(err).Error("persist message failed")
		return nil, fmt.Errorf("chat: send: %w: %w", ErrPersistence, err)
	}
	metrics.MessagesTotal.WithLabelValues("persisted").Inc()

	p.deliver(ctx, msg, log.WithField("message_id", msg.ID))

	metrics.SendLatency.Observe(time.Since(start).Seconds())
	return msg, nil
}

// deliver pushes msg to the receiver at most once: locally if connected here,
// otherwise through the relay when one is configured.
func (p *Pipeline) deliver(ctx context.Context, msg *store.Message, log *logrus.Entry) {
	data, err := NewMessageEvent(msg)
	if err != nil {
		log.WithError(err).Error("failed to build newMessage event")
		return
	}

	pushed, err := p.pusher.Push(msg.ReceiverID, data)
	switch {
	case err != nil:
		metrics.MessagesTotal.WithLabelValues("push_failed").Inc()
		log.WithError(err).Warn("live push failed")
		return
	case pushed:
		metrics.MessagesTotal.WithLabelValues("pushed").Inc()
		log.Debug("message pushed")
		return
	case p.relay == nil:
		metrics.MessagesTotal.WithLabelValues("offline").Inc()
		return
	}

	relayed, err := p.relay.Forward(ctx, msg.ReceiverID, data)
	switch {
	case err != nil:
		metrics.MessagesTotal.WithLabelValues("push_failed").Inc()
		log.WithError(err).Warn("relay failed")
	case relayed:
		metrics.MessagesTotal.WithLabelValues("relayed").Inc()
		log.Debug("message relayed")
	default:
		metrics.MessagesTotal.WithLabelValues("offline").Inc()
	}
}
