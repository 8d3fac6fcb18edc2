package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/Vedant1607/QuickChat/internal/metrics"
	"github.com/Vedant1607/QuickChat/internal/store"
)

// Reconciler moves messages from unseen to seen. Seen never flips back.
type Reconciler struct {
	store store.Store
}

// NewReconciler creates a Reconciler over st.
func NewReconciler(st store.Store) *Reconciler {
	return &Reconciler{store: st}
}

// MarkSeen marks one message as seen on behalf of viewerID, who must be its
// receiver. A message that belongs to someone else is reported as not found.
// Marking an already seen message succeeds.
func (r *Reconciler) MarkSeen(ctx context.Context, viewerID, messageID string) error {
	msg, err := r.store.FindMessage(ctx, messageID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("chat: mark seen %s: %w", messageID, ErrNotFound)
		}
		return fmt.Errorf("chat: mark seen: %w: %w", ErrPersistence, err)
	}
	if msg.ReceiverID != viewerID {
		return fmt.Errorf("chat: mark seen %s: %w", messageID, ErrNotFound)
	}
	if msg.Seen {
		return nil
	}

	if err := r.store.UpdateMessageSeen(ctx, messageID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("chat: mark seen %s: %w", messageID, ErrNotFound)
		}
		return fmt.Errorf("chat: mark seen: %w: %w", ErrPersistence, err)
	}
	metrics.SeenUpdates.WithLabelValues("single").Inc()
	return nil
}

// MarkConversationSeen marks every unseen message from peerID to viewerID as
// seen in one batched update.
func (r *Reconciler) MarkConversationSeen(ctx context.Context, peerID, viewerID string) error {
	n, err := r.store.UpdateMessagesSeen(ctx, peerID, viewerID)
	if err != nil {
		return fmt.Errorf("chat: mark conversation seen: %w: %w", ErrPersistence, err)
	}
	if n > 0 {
		metrics.SeenUpdates.WithLabelValues("conversation").Add(float64(n))
		logrus.WithFields(logrus.Fields{
			"component": "chat",
			"viewer":    viewerID,
			"peer":      peerID,
			"count":     n,
		}).Debug("conversation marked seen")
	}
	return nil
}

// Conversation returns the history between viewerID and peerID, oldest
// first, and marks the peer's messages to the viewer as seen. The returned
// messages already reflect that change. An unknown peer is ErrNotFound.
func (r *Reconciler) Conversation(ctx context.Context, viewerID, peerID string) ([]store.Message, error) {
	if _, err := r.store.FindUserByID(ctx, peerID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("chat: load conversation with %s: %w", peerID, ErrNotFound)
		}
		return nil, fmt.Errorf("chat: load conversation: %w: %w", ErrPersistence, err)
	}

	msgs, err := r.store.FindConversation(ctx, viewerID, peerID)
	if err != nil {
		return nil, fmt.Errorf("chat: load conversation: %w: %w", ErrPersistence, err)
	}
	if err := r.MarkConversationSeen(ctx, peerID, viewerID); err != nil {
		return nil, err
	}

	for i := range msgs {
		if msgs[i].SenderID == peerID && msgs[i].ReceiverID == viewerID {
			msgs[i].Seen = true
		}
	}
	return msgs, nil
}
