// Package presence announces the set of online identities to every connected
// client whenever registry membership changes.
package presence

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/Vedant1607/QuickChat/internal/metrics"
	"github.com/Vedant1607/QuickChat/internal/protocol"
)

// Source is the connection registry as seen by the broadcaster: the current
// online set and a way to write to every registered connection.
type Source interface {
	Online() []string
	Broadcast(msg []byte) (failed int)
}

// Broadcaster sends the full online set, never a delta, so a client that
// missed an event is corrected by the next one.
type Broadcaster struct {
	src Source
	mu  sync.Mutex // orders snapshots so the last broadcast reflects the latest membership
}

// NewBroadcaster creates a Broadcaster reading from src.
func NewBroadcaster(src Source) *Broadcaster {
	return &Broadcaster{src: src}
}

// BroadcastOnlineSet sends a getOnlineUsers event to every registered
// connection. It is fire-and-forget: the event is queued per connection and
// handles that cannot take it are counted and logged.
func (b *Broadcaster) BroadcastOnlineSet() {
	b.mu.Lock()
	defer b.mu.Unlock()

	users := b.src.Online()
	data, err := protocol.NewServerMessage(protocol.TypeGetOnlineUsers, protocol.OnlineUsersMsg{
		Users: users,
	})
	if err != nil {
		logrus.WithField("component", "presence").WithError(err).Error("failed to build online users event")
		return
	}

	failed := b.src.Broadcast(data)
	metrics.PresenceBroadcasts.Inc()

	entry := logrus.WithFields(logrus.Fields{
		"component": "presence",
		"online":    len(users),
		"failed":    failed,
	})
	if failed > 0 {
		entry.Warn("online set broadcast skipped some connections")
		return
	}
	entry.Debug("online set broadcast")
}
