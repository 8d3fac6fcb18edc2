package client

import (
	"sort"
	"sync"

	"github.com/Vedant1607/QuickChat/internal/store"
)

// State is the client's view of the chat: who is online, the contact list,
// unseen counts per peer and the open conversation. It is written by the
// session's consumer goroutine and by the HTTP calls the caller makes; the
// mutex lets other goroutines take consistent snapshots.
type State struct {
	mu       sync.Mutex
	online   map[string]bool
	users    []store.User
	unseen   map[string]int
	openPeer string
	messages []store.Message
}

func newState() *State {
	return &State{
		online: make(map[string]bool),
		unseen: make(map[string]int),
	}
}

// SetOnline replaces the online set. Events always carry the full set.
func (s *State) SetOnline(users []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.online = make(map[string]bool, len(users))
	for _, id := range users {
		s.online[id] = true
	}
}

// SetSidebar replaces the contact list and the unseen map.
func (s *State) SetSidebar(users []store.User, unseen map[string]int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = users
	s.unseen = make(map[string]int, len(unseen))
	for id, n := range unseen {
		if n > 0 {
			s.unseen[id] = n
		}
	}
}

// OpenConversation makes peer the open conversation with history msgs and
// clears its unseen count.
func (s *State) OpenConversation(peer string, msgs []store.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.openPeer = peer
	s.messages = msgs
	delete(s.unseen, peer)
}

// CloseConversation leaves the open conversation.
func (s *State) CloseConversation() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.openPeer = ""
	s.messages = nil
}

// AppendOwn adds a message the user sent to the open conversation.
func (s *State) AppendOwn(m store.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ReceiverID == s.openPeer {
		s.messages = append(s.messages, m)
	}
}

// ApplyNewMessage folds a live-pushed message into the state. A message from
// the open conversation's peer is appended and marked seen locally; the
// caller must then acknowledge it to the server (the returned bool). Any
// other message increments its sender's unseen count.
func (s *State) ApplyNewMessage(m store.Message) (ack bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.openPeer != "" && m.SenderID == s.openPeer {
		m.Seen = true
		s.messages = append(s.messages, m)
		return true
	}
	s.unseen[m.SenderID]++
	return false
}

// Reset discards everything, as on logout.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.online = make(map[string]bool)
	s.users = nil
	s.unseen = make(map[string]int)
	s.openPeer = ""
	s.messages = nil
}

// Online returns the online identities, sorted.
func (s *State) Online() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.online))
	for id := range s.online {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// IsOnline reports whether identity is in the online set.
func (s *State) IsOnline(identity string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online[identity]
}

// Unseen returns a copy of the unseen map.
func (s *State) Unseen() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.unseen))
	for id, n := range s.unseen {
		out[id] = n
	}
	return out
}

// Users returns the contact list.
func (s *State) Users() []store.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]store.User(nil), s.users...)
}

// OpenPeer returns the peer of the open conversation, or "".
func (s *State) OpenPeer() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openPeer
}

// Messages returns the open conversation's messages.
func (s *State) Messages() []store.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]store.Message(nil), s.messages...)
}
