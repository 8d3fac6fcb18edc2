package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process Store. Messages are kept in insertion order, which
// breaks ties between equal timestamps.
type Memory struct {
	mu       sync.RWMutex
	users    map[string]*User
	byEmail  map[string]string // lower-cased email -> user id
	messages []*Message
	byID     map[string]*Message
	now      func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		users:   make(map[string]*User),
		byEmail: make(map[string]string),
		byID:    make(map[string]*Message),
		now:     time.Now,
	}
}

func (m *Memory) CreateUser(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := strings.ToLower(u.Email)
	if _, ok := m.byEmail[key]; ok {
		return fmt.Errorf("store: create user %s: %w", u.Email, ErrDuplicate)
	}

	now := m.now().UTC()
	u.ID = uuid.New().String()
	u.CreatedAt = now
	u.UpdatedAt = now

	cp := *u
	m.users[u.ID] = &cp
	m.byEmail[key] = u.ID
	return nil
}

func (m *Memory) FindUserByEmail(_ context.Context, email string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, ErrNotFound
	}
	u := *m.users[id]
	return &u, nil
}

func (m *Memory) FindUserByID(_ context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *Memory) UpdateUser(_ context.Context, id string, upd UserUpdate) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	if upd.FullName != nil {
		u.FullName = *upd.FullName
	}
	if upd.Bio != nil {
		u.Bio = *upd.Bio
	}
	if upd.ProfilePic != nil {
		u.ProfilePic = *upd.ProfilePic
	}
	u.UpdatedAt = m.now().UTC()

	cp := *u
	return &cp, nil
}

func (m *Memory) FindUsers(_ context.Context, excluding string) ([]User, error) {
	m.mu.RLock()
	users := make([]User, 0, len(m.users))
	for id, u := range m.users {
		if id == excluding {
			continue
		}
		users = append(users, *u)
	}
	m.mu.RUnlock()

	sort.Slice(users, func(i, j int) bool {
		if users[i].FullName != users[j].FullName {
			return users[i].FullName < users[j].FullName
		}
		return users[i].ID < users[j].ID
	})
	return users, nil
}

func (m *Memory) CreateMessage(_ context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC()
	msg.ID = uuid.New().String()
	msg.CreatedAt = now
	msg.UpdatedAt = now

	cp := *msg
	m.messages = append(m.messages, &cp)
	m.byID[cp.ID] = &cp
	return nil
}

func (m *Memory) FindMessage(_ context.Context, id string) (*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msg, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *msg
	return &cp, nil
}

func (m *Memory) FindConversation(_ context.Context, a, b string) ([]Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Message, 0)
	for _, msg := range m.messages {
		if (msg.SenderID == a && msg.ReceiverID == b) || (msg.SenderID == b && msg.ReceiverID == a) {
			out = append(out, *msg)
		}
	}
	// Stable keeps insertion order for equal timestamps.
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *Memory) UpdateMessagesSeen(_ context.Context, sender, receiver string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC()
	var n int64
	for _, msg := range m.messages {
		if msg.SenderID == sender && msg.ReceiverID == receiver && !msg.Seen {
			msg.Seen = true
			msg.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

func (m *Memory) UpdateMessageSeen(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	if !msg.Seen {
		msg.Seen = true
		msg.UpdatedAt = m.now().UTC()
	}
	return nil
}

func (m *Memory) CountUnseenBySender(_ context.Context, receiver string) (map[string]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[string]int)
	for _, msg := range m.messages {
		if msg.ReceiverID == receiver && !msg.Seen {
			counts[msg.SenderID]++
		}
	}
	return counts, nil
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }
