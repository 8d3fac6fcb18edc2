// Package store persists QuickChat users and direct messages. Postgres is the
// durable backend; Memory serves single-process deployments and tests.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a user or message does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicate is returned when a user with the same email already exists.
	ErrDuplicate = errors.New("store: duplicate")
)

// User is an account. Password holds the bcrypt hash and is never serialised.
type User struct {
	ID         string    `json:"_id"`
	Email      string    `json:"email"`
	FullName   string    `json:"fullName"`
	Password   string    `json:"-"`
	Bio        string    `json:"bio"`
	ProfilePic string    `json:"profilePic"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// UserUpdate carries the profile fields to change. Nil fields are left as is.
type UserUpdate struct {
	FullName   *string
	Bio        *string
	ProfilePic *string
}

// Message is one direct message. Exactly one of Text or Image is set.
type Message struct {
	ID         string    `json:"_id"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	Text       string    `json:"text,omitempty"`
	Image      string    `json:"image,omitempty"`
	Seen       bool      `json:"seen"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Store is the durable record of users and messages.
type Store interface {
	// CreateUser assigns an ID and timestamps to u and inserts it.
	CreateUser(ctx context.Context, u *User) error
	FindUserByEmail(ctx context.Context, email string) (*User, error)
	FindUserByID(ctx context.Context, id string) (*User, error)
	UpdateUser(ctx context.Context, id string, upd UserUpdate) (*User, error)
	// FindUsers returns every user except the one with id excluding.
	FindUsers(ctx context.Context, excluding string) ([]User, error)

	// CreateMessage assigns an ID and timestamps to m and inserts it.
	CreateMessage(ctx context.Context, m *Message) error
	FindMessage(ctx context.Context, id string) (*Message, error)
	// FindConversation returns the messages exchanged between a and b in both
	// directions, oldest first.
	FindConversation(ctx context.Context, a, b string) ([]Message, error)
	// UpdateMessagesSeen marks every unseen message from sender to receiver
	// as seen and reports how many changed.
	UpdateMessagesSeen(ctx context.Context, sender, receiver string) (int64, error)
	// UpdateMessageSeen marks one message as seen. Marking a seen message
	// again is not an error.
	UpdateMessageSeen(ctx context.Context, id string) error
	// CountUnseenBySender groups the unseen messages addressed to receiver by
	// sender. Senders with nothing unseen are absent from the map.
	CountUnseenBySender(ctx context.Context, receiver string) (map[string]int, error)

	Close() error
}
