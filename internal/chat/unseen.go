package chat

import (
	"context"
	"fmt"

	"github.com/Vedant1607/QuickChat/internal/store"
)

// Sidebar is what a client needs to render its contact list.
type Sidebar struct {
	Users  []store.User   `json:"users"`
	Unseen map[string]int `json:"unseenMessages"`
}

// Unseen aggregates unseen message counts per sender.
type Unseen struct {
	store store.Store
}

// NewUnseen creates an Unseen aggregator over st.
func NewUnseen(st store.Store) *Unseen {
	return &Unseen{store: st}
}

// ComputeUnseenMap returns, for every peer with at least one unseen message
// to viewerID, the number of such messages. It issues a single grouped query.
func (u *Unseen) ComputeUnseenMap(ctx context.Context, viewerID string) (map[string]int, error) {
	counts, err := u.store.CountUnseenBySender(ctx, viewerID)
	if err != nil {
		return nil, fmt.Errorf("chat: unseen counts: %w: %w", ErrPersistence, err)
	}
	return counts, nil
}

// Sidebar returns every user except viewerID together with the unseen map.
func (u *Unseen) Sidebar(ctx context.Context, viewerID string) (*Sidebar, error) {
	users, err := u.store.FindUsers(ctx, viewerID)
	if err != nil {
		return nil, fmt.Errorf("chat: sidebar users: %w: %w", ErrPersistence, err)
	}
	counts, err := u.ComputeUnseenMap(ctx, viewerID)
	if err != nil {
		return nil, err
	}
	return &Sidebar{Users: users, Unseen: counts}, nil
}
