package store

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// backends returns every Store implementation available in this environment.
// The Postgres backend runs only when QUICKCHAT_TEST_DATABASE_URL points at a
// reachable database; its tables are truncated before and after each test.
func backends(t *testing.T) map[string]func(t *testing.T) Store {
	t.Helper()
	return map[string]func(t *testing.T) Store{
		"memory":   func(t *testing.T) Store { return NewMemory() },
		"postgres": newTestPostgres,
	}
}

func newTestPostgres(t *testing.T) Store {
	t.Helper()
	url := os.Getenv("QUICKCHAT_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("QUICKCHAT_TEST_DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p, err := OpenPostgres(ctx, url)
	if err != nil {
		t.Skipf("postgres not available: %v", err)
	}

	truncate := func(db *sql.DB) {
		_, _ = db.Exec(`TRUNCATE messages, users`)
	}
	truncate(p.db)
	t.Cleanup(func() {
		truncate(p.db)
		p.Close()
	})
	return p
}

func forEachBackend(t *testing.T, fn func(t *testing.T, s Store)) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			fn(t, open(t))
		})
	}
}

func mustUser(t *testing.T, s Store, email, name string) *User {
	t.Helper()
	u := &User{Email: email, FullName: name, Password: "hash", Bio: "hi"}
	require.NoError(t, s.CreateUser(context.Background(), u))
	require.NotEmpty(t, u.ID)
	return u
}

func mustMessage(t *testing.T, s Store, from, to, text string) *Message {
	t.Helper()
	m := &Message{SenderID: from, ReceiverID: to, Text: text}
	require.NoError(t, s.CreateMessage(context.Background(), m))
	require.NotEmpty(t, m.ID)
	return m
}

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

func TestUsers_CreateAndFind(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		u := mustUser(t, s, "Alice@Example.com", "Alice")

		byEmail, err := s.FindUserByEmail(ctx, "alice@example.com")
		require.NoError(t, err)
		assert.Equal(t, u.ID, byEmail.ID)
		assert.Equal(t, "hash", byEmail.Password)

		byID, err := s.FindUserByID(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, "Alice", byID.FullName)

		_, err = s.FindUserByID(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = s.FindUserByEmail(ctx, "nobody@example.com")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestUsers_DuplicateEmail(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		mustUser(t, s, "bob@example.com", "Bob")
		err := s.CreateUser(context.Background(), &User{Email: "BOB@example.com", FullName: "Bobby", Password: "x"})
		assert.ErrorIs(t, err, ErrDuplicate)
	})
}

func TestUsers_UpdateAndList(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		alice := mustUser(t, s, "alice@example.com", "Alice")
		bob := mustUser(t, s, "bob@example.com", "Bob")

		bio := "new bio"
		updated, err := s.UpdateUser(ctx, alice.ID, UserUpdate{Bio: &bio})
		require.NoError(t, err)
		assert.Equal(t, "new bio", updated.Bio)
		assert.Equal(t, "Alice", updated.FullName)

		_, err = s.UpdateUser(ctx, "missing", UserUpdate{Bio: &bio})
		assert.ErrorIs(t, err, ErrNotFound)

		others, err := s.FindUsers(ctx, alice.ID)
		require.NoError(t, err)
		require.Len(t, others, 1)
		assert.Equal(t, bob.ID, others[0].ID)
	})
}

// ---------------------------------------------------------------------------
// Messages
// ---------------------------------------------------------------------------

func TestMessages_ConversationBothDirectionsInOrder(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		a := mustUser(t, s, "a@example.com", "A")
		b := mustUser(t, s, "b@example.com", "B")
		c := mustUser(t, s, "c@example.com", "C")

		m1 := mustMessage(t, s, a.ID, b.ID, "one")
		mustMessage(t, s, a.ID, c.ID, "elsewhere")
		m2 := mustMessage(t, s, b.ID, a.ID, "two")
		m3 := mustMessage(t, s, a.ID, b.ID, "three")

		conv, err := s.FindConversation(ctx, b.ID, a.ID)
		require.NoError(t, err)
		require.Len(t, conv, 3)
		assert.Equal(t, []string{m1.ID, m2.ID, m3.ID}, []string{conv[0].ID, conv[1].ID, conv[2].ID})
		assert.False(t, conv[0].Seen)
	})
}

func TestMessages_EmptyConversationIsNotNil(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		a := mustUser(t, s, "a@example.com", "A")
		b := mustUser(t, s, "b@example.com", "B")

		conv, err := s.FindConversation(context.Background(), a.ID, b.ID)
		require.NoError(t, err)
		assert.NotNil(t, conv)
		assert.Empty(t, conv)
	})
}

func TestMessages_MarkSeenIsIdempotent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		a := mustUser(t, s, "a@example.com", "A")
		b := mustUser(t, s, "b@example.com", "B")
		m := mustMessage(t, s, a.ID, b.ID, "hi")

		require.NoError(t, s.UpdateMessageSeen(ctx, m.ID))
		require.NoError(t, s.UpdateMessageSeen(ctx, m.ID))

		got, err := s.FindMessage(ctx, m.ID)
		require.NoError(t, err)
		assert.True(t, got.Seen)

		assert.ErrorIs(t, s.UpdateMessageSeen(ctx, "missing"), ErrNotFound)
		_, err = s.FindMessage(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestMessages_BatchSeenIsDirectional(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		a := mustUser(t, s, "a@example.com", "A")
		b := mustUser(t, s, "b@example.com", "B")

		mustMessage(t, s, a.ID, b.ID, "1")
		mustMessage(t, s, a.ID, b.ID, "2")
		reply := mustMessage(t, s, b.ID, a.ID, "3")

		n, err := s.UpdateMessagesSeen(ctx, a.ID, b.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		n, err = s.UpdateMessagesSeen(ctx, a.ID, b.ID)
		require.NoError(t, err)
		assert.Zero(t, n)

		got, err := s.FindMessage(ctx, reply.ID)
		require.NoError(t, err)
		assert.False(t, got.Seen, "messages in the other direction must stay unseen")
	})
}

func TestMessages_CountUnseenBySender(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		viewer := mustUser(t, s, "v@example.com", "V")
		p1 := mustUser(t, s, "p1@example.com", "P1")
		p2 := mustUser(t, s, "p2@example.com", "P2")
		p3 := mustUser(t, s, "p3@example.com", "P3")

		mustMessage(t, s, p1.ID, viewer.ID, "a")
		mustMessage(t, s, p1.ID, viewer.ID, "b")
		mustMessage(t, s, p2.ID, viewer.ID, "c")
		seen := mustMessage(t, s, p3.ID, viewer.ID, "d")
		mustMessage(t, s, viewer.ID, p1.ID, "outgoing")
		require.NoError(t, s.UpdateMessageSeen(ctx, seen.ID))

		counts, err := s.CountUnseenBySender(ctx, viewer.ID)
		require.NoError(t, err)
		assert.Equal(t, map[string]int{p1.ID: 2, p2.ID: 1}, counts)
	})
}

// ---------------------------------------------------------------------------
// Memory-specific ordering
// ---------------------------------------------------------------------------

func TestMemory_EqualTimestampsKeepInsertionOrder(t *testing.T) {
	s := NewMemory()
	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	a := mustUser(t, s, "a@example.com", "A")
	b := mustUser(t, s, "b@example.com", "B")

	var want []string
	for _, text := range []string{"first", "second", "third", "fourth"} {
		want = append(want, mustMessage(t, s, a.ID, b.ID, text).ID)
	}

	conv, err := s.FindConversation(context.Background(), a.ID, b.ID)
	require.NoError(t, err)
	got := make([]string, 0, len(conv))
	for _, m := range conv {
		got = append(got, m.ID)
	}
	assert.Equal(t, want, got)
}

func TestMemory_ReturnsCopies(t *testing.T) {
	s := NewMemory()
	a := mustUser(t, s, "a@example.com", "A")
	b := mustUser(t, s, "b@example.com", "B")
	m := mustMessage(t, s, a.ID, b.ID, "hi")

	got, err := s.FindMessage(context.Background(), m.ID)
	require.NoError(t, err)
	got.Seen = true

	again, err := s.FindMessage(context.Background(), m.ID)
	require.NoError(t, err)
	assert.False(t, again.Seen)
}
