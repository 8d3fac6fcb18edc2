package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// uniqueViolation is the Postgres SQLSTATE for a unique constraint failure.
const uniqueViolation = "23505"

// Postgres is the durable Store.
type Postgres struct {
	db *sql.DB
}

// OpenPostgres connects to the database at url, verifies the connection and
// applies pending migrations.
func OpenPostgres(ctx context.Context, url string) (*Postgres, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("store: open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping postgres: %w", err)
	}
	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return NewPostgres(db), nil
}

// NewPostgres wraps an open, migrated database handle.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

const userColumns = `id, email, full_name, password, bio, profile_pic, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.FullName, &u.Password, &u.Bio, &u.ProfilePic, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (p *Postgres) CreateUser(ctx context.Context, u *User) error {
	u.ID = uuid.New().String()

	const query = `
		INSERT INTO users (id, email, full_name, password, bio, profile_pic)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`

	err := p.db.QueryRowContext(ctx, query,
		u.ID, u.Email, u.FullName, u.Password, u.Bio, u.ProfilePic,
	).Scan(&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("store: create user %s: %w", u.Email, ErrDuplicate)
		}
		return fmt.Errorf("store: create user: %w", err)
	}
	return nil
}

func (p *Postgres) FindUserByEmail(ctx context.Context, email string) (*User, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email)
	u, err := scanUser(row)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("store: find user by email: %w", err)
	}
	return u, err
}

func (p *Postgres) FindUserByID(ctx context.Context, id string) (*User, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	u, err := scanUser(row)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("store: find user: %w", err)
	}
	return u, err
}

func (p *Postgres) UpdateUser(ctx context.Context, id string, upd UserUpdate) (*User, error) {
	sets := make([]string, 0, 4)
	args := make([]any, 0, 4)
	add := func(col string, v *string) {
		if v == nil {
			return
		}
		args = append(args, *v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	add("full_name", upd.FullName)
	add("bio", upd.Bio)
	add("profile_pic", upd.ProfilePic)
	sets = append(sets, "updated_at = now()")
	args = append(args, id)

	query := fmt.Sprintf(`UPDATE users SET %s WHERE id = $%d RETURNING `+userColumns,
		strings.Join(sets, ", "), len(args))

	u, err := scanUser(p.db.QueryRowContext(ctx, query, args...))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("store: update user: %w", err)
	}
	return u, err
}

func (p *Postgres) FindUsers(ctx context.Context, excluding string) ([]User, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id <> $1 ORDER BY full_name, id`, excluding)
	if err != nil {
		return nil, fmt.Errorf("store: find users: %w", err)
	}
	defer rows.Close()

	users := make([]User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan user: %w", err)
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: find users: %w", err)
	}
	return users, nil
}

const messageColumns = `id, sender_id, receiver_id, text, image, seen, created_at, updated_at`

func scanMessage(row interface{ Scan(...any) error }) (*Message, error) {
	var m Message
	err := row.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Text, &m.Image, &m.Seen, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (p *Postgres) CreateMessage(ctx context.Context, m *Message) error {
	m.ID = uuid.New().String()
	m.Seen = false

	const query = `
		INSERT INTO messages (id, sender_id, receiver_id, text, image)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`

	if err := p.db.QueryRowContext(ctx, query,
		m.ID, m.SenderID, m.ReceiverID, m.Text, m.Image,
	).Scan(&m.CreatedAt, &m.UpdatedAt); err != nil {
		return fmt.Errorf("store: create message: %w", err)
	}
	return nil
}

func (p *Postgres) FindMessage(ctx context.Context, id string) (*Message, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id)
	m, err := scanMessage(row)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("store: find message: %w", err)
	}
	return m, err
}

func (p *Postgres) FindConversation(ctx context.Context, a, b string) ([]Message, error) {
	const query = `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE (sender_id = $1 AND receiver_id = $2)
		   OR (sender_id = $2 AND receiver_id = $1)
		ORDER BY created_at, seq`

	rows, err := p.db.QueryContext(ctx, query, a, b)
	if err != nil {
		return nil, fmt.Errorf("store: find conversation: %w", err)
	}
	defer rows.Close()

	msgs := make([]Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan message: %w", err)
		}
		msgs = append(msgs, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: find conversation: %w", err)
	}
	return msgs, nil
}

func (p *Postgres) UpdateMessagesSeen(ctx context.Context, sender, receiver string) (int64, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE messages SET seen = true, updated_at = now()
		WHERE sender_id = $1 AND receiver_id = $2 AND NOT seen`, sender, receiver)
	if err != nil {
		return 0, fmt.Errorf("store: mark conversation seen: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: mark conversation seen: %w", err)
	}
	return n, nil
}

func (p *Postgres) UpdateMessageSeen(ctx context.Context, id string) error {
	// Matching an already-seen row keeps the call idempotent while still
	// distinguishing a missing id.
	res, err := p.db.ExecContext(ctx, `
		UPDATE messages
		SET updated_at = CASE WHEN seen THEN updated_at ELSE now() END,
		    seen = true
		WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("store: mark message seen: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: mark message seen: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) CountUnseenBySender(ctx context.Context, receiver string) (map[string]int, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT sender_id, COUNT(*)
		FROM messages
		WHERE receiver_id = $1 AND NOT seen
		GROUP BY sender_id`, receiver)
	if err != nil {
		return nil, fmt.Errorf("store: count unseen: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			sender string
			n      int
		)
		if err := rows.Scan(&sender, &n); err != nil {
			return nil, fmt.Errorf("store: scan unseen count: %w", err)
		}
		counts[sender] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: count unseen: %w", err)
	}
	return counts, nil
}

// Close closes the database handle.
func (p *Postgres) Close() error {
	return p.db.Close()
}
