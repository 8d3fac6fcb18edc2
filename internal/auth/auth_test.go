package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Vedant1607/QuickChat/internal/store"
)

// ---------------------------------------------------------------------------
// Tokens
// ---------------------------------------------------------------------------

func TestTokens_RoundTrip(t *testing.T) {
	tk := NewTokens("secret", 0)
	token, err := tk.Issue("user-1")
	require.NoError(t, err)

	id, err := tk.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", id)
}

func TestTokens_Rejections(t *testing.T) {
	tk := NewTokens("secret", time.Hour)
	token, err := tk.Issue("user-1")
	require.NoError(t, err)

	_, err = NewTokens("other-secret", time.Hour).Verify(token)
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = tk.Verify("not.a.token")
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = tk.Verify("")
	assert.ErrorIs(t, err, ErrUnauthorized)

	expired := NewTokens("secret", time.Hour)
	expired.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = expired.Verify(token)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

// ---------------------------------------------------------------------------
// Service
// ---------------------------------------------------------------------------

type stubUploader struct{ url string }

func (u stubUploader) Upload(context.Context, string) (string, error) { return u.url, nil }

func newService() *Service {
	return NewService(store.NewMemory(), NewTokens("secret", 0), stubUploader{url: "http://cdn/p.png"})
}

func validSignup() SignupRequest {
	return SignupRequest{FullName: "Alice", Email: "alice@example.com", Password: "hunter22", Bio: "hello"}
}

func TestSignupAndLogin(t *testing.T) {
	s := newService()
	ctx := context.Background()

	u, token, err := s.Signup(ctx, validSignup())
	require.NoError(t, err)
	assert.NotEmpty(t, u.ID)
	assert.NotEqual(t, "hunter22", u.Password)

	id, err := s.Tokens().Verify(token)
	require.NoError(t, err)
	assert.Equal(t, u.ID, id)

	logged, _, err := s.Login(ctx, LoginRequest{Email: "alice@example.com", Password: "hunter22"})
	require.NoError(t, err)
	assert.Equal(t, u.ID, logged.ID)

	_, _, err = s.Login(ctx, LoginRequest{Email: "alice@example.com", Password: "wrong-pass"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, _, err = s.Login(ctx, LoginRequest{Email: "nobody@example.com", Password: "hunter22"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestSignup_Duplicate(t *testing.T) {
	s := newService()
	_, _, err := s.Signup(context.Background(), validSignup())
	require.NoError(t, err)

	_, _, err = s.Signup(context.Background(), validSignup())
	assert.ErrorIs(t, err, ErrAccountExists)
}

func TestSignup_Validation(t *testing.T) {
	s := newService()
	cases := map[string]func(r *SignupRequest){
		"short name":     func(r *SignupRequest) { r.FullName = "A" },
		"bad email":      func(r *SignupRequest) { r.Email = "not-an-email" },
		"short password": func(r *SignupRequest) { r.Password = "123" },
		"missing bio":    func(r *SignupRequest) { r.Bio = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := validSignup()
			mutate(&req)
			_, _, err := s.Signup(context.Background(), req)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

func TestCurrentUserAndUpdateProfile(t *testing.T) {
	s := newService()
	ctx := context.Background()
	u, token, err := s.Signup(ctx, validSignup())
	require.NoError(t, err)

	cur, err := s.CurrentUser(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, u.ID, cur.ID)

	_, err = s.CurrentUser(ctx, "garbage")
	assert.True(t, errors.Is(err, ErrUnauthorized))

	bio := "updated"
	pic := "data:image/png;base64,AAAA"
	updated, err := s.UpdateProfile(ctx, u.ID, ProfileUpdate{Bio: &bio, ProfilePic: &pic})
	require.NoError(t, err)
	assert.Equal(t, "updated", updated.Bio)
	assert.Equal(t, "http://cdn/p.png", updated.ProfilePic)
	assert.Equal(t, "Alice", updated.FullName)

	short := "A"
	_, err = s.UpdateProfile(ctx, u.ID, ProfileUpdate{FullName: &short})
	assert.ErrorIs(t, err, ErrInvalidInput)
}
