package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/Vedant1607/QuickChat/internal/store"
)

var (
	// ErrInvalidInput is returned when signup or profile fields fail validation.
	ErrInvalidInput = errors.New("auth: invalid input")
	// ErrInvalidCredentials is returned when email or password do not match.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrAccountExists is returned when signing up with a registered email.
	ErrAccountExists = errors.New("auth: account already exists")
)

// BcryptCost is the work factor for password hashes.
const BcryptCost = 10

// SignupRequest is the body of POST /api/auth/signup.
type SignupRequest struct {
	FullName string `json:"fullName" validate:"required,min=2,max=20"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6,max=20"`
	Bio      string `json:"bio" validate:"required,max=200"`
}

// LoginRequest is the body of POST /api/auth/login.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// ProfileUpdate is the body of PUT /api/auth/update-profile. ProfilePic may
// be a data: URL, which is uploaded before the user is updated.
type ProfileUpdate struct {
	FullName   *string `json:"fullName" validate:"omitempty,min=2,max=20"`
	Bio        *string `json:"bio" validate:"omitempty,max=200"`
	ProfilePic *string `json:"profilePic"`
}

// Uploader stores an inline image and returns its public URL.
type Uploader interface {
	Upload(ctx context.Context, dataURL string) (string, error)
}

// Service manages accounts on top of a user store.
type Service struct {
	store    store.Store
	tokens   *Tokens
	uploader Uploader
	validate *validator.Validate
}

// NewService creates a Service. uploader may be nil when profile pictures
// are only given as URLs.
func NewService(st store.Store, tokens *Tokens, uploader Uploader) *Service {
	return &Service{
		store:    st,
		tokens:   tokens,
		uploader: uploader,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Tokens returns the token issuer used by the service.
func (s *Service) Tokens() *Tokens {
	return s.tokens
}

func (s *Service) check(v any) error {
	if err := s.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: %s failed on %q", ErrInvalidInput, fe.Field(), fe.Tag())
		}
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}

// Signup creates an account and returns it with a token.
func (s *Service) Signup(ctx context.Context, req SignupRequest) (*store.User, string, error) {
	req.FullName = strings.TrimSpace(req.FullName)
	req.Email = strings.TrimSpace(req.Email)
	if err := s.check(req); err != nil {
		return nil, "", err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), BcryptCost)
	if err != nil {
		return nil, "", fmt.Errorf("auth: hash password: %w", err)
	}

	u := &store.User{
		Email:    req.Email,
		FullName: req.FullName,
		Password: string(hash),
		Bio:      req.Bio,
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, "", ErrAccountExists
		}
		return nil, "", fmt.Errorf("auth: signup: %w", err)
	}

	token, err := s.tokens.Issue(u.ID)
	if err != nil {
		return nil, "", err
	}

	logrus.WithFields(logrus.Fields{
		"component": "auth",
		"identity":  u.ID,
	}).Info("account created")
	return u, token, nil
}

// Login checks credentials and returns the account with a fresh token.
func (s *Service) Login(ctx context.Context, req LoginRequest) (*store.User, string, error) {
	if err := s.check(req); err != nil {
		return nil, "", err
	}

	u, err := s.store.FindUserByEmail(ctx, strings.TrimSpace(req.Email))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, "", ErrInvalidCredentials
		}
		return nil, "", fmt.Errorf("auth: login: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(req.Password)); err != nil {
		return nil, "", ErrInvalidCredentials
	}

	token, err := s.tokens.Issue(u.ID)
	if err != nil {
		return nil, "", err
	}
	return u, token, nil
}

// CurrentUser resolves a token to its account.
func (s *Service) CurrentUser(ctx context.Context, token string) (*store.User, error) {
	id, err := s.tokens.Verify(token)
	if err != nil {
		return nil, err
	}
	u, err := s.store.FindUserByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: user no longer exists", ErrUnauthorized)
		}
		return nil, fmt.Errorf("auth: load user: %w", err)
	}
	return u, nil
}

// UpdateProfile changes the given fields of identity's profile.
func (s *Service) UpdateProfile(ctx context.Context, identity string, upd ProfileUpdate) (*store.User, error) {
	if err := s.check(upd); err != nil {
		return nil, err
	}

	if upd.ProfilePic != nil && strings.HasPrefix(*upd.ProfilePic, "data:") {
		if s.uploader == nil {
			return nil, fmt.Errorf("%w: no media store configured", ErrInvalidInput)
		}
		url, err := s.uploader.Upload(ctx, *upd.ProfilePic)
		if err != nil {
			return nil, fmt.Errorf("auth: upload profile picture: %w", err)
		}
		upd.ProfilePic = &url
	}

	u, err := s.store.UpdateUser(ctx, identity, store.UserUpdate{
		FullName:   upd.FullName,
		Bio:        upd.Bio,
		ProfilePic: upd.ProfilePic,
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: user no longer exists", ErrUnauthorized)
		}
		return nil, fmt.Errorf("auth: update profile: %w", err)
	}
	return u, nil
}
