// Package authpw provides email/password authentication.
package authpw

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"decidehub/internal/store"
	"decidehub/internal/util"
)

// Service provides email/password authentication
type Service struct {
	store UserStore
}

// UserStore defines the storage interface for auth
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	GetUserByHandle(ctx context.Context, handle string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) error
}

func NewService(store UserStore) *Service {
	return &Service{store: store}
}

// Handles must stay mention-safe: the @mention scanner only recognizes
// word characters plus ".", "@", "+" and "-".
var handlePattern = regexp.MustCompile(`^[\w.@+-]+$`)

// SignUpRequest contains sign-up parameters
type SignUpRequest struct {
	Handle      string
	Email       string
	Password    string
	DisplayName string
}

// SignUp creates a new user account. Accounts are active immediately.
func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (store.User, error) {
	handle := strings.TrimSpace(req.Handle)
	email := strings.TrimSpace(req.Email)

	if handle == "" || email == "" || req.Password == "" {
		return store.User{}, errors.New("handle, email, and password are required")
	}
	if !handlePattern.MatchString(handle) {
		return store.User{}, errors.New("handle may only contain letters, digits and . @ + - _")
	}
	if len(req.Password) < 8 {
		return store.User{}, errors.New("password must be at least 8 characters")
	}

	if _, err := s.store.GetUserByEmail(ctx, email); err == nil {
		return store.User{}, errors.New("email already registered")
	}
	if _, err := s.store.GetUserByHandle(ctx, handle); err == nil {
		return store.User{}, errors.New("handle already taken")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return store.User{}, fmt.Errorf("hash password: %w", err)
	}

	displayName := strings.TrimSpace(req.DisplayName)
	if displayName == "" {
		displayName = handle
	}

	user := store.User{
		ID:           util.NewID("usr"),
		Handle:       handle,
		DisplayName:  displayName,
		Email:        email,
		PasswordHash: string(hash),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return store.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// SignIn authenticates a user by email and password.
func (s *Service) SignIn(ctx context.Context, email, password string) (store.User, error) {
	if email == "" || password == "" {
		return store.User{}, errors.New("email and password are required")
	}

	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return store.User{}, errors.New("invalid email or password")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return store.User{}, errors.New("invalid email or password")
	}
	return user, nil
}
