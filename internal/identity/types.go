package identity

import (
	"context"
	"errors"
	"time"
)

// User is a registered account. PasswordHash never leaves this package.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Token is an opaque bearer credential bound to one user.
type Token struct {
	Value     string
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
}

var (
	ErrNotFound           = errors.New("user not found")
	ErrDuplicate          = errors.New("username or email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid or expired token")
)

// Store persists users and issued tokens.
type Store interface {
	CreateUser(ctx context.Context, user User) error
	FindByEmail(ctx context.Context, email string) (User, error)
	FindByID(ctx context.Context, id string) (User, error)
	SaveToken(ctx context.Context, token Token) error
	FindToken(ctx context.Context, value string) (Token, error)
	Close() error
}
