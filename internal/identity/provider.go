package identity

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Provider issues and validates opaque bearer credentials bound to users.
type Provider struct {
	store    Store
	tokenTTL time.Duration
}

func NewProvider(store Store, tokenTTL time.Duration) *Provider {
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	return &Provider{store: store, tokenTTL: tokenTTL}
}

// Register creates an account and returns it with a fresh bearer token.
func (p *Provider) Register(ctx context.Context, username, email, password string) (User, string, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)

	if username == "" || email == "" || password == "" {
		return User{}, "", errors.New("username, email and password are required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return User{}, "", fmt.Errorf("invalid email: %w", err)
	}
	if len(password) < 6 {
		return User{}, "", errors.New("password must be at least 6 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, "", fmt.Errorf("hash password: %w", err)
	}

	user := User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC(),
	}
	if err := p.store.CreateUser(ctx, user); err != nil {
		return User{}, "", err
	}

	token, err := p.issueToken(ctx, user.ID)
	if err != nil {
		return User{}, "", err
	}
	return user, token, nil
}

// Login checks the credentials and returns the user with a fresh bearer token.
// Unknown email and wrong password both yield ErrInvalidCredentials.
func (p *Provider) Login(ctx context.Context, email, password string) (User, string, error) {
	user, err := p.store.FindByEmail(ctx, strings.TrimSpace(email))
	if errors.Is(err, ErrNotFound) {
		return User{}, "", ErrInvalidCredentials
	}
	if err != nil {
		return User{}, "", err
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return User{}, "", ErrInvalidCredentials
	}

	token, err := p.issueToken(ctx, user.ID)
	if err != nil {
		return User{}, "", err
	}
	return user, token, nil
}

// Authenticate resolves an opaque bearer token to its user.
func (p *Provider) Authenticate(ctx context.Context, token string) (User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return User{}, ErrInvalidToken
	}

	t, err := p.store.FindToken(ctx, token)
	if errors.Is(err, ErrNotFound) {
		return User{}, ErrInvalidToken
	}
	if err != nil {
		return User{}, err
	}
	if time.Now().After(t.ExpiresAt) {
		return User{}, ErrInvalidToken
	}

	user, err := p.store.FindByID(ctx, t.UserID)
	if errors.Is(err, ErrNotFound) {
		return User{}, ErrInvalidToken
	}
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (p *Provider) issueToken(ctx context.Context, userID string) (string, error) {
	now := time.Now().UTC()
	// Two concatenated v4 UUIDs give 244 bits of randomness, plenty for an
	// opaque credential looked up server-side.
	value := strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
	token := Token{
		Value:     value,
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(p.tokenTTL),
	}
	if err := p.store.SaveToken(ctx, token); err != nil {
		return "", fmt.Errorf("save token: %w", err)
	}
	return value, nil
}
