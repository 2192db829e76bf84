// Package session issues and validates the opaque tokens carried by the UI
// session cookie. Sessions are logically ephemeral: a backend may outlive
// the process, but nothing depends on a session surviving a restart.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/nugetd/nugetd/internal/models"
)

// Session is one issued login session.
type Session struct {
	Token     string      `json:"token"`
	Username  string      `json:"username"`
	Role      models.Role `json:"role"`
	ExpiresAt time.Time   `json:"expiresAt"`
}

// Expired reports whether the session is past its expiry at now.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// User returns the identity this session carries.
func (s *Session) User() models.SessionUser {
	return models.SessionUser{Username: s.Username, Role: s.Role}
}

// Store holds issued sessions.
type Store interface {
	// Put saves a session under its token.
	Put(ctx context.Context, s *Session) error
	// Get returns the live session for token. Unknown or expired tokens
	// yield (nil, nil); errors are backend failures only.
	Get(ctx context.Context, token string) (*Session, error)
	// Delete forgets a token. Unknown tokens are a no-op.
	Delete(ctx context.Context, token string) error
	// Destroy releases background resources.
	Destroy()
}

// NewToken returns a fresh opaque session token: 32 random bytes, hex.
func NewToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// New builds a session for user with the given lifetime.
func New(user *models.User, ttl time.Duration) (*Session, error) {
	token, err := NewToken()
	if err != nil {
		return nil, err
	}
	return &Session{
		Token:     token,
		Username:  user.Username,
		Role:      user.Role,
		ExpiresAt: time.Now().UTC().Add(ttl),
	}, nil
}
