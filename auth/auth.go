// Package auth validates callers before writes are accepted: login
// issues opaque session tokens, writes present them as Bearer tokens.
package auth

import (
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
)

var (
	// ErrUnauthorized is returned when a token is missing, unknown or
	// malformed. Surfaced to the client as 401 with no state change.
	ErrUnauthorized = errors.New("invalid or missing token")

	// ErrBadCredentials is returned by Login on a wrong username or
	// password.
	ErrBadCredentials = errors.New("invalid credentials")
)

// Gate validates callers before writes are accepted. Safe for
// concurrent use.
type Gate struct {
	mu       sync.RWMutex
	users    map[string]string // username -> password
	sessions map[string]string // token -> username
}

// NewGate creates a gate over a static credential table.
func NewGate(users map[string]string) *Gate {
	u := make(map[string]string, len(users))
	for name, pw := range users {
		u[name] = pw
	}
	return &Gate{
		users:    u,
		sessions: make(map[string]string),
	}
}

// Login checks the credentials and returns a fresh session token.
func (g *Gate) Login(username, password string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	pw, ok := g.users[username]
	if !ok || pw != password {
		return "", ErrBadCredentials
	}
	token := uuid.New().String()
	g.sessions[token] = username
	return token, nil
}

// Authenticate resolves a token to the username it was issued for.
func (g *Gate) Authenticate(token string) (string, error) {
	if token == "" {
		return "", ErrUnauthorized
	}
	g.mu.RLock()
	defer g.mu.RUnlock()

	user, ok := g.sessions[token]
	if !ok {
		return "", ErrUnauthorized
	}
	return user, nil
}

// BearerToken extracts the token from an "Authorization: Bearer <token>"
// header value. Returns "" when the header is absent or malformed.
func BearerToken(header string) string {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
