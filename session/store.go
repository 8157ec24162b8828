// Package session holds the tokens a logged-in browser session received from
// the identity provider, keyed by an opaque session id carried in a cookie.
package session

import (
	"context"
	"errors"
	"time"

	"golang.org/x/oauth2"
)

// ErrNotFound is returned when a session id is unknown or expired
var ErrNotFound = errors.New("session not found")

// Session is the per-login token holder
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	IDToken      string    `json:"id_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	Subject      string    `json:"sub"`
	Name         string    `json:"name,omitempty"`
	Scopes       []string  `json:"scopes,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Token returns the session's tokens in the form oauth2 token sources expect
func (s *Session) Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  s.AccessToken,
		TokenType:    s.TokenType,
		RefreshToken: s.RefreshToken,
		Expiry:       s.ExpiresAt,
	}
}

// SetToken copies a (possibly refreshed) token into the session. A refresh
// response without a refresh token keeps the previous one.
func (s *Session) SetToken(tok *oauth2.Token) {
	s.AccessToken = tok.AccessToken
	s.TokenType = tok.TokenType
	s.ExpiresAt = tok.Expiry
	if tok.RefreshToken != "" {
		s.RefreshToken = tok.RefreshToken
	}
}

// Store is the interface for session persistence. Implementations are safe for concurrent use.
type Store interface {
	// Create persists a new session and returns its id
	Create(ctx context.Context, s *Session) (string, error)

	// Get retrieves a session by id, or ErrNotFound
	Get(ctx context.Context, id string) (*Session, error)

	// Update replaces the data of an existing session and restarts its TTL
	Update(ctx context.Context, id string, s *Session) error

	// Delete removes a session. Deleting an unknown id is not an error.
	Delete(ctx context.Context, id string) error
}

// CookieName is the cookie carrying the session id
const CookieName = "heroes_session"
